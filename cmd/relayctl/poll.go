package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"hookrelay/internal/engine/relay"
)

var pollCmd = &cobra.Command{
	Use:   "poll [relay-id]",
	Short: "Poll one relay, or every pollable relay",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var results []*relay.PollResult
	if len(args) == 1 {
		res, err := a.Poller.Poll(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		results, err = a.Poller.PollAll(cmd.Context())
		if err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if asJSON {
		return printJSON(out, results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "No pollable relays.")
		return nil
	}
	for _, res := range results {
		fmt.Fprintf(out, "%s: relayed %d of %d\n", res.RelayID, res.RelayedCount, res.TotalCount)
		for _, msg := range res.Errors {
			fmt.Fprintf(out, "  ! %s\n", strings.TrimSpace(msg))
		}
	}
	return nil
}
