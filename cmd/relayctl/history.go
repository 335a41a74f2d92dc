package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hookrelay/internal/engine/history"
	"hookrelay/internal/platform/models"
)

var historyLimit int

var relaysCmd = &cobra.Command{
	Use:   "relays [project-id]",
	Short: "List relays",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var relays []*models.Relay
		if len(args) == 1 {
			relays, err = a.Relays.ListByProject(cmd.Context(), args[0])
		} else {
			relays, err = a.Relays.ListAll(cmd.Context())
		}
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), relays)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tPROJECT\tMODE\tENABLED\tRELAYED\tERRORS\tLAST ERROR")
		for _, r := range relays {
			mode := "relay"
			if r.CaptureOnly {
				mode = "capture"
			}
			enabled := "yes"
			if !r.Pollable() {
				enabled = "no"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
				r.ID, r.ProjectID, mode, enabled, r.RelayCount, r.ErrorCount, r.LastError)
		}
		return tw.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <relay-id>",
	Short: "Show the newest history entries of a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := history.Collect(a.History.List(cmd.Context(), history.RelayScope(args[0]), historyLimit))
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), entries)
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTIME\tCALL\tMETHOD\tSTATUS\tCODE\tREAD\tERROR")
		for _, e := range entries {
			code := "-"
			if e.Response != nil {
				code = fmt.Sprint(e.Response.StatusCode)
			}
			status := string(e.Status)
			if e.Manual {
				status += " (manual)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				e.ID,
				time.UnixMilli(e.Timestamp).Format(time.DateTime),
				e.WebhookCallUUID,
				e.Request.Method,
				status,
				code,
				e.Read,
				e.Error,
			)
		}
		return tw.Flush()
	},
}

var unreadCmd = &cobra.Command{
	Use:   "unread <relay-id>",
	Short: "Count unread history entries of a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Tracker.CountUnread(cmd.Context(), history.RelayScope(args[0]))
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), map[string]int{"unread": n})
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of entries to show (0 for all)")
}
