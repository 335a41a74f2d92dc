package context

type Key string

const (
	Claims Key = "claims"
	Relay  Key = "relay"
	Params Key = "params"
)
