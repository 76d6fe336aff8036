package dlcchannel

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger lets a calling package specify the logging subsystem to use for
// this package's log statements.
func UseLogger(logger btclog.Logger) {
	log = logger
}
