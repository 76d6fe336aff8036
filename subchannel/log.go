package subchannel

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the package-level logger used by the SubChannelStateMachine.
func UseLogger(logger btclog.Logger) {
	log = logger
}
