package chainmonitor

import "github.com/btcsuite/btclog"

// log is the package-level logger used throughout chainmonitor. It defaults
// to a disabled logger so that importing this package has no side effects;
// callers wire a real backend via UseLogger.
var log = btclog.Disabled

// UseLogger lets a calling package specify the logging subsystem to use for
// this package's log statements.
func UseLogger(logger btclog.Logger) {
	log = logger
}
