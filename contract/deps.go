package contract

import (
	"time"

	"github.com/hashprotocol/dlcd/dlcchain"
	"github.com/hashprotocol/dlcd/dlcwallet"
	"github.com/hashprotocol/dlcd/feeest"
	"github.com/hashprotocol/dlcd/oracle"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// Clock is the narrow Time capability this package needs (spec §6). A
// *clock.Clock or *clock.TestClock from github.com/lightningnetwork/lnd/clock
// satisfies this structurally.
type Clock interface {
	Now() time.Time
}

// Deps bundles the external capabilities the ContractStateMachine depends
// on (spec §6). None of these are owned by this package; they are injected
// at construction, matching the "capability traits injected at
// construction, not globals" design note (spec §9).
type Deps struct {
	Wallet    dlcwallet.Wallet
	Chain     dlcchain.Chain
	Oracles   oracle.Registry
	Clock     Clock
	FeeEst    feeest.Estimator
	Store     Store
	TxBuilder txbuilder.Builder

	// NbConfirmations is the configured confirmation depth a fund-tx or
	// CET must reach before the engine considers it settled (spec §6,
	// NB_CONFIRMATIONS).
NbConfirmations uint32
}

// Machine is the ContractStateMachine (spec §4.2).
type Machine struct {
	deps Deps
}

// New constructs a ContractStateMachine over the given capabilities.
func New(deps Deps) *Machine {
	return &Machine{deps: deps}
}

const (
	// RefundDelay is the minimum distance between "now" and a valid
	// refund-locktime, per spec §6 (604800s = 7 days).
	RefundDelay = 7 * 24 * 60 * 60
)
