package dlcchannel

import (
	"time"

	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/contract"
	"github.com/hashprotocol/dlcd/dlcchain"
	"github.com/hashprotocol/dlcd/dlcwallet"
	"github.com/hashprotocol/dlcd/feeest"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// Clock is the narrow Time capability this package needs (spec §6).
type Clock interface {
	Now() time.Time
}

// Deps bundles the external capabilities the ChannelStateMachine depends
// on, plus the nested ContractStateMachine and shared ChainMonitor every
// channel transition reads and writes alongside its own state (spec §9:
// "a transition must persist its new channel state, its optional contract
// side-effect, and any chain-monitor deltas together").
type Deps struct {
	Wallet    dlcwallet.Wallet
	Chain     dlcchain.Chain
	Clock     Clock
	FeeEst    feeest.Estimator
	Store     Store
	TxBuilder txbuilder.Builder

	// Contract is the nested ContractStateMachine used to drive the
	// Establish/Renew handshake's contract side (spec §4.3: "composing
	// a nested ContractStateMachine for the currently-active contract").
	Contract *contract.Machine

	// Monitor is the shared ChainMonitor every channel registers its
	// watched transactions with.
	Monitor *chainmonitor.ChainMonitor

	NbConfirmations uint32
}

// Machine is the ChannelStateMachine (spec §4.3).
type Machine struct {
	deps Deps
}

// New constructs a ChannelStateMachine over the given capabilities.
func New(deps Deps) *Machine {
	return &Machine{deps: deps}
}

const (
	// CsvNSequence is the relative-locktime delay (in blocks) a buffer
	// transaction's CET-spend path enforces, giving the channel reactor
	// time to observe and punish a stale broadcast (spec §4.3,
	// CET_NSEQUENCE).
	CsvNSequence = 288

	// PeerTimeout is the wall-clock deadline (seconds) after which an
	// offered sub-protocol step is considered timed out (spec §6,
	// PEER_TIMEOUT).
	PeerTimeout = 3600

	// HighPriorityFeeDivisor converts a sat/1000-weight estimate into
	// sat/vB for punish-transaction broadcast (spec §4.3: "fee_rate =
	// fee_estimator(HighPriority)/250 sat/vB").
	HighPriorityFeeDivisor = 250
)
