package subchannel

import (
	"time"

	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/dlcchain"
	"github.com/hashprotocol/dlcd/dlcchannel"
	"github.com/hashprotocol/dlcd/dlcwallet"
	"github.com/hashprotocol/dlcd/feeest"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// Clock is the narrow time capability this package needs (spec §6).
type Clock interface {
	Now() time.Time
}

// Deps bundles the external capabilities the SubChannelStateMachine
// depends on, plus the nested ChannelStateMachine and shared ChainMonitor
// every sub-channel transition reads and writes alongside its own state.
type Deps struct {
	Wallet    dlcwallet.Wallet
	Chain     dlcchain.Chain
	Clock     Clock
	FeeEst    feeest.Estimator
	Store     Store
	TxBuilder txbuilder.Builder

	// Channel is the nested ChannelStateMachine used to drive the
	// establish handshake's DLC-channel side, funded off of the
	// split transaction's DLC-side output (spec §4.4).
	Channel *dlcchannel.Machine

	// Monitor is the shared ChainMonitor every sub-channel registers its
	// split transaction with.
	Monitor *chainmonitor.ChainMonitor

	NbConfirmations uint32
}

// Machine is the SubChannelStateMachine (spec §4.4).
type Machine struct {
	deps Deps
}

// New constructs a SubChannelStateMachine over the given capabilities.
func New(deps Deps) *Machine {
	return &Machine{deps: deps}
}

const (
	// CsvDelay is the relative-locktime delay (in blocks) a split
	// transaction's DLC-side spend path enforces, giving the reactor
	// time to observe and punish a stale broadcast, mirroring
	// dlcchannel.CsvNSequence one layer up.
	CsvDelay = 288

	// PeerTimeout is the wall-clock deadline (seconds) after which an
	// offered sub-protocol step is considered timed out, same constant
	// as dlcchannel.PeerTimeout (spec §6, PEER_TIMEOUT).
	PeerTimeout = 3600
)
