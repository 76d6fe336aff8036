// Package dlcchannel implements the DLC ChannelStateMachine (spec §4.3): the
// sub-protocol that wraps a ContractStateMachine in a revocable, two-party
// payment channel so a contract's terms can be updated off-chain (settle,
// renew) or closed collaboratively, while preserving the ability to punish a
// counterparty who broadcasts a stale state.
package dlcchannel

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/contract"
)

// ID identifies a channel: derived from its funding outpoint the same way a
// contract-id is derived from a contract's funding outpoint (spec §3).
type ID [32]byte

// TemporaryID identifies a channel before its funding outpoint is known.
type TemporaryID [32]byte

// ComputeID derives a channel-id from its funding outpoint and temporary id.
func ComputeID(fundingOutpoint wire.OutPoint, tempID TemporaryID) ID {
	var buf []byte
	buf = append(buf, fundingOutpoint.Hash[:]...)
	var idxBuf [4]byte
	idxBuf[0] = byte(fundingOutpoint.Index)
	idxBuf[1] = byte(fundingOutpoint.Index >> 8)
	idxBuf[2] = byte(fundingOutpoint.Index >> 16)
	idxBuf[3] = byte(fundingOutpoint.Index >> 24)
	buf = append(buf, idxBuf[:]...)
	buf = append(buf, tempID[:]...)

	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	var id ID
	copy(id[:], second[:])
	return id
}

// State identifies which variant of the Channel tagged union a value holds.
type State uint8

const (
	StateOffered State = iota
	StateAccepted
	StateSigned
	StateClosed
	StateCounterClosed
	StateClosedPunished
	StateCollaborativelyClosed
	StateSettledClosed
	StateCancelled
	StateFailedAccept
	StateFailedSign
)

func (s State) String() string {
	switch s {
	case StateOffered:
		return "offered"
	case StateAccepted:
		return "accepted"
	case StateSigned:
		return "signed"
	case StateClosed:
		return "closed"
	case StateCounterClosed:
		return "counter_closed"
	case StateClosedPunished:
		return "closed_punished"
	case StateCollaborativelyClosed:
		return "collaboratively_closed"
	case StateSettledClosed:
		return "settled_closed"
	case StateCancelled:
		return "cancelled"
	case StateFailedAccept:
		return "failed_accept"
	case StateFailedSign:
		return "failed_sign"
	default:
		return "unknown"
	}
}

// Channel is the tagged union described in spec §3. Every variant
// implements this interface; callers type-switch on State() to recover the
// concrete struct.
type Channel interface {
	State() State
	ChanTemporaryID() TemporaryID
}

// BasePoints are the three per-party key-derivation roots a SignedChannel
// carries (spec §3): a channel update rotates per-update keys off of these
// rather than reusing a single static key, the same discipline lnd's
// commitment-key derivation uses.
type BasePoints struct {
	Own         *btcec.PublicKey
	Revocation  *btcec.PublicKey
	Publish     *btcec.PublicKey
}

// CommonChannelFields are present on every Channel variant from Offered
// onward.
type CommonChannelFields struct {
	TemporaryChannelID TemporaryID
	Counterparty       *btcec.PublicKey

	OffererBasePoints  BasePoints
	OffererFundPubKey  *btcec.PublicKey
	CsvDelay           uint16
	IsOfferParty       bool

	// OfferedContractInput carries the opening-contract terms exactly as
	// contract.CommonFields would, so the Establish handshake can build
	// the nested ContractStateMachine offer once the funding outpoint is
	// known.
	OfferedContractInput contract.CommonFields
}

func (c CommonChannelFields) ChanTemporaryID() TemporaryID { return c.TemporaryChannelID }

// OfferedChannel is a channel that has been offered but not yet accepted.
type OfferedChannel struct {
	CommonChannelFields
}

func (c *OfferedChannel) State() State { return StateOffered }

// AcceptedChannel adds the accepter's side of the Establish handshake.
type AcceptedChannel struct {
	CommonChannelFields

	AccepterBasePoints BasePoints
	AccepterFundPubKey *btcec.PublicKey

	AcceptedContract *contract.AcceptedContract

	BufferTx            *wire.MsgTx
	OwnBufferAdaptorSig []byte
	FundingOutpoint     wire.OutPoint
}

func (c *AcceptedChannel) State() State { return StateAccepted }

// RevocationProducer is a per-party hash-chain of per-update commitment
// secrets, indexed by a monotonically *decreasing* update index starting at
// InitialUpdateNumber (spec §3). A given index's secret is never revealed
// until the update it guards has been superseded.
type RevocationProducer struct {
	Seed [32]byte
}

// SecretAt derives the commitment secret for update index idx. Grounded on
// the same "single seed, index-keyed derivation" shape as lnd/shachain, but
// computed directly as SHA256(seed || idx) rather than the bit-reversal
// shachain tree: this engine never needs to release an *ancestor* of a
// revealed secret to a counterparty store, only our own next secret, so the
// tree's storage-compaction property buys nothing here.
func (p RevocationProducer) SecretAt(idx uint64) [32]byte {
	var buf [40]byte
	copy(buf[:32], p.Seed[:])
	buf[32] = byte(idx >> 56)
	buf[33] = byte(idx >> 48)
	buf[34] = byte(idx >> 40)
	buf[35] = byte(idx >> 32)
	buf[36] = byte(idx >> 24)
	buf[37] = byte(idx >> 16)
	buf[38] = byte(idx >> 8)
	buf[39] = byte(idx)
	return sha256.Sum256(buf[:])
}

// InitialUpdateNumber is the update index a freshly-Established channel
// starts at; successive updates decrement it (spec §3).
const InitialUpdateNumber = (1 << 48) - 1

// SignedChannelState is the tagged union of sub-states a SignedChannel can
// be in (spec §3 and §4.3).
type SignedChannelState interface {
	signedChannelState()
}

// SignedChannel is the live, revocable channel state (spec §3).
type SignedChannel struct {
	CommonChannelFields

	ChannelID ID

	AccepterBasePoints BasePoints
	AccepterFundPubKey *btcec.PublicKey

	// UpdateIdx is the current update's index; it decrements from
	// InitialUpdateNumber on every Settle/Renew (spec §3).
	UpdateIdx uint64

	OwnRevocationProducer RevocationProducer
	// CounterPerUpdateSecrets stores each of the counterparty's revealed
	// per-update secrets, indexed by the update index they revoke. Only
	// entries the reactor needs for punishment are retained.
	CounterPerUpdateSecrets map[uint64][32]byte

	SubChannelID *[32]byte

	// Sub is the current sub-state (spec §3's SignedChannelState union).
	Sub SignedChannelState

	// RollBack holds the sub-state to restore on rejection, or to use
	// as "previous" when applying a new update (spec §3).
	RollBack SignedChannelState

	FundingOutpoint wire.OutPoint
}

func (c *SignedChannel) State() State { return StateSigned }

// Established is the sub-state following a successful Establish handshake:
// the contract is live, locked behind a buffer transaction.
type Established struct {
	BufferTx               *wire.MsgTx
	OwnBufferAdaptorSig    []byte
	CounterBufferAdaptorSig []byte
	SignedContractID       contract.ID
	IsInitiator            bool
	TotalCollateral        int64
}

func (Established) signedChannelState() {}

// Settled is the sub-state after a settlement has replaced the buffered
// contract with a fixed-payout settle transaction.
type Settled struct {
	SettleTx         *wire.MsgTx
	OwnSettleAdaptorSig []byte
	OwnPayout        int64
	CounterPayout    int64
}

func (Settled) signedChannelState() {}

// SettledOffered/Received/Accepted/Confirmed are the four steps of the
// Settle sub-protocol (spec §4.3).
type SettledOffered struct {
	IsOffer       bool
	CounterPayout int64
	Timeout       uint64
}

func (SettledOffered) signedChannelState() {}

type SettledReceived struct {
	CounterPayout int64
}

func (SettledReceived) signedChannelState() {}

type SettledAccepted struct {
	SettleTx         *wire.MsgTx
	OwnSettleAdaptorSig []byte
	OwnPayout        int64
	CounterPayout    int64
	IsOffer          bool
}

func (SettledAccepted) signedChannelState() {}

type SettledConfirmed struct {
	SettleTx         *wire.MsgTx
	OwnSettleAdaptorSig []byte
	OwnPayout        int64
	CounterPayout    int64
	IsOffer          bool
}

func (SettledConfirmed) signedChannelState() {}

// RenewOffered/Accepted/Confirmed/Finalized are the five steps of the
// Renew sub-protocol (spec §4.3; RenewRevoke doesn't introduce a new
// sub-state, it acks the finalize and returns to Established).
type RenewOffered struct {
	IsOffer          bool
	OfferedContract  contract.CommonFields
	Timeout          uint64
}

func (RenewOffered) signedChannelState() {}

type RenewAccepted struct {
	AcceptedContract *contract.AcceptedContract
	IsOffer          bool
}

func (RenewAccepted) signedChannelState() {}

type RenewConfirmed struct {
	SignedContract      *contract.SignedContract
	BufferTx             *wire.MsgTx
	OwnBufferAdaptorSig  []byte
	CounterBufferAdaptorSig []byte
	IsOffer              bool
}

func (RenewConfirmed) signedChannelState() {}

type RenewFinalized struct {
	SignedContract      *contract.SignedContract
	BufferTx             *wire.MsgTx
	OwnBufferAdaptorSig  []byte
	CounterBufferAdaptorSig []byte
	IsOffer              bool
}

func (RenewFinalized) signedChannelState() {}

// CollaborativeCloseOffered records a pending collaborative-close offer
// (spec §4.3).
type CollaborativeCloseOffered struct {
	CloseTx       *wire.MsgTx
	CounterPayout int64
	Timeout       uint64
	IsOffer       bool
}

func (CollaborativeCloseOffered) signedChannelState() {}

// Closing is the reactor-driven state entered once a BufferTx confirms
// on-chain (spec §4.3 process_watched_txs).
type Closing struct {
	BufferTx    *wire.MsgTx
	ContractID  contract.ID
	IsInitiator bool
}

func (Closing) signedChannelState() {}

// SettledClosing is the reactor-driven state entered once a settle
// transaction confirms on-chain.
type SettledClosing struct {
	SettleTx    *wire.MsgTx
	IsOffer     bool
	IsInitiator bool
	OwnPayout   int64
	ClaimTx     *wire.MsgTx
}

func (SettledClosing) signedChannelState() {}

// ClosedChannel is terminal: our own CET closed the channel.
type ClosedChannel struct {
	ChannelID      ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	ContractID     contract.ID
}

func (c *ClosedChannel) State() State                  { return StateClosed }
func (c *ClosedChannel) ChanTemporaryID() TemporaryID   { return c.TemporaryID_ }

// CounterClosedChannel is terminal: the counterparty's CET closed the
// channel.
type CounterClosedChannel struct {
	ChannelID      ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	ContractID     contract.ID
}

func (c *CounterClosedChannel) State() State                { return StateCounterClosed }
func (c *CounterClosedChannel) ChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// ClosedPunishedChannel is terminal: a revoked broadcast was punished.
type ClosedPunishedChannel struct {
	ChannelID      ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	PunishTxid     wire.OutPoint
}

func (c *ClosedPunishedChannel) State() State                { return StateClosedPunished }
func (c *ClosedPunishedChannel) ChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// CollaborativelyClosedChannel is terminal via the collaborative-close
// path.
type CollaborativelyClosedChannel struct {
	ChannelID      ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	CloseTx        *wire.MsgTx
}

func (c *CollaborativelyClosedChannel) State() State                { return StateCollaborativelyClosed }
func (c *CollaborativelyClosedChannel) ChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// SettledClosedChannel is terminal: a settle transaction confirmed
// unilaterally and the matured output was swept by a claim transaction
// (spec §4.3 try_finalize_settled_closing_channel).
type SettledClosedChannel struct {
	ChannelID      ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	SettleTx       *wire.MsgTx
	ClaimTx        *wire.MsgTx
}

func (c *SettledClosedChannel) State() State                { return StateSettledClosed }
func (c *SettledClosedChannel) ChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// CancelledChannel is terminal: the offer was rejected (spec §4.3 Reject).
type CancelledChannel struct {
	TemporaryID_    TemporaryID
	OfferedChannel  *OfferedChannel
}

func (c *CancelledChannel) State() State                { return StateCancelled }
func (c *CancelledChannel) ChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// FailedAcceptChannel is terminal: verification of the accepter's Establish
// signatures failed.
type FailedAcceptChannel struct {
	TemporaryID_          TemporaryID
	OfferedChannel        *OfferedChannel
	ErrorMessage          string
	OffendingMessageBytes []byte
}

func (c *FailedAcceptChannel) State() State                { return StateFailedAccept }
func (c *FailedAcceptChannel) ChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// FailedSignChannel is terminal: verification of the offerer's Establish
// signatures failed.
type FailedSignChannel struct {
	TemporaryID_          TemporaryID
	AcceptedChannel       *AcceptedChannel
	ErrorMessage          string
	OffendingMessageBytes []byte
}

func (c *FailedSignChannel) State() State                { return StateFailedSign }
func (c *FailedSignChannel) ChanTemporaryID() TemporaryID { return c.TemporaryID_ }
