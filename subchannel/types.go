// Package subchannel implements the SubChannelStateMachine (spec §4.4): an
// optional overlay that splits a Lightning commitment output into an
// LN-side output and a DLC-side output via a split transaction, funding a
// nested DLC channel off of the DLC-side output while the LN-side output
// remains spendable back into a normal LN commitment via a glue
// transaction. The establish (Offer/Accept/Confirm/Finalize) and off-chain
// close (CloseOffer/CloseAccept/CloseConfirm/CloseFinalize) handshakes
// mirror dlcchannel's Establish/CollaborativeClose shape one layer up.
package subchannel

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/dlcchannel"
)

// ID identifies a sub-channel: derived from its split outpoint the same way
// a channel-id is derived from a funding outpoint (spec §3).
type ID [32]byte

// TemporaryID identifies a sub-channel before its split outpoint is known.
type TemporaryID [32]byte

// ComputeID derives a sub-channel-id from its split outpoint and temporary
// id, using the same two-round SHA-256 construction as dlcchannel.ComputeID.
func ComputeID(splitOutpoint wire.OutPoint, tempID TemporaryID) ID {
	var buf []byte
	buf = append(buf, splitOutpoint.Hash[:]...)
	var idxBuf [4]byte
	idxBuf[0] = byte(splitOutpoint.Index)
	idxBuf[1] = byte(splitOutpoint.Index >> 8)
	idxBuf[2] = byte(splitOutpoint.Index >> 16)
	idxBuf[3] = byte(splitOutpoint.Index >> 24)
	buf = append(buf, idxBuf[:]...)
	buf = append(buf, tempID[:]...)

	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	var id ID
	copy(id[:], second[:])
	return id
}

// State identifies which variant of the SubChannel tagged union a value
// holds.
type State uint8

const (
	StateOffered State = iota
	StateAccepted
	StateSigned
	StateClosed
	StateCounterClosed
	StateClosedPunished
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

// SubChannel is the tagged union described in spec §4.4. Every variant
// implements this interface; callers type-switch on State() to recover the
// concrete struct.
type SubChannel interface {
	State() State
	SubChanTemporaryID() TemporaryID
}

// CommonSubChannelFields are present on every SubChannel variant from
// Offered onward.
type CommonSubChannelFields struct {
	TemporaryID_ TemporaryID
	Counterparty *btcec.PublicKey

	// LNFundingOutpoint is the existing Lightning channel's funding
	// outpoint the split transaction spends from (indirectly, via its
	// current commitment output).
	LNFundingOutpoint wire.OutPoint

	OffererBasePoints dlcchannel.BasePoints
	OffererSplitPubKey *btcec.PublicKey

	DlcAmount int64
	LnAmount  int64

	IsOfferParty bool

	// OfferedChannelInput carries the opening DLC-channel terms exactly
	// as dlcchannel.CommonChannelFields would, so the establish
	// handshake can drive the nested ChannelStateMachine's own Establish
	// once the split outpoint is known.
	OfferedChannelInput dlcchannel.CommonChannelFields
}

func (c CommonSubChannelFields) SubChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// OfferedSubChannel is a sub-channel that has been offered but not yet
// accepted.
type OfferedSubChannel struct {
	CommonSubChannelFields
}

func (c *OfferedSubChannel) State() State { return StateOffered }

// AcceptedSubChannel adds the accepter's side of the establish handshake:
// the split and glue transactions and the accepter's own split adaptor
// signature.
type AcceptedSubChannel struct {
	CommonSubChannelFields

	AccepterBasePoints dlcchannel.BasePoints
	AccepterSplitPubKey *btcec.PublicKey

	SplitTx            *wire.MsgTx
	GlueTx             *wire.MsgTx
	OwnSplitAdaptorSig []byte
	SplitOutpoint      wire.OutPoint
}

func (c *AcceptedSubChannel) State() State { return StateAccepted }

// InitialSplitNumber is the update index a freshly-finalized sub-channel
// starts at, the split-level counterpart of dlcchannel.InitialUpdateNumber
// (spec §4.4).
const InitialSplitNumber = (1 << 48) - 1

// SubChannelState is the tagged union of sub-states a SignedSubChannel can
// be in (spec §4.4).
type SubChannelState interface {
	subChannelState()
}

// SignedSubChannel is the live, revocable overlay state (spec §4.4).
type SignedSubChannel struct {
	CommonSubChannelFields

	SubChannelID ID

	AccepterBasePoints  dlcchannel.BasePoints
	AccepterSplitPubKey *btcec.PublicKey

	// UpdateIdx is the current split update's index. It starts at
	// InitialSplitNumber; no operation in this package changes it, since an
	// off-chain close is terminal.
	UpdateIdx uint64

	OwnRevocationProducer dlcchannel.RevocationProducer
	// CounterPerUpdateSecrets stores each of the counterparty's revealed
	// per-split secrets, indexed by the update index they revoke.
	CounterPerUpdateSecrets map[uint64][32]byte

	SplitOutpoint wire.OutPoint

	// Sub is the current sub-state (Active, or a CloseOffer step).
	Sub SubChannelState

	// RollBack holds the sub-state to restore on rejection.
	RollBack SubChannelState
}

func (c *SignedSubChannel) State() State { return StateSigned }

// Active is the sub-state following a successful establish handshake or an
// off-chain close rejection rollback: the split/glue pair is live and the
// nested DLC channel is operating on the DLC-side output.
type Active struct {
	SplitTx                *wire.MsgTx
	GlueTx                 *wire.MsgTx
	OwnSplitAdaptorSig     []byte
	CounterSplitAdaptorSig []byte
	NestedChannelID        dlcchannel.ID
}

func (Active) subChannelState() {}

// CloseOffered records a pending off-chain close offer, collapsing the
// split back into a single LN commitment output (spec §4.4 CloseOffer).
type CloseOffered struct {
	IsOffer       bool
	CounterPayout int64
	Timeout       uint64
}

func (CloseOffered) subChannelState() {}

// CloseAccepted records the accepter's countersigned reply to a close
// offer.
type CloseAccepted struct {
	GlueTx        *wire.MsgTx
	OwnSignature  []byte
	CounterPayout int64
	IsOffer       bool
}

func (CloseAccepted) subChannelState() {}

// Closing is the reactor-driven state entered once a split transaction
// confirms on-chain unexpectedly (i.e. without having gone through the
// off-chain close handshake) while the sub-channel was still Active.
type Closing struct {
	SplitTx         *wire.MsgTx
	NestedChannelID dlcchannel.ID
}

func (Closing) subChannelState() {}

// ClosedSubChannel is terminal: the off-chain close handshake completed and
// the split transaction was never broadcast.
type ClosedSubChannel struct {
	SubChannelID   ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	GlueTx         *wire.MsgTx
}

func (c *ClosedSubChannel) State() State                      { return StateClosed }
func (c *ClosedSubChannel) SubChanTemporaryID() TemporaryID    { return c.TemporaryID_ }

// CounterClosedSubChannel is terminal: the split transaction confirmed
// on-chain and the nested DLC channel closed, but we never initiated the
// broadcast ourselves.
type CounterClosedSubChannel struct {
	SubChannelID   ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	SplitTx        *wire.MsgTx
}

func (c *CounterClosedSubChannel) State() State                   { return StateCounterClosed }
func (c *CounterClosedSubChannel) SubChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// ClosedPunishedSubChannel is terminal: a revoked split tx broadcast was
// punished (spec §4.4, RevokedTxType::Split).
type ClosedPunishedSubChannel struct {
	SubChannelID   ID
	TemporaryID_   TemporaryID
	CounterpartyID *btcec.PublicKey
	PunishTxid     wire.OutPoint
}

func (c *ClosedPunishedSubChannel) State() State                   { return StateClosedPunished }
func (c *ClosedPunishedSubChannel) SubChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// CancelledSubChannel is terminal: the establish offer was rejected.
type CancelledSubChannel struct {
	TemporaryID_      TemporaryID
	OfferedSubChannel *OfferedSubChannel
}

func (c *CancelledSubChannel) State() State                   { return StateCancelled }
func (c *CancelledSubChannel) SubChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// FailedAcceptSubChannel is terminal: verification of the accepter's
// establish signatures failed.
type FailedAcceptSubChannel struct {
	TemporaryID_          TemporaryID
	OfferedSubChannel     *OfferedSubChannel
	ErrorMessage          string
	OffendingMessageBytes []byte
}

func (c *FailedAcceptSubChannel) State() State                   { return StateFailedAccept }
func (c *FailedAcceptSubChannel) SubChanTemporaryID() TemporaryID { return c.TemporaryID_ }

// FailedSignSubChannel is terminal: verification of the offerer's
// establish signatures failed.
type FailedSignSubChannel struct {
	TemporaryID_          TemporaryID
	AcceptedSubChannel    *AcceptedSubChannel
	ErrorMessage          string
	OffendingMessageBytes []byte
}

func (c *FailedSignSubChannel) State() State                   { return StateFailedSign }
func (c *FailedSignSubChannel) SubChanTemporaryID() TemporaryID { return c.TemporaryID_ }
