package subchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/dlcchannel"
)

// ReferenceID is an opaque caller-supplied correlation token (spec §6,
// GLOSSARY), propagated the same way dlcchannel.ReferenceID is.
type ReferenceID *uint64

// Offer opens the establish handshake (spec §6, SubChannelMessage::Offer).
type Offer struct {
	TemporaryID_       TemporaryID
	OffererBasePoints  dlcchannel.BasePoints
	OffererSplitPubKey *btcec.PublicKey
	LNFundingOutpoint  wire.OutPoint
	DlcAmount          int64
	LnAmount           int64
	ChannelOffer       dlcchannel.OfferChannel
	Timestamp          uint64
	ReferenceID        ReferenceID
}

// Accept replies to an Offer (spec §6, SubChannelMessage::Accept).
type Accept struct {
	TemporaryID_        TemporaryID
	AccepterBasePoints  dlcchannel.BasePoints
	AccepterSplitPubKey *btcec.PublicKey
	ChannelAccept       dlcchannel.AcceptChannel
	OwnSplitAdaptorSig  []byte
	Timestamp           uint64
	ReferenceID         ReferenceID
}

// Confirm continues the establish handshake once the nested DLC channel has
// been signed (spec §6, SubChannelMessage::Confirm).
type Confirm struct {
	SubChannelID          ID
	TemporaryID_          TemporaryID
	ChannelSign           dlcchannel.SignChannel
	CounterSplitAdaptorSig []byte
	Timestamp             uint64
	ReferenceID           ReferenceID
}

// Finalize acks a Confirm, completing the establish handshake (spec §6,
// SubChannelMessage::Finalize).
type Finalize struct {
	SubChannelID ID
	Timestamp    uint64
	ReferenceID  ReferenceID
}

// Reject cancels a pending Offer, or rolls back a SignedSubChannel's
// in-flight sub-protocol step (spec §4.3 Reject, applied one layer up).
type Reject struct {
	SubChannelID ID
	TemporaryID_ TemporaryID
	Timestamp    uint64
	ReferenceID  ReferenceID
}

// CloseOffer opens the off-chain close handshake (spec §4.4, §6).
type CloseOffer struct {
	SubChannelID  ID
	CounterPayout int64
	Timestamp     uint64
	ReferenceID   ReferenceID
}

// CloseAccept replies to a CloseOffer with the accepter's glue-transaction
// signature.
type CloseAccept struct {
	SubChannelID  ID
	OwnSignature  []byte
	Timestamp     uint64
	ReferenceID   ReferenceID
}

// CloseConfirm carries the offerer's countersignature, completing a
// fully-signed glue transaction, plus the offerer's revocation secret for
// the split transaction being superseded — mirroring
// dlcchannel.SettleConfirm's PriorRevokeSecret one layer up, since a
// successful off-chain close is exactly what makes the split transaction
// punishable if rebroadcast.
type CloseConfirm struct {
	SubChannelID     ID
	OwnSignature     []byte
	PriorRevokeSecret [32]byte
	Timestamp        uint64
	ReferenceID      ReferenceID
}

// CloseFinalize acks a CloseConfirm with the accepter's own revocation
// secret for the same split transaction; the glue transaction is now
// broadcastable by either side and the sub-channel is terminally closed.
type CloseFinalize struct {
	SubChannelID      ID
	PriorRevokeSecret [32]byte
	Timestamp         uint64
	ReferenceID       ReferenceID
}

// CloseReject cancels a pending off-chain close offer (spec §10: left
// unspecified in source, decided here as a symmetric rollback of
// CloseOffered back to Active — see DESIGN.md).
type CloseReject struct {
	SubChannelID ID
	Timestamp    uint64
	ReferenceID  ReferenceID
}
