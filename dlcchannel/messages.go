package dlcchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashprotocol/dlcd/contract"
)

// ReferenceID is an opaque caller-supplied correlation token (spec §6,
// GLOSSARY), propagated the same way contract.ReferenceID is.
type ReferenceID *uint64

// OfferChannel is the wire message that opens the Establish handshake
// (spec §6, ChannelMessage::Offer).
type OfferChannel struct {
	TemporaryChannelID TemporaryID
	OffererBasePoints  BasePoints
	OffererFundPubKey  *btcec.PublicKey
	CsvDelay           uint16
	ContractOffer      contract.OfferDlc
	Timestamp          uint64
	ReferenceID        ReferenceID
}

// AcceptChannel replies to an OfferChannel (spec §6, ChannelMessage::Accept).
type AcceptChannel struct {
	TemporaryChannelID  TemporaryID
	AccepterBasePoints  BasePoints
	AccepterFundPubKey  *btcec.PublicKey
	ContractAccept      contract.AcceptDlc
	OwnBufferAdaptorSig []byte
	Timestamp           uint64
	ReferenceID         ReferenceID
}

// SignChannel finalizes the Establish handshake (spec §6,
// ChannelMessage::Sign).
type SignChannel struct {
	ChannelID               ID
	TemporaryChannelID       TemporaryID
	ContractSign             contract.SignDlc
	CounterBufferAdaptorSig  []byte
	Timestamp                uint64
	ReferenceID              ReferenceID
}

// SettleOffer opens the Settle sub-protocol (spec §4.3, §6).
type SettleOffer struct {
	ChannelID     ID
	CounterPayout int64
	Timestamp     uint64
	ReferenceID   ReferenceID
}

// SettleAccept replies to a SettleOffer.
type SettleAccept struct {
	ChannelID           ID
	SettleAdaptorSig    []byte
	Timestamp           uint64
	ReferenceID         ReferenceID
}

// SettleConfirm carries the offerer's adaptor signature and reveals the
// revocation secret for the buffer transaction it just revoked, so the
// accepter can punish a stale broadcast of it.
type SettleConfirm struct {
	ChannelID        ID
	SettleAdaptorSig []byte
	PriorRevokeSecret [32]byte
	Timestamp        uint64
	ReferenceID      ReferenceID
}

// SettleFinalize acks a SettleConfirm and reveals the accepter's own
// revocation secret for the buffer transaction it just revoked.
type SettleFinalize struct {
	ChannelID         ID
	PriorRevokeSecret [32]byte
	Timestamp         uint64
	ReferenceID       ReferenceID
}

// RenewOffer opens the Renew sub-protocol with a replacement contract
// offer.
type RenewOffer struct {
	ChannelID      ID
	ContractOffer  contract.OfferDlc
	Timestamp      uint64
	ReferenceID    ReferenceID
}

// RenewAccept replies to a RenewOffer.
type RenewAccept struct {
	ChannelID     ID
	ContractAccept contract.AcceptDlc
	Timestamp      uint64
	ReferenceID    ReferenceID
}

// RenewConfirm carries the offerer's contract counter-signatures, buffer
// adaptor signature, and the revocation secret for the prior buffer/settle
// transaction it just revoked.
type RenewConfirm struct {
	ChannelID         ID
	ContractSign      contract.SignDlc
	BufferAdaptorSig  []byte
	PriorRevokeSecret [32]byte
	Timestamp         uint64
	ReferenceID       ReferenceID
}

// RenewFinalize acks a RenewConfirm with the accepter's buffer adaptor
// signature and its own revocation secret for the prior buffer/settle
// transaction it just revoked.
type RenewFinalize struct {
	ChannelID         ID
	BufferAdaptorSig  []byte
	PriorRevokeSecret [32]byte
	Timestamp         uint64
	ReferenceID       ReferenceID
}

// RenewRevoke acks receipt of RenewFinalize, completing the Renew
// sub-protocol.
type RenewRevoke struct {
	ChannelID      ID
	PriorUpdateIdx uint64
	Timestamp      uint64
	ReferenceID    ReferenceID
}

// CollaborativeCloseOfferMsg opens a cooperative close (spec §4.3). The
// close transaction itself is not transmitted: both parties rebuild it
// deterministically from CounterPayout and the channel's recorded funding
// outpoint and balances, the same discipline OfferSettle/OfferRenew use for
// the buffer and settle transactions.
type CollaborativeCloseOfferMsg struct {
	ChannelID     ID
	CounterPayout int64
	Timestamp     uint64
	ReferenceID   ReferenceID
}

// CollaborativeCloseAcceptMsg carries the accepter's signature over the
// jointly-rebuilt close transaction.
type CollaborativeCloseAcceptMsg struct {
	ChannelID   ID
	Signature   []byte
	Timestamp   uint64
	ReferenceID ReferenceID
}

// Reject declines a pending offer (Establish, Settle, or Renew) for the
// named channel (spec §4.3 Reject).
type Reject struct {
	ChannelID   ID
	TemporaryID TemporaryID
	Timestamp   uint64
	ReferenceID ReferenceID
}
