package contract

import "github.com/btcsuite/btcd/btcec/v2"

// ReferenceID is an opaque caller-supplied correlation token propagated
// through protocol messages (spec §6, GLOSSARY).
type ReferenceID *uint64

// OfferDlc is the wire message sent by the offering party (spec §6,
// OnChainMessage::Offer).
type OfferDlc struct {
	TemporaryContractID TemporaryID
	ContractInfos        []ContractInfo
	OfferCollateral      int64
	TotalCollateral       int64
	FeeRatePerVByte       uint64
	CetLocktime           uint32
	RefundLocktime        uint32
	FundingInputs         []FundingInput
	FundPubKey            *btcec.PublicKey
	PayoutAddress         []byte
	ChangeAddress         []byte
	Timestamp             uint64
	ReferenceID           ReferenceID
}

// AcceptDlc is the wire message sent in reply to an OfferDlc (spec §6,
// OnChainMessage::Accept).
type AcceptDlc struct {
	TemporaryContractID    TemporaryID
	AcceptCollateral        int64
	FundingInputs           []FundingInput
	FundPubKey              *btcec.PublicKey
	PayoutAddress           []byte
	ChangeAddress           []byte
	AdaptorInfos            []AdaptorInfo
	RefundSignature         []byte
	Timestamp               uint64
	ReferenceID             ReferenceID
}

// SignDlc is the wire message sent to finalize a contract handshake (spec
// §6, OnChainMessage::Sign).
type SignDlc struct {
	ContractID            ID
	AdaptorInfos          []AdaptorInfo
	RefundSignature       []byte
	FundingWitnesses      [][]byte
	Timestamp             uint64
	ReferenceID           ReferenceID
}
