// Package txbuilder declares the transaction-construction capability the
// engine consumes: building the funding, CET, refund, buffer, settle,
// split, glue, and punish transactions that make up a DLC and DLC channel.
// Per spec §1 these are "treated as library calls with typed inputs and
// outputs" — a concrete implementation (assembling multisig scripts,
// computing witness programs, running the actual script interpreter) lives
// outside this engine, grounded on whichever Bitcoin script library a host
// chooses (e.g. btcd/txscript).
package txbuilder

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// FundingParams describes the two-party 2-of-2 funding output used by both
// plain DLCs and DLC channels.
type FundingParams struct {
	OffererFundPubKey *btcec.PublicKey
	AccepterFundPubKey *btcec.PublicKey
	OffererInputs      []wire.TxIn
	AccepterInputs      []wire.TxIn
	OffererChange       *wire.TxOut
	AccepterChange       *wire.TxOut
	FundingAmount        btcutil.Amount
	FeeRatePerVByte       uint64
}

// CetParams describes one Contract Execution Transaction: it spends the
// funding (or buffer) output and pays each party their outcome-determined
// payout.
type CetParams struct {
	FundingOutpoint   wire.OutPoint
	OffererPayout     btcutil.Amount
	AccepterPayout    btcutil.Amount
	OffererPayoutAddr btcutil.Address
	AccepterPayoutAddr btcutil.Address
	Locktime          uint32
}

// RefundParams describes the refund transaction: a timelocked transaction
// returning each party their original collateral.
type RefundParams struct {
	FundingOutpoint    wire.OutPoint
	OffererAmount      btcutil.Amount
	AccepterAmount     btcutil.Amount
	OffererPayoutAddr  btcutil.Address
	AccepterPayoutAddr btcutil.Address
	Locktime           uint32
}

// BufferParams describes a DLC channel's buffer transaction: it spends the
// channel's funding output and is in turn spendable by a CET (after
// CET_NSEQUENCE blocks), an Established update, or a punish transaction.
type BufferParams struct {
	FundingOutpoint wire.OutPoint
	Amount          btcutil.Amount
	CsvDelay        uint16
}

// SettleParams describes a channel's settle transaction: it fixes the
// channel's final balance without executing any contract.
type SettleParams struct {
	SpentOutpoint  wire.OutPoint
	OwnPayout      btcutil.Amount
	CounterPayout  btcutil.Amount
	OwnAddr        btcutil.Address
	CounterAddr    btcutil.Address
	CsvDelay       uint16
}

// SplitParams describes a sub-channel split transaction: it divides an LN
// commitment output into an LN-side output and a DLC-side output.
type SplitParams struct {
	LNFundingOutpoint wire.OutPoint
	DlcAmount         btcutil.Amount
	LnAmount          btcutil.Amount
}

// GlueParams describes a sub-channel glue transaction: it spends the
// LN-side output of a split transaction back into a new Lightning
// commitment, reconnecting the overlay to the underlying channel once the
// DLC side is closed or simply to refresh the commitment (spec §4.4).
type GlueParams struct {
	SplitLNOutpoint wire.OutPoint
	LnAmount        btcutil.Amount
}

// PunishParams describes a punish transaction sweeping every output of a
// counterparty's revoked buffer, settle, or split transaction.
type PunishParams struct {
	RevokedTx     *wire.MsgTx
	RevocationKey *btcec.PrivateKey
	PublishKey    *btcec.PrivateKey
	SweepAddr     btcutil.Address
	FeeRateSatPerVByte float64
}

// ClaimParams describes a transaction sweeping a single CSV-matured output
// of a confirmed buffer or settle transaction to an address we control,
// once the revocation window has passed without a punishable broadcast
// (spec §4.3, try_finalize_closing/settled_closing_channel).
type ClaimParams struct {
	SpentOutpoint      wire.OutPoint
	Amount             btcutil.Amount
	CsvDelay           uint16
	DestAddr           btcutil.Address
	FeeRateSatPerVByte float64
}

// Builder is the transaction-construction capability (spec §1, §4).
type Builder interface {
	BuildFundingTx(p FundingParams) (*wire.MsgTx, uint32, error)
	BuildCetTx(p CetParams) (*wire.MsgTx, error)
	BuildRefundTx(p RefundParams) (*wire.MsgTx, error)
	BuildBufferTx(p BufferParams) (*wire.MsgTx, error)
	BuildSettleTx(p SettleParams) (*wire.MsgTx, error)
	BuildSplitTx(p SplitParams) (*wire.MsgTx, error)
	BuildGlueTx(p GlueParams) (*wire.MsgTx, error)
	BuildPunishTx(p PunishParams) (*wire.MsgTx, error)
	BuildClaimTx(p ClaimParams) (*wire.MsgTx, error)
}
