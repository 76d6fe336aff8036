// Package contract implements the DLC ContractStateMachine (spec §4.2): the
// per-contract handshake that drives a single Discreet Log Contract from
// Offered through Accepted, Signed, Confirmed, and into one of its terminal
// states (Closed, Refunded, FailedAccept, FailedSign, Rejected).
package contract

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/adaptor"
	"github.com/hashprotocol/dlcd/dlcwallet"
	"github.com/hashprotocol/dlcd/oracle"
)

// ID identifies a contract: the double-SHA256 of the funding outpoint
// concatenated with the temporary-contract-id (spec §3, invariant i).
type ID [32]byte

// TemporaryID identifies a contract before its funding outpoint is known,
// i.e. from the moment an offer is created.
type TemporaryID [32]byte

// ComputeID derives a contract-id from its funding outpoint and temporary
// id, per spec invariant i.
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

// State identifies which variant of the Contract tagged union a value
// holds.
type State uint8

const (
	StateOffered State = iota
	StateAccepted
	StateSigned
	StateConfirmed
	StatePreClosed
	StateClosed
	StateRefunded
	StateFailedAccept
	StateFailedSign
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateOffered:
		return "offered"
	case StateAccepted:
		return "accepted"
	case StateSigned:
		return "signed"
	case StateConfirmed:
		return "confirmed"
	case StatePreClosed:
		return "pre_closed"
	case StateClosed:
		return "closed"
	case StateRefunded:
		return "refunded"
	case StateFailedAccept:
		return "failed_accept"
	case StateFailedSign:
		return "failed_sign"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Contract is the tagged union described in spec §3. Every variant
// implements this interface; callers type-switch on State() to recover the
// concrete struct.
type Contract interface {
	State() State
	TemporaryContractID() TemporaryID
}

// Outcome is one leaf of a contract's payout curve/enumeration: an oracle
// outcome tuple mapped to a payout for the offerer.
type Outcome struct {
	// OutcomeValues names the attested outcome (or outcomes, for a
	// multi-oracle event set) this payout applies to.
	OutcomeValues []string

	// OffererPayout is the offer party's payout, in satoshis, if this
	// outcome is attested.
	OffererPayout btcutil.Amount
}

// ContractInfo bundles one oracle announcement set with the payout curve
// it governs. A multi-event contract is a list of ContractInfo entries,
// any one of which may become closable (spec §4.2 check_confirmed_contracts:
// "the first one in declared order wins" on simultaneous closability).
type ContractInfo struct {
	Announcements []*oracle.Announcement
	Outcomes      []Outcome

	// Threshold is the minimum number of the above announcements whose
	// attestations must be available for this ContractInfo to become
	// closable.
	Threshold int
}

// AdaptorInfo carries the accepter's and (once Signed) the offerer's CET
// adaptor signatures for one ContractInfo, indexed the same way as its
// Outcomes.
type AdaptorInfo struct {
	AccepterAdaptorSignatures []*adaptor.Signature
	OffererAdaptorSignatures  []*adaptor.Signature
}

// FundingInput is one UTXO a party contributes to the funding transaction.
type FundingInput struct {
	Utxo         dlcwallet.Utxo
	InputSerialID uint64
}

// CommonFields are present on every Contract variant from Offered onward.
type CommonFields struct {
	TemporaryContractID TemporaryID
	Counterparty         *btcec.PublicKey

	ContractInfos []ContractInfo

	OfferCollateral btcutil.Amount
	TotalCollateral btcutil.Amount
	FeeRatePerVByte uint64

	CetLocktime    uint32
	RefundLocktime uint32

	OffererFundingInputs []FundingInput
	OffererFundPubKey    *btcec.PublicKey
	OffererPayoutAddress btcutil.Address
	OffererChangeAddress btcutil.Address

	IsOfferParty bool
}

func (c CommonFields) TemporaryContractIDField() TemporaryID { return c.TemporaryContractID }

// OfferedContract is a contract that has been offered but not yet accepted.
type OfferedContract struct {
	CommonFields
}

func (c *OfferedContract) State() State                        { return StateOffered }
func (c *OfferedContract) TemporaryContractID() TemporaryID     { return c.CommonFields.TemporaryContractID }

// AcceptedContract adds the accepter's side of the handshake.
type AcceptedContract struct {
	CommonFields

	AccepterFundingInputs []FundingInput
	AccepterFundPubKey    *btcec.PublicKey
	AccepterPayoutAddress btcutil.Address
	AccepterChangeAddress btcutil.Address
	AccepterCollateral    btcutil.Amount

	AdaptorInfos       []AdaptorInfo
	AccepterRefundSignature []byte

	FundingTx *wire.MsgTx
	CetTxs    [][]*wire.MsgTx // indexed [contractInfo][outcome]
	RefundTx  *wire.MsgTx
	FundingOutpoint wire.OutPoint

	FundOutputIndex uint32
}

func (c *AcceptedContract) State() State                    { return StateAccepted }
func (c *AcceptedContract) TemporaryContractID() TemporaryID { return c.CommonFields.TemporaryContractID }

// SignedContract adds the offerer's counter-signatures, ready for
// broadcast.
type SignedContract struct {
	AcceptedContract

	ContractID ID

	OffererRefundSignature []byte
	OffererFundingWitnesses [][]wire.TxWitness
}

func (c *SignedContract) State() State { return StateSigned }

// ConfirmedContract marks the fund transaction as buried to
// NB_CONFIRMATIONS.
type ConfirmedContract struct {
	SignedContract
}

func (c *ConfirmedContract) State() State { return StateConfirmed }

// ClosableInfo names which ContractInfo became closable and with what
// attestations, produced by check_confirmed_contracts before building the
// signed CET.
type ClosableInfo struct {
	ContractInfoIndex int
	OutcomeIndex      int
	Attestations      []*oracle.Attestation
}

// PreClosedContract records that a CET (ours or the counterparty's) has
// been broadcast, pending its own confirmation depth.
type PreClosedContract struct {
	ConfirmedContract

	SignedCet    *wire.MsgTx
	Attestations []*oracle.Attestation // nil if we didn't witness the attestation (spec §4.3 Cet handler)
	ClosableInfo *ClosableInfo
}

func (c *PreClosedContract) State() State { return StatePreClosed }

// ClosedContract is the terminal state reached once a CET (attested close)
// is buried.
type ClosedContract struct {
	ContractID           ID
	TemporaryContractIDVal TemporaryID
	CounterpartyID       *btcec.PublicKey

	Attestations []*oracle.Attestation
	SignedCet    *wire.MsgTx

	// PnL is signed per spec invariant 7: own_payout - own_collateral.
	PnL int64
}

func (c *ClosedContract) State() State                    { return StateClosed }
func (c *ClosedContract) TemporaryContractID() TemporaryID { return c.TemporaryContractIDVal }

// RefundedContract is the terminal state reached via the refund path.
type RefundedContract struct {
	ContractID             ID
	TemporaryContractIDVal TemporaryID
	CounterpartyID         *btcec.PublicKey
	RefundTx               *wire.MsgTx
}

func (c *RefundedContract) State() State                    { return StateRefunded }
func (c *RefundedContract) TemporaryContractID() TemporaryID { return c.TemporaryContractIDVal }

// FailedAcceptContract is terminal: verification of the accepter's
// signatures failed. The offending Accept message is preserved verbatim
// for offline forensics (spec §7).
type FailedAcceptContract struct {
	TemporaryContractIDVal TemporaryID
	OfferedContract        *OfferedContract
	ErrorMessage           string
	OffendingMessageBytes  []byte
}

func (c *FailedAcceptContract) State() State                    { return StateFailedAccept }
func (c *FailedAcceptContract) TemporaryContractID() TemporaryID { return c.TemporaryContractIDVal }

// FailedSignContract is terminal: verification of the offerer's signatures
// failed.
type FailedSignContract struct {
	TemporaryContractIDVal TemporaryID
	AcceptedContract       *AcceptedContract
	ErrorMessage           string
	OffendingMessageBytes  []byte
}

func (c *FailedSignContract) State() State                    { return StateFailedSign }
func (c *FailedSignContract) TemporaryContractID() TemporaryID { return c.TemporaryContractIDVal }

// RejectedContract is terminal: the offer was refused, either by us or the
// counterparty.
type RejectedContract struct {
	TemporaryContractIDVal TemporaryID
	OfferedContract        *OfferedContract
}

func (c *RejectedContract) State() State                    { return StateRejected }
func (c *RejectedContract) TemporaryContractID() TemporaryID { return c.TemporaryContractIDVal }
