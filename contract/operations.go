package contract

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/adaptor"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/oracle"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// SendOffer validates input and builds a new Offered contract addressed to
// cp, persisting it and returning the OfferDlc to send (spec §4.2
// send_offer).
func (m *Machine) SendOffer(input CommonFields, cp *btcec.PublicKey) (*OfferedContract, *OfferDlc, error) {
	if err := validateOfferInput(input); err != nil {
		return nil, nil, err
	}

	input.Counterparty = cp
	input.IsOfferParty = true
	if input.TemporaryContractID == (TemporaryID{}) {
		if _, err := rand.Read(input.TemporaryContractID[:]); err != nil {
			return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "generating temporary contract id")
		}
	}

	oc := &OfferedContract{CommonFields: input}
	if err := m.deps.Store.UpsertContract(oc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting offered contract")
	}

	msg := &OfferDlc{
		TemporaryContractID: oc.TemporaryContractID,
		ContractInfos:        oc.ContractInfos,
		OfferCollateral:      int64(oc.OfferCollateral),
		TotalCollateral:       int64(oc.TotalCollateral),
		FeeRatePerVByte:       oc.FeeRatePerVByte,
		CetLocktime:           oc.CetLocktime,
		RefundLocktime:        oc.RefundLocktime,
		FundingInputs:         oc.OffererFundingInputs,
		FundPubKey:            oc.OffererFundPubKey,
	}
	return oc, msg, nil
}

// OnOffer validates an inbound OfferDlc and persists a new Offered
// contract (spec §4.2 on_offer). Duplicate offers (by temporary-contract-id,
// since the real contract-id isn't known until funding) are rejected with
// InvalidParameters (spec S3).
func (m *Machine) OnOffer(msg *OfferDlc, cp *btcec.PublicKey, now uint64) (*OfferedContract, error) {
	if existing, err := m.deps.Store.GetContractByTemporaryID(msg.TemporaryContractID); err == nil && existing != nil {
		return nil, dlcerr.InvalidParameters("contract with identical id already exists")
	}

	if msg.RefundLocktime < uint32(now+RefundDelay) || msg.RefundLocktime > uint32(now+2*RefundDelay) {
		return nil, dlcerr.InvalidParameters(
			"refund locktime %d outside of allowed window [%d, %d]",
			msg.RefundLocktime, now+RefundDelay, now+2*RefundDelay)
	}

	if msg.OfferCollateral < 0 || msg.TotalCollateral < msg.OfferCollateral {
		return nil, dlcerr.InvalidParameters("invalid collateral split")
	}

	oc := &OfferedContract{
		CommonFields: CommonFields{
			TemporaryContractID: msg.TemporaryContractID,
			Counterparty:         cp,
			ContractInfos:        msg.ContractInfos,
			OfferCollateral:      amount(msg.OfferCollateral),
			TotalCollateral:       amount(msg.TotalCollateral),
			FeeRatePerVByte:       msg.FeeRatePerVByte,
			CetLocktime:           msg.CetLocktime,
			RefundLocktime:        msg.RefundLocktime,
			OffererFundingInputs:  msg.FundingInputs,
			OffererFundPubKey:     msg.FundPubKey,
			IsOfferParty:          false,
		},
	}

	if err := m.deps.Store.UpsertContract(oc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting offered contract")
	}
	return oc, nil
}

// RejectOffer declines a pending Offered contract, moving it to the
// terminal RejectedContract state (spec §4.2, Reject). It is used both when
// we refuse an incoming offer and when our own offer is refused by the
// counterparty.
func (m *Machine) RejectOffer(tempID TemporaryID) (*RejectedContract, error) {
	existing, err := m.deps.Store.GetContractByTemporaryID(tempID)
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "fetching offered contract")
	}
	offered, ok := existing.(*OfferedContract)
	if !ok {
		return nil, dlcerr.InvalidState("contract %x is not in Offered state", tempID)
	}

	rejected := &RejectedContract{
		TemporaryContractIDVal: tempID,
		OfferedContract:        offered,
	}
	if err := m.deps.Store.UpsertContract(rejected); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting rejected contract")
	}
	return rejected, nil
}

// GetContract fetches a contract by id, for callers outside this package
// (such as the channel reactor inspecting a nested contract's terminal
// state) that hold a *Machine but not its underlying Store.
func (m *Machine) GetContract(id ID) (Contract, error) {
	return m.deps.Store.GetContract(id)
}

// AcceptContractOffer transitions an Offered contract into Accepted: it
// builds the funding/CET/refund transactions and the accepter's adaptor
// and refund signatures (spec §4.2 accept_contract_offer).
func (m *Machine) AcceptContractOffer(tempID TemporaryID, accepterInput AcceptedContract) (*AcceptedContract, *AcceptDlc, error) {
	existing, err := m.deps.Store.GetContractByTemporaryID(tempID)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "fetching offered contract")
	}
	offered, ok := existing.(*OfferedContract)
	if !ok {
		return nil, nil, dlcerr.InvalidState("contract %x is not in Offered state", tempID)
	}

	ac := &accepterInput
	ac.CommonFields = offered.CommonFields

	fundingTx, fundOutputIdx, err := m.deps.TxBuilder.BuildFundingTx(txbuilder.FundingParams{
		OffererFundPubKey:  offered.OffererFundPubKey,
		AccepterFundPubKey: ac.AccepterFundPubKey,
		FundingAmount:      offered.TotalCollateral,
		FeeRatePerVByte:    offered.FeeRatePerVByte,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "building funding transaction")
	}
	ac.FundingTx = fundingTx
	ac.FundOutputIndex = fundOutputIdx
	ac.FundingOutpoint = fundingOutpointOf(fundingTx, fundOutputIdx)

	refundTx, err := m.deps.TxBuilder.BuildRefundTx(txbuilder.RefundParams{
		FundingOutpoint:    ac.FundingOutpoint,
		OffererAmount:      offered.OfferCollateral,
		AccepterAmount:     ac.AccepterCollateral,
		OffererPayoutAddr:  offered.OffererPayoutAddress,
		AccepterPayoutAddr: ac.AccepterPayoutAddress,
		Locktime:           offered.RefundLocktime,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "building refund transaction")
	}
	ac.RefundTx = refundTx

	accepterPriv, err := m.deps.Wallet.GetSecretKeyForPubkey(ac.AccepterFundPubKey)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching accepter fund key")
	}

	ac.AdaptorInfos = make([]AdaptorInfo, len(offered.ContractInfos))
	ac.CetTxs = make([][]*wire.MsgTx, 0)
	cetTxs := make([][]*wire.MsgTx, len(offered.ContractInfos))

	for ciIdx, ci := range offered.ContractInfos {
		adaptorSigs := make([]*adaptor.Signature, len(ci.Outcomes))
		txs := make([]*wire.MsgTx, len(ci.Outcomes))
		for oIdx, outcome := range ci.Outcomes {
			cetTx, err := m.buildCet(ac.FundingOutpoint, offered, ac, outcome)
			if err != nil {
				return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "building CET for outcome %d/%d", ciIdx, oIdx)
			}

			encKey, err := outcomeEncryptionPoint(ci, outcome)
			if err != nil {
				return nil, nil, err
			}

			sig, err := adaptor.Encrypt(accepterPriv, encKey, sigHashOf(cetTx))
			if err != nil {
				return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "encrypting CET adaptor signature")
			}
			adaptorSigs[oIdx] = sig
			txs[oIdx] = cetTx
		}
		ac.AdaptorInfos[ciIdx] = AdaptorInfo{AccepterAdaptorSignatures: adaptorSigs}
		cetTxs[ciIdx] = txs
	}
	ac.CetTxs = cetTxs

	refundSig, err := signWithKey(accepterPriv, sigHashOf(refundTx))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "signing refund transaction")
	}
	ac.AccepterRefundSignature = refundSig

	if err := m.deps.Store.UpsertContract(ac); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting accepted contract")
	}

	msg := &AcceptDlc{
		TemporaryContractID: tempID,
		AcceptCollateral:     int64(ac.AccepterCollateral),
		FundingInputs:        ac.AccepterFundingInputs,
		FundPubKey:           ac.AccepterFundPubKey,
		AdaptorInfos:         ac.AdaptorInfos,
		RefundSignature:      ac.AccepterRefundSignature,
	}
	return ac, msg, nil
}

// OnAccept verifies the accepter's adaptor and refund signatures against an
// Offered contract, adds the offerer's own signatures, and transitions to
// Signed; if verification fails the contract moves to FailedAccept instead
// (spec §4.2 on_accept).
func (m *Machine) OnAccept(msg *AcceptDlc, cp *btcec.PublicKey, offendingMsgBytes []byte) (*SignedContract, *SignDlc, error) {
	existing, err := m.deps.Store.GetContractByTemporaryID(msg.TemporaryContractID)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "fetching offered contract")
	}
	offered, ok := existing.(*OfferedContract)
	if !ok {
		return nil, nil, dlcerr.InvalidState("contract %x is not in Offered state", msg.TemporaryContractID)
	}
	if !offered.Counterparty.IsEqual(cp) {
		return nil, nil, dlcerr.InvalidParameters("sender does not match offered counterparty")
	}

	ac := &AcceptedContract{
		CommonFields:            offered.CommonFields,
		AccepterCollateral:      amount(msg.AcceptCollateral),
		AccepterFundingInputs:   msg.FundingInputs,
		AccepterFundPubKey:      msg.FundPubKey,
		AdaptorInfos:            msg.AdaptorInfos,
		AccepterRefundSignature: msg.RefundSignature,
	}

	fundingTx, fundOutputIdx, err := m.deps.TxBuilder.BuildFundingTx(txbuilder.FundingParams{
		OffererFundPubKey:  offered.OffererFundPubKey,
		AccepterFundPubKey: ac.AccepterFundPubKey,
		FundingAmount:      offered.TotalCollateral,
		FeeRatePerVByte:    offered.FeeRatePerVByte,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "rebuilding funding transaction")
	}
	ac.FundingTx = fundingTx
	ac.FundOutputIndex = fundOutputIdx
	ac.FundingOutpoint = fundingOutpointOf(fundingTx, fundOutputIdx)

	refundTx, err := m.deps.TxBuilder.BuildRefundTx(txbuilder.RefundParams{
		FundingOutpoint:    ac.FundingOutpoint,
		OffererAmount:      offered.OfferCollateral,
		AccepterAmount:     ac.AccepterCollateral,
		OffererPayoutAddr:  offered.OffererPayoutAddress,
		AccepterPayoutAddr: ac.AccepterPayoutAddress,
		Locktime:           offered.RefundLocktime,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "rebuilding refund transaction")
	}
	ac.RefundTx = refundTx

	if err := m.verifyAccepterSignatures(offered, ac); err != nil {
		failed := &FailedAcceptContract{
			TemporaryContractIDVal: offered.TemporaryContractID,
			OfferedContract:        offered,
			ErrorMessage:           err.Error(),
			OffendingMessageBytes:  offendingMsgBytes,
		}
		if serr := m.deps.Store.UpsertContract(failed); serr != nil {
			log.Errorf("failed to persist FailedAccept for %x: %v", offered.TemporaryContractID, serr)
		}
		return nil, nil, err
	}

	offererPriv, err := m.deps.Wallet.GetSecretKeyForPubkey(offered.OffererFundPubKey)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching offerer fund key")
	}

	ac.CetTxs = make([][]*wire.MsgTx, len(offered.ContractInfos))
	offererAdaptorSigs := make([][]*adaptor.Signature, len(offered.ContractInfos))
	for ciIdx, ci := range offered.ContractInfos {
		sigs := make([]*adaptor.Signature, len(ci.Outcomes))
		txs := make([]*wire.MsgTx, len(ci.Outcomes))
		for oIdx, outcome := range ci.Outcomes {
			cetTx, err := m.buildCet(ac.FundingOutpoint, offered, ac, outcome)
			if err != nil {
				return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "rebuilding CET %d/%d", ciIdx, oIdx)
			}
			encKey, err := outcomeEncryptionPoint(ci, outcome)
			if err != nil {
				return nil, nil, err
			}
			sig, err := adaptor.Encrypt(offererPriv, encKey, sigHashOf(cetTx))
			if err != nil {
				return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "encrypting offerer CET adaptor signature")
			}
			sigs[oIdx] = sig
			txs[oIdx] = cetTx
		}
		offererAdaptorSigs[ciIdx] = sigs
		ac.CetTxs[ciIdx] = txs
	}
	for i := range ac.AdaptorInfos {
		ac.AdaptorInfos[i].OffererAdaptorSignatures = offererAdaptorSigs[i]
	}

	refundSig, err := signWithKey(offererPriv, sigHashOf(ac.RefundTx))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "signing offerer refund signature")
	}

	sc := &SignedContract{
		AcceptedContract:       *ac,
		ContractID:             ComputeID(ac.FundingOutpoint, offered.TemporaryContractID),
		OffererRefundSignature: refundSig,
	}

	if err := m.deps.Store.UpsertContract(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting signed contract")
	}

	if err := m.deps.Chain.SendTransaction(sc.FundingTx); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindBlockchain, err, "broadcasting funding transaction")
	}

	signMsg := &SignDlc{
		ContractID:      sc.ContractID,
		AdaptorInfos:    offererAdaptorSigsToInfos(offererAdaptorSigs),
		RefundSignature: refundSig,
	}
	return sc, signMsg, nil
}

// OnSign verifies the offerer's adaptor and refund signatures against an
// Accepted contract and transitions to Signed; on failure the contract
// moves to FailedSign instead (spec §4.2 on_sign).
func (m *Machine) OnSign(msg *SignDlc, cp *btcec.PublicKey, offendingMsgBytes []byte) (*SignedContract, error) {
	existing, err := m.deps.Store.GetContract(msg.ContractID)
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "fetching accepted contract")
	}
	accepted, ok := existing.(*AcceptedContract)
	if !ok {
		return nil, dlcerr.InvalidState("contract %x is not in Accepted state", msg.ContractID)
	}
	if !accepted.Counterparty.IsEqual(cp) {
		return nil, dlcerr.InvalidParameters("sender does not match accepted counterparty")
	}

	for i := range accepted.AdaptorInfos {
		accepted.AdaptorInfos[i].OffererAdaptorSignatures = msg.AdaptorInfos[i].OffererAdaptorSignatures
	}

	if err := m.verifyOffererSignatures(accepted, msg); err != nil {
		failed := &FailedSignContract{
			TemporaryContractIDVal: accepted.TemporaryContractID,
			AcceptedContract:       accepted,
			ErrorMessage:           err.Error(),
			OffendingMessageBytes:  offendingMsgBytes,
		}
		if serr := m.deps.Store.UpsertContract(failed); serr != nil {
			log.Errorf("failed to persist FailedSign for %x: %v", accepted.TemporaryContractID, serr)
		}
		return nil, err
	}

	sc := &SignedContract{
		AcceptedContract:       *accepted,
		ContractID:             msg.ContractID,
		OffererRefundSignature: msg.RefundSignature,
	}

	if err := m.deps.Store.UpsertContract(sc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting signed contract")
	}

	if err := m.deps.Chain.SendTransaction(sc.FundingTx); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindBlockchain, err, "re-broadcasting funding transaction")
	}

	return sc, nil
}

// CheckSignedContracts fetches fund-tx confirmations for every Signed
// contract and transitions to Confirmed once NB_CONFIRMATIONS is reached
// (spec §4.2 check_signed_contracts).
func (m *Machine) CheckSignedContracts() error {
	signed, err := m.deps.Store.ListContractsByState(StateSigned)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "listing signed contracts")
	}

	for _, c := range signed {
		sc, ok := c.(*SignedContract)
		if !ok {
			continue
		}
		confs, err := m.deps.Chain.GetTransactionConfirmations(sc.FundingTx.TxHash())
		if err != nil {
			log.Errorf("check_signed_contracts: confirmations for %x: %v", sc.ContractID, err)
			continue
		}
		if confs < m.deps.NbConfirmations {
			continue
		}
		confirmed := &ConfirmedContract{SignedContract: *sc}
		if err := m.deps.Store.UpsertContract(confirmed); err != nil {
			log.Errorf("check_signed_contracts: persisting Confirmed for %x: %v", sc.ContractID, err)
		}
	}
	return nil
}

// CheckConfirmedContracts attempts to close, via attestation, every
// Confirmed contract whose oracle(s) have published enough attestations,
// and otherwise falls back to the refund path once refund-locktime has
// passed (spec §4.2 check_confirmed_contracts).
func (m *Machine) CheckConfirmedContracts() error {
	confirmed, err := m.deps.Store.ListContractsByState(StateConfirmed)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "listing confirmed contracts")
	}

	now := uint64(m.deps.Clock.Now().Unix())
	for _, c := range confirmed {
		cc, ok := c.(*ConfirmedContract)
		if !ok {
			continue
		}
		if err := m.tryCloseOrRefund(cc, now); err != nil {
			log.Errorf("check_confirmed_contracts: %x: %v", cc.ContractID, err)
		}
	}
	return nil
}

func (m *Machine) tryCloseOrRefund(cc *ConfirmedContract, now uint64) error {
	closable := m.findClosableInfo(cc, now)
	if closable != nil {
		return m.closeViaCet(cc, closable)
	}

	if cc.RefundLocktime > uint32(now) {
		return nil
	}
	confs, err := m.deps.Chain.GetTransactionConfirmations(cc.RefundTx.TxHash())
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindBlockchain, err, "checking refund tx confirmations")
	}
	if confs > 0 {
		return nil
	}

	if err := m.deps.Chain.SendTransaction(cc.RefundTx); err != nil {
		return dlcerr.Wrap(dlcerr.KindBlockchain, err, "broadcasting refund transaction")
	}

	refunded := &RefundedContract{
		ContractID:             cc.ContractID,
		TemporaryContractIDVal: cc.TemporaryContractID,
		CounterpartyID:         cc.Counterparty,
		RefundTx:               cc.RefundTx,
	}
	if err := m.deps.Store.UpsertContract(refunded); err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "persisting refunded contract")
	}
	return nil
}

// findClosableInfo iterates the contract's (contract_info, adaptor_info)
// pairs in declared order and returns the first one whose attestation
// threshold is met. If multiple become simultaneously closable, the first
// in declared order wins (spec §4.2 edge case). Attestation retrieval
// failures skip that oracle, and the threshold is re-evaluated with what
// remains.
func (m *Machine) findClosableInfo(cc *ConfirmedContract, now uint64) *ClosableInfo {
	for ciIdx, ci := range cc.ContractInfos {
		var atts []*oracle.Attestation
		var matchedAnns []*oracle.Announcement
		for _, ann := range ci.Announcements {
			if ann.EventMaturityEpoch > now {
				continue
			}
			o, found := m.deps.Oracles.OracleFor(ann.PublicKey)
			if !found {
				continue
			}
			att, err := o.GetAttestation(ann.EventID)
			if err != nil {
				continue
			}
			atts = append(atts, att)
			matchedAnns = append(matchedAnns, ann)
		}
		if len(atts) < ci.Threshold {
			continue
		}

		outcomeIdx, ok := matchOutcome(ci, atts)
		if !ok {
			continue
		}
		_ = matchedAnns

		return &ClosableInfo{ContractInfoIndex: ciIdx, OutcomeIndex: outcomeIdx, Attestations: atts}
	}
	return nil
}

func (m *Machine) closeViaCet(cc *ConfirmedContract, closable *ClosableInfo) error {
	ci := cc.ContractInfos[closable.ContractInfoIndex]
	ai := cc.AdaptorInfos[closable.ContractInfoIndex]
	cetTx := cc.CetTxs[closable.ContractInfoIndex][closable.OutcomeIndex]

	var sig *adaptor.Signature
	if cc.IsOfferParty {
		sig = ai.OffererAdaptorSignatures[closable.OutcomeIndex]
	} else {
		sig = ai.AccepterAdaptorSignatures[closable.OutcomeIndex]
	}

	secret, err := attestationSecret(ci.Outcomes[closable.OutcomeIndex], closable.Attestations)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindCrypto, err, "deriving attestation decryption secret")
	}

	decryptedSig, err := adaptor.Decrypt(sig, secret)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindCrypto, err, "decrypting CET adaptor signature")
	}

	signedCet := attachCetSignature(cetTx, decryptedSig)

	// If broadcast fails because the counterparty's CET for the same
	// outcome already confirmed, we still move to PreClosed so the
	// reactor tracks confirmations of whichever CET lands (spec §4.2
	// edge case).
	if err := m.deps.Chain.SendTransaction(signedCet); err != nil {
		log.Infof("CET broadcast for contract %x failed (likely raced by counterparty): %v", cc.ContractID, err)
	}

	pc := &PreClosedContract{
		ConfirmedContract: *cc,
		SignedCet:         signedCet,
		Attestations:       closable.Attestations,
		ClosableInfo:       closable,
	}
	if err := m.deps.Store.UpsertContract(pc); err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "persisting pre-closed contract")
	}
	return nil
}

// CheckPreClosedContracts transitions a PreClosed contract to Closed once
// its signed CET reaches NB_CONFIRMATIONS (spec §4.2
// check_preclosed_contracts).
func (m *Machine) CheckPreClosedContracts() error {
	preclosed, err := m.deps.Store.ListContractsByState(StatePreClosed)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "listing pre-closed contracts")
	}

	for _, c := range preclosed {
		pc, ok := c.(*PreClosedContract)
		if !ok {
			continue
		}
		confs, err := m.deps.Chain.GetTransactionConfirmations(pc.SignedCet.TxHash())
		if err != nil {
			log.Errorf("check_preclosed_contracts: confirmations for %x: %v", pc.ContractID, err)
			continue
		}
		if confs < m.deps.NbConfirmations {
			continue
		}

		ownPayout := ownPayoutOf(pc)
		pnl := int64(ownPayout) - int64(ownCollateralOf(pc))

		closed := &ClosedContract{
			ContractID:             pc.ContractID,
			TemporaryContractIDVal: pc.TemporaryContractID,
			CounterpartyID:         pc.Counterparty,
			Attestations:           pc.Attestations,
			SignedCet:              pc.SignedCet,
			PnL:                    pnl,
		}
		if err := m.deps.Store.UpsertContract(closed); err != nil {
			log.Errorf("check_preclosed_contracts: persisting Closed for %x: %v", pc.ContractID, err)
		}
	}
	return nil
}

func offererAdaptorSigsToInfos(sigs [][]*adaptor.Signature) []AdaptorInfo {
	out := make([]AdaptorInfo, len(sigs))
	for i, s := range sigs {
		out[i] = AdaptorInfo{OffererAdaptorSignatures: s}
	}
	return out
}
