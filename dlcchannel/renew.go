package dlcchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/contract"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// OfferRenew replaces the channel's current contract/settle with a new
// contract offer (spec §4.3 Renew, RenewOffer step). If we are already
// RenewOffered as the offer party, a concurrent incoming offer is rejected
// rather than accepted (spec §4.3: "if we are already in
// RenewOffered{is_offer=true}, incoming offer is rejected").
func (m *Machine) OfferRenew(id ID, newContractInput contract.CommonFields, now uint64) (*SignedChannel, *RenewOffer, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	switch sc.Sub.(type) {
	case Established, Settled:
	default:
		return nil, nil, dlcerr.InvalidState("channel %x is not Established or Settled", id)
	}

	newContractInput.Counterparty = sc.Counterparty
	newContractInput.IsOfferParty = true
	_, contractOfferMsg, err := m.deps.Contract.SendOffer(newContractInput, sc.Counterparty)
	if err != nil {
		return nil, nil, err
	}

	sc.RollBack = sc.Sub
	sc.Sub = RenewOffered{IsOffer: true, OfferedContract: newContractInput, Timeout: now + PeerTimeout}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting renew offer")
	}
	return sc, &RenewOffer{ChannelID: id, ContractOffer: *contractOfferMsg, Timestamp: now}, nil
}

// OnOfferRenew handles an incoming RenewOffer.
func (m *Machine) OnOfferRenew(msg *RenewOffer, cp *btcec.PublicKey) (*SignedChannel, *Reject, error) {
	sc, err := m.signedChannel(msg.ChannelID, cp)
	if err != nil {
		return nil, nil, err
	}
	if offered, ok := sc.Sub.(RenewOffered); ok && offered.IsOffer {
		return sc, &Reject{ChannelID: msg.ChannelID, Timestamp: msg.Timestamp}, nil
	}
	switch sc.Sub.(type) {
	case Established, Settled:
	default:
		return nil, nil, dlcerr.InvalidState("channel %x is not Established or Settled", msg.ChannelID)
	}

	offeredContract, err := m.deps.Contract.OnOffer(&msg.ContractOffer, cp, 0)
	if err != nil {
		return nil, nil, err
	}

	sc.RollBack = sc.Sub
	sc.Sub = RenewOffered{IsOffer: false, OfferedContract: offeredContract.CommonFields}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting renew received")
	}
	return sc, nil, nil
}

// AcceptRenew accepts the pending contract offer via the nested
// ContractStateMachine and moves to RenewAccepted (spec §4.3
// RenewAccept step).
func (m *Machine) AcceptRenew(id ID, accepterInput contract.AcceptedContract) (*SignedChannel, *RenewAccept, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	offered, ok := sc.Sub.(RenewOffered)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not RenewOffered", id)
	}

	acceptedContract, contractAcceptMsg, err := m.deps.Contract.AcceptContractOffer(offered.OfferedContract.TemporaryContractID, accepterInput)
	if err != nil {
		return nil, nil, err
	}

	sc.Sub = RenewAccepted{AcceptedContract: acceptedContract, IsOffer: offered.IsOffer}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting renew accepted")
	}
	return sc, &RenewAccept{ChannelID: id, ContractAccept: *contractAcceptMsg}, nil
}

// ConfirmRenew countersigns the new contract, builds its buffer
// transaction, and hands over our revocation secret for the prior
// Established buffer-tx or Settle-tx; that prior transaction is registered
// as Revoked later, in RevokeRenew. The new contract is persisted in the
// Signed state; it is not stored as Confirmed here.
func (m *Machine) ConfirmRenew(id ID, acceptMsg *RenewAccept) (*SignedChannel, *RenewConfirm, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	offered, ok := sc.Sub.(RenewOffered)
	if !ok || !offered.IsOffer {
		return nil, nil, dlcerr.InvalidState("channel %x is not RenewOffered(is_offer)", id)
	}

	signedContract, signMsg, err := m.deps.Contract.OnAccept(&acceptMsg.ContractAccept, sc.Counterparty, nil)
	if err != nil {
		return nil, nil, err
	}

	bufferTx, err := m.deps.TxBuilder.BuildBufferTx(txbuilder.BufferParams{
		FundingOutpoint: signedContract.FundingOutpoint,
		Amount:          signedContract.OfferCollateral + signedContract.AccepterCollateral,
		CsvDelay:        sc.CsvDelay,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building renewed buffer transaction")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(m.ourFundKey(sc))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching fund key")
	}
	ownAdaptorSig, err := encryptUnderPublishPoint(priv, m.counterPublishPoint(sc), bufferTx)
	if err != nil {
		return nil, nil, err
	}

	nextIdx := sc.UpdateIdx - 1

	sc.Sub = RenewConfirmed{
		SignedContract:      signedContract,
		BufferTx:            bufferTx,
		OwnBufferAdaptorSig: ownAdaptorSig,
		IsOffer:             true,
	}
	if err := m.deps.Store.UpsertChannelAndContract(sc, signedContract); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting renew confirmed")
	}
	return sc, &RenewConfirm{
		ChannelID:         id,
		ContractSign:      *signMsg,
		BufferAdaptorSig:  ownAdaptorSig,
		PriorRevokeSecret: sc.OwnRevocationProducer.SecretAt(nextIdx),
	}, nil
}

// FinalizeRenew handles RenewConfirm on the accepter side, countersigning
// and revoking its own prior state, then replies RenewFinalize.
func (m *Machine) FinalizeRenew(msg *RenewConfirm) (*SignedChannel, *RenewFinalize, error) {
	sc, err := m.signedChannel(msg.ChannelID, nil)
	if err != nil {
		return nil, nil, err
	}
	accepted, ok := sc.Sub.(RenewAccepted)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not RenewAccepted", msg.ChannelID)
	}

	signedContract, err := m.deps.Contract.OnSign(&msg.ContractSign, sc.Counterparty, nil)
	if err != nil {
		return nil, nil, err
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(m.ourFundKey(sc))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching fund key")
	}
	bufferTx, err := m.deps.TxBuilder.BuildBufferTx(txbuilder.BufferParams{
		FundingOutpoint: signedContract.FundingOutpoint,
		Amount:          signedContract.OfferCollateral + signedContract.AccepterCollateral,
		CsvDelay:        sc.CsvDelay,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building renewed buffer transaction")
	}
	ownAdaptorSig, err := encryptUnderPublishPoint(priv, m.counterPublishPoint(sc), bufferTx)
	if err != nil {
		return nil, nil, err
	}

	nextIdx := sc.UpdateIdx - 1
	if sc.CounterPerUpdateSecrets == nil {
		sc.CounterPerUpdateSecrets = make(map[uint64][32]byte)
	}
	sc.CounterPerUpdateSecrets[nextIdx] = msg.PriorRevokeSecret

	sc.Sub = RenewFinalized{
		SignedContract:          signedContract,
		BufferTx:                bufferTx,
		OwnBufferAdaptorSig:     ownAdaptorSig,
		CounterBufferAdaptorSig: msg.BufferAdaptorSig,
		IsOffer:                 accepted.IsOffer,
	}
	if err := m.deps.Store.UpsertChannelAndContract(sc, signedContract); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting renew finalized")
	}
	return sc, &RenewFinalize{
		ChannelID:         msg.ChannelID,
		BufferAdaptorSig:  ownAdaptorSig,
		PriorRevokeSecret: sc.OwnRevocationProducer.SecretAt(nextIdx),
	}, nil
}

// RevokeRenew completes the Renew sub-protocol: once the offerer receives
// RenewFinalize (and the accepter receives the subsequent RenewRevoke), both
// sides register the prior buffer/settle transaction as Revoked and the
// channel returns to Established with the new contract live.
func (m *Machine) RevokeRenew(msg *RenewFinalize) (*SignedChannel, *RenewRevoke, error) {
	sc, err := m.signedChannel(msg.ChannelID, nil)
	if err != nil {
		return nil, nil, err
	}
	confirmed, ok := sc.Sub.(RenewConfirmed)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not RenewConfirmed", msg.ChannelID)
	}

	nextIdx := sc.UpdateIdx - 1
	registerPriorRevocation(m, sc, nextIdx, true)
	if sc.CounterPerUpdateSecrets == nil {
		sc.CounterPerUpdateSecrets = make(map[uint64][32]byte)
	}
	sc.CounterPerUpdateSecrets[nextIdx] = msg.PriorRevokeSecret

	sc.UpdateIdx = nextIdx
	sc.Sub = Established{
		BufferTx:                confirmed.BufferTx,
		OwnBufferAdaptorSig:     confirmed.OwnBufferAdaptorSig,
		CounterBufferAdaptorSig: msg.BufferAdaptorSig,
		SignedContractID:        confirmed.SignedContract.ContractID,
		IsInitiator:             true,
		TotalCollateral:         int64(confirmed.SignedContract.OfferCollateral + confirmed.SignedContract.AccepterCollateral),
	}
	sc.RollBack = nil
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting revoked renew")
	}
	return sc, &RenewRevoke{ChannelID: msg.ChannelID, PriorUpdateIdx: nextIdx}, nil
}

// OnRevokeRenew completes the accepter's view: the channel finalizes into
// Established now that the offerer has acked with RenewRevoke.
func (m *Machine) OnRevokeRenew(msg *RenewRevoke) (*SignedChannel, error) {
	sc, err := m.signedChannel(msg.ChannelID, nil)
	if err != nil {
		return nil, err
	}
	finalized, ok := sc.Sub.(RenewFinalized)
	if !ok {
		return nil, dlcerr.InvalidState("channel %x is not RenewFinalized", msg.ChannelID)
	}

	nextIdx := sc.UpdateIdx - 1
	registerPriorRevocation(m, sc, nextIdx, false)

	sc.UpdateIdx = nextIdx
	sc.Sub = Established{
		BufferTx:                finalized.BufferTx,
		OwnBufferAdaptorSig:     finalized.OwnBufferAdaptorSig,
		CounterBufferAdaptorSig: finalized.CounterBufferAdaptorSig,
		SignedContractID:        finalized.SignedContract.ContractID,
		IsInitiator:             false,
		TotalCollateral:         int64(finalized.SignedContract.OfferCollateral + finalized.SignedContract.AccepterCollateral),
	}
	sc.RollBack = nil
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting revoked renew")
	}
	return sc, nil
}

// registerPriorRevocation tags the channel's pre-renew Established buffer
// tx or Settled settle tx as Revoked at the given update index (spec §4.3
// Renew: "the previous Established buffer-tx (or previous Settle-tx) is
// revoked analogously").
func registerPriorRevocation(m *Machine, sc *SignedChannel, updateIdx uint64, isOffer bool) {
	switch prior := sc.RollBack.(type) {
	case Established:
		m.deps.Monitor.AddTx(prior.BufferTx.TxHash(), chainmonitor.ChannelInfo{
			ChannelID: chainmonitor.ChannelID(sc.ChannelID),
			TxType:    chainmonitor.Revoked(updateIdx, prior.OwnBufferAdaptorSig, isOffer, chainmonitor.RevokedBuffer),
		})
	case Settled:
		m.deps.Monitor.AddTx(prior.SettleTx.TxHash(), chainmonitor.ChannelInfo{
			ChannelID: chainmonitor.ChannelID(sc.ChannelID),
			TxType:    chainmonitor.Revoked(updateIdx, prior.OwnSettleAdaptorSig, isOffer, chainmonitor.RevokedSettle),
		})
	}
}

