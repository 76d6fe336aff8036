package subchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/dlcchannel"
	"github.com/hashprotocol/dlcd/dlcerr"
)

// signedSubChannel fetches the sub-channel by id and asserts it is Signed,
// returning its concrete *SignedSubChannel for in-place mutation.
func (m *Machine) signedSubChannel(id ID, cp *btcec.PublicKey) (*SignedSubChannel, error) {
	sc, err := m.deps.Store.GetSubChannel(id)
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up sub-channel")
	}
	ssc, ok := sc.(*SignedSubChannel)
	if !ok {
		return nil, dlcerr.InvalidState("sub-channel %x is not Signed", id)
	}
	if cp != nil && ssc.Counterparty != nil && !ssc.Counterparty.IsEqual(cp) {
		return nil, dlcerr.InvalidParameters("message sender does not match sub-channel counterparty")
	}
	return ssc, nil
}

func (m *Machine) ourSplitKey(ssc *SignedSubChannel) *btcec.PublicKey {
	if ssc.IsOfferParty {
		return ssc.OffererSplitPubKey
	}
	return ssc.AccepterSplitPubKey
}

func (m *Machine) counterSplitKey(ssc *SignedSubChannel) *btcec.PublicKey {
	if ssc.IsOfferParty {
		return ssc.AccepterSplitPubKey
	}
	return ssc.OffererSplitPubKey
}

func (m *Machine) counterPublishPoint(ssc *SignedSubChannel) *btcec.PublicKey {
	if ssc.IsOfferParty {
		return ssc.AccepterBasePoints.Publish
	}
	return ssc.OffererBasePoints.Publish
}

// OfferClose proposes collapsing the sub-channel's split back into a single
// LN commitment output, off-chain, at the given payout split (spec §4.4
// CloseOffer).
func (m *Machine) OfferClose(id ID, counterPayout int64, now uint64) (*SignedSubChannel, *CloseOffer, error) {
	ssc, err := m.signedSubChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := ssc.Sub.(Active); !ok {
		return nil, nil, dlcerr.InvalidState("sub-channel %x is not Active", id)
	}

	ssc.RollBack = ssc.Sub
	ssc.Sub = CloseOffered{IsOffer: true, CounterPayout: counterPayout, Timeout: now + PeerTimeout}
	if err := m.deps.Store.UpsertSubChannel(ssc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting close offer")
	}
	return ssc, &CloseOffer{SubChannelID: id, CounterPayout: counterPayout, Timestamp: now}, nil
}

// OnOfferClose handles an incoming off-chain close offer.
func (m *Machine) OnOfferClose(msg *CloseOffer, cp *btcec.PublicKey) (*SignedSubChannel, error) {
	ssc, err := m.signedSubChannel(msg.SubChannelID, cp)
	if err != nil {
		return nil, err
	}
	if _, ok := ssc.Sub.(Active); !ok {
		return nil, dlcerr.InvalidState("sub-channel %x is not Active", msg.SubChannelID)
	}

	ssc.RollBack = ssc.Sub
	ssc.Sub = CloseOffered{IsOffer: false, CounterPayout: msg.CounterPayout}
	if err := m.deps.Store.UpsertSubChannel(ssc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting close offer received")
	}
	return ssc, nil
}

// AcceptClose signs the glue transaction that will carry the sub-channel's
// agreed-upon off-chain close and replies with our signature.
func (m *Machine) AcceptClose(id ID) (*SignedSubChannel, *CloseAccept, error) {
	ssc, err := m.signedSubChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	offered, ok := ssc.Sub.(CloseOffered)
	if !ok {
		return nil, nil, dlcerr.InvalidState("sub-channel %x is not CloseOffered", id)
	}
	active := ssc.RollBack.(Active)

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(m.ourSplitKey(ssc))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching split key")
	}
	ownSig := signWithKey(priv, sigHashOf(active.GlueTx))

	ssc.Sub = CloseAccepted{GlueTx: active.GlueTx, OwnSignature: ownSig, CounterPayout: offered.CounterPayout, IsOffer: offered.IsOffer}
	if err := m.deps.Store.UpsertSubChannel(ssc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting close accept")
	}
	return ssc, &CloseAccept{SubChannelID: id, OwnSignature: ownSig}, nil
}

// OnAcceptClose handles the accepter's signature on the offerer's side: it
// countersigns the glue transaction and replies with the fully-formed
// countersignature.
func (m *Machine) OnAcceptClose(msg *CloseAccept) (*SignedSubChannel, *CloseConfirm, error) {
	ssc, err := m.signedSubChannel(msg.SubChannelID, nil)
	if err != nil {
		return nil, nil, err
	}
	offered, ok := ssc.Sub.(CloseOffered)
	if !ok || !offered.IsOffer {
		return nil, nil, dlcerr.InvalidState("sub-channel %x is not CloseOffered(is_offer)", msg.SubChannelID)
	}
	active := ssc.RollBack.(Active)

	if !verifySignature(msg.OwnSignature, sigHashOf(active.GlueTx), m.counterSplitKey(ssc)) {
		return nil, nil, dlcerr.InvalidParameters("invalid close-accept glue signature")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(m.ourSplitKey(ssc))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching split key")
	}
	ownSig := signWithKey(priv, sigHashOf(active.GlueTx))

	// Revoking our own update index for the split tx being closed out: once
	// this secret is handed over, the counterparty can recover our publish
	// secret should we ever rebroadcast it (spec §4.4, RevokedTxType::Split).
	priorRevokeSecret := ssc.OwnRevocationProducer.SecretAt(ssc.UpdateIdx)

	ssc.Sub = CloseAccepted{GlueTx: active.GlueTx, OwnSignature: ownSig, CounterPayout: offered.CounterPayout, IsOffer: true}
	if err := m.deps.Store.UpsertSubChannel(ssc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting close confirm")
	}
	return ssc, &CloseConfirm{
		SubChannelID:      msg.SubChannelID,
		OwnSignature:      ownSig,
		PriorRevokeSecret: priorRevokeSecret,
	}, nil
}

// OnConfirmClose handles the offerer's countersignature on the accepter's
// side, completing a fully-signed glue transaction and moving the
// sub-channel to its terminal closed state. The glue transaction itself is
// never broadcast as part of this handshake: it sits ready for either side
// to publish whenever the underlying LN layer needs the commitment back
// (spec §4.4, "the split tx itself is registered as Revoked{Split} — the
// counterparty publishing it after off-chain close is cheating").
func (m *Machine) OnConfirmClose(msg *CloseConfirm) (SubChannel, *CloseFinalize, error) {
	ssc, err := m.signedSubChannel(msg.SubChannelID, nil)
	if err != nil {
		return nil, nil, err
	}
	accepted, ok := ssc.Sub.(CloseAccepted)
	if !ok || accepted.IsOffer {
		return nil, nil, dlcerr.InvalidState("sub-channel %x is not CloseAccepted", msg.SubChannelID)
	}
	active := ssc.RollBack.(Active)

	if !verifySignature(msg.OwnSignature, sigHashOf(accepted.GlueTx), m.counterSplitKey(ssc)) {
		return nil, nil, dlcerr.InvalidParameters("invalid close-confirm glue signature")
	}

	if ssc.CounterPerUpdateSecrets == nil {
		ssc.CounterPerUpdateSecrets = make(map[uint64][32]byte)
	}
	ssc.CounterPerUpdateSecrets[ssc.UpdateIdx] = msg.PriorRevokeSecret

	return m.finalizeClose(ssc, active)
}

// finalizeClose registers the split tx as a cheating-detector watch
// (Revoked{Split}) and persists the terminal ClosedSubChannel. The returned
// CloseFinalize carries our own revocation secret for the split tx, handed
// over symmetrically to whatever the counterparty already gave us in
// CloseConfirm.
func (m *Machine) finalizeClose(ssc *SignedSubChannel, active Active) (SubChannel, *CloseFinalize, error) {
	m.deps.Monitor.RemoveTx(active.SplitTx.TxHash())
	m.deps.Monitor.AddTx(active.SplitTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(ssc.SubChannelID),
		TxType: chainmonitor.Revoked(ssc.UpdateIdx, active.OwnSplitAdaptorSig,
			ssc.IsOfferParty, chainmonitor.RevokedSplit),
	})

	closed := &ClosedSubChannel{
		SubChannelID:   ssc.SubChannelID,
		TemporaryID_:   ssc.TemporaryID_,
		CounterpartyID: ssc.Counterparty,
		GlueTx:         active.GlueTx,
	}
	if err := m.deps.Store.UpsertSubChannel(closed); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting closed sub-channel")
	}
	return closed, &CloseFinalize{
		SubChannelID:      ssc.SubChannelID,
		PriorRevokeSecret: ssc.OwnRevocationProducer.SecretAt(ssc.UpdateIdx),
	}, nil
}

// OnFinalizeClose handles the accepter-side ack, completing the handshake
// on the side that doesn't independently observe a CloseConfirm. It stores
// the accepter's revocation secret delivered alongside the ack, mirroring
// dlcchannel.OnFinalizeSettle one layer up.
func (m *Machine) OnFinalizeClose(msg *CloseFinalize) (SubChannel, error) {
	ssc, err := m.signedSubChannel(msg.SubChannelID, nil)
	if err != nil {
		return nil, err
	}
	if _, ok := ssc.Sub.(CloseAccepted); !ok {
		return nil, dlcerr.InvalidState("sub-channel %x is not CloseAccepted", msg.SubChannelID)
	}
	active := ssc.RollBack.(Active)

	if ssc.CounterPerUpdateSecrets == nil {
		ssc.CounterPerUpdateSecrets = make(map[uint64][32]byte)
	}
	ssc.CounterPerUpdateSecrets[ssc.UpdateIdx] = msg.PriorRevokeSecret

	closed, _, err := m.finalizeClose(ssc, active)
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// OnCloseReject handles a CloseReject: rolls CloseOffered back to Active
// symmetrically on both sides (spec §10: unspecified in source; this is
// the decided behavior — see DESIGN.md).
func (m *Machine) OnCloseReject(msg *CloseReject) (*SignedSubChannel, error) {
	ssc, err := m.signedSubChannel(msg.SubChannelID, nil)
	if err != nil {
		return nil, err
	}
	if _, ok := ssc.Sub.(CloseOffered); !ok {
		return nil, dlcerr.InvalidState("sub-channel %x has no pending close offer to reject", msg.SubChannelID)
	}
	ssc.Sub = ssc.RollBack
	ssc.RollBack = nil
	if err := m.deps.Store.UpsertSubChannel(ssc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting rolled-back sub-channel")
	}
	return ssc, nil
}

// RejectOffer declines a pending establish offer (spec §4.3 Reject, applied
// one layer up): an OfferedSubChannel is cancelled outright.
func (m *Machine) RejectOffer(msg *Reject) (SubChannel, error) {
	ch, err := m.deps.Store.GetSubChannel(msg.SubChannelID)
	if err != nil {
		ch, err = m.deps.Store.GetSubChannelByTemporaryID(msg.TemporaryID_)
	}
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up sub-channel")
	}

	osc, ok := ch.(*OfferedSubChannel)
	if !ok {
		return nil, dlcerr.InvalidState("sub-channel has no pending offer to reject")
	}
	if _, err := m.deps.Channel.RejectOffer(&dlcchannel.Reject{
		TemporaryID: dlcchannel.TemporaryID(osc.TemporaryID_),
	}); err != nil {
		return nil, err
	}
	cancelled := &CancelledSubChannel{TemporaryID_: osc.TemporaryID_, OfferedSubChannel: osc}
	if err := m.deps.Store.UpsertSubChannel(cancelled); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting cancelled sub-channel")
	}
	return cancelled, nil
}
