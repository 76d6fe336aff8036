package dlcchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/txbuilder"
)

func bufferOutpoint(bufferTx *wire.MsgTx) wire.OutPoint {
	return wire.OutPoint{Hash: bufferTx.TxHash(), Index: 0}
}

// signedChannel fetches the channel by id and asserts it is Signed,
// returning its concrete *SignedChannel for in-place mutation.
func (m *Machine) signedChannel(id ID, cp *btcec.PublicKey) (*SignedChannel, error) {
	ch, err := m.deps.Store.GetChannel(id)
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up channel")
	}
	sc, ok := ch.(*SignedChannel)
	if !ok {
		return nil, dlcerr.InvalidState("channel %x is not Signed", id)
	}
	if cp != nil && sc.Counterparty != nil && !sc.Counterparty.IsEqual(cp) {
		return nil, dlcerr.InvalidParameters("message sender does not match channel counterparty")
	}
	return sc, nil
}

// OfferSettle replaces the currently buffered contract with a
// settle-transaction fixing final payouts (spec §4.3 Settle,
// SettleOffer step). A concurrent incoming offer while we are already
// SettledOffered is resolved by replying Reject to the incoming one.
func (m *Machine) OfferSettle(id ID, counterPayout int64, now uint64) (*SignedChannel, *SettleOffer, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := sc.Sub.(Established); !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not Established", id)
	}

	sc.RollBack = sc.Sub
	sc.Sub = SettledOffered{IsOffer: true, CounterPayout: counterPayout, Timeout: now + PeerTimeout}

	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting settle offer")
	}
	return sc, &SettleOffer{ChannelID: id, CounterPayout: counterPayout, Timestamp: now}, nil
}

// OnOfferSettle handles an incoming SettleOffer. Per spec §4.3, a
// concurrent offer (we are already SettledOffered) is rejected rather than
// accepted.
func (m *Machine) OnOfferSettle(msg *SettleOffer, cp *btcec.PublicKey) (*SignedChannel, *Reject, error) {
	sc, err := m.signedChannel(msg.ChannelID, cp)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := sc.Sub.(SettledOffered); ok {
		return sc, &Reject{ChannelID: msg.ChannelID, Timestamp: msg.Timestamp}, nil
	}
	if _, ok := sc.Sub.(Established); !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not Established", msg.ChannelID)
	}

	sc.RollBack = sc.Sub
	sc.Sub = SettledReceived{CounterPayout: msg.CounterPayout}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting settle received")
	}
	return sc, nil, nil
}

// AcceptSettle produces our own settle adaptor signature and moves the
// channel to SettledAccepted (spec §4.3 Settle, SettleAccept step).
func (m *Machine) AcceptSettle(id ID, ownPayout int64) (*SignedChannel, *SettleAccept, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	recv, ok := sc.Sub.(SettledReceived)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not SettledReceived", id)
	}

	established, ok := sc.RollBack.(Established)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x has no Established roll-back state", id)
	}

	settleTx, err := m.deps.TxBuilder.BuildSettleTx(txbuilder.SettleParams{
		SpentOutpoint: bufferOutpoint(established.BufferTx),
		OwnPayout:     amt(ownPayout),
		CounterPayout: amt(recv.CounterPayout),
		CsvDelay:      sc.CsvDelay,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building settle transaction")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(m.ourFundKey(sc))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching fund key")
	}
	ownSig, err := encryptUnderPublishPoint(priv, m.counterPublishPoint(sc), settleTx)
	if err != nil {
		return nil, nil, err
	}

	sc.Sub = SettledAccepted{
		SettleTx:            settleTx,
		OwnSettleAdaptorSig: ownSig,
		OwnPayout:           ownPayout,
		CounterPayout:       recv.CounterPayout,
		IsOffer:             false,
	}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting settle accepted")
	}
	return sc, &SettleAccept{ChannelID: id, SettleAdaptorSig: ownSig}, nil
}

// ConfirmSettle handles the offerer's receipt of SettleAccept: it produces
// its own settle adaptor signature, and since the prior buffer transaction
// is now revocable it registers it as Revoked under the channel's next
// update index, UpdateIdx-1. That is the index the channel moves to and the
// one the counterparty's revocation secret is stored under; it is not the
// revoked buffer transaction's own index.
func (m *Machine) ConfirmSettle(id ID, msg *SettleAccept) (*SignedChannel, *SettleConfirm, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	offer, ok := sc.Sub.(SettledOffered)
	if !ok || !offer.IsOffer {
		return nil, nil, dlcerr.InvalidState("channel %x is not SettledOffered(is_offer)", id)
	}
	established, ok := sc.RollBack.(Established)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x has no Established roll-back state", id)
	}

	settleTx, err := m.deps.TxBuilder.BuildSettleTx(txbuilder.SettleParams{
		SpentOutpoint: bufferOutpoint(established.BufferTx),
		OwnPayout:     amt(int64(established.TotalCollateral) - offer.CounterPayout),
		CounterPayout: amt(offer.CounterPayout),
		CsvDelay:      sc.CsvDelay,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building settle transaction")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(m.ourFundKey(sc))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching fund key")
	}
	ownSig, err := encryptUnderPublishPoint(priv, m.counterPublishPoint(sc), settleTx)
	if err != nil {
		return nil, nil, err
	}

	nextIdx := sc.UpdateIdx - 1
	m.deps.Monitor.AddTx(established.BufferTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(sc.ChannelID),
		TxType: chainmonitor.Revoked(
			nextIdx, established.OwnBufferAdaptorSig, true, chainmonitor.RevokedBuffer,
		),
	})

	sc.UpdateIdx = nextIdx
	sc.Sub = SettledConfirmed{
		SettleTx:            settleTx,
		OwnSettleAdaptorSig: ownSig,
		OwnPayout:           int64(established.TotalCollateral) - offer.CounterPayout,
		CounterPayout:       offer.CounterPayout,
		IsOffer:             true,
	}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting settle confirmed")
	}
	return sc, &SettleConfirm{
		ChannelID:         id,
		SettleAdaptorSig:  ownSig,
		PriorRevokeSecret: sc.OwnRevocationProducer.SecretAt(nextIdx),
	}, nil
}

// FinalizeSettle handles the accepter's receipt of SettleConfirm: it in
// turn revokes its own prior buffer transaction and the channel settles
// into the Settled sub-state (spec §4.3 SettleFinalize).
func (m *Machine) FinalizeSettle(msg *SettleConfirm) (*SignedChannel, *SettleFinalize, error) {
	sc, err := m.signedChannel(msg.ChannelID, nil)
	if err != nil {
		return nil, nil, err
	}
	accepted, ok := sc.Sub.(SettledAccepted)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not SettledAccepted", msg.ChannelID)
	}
	established, ok := sc.RollBack.(Established)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x has no Established roll-back state", msg.ChannelID)
	}

	nextIdx := sc.UpdateIdx - 1
	m.deps.Monitor.AddTx(established.BufferTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(sc.ChannelID),
		TxType: chainmonitor.Revoked(
			nextIdx, established.OwnBufferAdaptorSig, false, chainmonitor.RevokedBuffer,
		),
	})
	if sc.CounterPerUpdateSecrets == nil {
		sc.CounterPerUpdateSecrets = make(map[uint64][32]byte)
	}
	sc.CounterPerUpdateSecrets[nextIdx] = msg.PriorRevokeSecret

	sc.UpdateIdx = nextIdx
	sc.Sub = Settled{
		SettleTx:            accepted.SettleTx,
		OwnSettleAdaptorSig: accepted.OwnSettleAdaptorSig,
		OwnPayout:           accepted.OwnPayout,
		CounterPayout:       accepted.CounterPayout,
	}
	sc.RollBack = nil
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting settled channel")
	}
	return sc, &SettleFinalize{
		ChannelID:         msg.ChannelID,
		PriorRevokeSecret: sc.OwnRevocationProducer.SecretAt(nextIdx),
	}, nil
}

// OnFinalizeSettle completes the offerer's view of the hand-shake once it
// receives SettleFinalize, moving it from SettledConfirmed to Settled.
func (m *Machine) OnFinalizeSettle(msg *SettleFinalize) (*SignedChannel, error) {
	sc, err := m.signedChannel(msg.ChannelID, nil)
	if err != nil {
		return nil, err
	}
	confirmed, ok := sc.Sub.(SettledConfirmed)
	if !ok {
		return nil, dlcerr.InvalidState("channel %x is not SettledConfirmed", msg.ChannelID)
	}

	if sc.CounterPerUpdateSecrets == nil {
		sc.CounterPerUpdateSecrets = make(map[uint64][32]byte)
	}
	sc.CounterPerUpdateSecrets[sc.UpdateIdx] = msg.PriorRevokeSecret

	sc.Sub = Settled{
		SettleTx:            confirmed.SettleTx,
		OwnSettleAdaptorSig: confirmed.OwnSettleAdaptorSig,
		OwnPayout:           confirmed.OwnPayout,
		CounterPayout:       confirmed.CounterPayout,
	}
	sc.RollBack = nil
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting settled channel")
	}
	return sc, nil
}

func (m *Machine) ourFundKey(sc *SignedChannel) *btcec.PublicKey {
	if sc.IsOfferParty {
		return sc.OffererFundPubKey
	}
	return sc.AccepterFundPubKey
}

func (m *Machine) counterPublishPoint(sc *SignedChannel) *btcec.PublicKey {
	if sc.IsOfferParty {
		return sc.AccepterBasePoints.Publish
	}
	return sc.OffererBasePoints.Publish
}

func amt(v int64) btcutil.Amount { return btcutil.Amount(v) }
