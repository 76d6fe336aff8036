package dlcchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// OfferCollaborativeClose proposes ending the channel cooperatively at the
// given payout split (spec §4.3 CollaborativeClose).
func (m *Machine) OfferCollaborativeClose(id ID, counterPayout int64, now uint64) (*SignedChannel, *CollaborativeCloseOfferMsg, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	switch sc.Sub.(type) {
	case Established, Settled:
	default:
		return nil, nil, dlcerr.InvalidState("channel %x is not Established or Settled", id)
	}

	closeTx, err := m.deps.TxBuilder.BuildSettleTx(txbuilder.SettleParams{
		SpentOutpoint: sc.FundingOutpoint,
		OwnPayout:     btcutil.Amount(counterPartyOwnTotal(sc) - counterPayout),
		CounterPayout: btcutil.Amount(counterPayout),
		CsvDelay:      0,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building collaborative close transaction")
	}

	sc.RollBack = sc.Sub
	sc.Sub = CollaborativeCloseOffered{
		CloseTx:       closeTx,
		CounterPayout: counterPayout,
		Timeout:       now + PeerTimeout,
		IsOffer:       true,
	}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting collaborative close offer")
	}
	return sc, &CollaborativeCloseOfferMsg{ChannelID: id, CounterPayout: counterPayout, Timestamp: now}, nil
}

// OnOfferCollaborativeClose handles an incoming close offer.
func (m *Machine) OnOfferCollaborativeClose(msg *CollaborativeCloseOfferMsg, cp *btcec.PublicKey) (*SignedChannel, error) {
	sc, err := m.signedChannel(msg.ChannelID, cp)
	if err != nil {
		return nil, err
	}
	switch sc.Sub.(type) {
	case Established, Settled:
	default:
		return nil, dlcerr.InvalidState("channel %x is not Established or Settled", msg.ChannelID)
	}

	closeTx, err := m.deps.TxBuilder.BuildSettleTx(txbuilder.SettleParams{
		SpentOutpoint: sc.FundingOutpoint,
		OwnPayout:     btcutil.Amount(msg.CounterPayout),
		CounterPayout: btcutil.Amount(counterPartyOwnTotal(sc) - msg.CounterPayout),
		CsvDelay:      0,
	})
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building collaborative close transaction")
	}

	sc.RollBack = sc.Sub
	sc.Sub = CollaborativeCloseOffered{CloseTx: closeTx, CounterPayout: msg.CounterPayout, IsOffer: false}
	if err := m.deps.Store.UpsertChannel(sc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting collaborative close received")
	}
	return sc, nil
}

// AcceptCollaborativeClose signs the jointly-agreed close transaction and
// replies with our signature so the offerer can assemble and broadcast it.
func (m *Machine) AcceptCollaborativeClose(id ID) (*SignedChannel, *CollaborativeCloseAcceptMsg, error) {
	sc, err := m.signedChannel(id, nil)
	if err != nil {
		return nil, nil, err
	}
	offered, ok := sc.Sub.(CollaborativeCloseOffered)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not CollaborativeCloseOffered", id)
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(m.ourFundKey(sc))
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching fund key")
	}
	ownSig := signWithKey(priv, sigHashOf(offered.CloseTx))

	m.deps.Monitor.AddTx(offered.CloseTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(sc.ChannelID),
		TxType:    chainmonitor.CollaborativeClose(),
	})

	closed := &CollaborativelyClosedChannel{
		ChannelID:      id,
		TemporaryID_:   sc.TemporaryChannelID,
		CounterpartyID: sc.Counterparty,
		CloseTx:        offered.CloseTx,
	}
	if err := m.deps.Store.UpsertChannel(closed); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting collaboratively closed channel")
	}
	return sc, &CollaborativeCloseAcceptMsg{ChannelID: id, Signature: ownSig}, nil
}

// OnAcceptCollaborativeClose handles the accepter's signature on the
// offerer's side: it broadcasts the fully-signed close transaction and
// transitions to the terminal CollaborativelyClosedChannel state.
func (m *Machine) OnAcceptCollaborativeClose(msg *CollaborativeCloseAcceptMsg) (*SignedChannel, error) {
	sc, err := m.signedChannel(msg.ChannelID, nil)
	if err != nil {
		return nil, err
	}
	offered, ok := sc.Sub.(CollaborativeCloseOffered)
	if !ok || !offered.IsOffer {
		return nil, dlcerr.InvalidState("channel %x is not CollaborativeCloseOffered(is_offer)", msg.ChannelID)
	}

	counterFundKey := sc.AccepterFundPubKey
	if !sc.IsOfferParty {
		counterFundKey = sc.OffererFundPubKey
	}
	if !verifySignature(msg.Signature, sigHashOf(offered.CloseTx), counterFundKey) {
		return nil, dlcerr.InvalidParameters("invalid collaborative close signature")
	}

	if err := m.deps.Chain.SendTransaction(offered.CloseTx); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindBlockchain, err, "broadcasting collaborative close transaction")
	}
	m.deps.Monitor.AddTx(offered.CloseTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(sc.ChannelID),
		TxType:    chainmonitor.CollaborativeClose(),
	})

	closed := &CollaborativelyClosedChannel{
		ChannelID:      msg.ChannelID,
		TemporaryID_:   sc.TemporaryChannelID,
		CounterpartyID: sc.Counterparty,
		CloseTx:        offered.CloseTx,
	}
	if err := m.deps.Store.UpsertChannel(closed); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting collaboratively closed channel")
	}
	return sc, nil
}

// RejectOffer declines whatever offer is currently pending on the channel
// (spec §4.3 Reject): an Offered channel is cancelled outright and its
// nested contract offer rejected; a RenewOffered channel rolls back to its
// prior sub-state and rejects only the pending renewal's contract offer.
func (m *Machine) RejectOffer(msg *Reject) (Channel, error) {
	ch, err := m.deps.Store.GetChannel(msg.ChannelID)
	if err != nil {
		ch, err = m.deps.Store.GetChannelByTemporaryID(msg.TemporaryID)
	}
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up channel")
	}

	switch c := ch.(type) {
	case *OfferedChannel:
		if _, err := m.deps.Contract.RejectOffer(c.OfferedContractInput.TemporaryContractID); err != nil {
			return nil, err
		}
		cancelled := &CancelledChannel{TemporaryID_: c.TemporaryChannelID, OfferedChannel: c}
		if err := m.deps.Store.UpsertChannel(cancelled); err != nil {
			return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting cancelled channel")
		}
		return cancelled, nil

	case *SignedChannel:
		offered, ok := c.Sub.(RenewOffered)
		if !ok {
			return nil, dlcerr.InvalidState("channel %x has no pending renew offer to reject", c.ChannelID)
		}
		if _, err := m.deps.Contract.RejectOffer(offered.OfferedContract.TemporaryContractID); err != nil {
			return nil, err
		}
		c.Sub = c.RollBack
		c.RollBack = nil
		if err := m.deps.Store.UpsertChannel(c); err != nil {
			return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting rolled-back channel")
		}
		return c, nil

	default:
		return nil, dlcerr.InvalidState("channel %x has no pending offer to reject", msg.ChannelID)
	}
}

// counterPartyOwnTotal returns the channel's total collateral currently in
// play, used to derive "our" payout as the complement of a proposed
// counterparty payout.
func counterPartyOwnTotal(sc *SignedChannel) int64 {
	switch s := sc.Sub.(type) {
	case Established:
		return s.TotalCollateral
	case Settled:
		return s.OwnPayout + s.CounterPayout
	default:
		return 0
	}
}
