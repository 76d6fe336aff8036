package subchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/adaptor"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/dlcchannel"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/feeest"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// ProcessWatchedTxs dispatches every chain-monitor entry belonging to this
// overlay that has newly confirmed (spec §4.4). It is driven by the same
// Manager periodic_check pass as dlcchannel.Machine.ProcessWatchedTxs, one
// layer up.
func (m *Machine) ProcessWatchedTxs() error {
	for _, c := range m.deps.Monitor.ConfirmedTxs() {
		if err := m.dispatchConfirmed(c); err != nil {
			log.Errorf("process_watched_txs: sub-channel %x tag %v: %v",
				c.ChannelInfo.ChannelID, c.ChannelInfo.TxType.Tag, err)
		}
	}
	return nil
}

func (m *Machine) dispatchConfirmed(c chainmonitor.Confirmed) error {
	switch c.ChannelInfo.TxType.Tag {
	case chainmonitor.TagSplitTx:
		return m.onSplitTxConfirmed(c)
	case chainmonitor.TagRevoked:
		return m.onRevokedConfirmed(c)
	default:
		return nil
	}
}

func (m *Machine) signedSubChannelByMonitorID(id chainmonitor.ChannelID) (*SignedSubChannel, error) {
	sc, err := m.deps.Store.GetSubChannel(ID(id))
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up sub-channel")
	}
	ssc, ok := sc.(*SignedSubChannel)
	if !ok {
		return nil, dlcerr.InvalidState("sub-channel %x is not Signed", id)
	}
	return ssc, nil
}

// onSplitTxConfirmed catches a split transaction landing on chain while the
// sub-channel was still Active: this isn't itself cheating (either party
// may need to collapse on-chain, e.g. if the counterparty goes offline),
// but it does mean the overlay's off-chain bookkeeping is done and control
// passes to the nested DLC channel's own reactor from here on.
func (m *Machine) onSplitTxConfirmed(c chainmonitor.Confirmed) error {
	ssc, err := m.signedSubChannelByMonitorID(c.ChannelInfo.ChannelID)
	if err != nil {
		return err
	}
	active, ok := ssc.Sub.(Active)
	if !ok {
		return nil
	}

	ssc.Sub = Closing{SplitTx: c.Tx, NestedChannelID: active.NestedChannelID}
	return m.deps.Store.UpsertSubChannel(ssc)
}

// CheckClosingSubChannels finalizes a Closing sub-channel once its nested
// DLC channel has itself reached a terminal state, mirroring dlcchannel's
// own Closing→terminal transition one layer up.
func (m *Machine) CheckClosingSubChannels() error {
	channels, err := m.deps.Store.ListSubChannelsByState(StateSigned)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "listing signed sub-channels")
	}
	for _, ch := range channels {
		ssc, ok := ch.(*SignedSubChannel)
		if !ok {
			continue
		}
		closing, ok := ssc.Sub.(Closing)
		if !ok {
			continue
		}
		if err := m.tryFinalizeClosing(ssc, closing); err != nil {
			log.Errorf("check_closing_sub_channels: sub-channel %x: %v", ssc.SubChannelID, err)
		}
	}
	return nil
}

func (m *Machine) tryFinalizeClosing(ssc *SignedSubChannel, closing Closing) error {
	nested, err := m.deps.Channel.GetChannel(closing.NestedChannelID)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "fetching nested channel")
	}
	switch nested.State() {
	case dlcchannel.StateClosed, dlcchannel.StateCounterClosed,
		dlcchannel.StateClosedPunished, dlcchannel.StateCollaborativelyClosed,
		dlcchannel.StateSettledClosed:
	default:
		// Nested channel hasn't reached a terminal state yet; retry
		// next cycle.
		return nil
	}

	m.deps.Monitor.CleanupChannel(chainmonitor.ChannelID(ssc.SubChannelID))
	counterClosed := &CounterClosedSubChannel{
		SubChannelID:   ssc.SubChannelID,
		TemporaryID_:   ssc.TemporaryID_,
		CounterpartyID: ssc.Counterparty,
		SplitTx:        closing.SplitTx,
	}
	return m.deps.Store.UpsertSubChannel(counterClosed)
}

// onRevokedConfirmed handles a counterparty broadcasting a split
// transaction that was already superseded by a completed off-chain close
// (spec §4.4, RevokedTxType::Split): the same publish-secret recovery and
// punish-transaction flow as dlcchannel.onRevokedConfirmed, one layer up.
func (m *Machine) onRevokedConfirmed(c chainmonitor.Confirmed) error {
	ssc, err := m.signedSubChannelByMonitorIDAnyState(c.ChannelInfo.ChannelID)
	if err != nil {
		return err
	}
	tt := c.ChannelInfo.TxType

	if len(c.Tx.TxIn) == 0 {
		return dlcerr.InvalidState("revoked split transaction has no inputs")
	}
	widx := publishWitnessIndex(ssc.OffererSplitPubKey, ssc.AccepterSplitPubKey)
	witness := c.Tx.TxIn[0].Witness
	if widx >= len(witness) {
		return dlcerr.InvalidState("revoked split transaction witness missing publish signature")
	}
	plainSig, err := ecdsa.ParseDERSignature(witness[widx])
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindCrypto, err, "parsing revoked split transaction signature")
	}

	adaptorSig := deserializeAdaptorSig(tt.OwnAdaptorSignature)
	publishSecret, err := adaptor.RecoverSecret(adaptorSig, plainSig, m.counterPublishPoint(ssc))
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindCrypto, err, "recovering counterparty publish secret")
	}

	revokeSecret, ok := ssc.CounterPerUpdateSecrets[tt.UpdateIdx]
	if !ok {
		return dlcerr.InvalidState("no stored revocation secret for split update %d", tt.UpdateIdx)
	}
	revocationPriv, _ := btcec.PrivKeyFromBytes(revokeSecret[:])

	sweepAddr, err := m.deps.Wallet.GetNewAddress()
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindWallet, err, "fetching punish sweep address")
	}
	feeRate, err := feeest.SatPerVByte(m.deps.FeeEst, feeest.HighPriority)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindBlockchain, err, "estimating punish transaction fee")
	}

	punishTx, err := m.deps.TxBuilder.BuildPunishTx(txbuilder.PunishParams{
		RevokedTx:          c.Tx,
		RevocationKey:      revocationPriv,
		PublishKey:         scalarToPriv(publishSecret),
		SweepAddr:          sweepAddr,
		FeeRateSatPerVByte: feeRate,
	})
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindCrypto, err, "building punish transaction")
	}
	if err := m.deps.Chain.SendTransaction(punishTx); err != nil {
		return dlcerr.Wrap(dlcerr.KindBlockchain, err, "broadcasting punish transaction")
	}

	m.deps.Monitor.CleanupChannel(c.ChannelInfo.ChannelID)
	punished := &ClosedPunishedSubChannel{
		SubChannelID:   ssc.SubChannelID,
		TemporaryID_:   ssc.TemporaryID_,
		CounterpartyID: ssc.Counterparty,
		PunishTxid:     wire.OutPoint{Hash: punishTx.TxHash(), Index: 0},
	}
	return m.deps.Store.UpsertSubChannel(punished)
}

// signedSubChannelByMonitorIDAnyState looks up a sub-channel for revoked-tx
// handling, which can legitimately fire after the sub-channel has already
// moved on to ClosedSubChannel (a post-close broadcast is exactly the
// cheating case this handler exists for) — so it recovers the base fields
// needed for punishment (keys, base points, counterparty) from whichever
// concrete type is stored, rather than requiring StateSigned.
func (m *Machine) signedSubChannelByMonitorIDAnyState(id chainmonitor.ChannelID) (*SignedSubChannel, error) {
	ch, err := m.deps.Store.GetSubChannel(ID(id))
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up sub-channel")
	}
	if ssc, ok := ch.(*SignedSubChannel); ok {
		return ssc, nil
	}
	return nil, dlcerr.InvalidState("sub-channel %x has no recoverable punish state (already closed)", id)
}

// CheckTimedOutOffers rolls back any SignedSubChannel close-offer step
// whose Timeout has passed without a reply (spec §4.4, same shape as
// dlcchannel.CheckTimedOutOffers one layer up).
func (m *Machine) CheckTimedOutOffers() error {
	now := uint64(m.deps.Clock.Now().Unix())

	signed, err := m.deps.Store.ListSubChannelsByState(StateSigned)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "listing signed sub-channels")
	}
	for _, ch := range signed {
		ssc, ok := ch.(*SignedSubChannel)
		if !ok {
			continue
		}
		if offered, ok := ssc.Sub.(CloseOffered); ok && offered.Timeout != 0 && now >= offered.Timeout {
			ssc.Sub = ssc.RollBack
			ssc.RollBack = nil
			if err := m.deps.Store.UpsertSubChannel(ssc); err != nil {
				log.Errorf("check_for_timed_out_sub_channels: sub-channel %x: %v", ssc.SubChannelID, err)
			}
		}
	}
	return nil
}
