package dlcchannel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/adaptor"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/contract"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/feeest"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// ProcessWatchedTxs dispatches every chain-monitor entry that has newly
// confirmed to the channel transition it drives (spec §4.3
// process_watched_txs). A single entry failing to process is logged and
// skipped rather than aborting the batch, so one stuck channel never blocks
// the rest of the reactor pass.
func (m *Machine) ProcessWatchedTxs() error {
	for _, c := range m.deps.Monitor.ConfirmedTxs() {
		if err := m.dispatchConfirmed(c); err != nil {
			log.Errorf("process_watched_txs: channel %x tag %v: %v",
				c.ChannelInfo.ChannelID, c.ChannelInfo.TxType.Tag, err)
		}
	}
	return nil
}

func (m *Machine) dispatchConfirmed(c chainmonitor.Confirmed) error {
	switch c.ChannelInfo.TxType.Tag {
	case chainmonitor.TagBufferTx:
		return m.onBufferTxConfirmed(c)
	case chainmonitor.TagSettleTx, chainmonitor.TagSettleTx2:
		return m.onSettleTxConfirmed(c)
	case chainmonitor.TagCollaborativeClose:
		return m.onCollaborativeCloseConfirmed(c)
	case chainmonitor.TagCet:
		return m.onCetConfirmed(c)
	case chainmonitor.TagRevoked:
		return m.onRevokedConfirmed(c)
	default:
		return nil
	}
}

func (m *Machine) signedChannelByMonitorID(id chainmonitor.ChannelID) (*SignedChannel, error) {
	return m.signedChannel(ID(id), nil)
}

// onBufferTxConfirmed moves an Established channel into Closing once its
// buffer transaction is seen on chain: from here on the channel's fate is
// tied to whichever CET (ours or the counterparty's) ends up spending it.
func (m *Machine) onBufferTxConfirmed(c chainmonitor.Confirmed) error {
	sc, err := m.signedChannelByMonitorID(c.ChannelInfo.ChannelID)
	if err != nil {
		return err
	}
	established, ok := sc.Sub.(Established)
	if !ok {
		// Already advanced past Established, or a re-confirmation of an
		// already-processed entry; nothing to do.
		return nil
	}

	sc.Sub = Closing{
		BufferTx:    c.Tx,
		ContractID:  established.SignedContractID,
		IsInitiator: established.IsInitiator,
	}
	return m.deps.Store.UpsertChannel(sc)
}

// onCetConfirmed finalizes a Closing channel once the nested contract's CET
// has matured, attributing the close to whichever party's CET actually
// landed (spec §4.3, try_finalize_closing_established_channel).
func (m *Machine) onCetConfirmed(c chainmonitor.Confirmed) error {
	sc, err := m.signedChannelByMonitorID(c.ChannelInfo.ChannelID)
	if err != nil {
		return err
	}
	closing, ok := sc.Sub.(Closing)
	if !ok {
		return nil
	}

	confs, err := m.deps.Chain.GetTransactionConfirmations(c.Tx.TxHash())
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindBlockchain, err, "checking cet confirmations")
	}
	if confs < m.deps.NbConfirmations {
		return nil
	}

	ct, err := m.deps.Contract.GetContract(closing.ContractID)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "fetching nested contract")
	}
	closed, ok := ct.(*contract.ClosedContract)
	if !ok {
		// The nested ContractStateMachine hasn't finished its own
		// check_preclosed_contracts pass yet; retry next cycle.
		return nil
	}

	m.deps.Monitor.CleanupChannel(c.ChannelInfo.ChannelID)
	if closed.SignedCet.TxHash() == c.Tx.TxHash() {
		ours := &ClosedChannel{
			ChannelID: sc.ChannelID, TemporaryID_: sc.TemporaryChannelID,
			CounterpartyID: sc.Counterparty, ContractID: closing.ContractID,
		}
		return m.deps.Store.UpsertChannel(ours)
	}
	theirs := &CounterClosedChannel{
		ChannelID: sc.ChannelID, TemporaryID_: sc.TemporaryChannelID,
		CounterpartyID: sc.Counterparty, ContractID: closing.ContractID,
	}
	return m.deps.Store.UpsertChannel(theirs)
}

// onSettleTxConfirmed moves a Settled channel into SettledClosing once its
// settle transaction is seen on chain, unilaterally rather than via
// CollaborativeClose.
func (m *Machine) onSettleTxConfirmed(c chainmonitor.Confirmed) error {
	sc, err := m.signedChannelByMonitorID(c.ChannelInfo.ChannelID)
	if err != nil {
		return err
	}
	settled, ok := sc.Sub.(Settled)
	if !ok {
		return nil
	}

	var isOffer bool
	if c.ChannelInfo.TxType.Tag == chainmonitor.TagSettleTx2 {
		isOffer = c.ChannelInfo.TxType.IsOffer
	} else {
		var found bool
		isOffer, found = m.deps.Monitor.DidWeOfferLastChannelSettlement(c.ChannelInfo.ChannelID)
		if !found {
			return dlcerr.InvalidState("channel %x has no revoked buffer entry to derive is_offer from", sc.ChannelID)
		}
	}
	sc.Sub = SettledClosing{
		SettleTx:    c.Tx,
		IsOffer:     isOffer,
		IsInitiator: isOffer == sc.IsOfferParty,
		OwnPayout:   settled.OwnPayout,
	}
	return m.deps.Store.UpsertChannel(sc)
}

// CheckSettledClosingChannels drives the two-step settled-closing finish
// line (spec §4.3 try_finalize_settled_closing_channel,
// try_confirm_claim_tx): once the settle transaction has matured past its
// CSV delay, build and broadcast a claim transaction for our own output; once
// that claim transaction itself reaches NB_CONFIRMATIONS, the channel is
// done.
func (m *Machine) CheckSettledClosingChannels() error {
	channels, err := m.deps.Store.ListChannelsByState(StateSigned)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "listing signed channels")
	}
	for _, ch := range channels {
		sc, ok := ch.(*SignedChannel)
		if !ok {
			continue
		}
		closing, ok := sc.Sub.(SettledClosing)
		if !ok {
			continue
		}
		if err := m.tryFinalizeSettledClosing(sc, closing); err != nil {
			log.Errorf("check_settled_closing_channels: channel %x: %v", sc.ChannelID, err)
		}
	}
	return nil
}

func (m *Machine) tryFinalizeSettledClosing(sc *SignedChannel, closing SettledClosing) error {
	if closing.ClaimTx == nil {
		confs, err := m.deps.Chain.GetTransactionConfirmations(closing.SettleTx.TxHash())
		if err != nil {
			return dlcerr.Wrap(dlcerr.KindBlockchain, err, "checking settle tx confirmations")
		}
		if confs < uint32(sc.CsvDelay) {
			return nil
		}

		addr, err := m.deps.Wallet.GetNewAddress()
		if err != nil {
			return dlcerr.Wrap(dlcerr.KindWallet, err, "fetching claim address")
		}
		feeRate, err := feeest.SatPerVByte(m.deps.FeeEst, feeest.Background)
		if err != nil {
			return dlcerr.Wrap(dlcerr.KindBlockchain, err, "estimating claim transaction fee")
		}
		claimTx, err := m.deps.TxBuilder.BuildClaimTx(txbuilder.ClaimParams{
			SpentOutpoint:      wire.OutPoint{Hash: closing.SettleTx.TxHash(), Index: 0},
			Amount:             amt(closing.OwnPayout),
			CsvDelay:           sc.CsvDelay,
			DestAddr:           addr,
			FeeRateSatPerVByte: feeRate,
		})
		if err != nil {
			return dlcerr.Wrap(dlcerr.KindCrypto, err, "building claim transaction")
		}
		if err := m.deps.Chain.SendTransaction(claimTx); err != nil {
			return dlcerr.Wrap(dlcerr.KindBlockchain, err, "broadcasting claim transaction")
		}

		closing.ClaimTx = claimTx
		sc.Sub = closing
		return m.deps.Store.UpsertChannel(sc)
	}

	confs, err := m.deps.Chain.GetTransactionConfirmations(closing.ClaimTx.TxHash())
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindBlockchain, err, "checking claim tx confirmations")
	}
	if confs < m.deps.NbConfirmations {
		return nil
	}

	m.deps.Monitor.CleanupChannel(chainmonitor.ChannelID(sc.ChannelID))
	done := &SettledClosedChannel{
		ChannelID: sc.ChannelID, TemporaryID_: sc.TemporaryChannelID,
		CounterpartyID: sc.Counterparty, SettleTx: closing.SettleTx, ClaimTx: closing.ClaimTx,
	}
	return m.deps.Store.UpsertChannel(done)
}

// onCollaborativeCloseConfirmed catches the case where a collaborative
// close transaction lands on chain before this side ever processed the
// counterparty's CollaborativeCloseAcceptMsg (e.g. after a restart).
func (m *Machine) onCollaborativeCloseConfirmed(c chainmonitor.Confirmed) error {
	sc, err := m.signedChannelByMonitorID(c.ChannelInfo.ChannelID)
	if err != nil {
		return err
	}
	offered, ok := sc.Sub.(CollaborativeCloseOffered)
	if !ok {
		return nil
	}

	m.deps.Monitor.CleanupChannel(c.ChannelInfo.ChannelID)
	closed := &CollaborativelyClosedChannel{
		ChannelID: sc.ChannelID, TemporaryID_: sc.TemporaryChannelID,
		CounterpartyID: sc.Counterparty, CloseTx: offered.CloseTx,
	}
	return m.deps.Store.UpsertChannel(closed)
}

// onRevokedConfirmed handles a counterparty broadcasting a superseded
// buffer, settle, or split transaction: it recovers their publish secret
// from the plain signature now exposed in the transaction's witness,
// combines it with the revocation secret they already revealed when that
// update was superseded, and sweeps the transaction via a punish
// transaction (spec §4.3 Revoked handler).
func (m *Machine) onRevokedConfirmed(c chainmonitor.Confirmed) error {
	sc, err := m.signedChannelByMonitorID(c.ChannelInfo.ChannelID)
	if err != nil {
		return err
	}
	tt := c.ChannelInfo.TxType

	if len(c.Tx.TxIn) == 0 {
		return dlcerr.InvalidState("revoked transaction has no inputs")
	}
	widx := publishWitnessIndex(sc.OffererFundPubKey, sc.AccepterFundPubKey)
	witness := c.Tx.TxIn[0].Witness
	if widx >= len(witness) {
		return dlcerr.InvalidState("revoked transaction witness missing publish signature")
	}
	plainSig, err := ecdsa.ParseDERSignature(witness[widx])
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindCrypto, err, "parsing revoked transaction signature")
	}

	adaptorSig := deserializeAdaptorSig(tt.OwnAdaptorSignature)
	publishSecret, err := adaptor.RecoverSecret(adaptorSig, plainSig, m.counterPublishPoint(sc))
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindCrypto, err, "recovering counterparty publish secret")
	}

	revokeSecret, ok := sc.CounterPerUpdateSecrets[tt.UpdateIdx]
	if !ok {
		return dlcerr.InvalidState("no stored revocation secret for update %d", tt.UpdateIdx)
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
	punished := &ClosedPunishedChannel{
		ChannelID: sc.ChannelID, TemporaryID_: sc.TemporaryChannelID,
		CounterpartyID: sc.Counterparty,
		PunishTxid:     wire.OutPoint{Hash: punishTx.TxHash(), Index: 0},
	}
	return m.deps.Store.UpsertChannel(punished)
}

// CheckTimedOutOffers rolls back any SignedChannel sub-protocol step that we
// offered and whose Timeout has passed without a reply (spec §4.3
// check_for_timed_out_channels). The pre-funding Establish handshake states
// (OfferedChannel/AcceptedChannel) are not checked here or anywhere else.
func (m *Machine) CheckTimedOutOffers() error {
	now := uint64(m.deps.Clock.Now().Unix())

	signed, err := m.deps.Store.ListChannelsByState(StateSigned)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "listing signed channels")
	}
	for _, ch := range signed {
		sc, ok := ch.(*SignedChannel)
		if !ok {
			continue
		}
		if timedOut(sc.Sub, now) {
			sc.Sub = sc.RollBack
			sc.RollBack = nil
			if err := m.deps.Store.UpsertChannel(sc); err != nil {
				log.Errorf("check_for_timed_out_channels: channel %x: %v", sc.ChannelID, err)
			}
		}
	}
	return nil
}

func timedOut(sub SignedChannelState, now uint64) bool {
	switch s := sub.(type) {
	case SettledOffered:
		return s.IsOffer && now >= s.Timeout
	case RenewOffered:
		return s.IsOffer && now >= s.Timeout
	case CollaborativeCloseOffered:
		return s.IsOffer && now >= s.Timeout
	default:
		return false
	}
}
