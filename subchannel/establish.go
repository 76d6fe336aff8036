package subchannel

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/dlcchannel"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// OfferSubChannel opens a new sub-channel, embedding a DLC channel offer
// for the nested overlay (spec §4.4 establish).
func (m *Machine) OfferSubChannel(input CommonSubChannelFields, cp *btcec.PublicKey) (*OfferedSubChannel, *Offer, error) {
	if input.TemporaryID_ == (TemporaryID{}) {
		if _, err := rand.Read(input.TemporaryID_[:]); err != nil {
			return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "generating temporary sub-channel id")
		}
	}
	input.Counterparty = cp
	input.IsOfferParty = true

	_, channelOfferMsg, err := m.deps.Channel.OfferEstablish(input.OfferedChannelInput, cp)
	if err != nil {
		return nil, nil, err
	}

	osc := &OfferedSubChannel{CommonSubChannelFields: input}
	if err := m.deps.Store.UpsertSubChannel(osc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting offered sub-channel")
	}

	msg := &Offer{
		TemporaryID_:       input.TemporaryID_,
		OffererBasePoints:  input.OffererBasePoints,
		OffererSplitPubKey: input.OffererSplitPubKey,
		LNFundingOutpoint:  input.LNFundingOutpoint,
		DlcAmount:          input.DlcAmount,
		LnAmount:           input.LnAmount,
		ChannelOffer:       *channelOfferMsg,
	}
	return osc, msg, nil
}

// OnOfferSubChannel handles an incoming sub-channel offer (spec §4.4).
func (m *Machine) OnOfferSubChannel(msg *Offer, cp *btcec.PublicKey, now uint64) (*OfferedSubChannel, error) {
	if existing, err := m.deps.Store.GetSubChannelByTemporaryID(msg.TemporaryID_); err == nil && existing != nil {
		return nil, dlcerr.InvalidParameters("sub-channel with identical temporary id already exists")
	}

	if _, err := m.deps.Channel.OnOfferEstablish(&msg.ChannelOffer, cp, now); err != nil {
		return nil, err
	}

	osc := &OfferedSubChannel{CommonSubChannelFields: CommonSubChannelFields{
		TemporaryID_:       msg.TemporaryID_,
		Counterparty:       cp,
		LNFundingOutpoint:  msg.LNFundingOutpoint,
		OffererBasePoints:  msg.OffererBasePoints,
		OffererSplitPubKey: msg.OffererSplitPubKey,
		DlcAmount:          msg.DlcAmount,
		LnAmount:           msg.LnAmount,
		IsOfferParty:       false,
	}}
	if err := m.deps.Store.UpsertSubChannel(osc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting offered sub-channel")
	}
	return osc, nil
}

// AcceptSubChannel accepts a pending OfferedSubChannel: accepts the nested
// channel offer, builds the split and glue transactions, and produces our
// own split adaptor signature encrypted under the counterparty's publish
// point (spec §4.4).
func (m *Machine) AcceptSubChannel(tempID TemporaryID, accepterInput AcceptedSubChannel) (*AcceptedSubChannel, *Accept, error) {
	oc, err := m.deps.Store.GetSubChannelByTemporaryID(tempID)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up offered sub-channel")
	}
	offered, ok := oc.(*OfferedSubChannel)
	if !ok {
		return nil, nil, dlcerr.InvalidState("sub-channel %x is not Offered", tempID)
	}

	_, channelAcceptMsg, err := m.deps.Channel.AcceptEstablish(tempID2ChannelTempID(tempID), dlcchannel.AcceptedChannel{
		AccepterBasePoints: accepterInput.AccepterBasePoints,
		AccepterFundPubKey: accepterInput.AccepterSplitPubKey,
	})
	if err != nil {
		return nil, nil, err
	}

	splitTx, err := m.deps.TxBuilder.BuildSplitTx(txbuilder.SplitParams{
		LNFundingOutpoint: offered.LNFundingOutpoint,
		DlcAmount:         amt(offered.DlcAmount),
		LnAmount:          amt(offered.LnAmount),
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building split transaction")
	}
	glueTx, err := m.deps.TxBuilder.BuildGlueTx(txbuilder.GlueParams{
		SplitLNOutpoint: wire.OutPoint{Hash: splitTx.TxHash(), Index: 1},
		LnAmount:        amt(offered.LnAmount),
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building glue transaction")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(accepterInput.AccepterSplitPubKey)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching accepter split key")
	}
	ownSplitAdaptorSig, err := encryptUnderPublishPoint(priv, offered.OffererBasePoints.Publish, splitTx)
	if err != nil {
		return nil, nil, err
	}

	ac := &AcceptedSubChannel{
		CommonSubChannelFields: offered.CommonSubChannelFields,
		AccepterBasePoints:     accepterInput.AccepterBasePoints,
		AccepterSplitPubKey:    accepterInput.AccepterSplitPubKey,
		SplitTx:                splitTx,
		GlueTx:                 glueTx,
		OwnSplitAdaptorSig:     ownSplitAdaptorSig,
		SplitOutpoint:          wire.OutPoint{Hash: splitTx.TxHash(), Index: 0},
	}
	if err := m.deps.Store.UpsertSubChannel(ac); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting accepted sub-channel")
	}

	msg := &Accept{
		TemporaryID_:        tempID,
		AccepterBasePoints:  accepterInput.AccepterBasePoints,
		AccepterSplitPubKey: accepterInput.AccepterSplitPubKey,
		ChannelAccept:       *channelAcceptMsg,
		OwnSplitAdaptorSig:  ownSplitAdaptorSig,
	}
	return ac, msg, nil
}

// OnAcceptSubChannel handles the accepter's reply: countersigns the nested
// channel (which broadcasts nothing yet, as a sub-channel's DLC side is
// funded by the split tx rather than its own on-chain funding tx),
// rebuilds the split transaction deterministically, and produces the
// offerer's own split adaptor signature.
func (m *Machine) OnAcceptSubChannel(msg *Accept, cp *btcec.PublicKey) (*SignedSubChannel, *Confirm, error) {
	oc, err := m.deps.Store.GetSubChannelByTemporaryID(msg.TemporaryID_)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up offered sub-channel")
	}
	offered, ok := oc.(*OfferedSubChannel)
	if !ok {
		return nil, nil, dlcerr.InvalidState("sub-channel %x is not Offered", msg.TemporaryID_)
	}

	nestedChannel, channelSignMsg, err := m.deps.Channel.OnAcceptEstablish(&msg.ChannelAccept, cp)
	if err != nil {
		return nil, nil, err
	}

	splitTx, err := m.deps.TxBuilder.BuildSplitTx(txbuilder.SplitParams{
		LNFundingOutpoint: offered.LNFundingOutpoint,
		DlcAmount:         amt(offered.DlcAmount),
		LnAmount:          amt(offered.LnAmount),
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "rebuilding split transaction")
	}
	glueTx, err := m.deps.TxBuilder.BuildGlueTx(txbuilder.GlueParams{
		SplitLNOutpoint: wire.OutPoint{Hash: splitTx.TxHash(), Index: 1},
		LnAmount:        amt(offered.LnAmount),
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "rebuilding glue transaction")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(offered.OffererSplitPubKey)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching offerer split key")
	}
	ownSplitAdaptorSig, err := encryptUnderPublishPoint(priv, msg.AccepterBasePoints.Publish, splitTx)
	if err != nil {
		return nil, nil, err
	}

	revocationProducer, err := newRevocationSeed(m.deps.Wallet)
	if err != nil {
		return nil, nil, err
	}

	splitOutpoint := wire.OutPoint{Hash: splitTx.TxHash(), Index: 0}
	subChannelID := ComputeID(splitOutpoint, msg.TemporaryID_)
	ssc := &SignedSubChannel{
		CommonSubChannelFields: offered.CommonSubChannelFields,
		SubChannelID:           subChannelID,
		AccepterBasePoints:     msg.AccepterBasePoints,
		AccepterSplitPubKey:    msg.AccepterSplitPubKey,
		UpdateIdx:              InitialSplitNumber,
		OwnRevocationProducer:  revocationProducer,
		SplitOutpoint:          splitOutpoint,
		Sub: Active{
			SplitTx:                splitTx,
			GlueTx:                 glueTx,
			OwnSplitAdaptorSig:     ownSplitAdaptorSig,
			CounterSplitAdaptorSig: msg.OwnSplitAdaptorSig,
			NestedChannelID:        nestedChannel.ChannelID,
		},
	}

	m.deps.Monitor.AddTx(splitTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(subChannelID),
		TxType:    chainmonitor.SplitTx(),
	})
	if err := m.deps.Store.UpsertSubChannel(ssc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting signed sub-channel")
	}

	return ssc, &Confirm{
		SubChannelID:           subChannelID,
		TemporaryID_:           msg.TemporaryID_,
		ChannelSign:            *channelSignMsg,
		CounterSplitAdaptorSig: ownSplitAdaptorSig,
	}, nil
}

// OnConfirmSubChannel handles the offerer's Confirm reply on the accepter
// side, finalizing the nested channel and moving the sub-channel into
// Signed/Active (spec §4.4).
func (m *Machine) OnConfirmSubChannel(msg *Confirm, cp *btcec.PublicKey) (*SignedSubChannel, *Finalize, error) {
	oc, err := m.deps.Store.GetSubChannelByTemporaryID(msg.TemporaryID_)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up accepted sub-channel")
	}
	ac, ok := oc.(*AcceptedSubChannel)
	if !ok {
		return nil, nil, dlcerr.InvalidState("sub-channel is not Accepted")
	}

	nestedChannel, err := m.deps.Channel.OnSignEstablish(&msg.ChannelSign, cp)
	if err != nil {
		return nil, nil, err
	}

	revocationProducer, err := newRevocationSeed(m.deps.Wallet)
	if err != nil {
		return nil, nil, err
	}

	ssc := &SignedSubChannel{
		CommonSubChannelFields: ac.CommonSubChannelFields,
		SubChannelID:           msg.SubChannelID,
		AccepterBasePoints:     ac.AccepterBasePoints,
		AccepterSplitPubKey:    ac.AccepterSplitPubKey,
		UpdateIdx:              InitialSplitNumber,
		OwnRevocationProducer:  revocationProducer,
		SplitOutpoint:          ac.SplitOutpoint,
		Sub: Active{
			SplitTx:                ac.SplitTx,
			GlueTx:                 ac.GlueTx,
			OwnSplitAdaptorSig:     ac.OwnSplitAdaptorSig,
			CounterSplitAdaptorSig: msg.CounterSplitAdaptorSig,
			NestedChannelID:        nestedChannel.ChannelID,
		},
	}

	m.deps.Monitor.AddTx(ac.SplitTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(msg.SubChannelID),
		TxType:    chainmonitor.SplitTx(),
	})
	if err := m.deps.Store.UpsertSubChannelAndChannel(ssc, nestedChannel); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting signed sub-channel")
	}

	return ssc, &Finalize{SubChannelID: msg.SubChannelID}, nil
}

// OnFinalizeSubChannel handles the accepter's ack on the offerer side. The
// offerer already reached Signed/Active in OnAcceptSubChannel, so this is a
// pure acknowledgement with no state transition of its own; it only
// verifies the sub-channel it names actually exists and is Signed.
func (m *Machine) OnFinalizeSubChannel(msg *Finalize) error {
	sc, err := m.deps.Store.GetSubChannel(msg.SubChannelID)
	if err != nil {
		return dlcerr.Wrap(dlcerr.KindStorage, err, "looking up signed sub-channel")
	}
	if sc.State() != StateSigned {
		return dlcerr.InvalidState("sub-channel %x is not Signed", msg.SubChannelID)
	}
	return nil
}

func tempID2ChannelTempID(id TemporaryID) dlcchannel.TemporaryID {
	return dlcchannel.TemporaryID(id)
}
