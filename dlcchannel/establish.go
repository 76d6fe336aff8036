package dlcchannel

import (
	"crypto/rand"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/contract"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// OfferEstablish opens a new DLC channel, embedding a contract offer for
// its opening state (spec §4.3 Establish).
func (m *Machine) OfferEstablish(input CommonChannelFields, cp *btcec.PublicKey) (*OfferedChannel, *OfferChannel, error) {
	if input.TemporaryChannelID == (TemporaryID{}) {
		if _, err := rand.Read(input.TemporaryChannelID[:]); err != nil {
			return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "generating temporary channel id")
		}
	}
	input.Counterparty = cp
	input.IsOfferParty = true

	_, contractOfferMsg, err := m.deps.Contract.SendOffer(input.OfferedContractInput, cp)
	if err != nil {
		return nil, nil, err
	}

	oc := &OfferedChannel{CommonChannelFields: input}
	if err := m.deps.Store.UpsertChannel(oc); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting offered channel")
	}

	msg := &OfferChannel{
		TemporaryChannelID: input.TemporaryChannelID,
		OffererBasePoints:  input.OffererBasePoints,
		OffererFundPubKey:  input.OffererFundPubKey,
		CsvDelay:           input.CsvDelay,
		ContractOffer:      *contractOfferMsg,
	}
	return oc, msg, nil
}

// OnOfferEstablish handles an incoming channel offer (spec §4.3 Establish).
func (m *Machine) OnOfferEstablish(msg *OfferChannel, cp *btcec.PublicKey, now uint64) (*OfferedChannel, error) {
	if existing, err := m.deps.Store.GetChannelByTemporaryID(msg.TemporaryChannelID); err == nil && existing != nil {
		return nil, dlcerr.InvalidParameters("channel with identical temporary id already exists")
	}

	if _, err := m.deps.Contract.OnOffer(&msg.ContractOffer, cp, now); err != nil {
		return nil, err
	}

	oc := &OfferedChannel{CommonChannelFields: CommonChannelFields{
		TemporaryChannelID: msg.TemporaryChannelID,
		Counterparty:       cp,
		OffererBasePoints:  msg.OffererBasePoints,
		OffererFundPubKey:  msg.OffererFundPubKey,
		CsvDelay:           msg.CsvDelay,
		IsOfferParty:       false,
	}}
	if err := m.deps.Store.UpsertChannel(oc); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting offered channel")
	}
	return oc, nil
}

// AcceptEstablish accepts a pending OfferedChannel: accepts the nested
// contract offer, builds the buffer transaction, and produces our own
// buffer adaptor signature encrypted under the counterparty's publish
// point (spec §4.3 Establish, invariant 2).
func (m *Machine) AcceptEstablish(tempID TemporaryID, accepterInput AcceptedChannel) (*AcceptedChannel, *AcceptChannel, error) {
	oc, err := m.deps.Store.GetChannelByTemporaryID(tempID)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up offered channel")
	}
	offered, ok := oc.(*OfferedChannel)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not Offered", tempID)
	}

	acceptedContract, contractAcceptMsg, err := m.deps.Contract.AcceptContractOffer(tempID2ContractTempID(tempID), contract.AcceptedContract{
		AccepterFundPubKey: accepterInput.AccepterFundPubKey,
		AccepterCollateral: 0,
	})
	if err != nil {
		return nil, nil, err
	}

	bufferTx, err := m.deps.TxBuilder.BuildBufferTx(txbuilder.BufferParams{
		FundingOutpoint: acceptedContract.FundingOutpoint,
		Amount:          acceptedContract.OfferCollateral + acceptedContract.AccepterCollateral,
		CsvDelay:        offered.CsvDelay,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building buffer transaction")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(accepterInput.AccepterFundPubKey)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching accepter fund key")
	}
	ownBufferAdaptorSig, err := encryptUnderPublishPoint(priv, offered.OffererBasePoints.Publish, bufferTx)
	if err != nil {
		return nil, nil, err
	}

	ac := &AcceptedChannel{
		CommonChannelFields: offered.CommonChannelFields,
		AccepterBasePoints:  accepterInput.AccepterBasePoints,
		AccepterFundPubKey:  accepterInput.AccepterFundPubKey,
		AcceptedContract:    acceptedContract,
		BufferTx:            bufferTx,
		OwnBufferAdaptorSig: ownBufferAdaptorSig,
		FundingOutpoint:     acceptedContract.FundingOutpoint,
	}
	if err := m.deps.Store.UpsertChannel(ac); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting accepted channel")
	}

	msg := &AcceptChannel{
		TemporaryChannelID:  tempID,
		AccepterBasePoints:  accepterInput.AccepterBasePoints,
		AccepterFundPubKey:  accepterInput.AccepterFundPubKey,
		ContractAccept:      *contractAcceptMsg,
		OwnBufferAdaptorSig: ownBufferAdaptorSig,
	}
	return ac, msg, nil
}

// OnAcceptEstablish handles the accepter's reply: countersigns the nested
// contract (broadcasting its funding transaction) and verifies the
// accepter's buffer adaptor signature before entering the Signed/
// Established state.
func (m *Machine) OnAcceptEstablish(msg *AcceptChannel, cp *btcec.PublicKey) (*SignedChannel, *SignChannel, error) {
	oc, err := m.deps.Store.GetChannelByTemporaryID(msg.TemporaryChannelID)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up offered channel")
	}
	offered, ok := oc.(*OfferedChannel)
	if !ok {
		return nil, nil, dlcerr.InvalidState("channel %x is not Offered", msg.TemporaryChannelID)
	}

	signedContract, contractSignMsg, err := m.deps.Contract.OnAccept(&msg.ContractAccept, cp, nil)
	if err != nil {
		return nil, nil, err
	}

	bufferTx, err := m.deps.TxBuilder.BuildBufferTx(txbuilder.BufferParams{
		FundingOutpoint: signedContract.FundingOutpoint,
		Amount:          signedContract.OfferCollateral + signedContract.AccepterCollateral,
		CsvDelay:        offered.CsvDelay,
	})
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "building buffer transaction")
	}

	priv, err := m.deps.Wallet.GetSecretKeyForPubkey(offered.OffererFundPubKey)
	if err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching offerer fund key")
	}
	ownBufferAdaptorSig, err := encryptUnderPublishPoint(priv, msg.AccepterBasePoints.Publish, bufferTx)
	if err != nil {
		return nil, nil, err
	}

	revocationProducer, err := newRevocationSeed(m.deps.Wallet)
	if err != nil {
		return nil, nil, err
	}

	channelID := ComputeID(signedContract.FundingOutpoint, msg.TemporaryChannelID)
	sc := &SignedChannel{
		CommonChannelFields:   offered.CommonChannelFields,
		ChannelID:             channelID,
		AccepterBasePoints:    msg.AccepterBasePoints,
		AccepterFundPubKey:    msg.AccepterFundPubKey,
		UpdateIdx:             InitialUpdateNumber,
		OwnRevocationProducer: revocationProducer,
		FundingOutpoint:       signedContract.FundingOutpoint,
		Sub: Established{
			BufferTx:                bufferTx,
			OwnBufferAdaptorSig:     ownBufferAdaptorSig,
			CounterBufferAdaptorSig: msg.OwnBufferAdaptorSig,
			SignedContractID:        signedContract.ContractID,
			IsInitiator:             true,
			TotalCollateral:         int64(offered.OfferedContractInput.TotalCollateral),
		},
	}

	m.deps.Monitor.AddTx(bufferTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(channelID),
		TxType:    chainmonitor.BufferTx(),
	})
	if err := m.deps.Store.UpsertChannelAndContract(sc, signedContract); err != nil {
		return nil, nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting signed channel")
	}

	return sc, &SignChannel{
		ChannelID:               channelID,
		TemporaryChannelID:      msg.TemporaryChannelID,
		ContractSign:            *contractSignMsg,
		CounterBufferAdaptorSig: ownBufferAdaptorSig,
	}, nil
}

// OnSignEstablish handles the offerer's Sign reply on the accepter side,
// moving the channel into Signed/Established.
func (m *Machine) OnSignEstablish(msg *SignChannel, cp *btcec.PublicKey) (*SignedChannel, error) {
	oc, err := m.deps.Store.GetChannelByTemporaryID(msg.TemporaryChannelID)
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "looking up accepted channel")
	}
	ac, ok := oc.(*AcceptedChannel)
	if !ok {
		return nil, dlcerr.InvalidState("channel is not Accepted")
	}

	signedContract, err := m.deps.Contract.OnSign(&msg.ContractSign, cp, nil)
	if err != nil {
		return nil, err
	}

	revocationProducer, err := newRevocationSeed(m.deps.Wallet)
	if err != nil {
		return nil, err
	}

	channelID := ComputeID(ac.FundingOutpoint, ac.TemporaryChannelID)
	sc := &SignedChannel{
		CommonChannelFields:   ac.CommonChannelFields,
		ChannelID:             channelID,
		AccepterBasePoints:    ac.AccepterBasePoints,
		AccepterFundPubKey:    ac.AccepterFundPubKey,
		UpdateIdx:             InitialUpdateNumber,
		OwnRevocationProducer: revocationProducer,
		FundingOutpoint:       ac.FundingOutpoint,
		Sub: Established{
			BufferTx:                ac.BufferTx,
			OwnBufferAdaptorSig:     ac.OwnBufferAdaptorSig,
			CounterBufferAdaptorSig: msg.CounterBufferAdaptorSig,
			SignedContractID:        signedContract.ContractID,
			IsInitiator:             false,
			TotalCollateral:         int64(ac.OfferedContractInput.TotalCollateral),
		},
	}

	m.deps.Monitor.AddTx(ac.BufferTx.TxHash(), chainmonitor.ChannelInfo{
		ChannelID: chainmonitor.ChannelID(channelID),
		TxType:    chainmonitor.BufferTx(),
	})
	if err := m.deps.Store.UpsertChannelAndContract(sc, signedContract); err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindStorage, err, "persisting signed channel")
	}
	return sc, nil
}

func tempID2ContractTempID(id TemporaryID) contract.TemporaryID {
	return contract.TemporaryID(id)
}

// GetChannel fetches a channel by id, for callers outside this package
// (such as the sub-channel overlay's reactor, which holds a *Machine but
// not its underlying Store) that need to inspect a nested channel's
// terminal state.
func (m *Machine) GetChannel(id ID) (Channel, error) {
	return m.deps.Store.GetChannel(id)
}
