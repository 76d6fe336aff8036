// Package chainmonitor implements the DLC chain-watching reactor: a
// registry of transaction ids and outpoints of interest, each tagged with
// the channel (or contract) it belongs to and the kind of transaction it
// represents. It does not itself talk to a blockchain backend; it is fed
// confirmed transactions by a host that polls or subscribes to a
// dlcchain.Chain implementation, and in turn hands confirmed (tx, tag)
// pairs to the Manager's reactor for dispatch.
package chainmonitor

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChannelID is either a DLC channel-id or a DLC contract-id, depending on
// context; both are 32-byte identifiers derived the same way (see spec §3).
type ChannelID [32]byte

// RevokedTxType identifies which kind of revocable transaction a Revoked
// watch entry refers to.
type RevokedTxType uint8

const (
	RevokedBuffer RevokedTxType = iota
	RevokedSettle
	RevokedSplit
)

func (t RevokedTxType) String() string {
	switch t {
	case RevokedBuffer:
		return "buffer"
	case RevokedSettle:
		return "settle"
	case RevokedSplit:
		return "split"
	default:
		return "unknown"
	}
}

// TxType tags a watched transaction or outpoint with what it represents in
// the DLC channel/contract protocol. The numeric Tag values are stable on
// the wire (spec §6, "Persisted-state layout") and must never be
// renumbered.
type TxType struct {
	Tag Tag

	// The following fields are only meaningful when Tag == TagRevoked.
	UpdateIdx            uint64
	OwnAdaptorSignature   []byte
	IsOffer               bool
	RevokedTxType         RevokedTxType
}

// Tag is the discriminator byte for TxType, matching the wire layout in
// spec §6.
type Tag uint8

const (
	TagRevoked            Tag = 0
	TagBufferTx           Tag = 1
	TagCollaborativeClose Tag = 2
	TagSplitTx            Tag = 3
	TagSettleTx           Tag = 4
	TagCet                Tag = 5
	TagSettleTx2          Tag = 6
)

// BufferTx returns the TxType for a channel's buffer transaction.
func BufferTx() TxType { return TxType{Tag: TagBufferTx} }

// Cet returns the TxType for a contract's CET.
func Cet() TxType { return TxType{Tag: TagCet} }

// CollaborativeClose returns the TxType for a channel's collaborative
// close transaction.
func CollaborativeClose() TxType { return TxType{Tag: TagCollaborativeClose} }

// SplitTx returns the TxType for a sub-channel split transaction.
func SplitTx() TxType { return TxType{Tag: TagSplitTx} }

// SettleTx returns the TxType for a channel's legacy (non-offer-tagged)
// settle transaction.
func SettleTx() TxType { return TxType{Tag: TagSettleTx} }

// SettleTx2 returns the TxType for a channel's settle transaction, tagged
// with which party offered the settlement.
func SettleTx2(isOffer bool) TxType { return TxType{Tag: TagSettleTx2, IsOffer: isOffer} }

// Revoked returns the TxType for a revocable transaction of a prior channel
// update, together with the data needed to punish it if it is ever
// broadcast.
func Revoked(updateIdx uint64, ownAdaptorSig []byte, isOffer bool, revokedTxType RevokedTxType) TxType {
	return TxType{
		Tag:                 TagRevoked,
		UpdateIdx:           updateIdx,
		OwnAdaptorSignature: ownAdaptorSig,
		IsOffer:             isOffer,
		RevokedTxType:       revokedTxType,
	}
}

// ChannelInfo tags a watched entry with the channel (or contract) it
// belongs to and what kind of transaction it represents.
type ChannelInfo struct {
	ChannelID ChannelID
	TxType    TxType
}

// WatchState is the lifecycle of a single watched entry: it starts
// Registered and becomes Confirmed once the matching transaction is seen
// on chain.
type WatchState struct {
	ChannelInfo ChannelInfo

	// Confirmed is false until the transaction has been observed.
	Confirmed bool

	// Tx is set only once Confirmed is true.
	Tx *wire.MsgTx
}

func newWatchState(info ChannelInfo) *WatchState {
	return &WatchState{ChannelInfo: info}
}

// ChainMonitor is a registry of txids and outpoints being watched for on
// behalf of the contract and channel state machines. It is guarded by a
// single mutex (spec §5): critical sections are short, compute-then-release,
// and never perform I/O while the lock is held.
type ChainMonitor struct {
	mu sync.Mutex

	watchedTx  map[chainhash.Hash]*WatchState
	watchedTxo map[wire.OutPoint]*WatchState

	lastHeight uint64
}

// New returns an empty ChainMonitor initialized at the given chain height.
func New(initHeight uint64) *ChainMonitor {
	return &ChainMonitor{
		watchedTx:  make(map[chainhash.Hash]*WatchState),
		watchedTxo: make(map[wire.OutPoint]*WatchState),
		lastHeight: initHeight,
	}
}

// LastHeight returns the last chain height the monitor has processed.
func (m *ChainMonitor) LastHeight() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeight
}

// SetLastHeight updates the last-processed chain height.
func (m *ChainMonitor) SetLastHeight(h uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeight = h
}

// IsEmpty reports whether the monitor has nothing registered.
func (m *ChainMonitor) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watchedTx) == 0 && len(m.watchedTxo) == 0
}

// AddTx registers txid for watching under the given tag. If the tag is a
// BufferTx, the spec's invariant 5 requires that the buffer transaction's
// sole output (vout 0) also be registered, tagged Cet, so that CET
// broadcast is detected by output-spend rather than by enumerating every
// possible CET.
func (m *ChainMonitor) AddTx(txid chainhash.Hash, info ChannelInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addTx(txid, info)
}

func (m *ChainMonitor) addTx(txid chainhash.Hash, info ChannelInfo) {
	log.Debugf("watching transaction %v: %+v", txid, info)
	m.watchedTx[txid] = newWatchState(info)

	if info.TxType.Tag == TagBufferTx {
		op := wire.OutPoint{Hash: txid, Index: 0}
		cetInfo := ChannelInfo{ChannelID: info.ChannelID, TxType: Cet()}
		log.Debugf("watching transaction output %v: %+v", op, cetInfo)
		m.watchedTxo[op] = newWatchState(cetInfo)
	}
}

// AddTxo registers an outpoint for watching under the given tag.
func (m *ChainMonitor) AddTxo(op wire.OutPoint, info ChannelInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Debugf("watching transaction output %v: %+v", op, info)
	m.watchedTxo[op] = newWatchState(info)
}

// RemoveTx stops watching a txid.
func (m *ChainMonitor) RemoveTx(txid chainhash.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Debugf("stopped watching transaction %v", txid)
	delete(m.watchedTx, txid)
}

// CleanupChannel removes every watched entry (tx and txo) belonging to the
// given channel-id. Called once a channel reaches a terminal state.
func (m *ChainMonitor) CleanupChannel(channelID ChannelID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Debugf("cleaning up watched entries for channel %x", channelID)

	for k, v := range m.watchedTx {
		if v.ChannelInfo.ChannelID == channelID {
			delete(m.watchedTx, k)
		}
	}
	for k, v := range m.watchedTxo {
		if v.ChannelInfo.ChannelID == channelID {
			delete(m.watchedTxo, k)
		}
	}
}

// ConfirmTx marks a watched txid as confirmed, attaching the observed
// transaction. Confirming an already-confirmed entry is logged but is not
// an error: reconfirmation is idempotent.
func (m *ChainMonitor) ConfirmTx(tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txid := tx.TxHash()
	state, ok := m.watchedTx[txid]
	if !ok {
		return
	}
	if state.Confirmed {
		log.Warnf("transaction %v already confirmed, ignoring duplicate confirmation", txid)
		return
	}
	state.Confirmed = true
	state.Tx = tx
}

// ConfirmTxo marks a watched outpoint as confirmed (spent by tx), attaching
// the spending transaction.
func (m *ChainMonitor) ConfirmTxo(op wire.OutPoint, tx *wire.MsgTx) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.watchedTxo[op]
	if !ok {
		return
	}
	if state.Confirmed {
		log.Warnf("outpoint %v already confirmed, ignoring duplicate confirmation", op)
		return
	}
	state.Confirmed = true
	state.Tx = tx
}

// WatchedTxEntry pairs a txid with its current watch state, for iteration
// by a host polling loop.
type WatchedTxEntry struct {
	Txid  chainhash.Hash
	State WatchState
}

// WatchedTxs returns a snapshot of every watched txid and its state.
func (m *ChainMonitor) WatchedTxs() []WatchedTxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WatchedTxEntry, 0, len(m.watchedTx))
	for txid, state := range m.watchedTx {
		out = append(out, WatchedTxEntry{Txid: txid, State: *state})
	}
	return out
}

// WatchedTxoEntry pairs an outpoint with its current watch state.
type WatchedTxoEntry struct {
	Outpoint wire.OutPoint
	State    WatchState
}

// WatchedTxos returns a snapshot of every watched outpoint and its state.
func (m *ChainMonitor) WatchedTxos() []WatchedTxoEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]WatchedTxoEntry, 0, len(m.watchedTxo))
	for op, state := range m.watchedTxo {
		out = append(out, WatchedTxoEntry{Outpoint: op, State: *state})
	}
	return out
}

// Confirmed is a single confirmed transaction, tagged with the channel
// info it was registered under.
type Confirmed struct {
	Tx          *wire.MsgTx
	ChannelInfo ChannelInfo
	// Outpoint is set when this confirmation came from the watchedTxo
	// side (an output-spend detection) rather than a direct txid watch.
	Outpoint *wire.OutPoint
}

// ConfirmedTxs returns a snapshot of every watch entry that has reached the
// Confirmed state, from both the txid and outpoint registries.
func (m *ChainMonitor) ConfirmedTxs() []Confirmed {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Confirmed
	for _, state := range m.watchedTx {
		if state.Confirmed {
			out = append(out, Confirmed{Tx: state.Tx, ChannelInfo: state.ChannelInfo})
		}
	}
	for op, state := range m.watchedTxo {
		if state.Confirmed {
			op := op
			out = append(out, Confirmed{Tx: state.Tx, ChannelInfo: state.ChannelInfo, Outpoint: &op})
		}
	}
	return out
}

// DidWeOfferLastChannelSettlement scans the watched entries for a Revoked
// entry whose RevokedTxType is Buffer and whose channel-id matches, and
// returns the IsOffer flag recorded on it. It answers "did we send the last
// SettleOffer/RenewOffer that revoked our prior buffer tx for this
// channel?" — used by the legacy SettleTx handler, which (unlike
// SettleTx2) doesn't carry is_offer directly on the tag.
func (m *ChainMonitor) DidWeOfferLastChannelSettlement(channelID ChannelID) (isOffer bool, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, state := range m.watchedTx {
		info := state.ChannelInfo
		if info.ChannelID != channelID {
			continue
		}
		if info.TxType.Tag == TagRevoked && info.TxType.RevokedTxType == RevokedBuffer {
			return info.TxType.IsOffer, true
		}
	}
	return false, false
}
