package chainmonitor

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Serialize encodes the entire ChainMonitor as a single blob. The monitor
// is persisted as a whole (spec §4.1): there is no support for partial
// updates, so a Serialize/Deserialize round trip must be the identity
// (invariant 4).
func (m *ChainMonitor) Serialize(w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := binary.Write(w, binary.BigEndian, m.lastHeight); err != nil {
		return err
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(m.watchedTx))); err != nil {
		return err
	}
	for txid, state := range m.watchedTx {
		if _, err := w.Write(txid[:]); err != nil {
			return err
		}
		if err := writeWatchState(w, state); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.BigEndian, uint32(len(m.watchedTxo))); err != nil {
		return err
	}
	for op, state := range m.watchedTxo {
		if _, err := w.Write(op.Hash[:]); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, op.Index); err != nil {
			return err
		}
		if err := writeWatchState(w, state); err != nil {
			return err
		}
	}

	return nil
}

// Deserialize rebuilds a ChainMonitor from a blob written by Serialize.
func Deserialize(r io.Reader) (*ChainMonitor, error) {
	m := New(0)

	if err := binary.Read(r, binary.BigEndian, &m.lastHeight); err != nil {
		return nil, err
	}

	var numTx uint32
	if err := binary.Read(r, binary.BigEndian, &numTx); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numTx; i++ {
		var txid chainhash.Hash
		if _, err := io.ReadFull(r, txid[:]); err != nil {
			return nil, err
		}
		state, err := readWatchState(r)
		if err != nil {
			return nil, err
		}
		m.watchedTx[txid] = state
	}

	var numTxo uint32
	if err := binary.Read(r, binary.BigEndian, &numTxo); err != nil {
		return nil, err
	}
	for i := uint32(0); i < numTxo; i++ {
		var op wire.OutPoint
		if _, err := io.ReadFull(r, op.Hash[:]); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &op.Index); err != nil {
			return nil, err
		}
		state, err := readWatchState(r)
		if err != nil {
			return nil, err
		}
		m.watchedTxo[op] = state
	}

	return m, nil
}

func writeWatchState(w io.Writer, state *WatchState) error {
	if err := writeChannelInfo(w, state.ChannelInfo); err != nil {
		return err
	}
	confirmed := byte(0)
	if state.Confirmed {
		confirmed = 1
	}
	if _, err := w.Write([]byte{confirmed}); err != nil {
		return err
	}
	if !state.Confirmed {
		return nil
	}
	var buf bytes.Buffer
	if err := state.Tx.Serialize(&buf); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(buf.Len())); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func readWatchState(r io.Reader) (*WatchState, error) {
	info, err := readChannelInfo(r)
	if err != nil {
		return nil, err
	}
	state := newWatchState(info)

	var confirmed [1]byte
	if _, err := io.ReadFull(r, confirmed[:]); err != nil {
		return nil, err
	}
	if confirmed[0] == 0 {
		return state, nil
	}
	state.Confirmed = true

	var txLen uint32
	if err := binary.Read(r, binary.BigEndian, &txLen); err != nil {
		return nil, err
	}
	txBytes := make([]byte, txLen)
	if _, err := io.ReadFull(r, txBytes); err != nil {
		return nil, err
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(txBytes)); err != nil {
		return nil, err
	}
	state.Tx = tx
	return state, nil
}

func writeChannelInfo(w io.Writer, info ChannelInfo) error {
	if _, err := w.Write(info.ChannelID[:]); err != nil {
		return err
	}
	return writeTxType(w, info.TxType)
}

func readChannelInfo(r io.Reader) (ChannelInfo, error) {
	var info ChannelInfo
	if _, err := io.ReadFull(r, info.ChannelID[:]); err != nil {
		return info, err
	}
	tt, err := readTxType(r)
	if err != nil {
		return info, err
	}
	info.TxType = tt
	return info, nil
}

// writeTxType encodes a TxType using the stable tag byte values defined in
// spec §6: 0=Revoked, 1=BufferTx, 2=CollaborativeClose, 3=SplitTx,
// 4=SettleTx, 5=Cet, 6=SettleTx2.
func writeTxType(w io.Writer, t TxType) error {
	if _, err := w.Write([]byte{byte(t.Tag)}); err != nil {
		return err
	}
	switch t.Tag {
	case TagRevoked:
		if err := binary.Write(w, binary.BigEndian, t.UpdateIdx); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint16(len(t.OwnAdaptorSignature))); err != nil {
			return err
		}
		if _, err := w.Write(t.OwnAdaptorSignature); err != nil {
			return err
		}
		if err := writeBool(w, t.IsOffer); err != nil {
			return err
		}
		_, err := w.Write([]byte{byte(t.RevokedTxType)})
		return err
	case TagSettleTx2:
		return writeBool(w, t.IsOffer)
	case TagBufferTx, TagCollaborativeClose, TagSplitTx, TagSettleTx, TagCet:
		return nil
	default:
		return fmt.Errorf("chainmonitor: unknown TxType tag %d", t.Tag)
	}
}

func readTxType(r io.Reader) (TxType, error) {
	var tagByte [1]byte
	if _, err := io.ReadFull(r, tagByte[:]); err != nil {
		return TxType{}, err
	}
	tag := Tag(tagByte[0])
	switch tag {
	case TagRevoked:
		var t TxType
		t.Tag = tag
		if err := binary.Read(r, binary.BigEndian, &t.UpdateIdx); err != nil {
			return t, err
		}
		var sigLen uint16
		if err := binary.Read(r, binary.BigEndian, &sigLen); err != nil {
			return t, err
		}
		t.OwnAdaptorSignature = make([]byte, sigLen)
		if _, err := io.ReadFull(r, t.OwnAdaptorSignature); err != nil {
			return t, err
		}
		isOffer, err := readBool(r)
		if err != nil {
			return t, err
		}
		t.IsOffer = isOffer
		var rtByte [1]byte
		if _, err := io.ReadFull(r, rtByte[:]); err != nil {
			return t, err
		}
		t.RevokedTxType = RevokedTxType(rtByte[0])
		return t, nil
	case TagSettleTx2:
		isOffer, err := readBool(r)
		return TxType{Tag: tag, IsOffer: isOffer}, err
	case TagBufferTx, TagCollaborativeClose, TagSplitTx, TagSettleTx, TagCet:
		return TxType{Tag: tag}, nil
	default:
		return TxType{}, fmt.Errorf("chainmonitor: unknown TxType tag %d", tag)
	}
}

func writeBool(w io.Writer, b bool) error {
	v := byte(0)
	if b {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}
