package contract

import (
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/hashprotocol/dlcd/oracle"
	"github.com/hashprotocol/dlcd/txbuilder"
)

// fakeStore is an in-memory Store used across the handshake tests; a real
// implementation is channeldb's bbolt-backed adaptation.
type fakeStore struct {
	mu     sync.Mutex
	byTemp map[TemporaryID]Contract
	byID   map[ID]Contract
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byTemp: make(map[TemporaryID]Contract),
		byID:   make(map[ID]Contract),
	}
}

func (s *fakeStore) GetContract(id ID) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("no contract with id %x", id)
	}
	return c, nil
}

func (s *fakeStore) GetContractByTemporaryID(tempID TemporaryID) (Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byTemp[tempID]
	if !ok {
		return nil, fmt.Errorf("no contract with temporary id %x", tempID)
	}
	return c, nil
}

func (s *fakeStore) UpsertContract(c Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byTemp[c.TemporaryContractID()] = c
	switch v := c.(type) {
	case *AcceptedContract:
		s.byID[ComputeID(v.FundingOutpoint, v.TemporaryContractID)] = c
	case *SignedContract:
		s.byID[v.ContractID] = c
	case *ConfirmedContract:
		s.byID[v.ContractID] = c
	case *PreClosedContract:
		s.byID[v.ContractID] = c
	case *ClosedContract:
		s.byID[v.ContractID] = c
	case *RefundedContract:
		s.byID[v.ContractID] = c
	}
	return nil
}

func (s *fakeStore) DeleteContract(id ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

func (s *fakeStore) ListContractsByState(state State) ([]Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[TemporaryID]bool)
	var out []Contract
	for _, c := range s.byID {
		if c.State() == state && !seen[c.TemporaryContractID()] {
			out = append(out, c)
			seen[c.TemporaryContractID()] = true
		}
	}
	for _, c := range s.byTemp {
		if c.State() == state && !seen[c.TemporaryContractID()] {
			out = append(out, c)
			seen[c.TemporaryContractID()] = true
		}
	}
	return out, nil
}

func (s *fakeStore) ListContracts() ([]Contract, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Contract, 0, len(s.byTemp))
	for _, c := range s.byTemp {
		out = append(out, c)
	}
	return out, nil
}

// fakeWallet hands out freshly generated keys and remembers them, mirroring
// a keychain-backed wallet closely enough for the handshake tests.
type fakeWallet struct {
	mu   sync.Mutex
	keys map[btcec.PublicKey]*btcec.PrivateKey
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{keys: make(map[btcec.PublicKey]*btcec.PrivateKey)}
}

func (w *fakeWallet) ImportAddress(address btcutil.Address) error { return nil }

func (w *fakeWallet) GetNewAddress() (btcutil.Address, error) { return nil, nil }

func (w *fakeWallet) GetNewSecretKey() (*btcec.PublicKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.keys[*priv.PubKey()] = priv
	w.mu.Unlock()
	return priv.PubKey(), nil
}

func (w *fakeWallet) GetSecretKeyForPubkey(pubKey *btcec.PublicKey) (*btcec.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	priv, ok := w.keys[*pubKey]
	if !ok {
		return nil, fmt.Errorf("unknown pubkey")
	}
	return priv, nil
}

func (w *fakeWallet) UnreserveUtxos(outpoints []wire.OutPoint) error { return nil }

func (w *fakeWallet) SignPsbt(psbt []byte) ([]byte, error) { return psbt, nil }

// fakeChain records broadcast transactions and answers confirmation queries
// from a preset map, keyed by txid.
type fakeChain struct {
	mu        sync.Mutex
	sent      []*wire.MsgTx
	confsByID map[chainhash.Hash]uint32
}

func newFakeChain() *fakeChain {
	return &fakeChain{confsByID: make(map[chainhash.Hash]uint32)}
}

func (c *fakeChain) GetTransaction(txid chainhash.Hash) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not implemented")
}

func (c *fakeChain) GetTransactionConfirmations(txid chainhash.Hash) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confsByID[txid], nil
}

func (c *fakeChain) GetTxoConfirmations(op wire.OutPoint) (uint32, *chainhash.Hash, bool, error) {
	return 0, nil, false, nil
}

func (c *fakeChain) GetBlockAtHeight(height uint64) (*wire.MsgBlock, error) {
	return nil, fmt.Errorf("not implemented")
}

func (c *fakeChain) GetBlockchainHeight() (uint64, error) { return 0, nil }

func (c *fakeChain) GetNetwork() (*chaincfg.Params, error) { return &chaincfg.RegressionNetParams, nil }

func (c *fakeChain) SendTransaction(tx *wire.MsgTx) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	if _, ok := c.confsByID[tx.TxHash()]; !ok {
		c.confsByID[tx.TxHash()] = 0
	}
	return nil
}

func (c *fakeChain) setConfs(tx *wire.MsgTx, n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confsByID[tx.TxHash()] = n
}

// fakeRegistry resolves a single preconfigured oracle by public key.
type fakeRegistry struct {
	oracles map[btcec.PublicKey]oracle.Oracle
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{oracles: make(map[btcec.PublicKey]oracle.Oracle)}
}

func (r *fakeRegistry) add(o oracle.Oracle, pub *btcec.PublicKey) {
	r.oracles[*pub] = o
}

func (r *fakeRegistry) OracleFor(pubKey *btcec.PublicKey) (oracle.Oracle, bool) {
	o, ok := r.oracles[*pubKey]
	return o, ok
}

// fakeOracle serves one preconfigured announcement/attestation pair.
type fakeOracle struct {
	pub *btcec.PublicKey
	ann *oracle.Announcement
	att *oracle.Attestation
}

func (o *fakeOracle) GetPublicKey() (*btcec.PublicKey, error) { return o.pub, nil }

func (o *fakeOracle) GetAnnouncement(eventID string) (*oracle.Announcement, error) {
	return o.ann, nil
}

func (o *fakeOracle) GetAttestation(eventID string) (*oracle.Attestation, error) {
	if o.att == nil {
		return nil, fmt.Errorf("no attestation yet")
	}
	return o.att, nil
}

// fakeClock returns a fixed, test-controlled time.
type fakeClock struct{ unix int64 }

func (c fakeClock) Now() time.Time { return time.Unix(c.unix, 0) }

// fakeTxBuilder produces deterministic, distinguishable dummy transactions:
// enough structure (distinct inputs/locktimes/output values) for the state
// machine's signature and persistence logic to operate over, without a real
// script-construction engine.
type fakeTxBuilder struct{}

// BuildFundingTx is deterministic in the parties' public keys and amount, so
// that both the offerer and the accepter, each independently constructing
// the funding transaction from the same handshake fields, arrive at the
// identical transaction (and therefore the identical contract-id, per
// invariant i) — exactly as the real script-construction library would from
// canonically-ordered inputs.
func (fakeTxBuilder) BuildFundingTx(p txbuilder.FundingParams) (*wire.MsgTx, uint32, error) {
	tx := wire.NewMsgTx(2)
	h := chainhash.DoubleHashH(append(
		p.OffererFundPubKey.SerializeCompressed(),
		p.AccepterFundPubKey.SerializeCompressed()...,
	))
	op := wire.OutPoint{Hash: h, Index: 0}
	tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(p.FundingAmount), []byte{0x51}))
	return tx, 0, nil
}

func (fakeTxBuilder) BuildCetTx(p txbuilder.CetParams) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&p.FundingOutpoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(p.OffererPayout), []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(int64(p.AccepterPayout), []byte{0x52}))
	tx.LockTime = p.Locktime
	return tx, nil
}

func (fakeTxBuilder) BuildRefundTx(p txbuilder.RefundParams) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&p.FundingOutpoint, nil, nil))
	tx.AddTxOut(wire.NewTxOut(int64(p.OffererAmount), []byte{0x51}))
	tx.AddTxOut(wire.NewTxOut(int64(p.AccepterAmount), []byte{0x52}))
	tx.LockTime = p.Locktime
	return tx, nil
}

func (fakeTxBuilder) BuildBufferTx(p txbuilder.BufferParams) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not exercised by contract tests")
}

func (fakeTxBuilder) BuildSettleTx(p txbuilder.SettleParams) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not exercised by contract tests")
}

func (fakeTxBuilder) BuildSplitTx(p txbuilder.SplitParams) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not exercised by contract tests")
}

func (fakeTxBuilder) BuildPunishTx(p txbuilder.PunishParams) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not exercised by contract tests")
}

func (fakeTxBuilder) BuildGlueTx(p txbuilder.GlueParams) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not exercised by contract tests")
}

func (fakeTxBuilder) BuildClaimTx(p txbuilder.ClaimParams) (*wire.MsgTx, error) {
	return nil, fmt.Errorf("not exercised by contract tests")
}
