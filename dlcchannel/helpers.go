package dlcchannel

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashprotocol/dlcd/adaptor"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/dlcwallet"
)

func txBytes(tx *wire.MsgTx) []byte {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		panic(err) // serialization of an in-memory MsgTx cannot fail
	}
	return buf.Bytes()
}

func sigHashOf(tx *wire.MsgTx) [32]byte {
	return chainhash.DoubleHashH(txBytes(tx))
}

func encryptUnderPublishPoint(priv *btcec.PrivateKey, publishPoint *btcec.PublicKey, tx *wire.MsgTx) ([]byte, error) {
	sig, err := adaptor.Encrypt(priv, publishPoint, sigHashOf(tx))
	if err != nil {
		return nil, dlcerr.Wrap(dlcerr.KindCrypto, err, "encrypting adaptor signature")
	}
	return serializeAdaptorSig(sig), nil
}

func serializeAdaptorSig(sig *adaptor.Signature) []byte {
	out := make([]byte, 0, len(sig.R)+len(sig.SHat))
	out = append(out, sig.R[:]...)
	out = append(out, sig.SHat[:]...)
	return out
}

func deserializeAdaptorSig(b []byte) *adaptor.Signature {
	sig := &adaptor.Signature{}
	copy(sig.R[:], b[:33])
	copy(sig.SHat[:], b[33:65])
	return sig
}

// publishWitnessIndex picks which of a two-party transaction's two witness
// stack elements carries the revealed publish secret, by the lexicographic
// ordering of the two fund keys (spec §4.3, Revoked handler: "selecting
// witness element by lexicographic ordering of the two fund keys").
func publishWitnessIndex(offererFundKey, accepterFundKey *btcec.PublicKey) int {
	keys := [][]byte{
		offererFundKey.SerializeCompressed(),
		accepterFundKey.SerializeCompressed(),
	}
	sorted := sort.SliceIsSorted(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
	if sorted {
		return 0
	}
	return 1
}

func scalarToPriv(s *secp256k1.ModNScalar) *btcec.PrivateKey {
	return secp256k1.NewPrivateKey(s)
}

// newRevocationSeed asks the wallet for a fresh key pair and uses its
// private key bytes as a RevocationProducer seed: the wallet already
// guarantees these are drawn from a secure RNG and never reused, the same
// property a hash-chain seed needs (spec §3).
func newRevocationSeed(w dlcwallet.Wallet) (RevocationProducer, error) {
	pub, err := w.GetNewSecretKey()
	if err != nil {
		return RevocationProducer{}, dlcerr.Wrap(dlcerr.KindWallet, err, "generating revocation seed key")
	}
	priv, err := w.GetSecretKeyForPubkey(pub)
	if err != nil {
		return RevocationProducer{}, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching revocation seed key")
	}
	var seed [32]byte
	copy(seed[:], priv.Serialize())
	return RevocationProducer{Seed: seed}, nil
}

// signWithKey produces a plain (non-adaptor) ECDSA signature, used for the
// jointly cosigned collaborative-close transaction, which carries no
// revocation risk and so needs no adaptor encryption.
func signWithKey(priv *btcec.PrivateKey, hash [32]byte) []byte {
	return ecdsa.Sign(priv, hash[:]).Serialize()
}

func verifySignature(sigBytes []byte, hash [32]byte, pub *btcec.PublicKey) bool {
	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return false
	}
	return sig.Verify(hash[:], pub)
}
