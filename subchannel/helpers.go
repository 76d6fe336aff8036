package subchannel

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/hashprotocol/dlcd/adaptor"
	"github.com/hashprotocol/dlcd/dlcchannel"
	"github.com/hashprotocol/dlcd/dlcerr"
	"github.com/hashprotocol/dlcd/dlcwallet"
)

func amt(v int64) btcutil.Amount {
	return btcutil.Amount(v)
}

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
// ordering of the two split keys, same convention as
// dlcchannel.publishWitnessIndex (spec §4.3, Revoked handler).
func publishWitnessIndex(offererSplitKey, accepterSplitKey *btcec.PublicKey) int {
	keys := [][]byte{
		offererSplitKey.SerializeCompressed(),
		accepterSplitKey.SerializeCompressed(),
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

// newRevocationSeed mirrors dlcchannel's unexported helper of the same name:
// it derives a RevocationProducer seed from a freshly wallet-generated key
// pair's private key bytes, the same secure-RNG guarantee a hash-chain seed
// needs (spec §3), reused here one layer up for the split transaction's own
// revocation chain.
func newRevocationSeed(w dlcwallet.Wallet) (dlcchannel.RevocationProducer, error) {
	pub, err := w.GetNewSecretKey()
	if err != nil {
		return dlcchannel.RevocationProducer{}, dlcerr.Wrap(dlcerr.KindWallet, err, "generating revocation seed key")
	}
	priv, err := w.GetSecretKeyForPubkey(pub)
	if err != nil {
		return dlcchannel.RevocationProducer{}, dlcerr.Wrap(dlcerr.KindWallet, err, "fetching revocation seed key")
	}
	var seed [32]byte
	copy(seed[:], priv.Serialize())
	return dlcchannel.RevocationProducer{Seed: seed}, nil
}

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
