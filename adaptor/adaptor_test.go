package adaptor

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/require"
)

// TestEncryptDecryptRecoverRoundTrip exercises the full adaptor-signature
// life cycle used by the contract and channel state machines: a signer
// encrypts a signature under an oracle/publish point, a holder of that
// point's secret decrypts it into a usable ECDSA signature, and observing
// that decrypted signature alongside the original encrypted one recovers
// the secret (spec invariant iii, and the Revoked punish-secret recovery
// in §4.3).
func TestEncryptDecryptRecoverRoundTrip(t *testing.T) {
	signerPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	encryptionPriv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	encryptionPub := encryptionPriv.PubKey()

	msgHash := sha256.Sum256([]byte("outcome=pay_a"))

	sig, err := Encrypt(signerPriv, encryptionPub, msgHash)
	require.NoError(t, err)

	decrypted, err := Decrypt(sig, &encryptionPriv.Key)
	require.NoError(t, err)
	require.True(t, decrypted.Verify(msgHash[:], signerPriv.PubKey()))

	recovered, err := RecoverSecret(sig, decrypted, encryptionPub)
	require.NoError(t, err)

	var recoveredPoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(recovered, &recoveredPoint)
	recoveredPoint.ToAffine()
	recoveredPub := secp256k1.NewPublicKey(&recoveredPoint.X, &recoveredPoint.Y)

	require.Equal(t, encryptionPub.X(), recoveredPub.X())
	require.Equal(t, encryptionPub.Y(), recoveredPub.Y())
}
