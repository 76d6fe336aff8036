// Package dlcwallet declares the Wallet capability interface the DLC engine
// consumes for key custody and UTXO selection. Concrete implementations
// (backed by btcwallet, a hardware signer, or a test double) live outside
// this module; spec §1 treats wallet custody as an external collaborator.
package dlcwallet

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// Utxo describes a single funding input an offer or accept message
// contributes to a contract or channel.
type Utxo struct {
	Outpoint   wire.OutPoint
	Amount     btcutil.Amount
	Address    btcutil.Address
	RedeemScript []byte
}

// Wallet is the set of key-custody and coin-selection operations the
// engine needs, matching spec §6.
type Wallet interface {
	// ImportAddress makes the wallet aware of an address it should track,
	// e.g. a channel's multisig funding address.
	ImportAddress(address btcutil.Address) error

	// GetNewAddress returns a fresh receive address for an output the
	// engine controls (payout, change).
	GetNewAddress() (btcutil.Address, error)

	// GetNewSecretKey generates and stores a new key pair, returning its
	// public key. Used for fund keys and per-party base points.
	GetNewSecretKey() (*btcec.PublicKey, error)

	// GetSecretKeyForPubkey returns the private key corresponding to a
	// public key previously returned by GetNewSecretKey.
	GetSecretKeyForPubkey(pubKey *btcec.PublicKey) (*btcec.PrivateKey, error)

	// UnreserveUtxos releases any wallet-level UTXO locks placed on the
	// given outpoints, e.g. after an offer is rejected or cancelled.
	UnreserveUtxos(outpoints []wire.OutPoint) error

	// SignPsbt signs every input of psbt the wallet holds keys for and
	// returns the updated bytes. Transaction construction itself
	// (assembling funding/CET/refund/buffer/settle/split/punish
	// transactions) is an external library call per spec §1; this method
	// only supplies signatures for inputs owned by this wallet.
	SignPsbt(psbt []byte) ([]byte, error)
}
