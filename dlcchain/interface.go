// Package dlcchain declares the Blockchain capability interface the engine
// consumes for confirmation lookups and broadcast. Concrete implementations
// (full node RPC, neutrino light client, or a test double) live outside
// this module; spec §1 treats blockchain RPC and fee estimation as external
// collaborators.
package dlcchain

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Chain is the set of blockchain read/write operations the engine needs,
// matching spec §6.
type Chain interface {
	// GetTransaction fetches a transaction by txid. Returns an error
	// wrapping dlcerr.KindBlockchain if not found.
	GetTransaction(txid chainhash.Hash) (*wire.MsgTx, error)

	// GetTransactionConfirmations returns how many confirmations txid
	// has, or 0 if unconfirmed/unknown.
	GetTransactionConfirmations(txid chainhash.Hash) (uint32, error)

	// GetTxoConfirmations returns the confirmation count and the
	// spending transaction for an outpoint, if it has been spent.
	GetTxoConfirmations(op wire.OutPoint) (confs uint32, spendingTx *chainhash.Hash, found bool, err error)

	// GetBlockAtHeight returns the block at the given height.
	GetBlockAtHeight(height uint64) (*wire.MsgBlock, error)

	// GetBlockchainHeight returns the current chain tip height.
	GetBlockchainHeight() (uint64, error)

	// GetNetwork returns the chain parameters the backend is configured
	// for.
	GetNetwork() (*chaincfg.Params, error)

	// SendTransaction broadcasts tx. Re-broadcast of an already-accepted
	// transaction must not be treated as an error (best-effort
	// re-broadcast is the engine's only reorg compensation per spec
	// §1 Non-goals).
	SendTransaction(tx *wire.MsgTx) error
}
