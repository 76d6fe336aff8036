// Package storage declares the durable-storage contracts the engine
// depends on (spec §6): a mapping from contract-id / channel-id to the
// entity's current tagged-union state, supporting atomic upsert of a
// (channel, optional contract) pair together with the chain monitor, per
// spec §5's atomicity requirement.
package storage

import (
	"github.com/hashprotocol/dlcd/chainmonitor"
	"github.com/hashprotocol/dlcd/contract"
	"github.com/hashprotocol/dlcd/dlcchannel"
)

// ContractStore is the durable mapping from contract-id to the contract's
// current state variant.
type ContractStore interface {
	GetContract(id contract.ID) (contract.Contract, error)
	GetContractByTemporaryID(tempID contract.TemporaryID) (contract.Contract, error)
	UpsertContract(c contract.Contract) error
	DeleteContract(id contract.ID) error
	ListContractsByState(state contract.State) ([]contract.Contract, error)
	ListContracts() ([]contract.Contract, error)
}

// ChannelStore is the durable mapping from channel-id to the channel's
// current state variant.
type ChannelStore interface {
	GetChannel(id dlcchannel.ID) (dlcchannel.Channel, error)
	GetChannelByTemporaryID(tempID dlcchannel.TemporaryID) (dlcchannel.Channel, error)
	UpsertChannel(ch dlcchannel.Channel) error
	DeleteChannel(id dlcchannel.ID) error
	ListChannelsByState(state dlcchannel.State) ([]dlcchannel.Channel, error)
	ListChannels() ([]dlcchannel.Channel, error)
}

// Store is the combined durable-storage contract the Manager depends on.
// UpsertChannelAndContract must be atomic: either both the channel and the
// optional contract side-effect land, or neither does (spec §5).
type Store interface {
	ContractStore
	ChannelStore

	// UpsertChannelAndContract atomically persists a channel alongside
	// an optional contract side-effect (e.g. Establish/Renew creating a
	// new contract, or Settle retiring one). contractUpdate may be nil.
	UpsertChannelAndContract(ch dlcchannel.Channel, contractUpdate contract.Contract) error

	// GetChainMonitor returns the persisted chain monitor, or a fresh
	// one if none has been persisted yet.
	GetChainMonitor() (*chainmonitor.ChainMonitor, error)

	// PersistChainMonitor writes the chain monitor as a whole (spec
	// §4.1: "the monitor is serialized as a whole; partial updates are
	// not externalized").
	PersistChainMonitor(m *chainmonitor.ChainMonitor) error
}
