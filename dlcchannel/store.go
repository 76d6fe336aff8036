package dlcchannel

import "github.com/hashprotocol/dlcd/contract"

// Store is the narrow persistence contract the ChannelStateMachine needs.
// A concrete storage.Store satisfies this structurally; this package never
// imports the storage package (the same cycle-avoidance reasoning as
// contract.Store: storage imports dlcchannel to declare ChannelStore in
// terms of these types, so dlcchannel cannot import storage back).
type Store interface {
	GetChannel(id ID) (Channel, error)
	GetChannelByTemporaryID(tempID TemporaryID) (Channel, error)
	UpsertChannel(ch Channel) error
	DeleteChannel(id ID) error
	ListChannelsByState(state State) ([]Channel, error)
	ListChannels() ([]Channel, error)

	// UpsertChannelAndContract persists a channel and its currently
	// active nested contract atomically (spec §9: "a transition must
	// persist its new channel state, its optional contract side-effect,
	// and any chain-monitor deltas together").
	UpsertChannelAndContract(ch Channel, contractUpdate contract.Contract) error
}
