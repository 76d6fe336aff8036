package subchannel

import "github.com/hashprotocol/dlcd/dlcchannel"

// Store is the narrow persistence contract the SubChannelStateMachine
// needs. A concrete storage.Store satisfies this structurally; this
// package never imports the storage package, for the same cycle-avoidance
// reasoning as dlcchannel.Store (storage imports subchannel to declare a
// SubChannelStore in terms of these types, so subchannel cannot import
// storage back).
type Store interface {
	GetSubChannel(id ID) (SubChannel, error)
	GetSubChannelByTemporaryID(tempID TemporaryID) (SubChannel, error)
	UpsertSubChannel(sc SubChannel) error
	DeleteSubChannel(id ID) error
	ListSubChannelsByState(state State) ([]SubChannel, error)
	ListSubChannels() ([]SubChannel, error)

	// UpsertSubChannelAndChannel persists a sub-channel and its nested
	// DLC channel atomically (same reasoning as
	// dlcchannel.Store.UpsertChannelAndContract, one layer up).
	UpsertSubChannelAndChannel(sc SubChannel, channelUpdate dlcchannel.Channel) error
}
