package recorder

import (
	"fmt"
	"sync"

	"github.com/alwitt/voxmux/common"
)

// Reservation a registry slot held for a recording that is being set up
type Reservation struct {
	// GuildID the guild hosting the channel
	GuildID string
	// ChannelID the voice channel
	ChannelID string
	// Identity index of the reserved connection identity
	Identity int
	token    uint64
}

// Registry tracks which guild channels are being recorded, and by which identity
type Registry interface {
	/*
		Reserve reserve a guild channel, picking the first identity free within the guild

			@param guildID string - guild ID
			@param channelID string - channel ID
			@returns the reservation
	*/
	Reserve(guildID, channelID string) (Reservation, error)

	/*
		Commit attach the recording to its reservation

			@param reservation Reservation - the reservation
			@param entry Entry - the recording
	*/
	Commit(reservation Reservation, entry Entry) error

	/*
		Release drop a reservation that was never committed

			@param reservation Reservation - the reservation
	*/
	Release(reservation Reservation)

	/*
		Insert place a recording directly, without reservation

			@param entry Entry - the recording
	*/
	Insert(entry Entry) error

	/*
		Remove remove a recording, if it is still the one registered for its channel

			@param entry Entry - the recording
			@returns whether it was removed
	*/
	Remove(entry Entry) bool

	/*
		Find look up the recording of a channel

			@param guildID string - guild ID
			@param channelID string - channel ID
			@returns the recording if one is registered
	*/
	Find(guildID, channelID string) (Entry, bool)

	// FindByID look up a recording by ID
	FindByID(id int64) (Entry, bool)

	// ListGuild list the recordings of a guild
	ListGuild(guildID string) []Entry

	// List list all recordings
	List() []Entry

	// Count number of registered recordings, pending reservations excluded
	Count() int

	// Snapshot handoff snapshot of all registered recordings
	Snapshot() common.HandoffSnapshot

	// Occupancy aggregate occupancy of all registered recordings
	Occupancy() common.Occupancy
}

type registrySlot struct {
	identity int
	token    uint64
	entry    Entry
}

// registryImpl implements Registry
type registryImpl struct {
	lock       sync.Mutex
	identities int
	guilds     map[string]map[string]*registrySlot
	nextToken  uint64
}

/*
NewRegistry define a new recording registry

	@param identities int - number of connection identities
	@returns new Registry
*/
func NewRegistry(identities int) Registry {
	if identities < 1 {
		identities = 1
	}
	return &registryImpl{identities: identities, guilds: make(map[string]map[string]*registrySlot)}
}

func (r *registryImpl) Reserve(guildID, channelID string) (Reservation, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	channels := r.guilds[guildID]
	if slot, ok := channels[channelID]; ok {
		if slot.entry != nil {
			return Reservation{}, common.AlreadyRecordingError{Existing: slot.entry.Keys()}
		}
		return Reservation{}, common.ErrAlreadyRecording
	}

	// First identity not busy within the guild
	busy := make(map[int]bool, len(channels))
	for _, slot := range channels {
		busy[slot.identity] = true
	}
	identity := -1
	for idx := 0; idx < r.identities; idx++ {
		if !busy[idx] {
			identity = idx
			break
		}
	}
	if identity < 0 {
		return Reservation{}, common.ErrNoCapacity
	}

	if channels == nil {
		channels = make(map[string]*registrySlot)
		r.guilds[guildID] = channels
	}
	r.nextToken++
	channels[channelID] = &registrySlot{identity: identity, token: r.nextToken}
	return Reservation{
		GuildID: guildID, ChannelID: channelID, Identity: identity, token: r.nextToken,
	}, nil
}

func (r *registryImpl) Commit(reservation Reservation, entry Entry) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	slot, ok := r.guilds[reservation.GuildID][reservation.ChannelID]
	if !ok || slot.token != reservation.token || slot.entry != nil {
		return fmt.Errorf(
			"reservation of %s/%s no longer held", reservation.GuildID, reservation.ChannelID,
		)
	}
	slot.entry = entry
	return nil
}

func (r *registryImpl) Release(reservation Reservation) {
	r.lock.Lock()
	defer r.lock.Unlock()
	slot, ok := r.guilds[reservation.GuildID][reservation.ChannelID]
	if ok && slot.token == reservation.token && slot.entry == nil {
		r.deleteSlot(reservation.GuildID, reservation.ChannelID)
	}
}

func (r *registryImpl) Insert(entry Entry) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	channels := r.guilds[entry.GuildID()]
	if slot, ok := channels[entry.ChannelID()]; ok {
		if slot.entry != nil {
			return common.AlreadyRecordingError{Existing: slot.entry.Keys()}
		}
		return common.ErrAlreadyRecording
	}
	if channels == nil {
		channels = make(map[string]*registrySlot)
		r.guilds[entry.GuildID()] = channels
	}
	r.nextToken++
	channels[entry.ChannelID()] = &registrySlot{
		identity: entry.Identity(), token: r.nextToken, entry: entry,
	}
	return nil
}

func (r *registryImpl) Remove(entry Entry) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	slot, ok := r.guilds[entry.GuildID()][entry.ChannelID()]
	if !ok || slot.entry != entry {
		return false
	}
	r.deleteSlot(entry.GuildID(), entry.ChannelID())
	return true
}

func (r *registryImpl) deleteSlot(guildID, channelID string) {
	delete(r.guilds[guildID], channelID)
	if len(r.guilds[guildID]) == 0 {
		delete(r.guilds, guildID)
	}
}

func (r *registryImpl) Find(guildID, channelID string) (Entry, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()
	slot, ok := r.guilds[guildID][channelID]
	if !ok || slot.entry == nil {
		return nil, false
	}
	return slot.entry, true
}

func (r *registryImpl) FindByID(id int64) (Entry, bool) {
	for _, entry := range r.List() {
		if entry.Keys().ID == id {
			return entry, true
		}
	}
	return nil, false
}

func (r *registryImpl) ListGuild(guildID string) []Entry {
	r.lock.Lock()
	defer r.lock.Unlock()
	result := []Entry{}
	for _, slot := range r.guilds[guildID] {
		if slot.entry != nil {
			result = append(result, slot.entry)
		}
	}
	return result
}

func (r *registryImpl) List() []Entry {
	r.lock.Lock()
	defer r.lock.Unlock()
	result := []Entry{}
	for _, channels := range r.guilds {
		for _, slot := range channels {
			if slot.entry != nil {
				result = append(result, slot.entry)
			}
		}
	}
	return result
}

func (r *registryImpl) Count() int {
	return len(r.List())
}

// Snapshot and Occupancy query participants outside the lock
func (r *registryImpl) Snapshot() common.HandoffSnapshot {
	result := common.HandoffSnapshot{}
	for _, entry := range r.List() {
		channels, ok := result[entry.GuildID()]
		if !ok {
			channels = make(map[string]common.HandoffEntry)
			result[entry.GuildID()] = channels
		}
		keys := entry.Keys()
		channels[entry.ChannelID()] = common.HandoffEntry{
			ID:        keys.ID,
			AccessKey: keys.AccessKey,
			Size:      entry.Participants(),
			Identity:  entry.Identity(),
		}
	}
	return result
}

func (r *registryImpl) Occupancy() common.Occupancy {
	result := common.Occupancy{}
	for _, entry := range r.List() {
		result.Channels++
		if participants := entry.Participants(); participants > 1 {
			result.Users += participants - 1
		}
	}
	return result
}
