package voice

import (
	"context"
	"errors"
)

// ErrJoinFailed joining the voice channel failed
var ErrJoinFailed = errors.New("failed to join voice channel")

// Frame one compressed audio packet from one speaker
type Frame struct {
	// SpeakerID user ID of the speaker
	SpeakerID string
	// Payload the Opus packet as received
	Payload []byte
}

// EventType connection lifecycle event type
type EventType int

const (
	// EventDisconnect the connection closed
	EventDisconnect EventType = iota
	// EventError the connection hit a transport error
	EventError
)

func (t EventType) String() string {
	if t == EventDisconnect {
		return "disconnect"
	}
	return "error"
}

// Event connection lifecycle event
type Event struct {
	Type EventType
	Err  error
}

// Connection an established voice channel connection
type Connection interface {
	// Frames received audio frames in arrival order
	Frames() <-chan Frame

	// Events connection disconnect and error events
	Events() <-chan Event

	/*
		Participants count the users in the voice channel, the bot included

			@returns participant count
	*/
	Participants() (int, error)

	/*
		Disconnect leave the voice channel

			@param ctxt context.Context - execution context
	*/
	Disconnect(ctxt context.Context) error
}

// Connector one bot login identity able to join one voice channel per guild
type Connector interface {
	// Identity index of this identity, 0 being the primary
	Identity() int

	// UserID the identity's user ID
	UserID() string

	// CanSeeGuild whether the identity is a member of the guild
	CanSeeGuild(guildID string) bool

	// CanSeeChannel whether the identity can see the channel
	CanSeeChannel(guildID, channelID string) bool

	// CanConnect whether the identity may connect to the voice channel
	CanConnect(guildID, channelID string) bool

	/*
		Join join a voice channel

			@param ctxt context.Context - execution context
			@param guildID string - guild ID
			@param channelID string - voice channel ID
			@returns the established connection
	*/
	Join(ctxt context.Context, guildID, channelID string) (Connection, error)

	/*
		SetNickname change the identity's nickname within a guild

			@param ctxt context.Context - execution context
			@param guildID string - guild ID
			@param nick string - the new nickname
	*/
	SetNickname(ctxt context.Context, guildID, nick string) error
}

// ErrNickPermission the identity may not change its own nickname
var ErrNickPermission = errors.New("missing nickname change permission")

// NoticeTarget where user facing notices about a recording are sent
type NoticeTarget struct {
	// UserID user receiving private notices
	UserID string
	// ChannelID text channel receiving public notices
	ChannelID string
}

// Notice a user facing message about a recording
type Notice struct {
	// Private whether the notice goes to the user directly. A private notice that can not be
	// delivered falls back to the public channel without PrivateDetail.
	Private bool
	// Text the notice
	Text string
	// PrivateDetail extra text only ever delivered privately
	PrivateDetail string
}

// Notifier sends user facing notices
type Notifier interface {
	/*
		Notify send a notice

			@param ctxt context.Context - execution context
			@param target NoticeTarget - notice recipients
			@param notice Notice - the notice
	*/
	Notify(ctxt context.Context, target NoticeTarget, notice Notice) error
}

// ChangeKind kind of externally caused state change affecting a recording identity
type ChangeKind string

const (
	// ChangeChannelMoved the identity was moved to another voice channel, or out of voice
	ChangeChannelMoved ChangeKind = "channel-moved"
	// ChangeNickAltered the identity's nickname was changed by someone else
	ChangeNickAltered ChangeKind = "nick-altered"
	// ChangeRegion the guild's voice region changed
	ChangeRegion ChangeKind = "region-changed"
)

// ForcedChange an externally caused state change for an identity in a guild
type ForcedChange struct {
	// Identity index of the affected identity
	Identity int
	// GuildID affected guild
	GuildID string
	// Kind what changed
	Kind ChangeKind
	// ChannelID voice channel the identity is now in. Empty if it left voice.
	ChannelID string
	// Nick the identity's nickname after the change
	Nick string
}

// ChangeHandler receives forced state changes
type ChangeHandler interface {
	/*
		HandleForcedChange process an externally caused state change

			@param ctxt context.Context - execution context
			@param change ForcedChange - the change
	*/
	HandleForcedChange(ctxt context.Context, change ForcedChange)
}
