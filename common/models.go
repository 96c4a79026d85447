package common

import (
	"time"
)

// StopReason why a recording ended
type StopReason string

const (
	// StopReasonTimeLimit the record time limit elapsed
	StopReasonTimeLimit StopReason = "time-limit"
	// StopReasonSizeLimit the byte ceiling was reached
	StopReasonSizeLimit StopReason = "size-limit"
	// StopReasonNoData no audio ever arrived
	StopReasonNoData StopReason = "no-data"
	// StopReasonConnectionLost the voice connection dropped without being asked to
	StopReasonConnectionLost StopReason = "connection-lost"
	// StopReasonForced the bot was moved, renamed, or the server region changed
	StopReasonForced StopReason = "forced"
	// StopReasonRequested a user or operator asked for the recording to stop
	StopReasonRequested StopReason = "requested"
	// StopReasonJoinFailed the voice channel could not be joined
	StopReasonJoinFailed StopReason = "join-failed"
	// StopReasonIOError writing the recording failed
	StopReasonIOError StopReason = "io-error"
	// StopReasonNickPermission the bot may not change its nickname
	StopReasonNickPermission StopReason = "nick-permission"
	// StopReasonPlaceholderExpired a handed-off recording was never claimed
	StopReasonPlaceholderExpired StopReason = "placeholder-expired"
	// StopReasonRestart the process is restarting and handed the recording off
	StopReasonRestart StopReason = "restart"
)

// FeatureLimits per recording limits, in hours
type FeatureLimits struct {
	// Record max recording duration in hours
	Record float64 `json:"record"`
	// Download retention before deletion in hours
	Download float64 `json:"download"`
}

// Features the recording feature snapshot persisted next to the recording
type Features struct {
	Limits FeatureLimits `json:"limits"`
}

// RecordingLimits runtime limits of one recording
type RecordingLimits struct {
	// Record max recording duration
	Record time.Duration
	// Retention time until the recording is deleted
	Retention time.Duration
	// MaxBytes hard byte ceiling. Zero means unlimited.
	MaxBytes uint64
}

/*
LimitsFromFeatures convert a feature snapshot into runtime limits

	@param features Features - the feature snapshot
	@param maxBytes uint64 - hard byte ceiling
	@returns the limits
*/
func LimitsFromFeatures(features Features, maxBytes uint64) RecordingLimits {
	return RecordingLimits{
		Record:    time.Duration(features.Limits.Record * float64(time.Hour)),
		Retention: time.Duration(features.Limits.Download * float64(time.Hour)),
		MaxBytes:  maxBytes,
	}
}

// RecordingKeys identity and capabilities of one recording
type RecordingKeys struct {
	// ID recording ID
	ID int64 `json:"id"`
	// AccessKey key needed to download the recording
	AccessKey int64 `json:"access_key"`
	// DeleteKey key needed to delete the recording
	DeleteKey int64 `json:"delete_key,omitempty"`
}

// RecordingRequest a request to start recording a voice channel
type RecordingRequest struct {
	// GuildID the guild hosting the channel
	GuildID string `json:"guild" validate:"required"`
	// ChannelID the voice channel to record
	ChannelID string `json:"channel" validate:"required"`
	// RequesterID user asking for the recording. Private notices go to this user.
	RequesterID string `json:"requester" validate:"required"`
	// NoticeChannelID text channel for public notices
	NoticeChannelID string `json:"notice_channel" validate:"required"`
	// Features optional per request limit overrides
	Features *Features `json:"features,omitempty" validate:"omitempty"`
}

// RecordingInfo state of a recording known to the registry
type RecordingInfo struct {
	RecordingKeys
	// GuildID the guild hosting the channel
	GuildID string `json:"guild"`
	// ChannelID the recorded voice channel
	ChannelID string `json:"channel"`
	// Identity index of the connection identity, 0 being the primary
	Identity int `json:"identity"`
	// State lifecycle state
	State string `json:"state"`
	// Placeholder whether this is a handed-off recording without a live connection
	Placeholder bool `json:"placeholder"`
	// Participants participants in the voice channel, the bot included
	Participants int `json:"participants"`
	// BytesWritten bytes written so far
	BytesWritten uint64 `json:"bytes_written"`
	// StartedAt when the recording started
	StartedAt time.Time `json:"started_at"`
}

// Occupancy aggregate occupancy across all live recordings
type Occupancy struct {
	// Users participants in recorded channels, not counting the bot
	Users int `json:"users"`
	// Channels number of recorded channels
	Channels int `json:"channels"`
}

// HandoffEntry one in-flight recording carried across a restart
type HandoffEntry struct {
	// ID recording ID
	ID int64 `json:"id" validate:"required"`
	// AccessKey recording access key
	AccessKey int64 `json:"accessKey"`
	// Size participant count
	Size int `json:"size,omitempty"`
	// Identity index of the bot identity connected to the channel
	Identity int `json:"identity,omitempty"`
}

// HandoffSnapshot in-flight recordings keyed by guild then channel
type HandoffSnapshot map[string]map[string]HandoffEntry

// Entries number of recordings in the snapshot
func (s HandoffSnapshot) Entries() int {
	count := 0
	for _, channels := range s {
		count += len(channels)
	}
	return count
}

// RecordingEntry persisted index row of a recording
type RecordingEntry struct {
	// ID recording ID
	ID int64 `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	// GuildID the guild hosting the channel
	GuildID string `json:"guild" gorm:"column:guild;not null;index:recording_guild_index"`
	// ChannelID the recorded voice channel
	ChannelID string `json:"channel" gorm:"column:channel;not null"`
	// Identity index of the connection identity
	Identity int `json:"identity" gorm:"column:identity;not null"`
	// RequesterID user who asked for the recording
	RequesterID string `json:"requester" gorm:"column:requester;not null"`
	// AccessKey key needed to download the recording
	AccessKey int64 `json:"-" gorm:"column:access_key;not null"`
	// StartedAt when the recording started
	StartedAt time.Time `json:"started_at" gorm:"column:started_at;not null"`
	// EndedAt when the recording ended
	EndedAt *time.Time `json:"ended_at,omitempty" gorm:"column:ended_at;default:null"`
	// ExpiresAt when the recording artifacts are to be deleted
	ExpiresAt time.Time `json:"expires_at" gorm:"column:expires_at;not null;index:recording_expire_index"`
	// BytesWritten bytes written when the recording ended
	BytesWritten uint64 `json:"bytes_written" gorm:"column:bytes_written;default:0"`
	// EndReason why the recording ended
	EndReason *StopReason `json:"end_reason,omitempty" gorm:"column:end_reason;default:null"`
	// Archived whether the artifacts have been copied to object storage
	Archived  bool      `json:"archived" gorm:"column:archived;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
