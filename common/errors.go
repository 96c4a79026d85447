package common

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRecording the channel is already being recorded
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNoCapacity every connection identity is busy in the guild
	ErrNoCapacity = errors.New("no free connection identity")
	// ErrGuildNotVisible the assigned identity is not in the guild
	ErrGuildNotVisible = errors.New("guild not visible to identity")
	// ErrChannelNotVisible the assigned identity can not see the channel
	ErrChannelNotVisible = errors.New("channel not visible to identity")
	// ErrNoPermission the assigned identity may not join the channel
	ErrNoPermission = errors.New("no permission to join channel")
	// ErrDraining the process is restarting and admits no new recordings
	ErrDraining = errors.New("restart in progress")
	// ErrUnknownRecording no such recording
	ErrUnknownRecording = errors.New("unknown recording")
	// ErrBadKey access or delete key mismatch
	ErrBadKey = errors.New("invalid recording key")
)

// AlreadyRecordingError ErrAlreadyRecording carrying the existing recording
type AlreadyRecordingError struct {
	Existing RecordingKeys
}

func (e AlreadyRecordingError) Error() string {
	return fmt.Sprintf("%s: recording %d", ErrAlreadyRecording.Error(), e.Existing.ID)
}

// Is support errors.Is against ErrAlreadyRecording
func (e AlreadyRecordingError) Is(target error) bool {
	return target == ErrAlreadyRecording
}
