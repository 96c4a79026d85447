package recorder

import (
	"encoding/binary"
	"time"

	"github.com/alwitt/voxmux/oggmux"
	"github.com/pion/rtp"
)

// GranuleRate granule position clock rate
const GranuleRate = 48000

// firstDataSequence data sink packet sequence of a track's first audio packet. Sequences 0
// and 1 belong to the two header packets.
const firstDataSequence = 2

/*
GranulePosition convert elapsed time since session start into a 48 kHz granule position

	@param elapsed time.Duration - elapsed time since session start
	@returns the granule position
*/
func GranulePosition(elapsed time.Duration) uint64 {
	if elapsed < 0 {
		return 0
	}
	secs := uint64(elapsed / time.Second)
	nsecs := uint64(elapsed % time.Second)
	// nsecs / (1e9 / 48000)
	return secs*GranuleRate + nsecs*3/62500
}

/*
StripExtension drop an RTP one-byte header extension block left at the start of a payload

	@param payload []byte - the received payload
	@returns the payload with the extension removed
*/
func StripExtension(payload []byte) []byte {
	if len(payload) <= 4 || binary.BigEndian.Uint16(payload[0:2]) != rtp.ExtensionProfileOneByte {
		return payload
	}
	elements := int(binary.BigEndian.Uint16(payload[2:4]))
	offset := 4
	for idx := 0; idx < elements && offset < len(payload); idx++ {
		offset += int(payload[offset]&0x0f) + 2
	}
	// padding
	for offset < len(payload) && payload[offset] == 0 {
		offset++
	}
	if offset >= len(payload) {
		return payload[:0]
	}
	return payload[offset:]
}

// TrackState state of one speaker's track
type TrackState struct {
	// Track track number, also the Ogg stream serial
	Track uint32
	// NextSequence next data sink packet sequence
	NextSequence uint32
	// HeaderEmitted whether the track's header packets were written
	HeaderEmitted bool
}

// NormalizedFrame a frame ready for the multiplexer
type NormalizedFrame struct {
	Track    uint32
	Sequence uint32
	Granule  uint64
	Payload  []byte
}

// FrameNormalizer assigns tracks, sequences and granule positions to received frames, and
// writes them through a multiplexer. Not safe for concurrent use.
type FrameNormalizer struct {
	mux       oggmux.Multiplexer
	elapsed   func() time.Duration
	tracks    map[string]*TrackState
	nextTrack uint32
}

/*
NewFrameNormalizer define a new frame normalizer

	@param mux oggmux.Multiplexer - the multiplexer to write to
	@param elapsed func() time.Duration - monotonic time since session start
	@returns new FrameNormalizer
*/
func NewFrameNormalizer(mux oggmux.Multiplexer, elapsed func() time.Duration) *FrameNormalizer {
	return &FrameNormalizer{
		mux: mux, elapsed: elapsed, tracks: make(map[string]*TrackState), nextTrack: 1,
	}
}

/*
Normalize compute the multiplexer inputs of a frame, creating the speaker's track if new

	@param speakerID string - the speaker
	@param payload []byte - the received payload
	@returns the normalized frame, and whether the speaker is new
*/
func (n *FrameNormalizer) Normalize(speakerID string, payload []byte) (NormalizedFrame, bool) {
	granule := GranulePosition(n.elapsed())
	track, ok := n.tracks[speakerID]
	if !ok {
		track = &TrackState{Track: n.nextTrack, NextSequence: firstDataSequence}
		n.nextTrack++
		n.tracks[speakerID] = track
	}
	result := NormalizedFrame{
		Track:    track.Track,
		Sequence: track.NextSequence,
		Granule:  granule,
		Payload:  StripExtension(payload),
	}
	return result, !ok
}

/*
Write normalize a frame and write it through the multiplexer

	@param speakerID string - the speaker
	@param payload []byte - the received payload
	@returns whether the byte ceiling was reached
*/
func (n *FrameNormalizer) Write(speakerID string, payload []byte) (bool, error) {
	frame, _ := n.Normalize(speakerID, payload)
	track := n.tracks[speakerID]
	if !track.HeaderEmitted {
		overLimit, err := n.mux.BeginTrack(track.Track)
		if err != nil {
			return overLimit, err
		}
		track.HeaderEmitted = true
	}
	overLimit, err := n.mux.WritePacket(
		oggmux.SinkData, frame.Track, frame.Sequence, frame.Granule, frame.Payload, false,
	)
	if err != nil {
		return overLimit, err
	}
	track.NextSequence++
	return overLimit, nil
}

/*
Track look up a speaker's track

	@param speakerID string - the speaker
	@returns the track state, if the speaker was seen
*/
func (n *FrameNormalizer) Track(speakerID string) (TrackState, bool) {
	track, ok := n.tracks[speakerID]
	if !ok {
		return TrackState{}, false
	}
	return *track, true
}

// Tracks number of tracks created
func (n *FrameNormalizer) Tracks() int {
	return len(n.tracks)
}
