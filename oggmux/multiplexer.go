package oggmux

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// Sink one of the three output streams of a recording container
type Sink int

const (
	// SinkHeader1 receives the identification header page of every track
	SinkHeader1 Sink = iota
	// SinkHeader2 receives the comment header page of every track
	SinkHeader2
	// SinkData receives all audio packets of all tracks in arrival order
	SinkData
)

func (s Sink) String() string {
	switch s {
	case SinkHeader1:
		return "header1"
	case SinkHeader2:
		return "header2"
	case SinkData:
		return "data"
	default:
		return fmt.Sprintf("sink-%d", int(s))
	}
}

var (
	// ErrPacketTooLarge packet does not fit on one page
	ErrPacketTooLarge = errors.New("packet too large")
	// ErrOutOfOrder packet sequence or granule position went backwards
	ErrOutOfOrder = errors.New("packet out of order")
	// ErrTrackAlreadyStarted BeginTrack called twice for the same track
	ErrTrackAlreadyStarted = errors.New("track already started")
	// ErrTrackNotStarted payload written before BeginTrack
	ErrTrackNotStarted = errors.New("track not started")
	// ErrMultiplexerClosed write after Close
	ErrMultiplexerClosed = errors.New("multiplexer closed")
)

// Multiplexer writes packets of many concurrently active tracks into one multi-track Ogg
// container split across three sinks (header1, header2, data).
//
// Concatenating header1, header2, then data yields a playable multi-stream Ogg Opus file.
// Not safe for concurrent writers; BytesWritten may be read from any goroutine.
type Multiplexer interface {
	/*
		BeginTrack emit the two mandatory header packets of a new track

		The identification header goes to header1 as packet 0 and marks the start of the
		logical stream. The comment header goes to header2 as packet 1.

			@param track uint32 - track number, used as the logical stream serial
			@returns whether the byte ceiling has been reached
	*/
	BeginTrack(track uint32) (bool, error)

	/*
		WritePacket append one packet to a sink

			@param sink Sink - target sink
			@param track uint32 - track number
			@param sequence uint32 - packet sequence number, strictly increasing per sink and track
			@param granule uint64 - granule position, non-decreasing per track
			@param payload []byte - the packet
			@param firstPage bool - whether this starts the logical stream
			@returns whether the byte ceiling has been reached
	*/
	WritePacket(
		sink Sink, track uint32, sequence uint32, granule uint64, payload []byte, firstPage bool,
	) (bool, error)

	// BytesWritten total bytes committed to all sinks
	BytesWritten() uint64

	// Close close all sinks. Only the first call has effect.
	Close() error
}

type sinkTrackKey struct {
	sink  Sink
	track uint32
}

// multiplexerImpl implements Multiplexer
type multiplexerImpl struct {
	goutils.Component
	sinks        [3]io.WriteCloser
	byteCeiling  uint64
	bytesWritten atomic.Uint64
	lastSequence map[sinkTrackKey]uint32
	lastGranule  map[uint32]uint64
	started      map[uint32]bool
	closed       bool
	closeOnce    sync.Once
	closeErr     error
}

/*
NewMultiplexer define a new multi-track Ogg multiplexer

	@param name string - multiplexer instance name
	@param header1 io.WriteCloser - identification header sink
	@param header2 io.WriteCloser - comment header sink
	@param data io.WriteCloser - audio data sink
	@param byteCeiling uint64 - hard byte limit across all sinks; zero means unlimited
	@returns new Multiplexer
*/
func NewMultiplexer(
	name string, header1, header2, data io.WriteCloser, byteCeiling uint64,
) (Multiplexer, error) {
	if header1 == nil || header2 == nil || data == nil {
		return nil, fmt.Errorf("all three sinks must be provided")
	}
	return &multiplexerImpl{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "oggmux", "component": "multiplexer", "instance": name},
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		sinks:        [3]io.WriteCloser{header1, header2, data},
		byteCeiling:  byteCeiling,
		lastSequence: make(map[sinkTrackKey]uint32),
		lastGranule:  make(map[uint32]uint64),
		started:      make(map[uint32]bool),
	}, nil
}

func (m *multiplexerImpl) BeginTrack(track uint32) (bool, error) {
	if m.started[track] {
		return m.overCeiling(), fmt.Errorf("%w: track %d", ErrTrackAlreadyStarted, track)
	}
	m.started[track] = true
	if _, err := m.WritePacket(
		SinkHeader1, track, 0, 0, opusIdentificationHeader, true,
	); err != nil {
		return m.overCeiling(), err
	}
	return m.WritePacket(SinkHeader2, track, 1, 0, opusCommentHeader, false)
}

func (m *multiplexerImpl) WritePacket(
	sink Sink, track uint32, sequence uint32, granule uint64, payload []byte, firstPage bool,
) (bool, error) {
	if m.closed {
		return m.overCeiling(), ErrMultiplexerClosed
	}
	if sink < SinkHeader1 || sink > SinkData {
		return m.overCeiling(), fmt.Errorf("unknown sink %d", int(sink))
	}
	if !m.started[track] {
		return m.overCeiling(), fmt.Errorf("%w: track %d", ErrTrackNotStarted, track)
	}

	// Ordering checks
	key := sinkTrackKey{sink: sink, track: track}
	if last, ok := m.lastSequence[key]; ok && sequence <= last {
		return m.overCeiling(), fmt.Errorf(
			"%w: %s track %d sequence %d after %d", ErrOutOfOrder, sink, track, sequence, last,
		)
	}
	if last, ok := m.lastGranule[track]; ok && granule < last {
		return m.overCeiling(), fmt.Errorf(
			"%w: track %d granule %d after %d", ErrOutOfOrder, track, granule, last,
		)
	}

	var flags byte
	if firstPage {
		flags |= PageFlagBOS
	}
	page, err := encodePage(flags, granule, track, sequence, payload)
	if err != nil {
		return m.overCeiling(), err
	}

	written, err := m.sinks[sink].Write(page)
	if written > 0 {
		m.bytesWritten.Add(uint64(written))
	}
	if err != nil {
		log.
			WithError(err).
			WithFields(m.LogTags).
			WithField("sink", sink.String()).
			WithField("track", track).
			Error("Sink write failed")
		return m.overCeiling(), err
	}

	m.lastSequence[key] = sequence
	m.lastGranule[track] = granule
	return m.overCeiling(), nil
}

func (m *multiplexerImpl) overCeiling() bool {
	return m.byteCeiling > 0 && m.bytesWritten.Load() >= m.byteCeiling
}

func (m *multiplexerImpl) BytesWritten() uint64 {
	return m.bytesWritten.Load()
}

func (m *multiplexerImpl) Close() error {
	m.closeOnce.Do(func() {
		m.closed = true
		for _, sink := range m.sinks {
			if err := sink.Close(); err != nil && m.closeErr == nil {
				m.closeErr = err
			}
		}
	})
	return m.closeErr
}
