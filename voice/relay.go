package voice

import (
	"context"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
)

// maxPendingPackets packets held per unmapped SSRC until its speaker is known
const maxPendingPackets = 64

type speakerMapping struct {
	ssrc   uint32
	userID string
}

// Relay converts the raw packets of a voice connection into speaker frames
type Relay struct {
	goutils.Component
	packets <-chan *discordgo.Packet
	frames   chan Frame
	events   chan Event
	mappings chan speakerMapping

	// Only touched by the run loop
	speakers map[uint32]string
	pending  map[uint32][]*discordgo.Packet

	signalOnce       sync.Once
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewRelay define and start a new packet relay

	@param parentCtxt context.Context - parent context
	@param packets <-chan *discordgo.Packet - the connection's received packets
	@param queueLen int - frame queue length
	@param logTags log.Fields - metadata fields to include in the logs
	@returns new Relay
*/
func NewRelay(
	parentCtxt context.Context, packets <-chan *discordgo.Packet, queueLen int, logTags log.Fields,
) *Relay {
	if queueLen < 1 {
		queueLen = 1
	}
	instance := &Relay{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		packets:  packets,
		frames:   make(chan Frame, queueLen),
		events:   make(chan Event, 1),
		mappings: make(chan speakerMapping, queueLen),
		speakers: make(map[uint32]string),
		pending:  make(map[uint32][]*discordgo.Packet),
		wg:       sync.WaitGroup{},
	}
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)

	instance.wg.Add(1)
	go instance.run()
	return instance
}

// Frames the speaker frames
func (r *Relay) Frames() <-chan Frame {
	return r.frames
}

// Events connection lifecycle events. At most one is delivered.
func (r *Relay) Events() <-chan Event {
	return r.events
}

/*
MapSpeaker associate a packet SSRC with a speaker, releasing any held packets

	@param ssrc uint32 - the RTP SSRC
	@param userID string - the speaker
*/
func (r *Relay) MapSpeaker(ssrc uint32, userID string) {
	select {
	case r.mappings <- speakerMapping{ssrc: ssrc, userID: userID}:
	case <-r.workerCtxt.Done():
	}
}

/*
Signal report a connection lifecycle event. Only the first one is delivered.

	@param event Event - the event
*/
func (r *Relay) Signal(event Event) {
	r.signalOnce.Do(func() {
		select {
		case r.events <- event:
		case <-r.workerCtxt.Done():
		}
	})
}

// Stop stop relaying
func (r *Relay) Stop() {
	r.workerCtxtCancel()
	r.wg.Wait()
}

func (r *Relay) emit(frame Frame) bool {
	select {
	case r.frames <- frame:
		return true
	case <-r.workerCtxt.Done():
		return false
	}
}

func (r *Relay) run() {
	defer r.wg.Done()
	logTags := r.GetLogTagsForContext(r.workerCtxt)
	for {
		select {
		case <-r.workerCtxt.Done():
			return

		case mapping := <-r.mappings:
			r.speakers[mapping.ssrc] = mapping.userID
			held := r.pending[mapping.ssrc]
			delete(r.pending, mapping.ssrc)
			for _, packet := range held {
				if !r.emit(Frame{SpeakerID: mapping.userID, Payload: packet.Opus}) {
					return
				}
			}

		case packet, ok := <-r.packets:
			if !ok {
				log.WithFields(logTags).Info("Voice packet stream closed")
				r.Signal(Event{Type: EventDisconnect})
				return
			}
			if packet == nil || len(packet.Opus) == 0 {
				continue
			}

			speaker, known := r.speakers[packet.SSRC]
			if !known {
				held := r.pending[packet.SSRC]
				if len(held) >= maxPendingPackets {
					held = held[1:]
				}
				r.pending[packet.SSRC] = append(held, packet)
				continue
			}
			if !r.emit(Frame{SpeakerID: speaker, Payload: packet.Opus}) {
				return
			}
		}
	}
}
