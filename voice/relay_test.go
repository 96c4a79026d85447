package voice_test

import (
	"context"
	"testing"
	"time"

	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func nextFrame(t *testing.T, frames <-chan voice.Frame) voice.Frame {
	select {
	case frame := <-frames:
		return frame
	case <-time.After(time.Second):
		t.Fatal("no frame received")
	}
	return voice.Frame{}
}

func TestRelaySpeakerMapping(t *testing.T) {
	assert := assert.New(t)

	packets := make(chan *discordgo.Packet, 8)
	uut := voice.NewRelay(context.Background(), packets, 8, log.Fields{"instance": "unit-tester"})
	defer uut.Stop()

	// Case 0: packets before the speaker is known are held
	packets <- &discordgo.Packet{SSRC: 11, Opus: []byte("a")}
	// Empty payloads are dropped
	packets <- &discordgo.Packet{SSRC: 11, Opus: []byte{}}
	uut.MapSpeaker(11, "alice")
	frame := nextFrame(t, uut.Frames())
	assert.Equal("alice", frame.SpeakerID)
	assert.Equal([]byte("a"), frame.Payload)

	// Case 1: mapped speakers pass straight through
	packets <- &discordgo.Packet{SSRC: 11, Opus: []byte("b")}
	frame = nextFrame(t, uut.Frames())
	assert.Equal("alice", frame.SpeakerID)
	assert.Equal([]byte("b"), frame.Payload)

	uut.MapSpeaker(22, "bob")
	packets <- &discordgo.Packet{SSRC: 22, Opus: []byte("c")}
	frame = nextFrame(t, uut.Frames())
	assert.Equal("bob", frame.SpeakerID)
	assert.Equal([]byte("c"), frame.Payload)

	// Case 2: the end of the packet stream is a disconnect
	close(packets)
	select {
	case event := <-uut.Events():
		assert.Equal(voice.EventDisconnect, event.Type)
	case <-time.After(time.Second):
		assert.Fail("no disconnect event")
	}
}

func TestRelayHeldPacketOrder(t *testing.T) {
	assert := assert.New(t)

	for round := 0; round < 50; round++ {
		packets := make(chan *discordgo.Packet, 16)
		uut := voice.NewRelay(context.Background(), packets, 1, log.Fields{"instance": "unit-tester"})

		// Held until the speaker is known
		for idx := 0; idx < 4; idx++ {
			packets <- &discordgo.Packet{SSRC: 5, Opus: []byte{byte(idx)}}
		}
		// More packets arrive while the mapping is applied
		go func() {
			for idx := 4; idx < 8; idx++ {
				packets <- &discordgo.Packet{SSRC: 5, Opus: []byte{byte(idx)}}
			}
		}()
		go uut.MapSpeaker(5, "alice")

		received := []byte{}
		for idx := 0; idx < 8; idx++ {
			frame := nextFrame(t, uut.Frames())
			assert.Equal("alice", frame.SpeakerID)
			received = append(received, frame.Payload[0])
		}
		assert.Equal([]byte{0, 1, 2, 3, 4, 5, 6, 7}, received, "round %d", round)
		uut.Stop()
	}
}

func TestRelaySignalOnce(t *testing.T) {
	assert := assert.New(t)

	packets := make(chan *discordgo.Packet)
	uut := voice.NewRelay(context.Background(), packets, 1, log.Fields{"instance": "unit-tester"})

	uut.Signal(voice.Event{Type: voice.EventError})
	uut.Signal(voice.Event{Type: voice.EventDisconnect})

	event := <-uut.Events()
	assert.Equal(voice.EventError, event.Type)
	select {
	case <-uut.Events():
		assert.Fail("second event delivered")
	case <-time.After(time.Millisecond * 100):
	}

	uut.Stop()
	// Signals after stop do not block
	uut.Signal(voice.Event{Type: voice.EventDisconnect})
}
