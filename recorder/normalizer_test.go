package recorder_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/alwitt/voxmux/oggmux"
	"github.com/alwitt/voxmux/recorder"
	"github.com/stretchr/testify/assert"
)

type memSink struct {
	bytes.Buffer
	closed bool
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func TestGranulePosition(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint64(0), recorder.GranulePosition(0))
	assert.Equal(uint64(0), recorder.GranulePosition(-time.Second))
	assert.Equal(uint64(48000), recorder.GranulePosition(time.Second))
	assert.Equal(uint64(960), recorder.GranulePosition(time.Millisecond*20))
	assert.Equal(uint64(48000*90+960), recorder.GranulePosition(time.Second*90+time.Millisecond*20))
}

func TestStripExtension(t *testing.T) {
	assert := assert.New(t)

	// No extension
	{
		payload := []byte{0xfc, 0xff, 0xfe, 0x01}
		assert.Equal(payload, recorder.StripExtension(payload))
	}

	// One element of 2 bytes, then one byte of padding
	{
		payload := []byte{0xbe, 0xde, 0x00, 0x01, 0x11, 0xaa, 0xbb, 0x00, 0xfc, 0xff}
		assert.Equal([]byte{0xfc, 0xff}, recorder.StripExtension(payload))
	}

	// Two elements
	{
		payload := []byte{0xbe, 0xde, 0x00, 0x02, 0x10, 0xaa, 0x20, 0xbb, 0xfc}
		assert.Equal([]byte{0xfc}, recorder.StripExtension(payload))
	}

	// Extension covers the entire payload
	{
		payload := []byte{0xbe, 0xde, 0x00, 0x01, 0x11, 0xaa, 0xbb}
		assert.Len(recorder.StripExtension(payload), 0)
	}
}

func TestFrameNormalizerTracks(t *testing.T) {
	assert := assert.New(t)

	h1, h2, data := &memSink{}, &memSink{}, &memSink{}
	mux, err := oggmux.NewMultiplexer("ut", h1, h2, data, 0)
	assert.Nil(err)

	now := time.Duration(0)
	uut := recorder.NewFrameNormalizer(mux, func() time.Duration { return now })

	// Tracks are numbered in order of first appearance
	speakers := []string{"alice", "bob", "alice", "carol", "bob", "alice"}
	expectedTrack := map[string]uint32{"alice": 1, "bob": 2, "carol": 3}
	expectedSequence := map[string]uint32{"alice": 2, "bob": 2, "carol": 2}
	for _, speaker := range speakers {
		now += time.Millisecond * 20
		frame, _ := uut.Normalize(speaker, []byte{0xfc, 0x01})
		assert.Equal(expectedTrack[speaker], frame.Track)
		assert.Equal(expectedSequence[speaker], frame.Sequence)
		assert.Equal(recorder.GranulePosition(now), frame.Granule)

		overLimit, err := uut.Write(speaker, []byte{0xfc, 0x01})
		assert.Nil(err)
		assert.False(overLimit)
		expectedSequence[speaker]++
	}
	assert.Equal(3, uut.Tracks())

	alice, ok := uut.Track("alice")
	assert.True(ok)
	assert.Equal(uint32(5), alice.NextSequence)
	assert.True(alice.HeaderEmitted)
	_, ok = uut.Track("dave")
	assert.False(ok)

	// One header page per track on each header sink
	{
		pages, err := oggmux.ParsePages(h1.Bytes())
		assert.Nil(err)
		assert.Len(pages, 3)
		for idx, page := range pages {
			assert.Equal(uint32(idx+1), page.Serial)
		}
		pages, err = oggmux.ParsePages(h2.Bytes())
		assert.Nil(err)
		assert.Len(pages, 3)
	}

	// Alice's data pages carry sequences 2, 3, 4
	{
		pages, err := oggmux.ParsePages(data.Bytes())
		assert.Nil(err)
		assert.Len(pages, len(speakers))
		aliceSequences := []uint32{}
		for _, page := range pages {
			if page.Serial == 1 {
				aliceSequences = append(aliceSequences, page.Sequence)
			}
		}
		assert.Equal([]uint32{2, 3, 4}, aliceSequences)
	}
}
