package utils_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alwitt/voxmux/utils"
	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/stretchr/testify/assert"
)

type failingBroadcaster struct {
	calls int
}

func (b *failingBroadcaster) Broadcast(_ context.Context, _ interface{}) error {
	b.calls++
	return errors.New("broker unavailable")
}

func TestFanOutBroadcaster(t *testing.T) {
	assert := assert.New(t)

	logger := log.Log.(*log.Logger)
	previous := logger.Handler
	previousLevel := logger.Level
	defer func() {
		logger.Handler = previous
		logger.Level = previousLevel
	}()
	captured := memory.New()
	logger.Handler = captured
	logger.Level = log.InfoLevel

	failing := &failingBroadcaster{}
	uut := utils.NewFanOutBroadcaster(failing, utils.NewLogBroadcaster())

	type event struct {
		Guild string `json:"guild"`
	}

	// A failing member does not block the others
	err := uut.Broadcast(context.Background(), event{Guild: "g-1"})
	assert.NotNil(err)
	assert.Equal(1, failing.calls)
	assert.Len(captured.Entries, 1)
	assert.Equal("Broadcast", captured.Entries[0].Message)
	assert.Equal(`{"guild":"g-1"}`, captured.Entries[0].Fields["event"])

	// All members succeeding
	uut = utils.NewFanOutBroadcaster(utils.NewLogBroadcaster())
	assert.Nil(uut.Broadcast(context.Background(), event{Guild: "g-2"}))
	assert.Len(captured.Entries, 2)

	// Unserializable message
	assert.NotNil(uut.Broadcast(context.Background(), make(chan int)))
	assert.Len(captured.Entries, 2)
}
