package forwarder_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/common/ipc"
	"github.com/alwitt/voxmux/forwarder"
	"github.com/alwitt/voxmux/utils"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type capturingBroadcaster struct {
	lock     sync.Mutex
	messages []interface{}
	fail     bool
}

func (b *capturingBroadcaster) Broadcast(_ context.Context, message interface{}) error {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.messages = append(b.messages, message)
	if b.fail {
		return fmt.Errorf("dummy error")
	}
	return nil
}

func TestEventForwarder(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt := context.Background()

	captured := &capturingBroadcaster{}
	failing := &capturingBroadcaster{fail: true}
	uut := forwarder.NewEventForwarder(
		utils.NewFanOutBroadcaster(utils.NewLogBroadcaster(), failing, captured),
	)

	info := common.RecordingInfo{
		RecordingKeys: common.RecordingKeys{ID: 42, AccessKey: 7},
		GuildID:       uuid.NewString(),
		ChannelID:     uuid.NewString(),
	}

	// A failing member does not stop the others
	uut.RecordingStarted(utCtxt, info)
	uut.RecordingStopped(utCtxt, info, common.StopReasonTimeLimit)
	uut.OccupancyReport(utCtxt, common.Occupancy{Users: 3, Channels: 1})

	assert.Len(failing.messages, 3)
	assert.Len(captured.messages, 3)

	started, ok := captured.messages[0].(ipc.RecordingStartedEvent)
	assert.True(ok)
	assert.Equal(int64(42), started.ID)
	assert.Equal(info.GuildID, started.GuildID)
	assert.Equal(info.ChannelID, started.ChannelID)

	stopped, ok := captured.messages[1].(ipc.RecordingStoppedEvent)
	assert.True(ok)
	assert.Equal(int64(42), stopped.ID)
	assert.Equal(common.StopReasonTimeLimit, stopped.Reason)

	report, ok := captured.messages[2].(ipc.OccupancyReport)
	assert.True(ok)
	assert.Equal(3, report.Users)
	assert.Equal(1, report.Channels)
}
