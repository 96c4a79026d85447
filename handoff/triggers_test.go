package handoff_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/voxmux/handoff"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

type restartRecorder struct {
	lock     sync.Mutex
	triggers []string
}

func (r *restartRecorder) Restart(_ context.Context, trigger string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.triggers = append(r.triggers, trigger)
	if len(r.triggers) > 1 {
		return handoff.ErrRestartInProgress
	}
	return nil
}

func (r *restartRecorder) seen() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string{}, r.triggers...)
}

func TestUptimeTrigger(t *testing.T) {
	assert := assert.New(t)

	target := &restartRecorder{}
	uut, err := handoff.NewUptimeTrigger(context.Background(), time.Millisecond*50, target)
	assert.Nil(err)

	assert.True(waitFor(time.Second, func() bool { return len(target.seen()) == 1 }))
	assert.Equal([]string{"uptime"}, target.seen())

	// One shot
	time.Sleep(time.Millisecond * 150)
	assert.Len(target.seen(), 1)

	lclCtxt, lclCancel := context.WithTimeout(context.Background(), time.Second)
	defer lclCancel()
	assert.Nil(uut.Stop(lclCtxt))
}

func TestFileTrigger(t *testing.T) {
	assert := assert.New(t)

	testDir := filepath.Join("/tmp", uuid.NewString())
	assert.Nil(os.MkdirAll(testDir, 0o755))
	defer func() {
		_ = os.RemoveAll(testDir)
	}()
	triggerFile := filepath.Join(testDir, handoff.TriggerFileName)

	// A stale trigger is discarded at startup
	assert.Nil(os.WriteFile(triggerFile, []byte{}, 0o644))

	target := &restartRecorder{}
	uut, err := handoff.NewFileTrigger(context.Background(), testDir, target)
	assert.Nil(err)
	_, err = os.Stat(triggerFile)
	assert.True(os.IsNotExist(err))

	// Case 0: other files do nothing
	assert.Nil(os.WriteFile(filepath.Join(testDir, uuid.NewString()), []byte{}, 0o644))
	time.Sleep(time.Millisecond * 100)
	assert.Len(target.seen(), 0)

	// Case 1: trigger file starts a restart and is consumed
	assert.Nil(os.WriteFile(triggerFile, []byte{}, 0o644))
	assert.True(waitFor(time.Second, func() bool { return len(target.seen()) == 1 }))
	assert.Equal([]string{"trigger-file"}, target.seen())
	assert.True(waitFor(time.Second, func() bool {
		_, err := os.Stat(triggerFile)
		return os.IsNotExist(err)
	}))

	// Case 2: trigger again while the restart is in progress
	assert.Nil(os.WriteFile(triggerFile, []byte{}, 0o644))
	assert.True(waitFor(time.Second, func() bool { return len(target.seen()) == 2 }))

	lclCtxt, lclCancel := context.WithTimeout(context.Background(), time.Second)
	defer lclCancel()
	assert.Nil(uut.Stop(lclCtxt))
}
