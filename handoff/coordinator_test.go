package handoff_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/handoff"
	"github.com/alwitt/voxmux/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// fakeDrainer scripted recording manager
type fakeDrainer struct {
	lock     sync.Mutex
	calls    []string
	snapshot common.HandoffSnapshot
	idle     chan struct{}
}

func newFakeDrainer(snapshot common.HandoffSnapshot) *fakeDrainer {
	return &fakeDrainer{snapshot: snapshot, idle: make(chan struct{})}
}

func (d *fakeDrainer) record(call string) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDrainer) history() []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]string{}, d.calls...)
}

func (d *fakeDrainer) BeginDrain() {
	d.record("drain")
}

func (d *fakeDrainer) Snapshot() common.HandoffSnapshot {
	d.record("snapshot")
	return d.snapshot
}

func (d *fakeDrainer) WaitIdle(ctxt context.Context) error {
	select {
	case <-d.idle:
		return nil
	case <-ctxt.Done():
		return ctxt.Err()
	}
}

// fakeRespawner records respawn requests
type fakeRespawner struct {
	err       error
	snapshots []common.HandoffSnapshot
}

func (r *fakeRespawner) Respawn(ctxt context.Context, snapshot common.HandoffSnapshot) error {
	r.snapshots = append(r.snapshots, snapshot)
	return r.err
}

func exited(coordinator handoff.Coordinator, timeout time.Duration) bool {
	select {
	case <-coordinator.Exiting():
		return true
	case <-time.After(timeout):
		return false
	}
}

func TestCoordinatorSupervisedRestart(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	testSnapshot := common.HandoffSnapshot{"g1": {"c1": common.HandoffEntry{ID: 1, AccessKey: 2, Size: 2}}}
	drainer := newFakeDrainer(testSnapshot)
	supervisor := mocks.NewSupervisorClient(t)

	uut, err := handoff.NewCoordinator(utCtxt, handoff.CoordinatorParams{
		Drainer:    drainer,
		Supervisor: supervisor,
		DrainGrace: time.Millisecond * 100,
		MaxDrain:   time.Minute,
	})
	assert.Nil(err)
	assert.False(uut.Restarting())

	supervisor.On("RequestRestart", mock.Anything, os.Getpid(), testSnapshot).Return(nil).Once()

	assert.Nil(uut.Restart(utCtxt, "unit-test"))
	assert.True(uut.Restarting())
	// Admissions stop before the snapshot is taken
	assert.Equal([]string{"drain", "snapshot"}, drainer.history())

	// Only one restart at a time
	assert.ErrorIs(uut.Restart(utCtxt, "unit-test"), handoff.ErrRestartInProgress)

	// Live recordings hold the process
	assert.False(exited(uut, time.Millisecond*200))

	// Exit follows the grace period after the last recording closes
	close(drainer.idle)
	start := time.Now()
	assert.True(exited(uut, time.Second*2))
	assert.GreaterOrEqual(time.Since(start), time.Millisecond*100)

	assert.Nil(uut.Stop(utCtxt))
}

func TestCoordinatorRespawnFallback(t *testing.T) {
	assert := assert.New(t)
	utCtxt := context.Background()

	// Case 0: neither handover path is available
	{
		_, err := handoff.NewCoordinator(utCtxt, handoff.CoordinatorParams{
			Drainer: newFakeDrainer(nil),
		})
		assert.NotNil(err)
	}

	// Case 1: a failed respawn still drains, bounded by the max drain time
	{
		drainer := newFakeDrainer(common.HandoffSnapshot{})
		respawner := &fakeRespawner{err: errors.New("exec failed")}
		uut, err := handoff.NewCoordinator(utCtxt, handoff.CoordinatorParams{
			Drainer:    drainer,
			Respawner:  respawner,
			DrainGrace: time.Hour,
			MaxDrain:   time.Millisecond * 100,
		})
		assert.Nil(err)

		assert.Nil(uut.Restart(utCtxt, "unit-test"))
		assert.Len(respawner.snapshots, 1)
		assert.True(exited(uut, time.Second*2))
		assert.Nil(uut.Stop(utCtxt))
	}
}

func TestSnapshotFile(t *testing.T) {
	assert := assert.New(t)

	testSnapshot := common.HandoffSnapshot{
		"g1": {"c1": common.HandoffEntry{ID: 1, AccessKey: 2, Size: 4}},
		"g2": {"c9": common.HandoffEntry{ID: 3, AccessKey: 4}},
	}

	path, err := handoff.WriteSnapshotFile(t.TempDir(), testSnapshot)
	assert.Nil(err)

	snapshot, err := handoff.TakeSnapshotFile(path)
	assert.Nil(err)
	assert.Equal(testSnapshot, snapshot)

	// Consumed once
	_, err = handoff.TakeSnapshotFile(path)
	assert.NotNil(err)
}
