package handoff_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/handoff"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// fakeChild scripted recorder process
type fakeChild struct {
	pid      int
	exit     chan error
	exitOnce sync.Once
}

func (c *fakeChild) PID() int { return c.pid }

func (c *fakeChild) Wait() error { return <-c.exit }

func (c *fakeChild) finish(err error) {
	c.exitOnce.Do(func() {
		c.exit <- err
	})
}

func (c *fakeChild) Terminate() error {
	c.finish(nil)
	return nil
}

// fakeLauncher hands out scripted processes
type fakeLauncher struct {
	lock     sync.Mutex
	nextPID  int
	fail     bool
	children []*fakeChild
}

func (l *fakeLauncher) Launch(ctxt context.Context) (handoff.ChildProcess, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.fail {
		return nil, errors.New("exec failed")
	}
	l.nextPID++
	child := &fakeChild{pid: l.nextPID, exit: make(chan error, 1)}
	l.children = append(l.children, child)
	return child, nil
}

func (l *fakeLauncher) launched() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return len(l.children)
}

func (l *fakeLauncher) child(idx int) *fakeChild {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.children[idx]
}

func (l *fakeLauncher) setFail(fail bool) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.fail = fail
}

func waitFor(timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(time.Millisecond * 10)
	}
	return condition()
}

func TestSupervisorHandoff(t *testing.T) {
	assert := assert.New(t)

	lockFile := fmt.Sprintf("/tmp/ut-%s.lock", uuid.NewString())
	launcher := &fakeLauncher{}
	uut := handoff.NewSupervisor(lockFile, launcher, time.Millisecond*50)

	runCtxt, runCancel := context.WithCancel(context.Background())
	runResult := make(chan error, 1)
	go func() {
		runResult <- uut.Run(runCtxt)
	}()

	assert.True(waitFor(time.Second, func() bool { return launcher.launched() == 1 }))

	// Case 0: only one supervisor at a time
	{
		other := handoff.NewSupervisor(lockFile, &fakeLauncher{}, time.Millisecond*50)
		err := other.Run(context.Background())
		assert.ErrorIs(err, handoff.ErrSupervisorRunning)
	}

	// Nothing handed over yet
	assert.Equal(0, uut.TakeSnapshot(context.Background()).Entries())

	testSnapshot := common.HandoffSnapshot{"g1": {"c1": common.HandoffEntry{ID: 5, AccessKey: 6, Size: 2}}}

	// Case 1: handoff from a process other than the current recorder
	assert.ErrorIs(uut.Handoff(context.Background(), 99, testSnapshot), handoff.ErrHandoffRefused)
	assert.Equal(1, launcher.launched())

	// Case 2: failed successor launch keeps the current recorder
	launcher.setFail(true)
	{
		err := uut.Handoff(context.Background(), 1, testSnapshot)
		assert.NotNil(err)
		assert.NotErrorIs(err, handoff.ErrHandoffRefused)
	}
	launcher.setFail(false)

	// Case 3: handoff starts the successor, and the snapshot is handed out once
	assert.Nil(uut.Handoff(context.Background(), 1, testSnapshot))
	assert.Equal(2, launcher.launched())
	assert.Equal(testSnapshot, uut.TakeSnapshot(context.Background()))
	assert.Equal(0, uut.TakeSnapshot(context.Background()).Entries())

	// Case 4: the drained recorder exiting is not a crash
	launcher.child(0).finish(nil)
	time.Sleep(time.Millisecond * 200)
	assert.Equal(2, launcher.launched())

	// Case 5: the current recorder crashing is replaced
	launcher.child(1).finish(errors.New("exit status 2"))
	assert.True(waitFor(time.Second, func() bool { return launcher.launched() == 3 }))

	// Case 6: stopping terminates the recorder
	runCancel()
	select {
	case err := <-runResult:
		assert.Nil(err)
	case <-time.After(time.Second * 5):
		assert.Fail("supervisor did not stop")
	}

	// The lock is released
	other := handoff.NewSupervisor(lockFile, &fakeLauncher{}, time.Millisecond*50)
	otherCtxt, otherCancel := context.WithCancel(context.Background())
	otherResult := make(chan error, 1)
	go func() {
		otherResult <- other.Run(otherCtxt)
	}()
	time.Sleep(time.Millisecond * 100)
	otherCancel()
	assert.Nil(<-otherResult)
}
