package utils_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alwitt/voxmux/utils"
	"github.com/apex/log"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFileSystemWatcher(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	fsEvents := make(chan utils.FSEvent)

	uut, err := utils.NewFileSystemWatcher(fsEvents, "restart")
	assert.Nil(err)

	// Start the daemon loop
	assert.Nil(uut.Start(utCtxt, utCtxt))

	// Case 0: start daemon again
	assert.NotNil(uut.Start(utCtxt, utCtxt))

	expectNothing := func() {
		lclCtxt, lclCancel := context.WithTimeout(utCtxt, time.Millisecond*100)
		defer lclCancel()
		select {
		case <-lclCtxt.Done():
		case event := <-fsEvents:
			assert.Failf("unexpected event", "%s", event.Name)
		}
	}

	expectEvent := func(path string) {
		lclCtxt, lclCancel := context.WithTimeout(utCtxt, time.Second)
		defer lclCancel()
		select {
		case <-lclCtxt.Done():
			assert.Fail("expecting an event")
		case event, ok := <-fsEvents:
			assert.True(ok)
			assert.Equal(path, event.Name)
			assert.True(event.Has(fsnotify.Create))
		}
	}

	// Case 1: no events
	expectNothing()

	utDIR1 := filepath.Join("/tmp", uuid.NewString())
	assert.Nil(os.MkdirAll(utDIR1, os.ModePerm))
	defer func() {
		_ = os.RemoveAll(utDIR1)
	}()
	utDIR2 := filepath.Join("/tmp", uuid.NewString())
	assert.Nil(os.MkdirAll(utDIR2, os.ModePerm))
	defer func() {
		_ = os.RemoveAll(utDIR2)
	}()

	assert.Nil(uut.AddPath(utCtxt, utDIR1))
	assert.Nil(uut.AddPath(utCtxt, utDIR2))

	// Case 2: file with another name is ignored
	other := filepath.Join(utDIR1, uuid.NewString())
	assert.Nil(os.WriteFile(other, []byte(uuid.NewString()), 0o644))
	expectNothing()

	// Case 3: create the watched file
	trigger1 := filepath.Join(utDIR1, "restart")
	assert.Nil(os.WriteFile(trigger1, []byte{}, 0o644))
	expectEvent(trigger1)

	// Case 4: move the watched file into another watched DIR
	trigger2 := filepath.Join(utDIR2, "restart")
	assert.Nil(os.Rename(trigger1, trigger2))
	expectEvent(trigger2)

	// Case 5: no longer watching a DIR
	assert.Nil(uut.RemovePath(utCtxt, utDIR1))
	assert.Nil(os.WriteFile(trigger1, []byte{}, 0o644))
	expectNothing()

	assert.Nil(uut.Stop(utCtxt))
}
