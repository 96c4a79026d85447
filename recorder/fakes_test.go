package recorder_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alwitt/voxmux/voice"
)

// fakeConnection scripted voice connection
type fakeConnection struct {
	frames       chan voice.Frame
	events       chan voice.Event
	participants atomic.Int32
	disconnects  atomic.Int32
}

func newFakeConnection(participants int) *fakeConnection {
	conn := &fakeConnection{
		frames: make(chan voice.Frame, 64),
		events: make(chan voice.Event, 4),
	}
	conn.participants.Store(int32(participants))
	return conn
}

func (c *fakeConnection) Frames() <-chan voice.Frame { return c.frames }
func (c *fakeConnection) Events() <-chan voice.Event { return c.events }
func (c *fakeConnection) Participants() (int, error) {
	return int(c.participants.Load()), nil
}
func (c *fakeConnection) Disconnect(ctxt context.Context) error {
	c.disconnects.Add(1)
	return nil
}

// fakeConnector scripted connection identity
type fakeConnector struct {
	identity      int
	canSeeGuild   bool
	canSeeChannel bool
	canConnect    bool
	joinErr       error
	joinDelay     time.Duration
	nickErr       error
	participants  int

	lock  sync.Mutex
	conns []*fakeConnection
	nicks []string
}

func newFakeConnector(identity int) *fakeConnector {
	return &fakeConnector{
		identity:      identity,
		canSeeGuild:   true,
		canSeeChannel: true,
		canConnect:    true,
		participants:  2,
	}
}

func (c *fakeConnector) Identity() int  { return c.identity }
func (c *fakeConnector) UserID() string { return "bot" }
func (c *fakeConnector) CanSeeGuild(guildID string) bool {
	return c.canSeeGuild
}
func (c *fakeConnector) CanSeeChannel(guildID, channelID string) bool {
	return c.canSeeChannel
}
func (c *fakeConnector) CanConnect(guildID, channelID string) bool {
	return c.canConnect
}
func (c *fakeConnector) Join(ctxt context.Context, guildID, channelID string) (voice.Connection, error) {
	if c.joinDelay > 0 {
		time.Sleep(c.joinDelay)
	}
	if c.joinErr != nil {
		return nil, c.joinErr
	}
	conn := newFakeConnection(c.participants)
	c.lock.Lock()
	c.conns = append(c.conns, conn)
	c.lock.Unlock()
	return conn, nil
}
func (c *fakeConnector) SetNickname(ctxt context.Context, guildID, nick string) error {
	if c.nickErr != nil {
		return c.nickErr
	}
	c.lock.Lock()
	c.nicks = append(c.nicks, nick)
	c.lock.Unlock()
	return nil
}

func (c *fakeConnector) lastConn() *fakeConnection {
	c.lock.Lock()
	defer c.lock.Unlock()
	if len(c.conns) == 0 {
		return nil
	}
	return c.conns[len(c.conns)-1]
}

func (c *fakeConnector) joins() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.conns)
}

func (c *fakeConnector) nickHistory() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string{}, c.nicks...)
}

// fakeNotifier records notices
type fakeNotifier struct {
	lock    sync.Mutex
	notices []voice.Notice
}

func (n *fakeNotifier) Notify(ctxt context.Context, target voice.NoticeTarget, notice voice.Notice) error {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

// count notices containing a phrase
func (n *fakeNotifier) count(phrase string) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	count := 0
	for _, notice := range n.notices {
		if strings.Contains(notice.Text, phrase) {
			count++
		}
	}
	return count
}

func (n *fakeNotifier) find(phrase string) (voice.Notice, bool) {
	n.lock.Lock()
	defer n.lock.Unlock()
	for _, notice := range n.notices {
		if strings.Contains(notice.Text, phrase) {
			return notice, true
		}
	}
	return voice.Notice{}, false
}

// waitFor poll a condition until it holds or the timeout passes
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

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
