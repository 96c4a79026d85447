package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/apex/log"
)

// Placeholder a recording handed over from a previous process. It holds the channel and
// reports the last known participant count, without a live connection.
type Placeholder interface {
	Entry

	/*
		Arm start the safety timer that removes the placeholder if it is never closed

			@param ttl time.Duration - time until expiry
	*/
	Arm(ttl time.Duration) error
}

// PlaceholderClosedHook called once when a placeholder closes
type PlaceholderClosedHook func(ctxt context.Context, placeholder Placeholder, reason common.StopReason)

// placeholderImpl implements Placeholder
type placeholderImpl struct {
	goutils.Component
	guildID          string
	channelID        string
	entry            common.HandoffEntry
	receivedAt       time.Time
	onClosed         PlaceholderClosedHook
	closeOnce        sync.Once
	done             chan struct{}
	expiryTimer      goutils.IntervalTimer
	wg               sync.WaitGroup
	workerCtxt       context.Context
	workerCtxtCancel context.CancelFunc
}

/*
NewPlaceholder define a placeholder for a handed over recording

	@param parentCtxt context.Context - parent context
	@param guildID string - guild ID
	@param channelID string - channel ID
	@param entry common.HandoffEntry - the handed over recording
	@param onClosed PlaceholderClosedHook - called once when the placeholder closes
	@returns new Placeholder
*/
func NewPlaceholder(
	parentCtxt context.Context,
	guildID, channelID string,
	entry common.HandoffEntry,
	onClosed PlaceholderClosedHook,
) (Placeholder, error) {
	logTags := log.Fields{
		"module":    "recorder",
		"component": "placeholder",
		"instance":  entry.ID,
		"guild":     guildID,
		"channel":   channelID,
	}
	if entry.Size < 1 {
		entry.Size = 1
	}
	instance := &placeholderImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		guildID:    guildID,
		channelID:  channelID,
		entry:      entry,
		receivedAt: time.Now(),
		onClosed:   onClosed,
		done:       make(chan struct{}),
		wg:         sync.WaitGroup{},
	}
	instance.workerCtxt, instance.workerCtxtCancel = context.WithCancel(parentCtxt)

	timer, err := goutils.GetIntervalTimerInstance(instance.workerCtxt, &instance.wg, logTags)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define expiry timer")
		return nil, err
	}
	instance.expiryTimer = timer

	return instance, nil
}

func (p *placeholderImpl) Arm(ttl time.Duration) error {
	return p.expiryTimer.Start(ttl, func() error {
		log.WithFields(p.LogTags).Info("Handed over recording expired")
		return p.Stop(context.Background(), common.StopReasonPlaceholderExpired)
	}, true)
}

func (p *placeholderImpl) Keys() common.RecordingKeys {
	return common.RecordingKeys{ID: p.entry.ID, AccessKey: p.entry.AccessKey}
}

func (p *placeholderImpl) GuildID() string {
	return p.guildID
}

func (p *placeholderImpl) ChannelID() string {
	return p.channelID
}

// Identity the identity the previous process recorded with
func (p *placeholderImpl) Identity() int {
	return p.entry.Identity
}

func (p *placeholderImpl) Participants() int {
	return p.entry.Size
}

func (p *placeholderImpl) Info() common.RecordingInfo {
	state := StateActive
	select {
	case <-p.done:
		state = StateClosed
	default:
	}
	return common.RecordingInfo{
		RecordingKeys: p.Keys(),
		GuildID:       p.guildID,
		ChannelID:     p.channelID,
		Identity:      p.entry.Identity,
		State:         state.String(),
		Placeholder:   true,
		Participants:  p.entry.Size,
		StartedAt:     p.receivedAt.UTC(),
	}
}

func (p *placeholderImpl) Done() <-chan struct{} {
	return p.done
}

// Stop disconnecting a placeholder only removes it
func (p *placeholderImpl) Stop(ctxt context.Context, reason common.StopReason) error {
	p.closeOnce.Do(func() {
		p.workerCtxtCancel()
		_ = p.expiryTimer.Stop()
		log.WithFields(p.GetLogTagsForContext(ctxt)).WithField("reason", string(reason)).Info("Placeholder closed")
		if p.onClosed != nil {
			p.onClosed(ctxt, p, reason)
		}
		close(p.done)
	})
	return nil
}
