package forwarder

import (
	"context"
	"time"

	"github.com/alwitt/goutils"
	"github.com/alwitt/voxmux/common"
	"github.com/alwitt/voxmux/common/ipc"
	"github.com/alwitt/voxmux/recorder"
	"github.com/alwitt/voxmux/utils"
	"github.com/apex/log"
)

// eventForwarder broadcasts recording lifecycle events
type eventForwarder struct {
	goutils.Component
	broadcaster utils.Broadcaster
	now         func() time.Time
}

/*
NewEventForwarder define a recording event listener which broadcasts each event

	@param broadcaster utils.Broadcaster - event broadcaster
	@returns new recorder.EventListener
*/
func NewEventForwarder(broadcaster utils.Broadcaster) recorder.EventListener {
	return &eventForwarder{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "forwarder", "component": "event-forwarder"},
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

func (f *eventForwarder) forward(ctxt context.Context, event interface{}) {
	if err := f.broadcaster.Broadcast(ctxt, event); err != nil {
		logTags := f.GetLogTagsForContext(ctxt)
		log.WithError(err).WithFields(logTags).Warn("Unable to broadcast recording event")
	}
}

func (f *eventForwarder) RecordingStarted(ctxt context.Context, info common.RecordingInfo) {
	f.forward(ctxt, ipc.NewRecordingStartedEvent(info.ID, info.GuildID, info.ChannelID, f.now()))
}

func (f *eventForwarder) RecordingStopped(
	ctxt context.Context, info common.RecordingInfo, reason common.StopReason,
) {
	f.forward(
		ctxt,
		ipc.NewRecordingStoppedEvent(info.ID, info.GuildID, info.ChannelID, reason, f.now()),
	)
}

func (f *eventForwarder) OccupancyReport(ctxt context.Context, occupancy common.Occupancy) {
	f.forward(ctxt, ipc.NewOccupancyReport(occupancy, f.now()))
}
