package utils

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
)

// Broadcaster event broadcasting client
type Broadcaster interface {
	/*
		Broadcast broadcast a message

			@param ctxt context.Context - execution context
			@param message interface{} - message to broadcast
	*/
	Broadcast(ctxt context.Context, message interface{}) error
}

// pubsubBroadcasterImpl publishes to a PubSub topic
type pubsubBroadcasterImpl struct {
	goutils.Component
	psClient       goutils.PubSubClient
	broadcastTopic string
}

/*
NewPubSubBroadcaster define new PubSub message broadcast client

	@param psClient goutils.PubSubClient - PubSub client
	@param broadcastTopic string - message broadcast PubSub topic
	@returns new client
*/
func NewPubSubBroadcaster(
	psClient goutils.PubSubClient, broadcastTopic string,
) (Broadcaster, error) {
	return &pubsubBroadcasterImpl{
		Component: goutils.Component{
			LogTags: log.Fields{
				"module":          "utils",
				"component":       "pubsub-broadcaster",
				"broadcast-topic": broadcastTopic,
			},
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		}, psClient: psClient, broadcastTopic: broadcastTopic,
	}, nil
}

func (b *pubsubBroadcasterImpl) Broadcast(ctxt context.Context, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	_, err = b.psClient.Publish(ctxt, b.broadcastTopic, payload, nil, true)
	if err != nil {
		logTags := b.GetLogTagsForContext(ctxt)
		log.WithError(err).WithFields(logTags).Error("Broadcast publish failed")
	}
	return err
}

// logBroadcasterImpl writes each message to the log
type logBroadcasterImpl struct {
	goutils.Component
}

// NewLogBroadcaster define a broadcaster which only logs the messages
func NewLogBroadcaster() Broadcaster {
	return &logBroadcasterImpl{
		Component: goutils.Component{
			LogTags: log.Fields{"module": "utils", "component": "log-broadcaster"},
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
	}
}

func (b *logBroadcasterImpl) Broadcast(ctxt context.Context, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	log.WithFields(b.GetLogTagsForContext(ctxt)).WithField("event", string(payload)).Info("Broadcast")
	return nil
}

// fanOutBroadcaster delivers each message to every member
type fanOutBroadcaster []Broadcaster

// NewFanOutBroadcaster define a broadcaster delivering to all of the given broadcasters
func NewFanOutBroadcaster(members ...Broadcaster) Broadcaster {
	return fanOutBroadcaster(members)
}

func (b fanOutBroadcaster) Broadcast(ctxt context.Context, message interface{}) error {
	var result error
	for _, member := range b {
		result = errors.Join(result, member.Broadcast(ctxt, message))
	}
	return result
}
