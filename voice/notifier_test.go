package voice_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

type sentMessage struct {
	channelID string
	content   string
}

// fakeSender records sent chat messages
type fakeSender struct {
	lock     sync.Mutex
	blockDMs bool
	sent     []sentMessage
}

func (s *fakeSender) UserChannelCreate(
	recipientID string, options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	if s.blockDMs {
		return nil, fmt.Errorf("cannot send messages to this user")
	}
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (s *fakeSender) ChannelMessageSend(
	channelID string, content string, options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.sent = append(s.sent, sentMessage{channelID: channelID, content: content})
	return &discordgo.Message{ChannelID: channelID, Content: content}, nil
}

func (s *fakeSender) messages() []sentMessage {
	s.lock.Lock()
	defer s.lock.Unlock()
	return append([]sentMessage{}, s.sent...)
}

func TestNotifierDelivery(t *testing.T) {
	assert := assert.New(t)

	utCtxt := context.Background()
	target := voice.NoticeTarget{UserID: "1234", ChannelID: "text"}

	// Case 0: private notices go out as direct messages with the private detail
	{
		sender := &fakeSender{}
		uut := voice.NewNotifier(sender, log.Fields{"instance": "unit-tester"})
		assert.Nil(uut.Notify(utCtxt, target, voice.Notice{
			Private: true, Text: "Recording!", PrivateDetail: "To delete: link",
		}))
		sent := sender.messages()
		assert.Len(sent, 1)
		assert.Equal("dm-1234", sent[0].channelID)
		assert.Equal("Recording!\nTo delete: link", sent[0].content)
	}

	// Case 1: undeliverable private notices fall back to the channel without the detail
	{
		sender := &fakeSender{blockDMs: true}
		uut := voice.NewNotifier(sender, log.Fields{"instance": "unit-tester"})
		assert.Nil(uut.Notify(utCtxt, target, voice.Notice{
			Private: true, Text: "Recording!", PrivateDetail: "To delete: link",
		}))
		sent := sender.messages()
		assert.Len(sent, 1)
		assert.Equal("text", sent[0].channelID)
		assert.Equal("<@1234>, I can't send you direct messages. Recording!", sent[0].content)
		assert.NotContains(sent[0].content, "To delete")
	}

	// Case 2: public notices mention the requester
	{
		sender := &fakeSender{}
		uut := voice.NewNotifier(sender, log.Fields{"instance": "unit-tester"})
		assert.Nil(uut.Notify(utCtxt, target, voice.Notice{Text: "Failed to join!"}))
		sent := sender.messages()
		assert.Len(sent, 1)
		assert.Equal("text", sent[0].channelID)
		assert.Equal("<@1234>, Failed to join!", sent[0].content)
	}

	// Case 3: public notice without a channel
	{
		sender := &fakeSender{}
		uut := voice.NewNotifier(sender, log.Fields{"instance": "unit-tester"})
		assert.NotNil(uut.Notify(utCtxt, voice.NoticeTarget{UserID: "1234"}, voice.Notice{Text: "hi"}))
		assert.Len(sender.messages(), 0)
	}
}
