package voice

import (
	"context"
	"fmt"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
)

const noDirectMessagePrefix = "I can't send you direct messages. "

// MessageSender the chat API calls used to deliver notices
type MessageSender interface {
	UserChannelCreate(
		recipientID string, options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	ChannelMessageSend(
		channelID string, content string, options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
}

// chatNotifier delivers notices as chat messages
type chatNotifier struct {
	goutils.Component
	sender MessageSender
}

/*
NewNotifier define a new chat message notifier

	@param sender MessageSender - the chat client, usually the primary identity's session
	@param logTags log.Fields - metadata fields to include in the logs
	@returns new Notifier
*/
func NewNotifier(sender MessageSender, logTags log.Fields) Notifier {
	return &chatNotifier{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		sender: sender,
	}
}

func mention(userID string) string {
	if userID == "" {
		return ""
	}
	return fmt.Sprintf("<@%s>, ", userID)
}

/*
Notify send a notice

	@param ctxt context.Context - execution context
	@param target NoticeTarget - notice recipients
	@param notice Notice - the notice
*/
func (n *chatNotifier) Notify(ctxt context.Context, target NoticeTarget, notice Notice) error {
	logTags := n.GetLogTagsForContext(ctxt)

	if notice.Private && target.UserID != "" {
		err := n.sendDirect(target.UserID, notice)
		if err == nil {
			return nil
		}
		log.
			WithError(err).
			WithFields(logTags).
			WithField("user", target.UserID).
			Debug("Direct message failed, falling back to public channel")
		return n.sendPublic(target, noDirectMessagePrefix+notice.Text)
	}

	return n.sendPublic(target, notice.Text)
}

func (n *chatNotifier) sendDirect(userID string, notice Notice) error {
	dm, err := n.sender.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	content := notice.Text
	if notice.PrivateDetail != "" {
		content = content + "\n" + notice.PrivateDetail
	}
	_, err = n.sender.ChannelMessageSend(dm.ID, content)
	return err
}

func (n *chatNotifier) sendPublic(target NoticeTarget, text string) error {
	if target.ChannelID == "" {
		return fmt.Errorf("no public channel for notice to user '%s'", target.UserID)
	}
	_, err := n.sender.ChannelMessageSend(target.ChannelID, mention(target.UserID)+text)
	return err
}
