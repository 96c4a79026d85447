package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
)

// DiscordIntents gateway intents each identity session needs
const DiscordIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsDirectMessages

// discordConnector Connector backed by one bot session
type discordConnector struct {
	goutils.Component
	identity int
	session  *discordgo.Session
	queueLen int
	watcher  *Watcher

	lock        sync.Mutex
	connections map[string]*discordConnection
}

// DiscordConnector a Connector backed by a chat gateway session
type DiscordConnector interface {
	Connector

	// Session the underlying gateway session
	Session() *discordgo.Session

	// Watcher the forced change watcher of this identity
	Watcher() *Watcher

	// Close close the gateway session
	Close() error
}

/*
OpenDiscordSession login with a bot token and open the gateway session

	@param token string - the bot token
	@returns the opened session
*/
func OpenDiscordSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = DiscordIntents
	session.StateEnabled = true
	if err := session.Open(); err != nil {
		return nil, err
	}
	return session, nil
}

/*
NewDiscordConnector define a new connector for one identity

	@param identity int - identity index, 0 being the primary
	@param session *discordgo.Session - the identity's opened session
	@param queueLen int - per connection frame queue length
	@param logTags log.Fields - metadata fields to include in the logs
	@returns new DiscordConnector
*/
func NewDiscordConnector(
	identity int, session *discordgo.Session, queueLen int, logTags log.Fields,
) DiscordConnector {
	connectorTags := log.Fields{}
	for key, value := range logTags {
		connectorTags[key] = value
	}
	connectorTags["identity"] = identity

	instance := &discordConnector{
		Component: goutils.Component{
			LogTags: connectorTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		identity:    identity,
		session:     session,
		queueLen:    queueLen,
		connections: make(map[string]*discordConnection),
	}
	instance.watcher = NewWatcher(identity, instance.UserID, instance.leftVoice, connectorTags)
	instance.watcher.Install(session)
	return instance
}

func (c *discordConnector) Identity() int {
	return c.identity
}

func (c *discordConnector) Session() *discordgo.Session {
	return c.session
}

func (c *discordConnector) Watcher() *Watcher {
	return c.watcher
}

func (c *discordConnector) Close() error {
	return c.session.Close()
}

func (c *discordConnector) UserID() string {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

func (c *discordConnector) CanSeeGuild(guildID string) bool {
	_, err := c.session.State.Guild(guildID)
	return err == nil
}

func (c *discordConnector) permissions(channelID string) (int64, bool) {
	perms, err := c.session.State.UserChannelPermissions(c.UserID(), channelID)
	if err != nil {
		return 0, false
	}
	return perms, true
}

func (c *discordConnector) CanSeeChannel(guildID, channelID string) bool {
	channel, err := c.session.State.Channel(channelID)
	if err != nil || channel.GuildID != guildID {
		return false
	}
	perms, ok := c.permissions(channelID)
	return ok && perms&discordgo.PermissionViewChannel != 0
}

func (c *discordConnector) CanConnect(guildID, channelID string) bool {
	perms, ok := c.permissions(channelID)
	return ok && perms&discordgo.PermissionVoiceConnect != 0
}

/*
Join join a voice channel

	@param ctxt context.Context - execution context
	@param guildID string - guild ID
	@param channelID string - voice channel ID
	@returns the established connection
*/
func (c *discordConnector) Join(
	ctxt context.Context, guildID, channelID string,
) (Connection, error) {
	logTags := c.GetLogTagsForContext(ctxt)

	// Self-muted, not deafened
	vc, err := c.session.ChannelVoiceJoin(guildID, channelID, true, false)
	if err != nil {
		log.
			WithError(err).
			WithFields(logTags).
			WithField("guild", guildID).
			WithField("channel", channelID).
			Error("Voice channel join failed")
		return nil, fmt.Errorf("%w: %s", ErrJoinFailed, err.Error())
	}

	connTags := log.Fields{}
	for key, value := range c.LogTags {
		connTags[key] = value
	}
	connTags["guild"] = guildID
	connTags["channel"] = channelID

	conn := &discordConnection{
		owner:     c,
		guildID:   guildID,
		channelID: channelID,
		vc:        vc,
		relay:     NewRelay(context.Background(), vc.OpusRecv, c.queueLen, connTags),
	}
	vc.AddHandler(func(_ *discordgo.VoiceConnection, update *discordgo.VoiceSpeakingUpdate) {
		if update == nil || update.UserID == "" {
			return
		}
		conn.relay.MapSpeaker(uint32(update.SSRC), update.UserID)
	})

	c.lock.Lock()
	c.connections[guildID] = conn
	c.lock.Unlock()

	log.WithFields(connTags).Info("Joined voice channel")
	return conn, nil
}

// leftVoice the identity is no longer in voice in a guild
func (c *discordConnector) leftVoice(guildID string) {
	c.lock.Lock()
	conn, ok := c.connections[guildID]
	delete(c.connections, guildID)
	c.lock.Unlock()
	if ok {
		conn.relay.Signal(Event{Type: EventDisconnect})
	}
}

// forget drop a connection that is being closed on purpose
func (c *discordConnector) forget(conn *discordConnection) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if current, ok := c.connections[conn.guildID]; ok && current == conn {
		delete(c.connections, conn.guildID)
	}
}

/*
SetNickname change the identity's nickname within a guild

	@param ctxt context.Context - execution context
	@param guildID string - guild ID
	@param nick string - the new nickname
*/
func (c *discordConnector) SetNickname(ctxt context.Context, guildID, nick string) error {
	err := c.session.GuildMemberNickname(guildID, "@me", nick)
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) &&
		restErr.Message != nil &&
		restErr.Message.Code == discordgo.ErrCodeMissingPermissions {
		return ErrNickPermission
	}
	return err
}

// discordConnection one joined voice channel
type discordConnection struct {
	owner     *discordConnector
	guildID   string
	channelID string
	vc        *discordgo.VoiceConnection
	relay     *Relay
	closeOnce sync.Once
}

func (c *discordConnection) Frames() <-chan Frame {
	return c.relay.Frames()
}

func (c *discordConnection) Events() <-chan Event {
	return c.relay.Events()
}

func (c *discordConnection) Participants() (int, error) {
	state := c.owner.session.State
	guild, err := state.Guild(c.guildID)
	if err != nil {
		return 0, err
	}
	state.RLock()
	defer state.RUnlock()
	count := 0
	for _, voiceState := range guild.VoiceStates {
		if voiceState != nil && voiceState.ChannelID == c.channelID {
			count++
		}
	}
	return count, nil
}

func (c *discordConnection) Disconnect(ctxt context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.owner.forget(c)
		err = c.vc.Disconnect()
		c.relay.Stop()
	})
	return err
}
