package voice

import (
	"context"
	"sync"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
)

// Watcher turns gateway events about one identity into forced state changes
type Watcher struct {
	goutils.Component
	identity int
	selfID   func() string
	handler  ChangeHandler
	// onLeftVoice called when the identity leaves voice in a guild
	onLeftVoice func(guildID string)

	lock    sync.Mutex
	regions map[string]string
}

/*
NewWatcher define a new forced change watcher

	@param identity int - the watched identity
	@param selfID func() string - returns the identity's user ID
	@param onLeftVoice func(guildID string) - optional call when the identity leaves voice
	@param logTags log.Fields - metadata fields to include in the logs
	@returns new Watcher
*/
func NewWatcher(
	identity int,
	selfID func() string,
	onLeftVoice func(guildID string),
	logTags log.Fields,
) *Watcher {
	return &Watcher{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		identity:    identity,
		selfID:      selfID,
		onLeftVoice: onLeftVoice,
		regions:     make(map[string]string),
	}
}

// SetHandler set the receiver of the changes
func (w *Watcher) SetHandler(handler ChangeHandler) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.handler = handler
}

// Install register the watcher's event handlers with a session
func (w *Watcher) Install(session *discordgo.Session) {
	session.AddHandler(w.GuildCreate)
	session.AddHandler(w.GuildUpdate)
	session.AddHandler(w.GuildMemberUpdate)
	session.AddHandler(w.VoiceStateUpdate)
}

// GuildCreate record the guild's starting voice region
func (w *Watcher) GuildCreate(_ *discordgo.Session, event *discordgo.GuildCreate) {
	if event == nil || event.Guild == nil {
		return
	}
	w.lock.Lock()
	defer w.lock.Unlock()
	w.regions[event.ID] = event.Region
}

// GuildUpdate report a voice region change
func (w *Watcher) GuildUpdate(_ *discordgo.Session, event *discordgo.GuildUpdate) {
	if event == nil || event.Guild == nil {
		return
	}
	w.lock.Lock()
	previous, known := w.regions[event.ID]
	w.regions[event.ID] = event.Region
	w.lock.Unlock()

	if !known || previous == event.Region {
		return
	}
	w.report(ForcedChange{Identity: w.identity, GuildID: event.ID, Kind: ChangeRegion})
}

// GuildMemberUpdate report a nickname change of the identity
func (w *Watcher) GuildMemberUpdate(_ *discordgo.Session, event *discordgo.GuildMemberUpdate) {
	if event == nil || event.Member == nil || event.User == nil {
		return
	}
	if event.User.ID != w.selfID() {
		return
	}
	w.report(ForcedChange{
		Identity: w.identity, GuildID: event.GuildID, Kind: ChangeNickAltered, Nick: event.Nick,
	})
}

// VoiceStateUpdate report the identity moving between voice channels
func (w *Watcher) VoiceStateUpdate(_ *discordgo.Session, event *discordgo.VoiceStateUpdate) {
	if event == nil || event.VoiceState == nil {
		return
	}
	if event.UserID != w.selfID() {
		return
	}
	if event.ChannelID == "" && w.onLeftVoice != nil {
		w.onLeftVoice(event.GuildID)
	}
	w.report(ForcedChange{
		Identity:  w.identity,
		GuildID:   event.GuildID,
		Kind:      ChangeChannelMoved,
		ChannelID: event.ChannelID,
	})
}

func (w *Watcher) report(change ForcedChange) {
	log.
		WithFields(w.LogTags).
		WithField("guild", change.GuildID).
		WithField("kind", change.Kind).
		Debug("Observed forced state change")
	w.lock.Lock()
	handler := w.handler
	w.lock.Unlock()
	if handler != nil {
		handler.HandleForcedChange(context.Background(), change)
	}
}
