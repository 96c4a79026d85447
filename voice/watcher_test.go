package voice_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alwitt/voxmux/voice"
	"github.com/apex/log"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

// changeRecorder records forced changes
type changeRecorder struct {
	lock    sync.Mutex
	changes []voice.ForcedChange
}

func (r *changeRecorder) HandleForcedChange(ctxt context.Context, change voice.ForcedChange) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.changes = append(r.changes, change)
}

func (r *changeRecorder) observed() []voice.ForcedChange {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]voice.ForcedChange{}, r.changes...)
}

func TestWatcherForcedChanges(t *testing.T) {
	assert := assert.New(t)

	leftGuilds := []string{}
	uut := voice.NewWatcher(
		1,
		func() string { return "bot" },
		func(guildID string) { leftGuilds = append(leftGuilds, guildID) },
		log.Fields{"instance": "unit-tester"},
	)

	// Events before a handler is set are dropped
	uut.VoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1", ChannelID: "c1"},
	})

	recorder := &changeRecorder{}
	uut.SetHandler(recorder)

	// Case 0: other users are ignored
	uut.VoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "alice", GuildID: "g1", ChannelID: "c2"},
	})
	uut.GuildMemberUpdate(nil, &discordgo.GuildMemberUpdate{
		Member: &discordgo.Member{GuildID: "g1", Nick: "al", User: &discordgo.User{ID: "alice"}},
	})
	assert.Len(recorder.observed(), 0)

	// Case 1: the identity is moved, then disconnected
	uut.VoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1", ChannelID: "c2"},
	})
	uut.VoiceStateUpdate(nil, &discordgo.VoiceStateUpdate{
		VoiceState: &discordgo.VoiceState{UserID: "bot", GuildID: "g1", ChannelID: ""},
	})
	changes := recorder.observed()
	assert.Len(changes, 2)
	assert.Equal(voice.ForcedChange{
		Identity: 1, GuildID: "g1", Kind: voice.ChangeChannelMoved, ChannelID: "c2",
	}, changes[0])
	assert.Equal(voice.ChangeChannelMoved, changes[1].Kind)
	assert.Equal("", changes[1].ChannelID)
	assert.Equal([]string{"g1"}, leftGuilds)

	// Case 2: nickname change
	uut.GuildMemberUpdate(nil, &discordgo.GuildMemberUpdate{
		Member: &discordgo.Member{GuildID: "g1", Nick: "renamed", User: &discordgo.User{ID: "bot"}},
	})
	changes = recorder.observed()
	assert.Len(changes, 3)
	assert.Equal(voice.ChangeNickAltered, changes[2].Kind)
	assert.Equal("renamed", changes[2].Nick)

	// Case 3: region changes are reported only against a known region
	uut.GuildUpdate(nil, &discordgo.GuildUpdate{Guild: &discordgo.Guild{ID: "g2", Region: "us-west"}})
	assert.Len(recorder.observed(), 3)
	uut.GuildCreate(nil, &discordgo.GuildCreate{Guild: &discordgo.Guild{ID: "g1", Region: "us-west"}})
	uut.GuildUpdate(nil, &discordgo.GuildUpdate{Guild: &discordgo.Guild{ID: "g1", Region: "us-west"}})
	assert.Len(recorder.observed(), 3)
	uut.GuildUpdate(nil, &discordgo.GuildUpdate{Guild: &discordgo.Guild{ID: "g1", Region: "europe"}})
	changes = recorder.observed()
	assert.Len(changes, 4)
	assert.Equal(voice.ForcedChange{Identity: 1, GuildID: "g1", Kind: voice.ChangeRegion}, changes[3])
	// g2 became known through its update
	uut.GuildUpdate(nil, &discordgo.GuildUpdate{Guild: &discordgo.Guild{ID: "g2", Region: "brazil"}})
	assert.Len(recorder.observed(), 5)
}
