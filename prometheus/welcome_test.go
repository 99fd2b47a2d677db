package prometheus

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWelcomeEmbedsStatusSection(t *testing.T) {
	t.Parallel()

	open := welcomeEmbeds(CommsOpen)
	closed := welcomeEmbeds(CommsClosed)
	require.Len(t, open, 9)
	require.Len(t, closed, 9)

	statusEmbed := open[6]
	require.Len(t, statusEmbed.Fields, 1)
	assert.Equal(t, "〚💼〛 Commissions Status", statusEmbed.Fields[0].Name)
	assert.Equal(t, "〚🟢〛 Open", statusEmbed.Fields[0].Value)
	assert.Equal(t, 0x2ECC71, statusEmbed.Color)

	statusEmbed = closed[6]
	assert.Equal(t, "〚🔴〛 Closed", statusEmbed.Fields[0].Value)
	assert.Equal(t, 0xE74C3C, statusEmbed.Color)

	// spacers between each section
	for _, n := range []int{1, 3, 5, 7} {
		assert.Equal(t, spacerColor, open[n].Color)
	}
}

func TestWelcomeCommsStatusFromChannelName(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	// unconfigured: closed
	assert.Equal(t, CommsClosed, bot.welcome.CommsStatus())

	require.NoError(
		t, bot.botCfg.Update(
			func(s *BotSettings) { s.Channels.CommsStatus = "status-chan" },
		),
	)
	session.mu.Lock()
	session.channels["status-chan"] = &discordgo.Channel{
		ID:   "status-chan",
		Name: commsChannelNameOpen,
	}
	session.mu.Unlock()
	assert.Equal(t, CommsOpen, bot.welcome.CommsStatus())

	session.mu.Lock()
	session.channels["status-chan"] = &discordgo.Channel{
		ID:   "status-chan",
		Name: commsChannelNameClosed,
	}
	session.mu.Unlock()
	assert.Equal(t, CommsClosed, bot.welcome.CommsStatus())
}

func TestWelcomeSetup(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	session.mu.Lock()
	session.channels["welcome-chan"] = &discordgo.Channel{
		ID:   "welcome-chan",
		Type: discordgo.ChannelTypeGuildText,
	}
	session.mu.Unlock()

	channel, err := bot.welcome.Setup("<#welcome-chan>")
	require.NoError(t, err)
	assert.Equal(t, "welcome-chan", channel.ID)

	// webhook created and bindings persisted
	settings := bot.botCfg.Get()
	assert.NotEmpty(t, settings.Webhooks.Welcome.ID)
	assert.NotEmpty(t, settings.Webhooks.Welcome.Token)
	assert.NotEmpty(t, settings.Webhooks.Welcome.MessageID)
	assert.Equal(t, "welcome-chan", settings.Channels.Welcome)

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.webhookExecutions, 1)
	execution := session.webhookExecutions[0]
	assert.Equal(t, welcomeWebhookUsername, execution.Username)
	assert.Len(t, execution.Embeds, 9)
}

func TestWelcomeSetupReusesExistingWebhook(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	session.mu.Lock()
	session.channels["welcome-chan"] = &discordgo.Channel{
		ID:   "welcome-chan",
		Type: discordgo.ChannelTypeGuildText,
	}
	session.webhooks["welcome-chan"] = []*discordgo.Webhook{
		{ID: "existing-hook", Name: welcomeWebhookName, Token: "tok"},
	}
	session.mu.Unlock()

	_, err := bot.welcome.Setup("welcome-chan")
	require.NoError(t, err)
	assert.Equal(t, "existing-hook", bot.botCfg.Get().Webhooks.Welcome.ID)
}

func TestWelcomeSetupRejectsNonTextChannel(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	session.mu.Lock()
	session.channels["voice-chan"] = &discordgo.Channel{
		ID:   "voice-chan",
		Type: discordgo.ChannelTypeGuildVoice,
	}
	session.mu.Unlock()

	_, err := bot.welcome.Setup("voice-chan")
	require.Error(t, err)

	_, err = bot.welcome.Setup("not-a-reference")
	require.Error(t, err)
}

func TestWelcomeSetComms(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	// unconfigured status channel is an error
	_, err := bot.welcome.SetComms(CommsOpen)
	require.Error(t, err)

	require.NoError(
		t, bot.botCfg.Update(
			func(s *BotSettings) { s.Channels.CommsStatus = "status-chan" },
		),
	)
	session.mu.Lock()
	session.channels["status-chan"] = &discordgo.Channel{
		ID:   "status-chan",
		Name: commsChannelNameClosed,
	}
	session.mu.Unlock()

	name, err := bot.welcome.SetComms(CommsOpen)
	require.NoError(t, err)
	assert.Equal(t, commsChannelNameOpen, name)

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Contains(t, session.channelEdits, "status-chan")
	assert.Equal(
		t, commsChannelNameOpen, session.channelEdits["status-chan"].Name,
	)
}

func TestWelcomeUpdateEmbedsEditsExistingMessage(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	require.NoError(
		t, bot.botCfg.Update(
			func(s *BotSettings) {
				s.Webhooks.Welcome.ID = "hook"
				s.Webhooks.Welcome.Token = "tok"
				s.Webhooks.Welcome.MessageID = "msg-1"
			},
		),
	)

	require.NoError(t, bot.welcome.UpdateEmbeds(CommsOpen))

	session.mu.Lock()
	defer session.mu.Unlock()
	require.Len(t, session.webhookMessageEdits, 1)
	require.NotNil(t, session.webhookMessageEdits[0].Embeds)
	assert.Len(t, *session.webhookMessageEdits[0].Embeds, 9)
	assert.Empty(t, session.webhookExecutions)
}

func TestWelcomeUpdateEmbedsUnconfigured(t *testing.T) {
	t.Parallel()
	bot, _ := newTestBot(t)
	err := bot.welcome.UpdateEmbeds(CommsOpen)
	assert.ErrorIs(t, err, ErrWelcomeNotConfigured)
}

func TestWelcomeHandleMemberJoinSendsDM(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	u := newDiscordUser(t)
	bot.welcome.HandleMemberJoin(
		&discordgo.GuildMemberAdd{
			Member: &discordgo.Member{User: u},
		},
	)

	dm := session.sentTo("dm-" + u.ID)
	require.Len(t, dm, 1)
	require.Len(t, dm[0].embeds, 1)
	assert.Contains(t, dm[0].embeds[0].Title, "Welcome to **Kentiq Universe**")
}

func TestWelcomeHandleMemberJoinIgnoresBots(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)

	u := newDiscordUser(t)
	u.Bot = true
	bot.welcome.HandleMemberJoin(
		&discordgo.GuildMemberAdd{Member: &discordgo.Member{User: u}},
	)
	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Empty(t, session.sentMessages)
}

func TestWelcomeHandleReactionAddGrantsRole(t *testing.T) {
	t.Parallel()
	bot, session := newTestBot(t)
	require.NoError(
		t, bot.botCfg.Update(
			func(s *BotSettings) {
				s.Webhooks.Welcome.MessageID = "welcome-msg"
				s.Access.RoleID = "member-role"
			},
		),
	)

	reaction := func(emojiID string, messageID string, userID string) *discordgo.MessageReactionAdd {
		return &discordgo.MessageReactionAdd{
			MessageReaction: &discordgo.MessageReaction{
				UserID:    userID,
				MessageID: messageID,
				Emoji:     discordgo.Emoji{ID: emojiID},
			},
		}
	}

	// wrong emoji
	bot.welcome.HandleReactionAdd(reaction("other-emoji", "welcome-msg", "u1"))
	// wrong message
	bot.welcome.HandleReactionAdd(reaction(checkEmojiID, "other-msg", "u1"))
	// the bot's own reaction
	bot.welcome.HandleReactionAdd(reaction(checkEmojiID, "welcome-msg", "bot-id"))

	session.mu.Lock()
	assert.Empty(t, session.roleGrants)
	session.mu.Unlock()

	bot.welcome.HandleReactionAdd(reaction(checkEmojiID, "welcome-msg", "u1"))
	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Equal(t, []string{"u1:member-role"}, session.roleGrants)
}
