package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	level := &slog.LevelVar{}
	level.Set(slog.LevelDebug)
	return slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     level,
				AddSource: true,
			},
		),
	).With("test", t.Name())
}

// newTestBot assembles a bot against a mock session and a temp data
// directory, started far enough for command handlers to run.
func newTestBot(t testing.TB) (*Prometheus, *mockDiscordSession) {
	t.Helper()

	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dir
	cfg.BackupDir = filepath.Join(dir, "backups")
	cfg.Database = filepath.Join(dir, "audit.sqlite3")
	cfg.Discord.Token = fmt.Sprintf("token_%s", t.Name())
	cfg.Discord.ApplicationID = "app-id"
	cfg.Discord.GuildID = "guild-id"

	bot, err := New(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bot.initRun(ctx))

	session := newMockDiscordSession(t)
	bot.discord.session = session
	bot.runCtx = ctx
	bot.startedAt = time.Now()

	bot.tickets = newTicketManager(
		session, cfg.Discord.GuildID, cfg.DataDir, bot.audit, bot.logger,
	)
	bot.welcome = newWelcomeManager(
		session, bot.botCfg, cfg.Discord.GuildID, bot.logger,
	)
	bot.monitor = newDeployMonitor(session, cfg.Deploy, cfg.DataDir, bot.logger)
	bot.deployAPI = newDeployAPI(bot.monitor, cfg.Deploy, bot.logger)

	return bot, session
}

func newDiscordUser(t testing.TB) *discordgo.User {
	t.Helper()
	return &discordgo.User{
		ID:         fmt.Sprintf("u_%s", t.Name()),
		Username:   fmt.Sprintf("user_%s", t.Name()),
		GlobalName: t.Name(),
	}
}

// newCommandInteraction builds a guild slash command interaction. admin
// grants the member the Administrator permission bit.
func newCommandInteraction(
	t testing.TB,
	u *discordgo.User,
	name string,
	admin bool,
	options []*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.InteractionCreate {
	t.Helper()
	var perms int64
	if admin {
		perms = discordgo.PermissionAdministrator
	}
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        fmt.Sprintf("i_%s_%s", name, t.Name()),
			AppID:     "app-id",
			GuildID:   "guild-id",
			ChannelID: "channel-id",
			Type:      discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{
				Name:    name,
				Options: options,
			},
			Member: &discordgo.Member{
				User:        u,
				Permissions: perms,
			},
		},
	}
}

func newComponentInteraction(
	t testing.TB,
	u *discordgo.User,
	customID string,
	roles []string,
) *discordgo.InteractionCreate {
	t.Helper()
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        fmt.Sprintf("c_%s_%s", customID, t.Name()),
			AppID:     "app-id",
			GuildID:   "guild-id",
			ChannelID: "channel-id",
			Type:      discordgo.InteractionMessageComponent,
			Data: discordgo.MessageComponentInteractionData{
				CustomID:      customID,
				ComponentType: discordgo.ButtonComponent,
			},
			Member: &discordgo.Member{
				User:  u,
				Roles: roles,
			},
		},
	}
}

func stringOption(
	name string,
	value string,
) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}

type mockSentMessage struct {
	channelID string
	content   string
	embeds    []*discordgo.MessageEmbed
	files     []*discordgo.File
}

type mockEditedMessage struct {
	channelID string
	messageID string
	embeds    []*discordgo.MessageEmbed
}

// mockDiscordSession is a mock implementation of the DiscordSessionHandler
// interface. It records mutating calls for assertions and serves canned
// fixtures for reads.
type mockDiscordSession struct {
	mu     sync.Mutex
	logger *slog.Logger

	// fixtures
	channels       map[string]*discordgo.Channel
	guildChannels  []*discordgo.Channel
	invites        []*discordgo.Invite
	members        map[string]*discordgo.Member
	webhooks       map[string][]*discordgo.Webhook
	channelHistory map[string][]*discordgo.Message
	guild          *discordgo.Guild
	botUser        *discordgo.User

	// injectable errors
	channelErr        error
	createChannelErr  error
	webhookExecuteErr error

	// recorded calls
	sentMessages         []mockSentMessage
	editedEmbeds         []mockEditedMessage
	interactionResponses []*discordgo.InteractionResponse
	responseEdits        []*discordgo.WebhookEdit
	followups            []*discordgo.WebhookParams
	createdChannels      []discordgo.GuildChannelCreateData
	deletedChannels      []string
	deletedMessages      []string
	channelEdits         map[string]*discordgo.ChannelEdit
	roleGrants           []string
	webhookExecutions    []*discordgo.WebhookParams
	webhookMessageEdits  []*discordgo.WebhookEdit
	bulkCommands         []*discordgo.ApplicationCommand
	customStatus         string

	nextID int
}

func newMockDiscordSession(t testing.TB) *mockDiscordSession {
	return &mockDiscordSession{
		logger: newTestLogger(t).With(
			loggerNameKey, "mock_discord_session",
		),
		channels:       map[string]*discordgo.Channel{},
		members:        map[string]*discordgo.Member{},
		webhooks:       map[string][]*discordgo.Webhook{},
		channelHistory: map[string][]*discordgo.Message{},
		channelEdits:   map[string]*discordgo.ChannelEdit{},
		botUser:        &discordgo.User{ID: "bot-id", Username: "Prometheus"},
	}
}

func (m *mockDiscordSession) newIDLocked() string {
	m.nextID++
	return fmt.Sprintf("mock-%d", m.nextID)
}

func (m *mockDiscordSession) Open() error {
	m.logger.Info("opened session")
	return nil
}

func (m *mockDiscordSession) Close() error {
	m.logger.Info("closed session")
	return nil
}

func (m *mockDiscordSession) AddHandler(_ any) func() {
	m.logger.Info("added handler")
	return func() {}
}

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(
		m.sentMessages,
		mockSentMessage{channelID: channelID, content: message},
	)
	return &discordgo.Message{
		ID: m.newIDLocked(), ChannelID: channelID, Content: message,
	}, nil
}

func (m *mockDiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(
		m.sentMessages, mockSentMessage{
			channelID: channelID,
			content:   data.Content,
			embeds:    data.Embeds,
			files:     data.Files,
		},
	)
	return &discordgo.Message{
		ID: m.newIDLocked(), ChannelID: channelID, Content: data.Content,
	}, nil
}

func (m *mockDiscordSession) ChannelMessageSendEmbeds(
	channelID string,
	embeds []*discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sentMessages = append(
		m.sentMessages,
		mockSentMessage{channelID: channelID, embeds: embeds},
	)
	return &discordgo.Message{
		ID:        m.newIDLocked(),
		ChannelID: channelID,
		Embeds:    embeds,
	}, nil
}

func (m *mockDiscordSession) ChannelMessageEditEmbeds(
	channelID string,
	messageID string,
	embeds []*discordgo.MessageEmbed,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editedEmbeds = append(
		m.editedEmbeds, mockEditedMessage{
			channelID: channelID,
			messageID: messageID,
			embeds:    embeds,
		},
	)
	return &discordgo.Message{
		ID:        messageID,
		ChannelID: channelID,
		Embeds:    embeds,
	}, nil
}

func (m *mockDiscordSession) ChannelMessage(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.channelHistory[channelID] {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %s not found", messageID)
}

func (m *mockDiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	_ string,
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.channelHistory[channelID]
	if beforeID != "" {
		// history is stored newest first; skip everything at or before
		// the cursor
		idx := -1
		for n, msg := range history {
			if msg.ID == beforeID {
				idx = n
				break
			}
		}
		if idx < 0 {
			return nil, nil
		}
		history = history[idx+1:]
	}
	if len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func (m *mockDiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedMessages = append(
		m.deletedMessages, channelID+"/"+messageID,
	)
	return nil
}

func (m *mockDiscordSession) Channel(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.channelErr != nil {
		return nil, m.channelErr
	}
	c, ok := m.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s not found", channelID)
	}
	return c, nil
}

func (m *mockDiscordSession) ChannelEdit(
	channelID string,
	data *discordgo.ChannelEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelEdits[channelID] = data
	if c, ok := m.channels[channelID]; ok {
		updated := *c
		if data.Name != "" {
			updated.Name = data.Name
		}
		m.channels[channelID] = &updated
		return &updated, nil
	}
	return &discordgo.Channel{ID: channelID, Name: data.Name}, nil
}

func (m *mockDiscordSession) ChannelDelete(
	channelID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletedChannels = append(m.deletedChannels, channelID)
	return &discordgo.Channel{ID: channelID}, nil
}

func (m *mockDiscordSession) Guild(
	guildID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guild != nil {
		return m.guild, nil
	}
	return &discordgo.Guild{ID: guildID}, nil
}

func (m *mockDiscordSession) GuildChannels(
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guildChannels, nil
}

func (m *mockDiscordSession) GuildChannelCreateComplex(
	_ string,
	data discordgo.GuildChannelCreateData,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createChannelErr != nil {
		return nil, m.createChannelErr
	}
	m.createdChannels = append(m.createdChannels, data)
	channel := &discordgo.Channel{
		ID:       m.newIDLocked(),
		Name:     data.Name,
		Type:     data.Type,
		ParentID: data.ParentID,
	}
	m.guildChannels = append(m.guildChannels, channel)
	m.channels[channel.ID] = channel
	return channel, nil
}

func (m *mockDiscordSession) GuildInvites(
	_ string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Invite, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invites, nil
}

func (m *mockDiscordSession) GuildMember(
	_ string,
	userID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[userID]
	if !ok {
		return nil, fmt.Errorf("member %s not found", userID)
	}
	return member, nil
}

func (m *mockDiscordSession) GuildMemberRoleAdd(
	_ string,
	userID string,
	roleID string,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleGrants = append(m.roleGrants, userID+":"+roleID)
	return nil
}

func (m *mockDiscordSession) UserChannelCreate(
	recipientID string,
	_ ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	channel := &discordgo.Channel{
		ID:   "dm-" + recipientID,
		Type: discordgo.ChannelTypeDM,
	}
	m.channels[channel.ID] = channel
	return channel, nil
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactionResponses = append(m.interactionResponses, resp)
	return nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseEdits = append(m.responseEdits, newresp)
	return &discordgo.Message{ID: m.newIDLocked()}, nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups = append(m.followups, data)
	return &discordgo.Message{ID: m.newIDLocked()}, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	_ string,
	_ string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bulkCommands = commands
	return commands, nil
}

func (m *mockDiscordSession) ChannelWebhooks(
	channelID string,
	_ ...discordgo.RequestOption,
) ([]*discordgo.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.webhooks[channelID], nil
}

func (m *mockDiscordSession) WebhookCreate(
	channelID string,
	name string,
	_ string,
	_ ...discordgo.RequestOption,
) (*discordgo.Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hook := &discordgo.Webhook{
		ID:        m.newIDLocked(),
		ChannelID: channelID,
		Name:      name,
		Token:     "hook-token-" + channelID,
	}
	m.webhooks[channelID] = append(m.webhooks[channelID], hook)
	return hook, nil
}

func (m *mockDiscordSession) WebhookExecute(
	_ string,
	_ string,
	_ bool,
	data *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.webhookExecuteErr != nil {
		return nil, m.webhookExecuteErr
	}
	m.webhookExecutions = append(m.webhookExecutions, data)
	return &discordgo.Message{ID: m.newIDLocked()}, nil
}

func (m *mockDiscordSession) WebhookMessageEdit(
	_ string,
	_ string,
	messageID string,
	data *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookMessageEdits = append(m.webhookMessageEdits, data)
	return &discordgo.Message{ID: messageID}, nil
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customStatus = status
	return nil
}

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return 42 * time.Millisecond
}

func (m *mockDiscordSession) BotUser() *discordgo.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUser
}

func (m *mockDiscordSession) SetLogLevel(_ slog.Level) error {
	return nil
}

// last returns the most recent element of s, failing the test when empty.
func last[T any](t testing.TB, s []T) T {
	t.Helper()
	require.NotEmpty(t, s)
	return s[len(s)-1]
}

func (m *mockDiscordSession) lastInteractionResponse(
	t testing.TB,
) *discordgo.InteractionResponse {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(t, m.interactionResponses)
}

func (m *mockDiscordSession) lastResponseEdit(
	t testing.TB,
) *discordgo.WebhookEdit {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(t, m.responseEdits)
}

func (m *mockDiscordSession) lastSentMessage(t testing.TB) mockSentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	return last(t, m.sentMessages)
}

func (m *mockDiscordSession) sentTo(channelID string) []mockSentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockSentMessage
	for _, msg := range m.sentMessages {
		if msg.channelID == channelID {
			out = append(out, msg)
		}
	}
	return out
}
