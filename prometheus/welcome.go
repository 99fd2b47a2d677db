package prometheus

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	welcomeWebhookName     = "Kentiq Welcome"
	welcomeWebhookUsername = "Kentiq Universe"

	// checkEmojiID is the custom Check emoji members react with on the
	// welcome message to confirm they read it.
	checkEmojiID = "926902236691460126"

	commsChannelNameOpen   = "〚🟢〛Comms : Open"
	commsChannelNameClosed = "〚🔴〛Comms : Closed"

	spacerColor = 0x2F3136
)

// CommsStatus is the commissions availability shown in the welcome embed
// and the status channel name.
type CommsStatus string

const (
	CommsOpen   CommsStatus = "open"
	CommsClosed CommsStatus = "closed"
)

// ErrWelcomeNotConfigured is returned when the welcome webhook hasn't been
// set up yet.
var ErrWelcomeNotConfigured = errors.New("welcome webhook not configured")

var channelRefPattern = regexp.MustCompile(`(\d+)`)

// spacerEmbed separates welcome embed sections visually.
func spacerEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Description: "​",
		Color:       spacerColor,
	}
}

// welcomeEmbeds builds the welcome embed set, with the commissions status
// section reflecting the given status.
func welcomeEmbeds(status CommsStatus) []*discordgo.MessageEmbed {
	isOpen := status == CommsOpen
	statusValue := "〚🔴〛 Closed"
	statusColor := 0xE74C3C
	if isOpen {
		statusValue = "〚🟢〛 Open"
		statusColor = 0x2ECC71
	}

	return []*discordgo.MessageEmbed{
		{
			Author: &discordgo.MessageEmbedAuthor{
				Name: "〚✨〛 Welcome to Kentiq Universe",
			},
			Title: "Hello! Welcome to my digital workspace where I " +
				"showcase my work, collaborate with teams, and share " +
				"insights about Roblox development.",
			Color: 0x5865F2,
		},
		spacerEmbed(),
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "What you'll find here:",
					Value: "• 〚📦〛 Kentiq Area — Explore my latest " +
						"projects and assets\n" +
						"• 〚🤝〛 Work-with — See the teams I work with\n" +
						"• 〚🎫〛 Tickets — Open a ticket for my " +
						"development services",
				},
			},
			Color: 0x5B6EE8,
		},
		spacerEmbed(),
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "〚🔗〛 Quick Links",
					Value: "> Portal: [kentiq.tech/portal]" +
						"(https://www.kentiq.tech/portal)\n" +
						"> Portfolio: [kentiq.tech/portfolio]" +
						"(https://www.kentiq.tech/portfolio)\n" +
						"> Services: [kentiq.tech/home]" +
						"(https://www.kentiq.tech/home)",
				},
			},
			Color: 0x6077DE,
		},
		spacerEmbed(),
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  "〚💼〛 Commissions Status",
					Value: statusValue,
				},
			},
			Color:     statusColor,
			Footer:    &discordgo.MessageEmbedFooter{Text: "Kentiq Universe"},
			Timestamp: nowTimestamp(),
		},
		spacerEmbed(),
		{
			Description: fmt.Sprintf(
				"Click the <a:Check:%s> reaction below to confirm you "+
					"have read this message",
				checkEmojiID,
			),
			Color: 0x5865F2,
		},
	}
}

// memberJoinEmbed is the getting-started card DMed to new members.
func memberJoinEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "👋 Welcome to **Kentiq Universe**",
		Description: "Here's everything you need to know to get started:",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "📜 Rules",
				Value: "Read the server rules: <#1400056802128826448>",
			},
			{
				Name:  "💰 Payment Information",
				Value: "Payment terms & billing info: <#1386358140462956624>",
			},
			{
				Name:  "📂 Skills & Expertise",
				Value: "Discover my full skillset: <#1358465216806912060>",
			},
			{
				Name: "🎫 Tickets",
				Value: "For commissions or project requests, open a " +
					"ticket in <#1386352662563393578>",
			},
			{
				Name: "​",
				Value: "This server acts as my official workspace and " +
					"portfolio hub.\n\nFeel free to explore, ask " +
					"questions, or just look around.",
			},
		},
		Color:     0x5865F2,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Kentiq Universe • Welcome"},
		Timestamp: nowTimestamp(),
	}
}

// WelcomeManager owns the welcome embed set, the commissions status channel,
// member join greetings, and the access-role reaction grant.
type WelcomeManager struct {
	session DiscordSessionHandler
	store   *BotConfigStore
	guildID string
	logger  *slog.Logger
}

func newWelcomeManager(
	session DiscordSessionHandler,
	store *BotConfigStore,
	guildID string,
	logger *slog.Logger,
) *WelcomeManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &WelcomeManager{
		session: session,
		store:   store,
		guildID: guildID,
		logger:  logger.With(loggerNameKey, "welcome"),
	}
}

// CommsStatus reads the status channel's name to decide whether commissions
// are open. Anything other than a readable channel named "open" counts as
// closed.
func (w *WelcomeManager) CommsStatus() CommsStatus {
	channelID := w.store.Get().Channels.CommsStatus
	if channelID == "" {
		return CommsClosed
	}
	channel, err := w.session.Channel(channelID)
	if err != nil {
		w.logger.Warn("could not read comms status channel", tint.Err(err))
		return CommsClosed
	}
	if strings.Contains(strings.ToLower(channel.Name), "open") {
		return CommsOpen
	}
	return CommsClosed
}

// Setup resolves the given channel reference (mention or ID), finds or
// creates the welcome webhook in it, posts the welcome embed set, and
// persists webhook and message bindings. Returns the chosen channel.
func (w *WelcomeManager) Setup(channelRef string) (*discordgo.Channel, error) {
	match := channelRefPattern.FindString(channelRef)
	if match == "" {
		return nil, fmt.Errorf("invalid channel reference %q", channelRef)
	}
	channel, err := w.session.Channel(match)
	if err != nil {
		return nil, fmt.Errorf("channel %s not found: %w", match, err)
	}
	if channel.Type != discordgo.ChannelTypeGuildText &&
		channel.Type != discordgo.ChannelTypeGuildNews {
		return nil, fmt.Errorf(
			"channel %s is not a text or announcement channel", channel.ID,
		)
	}

	webhook, err := w.findOrCreateWebhook(channel.ID)
	if err != nil {
		return nil, err
	}

	if err := w.store.Update(
		func(s *BotSettings) {
			s.Webhooks.Welcome.ID = webhook.ID
			s.Webhooks.Welcome.Token = webhook.Token
			s.Channels.Welcome = channel.ID
		},
	); err != nil {
		return nil, err
	}

	status := w.CommsStatus()
	sent, err := w.session.WebhookExecute(
		webhook.ID, webhook.Token, true, &discordgo.WebhookParams{
			Embeds:   welcomeEmbeds(status),
			Username: welcomeWebhookUsername,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("sending welcome embeds: %w", err)
	}

	if err := w.store.Update(
		func(s *BotSettings) {
			s.Webhooks.Welcome.MessageID = sent.ID
		},
	); err != nil {
		return nil, err
	}
	w.logger.Info(
		"welcome embeds configured",
		"channel_id", channel.ID,
		"message_id", sent.ID,
	)
	return channel, nil
}

// UpdateEmbeds refreshes the welcome embed set through the webhook to show
// the given commissions status. When the stored message pointer is missing,
// the welcome channel's recent history is searched for the webhook's message
// and the pointer repaired; failing that a fresh message is posted.
func (w *WelcomeManager) UpdateEmbeds(status CommsStatus) error {
	settings := w.store.Get()
	hook := settings.Webhooks.Welcome
	if hook.ID == "" || hook.Token == "" {
		return ErrWelcomeNotConfigured
	}

	messageID := hook.MessageID
	if messageID == "" {
		messageID = w.findWelcomeMessage(settings.Channels.Welcome, hook.ID)
		if messageID != "" {
			if err := w.store.Update(
				func(s *BotSettings) {
					s.Webhooks.Welcome.MessageID = messageID
				},
			); err != nil {
				w.logger.Warn(
					"could not persist recovered welcome message id",
					tint.Err(err),
				)
			}
		}
	}

	embeds := welcomeEmbeds(status)
	if messageID != "" {
		_, err := w.session.WebhookMessageEdit(
			hook.ID, hook.Token, messageID, &discordgo.WebhookEdit{
				Embeds: &embeds,
			},
		)
		if err != nil {
			return fmt.Errorf("editing welcome message: %w", err)
		}
		return nil
	}

	sent, err := w.session.WebhookExecute(
		hook.ID, hook.Token, true, &discordgo.WebhookParams{
			Embeds:   embeds,
			Username: welcomeWebhookUsername,
		},
	)
	if err != nil {
		return fmt.Errorf("sending welcome message: %w", err)
	}
	return w.store.Update(
		func(s *BotSettings) {
			s.Webhooks.Welcome.MessageID = sent.ID
		},
	)
}

// SetComms renames the status channel for the new status and refreshes the
// welcome embeds. Returns the new channel name.
func (w *WelcomeManager) SetComms(status CommsStatus) (string, error) {
	channelID := w.store.Get().Channels.CommsStatus
	if channelID == "" {
		return "", errors.New("comms status channel not configured")
	}

	newName := commsChannelNameClosed
	if status == CommsOpen {
		newName = commsChannelNameOpen
	}
	if _, err := w.session.ChannelEdit(
		channelID, &discordgo.ChannelEdit{Name: newName},
	); err != nil {
		return "", fmt.Errorf("renaming status channel: %w", err)
	}

	if err := w.UpdateEmbeds(status); err != nil {
		if errors.Is(err, ErrWelcomeNotConfigured) {
			w.logger.Warn("welcome webhook not configured, skipping update")
		} else {
			w.logger.Error("error updating welcome embeds", tint.Err(err))
		}
	}
	return newName, nil
}

// SetAccessRole stores the role granted by the welcome reaction.
func (w *WelcomeManager) SetAccessRole(roleID string) error {
	return w.store.Update(
		func(s *BotSettings) {
			s.Access.RoleID = roleID
		},
	)
}

// HandleMemberJoin DMs the getting-started card to a new member. Failure to
// DM (privacy settings) is only a warning.
func (w *WelcomeManager) HandleMemberJoin(m *discordgo.GuildMemberAdd) {
	if m.User == nil || m.User.Bot {
		return
	}
	dm, err := w.session.UserChannelCreate(m.User.ID)
	if err != nil {
		w.logger.Warn(
			"could not open DM channel",
			"user_id", m.User.ID,
			tint.Err(err),
		)
		return
	}
	if _, err := w.session.ChannelMessageSendEmbeds(
		dm.ID, []*discordgo.MessageEmbed{memberJoinEmbed()},
	); err != nil {
		w.logger.Warn(
			"could not send welcome DM, user may have DMs disabled",
			"user_id", m.User.ID,
			tint.Err(err),
		)
	}
}

// HandleReactionAdd grants the access role when a member reacts with the
// Check emoji on the welcome message. Every failure mode is a logged
// warning; reaction handling never escalates.
func (w *WelcomeManager) HandleReactionAdd(r *discordgo.MessageReactionAdd) {
	if r.Emoji.ID != checkEmojiID {
		return
	}
	if botUser := w.session.BotUser(); botUser != nil &&
		r.UserID == botUser.ID {
		return
	}

	settings := w.store.Get()
	if r.MessageID == "" ||
		r.MessageID != settings.Webhooks.Welcome.MessageID {
		return
	}
	roleID := settings.Access.RoleID
	if roleID == "" {
		w.logger.Warn(
			"welcome reaction received but no access role configured",
			"user_id", r.UserID,
		)
		return
	}

	if err := w.session.GuildMemberRoleAdd(
		w.guildID, r.UserID, roleID,
	); err != nil {
		w.logger.Error(
			"could not grant access role",
			"user_id", r.UserID,
			"role_id", roleID,
			tint.Err(err),
		)
		return
	}
	w.logger.Info(
		"access role granted",
		"user_id", r.UserID,
		"role_id", roleID,
	)
}

func (w *WelcomeManager) findOrCreateWebhook(
	channelID string,
) (*discordgo.Webhook, error) {
	hooks, err := w.session.ChannelWebhooks(channelID)
	if err != nil {
		if missingPermissions(err) {
			return nil, fmt.Errorf(
				"missing Manage Webhooks permission in <#%s>", channelID,
			)
		}
		return nil, fmt.Errorf("listing webhooks: %w", err)
	}
	for _, h := range hooks {
		if h.Name == welcomeWebhookName {
			return h, nil
		}
	}
	hook, err := w.session.WebhookCreate(channelID, welcomeWebhookName, "")
	if err != nil {
		return nil, fmt.Errorf("creating webhook: %w", err)
	}
	return hook, nil
}

// findWelcomeMessage scans the welcome channel's recent history for the
// webhook's embed message.
func (w *WelcomeManager) findWelcomeMessage(
	channelID string,
	webhookID string,
) string {
	if channelID == "" {
		return ""
	}
	messages, err := w.session.ChannelMessages(channelID, 50, "", "", "")
	if err != nil {
		w.logger.Warn(
			"could not search for welcome message",
			tint.Err(err),
		)
		return ""
	}
	for _, msg := range messages {
		if msg.WebhookID != webhookID || len(msg.Embeds) == 0 {
			continue
		}
		author := msg.Embeds[0].Author
		if author != nil && strings.Contains(author.Name, "Welcome") {
			return msg.ID
		}
	}
	return ""
}
