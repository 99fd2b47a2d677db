package prometheus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Ticket button custom IDs. These are baked into panel messages already
// posted in the guild, so they never change.
const (
	customIDCreateTicket       = "create_ticket"
	customIDCloseTicketRequest = "close_ticket_request"
	customIDConfirmCloseTicket = "confirm_close_ticket"
	customIDCancelCloseTicket  = "cancel_close_ticket"
)

const (
	ticketChannelPrefix = "ticket-"

	msgTicketAlreadyOpen = "You already have an open ticket."
	msgTicketCategoryBad = "Error: The ticket category is misconfigured. " +
		"Please contact an admin."
	msgTicketNoPermission = "You do not have permission to close this ticket."
	msgTicketNotReady     = "The ticket system is not configured yet. " +
		"Please contact an admin."
	msgTicketCreatePermission = "I couldn't create the ticket channel. " +
		"Grant me the Manage Channels permission and try again."
)

var ticketMemberAllow int64 = discordgo.PermissionViewChannel |
	discordgo.PermissionSendMessages |
	discordgo.PermissionReadMessageHistory |
	discordgo.PermissionAttachFiles

var ticketSupportAllow = ticketMemberAllow |
	discordgo.PermissionManageMessages

// TicketConfig is the persisted ticket system configuration, written by
// /setup-tickets.
type TicketConfig struct {
	CategoryID    string `json:"categoryId"`
	SupportRoleID string `json:"supportRoleId"`
	LogChannelID  string `json:"logChannelId,omitempty"`
}

func (c TicketConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("category_id", c.CategoryID),
		slog.String("support_role_id", c.SupportRoleID),
		slog.String("log_channel_id", c.LogChannelID),
	)
}

// TicketManager implements the support ticket workflow: panel-driven channel
// creation, role-gated close confirmation, transcript delivery and teardown.
type TicketManager struct {
	session DiscordSessionHandler
	guildID string
	path    string
	audit   *auditStore
	logger  *slog.Logger

	// createMu serializes ticket creation so two near-simultaneous clicks
	// by the same user can't both pass the duplicate check.
	createMu sync.Mutex
}

func newTicketManager(
	session DiscordSessionHandler,
	guildID string,
	dataDir string,
	audit *auditStore,
	logger *slog.Logger,
) *TicketManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TicketManager{
		session: session,
		guildID: guildID,
		path:    filepath.Join(dataDir, ticketsFile),
		audit:   audit,
		logger:  logger.With(loggerNameKey, "tickets"),
	}
}

// Config loads tickets.json. ok is false when the system hasn't been set up.
func (t *TicketManager) Config() (cfg TicketConfig, ok bool, err error) {
	data, err := os.ReadFile(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, fmt.Errorf("reading ticket config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, false, fmt.Errorf("parsing ticket config: %w", err)
	}
	return cfg, cfg.CategoryID != "" && cfg.SupportRoleID != "", nil
}

// SaveConfig writes tickets.json.
func (t *TicketManager) SaveConfig(cfg TicketConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing ticket config: %w", err)
	}
	return os.Rename(tmp, t.path)
}

// PanelMessage returns the ticket panel embed and button posted by
// /setup-tickets.
func (t *TicketManager) PanelMessage() *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{
			{
				Title: "Kentiq Support",
				Description: "Click the button below to open a ticket " +
					"and get help.",
				Color: 0x2ecc71,
				Footer: &discordgo.MessageEmbedFooter{
					Text: "You can only have one ticket open at a time.",
				},
			},
		},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						CustomID: customIDCreateTicket,
						Label:    "Create Ticket",
						Style:    discordgo.SuccessButton,
					},
				},
			},
		},
	}
}

// Create handles the create_ticket button: one ticket per user, channel under
// the configured category with member/support overwrites, greeting with a
// close button.
func (t *TicketManager) Create(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	user := interactionUser(i)
	if user == nil {
		return errors.New("interaction has no user")
	}

	cfg, ok, err := t.Config()
	if err != nil {
		return err
	}
	if !ok {
		return respondEphemeral(t.session, i, msgTicketNotReady)
	}

	t.createMu.Lock()
	defer t.createMu.Unlock()

	channelName := ticketChannelPrefix + user.Username
	existing, err := t.findChannel(channelName)
	if err != nil {
		return err
	}
	if existing != nil {
		return respondEphemeral(t.session, i, msgTicketAlreadyOpen)
	}

	category, err := t.session.Channel(cfg.CategoryID)
	if err != nil || category.Type != discordgo.ChannelTypeGuildCategory {
		t.logger.Warn(
			"ticket category misconfigured",
			"category_id", cfg.CategoryID,
			tint.Err(err),
		)
		return respondEphemeral(t.session, i, msgTicketCategoryBad)
	}

	channel, err := t.session.GuildChannelCreateComplex(
		t.guildID, discordgo.GuildChannelCreateData{
			Name:     channelName,
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: cfg.CategoryID,
			PermissionOverwrites: []*discordgo.PermissionOverwrite{
				{
					ID:   t.guildID,
					Type: discordgo.PermissionOverwriteTypeRole,
					Deny: discordgo.PermissionViewChannel,
				},
				{
					ID:    user.ID,
					Type:  discordgo.PermissionOverwriteTypeMember,
					Allow: ticketMemberAllow,
				},
				{
					ID:    cfg.SupportRoleID,
					Type:  discordgo.PermissionOverwriteTypeRole,
					Allow: ticketSupportAllow,
				},
			},
		},
	)
	if err != nil {
		if missingPermissions(err) {
			return respondEphemeral(t.session, i, msgTicketCreatePermission)
		}
		return fmt.Errorf("creating ticket channel: %w", err)
	}

	_, err = t.session.ChannelMessageSendComplex(
		channel.ID, &discordgo.MessageSend{
			Content: fmt.Sprintf(
				"👋 Hello <@%s>, <@&%s> will be with you soon.",
				user.ID,
				cfg.SupportRoleID,
			),
			Embeds: []*discordgo.MessageEmbed{
				{
					Title: fmt.Sprintf("Ticket from %s", user.Username),
					Description: "Welcome to your ticket. Support will be " +
						"with you shortly. Please describe your request " +
						"in detail.",
					Color:     0x3498db,
					Timestamp: nowTimestamp(),
				},
			},
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							CustomID: customIDCloseTicketRequest,
							Label:    "Close Ticket",
							Style:    discordgo.DangerButton,
						},
					},
				},
			},
		},
	)
	if err != nil {
		t.logger.Error(
			"error sending ticket greeting",
			tint.Err(err),
			"channel_id", channel.ID,
		)
	}

	if auditErr := t.audit.TicketOpened(
		ctx, &TicketRecord{
			ChannelID:      channel.ID,
			ChannelName:    channelName,
			OpenerID:       user.ID,
			OpenerUsername: user.Username,
		},
	); auditErr != nil {
		t.logger.Error("error recording ticket open", tint.Err(auditErr))
	}

	return respondEphemeral(
		t.session, i,
		fmt.Sprintf("Your ticket has been created: <#%s>", channel.ID),
	)
}

// RequestClose handles close_ticket_request: support role only, posts a
// confirm/cancel prompt in the ticket channel.
func (t *TicketManager) RequestClose(i *discordgo.InteractionCreate) error {
	cfg, ok, err := t.Config()
	if err != nil {
		return err
	}
	if !ok || !memberHasRole(i.Member, cfg.SupportRoleID) {
		return respondEphemeral(t.session, i, msgTicketNoPermission)
	}

	return respondMessage(
		t.session, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title: "Confirmation",
					Description: "Are you sure you want to close this " +
						"ticket? This action cannot be undone.",
					Color: 0xf1c40f,
				},
			},
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.Button{
							CustomID: customIDConfirmCloseTicket,
							Label:    "Confirm Close",
							Style:    discordgo.DangerButton,
						},
						discordgo.Button{
							CustomID: customIDCancelCloseTicket,
							Label:    "Cancel",
							Style:    discordgo.SecondaryButton,
						},
					},
				},
			},
		},
	)
}

// ConfirmClose handles confirm_close_ticket: renders and delivers the
// transcript, deletes the channel, and closes the audit record.
func (t *TicketManager) ConfirmClose(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	cfg, ok, err := t.Config()
	if err != nil {
		return err
	}
	if !ok || !memberHasRole(i.Member, cfg.SupportRoleID) {
		// non-support clicks on the confirmation are silently dropped
		return nil
	}

	if err := respondUpdate(
		t.session, i, &discordgo.InteractionResponseData{
			Content:    "Saving transcript and closing ticket...",
			Embeds:     []*discordgo.MessageEmbed{},
			Components: []discordgo.MessageComponent{},
		},
	); err != nil {
		return err
	}

	channel, err := t.session.Channel(i.ChannelID)
	channelName := i.ChannelID
	if err == nil {
		channelName = channel.Name
	}

	transcriptDelivered := false
	if cfg.LogChannelID != "" {
		transcriptDelivered = t.deliverTranscript(i, cfg, channelName)
	}

	closer := interactionUser(i)
	closerID := ""
	if closer != nil {
		closerID = closer.ID
	}
	if auditErr := t.audit.TicketClosed(
		ctx, i.ChannelID, closerID, transcriptDelivered,
	); auditErr != nil {
		t.logger.Error("error recording ticket close", tint.Err(auditErr))
	}

	if _, err := t.session.ChannelDelete(i.ChannelID); err != nil {
		if missingPermissions(err) {
			_, _ = t.session.ChannelMessageSend(
				i.ChannelID,
				"I couldn't delete this channel. Grant me the Manage "+
					"Channels permission and delete it manually.",
			)
			return nil
		}
		return fmt.Errorf("deleting ticket channel: %w", err)
	}
	return nil
}

// CancelClose handles cancel_close_ticket: support role only, removes the
// confirmation prompt.
func (t *TicketManager) CancelClose(i *discordgo.InteractionCreate) error {
	cfg, ok, err := t.Config()
	if err != nil {
		return err
	}
	if !ok || !memberHasRole(i.Member, cfg.SupportRoleID) {
		return nil
	}
	if i.Message == nil {
		return nil
	}
	return t.session.ChannelMessageDelete(i.ChannelID, i.Message.ID)
}

func (t *TicketManager) deliverTranscript(
	i *discordgo.InteractionCreate,
	cfg TicketConfig,
	channelName string,
) bool {
	history, err := fetchChannelHistory(t.session, i.ChannelID)
	if err != nil {
		t.logger.Error("error fetching ticket history", tint.Err(err))
		return false
	}
	transcript, err := renderTranscript(channelName, history)
	if err != nil {
		t.logger.Error("error rendering transcript", tint.Err(err))
		return false
	}

	closer := interactionUser(i)
	closerName := "unknown"
	if closer != nil {
		closerName = closer.Username
	}
	_, err = t.session.ChannelMessageSendComplex(
		cfg.LogChannelID, &discordgo.MessageSend{
			Content: fmt.Sprintf(
				"Transcript for `%s` (Closed by %s)",
				channelName,
				closerName,
			),
			Files: []*discordgo.File{
				{
					Name:        fmt.Sprintf("transcript-%s.html", channelName),
					ContentType: "text/html",
					Reader:      strings.NewReader(string(transcript)),
				},
			},
		},
	)
	if err != nil {
		t.logger.Error("error delivering transcript", tint.Err(err))
		return false
	}
	return true
}

// findChannel returns the guild channel with the given name
// (case-insensitive), or nil.
func (t *TicketManager) findChannel(name string) (*discordgo.Channel, error) {
	channels, err := t.session.GuildChannels(t.guildID)
	if err != nil {
		return nil, fmt.Errorf("listing guild channels: %w", err)
	}
	for _, c := range channels {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
	}
	return nil, nil
}

func memberHasRole(m *discordgo.Member, roleID string) bool {
	if m == nil || roleID == "" {
		return false
	}
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}
