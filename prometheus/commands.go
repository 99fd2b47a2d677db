package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Slash command names, matching the set registered on startup.
const (
	CommandPresent            = "present"
	CommandWork               = "work"
	CommandClient             = "client"
	CommandWarning            = "warning"
	CommandIdentity           = "identity"
	CommandChannel            = "channel"
	CommandWhois              = "whois"
	CommandSetupWelcome       = "setup-welcome"
	CommandSetupTickets       = "setup-tickets"
	CommandSetupAccess        = "setup-access"
	CommandSetupInviteProgram = "setup-invite-program"
	CommandPricing            = "pricing"
	CommandCom                = "com"
	CommandPing               = "ping"
	CommandHelp               = "help"
	CommandStats              = "stats"
	CommandListAssets         = "list-assets"
	CommandListClients        = "list-clients"
	CommandListCollabs        = "list-collabs"
	CommandSearch             = "search"
	CommandReload             = "reload"
	CommandBackup             = "backup"
	CommandRules              = "rules"
	CommandPayment            = "payment"
	CommandSkill              = "skill"
	CommandMember             = "member"
	CommandCredits            = "credits"
	CommandFinish             = "finish"
	CommandDeployTest         = "deploytest"
)

const (
	msgUnauthorized = "❌ You must be an administrator to use this command."
	msgRateLimited  = "⏱️ Vous utilisez les commandes trop rapidement. " +
		"Veuillez patienter un moment."
	msgCommandError = "❌ An error occurred while processing this command."
)

// adminCommands is the administrator-only subset, enforced before execution
// regardless of the default member permissions set at registration time.
var adminCommands = map[string]bool{
	CommandSetupWelcome:       true,
	CommandSetupTickets:       true,
	CommandSetupAccess:        true,
	CommandSetupInviteProgram: true,
	CommandReload:             true,
	CommandBackup:             true,
	CommandMember:             true,
	CommandDeployTest:         true,
}

// applicationCommands returns the guild command set sent to the bulk
// overwrite endpoint on startup.
func applicationCommands() []*discordgo.ApplicationCommand {
	adminPerm := int64(discordgo.PermissionAdministrator)

	presentOptions := []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        "asset",
			Description: "ID of the asset to present",
			Required:    true,
		},
		{
			Type:        discordgo.ApplicationCommandOptionAttachment,
			Name:        "preview",
			Description: "Image/GIF preview",
		},
		{
			Type:        discordgo.ApplicationCommandOptionAttachment,
			Name:        "video",
			Description: "Video file",
		},
	}
	for n := 1; n <= 10; n++ {
		description := "Attach another file"
		if n == 1 {
			description = "Attach a file"
		}
		presentOptions = append(
			presentOptions, &discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionAttachment,
				Name:        fmt.Sprintf("attachment%d", n),
				Description: description,
			},
		)
	}

	return []*discordgo.ApplicationCommand{
		{
			Name:        CommandPresent,
			Description: "Prometheus presents an asset",
			Options:     presentOptions,
		},
		{
			Name:        CommandWork,
			Description: "Showcase a collaboration project",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "asset",
					Description: "ID of the collaborative project",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "preview",
					Description: "Image/GIF of your work",
				},
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "video",
					Description: "Video of your contribution",
				},
			},
		},
		{
			Name:        CommandClient,
			Description: "Présente un client et son travail.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "id",
					Description: "ID of the client to present",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionAttachment,
					Name:        "proof",
					Description: "Preuve du travail",
				},
			},
		},
		{
			Name:        CommandWarning,
			Description: "Warn the channel of incoming assets",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: "Number of assets incoming",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "Delay in seconds",
					Required:    true,
				},
			},
		},
		{
			Name:        CommandIdentity,
			Description: "Displays Prometheus identity and purpose",
		},
		{
			Name:        CommandChannel,
			Description: "Present a channel of the ecosystem.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "name",
					Description: "Channel to present",
					Required:    true,
				},
			},
		},
		{
			Name:        CommandWhois,
			Description: "Affiche la carte de présentation d'une personne.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "personne",
					Description: "La personne dont afficher la carte.",
					Required:    true,
				},
			},
		},
		{
			Name: CommandSetupWelcome,
			Description: "Sets up the welcome embed with automatic " +
				"commission status updates.",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionString,
					Name: "channel",
					Description: "Channel ID or mention where the welcome " +
						"embed will be posted.",
					Required: true,
				},
			},
		},
		{
			Name: CommandSetupTickets,
			Description: "Sets up the ticket system and sends the " +
				"control panel.",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionChannel,
					Name: "category",
					Description: "The category where new tickets will " +
						"be created.",
					Required: true,
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildCategory,
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "support_role",
					Description: "The role that will have access to tickets.",
					Required:    true,
				},
				{
					Type: discordgo.ApplicationCommandOptionChannel,
					Name: "log_channel",
					Description: "The channel where ticket transcripts " +
						"will be sent.",
					ChannelTypes: []discordgo.ChannelType{
						discordgo.ChannelTypeGuildText,
					},
				},
			},
		},
		{
			Name: CommandSetupAccess,
			Description: "Sets the role granted by the welcome message " +
				"check reaction.",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "The role to grant on reaction.",
					Required:    true,
				},
			},
		},
		{
			Name: CommandSetupInviteProgram,
			Description: "Posts the invite rewards panel and primes the " +
				"invite snapshot.",
			DefaultMemberPermissions: &adminPerm,
		},
		{
			Name:        CommandPricing,
			Description: "Displays information about services and pricing.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type: discordgo.ApplicationCommandOptionChannel,
					Name: "ticket_channel",
					Description: "Le salon où les utilisateurs doivent " +
						"créer des tickets.",
				},
			},
		},
		{
			Name:        CommandCom,
			Description: "Définit le statut des commissions.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "status",
					Description: "Le statut à définir",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Open", Value: "open"},
						{Name: "Closed", Value: "closed"},
					},
				},
			},
		},
		{
			Name:        CommandPing,
			Description: "Vérifie la latence du bot.",
		},
		{
			Name: CommandHelp,
			Description: "Affiche la liste de toutes les commandes " +
				"disponibles.",
		},
		{
			Name:        CommandStats,
			Description: "Affiche les statistiques du bot et du serveur.",
		},
		{
			Name: CommandListAssets,
			Description: "Liste tous les assets disponibles dans les " +
				"archives.",
		},
		{
			Name:        CommandListClients,
			Description: "Liste tous les clients enregistrés.",
		},
		{
			Name:        CommandListCollabs,
			Description: "Liste toutes les collaborations.",
		},
		{
			Name:        CommandSearch,
			Description: "Recherche dans les archives.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Terme de recherche",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "type",
					Description: "Type de recherche",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "Tout", Value: "all"},
						{Name: "Assets", Value: "assets"},
						{Name: "Clients", Value: "clients"},
						{Name: "Collaborations", Value: "collabs"},
					},
				},
			},
		},
		{
			Name: CommandReload,
			Description: "Recharge les fichiers JSON sans redémarrer " +
				"le bot.",
			DefaultMemberPermissions: &adminPerm,
		},
		{
			Name: CommandBackup,
			Description: "Crée une sauvegarde de tous les fichiers " +
				"JSON.",
			DefaultMemberPermissions: &adminPerm,
		},
		{
			Name:        CommandRules,
			Description: "Display server rules.",
		},
		{
			Name:        CommandPayment,
			Description: "Display payment information and methods.",
		},
		{
			Name:        CommandSkill,
			Description: "Display the skill categories on offer.",
		},
		{
			Name: CommandMember,
			Description: "Display a member's profile and referral " +
				"standing.",
			DefaultMemberPermissions: &adminPerm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "user",
					Description: "The member to inspect.",
					Required:    true,
				},
			},
		},
		{
			Name:        CommandCredits,
			Description: "Display your invite count and K-Credit balance.",
		},
		{
			Name:        CommandFinish,
			Description: "Announce a completed and delivered project.",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "project",
					Description: "Name of the delivered project",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "note",
					Description: "Optional delivery note",
				},
			},
		},
		{
			Name:                     CommandDeployTest,
			Description:              "Test the deployment monitoring webhook.",
			DefaultMemberPermissions: &adminPerm,
		},
	}
}

// commandHandler runs one slash command after the dispatch gates pass. The
// handler owns its own acknowledgement and responses.
type commandHandler func(ctx context.Context, i *discordgo.InteractionCreate) error

func (p *Prometheus) commandHandlers() map[string]commandHandler {
	return map[string]commandHandler{
		CommandPresent:            p.handlePresent,
		CommandWork:               p.handleWork,
		CommandClient:             p.handleClient,
		CommandWarning:            p.handleWarning,
		CommandIdentity:           p.handleIdentity,
		CommandChannel:            p.handleChannel,
		CommandWhois:              p.handleWhois,
		CommandSetupWelcome:       p.handleSetupWelcome,
		CommandSetupTickets:       p.handleSetupTickets,
		CommandSetupAccess:        p.handleSetupAccess,
		CommandSetupInviteProgram: p.handleSetupInviteProgram,
		CommandPricing:            p.handlePricing,
		CommandCom:                p.handleCom,
		CommandPing:               p.handlePing,
		CommandHelp:               p.handleHelp,
		CommandStats:              p.handleStats,
		CommandListAssets:         p.handleListAssets,
		CommandListClients:        p.handleListClients,
		CommandListCollabs:        p.handleListCollabs,
		CommandSearch:             p.handleSearch,
		CommandReload:             p.handleReload,
		CommandBackup:             p.handleBackup,
		CommandRules:              p.handleRules,
		CommandPayment:            p.handlePayment,
		CommandSkill:              p.handleSkill,
		CommandMember:             p.handleMember,
		CommandCredits:            p.handleCredits,
		CommandFinish:             p.handleFinish,
		CommandDeployTest:         p.handleDeployTest,
	}
}

// handlerInteractionCreate returns the gateway handler for interaction
// events.
func (p *Prometheus) handlerInteractionCreate() func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		ctx := WithLogger(p.runCtx, p.logger)
		p.handleInteraction(ctx, i)
	}
}

// handleInteraction processes one incoming interaction: rate-limit gate
// (admins bypass), admin gate for the admin-only subset, then the command or
// component handler, with the outcome recorded in the audit store. A panic
// in a handler is recovered and logged so one bad interaction can never take
// the gateway loop down.
func (p *Prometheus) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	logger := p.logger.With(loggerNameKey, "interactions")
	defer func() {
		if rc := recover(); rc != nil {
			logger.Error(
				"panic handling interaction",
				"recovered", rc,
				"stack", string(debug.Stack()),
			)
		}
	}()

	user := interactionUser(i)
	if user == nil {
		logger.Error(
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}
	if user.Bot {
		logger.Warn("user is bot, ignoring", "user", structToSlogValue(user))
		return
	}

	logger = logger.With(
		slog.Group("interaction", interactionLogAttrs(*i)...),
	)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(
		ctx,
		"received new interaction",
		"user", structToSlogValue(user),
	)

	isAdmin := hasAdminPermission(i)

	switch i.Type {
	case discordgo.InteractionPing:
		_ = p.discord.session.InteractionRespond(
			i.Interaction, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionMessageComponent:
		if !isAdmin && !p.limiter.Allow(user.ID) {
			_ = respondEphemeral(p.discord.session, i, msgRateLimited)
			p.audit.LogInteraction(
				ctx, newInteractionLog(i, user, OutcomeRateLimited, ""),
			)
			return
		}
		p.handleComponent(ctx, i, user)
	case discordgo.InteractionApplicationCommand:
		p.handleCommand(ctx, i, user, isAdmin)
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

func (p *Prometheus) handleCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	isAdmin bool,
) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = p.logger
	}
	commandName := i.ApplicationCommandData().Name
	logger = logger.With("command", commandName)
	ctx = WithLogger(ctx, logger)

	if adminCommands[commandName] && !isAdmin {
		logger.WarnContext(
			ctx,
			"unauthorized admin command attempt",
			"user_id", user.ID,
			"username", user.Username,
		)
		_ = respondEphemeral(p.discord.session, i, msgUnauthorized)
		p.audit.LogInteraction(
			ctx, newInteractionLog(i, user, OutcomeForbidden, ""),
		)
		return
	}

	if !isAdmin && !p.limiter.Allow(user.ID) {
		_ = respondEphemeral(p.discord.session, i, msgRateLimited)
		p.audit.LogInteraction(
			ctx, newInteractionLog(i, user, OutcomeRateLimited, ""),
		)
		return
	}

	handler, found := p.commandHandlers()[commandName]
	if !found {
		logger.WarnContext(ctx, "unknown command")
		_ = respondEphemeral(p.discord.session, i, msgCommandError)
		p.audit.LogInteraction(
			ctx, newInteractionLog(i, user, OutcomeError, "unknown command"),
		)
		return
	}

	if err := handler(ctx, i); err != nil {
		logger.ErrorContext(ctx, "command failed", tint.Err(err))
		p.replyError(i, msgCommandError)
		p.audit.LogInteraction(
			ctx, newInteractionLog(i, user, OutcomeError, err.Error()),
		)
		return
	}
	p.audit.LogInteraction(ctx, newInteractionLog(i, user, OutcomeOK, ""))
}

// handleComponent routes ticket button presses.
func (p *Prometheus) handleComponent(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) {
	logger, ok := ContextLogger(ctx)
	if !ok {
		logger = p.logger
	}
	customID := i.MessageComponentData().CustomID
	logger = logger.With("custom_id", customID)
	ctx = WithLogger(ctx, logger)

	var err error
	switch customID {
	case customIDCreateTicket:
		err = p.tickets.Create(ctx, i)
	case customIDCloseTicketRequest:
		err = p.tickets.RequestClose(i)
	case customIDConfirmCloseTicket:
		err = p.tickets.ConfirmClose(ctx, i)
	case customIDCancelCloseTicket:
		err = p.tickets.CancelClose(i)
	default:
		logger.WarnContext(ctx, "unknown component")
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "component handler failed", tint.Err(err))
		p.audit.LogInteraction(
			ctx, newInteractionLog(i, user, OutcomeError, err.Error()),
		)
		return
	}
	p.audit.LogInteraction(ctx, newInteractionLog(i, user, OutcomeOK, ""))
}

// newInteractionLog builds the audit row for one handled interaction.
func newInteractionLog(
	i *discordgo.InteractionCreate,
	user *discordgo.User,
	outcome string,
	detail string,
) *InteractionLog {
	rec := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		UserID:        user.ID,
		Username:      user.Username,
		ChannelID:     i.ChannelID,
		GuildID:       i.GuildID,
		Outcome:       outcome,
		Detail:        detail,
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		rec.CommandName = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		rec.CustomID = i.MessageComponentData().CustomID
	}
	return rec
}

// ack defers the interaction response, ephemeral or public.
func (p *Prometheus) ack(i *discordgo.InteractionCreate, ephemeral bool) error {
	return p.discord.session.InteractionRespond(
		i.Interaction, ackResponse(ephemeral),
	)
}

// editResponse edits the deferred response with the given content/embeds.
func (p *Prometheus) editResponse(
	i *discordgo.InteractionCreate,
	edit *discordgo.WebhookEdit,
) error {
	_, err := p.discord.session.InteractionResponseEdit(i.Interaction, edit)
	return err
}

// replyError makes a best-effort attempt to surface a failure to the
// invoking user, first as an edit of a deferred response, then as a fresh
// ephemeral reply.
func (p *Prometheus) replyError(i *discordgo.InteractionCreate, msg string) {
	edit := &discordgo.WebhookEdit{
		Content: &msg,
		Embeds:  &[]*discordgo.MessageEmbed{},
	}
	if _, err := p.discord.session.InteractionResponseEdit(
		i.Interaction, edit,
	); err != nil {
		_ = respondEphemeral(p.discord.session, i, msg)
	}
}

// Option extraction helpers.

func optionString(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	o, ok := opts[name]
	if !ok {
		return ""
	}
	s, _ := o.Value.(string)
	return s
}

func optionInt(
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) int64 {
	o, ok := opts[name]
	if !ok {
		return 0
	}
	switch v := o.Value.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}

// optionAttachment resolves an attachment option against the interaction's
// resolved data.
func optionAttachment(
	i *discordgo.InteractionCreate,
	opts map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) *discordgo.MessageAttachment {
	o, ok := opts[name]
	if !ok {
		return nil
	}
	id, ok := o.Value.(string)
	if !ok {
		return nil
	}
	resolved := i.ApplicationCommandData().Resolved
	if resolved == nil {
		return nil
	}
	return resolved.Attachments[id]
}
