package prometheus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleSetupWelcome binds the welcome webhook to the given channel and
// posts the welcome embed set.
func (p *Prometheus) handleSetupWelcome(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	channelRef := optionString(opts, "channel")

	channel, err := p.welcome.Setup(channelRef)
	if err != nil {
		p.logger.Error("welcome setup failed", tint.Err(err))
		return p.editContent(
			i, "❌ An error occurred while setting up the welcome embed.",
		)
	}
	return p.editContent(
		i, fmt.Sprintf(
			"✅ Welcome embed configured successfully in <#%s>! The embed "+
				"will automatically update when you change the "+
				"commissions status with `/com`.",
			channel.ID,
		),
	)
}

// handleSetupTickets writes the ticket configuration and posts the control
// panel in the invoking channel.
func (p *Prometheus) handleSetupTickets(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if setupChannelID := p.botCfg.Get().Channels.SetupTickets; setupChannelID != "" &&
		i.ChannelID != setupChannelID {
		return respondEphemeral(
			p.discord.session, i, fmt.Sprintf(
				"This command must be run in the <#%s> channel.",
				setupChannelID,
			),
		)
	}

	opts := discordInteractionOptions(i)
	cfg := TicketConfig{
		CategoryID:    optionString(opts, "category"),
		SupportRoleID: optionString(opts, "support_role"),
		LogChannelID:  optionString(opts, "log_channel"),
	}
	if err := p.tickets.SaveConfig(cfg); err != nil {
		return err
	}

	if _, err := p.discord.session.ChannelMessageSendComplex(
		i.ChannelID, p.tickets.PanelMessage(),
	); err != nil {
		return err
	}
	return respondEphemeral(
		p.discord.session, i,
		"The ticket panel has been configured successfully!",
	)
}

// handleSetupAccess stores the role granted by the welcome-message check
// reaction.
func (p *Prometheus) handleSetupAccess(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	opts := discordInteractionOptions(i)
	roleID := optionString(opts, "role")
	if err := p.welcome.SetAccessRole(roleID); err != nil {
		return err
	}
	return respondEphemeral(
		p.discord.session, i, fmt.Sprintf(
			"✅ Access role configured: members reacting with the check "+
				"emoji on the welcome message will receive <@&%s>.",
			roleID,
		),
	)
}

// handleSetupInviteProgram primes the invite snapshot and posts the rewards
// panel in the invoking channel.
func (p *Prometheus) handleSetupInviteProgram(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}

	invites, err := p.discord.session.GuildInvites(p.config.Discord.GuildID)
	if err != nil {
		return fmt.Errorf("fetching guild invites: %w", err)
	}
	p.useCache.Prime(invites)

	var tierLines []string
	for _, tier := range p.config.InviteProgram.Tiers {
		tierLines = append(
			tierLines, fmt.Sprintf(
				"• **%s** — %d invites → ×%.2f reward",
				tier.ID, tier.MinInvites, tier.Multiplier,
			),
		)
	}
	embed := &discordgo.MessageEmbed{
		Title: "〚🎁〛 Invite Rewards Program",
		Description: fmt.Sprintf(
			"Invite your friends to Kentiq Universe and earn "+
				"**K-Credits**: every invite that brings a new member "+
				"is worth **%.2f K-Credits**, multiplied by your tier.\n\n"+
				"Check your standing anytime with `/credits`.",
			p.config.InviteProgram.BaseReward,
		),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "🏆 Tiers", Value: strings.Join(tierLines, "\n")},
		},
		Color: 0x2ecc71,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Prometheus • Invite Program",
		},
		Timestamp: nowTimestamp(),
	}
	if _, err := p.discord.session.ChannelMessageSendEmbeds(
		i.ChannelID, []*discordgo.MessageEmbed{embed},
	); err != nil {
		return err
	}
	return p.editContent(
		i, fmt.Sprintf(
			"✅ Invite program panel posted and invite snapshot primed "+
				"(%d invites tracked).",
			len(invites),
		),
	)
}

// handleCom renames the commissions status channel and refreshes the
// welcome embeds to match.
func (p *Prometheus) handleCom(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	status := CommsClosed
	if optionString(opts, "status") == "open" {
		status = CommsOpen
	}

	if p.botCfg.Get().Channels.CommsStatus == "" {
		return p.editContent(
			i,
			"⚠️ Le canal de statut des commissions n'est pas configuré.",
		)
	}

	newName, err := p.welcome.SetComms(status)
	if err != nil {
		if missingPermissions(err) {
			return p.editContent(
				i, "❌ Erreur: Je n'ai pas la permission de modifier le "+
					"nom de ce salon. Veuillez vérifier mes permissions "+
					"(`Gérer les salons`).",
			)
		}
		return err
	}
	return p.editContent(
		i, fmt.Sprintf(
			"Le nom du canal a été mis à jour sur : **%s**. L'embed "+
				"Welcome a été mis à jour automatiquement.",
			newName,
		),
	)
}

// handleReload reloads the catalog files without restarting the bot.
func (p *Prometheus) handleReload(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	snap, err := p.catalog.Reload()
	if err != nil {
		p.logger.Error("catalog reload failed", tint.Err(err))
		return p.editContent(
			i, "❌ Erreur lors du rechargement des données.",
		)
	}
	embed := &discordgo.MessageEmbed{
		Title: "✅ Données rechargées",
		Description: "Tous les fichiers JSON ont été rechargés avec " +
			"succès.",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "📦 Assets",
				Value:  fmt.Sprintf("%d", len(snap.Assets)),
				Inline: true,
			},
			{
				Name:   "💼 Clients",
				Value:  fmt.Sprintf("%d", len(snap.Clients)),
				Inline: true,
			},
			{
				Name:   "🤝 Collabs",
				Value:  fmt.Sprintf("%d", len(snap.Collabs)),
				Inline: true,
			},
			{
				Name:   "📚 Canaux",
				Value:  fmt.Sprintf("%d", len(snap.Channels)),
				Inline: true,
			},
			{
				Name:   "👤 Identités",
				Value:  fmt.Sprintf("%d", len(snap.Identities)),
				Inline: true,
			},
		},
		Color:     0x2ecc71,
		Timestamp: nowTimestamp(),
	}
	return p.editEmbed(i, embed)
}

// handleBackup copies every present catalog file to the backup directory.
func (p *Prometheus) handleBackup(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	files, err := p.catalog.Backup(p.config.BackupDir)
	if err != nil {
		p.logger.Error("backup failed", tint.Err(err))
		return p.editContent(
			i, "❌ Erreur lors de la création de la sauvegarde.",
		)
	}

	fileList := "Aucun"
	if len(files) > 0 {
		var lines []string
		for _, f := range files {
			lines = append(lines, "• "+f)
		}
		fileList = strings.Join(lines, "\n")
	}
	embed := &discordgo.MessageEmbed{
		Title: "💾 Sauvegarde créée",
		Description: "Sauvegarde créée avec succès dans le dossier " +
			"`backups/`.",
		Fields: []*discordgo.MessageEmbedField{
			{Name: "📁 Fichiers sauvegardés", Value: fileList},
			{
				Name:  "🕐 Timestamp",
				Value: time.Now().UTC().Format("2006-01-02T15-04-05"),
			},
		},
		Color:     0x2ecc71,
		Timestamp: nowTimestamp(),
	}
	return p.editEmbed(i, embed)
}

// handleMember shows a member's profile together with their invite-program
// standing and command usage.
func (p *Prometheus) handleMember(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	userID := optionString(opts, "user")
	if userID == "" {
		return p.editContent(i, "⚠️ Member not found.")
	}

	member, err := p.discord.session.GuildMember(
		p.config.Discord.GuildID, userID,
	)
	if err != nil {
		return p.editContent(i, "⚠️ Member not found in this guild.")
	}

	record, _ := p.ledger.Standing(userID)
	tier := record.Tier
	if tier == "" {
		tier = "none"
	}
	commandCount, err := p.audit.UserInteractionCount(ctx, userID)
	if err != nil {
		p.logger.Warn("could not count interactions", tint.Err(err))
	}

	joined := "unknown"
	if !member.JoinedAt.IsZero() {
		joined = member.JoinedAt.UTC().Format("2006-01-02 15:04")
	}
	username := userID
	if member.User != nil {
		username = member.User.Username
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("〚👤〛 %s", username),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "🆔 ID", Value: userID, Inline: true},
			{Name: "📅 Joined", Value: joined, Inline: true},
			{
				Name:   "🎭 Roles",
				Value:  fmt.Sprintf("%d", len(member.Roles)),
				Inline: true,
			},
			{
				Name:   "📨 Invites",
				Value:  fmt.Sprintf("%d", record.Invites),
				Inline: true,
			},
			{Name: "🏆 Tier", Value: tier, Inline: true},
			{
				Name:   "💰 K-Credits",
				Value:  fmt.Sprintf("%.2f", record.KCredits),
				Inline: true,
			},
			{
				Name:   "🧮 Commands used",
				Value:  fmt.Sprintf("%d", commandCount),
				Inline: true,
			},
		},
		Color: 0x5865F2,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Prometheus • Member Profile",
		},
		Timestamp: nowTimestamp(),
	}
	if member.User != nil && member.User.Avatar != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{
			URL: member.User.AvatarURL("256"),
		}
	}
	return p.editEmbed(i, embed)
}

// handleDeployTest posts a test embed through the deploy webhook and maps
// failures to actionable messages.
func (p *Prometheus) handleDeployTest(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	err := p.reporter.SendUpdate(
		ctx,
		"Prometheus Deployment Webhook",
		"Le webhook de monitoring fonctionne correctement.",
		0x57F287,
		nil,
	)
	if err == nil {
		return p.editContent(
			i, "✅ Webhook envoyé dans le channel de monitoring.",
		)
	}

	p.logger.Error("deploy webhook test failed", tint.Err(err))
	var httpErr *WebhookHTTPError
	switch {
	case errors.Is(err, ErrWebhookTimeout):
		return p.editContent(
			i, "❌ Timeout: Le webhook a pris trop de temps à répondre. "+
				"Vérifiez DEPLOY_WEBHOOK_URL.",
		)
	case errors.As(err, &httpErr):
		return p.editContent(
			i, fmt.Sprintf(
				"❌ Erreur HTTP %d: %s", httpErr.StatusCode, httpErr.Status,
			),
		)
	case errors.Is(err, ErrWebhookNotConfigured),
		errors.Is(err, ErrWebhookNoResponse):
		return p.editContent(
			i, "❌ Aucune réponse du webhook. Vérifiez DEPLOY_WEBHOOK_URL.",
		)
	default:
		return p.editContent(i, msgCommandError)
	}
}
