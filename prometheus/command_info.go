package prometheus

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Version is reported by /stats and the identity card.
const Version = "1.1.0"

// Set via -ldflags at build time.
var (
	CommitSHA string
	BuildTime string
)

// handleIdentity plays the boot sequence, then reveals the identity card.
func (p *Prometheus) handleIdentity(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := respondMessage(
		p.discord.session, i, &discordgo.InteractionResponseData{
			Content: "```ini\n[ SYSTEM BOOT SEQUENCE INITIALIZED ]\n" +
				"> Loading memory core...\n```",
		},
	); err != nil {
		return err
	}
	if !sleepContext(ctx, revealDelay) {
		return ctx.Err()
	}
	if err := p.editContent(
		i,
		"```ini\n[ MEMORY CORE LOADED ]\n"+
			"> Accessing identity protocols...\n```",
	); err != nil {
		return err
	}
	if !sleepContext(ctx, revealDelay) {
		return ctx.Err()
	}

	embed := &discordgo.MessageEmbed{
		Title: "🧠 PROMETHEUS — Digital Artifact Archivist",
		Description: "**Prometheus** is an autonomous digital archivist " +
			"designed to catalog, present, and transmit digital " +
			"artifacts.\n\n" +
			"**Purpose:**\n" +
			"• Archive and showcase digital assets (VFX, UI, Models, " +
			"Code, etc.)\n" +
			"• Present collaborative work and client showcases\n" +
			"• Manage ticket systems for support and commissions\n" +
			"• Provide identity verification and channel information\n\n" +
			"**Status:** ✅ Active and operational\n" +
			"**Version:** " + Version + "\n" +
			"**Architect:** Kentiq",
		Color:     0x00bcd4,
		Footer:    &discordgo.MessageEmbedFooter{Text: footerArchivist},
		Timestamp: nowTimestamp(),
	}
	empty := ""
	return p.editResponse(
		i, &discordgo.WebhookEdit{
			Content: &empty,
			Embeds:  &[]*discordgo.MessageEmbed{embed},
		},
	)
}

// handlePing reports round-trip and gateway heartbeat latency.
func (p *Prometheus) handlePing(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	start := time.Now()
	if err := respondMessage(
		p.discord.session, i,
		&discordgo.InteractionResponseData{Content: "Pinging..."},
	); err != nil {
		return err
	}
	roundTrip := time.Since(start)
	apiLatency := p.discord.session.HeartbeatLatency()

	embed := &discordgo.MessageEmbed{
		Title: "🏓 Pong!",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "⏱️ Latence du bot",
				Value:  fmt.Sprintf("%dms", roundTrip.Milliseconds()),
				Inline: true,
			},
			{
				Name:   "🌐 Latence API",
				Value:  fmt.Sprintf("%dms", apiLatency.Milliseconds()),
				Inline: true,
			},
		},
		Color: 0x00bcd4,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Prometheus • System Status",
		},
		Timestamp: nowTimestamp(),
	}
	empty := ""
	return p.editResponse(
		i, &discordgo.WebhookEdit{
			Content: &empty,
			Embeds:  &[]*discordgo.MessageEmbed{embed},
		},
	)
}

// handleHelp lists every available command, grouped by concern.
func (p *Prometheus) handleHelp(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	embed := &discordgo.MessageEmbed{
		Title: "📚 Prometheus — Command Guide",
		Description: "Here are all available commands to navigate the " +
			"Prometheus ecosystem:",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "📦 Archives",
				Value: "`/present` — Present an asset from the archives\n" +
					"`/work` — Display a collaboration with a team\n" +
					"`/client` — Present a client and their work",
			},
			{
				Name: "🔍 Search & List",
				Value: "`/list-assets` — List all available assets\n" +
					"`/list-clients` — List all registered clients\n" +
					"`/list-collabs` — List all collaborations\n" +
					"`/search` — Search through archives (assets, " +
					"clients, collaborations)",
			},
			{
				Name: "ℹ️ Information",
				Value: "`/identity` — Display Prometheus identity and " +
					"purpose\n" +
					"`/channel` — Present an ecosystem channel\n" +
					"`/whois` — Display a person's profile card\n" +
					"`/ping` — Check bot latency\n" +
					"`/stats` — Display bot and server statistics\n" +
					"`/credits` — Display your invite rewards standing\n" +
					"`/help` — Display this command list",
			},
			{
				Name: "📜 Rules & Information",
				Value: "`/rules` — Display server rules\n" +
					"`/payment` — Payment methods and billing information\n" +
					"`/skill` — Skill categories on offer",
			},
			{
				Name: "🎫 Tickets",
				Value: "`/setup-tickets` — Configure the ticket system " +
					"and send the control panel",
			},
			{
				Name: "⚙️ Administration",
				Value: "`/pricing` — Display service and pricing " +
					"information\n" +
					"`/com` — Set commission status (Open/Closed)\n" +
					"`/setup-welcome` — Configure the dynamic welcome " +
					"message\n" +
					"`/setup-access` — Configure the reaction access " +
					"role (Admin only)\n" +
					"`/setup-invite-program` — Post the invite rewards " +
					"panel (Admin only)\n" +
					"`/member` — Inspect a member profile (Admin only)\n" +
					"`/reload` — Reload JSON files without restarting " +
					"(Admin only)\n" +
					"`/backup` — Create a backup of all JSON files " +
					"(Admin only)\n" +
					"`/deploytest` — Test the deployment monitoring " +
					"webhook (Admin only)",
			},
		},
		Color:     0x00bcd4,
		Footer:    &discordgo.MessageEmbedFooter{Text: footerArchivist},
		Timestamp: nowTimestamp(),
	}
	return respondMessage(
		p.discord.session, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	)
}

// handleStats reports bot, guild, archive and runtime statistics.
func (p *Prometheus) handleStats(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, false); err != nil {
		return err
	}

	uptime := time.Since(p.startedAt)
	uptimeString := fmt.Sprintf(
		"%dd %dh %dm %ds",
		int(uptime.Hours())/24,
		int(uptime.Hours())%24,
		int(uptime.Minutes())%60,
		int(uptime.Seconds())%60,
	)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memoryMB := float64(mem.HeapAlloc) / 1024 / 1024

	botName := "Prometheus"
	botID := p.config.Discord.ApplicationID
	if u := p.discord.session.BotUser(); u != nil {
		botName = u.Username
		botID = u.ID
	}

	guildValue := "*indisponible*"
	if guild, err := p.discord.session.Guild(
		p.config.Discord.GuildID,
	); err == nil {
		channelCount := 0
		if chs, chErr := p.discord.session.GuildChannels(
			p.config.Discord.GuildID,
		); chErr == nil {
			channelCount = len(chs)
		}
		memberCount := guild.ApproximateMemberCount
		if memberCount == 0 {
			memberCount = guild.MemberCount
		}
		guildValue = fmt.Sprintf(
			"**Nom:** %s\n**Membres:** %d\n**Salons:** %d",
			guild.Name, memberCount, channelCount,
		)
	} else {
		p.logger.Warn("could not fetch guild for stats", tint.Err(err))
	}

	snap := p.catalog.Snapshot()
	openTickets, err := p.audit.OpenTicketCount(ctx)
	if err != nil {
		p.logger.Warn("could not count open tickets", tint.Err(err))
	}

	embed := &discordgo.MessageEmbed{
		Title: "📊 Statistiques de Prometheus",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "🤖 Bot",
				Value: fmt.Sprintf(
					"**Tag:** %s\n**ID:** %s\n**Version:** %s",
					botName, botID, Version,
				),
				Inline: true,
			},
			{Name: "🌐 Serveur", Value: guildValue, Inline: true},
			{Name: "⏱️ Uptime", Value: uptimeString},
			{
				Name:   "💾 Mémoire",
				Value:  fmt.Sprintf("%.2f MB", memoryMB),
				Inline: true,
			},
			{
				Name: "📦 Archives",
				Value: fmt.Sprintf(
					"**Assets:** %d\n**Clients:** %d\n**Collabs:** %d\n"+
						"**Identités:** %d",
					len(snap.Assets), len(snap.Clients),
					len(snap.Collabs), len(snap.Identities),
				),
				Inline: true,
			},
			{
				Name: "🌐 Latence",
				Value: fmt.Sprintf(
					"%dms",
					p.discord.session.HeartbeatLatency().Milliseconds(),
				),
				Inline: true,
			},
			{
				Name:   "🎫 Tickets ouverts",
				Value:  fmt.Sprintf("%d", openTickets),
				Inline: true,
			},
		},
		Color: 0x00bcd4,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Prometheus • System Statistics",
		},
		Timestamp: nowTimestamp(),
	}
	return p.editEmbed(i, embed)
}

// handleRules posts the public rules card.
func (p *Prometheus) handleRules(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	embed := &discordgo.MessageEmbed{
		Title: "〚📜〛 Server Rules",
		Description: "Please read and follow these rules to ensure a " +
			"positive experience for everyone.",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "1. Respect",
				Value: "Be respectful to all members. Harassment, " +
					"discrimination, or hate speech will not be tolerated.",
			},
			{
				Name: "2. No Spam",
				Value: "Avoid spamming messages, emojis, or reactions. " +
					"Keep conversations meaningful and on-topic.",
			},
			{
				Name: "3. Appropriate Content",
				Value: "Keep all content appropriate for all ages. NSFW " +
					"content is strictly prohibited.",
			},
			{
				Name: "4. No Self-Promotion",
				Value: "Do not promote your own content, services, or " +
					"servers without permission from staff.",
			},
			{
				Name: "5. Follow Discord ToS",
				Value: "All Discord Terms of Service and Community " +
					"Guidelines apply here.",
			},
			{
				Name: "6. Business Inquiries",
				Value: "For business inquiries or project requests, you " +
					"can use the ticket system or DM me directly. Tickets " +
					"help me stay organized, but DMs are also welcome.",
			},
			{
				Name: "7. Responsibility & Information",
				Value: "By using this server, you acknowledge that you " +
					"have read and understood the Rules, payment " +
					"information (`/payment`), and skill descriptions. " +
					"Failure to read these documents does not exempt you " +
					"from their terms. All information provided in " +
					"official channels (Rules, Pricing, Skills) is binding.",
			},
		},
		Color: 0x5865F2,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Kentiq Universe • Rules",
		},
		Timestamp: nowTimestamp(),
	}
	return respondMessage(
		p.discord.session, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	)
}

// handlePayment posts the payment terms as a spaced multi-embed set.
func (p *Prometheus) handlePayment(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	embeds := []*discordgo.MessageEmbed{
		{
			Title: "〚💰〛 Payment Information",
			Description: "Official payment terms for all services and " +
				"commissions.",
			Color: 0x5865F2,
		},
		spacerEmbed(),
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "〚💳〛 Accepted Payment Methods",
					Value: "• PayPal (Friends & Family — recommended)\n" +
						"• Cryptocurrency\n" +
						"• Robux (Only for amounts > 100,000 Robux)",
				},
			},
			Color: 0x5865F2,
		},
		spacerEmbed(),
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name:  "〚🧠〛 Two Billing Modes Available",
					Value: "​",
				},
			},
			Color: 0x5865F2,
		},
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "1) Consulting — $90/hour (Full Flexibility)",
					Value: "**Suitable for:**\n• Varied needs\n" +
						"• Multiple tasks\n• Maintenance\n• Adjustments\n" +
						"• Continuous or evolving work\n\n" +
						"**Details:**\n• Minimum sessions: 1h\n" +
						"• Payment must be made within 3 days after the " +
						"quote is issued. After 3 days, the quote " +
						"automatically expires.\n" +
						"• Upfront (40%) applies only to scope-based " +
						"services, not consulting.\n" +
						"• Billing based on actual time spent",
				},
			},
			Color: 0x5B6EE8,
		},
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "2) Scope-Based Service — Fixed Price " +
						"(Strict Scope)",
					Value: "**Suitable for:**\n• Precise deliverables\n" +
						"• Defined modules\n" +
						"• Complete systems with specifications\n\n" +
						"**Details:**\n• Scope defined BEFORE start\n" +
						"• No additions included outside scope\n" +
						"• Any extra = separate quote\n" +
						"• 40% upfront (non-refundable)\n" +
						"• 60% upon delivery",
				},
			},
			Color: 0x6077DE,
		},
		spacerEmbed(),
		{
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "〚🔒〛 Security Policy",
					Value: "Once the service is delivered and validated, " +
						"**no refunds** are possible.\n\n" +
						"The initial payment (40%) is non-refundable, " +
						"even if the project is stopped, as it covers:\n" +
						"• Slot reservation\n• Preparation hours\n" +
						"• Already produced elements",
				},
			},
			Color: 0x5865F2,
			Footer: &discordgo.MessageEmbedFooter{
				Text: "Kentiq Universe • Payment Information",
			},
			Timestamp: nowTimestamp(),
		},
		{
			Description: "Want to know what my skills are? Use `/skill`.",
			Color:       0x5865F2,
		},
	}
	return respondMessage(
		p.discord.session, i,
		&discordgo.InteractionResponseData{Embeds: embeds},
	)
}

// handlePricing posts the services and pricing card, pointing at the given
// ticket channel when one is supplied.
func (p *Prometheus) handlePricing(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, false); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	ticketChannelMention := "le salon de ticket dédié"
	if channelID := optionString(opts, "ticket_channel"); channelID != "" {
		ticketChannelMention = fmt.Sprintf("<#%s>", channelID)
	}

	embed := &discordgo.MessageEmbed{
		Title: "✨ Kentiq: Your Partner for Roblox Development ✨",
		Description: "Hello everyone. This channel is dedicated to " +
			"presenting the professional development and design services " +
			"I have the opportunity to offer. My aim is to provide " +
			"concrete expertise to help bring your Roblox projects to life.",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "​",
				Value: "**How I Can Assist You:**\nThrough various " +
					"projects, I've had the chance to develop a certain " +
					"expertise in system architecture and " +
					"performance-focused development. I hope this " +
					"experience can be beneficial to you. Here are some " +
					"areas where I can provide support:",
			},
			{
				Name: "💻 Code & System Architecture",
				Value: "• Development of custom frameworks and modular " +
					"systems.\n" +
					"• Implementation of advanced backend logic " +
					"(DataStores, basic anti-cheat considerations).\n" +
					"• Performance optimization and scalability " +
					"solutions.\n" +
					"• Integration of APIs (Roblox and external).",
			},
			{
				Name: "📐 Models & Asset Creation",
				Value: "• High-quality 3D modeling (props, environments, " +
					"characters).\n" +
					"• Optimized asset pipelines for performance.",
			},
			{
				Name: "🎬 Animation & VFX",
				Value: "• Smooth character animations and cinematic " +
					"sequences.\n" +
					"• Custom visual effects (VFX).",
			},
			{
				Name: "🎧 SFX & Audio Design",
				Value: "• Creation of immersive soundscapes and custom " +
					"sound effects.",
			},
			{
				Name: "🎨 UX-UI & Graphics",
				Value: "• Design and implementation of intuitive user " +
					"interfaces (UI).\n" +
					"• Branding and visual identity development for your " +
					"project.",
			},
			{
				Name: "🌐 Web Development",
				Value: "• Development of custom web dashboards and game " +
					"management tools (front-end & back-end).",
			},
			{Name: "​", Value: "​"},
			{
				Name: "My Approach & Pricing",
				Value: "My goal is to deliver not just functional code, " +
					"but robust, maintainable, and well-documented " +
					"solutions that provide **lasting value** to your " +
					"project. As each project is unique and has specific " +
					"requirements, **all my services are quoted on a " +
					"customized basis.**\n\n" +
					"The pricing will humbly reflect the complexity of " +
					"the work, the specialized expertise required, and " +
					"the long-term value that, I hope, my solutions will " +
					"bring to your project's success and longevity.",
			},
			{Name: "​", Value: "​"},
			{
				Name: "How to Start (Essential First Step)",
				Value: fmt.Sprintf(
					"1.  **Open a Ticket:** To request a quote or "+
						"discuss a project, please open a new ticket in "+
						"%s.\n"+
						"2.  **Briefly Describe Your Project:** In the "+
						"ticket, please provide an overview of your game, "+
						"the specific task for which you need assistance, "+
						"and your general objectives.\n"+
						"3.  **Initial Consultation:** We will then "+
						"arrange a brief consultation to discuss your "+
						"needs in detail and determine the best "+
						"approach.\n"+
						"4.  **Custom Quote:** Following our discussion, "+
						"you will receive a personalized quote detailing "+
						"the scope of work, deliverables, timeline, and "+
						"pricing.",
					ticketChannelMention,
				),
			},
			{Name: "​", Value: "​"},
			{
				Name: "Discover My Work",
				Value: "Feel free to browse my portfolio to see examples " +
					"of my past projects and technical approach:\n" +
					"•   **Kentiq Portfolio:** You can explore dedicated " +
					"channels like #〚💻〛𝖢𝗈𝖽𝖾, #〚🔊〛𝖲𝖥𝖷, etc.\n" +
					"•   **My Website:** " +
					"[https://www.kentiq.tech/portal]" +
					"(https://www.kentiq.tech/portal)",
			},
		},
		Color:  0x2ecc71,
		Footer: &discordgo.MessageEmbedFooter{Text: "Sincerely, Kentiq"},
	}
	return p.editEmbed(i, embed)
}

// handleSkill posts the skill-category card.
func (p *Prometheus) handleSkill(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	embed := &discordgo.MessageEmbed{
		Title: "〚🛠️〛 Skills Overview",
		Description: "The skill categories available across the Kentiq " +
			"ecosystem.",
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "💻 Code & System Architecture",
				Value: "Custom frameworks, modular systems, backend " +
					"logic, performance and scalability.",
			},
			{
				Name: "📐 Models & Asset Creation",
				Value: "High-quality 3D modeling with optimized asset " +
					"pipelines.",
			},
			{
				Name: "🎬 Animation & VFX",
				Value: "Character animation, cinematic sequences and " +
					"custom visual effects.",
			},
			{
				Name:  "🎧 SFX & Audio Design",
				Value: "Immersive soundscapes and custom sound effects.",
			},
			{
				Name: "🎨 UX-UI & Graphics",
				Value: "Intuitive user interfaces, branding and visual " +
					"identity.",
			},
			{
				Name: "🌐 Web Development",
				Value: "Custom web dashboards and game management tools, " +
					"front-end and back-end.",
			},
		},
		Color: 0x5865F2,
		Footer: &discordgo.MessageEmbedFooter{
			Text: "Kentiq Universe • Skills",
		},
		Timestamp: nowTimestamp(),
	}
	return respondMessage(
		p.discord.session, i,
		&discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	)
}

// handleFinish posts a public completion notice for a delivered project.
func (p *Prometheus) handleFinish(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	opts := discordInteractionOptions(i)
	project := optionString(opts, "project")
	note := optionString(opts, "note")

	description := fmt.Sprintf(
		"The project **%s** has been completed and delivered.", project,
	)
	embed := &discordgo.MessageEmbed{
		Title:       "✅ Project Completed",
		Description: description,
		Color:       0x57F287,
		Footer:      &discordgo.MessageEmbedFooter{Text: "Prometheus • Delivery"},
		Timestamp:   nowTimestamp(),
	}
	if note != "" {
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "📝 Note", Value: note},
		}
	}
	return respondMessage(
		p.discord.session, i,
		&discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	)
}
