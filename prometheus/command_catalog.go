package prometheus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	footerArchivist      = "Prometheus • Digital artifact archivist"
	footerWorkWith       = "Prometheus • Work with external teams"
	footerClientShowcase = "Prometheus • Client Showcase"
	footerIdentification = "Prometheus • Protocole d'Identification"

	// Staged-reveal pacing for /identity and /whois.
	revealDelay     = 1500 * time.Millisecond
	revealDelayLong = 2 * time.Second

	listDescriptionLimit = 2000
	embedFieldLimit      = 1024
)

// handlePresent renders an asset card from the archives, with optional
// preview, video and extra attachments supplied by the invoker.
func (p *Prometheus) handlePresent(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, false); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	assetID := optionString(opts, "asset")

	snap := p.catalog.Snapshot()
	asset, ok := snap.Assets[assetID]
	if !ok {
		return p.editContent(i, "⚠️ Asset not found in Prometheus archives.")
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf(
			"📦 %s [%s]", strings.ToUpper(asset.Name), asset.Type,
		),
		Description: fmt.Sprintf(
			"✨ %s\n\n---\n\n", asset.Description.String(),
		),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name: "📦 Technical details",
				Value: fmt.Sprintf(
					"• **Format:** `%s`\n• **Status:** `%s`\n"+
						"• **Version:** `%s`\n",
					asset.Format, asset.Status.String(), asset.Version,
				),
			},
			{Name: "🧷 License", Value: asset.License, Inline: true},
			{Name: "👤 Author", Value: asset.Author, Inline: true},
			{Name: "📅 Date", Value: asset.Date, Inline: true},
		},
		Color:     embedColor(asset.Color, 0x00bcd4),
		Footer:    &discordgo.MessageEmbedFooter{Text: footerArchivist},
		Timestamp: nowTimestamp(),
	}

	if strings.Contains(asset.Type, "Modèle") ||
		strings.Contains(asset.Type, "Model") {
		embed.Fields = append(
			embed.Fields,
			&discordgo.MessageEmbedField{
				Name:   "🎨 Polycount",
				Value:  fmt.Sprintf("`%s`", asset.Polycount),
				Inline: true,
			},
			&discordgo.MessageEmbedField{
				Name:   "🦴 Rig",
				Value:  fmt.Sprintf("`%s`", asset.Rig),
				Inline: true,
			},
			&discordgo.MessageEmbedField{
				Name:   "🏃 Animation",
				Value:  fmt.Sprintf("`%s`", asset.Animation),
				Inline: true,
			},
			&discordgo.MessageEmbedField{
				Name:   "💻 Software",
				Value:  fmt.Sprintf("`%s`", asset.Software),
				Inline: true,
			},
		)
	}

	if preview := optionAttachment(i, opts, "preview"); asset.Preview == "attachment" && preview != nil {
		embed.Image = &discordgo.MessageEmbedImage{URL: preview.URL}
	} else if strings.HasPrefix(asset.Preview, "http") {
		embed.Image = &discordgo.MessageEmbedImage{URL: asset.Preview}
	}

	if video := optionAttachment(i, opts, "video"); asset.Video == "attachment" && video != nil {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "🎬 Video",
				Value: fmt.Sprintf("[Uploaded file](%s)", video.URL),
			},
		)
	} else if strings.HasPrefix(asset.Video, "http") {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "🎬 Video",
				Value: fmt.Sprintf("[External link](%s)", asset.Video),
			},
		)
	}

	var extras []string
	for n := 1; n <= 10; n++ {
		if att := optionAttachment(
			i, opts, fmt.Sprintf("attachment%d", n),
		); att != nil {
			extras = append(
				extras,
				fmt.Sprintf("[%s](%s)", att.Filename, att.URL),
			)
		}
	}
	if len(extras) > 0 {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "📎 Attachments",
				Value: strings.Join(extras, "\n"),
			},
		)
	}

	return p.editResponse(
		i, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{embed},
		},
	)
}

// handleWork showcases a collaboration: the team's invite link first (so the
// preview unfurls), then the contribution embed.
func (p *Prometheus) handleWork(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, false); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	collabID := optionString(opts, "asset")

	snap := p.catalog.Snapshot()
	item, ok := snap.Collabs[collabID]
	if !ok {
		return p.editContent(i, "⚠️ Collaboration not found.")
	}

	if item.Discord != "" {
		if _, err := p.discord.session.FollowupMessageCreate(
			i.Interaction, false,
			&discordgo.WebhookParams{Content: item.Discord},
		); err != nil {
			p.logger.Warn("could not send collab invite link", tint.Err(err))
		}
	}

	var contributions []string
	for _, part := range strings.Split(item.Contribution, ",") {
		contributions = append(
			contributions, "• "+strings.TrimSpace(part),
		)
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf(
			"🤝 %s [Work with]", strings.ToUpper(item.Name),
		),
		Description: fmt.Sprintf("✨ %s\n\n---\n\n", item.Description),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "🛠️ What I worked on",
				Value: strings.Join(contributions, "\n") + "\n",
			},
		},
		Color:     0x4caf50,
		Footer:    &discordgo.MessageEmbedFooter{Text: footerWorkWith},
		Timestamp: nowTimestamp(),
	}

	if preview := optionAttachment(i, opts, "preview"); item.Preview == "attachment" && preview != nil {
		embed.Image = &discordgo.MessageEmbedImage{URL: preview.URL}
	} else if strings.HasPrefix(item.Preview, "http") {
		embed.Image = &discordgo.MessageEmbedImage{URL: item.Preview}
	}

	if video := optionAttachment(i, opts, "video"); item.Video == "attachment" && video != nil {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "🎬 Video",
				Value: fmt.Sprintf("[Uploaded file](%s)", video.URL),
			},
		)
	} else if strings.HasPrefix(item.Video, "http") {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:  "🎬 Video",
				Value: fmt.Sprintf("[External link](%s)", item.Video),
			},
		)
	}

	return p.editResponse(
		i, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{embed},
		},
	)
}

// handleClient presents a client showcase with their completed tasks and
// (possibly chunked) feedback quote.
func (p *Prometheus) handleClient(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, false); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	clientID := optionString(opts, "id")

	snap := p.catalog.Snapshot()
	clientData, ok := snap.Clients[clientID]
	if !ok {
		return p.editContent(i, "⚠️ Client not found in Prometheus archives.")
	}

	var tasks []string
	for _, t := range strings.Split(clientData.Tasks, ",") {
		tasks = append(tasks, "• "+strings.TrimSpace(t))
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf(
			"💼 %s — %s", strings.ToUpper(clientData.Name), clientData.Role,
		),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "📝 Tasks Completed", Value: strings.Join(tasks, "\n")},
		},
		Color:     embedColor(clientData.Color, 0x3498db),
		Footer:    &discordgo.MessageEmbedFooter{Text: footerClientShowcase},
		Timestamp: nowTimestamp(),
	}

	if clientData.Quote != "" {
		quote := fmt.Sprintf("*“%s”*", clientData.Quote)
		first := true
		for len(quote) > 0 {
			chunk := quote
			if len(chunk) > embedFieldLimit {
				chunk = quote[:embedFieldLimit]
			}
			name := "​"
			if first {
				name = "💬 Client Feedback"
				first = false
			}
			embed.Fields = append(
				embed.Fields,
				&discordgo.MessageEmbedField{Name: name, Value: chunk},
			)
			quote = quote[len(chunk):]
		}
	}

	edit := &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	}
	if proof := optionAttachment(i, opts, "proof"); clientData.Proof == "attachment" && proof != nil {
		edit.Content = &proof.URL
	} else if strings.HasPrefix(clientData.Proof, "http") {
		proofURL := clientData.Proof
		edit.Content = &proofURL
	}

	return p.editResponse(i, edit)
}

// handleWarning announces incoming assets, then follows up when the
// countdown elapses.
func (p *Prometheus) handleWarning(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, false); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	count := optionInt(opts, "count")
	seconds := optionInt(opts, "seconds")

	hms := time.Unix(seconds, 0).UTC().Format("15:04:05")
	if err := p.editContent(
		i,
		fmt.Sprintf(
			"⚠️ %d assets incoming in this channel... in %s", count, hms,
		),
	); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(seconds) * time.Second):
		}
		if _, err := p.discord.session.FollowupMessageCreate(
			i.Interaction, false, &discordgo.WebhookParams{
				Content: fmt.Sprintf(
					"🚨 %d assets are incoming now!", count,
				),
			},
		); err != nil {
			p.logger.Warn("could not send warning followup", tint.Err(err))
		}
	}()
	return nil
}

// handleChannel presents one ecosystem channel card.
func (p *Prometheus) handleChannel(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	opts := discordInteractionOptions(i)
	key := optionString(opts, "name")

	snap := p.catalog.Snapshot()
	channelData, ok := snap.Channels[key]
	if !ok {
		return respondEphemeral(p.discord.session, i, "Channel not found!")
	}
	return respondMessage(
		p.discord.session, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       channelData.Title,
					Description: channelData.Description,
					Color:       channelData.Color,
				},
			},
		},
	)
}

// handleWhois renders a person's profile card behind a staged reveal, with
// philosophy and spoken languages extracted from the stored presentation
// markdown and link buttons for each profile URL.
func (p *Prometheus) handleWhois(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, false); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	personID := optionString(opts, "personne")

	snap := p.catalog.Snapshot()
	identity, ok := snap.Identities[personID]
	if !ok {
		return p.editContent(
			i, "⚠️ Identité non trouvée. Fin de la transmission.",
		)
	}

	stages := []struct {
		content string
		delay   time.Duration
	}{
		{"```[ ACCÈS AU PROFIL SUJET... ]```", revealDelay},
		{"```[ AUTHENTIFICATION... ACCORDÉE. ]```", revealDelay},
		{
			fmt.Sprintf(
				"```[ CHARGEMENT FLUX DE DONNÉES... SUJET : %s ]```",
				strings.ToUpper(identity.Name),
			),
			revealDelayLong,
		},
	}
	for _, stage := range stages {
		if err := p.editContent(i, stage.content); err != nil {
			return err
		}
		if !sleepContext(ctx, stage.delay) {
			return ctx.Err()
		}
	}

	philosophy := extractMarkdownSection(
		identity.PresentationMarkdown, "💭 Philosophy",
	)
	languages := extractLanguages(identity.PresentationMarkdown)

	embeds := []*discordgo.MessageEmbed{
		{
			Title: fmt.Sprintf(
				"〚⚜️〛 %s — %s",
				strings.ToUpper(identity.Name), identity.Role,
			),
			Fields: []*discordgo.MessageEmbedField{
				{
					Name: "​",
					Value: "A highly versatile Full-Stack developer " +
						"specializing in comprehensive polyvalence.",
				},
			},
			Thumbnail: &discordgo.MessageEmbedThumbnail{URL: identity.Image},
			Color:     embedColor(identity.Color, 0x5865F2),
		},
		spacerEmbed(),
	}

	if philosophy != "" {
		embeds = append(
			embeds,
			&discordgo.MessageEmbed{
				Fields: []*discordgo.MessageEmbedField{
					{Name: "〚💭〛 Philosophy", Value: philosophy},
				},
				Color: 0x5865F2,
			},
			spacerEmbed(),
		)
	}
	if languages != "" {
		embeds = append(
			embeds,
			&discordgo.MessageEmbed{
				Fields: []*discordgo.MessageEmbedField{
					{Name: "〚🌐〛 Languages Spoken", Value: languages},
				},
				Color: 0x5B6EE8,
			},
			spacerEmbed(),
		)
	}

	var linkLines []string
	var buttons []discordgo.MessageComponent
	for _, key := range sortedKeys(identity.Links) {
		url := identity.Links[key]
		if !strings.HasPrefix(url, "http") {
			continue
		}
		label := capitalize(key)
		linkLines = append(
			linkLines, fmt.Sprintf("> %s: [%s](%s)", label, key, url),
		)
		buttons = append(
			buttons, discordgo.Button{
				Label: label,
				Style: discordgo.LinkButton,
				URL:   url,
			},
		)
	}
	if len(linkLines) > 0 {
		embeds = append(
			embeds, &discordgo.MessageEmbed{
				Fields: []*discordgo.MessageEmbedField{
					{
						Name:  "〚🔗〛 Links",
						Value: strings.Join(linkLines, "\n"),
					},
				},
				Color: 0x6077DE,
				Footer: &discordgo.MessageEmbedFooter{
					Text: footerIdentification,
				},
				Timestamp: nowTimestamp(),
			},
		)
	}

	empty := ""
	edit := &discordgo.WebhookEdit{Content: &empty, Embeds: &embeds}
	if len(buttons) > 0 {
		edit.Components = &[]discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		}
	}
	return p.editResponse(i, edit)
}

// handleListAssets lists every archived asset, truncated to the embed
// description limit.
func (p *Prometheus) handleListAssets(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	snap := p.catalog.Snapshot()
	var lines []string
	for _, id := range sortedKeys(snap.Assets) {
		asset := snap.Assets[id]
		lines = append(
			lines,
			fmt.Sprintf("• **%s** — %s [%s]", id, asset.Name, asset.Type),
		)
	}
	return p.editEmbed(
		i, listEmbed(
			fmt.Sprintf("📦 Liste des assets (%d)", len(snap.Assets)),
			lines, "*Aucun asset trouvé.*", 0x00bcd4,
		),
	)
}

// handleListClients lists every registered client.
func (p *Prometheus) handleListClients(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	snap := p.catalog.Snapshot()
	var lines []string
	for _, id := range sortedKeys(snap.Clients) {
		c := snap.Clients[id]
		lines = append(
			lines,
			fmt.Sprintf("• **%s** — %s (%s)", id, c.Name, c.Role),
		)
	}
	return p.editEmbed(
		i, listEmbed(
			fmt.Sprintf("💼 Liste des clients (%d)", len(snap.Clients)),
			lines, "*Aucun client trouvé.*", 0x3498db,
		),
	)
}

// handleListCollabs lists every collaboration.
func (p *Prometheus) handleListCollabs(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	snap := p.catalog.Snapshot()
	var lines []string
	for _, id := range sortedKeys(snap.Collabs) {
		w := snap.Collabs[id]
		lines = append(lines, fmt.Sprintf("• **%s** — %s", id, w.Name))
	}
	return p.editEmbed(
		i, listEmbed(
			fmt.Sprintf(
				"🤝 Liste des collaborations (%d)", len(snap.Collabs),
			),
			lines, "*Aucune collaboration trouvée.*", 0x4caf50,
		),
	)
}

var searchKindEmojis = map[string]string{
	"asset":  "📦",
	"client": "💼",
	"collab": "🤝",
}

// handleSearch scans the archives for the query, optionally filtered to one
// catalog kind.
func (p *Prometheus) handleSearch(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	if err := p.ack(i, true); err != nil {
		return err
	}
	opts := discordInteractionOptions(i)
	query := optionString(opts, "query")
	typeFilter := optionString(opts, "type")
	if typeFilter == "" {
		typeFilter = "all"
	}

	kindFilter := map[string]string{
		"assets":  "asset",
		"clients": "client",
		"collabs": "collab",
	}[typeFilter]

	results := p.catalog.Search(query)
	if kindFilter != "" {
		filtered := results[:0]
		for _, r := range results {
			if r.Kind == kindFilter {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	embed := &discordgo.MessageEmbed{
		Title: fmt.Sprintf("🔍 Résultats de recherche (%d)", len(results)),
		Color: 0x00bcd4,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Recherche: %q", query),
		},
		Timestamp: nowTimestamp(),
	}
	if len(results) == 0 {
		embed.Description = fmt.Sprintf(
			"*Aucun résultat trouvé pour* `%s`.", query,
		)
	} else {
		var lines []string
		for _, r := range results {
			lines = append(
				lines,
				fmt.Sprintf(
					"%s **%s** — %s",
					searchKindEmojis[r.Kind], r.ID, r.Name,
				),
			)
		}
		embed.Description = truncateList(strings.Join(lines, "\n"))
		embed.Fields = []*discordgo.MessageEmbedField{
			{
				Name: "💡 Astuce",
				Value: "Utilisez `/present <id>` pour afficher un asset, " +
					"`/client <id>` pour un client.",
			},
		}
	}
	return p.editEmbed(i, embed)
}

// handleCredits reports the caller's invite count and K-Credit balance.
func (p *Prometheus) handleCredits(
	_ context.Context,
	i *discordgo.InteractionCreate,
) error {
	user := interactionUser(i)
	record, _ := p.ledger.Standing(user.ID)

	tier := record.Tier
	if tier == "" {
		tier = "none"
	}
	embed := &discordgo.MessageEmbed{
		Title: "〚🎁〛 Invite Rewards",
		Description: fmt.Sprintf(
			"Standing for <@%s> in the invite program.", user.ID,
		),
		Fields: []*discordgo.MessageEmbedField{
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
		},
		Color:     0x2ecc71,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Prometheus • Invite Program"},
		Timestamp: nowTimestamp(),
	}
	return respondMessage(
		p.discord.session, i, &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	)
}

// editContent edits the deferred response with plain text, clearing embeds.
func (p *Prometheus) editContent(
	i *discordgo.InteractionCreate,
	content string,
) error {
	return p.editResponse(
		i, &discordgo.WebhookEdit{
			Content: &content,
			Embeds:  &[]*discordgo.MessageEmbed{},
		},
	)
}

// editEmbed edits the deferred response with a single embed.
func (p *Prometheus) editEmbed(
	i *discordgo.InteractionCreate,
	embed *discordgo.MessageEmbed,
) error {
	return p.editResponse(
		i, &discordgo.WebhookEdit{
			Embeds: &[]*discordgo.MessageEmbed{embed},
		},
	)
}

func listEmbed(
	title string,
	lines []string,
	emptyText string,
	color int,
) *discordgo.MessageEmbed {
	description := emptyText
	if len(lines) > 0 {
		description = truncateList(strings.Join(lines, "\n"))
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   nowTimestamp(),
	}
}

func truncateList(s string) string {
	if len(s) > listDescriptionLimit {
		return s[:listDescriptionLimit-3] + "..."
	}
	return s
}

func embedColor(color int, fallback int) int {
	if color != 0 {
		return color
	}
	return fallback
}

// extractMarkdownSection returns the body of the "### <header>" section,
// stopping at the next heading or horizontal rule.
func extractMarkdownSection(markdown string, header string) string {
	var out []string
	in := false
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "###") {
			if in {
				break
			}
			if strings.Contains(trimmed, header) {
				in = true
			}
			continue
		}
		if !in {
			continue
		}
		if trimmed == "---" {
			break
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// extractLanguages returns the "Languages Spoken" section with each leading
// flag emoji bracketed.
func extractLanguages(markdown string) string {
	section := extractMarkdownSection(markdown, "🌐 Languages Spoken")
	if section == "" {
		return ""
	}
	var out []string
	for _, line := range strings.Split(section, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, bracketFlag(line))
	}
	return strings.Join(out, "\n")
}

// bracketFlag wraps a leading flag emoji (a regional-indicator pair) in
// 〚〛 brackets.
func bracketFlag(line string) string {
	runes := []rune(line)
	if len(runes) >= 2 &&
		isRegionalIndicator(runes[0]) && isRegionalIndicator(runes[1]) {
		return "〚" + string(runes[:2]) + "〛" + string(runes[2:])
	}
	return line
}

func isRegionalIndicator(r rune) bool {
	return r >= 0x1F1E6 && r <= 0x1F1FF
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// sleepContext sleeps for d, returning false if ctx was canceled first.
func sleepContext(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
