package prometheus

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/bwmarrin/discordgo"
)

// transcriptFetchLimit caps how much channel history a transcript includes.
const transcriptFetchLimit = 1000

const transcriptPageSize = 100

// transcriptTemplate renders a closed ticket's history as a standalone HTML
// document, oldest message first.
var transcriptTemplate = template.Must(
	template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Transcript — {{.ChannelName}}</title>
<style>
body { background: #313338; color: #dbdee1; font-family: sans-serif; margin: 0; padding: 1rem; }
header { border-bottom: 1px solid #3f4147; padding-bottom: .5rem; margin-bottom: 1rem; }
.msg { display: flex; gap: .75rem; padding: .25rem 0; }
.avatar { width: 40px; height: 40px; border-radius: 50%; background: #5865f2; flex: none; }
.author { font-weight: 600; color: #f2f3f5; }
.timestamp { font-size: .75rem; color: #949ba4; margin-left: .5rem; }
.content { white-space: pre-wrap; word-break: break-word; }
.attachment { color: #00a8fc; }
.embed { border-left: 4px solid #5865f2; background: #2b2d31; padding: .5rem; margin-top: .25rem; border-radius: 4px; }
</style>
</head>
<body>
<header>
<h2>#{{.ChannelName}}</h2>
<p>{{.MessageCount}} messages — exported {{.ExportedAt}}</p>
</header>
{{range .Messages}}<div class="msg">
<div class="avatar"></div>
<div>
<span class="author">{{.Author}}</span><span class="timestamp">{{.Timestamp}}</span>
<div class="content">{{.Content}}</div>
{{range .Attachments}}<div class="attachment"><a href="{{.}}">{{.}}</a></div>
{{end}}{{range .Embeds}}<div class="embed">{{.}}</div>
{{end}}</div>
</div>
{{end}}</body>
</html>
`),
)

type transcriptMessage struct {
	Author      string
	Timestamp   string
	Content     string
	Attachments []string
	Embeds      []string
}

type transcriptData struct {
	ChannelName  string
	MessageCount int
	ExportedAt   string
	Messages     []transcriptMessage
}

// fetchChannelHistory pages backwards through a channel's messages and
// returns them oldest first, capped at transcriptFetchLimit.
func fetchChannelHistory(
	session DiscordSessionHandler,
	channelID string,
) ([]*discordgo.Message, error) {
	var all []*discordgo.Message
	beforeID := ""
	for len(all) < transcriptFetchLimit {
		page, err := session.ChannelMessages(
			channelID, transcriptPageSize, beforeID, "", "",
		)
		if err != nil {
			return nil, fmt.Errorf("fetching channel history: %w", err)
		}
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		beforeID = page[len(page)-1].ID
		if len(page) < transcriptPageSize {
			break
		}
	}
	// pages arrive newest first
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

// renderTranscript renders channel history as an HTML document.
func renderTranscript(
	channelName string,
	messages []*discordgo.Message,
) ([]byte, error) {
	data := transcriptData{
		ChannelName:  channelName,
		MessageCount: len(messages),
		ExportedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	for _, m := range messages {
		if m == nil {
			continue
		}
		tm := transcriptMessage{
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		}
		if m.Author != nil {
			tm.Author = m.Author.Username
		}
		for _, att := range m.Attachments {
			if att != nil {
				tm.Attachments = append(tm.Attachments, att.URL)
			}
		}
		for _, e := range m.Embeds {
			if e == nil {
				continue
			}
			summary := e.Title
			if summary == "" {
				summary = e.Description
			}
			tm.Embeds = append(tm.Embeds, truncate(summary, 200))
		}
		data.Messages = append(data.Messages, tm)
	}

	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering transcript: %w", err)
	}
	return buf.Bytes(), nil
}
