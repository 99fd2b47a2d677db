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
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const deployMessageFile = "deploy-message.json"

// Deployment status colors and texts. These match what the CI pipeline and
// the operator's monitor channel already display.
const (
	deployColorStarted = 0x5865F2
	deployColorPull    = 0x3498DB
	deployColorDeps    = 0xFAA61A
	deployColorReload  = 0x9B59B6
	deployColorSuccess = 0x57F287
	deployColorFailed  = 0xED4245

	deployTitleStarted = "🔵 Deployment detected"
	deployTitleSuccess = "🟩 Deployment Success"
	deployTitleFailed  = "❌ Deployment Failed"

	deployDescStarted = "Initialisation du déploiement…"
	deployDescSuccess = "Le bot a été mis à jour et PM2 s'est rechargé " +
		"correctement."
	deployDescFailed = "Une erreur est survenue pendant le déploiement."

	deployFooter = "Prometheus Bot • Deployment Monitor"
)

// deployStage is one step of the canned progress sequence fired after a
// deployment starts.
type deployStage struct {
	Title string
	Color int
}

// deployStages fire in order, stage N landing N*StageDelay after /deploy.
var deployStages = []deployStage{
	{Title: "📥 Pulling repository…", Color: deployColorPull},
	{Title: "⚙️ Installation des dépendances…", Color: deployColorDeps},
	{Title: "🔄 Reload de PM2…", Color: deployColorReload},
}

// deployPointer is the persisted location of the live status message, so a
// bot restart mid-deployment can keep editing the same message.
type deployPointer struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	Timestamp int64  `json:"timestamp"`
}

// DeployMonitor maintains the single deployment status message. Every
// operation degrades to a logged warning when no message can be resolved;
// a broken monitor must never fail the CI caller.
type DeployMonitor struct {
	session    DiscordSessionHandler
	channelID  string
	path       string
	stageDelay time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	message *discordgo.Message
	// cancelStages stops the previous session's stage timers when a new
	// deployment starts, so stale timers can't edit the new message.
	cancelStages context.CancelFunc
}

func newDeployMonitor(
	session DiscordSessionHandler,
	cfg *DeployConfig,
	dataDir string,
	logger *slog.Logger,
) *DeployMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeployMonitor{
		session:    session,
		channelID:  cfg.MonitorChannelID,
		path:       filepath.Join(dataDir, deployMessageFile),
		stageDelay: cfg.StageDelay,
		logger:     logger.With(loggerNameKey, "deploy_monitor"),
	}
}

// StartSession begins a new deployment: posts the initial status message,
// persists its pointer, and schedules the canned stage sequence on a context
// cancelled by the next StartSession.
func (m *DeployMonitor) StartSession(ctx context.Context, commit string) {
	m.mu.Lock()
	if m.cancelStages != nil {
		m.cancelStages()
	}
	stageCtx, cancel := context.WithCancel(ctx)
	m.cancelStages = cancel
	m.mu.Unlock()

	if err := m.Start(commit); err != nil {
		m.logger.Warn("could not start deployment message", tint.Err(err))
		return
	}

	go m.runStages(stageCtx)
}

func (m *DeployMonitor) runStages(ctx context.Context) {
	for n, stage := range deployStages {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.stageDelay):
		}
		if err := m.UpdateStage(stage.Title, stage.Color, ""); err != nil {
			m.logger.Warn(
				"could not update deployment stage",
				"stage", n+1,
				"title", stage.Title,
				tint.Err(err),
			)
		}
	}
}

// Start posts the initial deployment message and persists its pointer.
func (m *DeployMonitor) Start(commit string) error {
	if m.channelID == "" {
		return errors.New("no monitor channel configured")
	}
	if commit == "" {
		commit = "N/A"
	}
	embed := &discordgo.MessageEmbed{
		Title:       deployTitleStarted,
		Description: deployDescStarted,
		Color:       deployColorStarted,
		Timestamp:   nowTimestamp(),
		Footer:      &discordgo.MessageEmbedFooter{Text: deployFooter},
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Commit",
				Value:  fmt.Sprintf("`%s`", commit),
				Inline: true,
			},
		},
	}
	msg, err := m.session.ChannelMessageSendEmbeds(
		m.channelID, []*discordgo.MessageEmbed{embed},
	)
	if err != nil {
		return fmt.Errorf("sending deployment message: %w", err)
	}

	m.mu.Lock()
	m.message = msg
	m.mu.Unlock()

	if err := m.savePointer(msg.ID, m.channelID); err != nil {
		m.logger.Warn("could not save deploy message pointer", tint.Err(err))
	}
	m.logger.Info("deployment started", "commit", commit)
	return nil
}

// UpdateStage edits the status message with a new title and color,
// preserving existing fields (the commit hash).
func (m *DeployMonitor) UpdateStage(
	title string,
	color int,
	description string,
) error {
	msg, err := m.resolveMessage()
	if err != nil {
		return err
	}

	embed := embedFromMessage(msg)
	embed.Title = title
	embed.Color = color
	if description != "" {
		embed.Description = description
	}
	embed.Timestamp = nowTimestamp()

	return m.edit(msg, embed)
}

// Succeed marks the current deployment successful.
func (m *DeployMonitor) Succeed() error {
	msg, err := m.resolveMessage()
	if err != nil {
		return err
	}
	embed := embedFromMessage(msg)
	embed.Title = deployTitleSuccess
	embed.Description = deployDescSuccess
	embed.Color = deployColorSuccess
	embed.Timestamp = nowTimestamp()
	return m.edit(msg, embed)
}

// Fail marks the current deployment failed, keeping (or adding) the commit
// field.
func (m *DeployMonitor) Fail(commit string, errText string) error {
	msg, err := m.resolveMessage()
	if err != nil {
		return err
	}
	embed := embedFromMessage(msg)
	embed.Title = deployTitleFailed
	if errText != "" {
		embed.Description = errText
	} else {
		embed.Description = deployDescFailed
	}
	embed.Color = deployColorFailed
	embed.Timestamp = nowTimestamp()

	if commit != "" && !embedHasField(embed, "Commit") {
		embed.Fields = append(
			embed.Fields, &discordgo.MessageEmbedField{
				Name:   "Commit",
				Value:  fmt.Sprintf("`%s`", commit),
				Inline: true,
			},
		)
	}
	return m.edit(msg, embed)
}

func (m *DeployMonitor) edit(
	msg *discordgo.Message,
	embed *discordgo.MessageEmbed,
) error {
	updated, err := m.session.ChannelMessageEditEmbeds(
		msg.ChannelID, msg.ID, []*discordgo.MessageEmbed{embed},
	)
	if err != nil {
		return fmt.Errorf("editing deployment message: %w", err)
	}
	m.mu.Lock()
	m.message = updated
	m.mu.Unlock()
	return nil
}

// resolveMessage returns the cached status message, refetching it from the
// persisted pointer after a restart. A pointer to a deleted message is
// discarded.
func (m *DeployMonitor) resolveMessage() (*discordgo.Message, error) {
	m.mu.Lock()
	if m.message != nil {
		msg := m.message
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()

	ptr, err := m.loadPointer()
	if err != nil {
		return nil, err
	}
	msg, err := m.session.ChannelMessage(ptr.ChannelID, ptr.MessageID)
	if err != nil {
		if removeErr := os.Remove(m.path); removeErr != nil &&
			!errors.Is(removeErr, fs.ErrNotExist) {
			m.logger.Warn(
				"could not remove stale deploy pointer",
				tint.Err(removeErr),
			)
		}
		return nil, fmt.Errorf("fetching saved deploy message: %w", err)
	}

	m.mu.Lock()
	m.message = msg
	m.mu.Unlock()
	return msg, nil
}

func (m *DeployMonitor) loadPointer() (deployPointer, error) {
	var ptr deployPointer
	data, err := os.ReadFile(m.path)
	if err != nil {
		return ptr, fmt.Errorf("no deployment message to update: %w", err)
	}
	if err := json.Unmarshal(data, &ptr); err != nil {
		return ptr, fmt.Errorf("parsing deploy pointer: %w", err)
	}
	if ptr.MessageID == "" || ptr.ChannelID == "" {
		return ptr, errors.New("deploy pointer incomplete")
	}
	return ptr, nil
}

func (m *DeployMonitor) savePointer(messageID string, channelID string) error {
	data, err := json.MarshalIndent(
		deployPointer{
			MessageID: messageID,
			ChannelID: channelID,
			Timestamp: time.Now().UnixMilli(),
		}, "", "  ",
	)
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o644)
}

// embedFromMessage copies the first embed of msg, or returns a fresh embed
// with the standard footer.
func embedFromMessage(msg *discordgo.Message) *discordgo.MessageEmbed {
	if len(msg.Embeds) > 0 && msg.Embeds[0] != nil {
		existing := *msg.Embeds[0]
		fields := make(
			[]*discordgo.MessageEmbedField, len(existing.Fields),
		)
		copy(fields, existing.Fields)
		existing.Fields = fields
		return &existing
	}
	return &discordgo.MessageEmbed{
		Footer: &discordgo.MessageEmbedFooter{Text: deployFooter},
	}
}

func embedHasField(embed *discordgo.MessageEmbed, name string) bool {
	for _, f := range embed.Fields {
		if f != nil && f.Name == name {
			return true
		}
	}
	return false
}
