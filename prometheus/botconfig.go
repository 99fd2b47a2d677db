package prometheus

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
)

// BotSettings is the runtime-mutable state persisted to config.json. Setup
// commands write it; handlers read it. Field names match the file the
// operator already has, so existing deployments keep their bindings.
type BotSettings struct {
	Bot       BotIdentity      `json:"bot,omitempty"`
	RateLimit *RateLimitParams `json:"rateLimit,omitempty"`
	Channels  ChannelBindings  `json:"channels,omitempty"`
	Webhooks  WebhookBindings  `json:"webhooks,omitempty"`
	Access    AccessBindings   `json:"access,omitempty"`
}

type BotIdentity struct {
	Name string `json:"name,omitempty"`
}

// RateLimitParams optionally overrides the configured limiter parameters.
// Window is milliseconds, matching the file's historical format.
type RateLimitParams struct {
	WindowMillis int64 `json:"window,omitempty"`
	Max          int   `json:"max,omitempty"`
}

type ChannelBindings struct {
	Welcome      string `json:"welcome,omitempty"`
	CommsStatus  string `json:"commsStatus,omitempty"`
	SetupTickets string `json:"setupTickets,omitempty"`
}

type WebhookBindings struct {
	Welcome WelcomeWebhook `json:"welcome,omitempty"`
}

// WelcomeWebhook points at the webhook and message backing the welcome
// embed set.
type WelcomeWebhook struct {
	ID        string `json:"id,omitempty"`
	Token     string `json:"token,omitempty" log:"[redacted]"`
	MessageID string `json:"messageId,omitempty"`
}

type AccessBindings struct {
	RoleID string `json:"roleId,omitempty"`
}

func (b BotSettings) LogValue() slog.Value {
	return structToSlogValue(b)
}

// BotConfigStore serializes reads and writes of config.json. Mutations
// persist the full file before returning.
type BotConfigStore struct {
	mu       sync.Mutex
	path     string
	settings BotSettings
	logger   *slog.Logger
}

func newBotConfigStore(
	path string,
	logger *slog.Logger,
) (*BotConfigStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &BotConfigStore{
		path:   path,
		logger: logger.With(loggerNameKey, "bot_config"),
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("no config file, starting with defaults", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading bot config: %w", err)
	}
	if err := json.Unmarshal(data, &s.settings); err != nil {
		return nil, fmt.Errorf("parsing bot config: %w", err)
	}
	return s, nil
}

// Get returns a copy of the current settings.
func (s *BotConfigStore) Get() BotSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Update applies fn to the settings under lock and persists the result.
// If persisting fails the previous settings are restored.
func (s *BotConfigStore) Update(fn func(*BotSettings)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.settings
	fn(&s.settings)
	if err := s.persistLocked(); err != nil {
		s.settings = previous
		return fmt.Errorf("persisting bot config: %w", err)
	}
	return nil
}

func (s *BotConfigStore) persistLocked() error {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
