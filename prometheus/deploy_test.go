package prometheus

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(
	t testing.TB,
	channelID string,
) (*DeployMonitor, *mockDiscordSession) {
	t.Helper()
	session := newMockDiscordSession(t)
	cfg := &DeployConfig{
		Listen:           DefaultDeployListen,
		ListenNetwork:    DefaultDeployListenNetwork,
		MonitorChannelID: channelID,
		StageDelay:       time.Hour,
	}
	monitor := newDeployMonitor(session, cfg, t.TempDir(), newTestLogger(t))
	return monitor, session
}

func TestDeployRequestCommitRef(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc123", deployRequest{Commit: "abc123"}.commitRef())
	assert.Equal(t, "def456", deployRequest{SHA: "def456"}.commitRef())
	assert.Equal(
		t,
		"abc123",
		deployRequest{Commit: "abc123", SHA: "def456"}.commitRef(),
	)
	assert.Equal(t, "unknown", deployRequest{}.commitRef())
}

func TestDeployRequestErrorText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "boom", deployRequest{Error: "boom"}.errorText())
	assert.Equal(t, "bang", deployRequest{Message: "bang"}.errorText())
	assert.Equal(
		t,
		"boom",
		deployRequest{Error: "boom", Message: "bang"}.errorText(),
	)
	assert.Empty(t, deployRequest{}.errorText())
}

func TestDeployMonitorStart(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "deploy-chan")

	require.NoError(t, monitor.Start("abc123"))

	sent := session.lastSentMessage(t)
	assert.Equal(t, "deploy-chan", sent.channelID)
	require.Len(t, sent.embeds, 1)
	embed := sent.embeds[0]
	assert.Equal(t, deployTitleStarted, embed.Title)
	assert.Equal(t, deployColorStarted, embed.Color)
	assert.Equal(t, deployFooter, embed.Footer.Text)
	require.Len(t, embed.Fields, 1)
	assert.Equal(t, "Commit", embed.Fields[0].Name)
	assert.Equal(t, "`abc123`", embed.Fields[0].Value)

	// the pointer lands on disk so a restart can keep editing
	data, err := os.ReadFile(monitor.path)
	require.NoError(t, err)
	var ptr deployPointer
	require.NoError(t, json.Unmarshal(data, &ptr))
	assert.Equal(t, "mock-1", ptr.MessageID)
	assert.Equal(t, "deploy-chan", ptr.ChannelID)
	assert.NotZero(t, ptr.Timestamp)
}

func TestDeployMonitorStartEmptyCommit(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "deploy-chan")

	require.NoError(t, monitor.Start(""))
	embed := session.lastSentMessage(t).embeds[0]
	assert.Equal(t, "`N/A`", embed.Fields[0].Value)
}

func TestDeployMonitorStartUnconfigured(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "")

	err := monitor.Start("abc123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no monitor channel configured")
	assert.Empty(t, session.sentMessages)
}

func TestDeployMonitorUpdateStage(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "deploy-chan")
	require.NoError(t, monitor.Start("abc123"))

	stage := deployStages[0]
	require.NoError(t, monitor.UpdateStage(stage.Title, stage.Color, ""))

	require.Len(t, session.editedEmbeds, 1)
	edit := session.editedEmbeds[0]
	assert.Equal(t, "deploy-chan", edit.channelID)
	assert.Equal(t, "mock-1", edit.messageID)
	require.Len(t, edit.embeds, 1)
	assert.Equal(t, stage.Title, edit.embeds[0].Title)
	assert.Equal(t, stage.Color, edit.embeds[0].Color)
	// the commit field survives every stage edit
	require.Len(t, edit.embeds[0].Fields, 1)
	assert.Equal(t, "`abc123`", edit.embeds[0].Fields[0].Value)
}

func TestDeployMonitorSucceed(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "deploy-chan")
	require.NoError(t, monitor.Start("abc123"))

	require.NoError(t, monitor.Succeed())

	require.Len(t, session.editedEmbeds, 1)
	embed := session.editedEmbeds[0].embeds[0]
	assert.Equal(t, deployTitleSuccess, embed.Title)
	assert.Equal(t, deployColorSuccess, embed.Color)
	assert.Equal(t, deployDescSuccess, embed.Description)
}

func TestDeployMonitorFail(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "deploy-chan")
	require.NoError(t, monitor.Start("abc123"))

	require.NoError(t, monitor.Fail("abc123", "npm install exploded"))

	require.Len(t, session.editedEmbeds, 1)
	embed := session.editedEmbeds[0].embeds[0]
	assert.Equal(t, deployTitleFailed, embed.Title)
	assert.Equal(t, deployColorFailed, embed.Color)
	assert.Equal(t, "npm install exploded", embed.Description)
	// already carries the commit field from Start, no duplicate
	require.Len(t, embed.Fields, 1)
}

func TestDeployMonitorFailDefaultDescription(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "deploy-chan")
	require.NoError(t, monitor.Start(""))

	require.NoError(t, monitor.Fail("", ""))
	embed := session.editedEmbeds[0].embeds[0]
	assert.Equal(t, deployDescFailed, embed.Description)
}

func TestDeployMonitorPointerRecovery(t *testing.T) {
	t.Parallel()
	session := newMockDiscordSession(t)
	cfg := &DeployConfig{
		Listen:           DefaultDeployListen,
		ListenNetwork:    DefaultDeployListenNetwork,
		MonitorChannelID: "deploy-chan",
		StageDelay:       time.Hour,
	}
	dataDir := t.TempDir()
	first := newDeployMonitor(session, cfg, dataDir, newTestLogger(t))
	require.NoError(t, first.Start("abc123"))

	// make the posted message fetchable after the "restart"
	sent := session.lastSentMessage(t)
	session.channelHistory["deploy-chan"] = []*discordgo.Message{
		{ID: "mock-1", ChannelID: "deploy-chan", Embeds: sent.embeds},
	}

	second := newDeployMonitor(session, cfg, dataDir, newTestLogger(t))
	require.NoError(t, second.Succeed())

	require.Len(t, session.editedEmbeds, 1)
	edit := session.editedEmbeds[0]
	assert.Equal(t, "mock-1", edit.messageID)
	assert.Equal(t, deployTitleSuccess, edit.embeds[0].Title)
}

func TestDeployMonitorStalePointerRemoved(t *testing.T) {
	t.Parallel()
	monitor, _ := newTestMonitor(t, "deploy-chan")

	ptr, err := json.Marshal(
		deployPointer{
			MessageID: "gone",
			ChannelID: "deploy-chan",
			Timestamp: time.Now().UnixMilli(),
		},
	)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(monitor.path, ptr, 0o644))

	err = monitor.Succeed()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetching saved deploy message")
	assert.NoFileExists(t, monitor.path)
}

func TestDeployMonitorNoPointer(t *testing.T) {
	t.Parallel()
	monitor, _ := newTestMonitor(t, "deploy-chan")

	err := monitor.UpdateStage("title", 0, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no deployment message to update")
}

func TestDeployMonitorStartSessionCancelsPreviousStages(t *testing.T) {
	t.Parallel()
	monitor, session := newTestMonitor(t, "deploy-chan")
	monitor.stageDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.StartSession(ctx, "abc123")
	monitor.StartSession(ctx, "def456")
	cancel()

	// both deployments posted their own status message; the first
	// session's stage timers were cancelled by the second
	session.mu.Lock()
	defer session.mu.Unlock()
	assert.Len(t, session.sentMessages, 2)
}

func newTestDeployAPI(
	t testing.TB,
	channelID string,
) (*DeployAPI, *mockDiscordSession) {
	t.Helper()
	monitor, session := newTestMonitor(t, channelID)
	cfg := &DeployConfig{
		Listen:        DefaultDeployListen,
		ListenNetwork: DefaultDeployListenNetwork,
		ReadTimeout:   5 * time.Second,
		WriteTimeout:  5 * time.Second,
		IdleTimeout:   30 * time.Second,
	}
	return newDeployAPI(monitor, cfg, newTestLogger(t)), session
}

func TestDeployAPIHealth(t *testing.T) {
	t.Parallel()
	api, _ := newTestDeployAPI(t, "deploy-chan")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "deployment-monitor", body["service"])
}

func TestDeployAPIDeploy(t *testing.T) {
	t.Parallel()
	api, session := newTestDeployAPI(t, "deploy-chan")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/deploy",
		bytes.NewReader([]byte(`{"commit":"abc123"}`)),
	)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Deployment started", body["message"])

	// the status message is posted after the response returns
	require.Eventually(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return len(session.sentMessages) == 1
		}, time.Second, 5*time.Millisecond,
	)
	embed := session.lastSentMessage(t).embeds[0]
	assert.Equal(t, "`abc123`", embed.Fields[0].Value)
}

func TestDeployAPIDeployEmptyBody(t *testing.T) {
	t.Parallel()
	api, session := newTestDeployAPI(t, "deploy-chan")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/deploy", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return len(session.sentMessages) == 1
		}, time.Second, 5*time.Millisecond,
	)
	embed := session.lastSentMessage(t).embeds[0]
	assert.Equal(t, "`unknown`", embed.Fields[0].Value)
}

func TestDeployAPIDeploySuccess(t *testing.T) {
	t.Parallel()
	api, session := newTestDeployAPI(t, "deploy-chan")
	require.NoError(t, api.monitor.Start("abc123"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/deploy/success", nil)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return len(session.editedEmbeds) == 1
		}, time.Second, 5*time.Millisecond,
	)
	assert.Equal(
		t, deployTitleSuccess, session.editedEmbeds[0].embeds[0].Title,
	)
}

func TestDeployAPIDeployFail(t *testing.T) {
	t.Parallel()
	api, session := newTestDeployAPI(t, "deploy-chan")
	require.NoError(t, api.monitor.Start("abc123"))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(
		http.MethodPost,
		"/deploy/fail",
		bytes.NewReader([]byte(`{"commit":"abc123","error":"tests failed"}`)),
	)
	api.engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(
		t, func() bool {
			session.mu.Lock()
			defer session.mu.Unlock()
			return len(session.editedEmbeds) == 1
		}, time.Second, 5*time.Millisecond,
	)
	embed := session.editedEmbeds[0].embeds[0]
	assert.Equal(t, deployTitleFailed, embed.Title)
	assert.Equal(t, "tests failed", embed.Description)
}

func newTestReporter(
	t testing.TB,
	url string,
	timeout time.Duration,
) *DeployReporter {
	t.Helper()
	cfg := &DeployConfig{WebhookURL: url, WebhookTimeout: timeout}
	return newDeployReporter(
		cfg, &http.Client{Timeout: timeout}, newTestLogger(t),
	)
}

func TestDeployReporterSendUpdate(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var received webhookPayload
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				mu.Lock()
				defer mu.Unlock()
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(
					t,
					"application/json",
					r.Header.Get("Content-Type"),
				)
				require.NoError(
					t, json.NewDecoder(r.Body).Decode(&received),
				)
				w.WriteHeader(http.StatusNoContent)
			},
		),
	)
	t.Cleanup(srv.Close)

	reporter := newTestReporter(t, srv.URL, 5*time.Second)
	err := reporter.SendUpdate(
		context.Background(),
		"🧪 Webhook test",
		"all good",
		deployColorSuccess,
		[]*discordgo.MessageEmbedField{
			{Name: "Commit", Value: "`abc123`", Inline: true},
		},
	)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, deployWebhookUsername, received.Username)
	require.Len(t, received.Embeds, 1)
	assert.Equal(t, "🧪 Webhook test", received.Embeds[0].Title)
	assert.Equal(t, deployWebhookFooter, received.Embeds[0].Footer.Text)
	require.Len(t, received.Embeds[0].Fields, 1)
	assert.Equal(t, "`abc123`", received.Embeds[0].Fields[0].Value)
}

func TestDeployReporterNotConfigured(t *testing.T) {
	t.Parallel()

	reporter := newTestReporter(t, "", time.Second)
	err := reporter.SendUpdate(context.Background(), "t", "d", 0, nil)
	assert.ErrorIs(t, err, ErrWebhookNotConfigured)
}

func TestDeployReporterHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, _ *http.Request) {
				http.Error(
					w, "rate limited", http.StatusTooManyRequests,
				)
			},
		),
	)
	t.Cleanup(srv.Close)

	reporter := newTestReporter(t, srv.URL, 5*time.Second)
	err := reporter.SendUpdate(context.Background(), "t", "d", 0, nil)

	var httpErr *WebhookHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
}

func TestDeployReporterTimeout(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(http.ResponseWriter, *http.Request) {
				<-block
			},
		),
	)
	t.Cleanup(
		func() {
			close(block)
			srv.Close()
		},
	)

	reporter := newTestReporter(t, srv.URL, 50*time.Millisecond)
	err := reporter.SendUpdate(context.Background(), "t", "d", 0, nil)
	assert.ErrorIs(t, err, ErrWebhookTimeout)
}

func TestDeployReporterNoResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(nil))
	srv.Close()

	reporter := newTestReporter(t, srv.URL, 5*time.Second)
	err := reporter.SendUpdate(context.Background(), "t", "d", 0, nil)
	assert.ErrorIs(t, err, ErrWebhookNoResponse)
}