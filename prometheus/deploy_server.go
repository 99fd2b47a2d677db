package prometheus

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

// DeployAPI is the internal HTTP listener the CI pipeline calls to drive the
// deployment status message. It has no auth of its own; the host firewall is
// expected to keep the port private.
type DeployAPI struct {
	config     *DeployConfig
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	monitor    *DeployMonitor
	logger     *slog.Logger

	// ctx is the server lifetime context, used as the parent for stage
	// timer sessions. Set by Serve.
	ctx context.Context
}

// deployRequest is the payload for /deploy and /deploy/fail. The pipeline
// has sent both "commit" and "sha" over time, so both are accepted.
type deployRequest struct {
	Commit  string `json:"commit"`
	SHA     string `json:"sha"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (d deployRequest) commitRef() string {
	if d.Commit != "" {
		return d.Commit
	}
	if d.SHA != "" {
		return d.SHA
	}
	return "unknown"
}

func (d deployRequest) errorText() string {
	if d.Error != "" {
		return d.Error
	}
	return d.Message
}

func newDeployAPI(
	monitor *DeployMonitor,
	config *DeployConfig,
	logger *slog.Logger,
) *DeployAPI {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	api := &DeployAPI{
		config:  config,
		engine:  r,
		monitor: monitor,
		logger:  logger.With(loggerNameKey, "deploy_api"),
	}
	api.httpServer = &http.Server{
		Addr:         config.Listen,
		Handler:      r,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	r.Use(gin.Recovery(), deployLoggingMiddleware(api.logger))

	r.POST("/deploy", api.handleDeploy)
	r.POST("/deploy/success", api.handleDeploySuccess)
	r.POST("/deploy/fail", api.handleDeployFail)
	r.GET("/health", api.handleHealth)

	return api
}

// Serve listens on the configured address until the server is shut down.
func (a *DeployAPI) Serve(ctx context.Context) error {
	a.ctx = ctx
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(
			ctx, a.config.ListenNetwork, a.config.Listen,
		)
		if err != nil {
			return fmt.Errorf(
				"listening on %s: %w", a.config.Listen, err,
			)
		}
		a.listener = ln
	}
	a.logger.Info("deploy listener active", "addr", a.config.Listen)
	return a.httpServer.Serve(a.listener)
}

// Shutdown gracefully stops the HTTP server.
func (a *DeployAPI) Shutdown(ctx context.Context) error {
	return a.httpServer.Shutdown(ctx)
}

// handleDeploy acknowledges immediately, then starts the deployment session
// in the background. The CI caller has a short timeout; the Discord round
// trips must not block the response.
func (a *DeployAPI) handleDeploy(c *gin.Context) {
	var req deployRequest
	// a missing or malformed body means an unknown commit, not an error
	_ = c.ShouldBindJSON(&req)
	commit := req.commitRef()

	a.logger.Info("deployment request received", "commit", commit)
	c.JSON(
		http.StatusOK,
		gin.H{"status": "ok", "message": "Deployment started"},
	)

	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	go a.monitor.StartSession(ctx, commit)
}

func (a *DeployAPI) handleDeploySuccess(c *gin.Context) {
	a.logger.Info("deployment success received")
	c.JSON(
		http.StatusOK,
		gin.H{"status": "ok", "message": "Deployment success recorded"},
	)
	go func() {
		if err := a.monitor.Succeed(); err != nil {
			a.logger.Warn("could not mark deployment success", tint.Err(err))
		}
	}()
}

func (a *DeployAPI) handleDeployFail(c *gin.Context) {
	var req deployRequest
	_ = c.ShouldBindJSON(&req)

	a.logger.Info("deployment failure received", "commit", req.commitRef())
	c.JSON(
		http.StatusOK,
		gin.H{"status": "ok", "message": "Deployment failure recorded"},
	)
	go func() {
		if err := a.monitor.Fail(req.commitRef(), req.errorText()); err != nil {
			a.logger.Warn("could not mark deployment failure", tint.Err(err))
		}
	}()
}

func (a *DeployAPI) handleHealth(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		gin.H{"status": "ok", "service": "deployment-monitor"},
	)
}

func deployLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		logger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			slog.Group(
				"response",
				"status_code", c.Writer.Status(),
				"body_size", c.Writer.Size(),
			),
		)
	}
}
