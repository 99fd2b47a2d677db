package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// Prometheus is the portfolio bot: a Discord gateway session serving the
// archive presentation commands, the ticket workflow, the invite-referral
// ledger, the welcome subsystem and the deployment notifier with its HTTP
// listener.
type Prometheus struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	discord   *Discord
	catalog   *CatalogStore
	botCfg    *BotConfigStore
	tickets   *TicketManager
	welcome   *WelcomeManager
	ledger    *InviteLedger
	useCache  *InviteUseCache
	limiter   *FixedWindowLimiter
	monitor   *DeployMonitor
	deployAPI *DeployAPI
	reporter  *DeployReporter
	audit     *auditStore
	db        *gorm.DB

	// runCtx is the runtime context set by Run; gateway handlers derive
	// their contexts from it so shutdown cancels in-flight work.
	runCtx context.Context

	// signalStop enables an explicit stop signal to be sent to the bot
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished starting:
	// database open, stores loaded, discord session open, commands
	// registered, deploy listener active.
	signalReady chan struct{}

	// a signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// the time Run was called
	startedAt time.Time
}

// New assembles a Prometheus instance from the given config. Stores and the
// Discord session are not touched until Run.
func New(config *Config) (*Prometheus, error) {
	if config == nil {
		return nil, errors.New("nil config")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	p := &Prometheus{
		config:        config,
		signalReady:   make(chan struct{}, 1),
		eventShutdown: make(chan struct{}, 1),
	}

	p.logHandler = newLogHandler(config.LogLevel)
	p.logger = slog.New(p.logHandler)
	slog.SetDefault(p.logger)

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	config.Discord.httpClient = config.HTTPClient
	disc := newDiscord(config.Discord)
	disc.logger = slog.New(
		newLogHandler(config.Discord.LogLevel),
	).With(loggerNameKey, "discord")
	disc.bot = p
	p.discord = disc

	p.reporter = newDeployReporter(
		config.Deploy, config.HTTPClient, p.logger,
	)
	p.useCache = newInviteUseCache()

	return p, nil
}

// Run starts the bot and blocks until ctx is canceled or Stop is called,
// then shuts down gracefully.
func (p *Prometheus) Run(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	p.signalStop = make(chan struct{}, 1)
	p.startedAt = time.Now()
	logger := p.logger

	if err := p.config.Validate(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.runCtx = ctx

	go func() {
		select {
		case <-p.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.LogAttrs(
		ctx, slog.LevelInfo, "starting", slog.Any("config", p.config),
	)

	startCtx, startCancel := context.WithTimeout(
		ctx, p.config.StartupTimeout,
	)
	defer startCancel()

	if err := p.initRun(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	if err := p.startDiscord(ctx); err != nil {
		return err
	}

	runtimeWG := &sync.WaitGroup{}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if err := p.deployAPI.Serve(ctx); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			logger.ErrorContext(
				ctx, "error serving deploy HTTP", tint.Err(err),
			)
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		p.limiter.runSweeper(ctx, p.config.RateLimit.SweepInterval)
	}()

	p.signalReady <- struct{}{}
	logger.InfoContext(ctx, "sent ready signal")

	<-ctx.Done()

	return p.shutdown(runtimeWG)
}

// Stop signals a running bot to shut down.
func (p *Prometheus) Stop() {
	select {
	case p.signalStop <- struct{}{}:
	default:
	}
}

// RegisterCommands bulk-overwrites the guild's slash commands over the REST
// API without connecting to the gateway, then returns the created commands.
func (p *Prometheus) RegisterCommands(
	ctx context.Context,
) ([]*discordgo.ApplicationCommand, error) {
	if err := p.config.Validate(); err != nil {
		return nil, err
	}
	session, err := p.discord.newSession()
	if err != nil {
		return nil, err
	}
	p.discord.session = session
	return p.discord.registerCommands(discordgo.WithContext(ctx))
}

// initRun opens the database and loads the file-backed stores.
func (p *Prometheus) initRun(ctx context.Context) error {
	cfg := p.config
	logger := p.logger

	for _, dir := range []string{cfg.DataDir, cfg.BackupDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	db, err := CreateDB(
		ctx, cfg.Database, newGORMLogger(
			newLogHandler(cfg.DatabaseLogLevel),
			cfg.DatabaseSlowThreshold,
		),
	)
	if err != nil {
		return err
	}
	p.db = db
	p.audit = newAuditStore(db, logger)

	p.botCfg, err = newBotConfigStore(
		filepath.Join(cfg.DataDir, botConfigFile), logger,
	)
	if err != nil {
		return err
	}

	// config.json may override the limiter parameters
	if rl := p.botCfg.Get().RateLimit; rl != nil {
		if rl.WindowMillis > 0 {
			cfg.RateLimit.Window = time.Duration(rl.WindowMillis) *
				time.Millisecond
		}
		if rl.Max > 0 {
			cfg.RateLimit.MaxPerWindow = rl.Max
		}
	}
	p.limiter = newFixedWindowLimiter(cfg.RateLimit, logger)

	p.catalog = newCatalogStore(cfg.DataDir, logger)
	if _, err := p.catalog.Reload(); err != nil {
		// missing data files on first run; the empty snapshot stands in
		// until /reload
		logger.Warn("could not load catalogs", tint.Err(err))
	}

	p.ledger, err = newInviteLedger(
		filepath.Join(cfg.DataDir, invitesFile), cfg.InviteProgram, logger,
	)
	if err != nil {
		return fmt.Errorf("loading invite ledger: %w", err)
	}

	return nil
}

// startDiscord opens the gateway session, registers the gateway handlers
// and the slash command set, and primes the invite snapshot.
func (p *Prometheus) startDiscord(ctx context.Context) error {
	session, err := p.discord.newSession()
	if err != nil {
		return err
	}
	p.discord.session = session
	if err = session.SetLogLevel(
		p.config.Discord.DiscordGoLogLevel.Level(),
	); err != nil {
		return err
	}

	guildID := p.config.Discord.GuildID
	p.tickets = newTicketManager(
		session, guildID, p.config.DataDir, p.audit, p.logger,
	)
	p.welcome = newWelcomeManager(session, p.botCfg, guildID, p.logger)
	p.monitor = newDeployMonitor(
		session, p.config.Deploy, p.config.DataDir, p.logger,
	)
	p.deployAPI = newDeployAPI(p.monitor, p.config.Deploy, p.logger)

	p.discord.discordgoRemoveHandlerFuncs = []func(){
		session.AddHandler(p.discord.handlerReady()),
		session.AddHandler(p.discord.handlerConnect()),
		session.AddHandler(p.discord.handlerDisconnect()),
		session.AddHandler(p.handlerInteractionCreate()),
		session.AddHandler(p.handlerGuildMemberAdd()),
		session.AddHandler(p.handlerMessageReactionAdd()),
	}

	if err = session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}

	if _, err = p.discord.registerCommands(); err != nil {
		return err
	}

	if invites, invErr := session.GuildInvites(guildID); invErr != nil {
		p.logger.Warn(
			"could not prime invite snapshot", tint.Err(invErr),
		)
	} else {
		p.useCache.Prime(invites)
		p.logger.InfoContext(
			ctx, "invite snapshot primed", "invites", len(invites),
		)
	}
	return nil
}

// handlerGuildMemberAdd greets the new member and attributes the join to an
// inviter for the reward ledger.
func (p *Prometheus) handlerGuildMemberAdd() func(
	s *discordgo.Session,
	m *discordgo.GuildMemberAdd,
) {
	return func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		if m.User == nil || m.User.Bot {
			return
		}
		p.welcome.HandleMemberJoin(m)
		p.creditJoinInvite(m)
	}
}

// creditJoinInvite refetches the guild invites, diffs against the snapshot
// to find the consumed invite, and credits its inviter.
func (p *Prometheus) creditJoinInvite(m *discordgo.GuildMemberAdd) {
	logger := p.logger.With(loggerNameKey, "invite_attribution")
	invites, err := p.discord.session.GuildInvites(p.config.Discord.GuildID)
	if err != nil {
		logger.Warn("could not fetch invites on join", tint.Err(err))
		return
	}
	inviterID, ok := p.useCache.Consume(invites)
	if !ok {
		logger.Info(
			"join not attributed to any invite", "user_id", m.User.ID,
		)
		return
	}
	if inviterID == m.User.ID {
		return
	}
	result, err := p.ledger.CreditInvite(inviterID)
	if err != nil {
		logger.Error("error crediting invite", tint.Err(err))
		return
	}
	logger.Info(
		"credited invite",
		"joined_user_id", m.User.ID,
		"referrer_id", result.ReferrerID,
		"invites", result.Invites,
		"tier", result.Tier,
		"tier_change", result.TierChange,
		"gain", result.Gain,
		"total", result.Total,
	)
}

// handlerMessageReactionAdd feeds reactions to the welcome access-role
// grant.
func (p *Prometheus) handlerMessageReactionAdd() func(
	s *discordgo.Session,
	r *discordgo.MessageReactionAdd,
) {
	return func(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
		p.welcome.HandleReactionAdd(r)
	}
}

// shutdown closes the deploy listener, the discord session and the runtime
// goroutines, bounded by the configured shutdown timeout.
func (p *Prometheus) shutdown(runtimeWG *sync.WaitGroup) error {
	logger := p.logger
	logger.Warn("shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), p.config.ShutdownTimeout,
	)
	defer cancel()

	var errs []error
	if p.deployAPI != nil {
		if err := p.deployAPI.Shutdown(ctx); err != nil {
			logger.Error("error stopping deploy listener", tint.Err(err))
			errs = append(errs, err)
		}
	}
	if p.discord != nil && p.discord.session != nil {
		for _, removeHandler := range p.discord.discordgoRemoveHandlerFuncs {
			removeHandler()
		}
		if err := p.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
			errs = append(errs, err)
		}
	}

	if p.db != nil {
		if sqlDB, err := p.db.DB(); err == nil {
			if err = sqlDB.Close(); err != nil {
				logger.Error("error closing database", tint.Err(err))
				errs = append(errs, err)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("shutdown timed out waiting for runtime goroutines")
	}

	select {
	case p.eventShutdown <- struct{}{}:
	default:
	}
	logger.Warn("shutdown complete")
	return errors.Join(errs...)
}
