package castellan

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/castellanbot/castellan/castellan.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// InteractionLog journals every gateway interaction the bot receives, for
// audit and debugging. Rows are written best-effort and never block the
// interaction itself.
type InteractionLog struct {
	ModelUintID
	ModelUnixTime
	InteractionID string `json:"interaction_id" gorm:"index"`
	Type          string `json:"type" gorm:"type:string"`
	GuildID       string `json:"guild_id" gorm:"index"`
	ChannelID     string `json:"channel_id" gorm:"type:string"`
	UserID        string `json:"user_id" gorm:"index"`
	Username      string `json:"username" gorm:"type:string"`
	CommandName   string `json:"command_name" gorm:"type:string"`
	CustomID      string `json:"custom_id" gorm:"type:string"`
}

func newInteractionLog(
	i *discordgo.InteractionCreate,
	user *discordgo.User,
) *InteractionLog {
	entry := &InteractionLog{
		InteractionID: i.ID,
		Type:          i.Type.String(),
		GuildID:       i.GuildID,
		ChannelID:     i.ChannelID,
	}
	if user != nil {
		entry.UserID = user.ID
		entry.Username = user.Username
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		entry.CommandName = i.ApplicationCommandData().Name
	case discordgo.InteractionMessageComponent:
		entry.CustomID = i.MessageComponentData().CustomID
	case discordgo.InteractionModalSubmit:
		entry.CustomID = i.ModalSubmitData().CustomID
	}
	return entry
}

// Castellan is the bot. It owns the database, the Discord gateway
// connection, the panel/verification caches and the review workflow, and
// routes incoming interactions to them.
type Castellan struct {
	config  *Config
	db      *gorm.DB
	writeDB DBI

	discord    *Discord
	registry   *PanelRegistry
	sessions   SessionStore
	paginator  *FormPaginator
	challenges *ChallengeEngine
	summarizer *ReviewSummarizer
	review     *ReviewWorkflow
	sticky     *StickyKeeper
	api        *API
	dbNotifier DBNotifier

	logger     *slog.Logger
	logHandler slog.Handler

	// signalStop is an out-of-band shutdown signal (admin API, or a
	// postgres NOTIFY from another instance)
	signalStop chan struct{}

	// triggerPanelRefreshCh tells the registry to reload its cache
	triggerPanelRefreshCh chan bool
}

// New validates the given config and assembles an unstarted bot. Call Run
// to connect.
func New(config *Config) (*Castellan, error) {
	if config == nil {
		return nil, fmt.Errorf("nil config")
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	handler := tint.NewHandler(
		os.Stdout, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	logger := slog.New(handler).With(loggerNameKey, "castellan")
	slog.SetDefault(logger)

	discord, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	discord.logger = slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	c := &Castellan{
		config:                config,
		discord:               discord,
		logger:                logger,
		logHandler:            handler,
		signalStop:            make(chan struct{}, 1),
		triggerPanelRefreshCh: make(chan bool, 1),
	}
	discord.c = c
	return c, nil
}

// initComponents opens the database and wires up every component. Called
// from Run before the gateway connection is opened.
func (c *Castellan) initComponents(ctx context.Context) error {
	db, err := CreateDB(ctx, c.config.DatabaseType, c.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	c.db = db
	c.writeDB = NewDatabase(
		db,
		c.logger,
		c.config.DatabaseType == dbTypePostgres,
	)

	c.registry = NewPanelRegistry(c.writeDB, c.logger)
	if err = c.registry.Load(ctx); err != nil {
		return err
	}
	c.sessions = NewMemorySessionStore()
	c.paginator = NewFormPaginator(c.registry, c.sessions, c.logger)
	c.challenges = NewChallengeEngine(nil, c.logger)
	c.summarizer = NewReviewSummarizer(c.config.OpenAI, c.logger)

	session, err := c.discord.newSession()
	if err != nil {
		return err
	}
	c.discord.session = session

	limiter := rate.NewLimiter(
		rate.Limit(c.config.Discord.NotifyRatePerSecond),
		c.config.Discord.NotifyBurst,
	)
	c.review = NewReviewWorkflow(
		c.writeDB,
		session,
		c.registry,
		c.summarizer,
		limiter,
		c.logger,
	)
	c.sticky = NewStickyKeeper(c.writeDB, session, c.logger)
	if err = c.sticky.Load(ctx); err != nil {
		return err
	}

	c.dbNotifier, err = newDBNotifier(c)
	if err != nil {
		return err
	}
	if c.config.API != nil && c.config.API.Enabled {
		c.api, err = newAPI(c, c.config.API)
		if err != nil {
			return err
		}
	}
	return nil
}

// Run connects the bot and blocks until ctx is cancelled, a stop signal
// arrives, or a component fails.
func (c *Castellan) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, c.config.StartupTimeout)
	defer startupCancel()
	if err := c.initComponents(startupCtx); err != nil {
		return err
	}

	session := c.discord.session
	removeHandlers := []func(){
		session.AddHandler(c.discord.handlerReady()),
		session.AddHandler(c.discord.handlerConnect()),
		session.AddHandler(c.discord.handlerDisconnect()),
		session.AddHandler(c.handlerInteractionCreate(ctx)),
		session.AddHandler(c.handlerMessageCreate(ctx)),
	}
	c.discord.discordgoRemoveHandlerFuncs = removeHandlers

	if err := session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	defer func() {
		for _, remove := range removeHandlers {
			remove()
		}
		if closeErr := session.Close(); closeErr != nil {
			c.logger.Error("error closing discord connection", tint.Err(closeErr))
		}
	}()

	if _, err := c.discord.registerCommands(); err != nil {
		return fmt.Errorf("error registering commands: %w", err)
	}
	if c.config.Discord.NotificationChannelID != "" {
		if _, err := session.ChannelMessageSend(
			c.config.Discord.NotificationChannelID,
			c.config.Discord.StartupMessage,
		); err != nil {
			c.logger.Warn("unable to send startup message", tint.Err(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(
		func() error {
			select {
			case <-gctx.Done():
			case <-c.signalStop:
				c.logger.Info("received stop signal")
				cancel()
			}
			return nil
		},
	)
	g.Go(
		func() error {
			c.registry.watchPanelRefresh(gctx, c.triggerPanelRefreshCh)
			return nil
		},
	)
	g.Go(func() error { return c.sweepSessions(gctx) })
	if c.config.DatabaseType == dbTypePostgres {
		g.Go(
			func() error {
				return c.dbNotifier.Listen(gctx, c.dbNotifier.PanelsChannelName())
			},
		)
		g.Go(
			func() error {
				return c.dbNotifier.Listen(gctx, c.dbNotifier.StopChannelName())
			},
		)
	}
	if c.api != nil {
		g.Go(func() error { return c.api.Serve(gctx) })
	}

	c.logger.Info("castellan running")
	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	return err
}

// sweepSessions periodically evicts abandoned application sessions.
func (c *Castellan) sweepSessions(ctx context.Context) error {
	if c.config.SessionTTL <= 0 {
		return nil
	}
	interval := c.config.SessionSweepInterval
	if interval <= 0 {
		interval = DefaultSessionSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := c.sessions.Sweep(c.config.SessionTTL); removed > 0 {
				c.logger.Info("evicted stale application sessions", "count", removed)
			}
		}
	}
}

func (c *Castellan) handlerInteractionCreate(ctx context.Context) func(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		go c.handleInteraction(ctx, i)
	}
}

func (c *Castellan) handlerMessageCreate(ctx context.Context) func(
	s *discordgo.Session,
	m *discordgo.MessageCreate,
) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		go c.sticky.HandleMessage(
			ctx,
			m.ChannelID,
			m.Author.ID,
			c.discord.botUserID(s),
		)
	}
}

// handleInteraction is the single entrypoint for slash commands, component
// clicks and modal submissions. Components and modals are routed by their
// decoded custom ID action; anything unparseable is rejected up front.
func (c *Castellan) handleInteraction(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) {
	user := getDiscordUser(i)
	logger := c.logger.With(interactionLogAttrs(*i)...)
	if user != nil {
		logger = logger.With("user_id", user.ID)
	}
	ctx = WithLogger(ctx, logger)

	if _, err := c.writeDB.Create(ctx, newInteractionLog(i, user)); err != nil {
		logger.ErrorContext(ctx, "error logging interaction", tint.Err(err))
	}

	handler := GatewayHandler{
		session:     c.discord.session,
		interaction: i,
		logger:      logger,
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		switch data.Name {
		case DiscordSlashCommandApplications:
			c.handleApplicationsCommand(ctx, handler, data)
		case DiscordSlashCommandVerification:
			c.handleVerificationCommand(ctx, handler, data)
		case DiscordSlashCommandSticky:
			c.handleStickyCommand(ctx, handler, data)
		default:
			logger.WarnContext(ctx, "unknown command", "command_name", data.Name)
		}
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		action, err := ParseComponentAction(data.CustomID)
		if err != nil {
			logger.WarnContext(ctx, "rejected component interaction", tint.Err(err))
			handler.respondEphemeral(ctx, "That button is no longer recognized.")
			return
		}
		logger.InfoContext(ctx, "component interaction", "action", action)
		switch action.Kind {
		case ActionApply:
			c.handleApplyButton(ctx, handler, action)
		case ActionFormResume:
			c.handleFormResume(ctx, handler, action)
		case ActionVerify:
			c.handleVerifyButton(ctx, handler)
		case ActionChallengeOption:
			c.handleChallengeOption(ctx, handler, action)
		case ActionReview:
			c.handleReviewButton(ctx, handler, action)
		default:
			logger.WarnContext(ctx, "unroutable component action", "action", action)
			handler.respondEphemeral(ctx, "That button is no longer recognized.")
		}
	case discordgo.InteractionModalSubmit:
		data := i.ModalSubmitData()
		action, err := ParseComponentAction(data.CustomID)
		if err != nil {
			logger.WarnContext(ctx, "rejected modal interaction", tint.Err(err))
			handler.respondEphemeral(ctx, "That form is no longer recognized.")
			return
		}
		logger.InfoContext(ctx, "modal interaction", "action", action)
		switch action.Kind {
		case ActionFormPage:
			c.handleFormPageSubmit(ctx, handler, action, data)
		case ActionDecide:
			c.handleDecideModal(ctx, handler, action, data)
		default:
			logger.WarnContext(ctx, "unroutable modal action", "action", action)
			handler.respondEphemeral(ctx, "That form is no longer recognized.")
		}
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

// GatewayHandler wraps one interaction with the session it arrived on,
// providing response helpers used by the command handlers.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (h GatewayHandler) Logger() *slog.Logger {
	return h.logger
}

func (h GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := h.session.InteractionRespond(h.interaction.Interaction, response)
	if err != nil {
		h.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	}
	return err
}

func (h GatewayHandler) Edit(
	ctx context.Context,
	edit *discordgo.WebhookEdit,
) (*discordgo.Message, error) {
	msg, err := h.session.InteractionResponseEdit(h.interaction.Interaction, edit)
	if err != nil {
		h.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	}
	return msg, err
}

// respondEphemeral sends a plain ephemeral message response.
func (h GatewayHandler) respondEphemeral(ctx context.Context, content string) {
	_ = h.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: truncate(content, discordMaxMessageLength),
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
}

// respondModal presents a modal.
func (h GatewayHandler) respondModal(
	ctx context.Context,
	data *discordgo.InteractionResponseData,
) error {
	return h.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseModal,
			Data: data,
		},
	)
}
