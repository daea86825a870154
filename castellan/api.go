package castellan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/lmittmann/tint"
)

const (
	apiSessionName    = "castellan_session"
	apiSessionAuthKey = "authenticated"
	apiSessionUserKey = "username"
)

// API is the backend review server. It exposes panels and application
// responses to a reviewer dashboard, and accepts decisions through the
// same workflow the Discord buttons use.
type API struct {
	c          *Castellan
	config     *APIConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger
}

func newAPI(c *Castellan, config *APIConfig) (*API, error) {
	if config.AdminUsername == "" || config.AdminPasswordHash == "" {
		return nil, errors.New(
			"api enabled but admin credentials not set (run `castellan init`)",
		)
	}
	logger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "api")

	if config.Development {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), apiRequestLogger(logger))

	secret := []byte(config.Secret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
		logger.Warn("api secret not set, sessions will not survive a restart")
	}
	store := cookie.NewStore(secret)
	store.Options(
		sessions.Options{
			Path:     "/",
			MaxAge:   int(config.SessionMaxAge.Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		},
	)
	engine.Use(sessions.Sessions(apiSessionName, store))

	if len(config.CORS.AllowOrigins) > 0 {
		engine.Use(
			cors.New(
				cors.Config{
					AllowOrigins:     config.CORS.AllowOrigins,
					AllowMethods:     config.CORS.AllowMethods,
					AllowHeaders:     config.CORS.AllowHeaders,
					AllowCredentials: config.CORS.AllowCredentials,
					MaxAge:           config.CORS.MaxAge,
				},
			),
		)
	}
	if config.Development {
		pprof.Register(engine)
	}

	api := &API{c: c, config: config, engine: engine, logger: logger}
	api.registerRoutes()
	return api, nil
}

func apiRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		logger.Info(
			"request",
			"method", ctx.Request.Method,
			"path", ctx.Request.URL.Path,
			"status", ctx.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", ctx.ClientIP(),
		)
	}
}

func (a *API) registerRoutes() {
	a.engine.GET(
		"/healthz", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
		},
	)
	a.engine.POST("/api/login", a.login)

	authed := a.engine.Group("/api", a.requireAuth)
	authed.POST("/logout", a.logout)
	authed.GET("/panels", a.listPanels)
	authed.GET("/responses", a.listResponses)
	authed.GET("/responses/:id", a.getResponse)
	authed.POST("/responses/:id/decision", a.decideResponse)
	authed.POST("/panels/cache/reload", a.reloadPanelCache)
	authed.POST("/shutdown", a.shutdown)
}

func (a *API) requireAuth(ctx *gin.Context) {
	session := sessions.Default(ctx)
	if auth, ok := session.Get(apiSessionAuthKey).(bool); !ok || !auth {
		ctx.AbortWithStatusJSON(
			http.StatusUnauthorized, gin.H{"error": "not logged in"},
		)
		return
	}
	ctx.Next()
}

func (a *API) login(ctx *gin.Context) {
	var payload struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	valid, err := verifyPassword(a.config.AdminPasswordHash, payload.Password)
	if err != nil {
		a.logger.Error("error verifying password", tint.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if payload.Username != a.config.AdminUsername || !valid {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	session := sessions.Default(ctx)
	session.Set(apiSessionAuthKey, true)
	session.Set(apiSessionUserKey, payload.Username)
	if err = session.Save(); err != nil {
		a.logger.Error("error saving session", tint.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"username": payload.Username})
}

func (a *API) logout(ctx *gin.Context) {
	session := sessions.Default(ctx)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		a.logger.Error("error clearing session", tint.Err(err))
	}
	ctx.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (a *API) listPanels(ctx *gin.Context) {
	var panels []PanelDefinition
	query := a.c.db.WithContext(ctx.Request.Context())
	if guildID := ctx.Query("guild_id"); guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}
	if err := query.Order("guild_id, name").Find(&panels).Error; err != nil {
		a.logger.Error("error listing panels", tint.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(http.StatusOK, panels)
}

func (a *API) listResponses(ctx *gin.Context) {
	var responses []ApplicationResponse
	query := a.c.db.WithContext(ctx.Request.Context())
	if guildID := ctx.Query("guild_id"); guildID != "" {
		query = query.Where("guild_id = ?", guildID)
	}
	if status := ctx.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if panel := ctx.Query("panel"); panel != "" {
		query = query.Where("panel_name = ?", panel)
	}
	if err := query.Order("created_at desc").Limit(200).Find(&responses).Error; err != nil {
		a.logger.Error("error listing responses", tint.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	ctx.JSON(http.StatusOK, responses)
}

func (a *API) getResponse(ctx *gin.Context) {
	var response ApplicationResponse
	err := a.c.db.WithContext(ctx.Request.Context()).Where(
		"response_id = ?", ctx.Param("id"),
	).First(&response).Error
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "response not found"})
		return
	}
	ctx.JSON(http.StatusOK, response)
}

func (a *API) decideResponse(ctx *gin.Context) {
	var payload struct {
		Accept bool   `json:"accept"`
		Reason string `json:"reason"`
	}
	if err := ctx.ShouldBindJSON(&payload); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	session := sessions.Default(ctx)
	username, _ := session.Get(apiSessionUserKey).(string)

	response, err := a.c.review.Decide(
		ctx.Request.Context(),
		ctx.Param("id"),
		Decision{
			Accept:    payload.Accept,
			DecidedBy: fmt.Sprintf("admin:%s", username),
			Reason:    payload.Reason,
		},
	)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, response)
	case errors.Is(err, ErrResponseNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": "response not found"})
	case errors.Is(err, ErrAlreadyDecided):
		ctx.JSON(
			http.StatusConflict, gin.H{
				"error":  "already decided",
				"status": string(response.Status),
			},
		)
	default:
		a.logger.Error("error deciding response", tint.Err(err))
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (a *API) reloadPanelCache(ctx *gin.Context) {
	sent := a.c.dbNotifier.ReloadPanels(ctx.Request.Context())
	ctx.JSON(http.StatusAccepted, gin.H{"notified": sent})
}

func (a *API) shutdown(ctx *gin.Context) {
	sent := a.c.dbNotifier.Stop(ctx.Request.Context())
	ctx.JSON(http.StatusAccepted, gin.H{"notified": sent})
}

// Serve runs the API server until ctx is cancelled.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(defaultListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.httpServer = &http.Server{
		Handler:      a.engine,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.httpServer.Serve(listener)
	}()
	a.logger.Info("api listening", "listen", a.config.Listen)

	select {
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), a.c.config.ShutdownTimeout,
		)
		defer cancel()
		if shutdownErr := a.httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Error("error shutting down api server", tint.Err(shutdownErr))
		}
		return nil
	}
}
