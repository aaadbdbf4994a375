// Command server runs the social chat backend: REST endpoints for messages,
// translation and presence, plus the websocket gateway that pushes realtime
// events to connected users.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-social-chat/internal/attachments"
	"github.com/tbourn/go-social-chat/internal/auth"
	"github.com/tbourn/go-social-chat/internal/config"
	"github.com/tbourn/go-social-chat/internal/gateway"
	httpapi "github.com/tbourn/go-social-chat/internal/http"
	"github.com/tbourn/go-social-chat/internal/notify"
	"github.com/tbourn/go-social-chat/internal/observability"
	"github.com/tbourn/go-social-chat/internal/presence"
	"github.com/tbourn/go-social-chat/internal/repo"
	"github.com/tbourn/go-social-chat/internal/services"
	"github.com/tbourn/go-social-chat/internal/sysutil"
	"github.com/tbourn/go-social-chat/internal/translate"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = ""

const purgeInterval = 10 * time.Minute

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	lg := sysutil.SetupLogger(os.Stdout, cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		lg.Fatal().Err(err).Msg("otel setup")
	}

	target := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		target = cfg.DatabaseURL
	} else if err := sysutil.EnsureParentDir(cfg.DBPath); err != nil {
		lg.Fatal().Err(err).Str("path", cfg.DBPath).Msg("database dir")
	}
	db, err := repo.Open(cfg.DBDriver, target)
	if err != nil {
		lg.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		lg.Fatal().Err(err).Msg("migrate")
	}
	sqlDB, err := db.DB()
	if err != nil {
		lg.Fatal().Err(err).Msg("database handle")
	}

	if err := sysutil.EnsureDir(cfg.AttachmentsPath); err != nil {
		lg.Fatal().Err(err).Str("path", cfg.AttachmentsPath).Msg("attachments dir")
	}
	bdb, err := attachments.OpenBadger(cfg.AttachmentsPath)
	if err != nil {
		lg.Fatal().Err(err).Msg("open attachments store")
	}
	store := attachments.NewBadgerStore(bdb, cfg.APIBasePath)

	reg := presence.NewRegistry(presence.WithLogger(sysutil.Component(lg, "presence")))
	notifier := notify.New(reg, sysutil.Component(lg, "notify"))
	reg.SetOnChange(notifier.BroadcastPresence)

	authn, err := auth.New(cfg.Auth.Mode, cfg.Auth.JWTSecret)
	if err != nil {
		lg.Fatal().Err(err).Msg("auth setup")
	}

	gw := gateway.New(reg, authn, gateway.Config{
		WriteWait:           cfg.Socket.WriteWait,
		PongWait:            cfg.Socket.PongWait,
		SendBuffer:          cfg.Socket.SendBuffer,
		MaxMessageBytes:     cfg.Socket.MaxMessageBytes,
		TrustClientIdentity: cfg.Socket.TrustClientIdentity,
		AllowedOrigins:      cfg.CORS.AllowedOrigins,
	}, sysutil.Component(lg, "gateway"))

	var provider translate.Provider
	if cfg.Translate.Enabled {
		provider = translate.NewOpenAI(translate.OpenAIConfig{
			APIKey:  cfg.Translate.APIKey,
			Model:   cfg.Translate.Model,
			Timeout: cfg.Translate.Timeout,
		})
	}

	msgSvc := &services.MessageService{
		DB:                 db,
		Store:              store,
		Notifier:           notifier,
		Log:                sysutil.Component(lg, "messages"),
		MaxTextRunes:       cfg.MaxTextRunes,
		MaxAttachmentBytes: int64(cfg.MaxAttachmentBytes),
		IdempotencyTTL:     cfg.IdempotencyTTL,
	}
	trSvc := &services.TranslationService{
		DB:         db,
		Translator: translate.New(provider),
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:           db,
		Auth:         authn,
		Messages:     msgSvc,
		Translations: trSvc,
		Presence:     reg,
		Attachments:  store,
		Socket:       gw.Handle,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeLoop(ctx, msgSvc, lg)

	go func() {
		lg.Info().Str("addr", srv.Addr).Str("base", cfg.APIBasePath).Str("version", ver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	lg.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		lg.Error().Err(err).Msg("http shutdown")
	}
	// Hijacked websocket connections are not tracked by http.Server.
	if err := gw.Shutdown(sctx); err != nil {
		lg.Error().Err(err).Msg("gateway shutdown")
	}
	if err := bdb.Close(); err != nil {
		lg.Error().Err(err).Msg("close attachments store")
	}
	if err := sqlDB.Close(); err != nil {
		lg.Error().Err(err).Msg("close database")
	}
	if err := shutdownOTel(sctx); err != nil {
		lg.Error().Err(err).Msg("otel shutdown")
	}
}

// purgeLoop drops expired idempotency records until ctx is cancelled.
func purgeLoop(ctx context.Context, svc *services.MessageService, lg zerolog.Logger) {
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := svc.PurgeExpired(ctx)
			if err != nil {
				lg.Warn().Err(err).Msg("idempotency purge")
				continue
			}
			if n > 0 {
				lg.Debug().Int64("removed", n).Msg("idempotency purge")
			}
		}
	}
}
