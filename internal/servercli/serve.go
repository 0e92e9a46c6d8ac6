package servercli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cursorrunner/cursor-runner/internal/api"
	"github.com/cursorrunner/cursor-runner/internal/callback"
	"github.com/cursorrunner/cursor-runner/internal/cloudlog"
	"github.com/cursorrunner/cursor-runner/internal/config"
	"github.com/cursorrunner/cursor-runner/internal/conversation"
	"github.com/cursorrunner/cursor-runner/internal/execution"
	"github.com/cursorrunner/cursor-runner/internal/reviewloop"
	"github.com/cursorrunner/cursor-runner/internal/semaphore"
	"github.com/cursorrunner/cursor-runner/internal/supervisor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution supervisor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "HTTP port (overrides config/env)")
	_ = viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	logger := cloudlog.NewStderrLogger("cursor-runner")

	cfg, err := config.LoadServerConfig(viper.GetViper())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := config.ResolveWebhookSecret(ctx, &cfg); err != nil {
		logger.Warn("webhook secret resolution failed, continuing without signing", "error", err.Error())
	}

	if cfg.GCPProjectID != "" {
		if gcpLogger, err := cloudlog.NewGCPLogger(ctx, cfg.GCPProjectID, cfg.GCPLoggingLogID, "cursor-runner"); err != nil {
			logger.Warn("GCP logging unavailable, staying on stderr", "error", err.Error())
		} else {
			logger = gcpLogger
		}
	}
	defer logger.Close()

	supCfg := supervisor.DefaultConfig()
	supCfg.CLIPath = cfg.CursorCLIPath
	supCfg.UsePTY = cfg.UsePTYPointer()
	supCfg.HardTimeout = time.Duration(cfg.CursorCLITimeoutMS) * time.Millisecond
	supCfg.IdleTimeout = time.Duration(cfg.CursorCLIIdleTimeoutMS) * time.Millisecond
	supCfg.MaxOutputBytes = cfg.CursorCLIMaxOutputSize
	sup := supervisor.New(supCfg, logger)

	convo := resolveConversationStore(ctx, cfg, logger)

	loop := reviewloop.New(sup, convo, cfg.CursorCLIPath)
	sem := semaphore.New(cfg.CursorCLIMaxConcurrent)
	dispatcher := callback.New(callback.Config{
		WebhookSecret:          cfg.WebhookSecret,
		GatedHostnameSubstring: cfg.GatedHostnameSubstring,
		GatedFeatureEnabled:    cfg.GatedFeatureEnabled,
	}, logger)
	facade := execution.New(sem, convo, loop, dispatcher, logger, cfg.MaxIterations)

	var queue *execution.AsyncQueue
	if _, ok := convo.(*conversation.RedisStore); ok {
		redisAddr, redisPassword := redisAddrAndPassword(cfg.RedisURL)
		queue = execution.NewAsyncQueue(redisAddr, redisPassword, facade, logger)
		if err := queue.Start(); err != nil {
			logger.Error("async queue failed to start", "error", err.Error())
			queue = nil
		} else {
			defer queue.Stop()
		}
	} else {
		logger.Warn("async queue disabled: no Redis-backed conversation store configured")
	}

	srv := api.NewServer(facade, queue, convo, sem, logger, "cursor-runner")

	port := cfg.Port
	if flagPort := viper.GetInt("port"); flagPort != 0 {
		port = flagPort
	}

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("cursor-runner listening", "port", port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// resolveConversationStore attempts Redis first, falling back to the
// in-memory store if Redis is unreachable at startup (spec §4.D "degrade
// gracefully").
func resolveConversationStore(ctx context.Context, cfg config.ServerConfig, logger cloudlog.Logger) conversation.Store {
	ttl := time.Duration(cfg.TTLSeconds) * time.Second

	store, err := conversation.NewRedisStore(cfg.RedisURL, cfg.RedisKeyPrefix, ttl)
	if err != nil {
		logger.Warn("redis store construction failed, using in-memory fallback", "error", err.Error())
		return conversation.NewMemoryStore(ttl)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		logger.Warn("redis unreachable at startup, using in-memory fallback", "error", err.Error())
		return conversation.NewMemoryStore(ttl)
	}
	return store
}

// redisAddrAndPassword extracts the host:port and password asynq wants from
// a redis:// URL, reusing go-redis's own parser so the conversation store's
// client and the asynq queue's client always agree on where Redis lives.
func redisAddrAndPassword(redisURL string) (addr, password string) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return "127.0.0.1:6379", ""
	}
	return opt.Addr, opt.Password
}
