package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"policycopilot/internal/api"
	"policycopilot/internal/auth"
	"policycopilot/internal/config"
	"policycopilot/internal/conversation"
	"policycopilot/internal/redis"
	"policycopilot/internal/service/assistant"
	"policycopilot/internal/service/library"
	"policycopilot/internal/service/security"
	"policycopilot/internal/storage"
	"policycopilot/internal/worker"
	"policycopilot/internal/workspace"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP service",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver := strings.ToLower(cfg.BasicConfig.DatabaseDriver)
	log.Info("opening database", zap.String("driver", driver))
	db, err := storage.Open(driver, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, driver); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if err := storage.Seed(ctx, db); err != nil {
		return fmt.Errorf("seed database: %w", err)
	}

	var rdb *redis.Client
	if usesRedis(cfg) {
		rdb, err = redis.NewRedisClient(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		defer rdb.Close()
	}

	disp := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:        cfg.BasicConfig.MinWorkers,
		MaxWorkers:        cfg.BasicConfig.MaxWorkers,
		QueueSize:         cfg.BasicConfig.QueueSize,
		WorkerIdleTimeout: cfg.WorkerIdle(),
	}, log.Named("worker"))
	defer disp.Stop()

	store, err := openWorkspaceStore(ctx, cfg, db, driver, rdb, log.Named("workspace"))
	if err != nil {
		return err
	}

	transcripts := assistant.NewService(db, log.Named("transcripts"))
	manager, err := conversation.NewManager(store, disp, transcripts, conversation.Delays{
		Typed:      cfg.TypedDelay(),
		Suggestion: cfg.SuggestionDelay(),
	}, log.Named("conversation"))
	if err != nil {
		return fmt.Errorf("init conversation manager: %w", err)
	}
	defer manager.Close()

	sec := security.NewService(db, disp, security.ScanOptions{Tick: cfg.AuditTick()}, log.Named("security"))
	defer sec.Close()

	authService, err := auth.NewService(db, rdb, cfg.SecretKey, sec, log.Named("auth"))
	if err != nil {
		return fmt.Errorf("init auth service: %w", err)
	}
	key, created, err := authService.EnsureKey(ctx)
	if err != nil {
		return fmt.Errorf("ensure admin key: %w", err)
	}
	if created {
		// printed once so the operator can reveal it from the console later
		log.Info("issued admin key", zap.String("key", key))
	} else {
		log.Info("admin key loaded", zap.String("key", auth.Mask(key)))
	}

	lib := library.NewService(db, disp, library.Options{
		BaseDir:     cfg.BasicConfig.FileBaseDir,
		UploadDelay: cfg.UploadDelay(),
	}, log.Named("library"))
	defer lib.Close()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(api.Deps{
		Workspaces:    store,
		Conversations: manager,
		Transcripts:   transcripts,
		Library:       lib,
		Security:      sec,
		Auth:          authService,
		Log:           log,
	})
	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return transcripts.RunJanitor(gctx, cfg.Retention(), cfg.JanitorEvery())
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func usesRedis(cfg *config.Config) bool {
	return strings.EqualFold(cfg.Preferences.Backend, "redis") || cfg.Redis.Host != ""
}

// openWorkspaceStore picks the preference backend. With redis available,
// switches are broadcast to and followed from other instances.
func openWorkspaceStore(ctx context.Context, cfg *config.Config, db *sql.DB, driver string, rdb *redis.Client, log *zap.Logger) (*workspace.Store, error) {
	var (
		kv   workspace.KV
		opts []workspace.Option
		err  error
	)
	switch strings.ToLower(cfg.Preferences.Backend) {
	case "redis":
		kv = workspace.NewRedisKV(rdb)
	case "memory":
		kv = workspace.NewMemoryKV()
	default:
		if kv, err = workspace.NewSQLKV(db, driver); err != nil {
			return nil, fmt.Errorf("init preference store: %w", err)
		}
	}
	if rdb != nil {
		opts = append(opts, workspace.WithPublisher(rdb))
	}
	store, err := workspace.NewStore(ctx, kv, log, opts...)
	if err != nil {
		return nil, fmt.Errorf("load workspace state: %w", err)
	}
	if rdb != nil {
		if err := store.Watch(ctx, rdb); err != nil {
			return nil, fmt.Errorf("watch workspace switches: %w", err)
		}
	}
	log.Info("workspace state loaded",
		zap.String("backend", cfg.Preferences.Backend),
		zap.String("current", store.Current().ID))
	return store, nil
}
