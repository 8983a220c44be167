package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/attrstore/internal/engine"
	"github.com/roach88/attrstore/internal/schema"
	"github.com/roach88/attrstore/internal/server"
	"github.com/roach88/attrstore/internal/store"
)

// Config keys. Each is also a serve flag (underscores become dashes) and an
// ATTRSTORE_ environment variable.
const (
	cfgListen           = "listen"
	cfgDatabase         = "db"
	cfgSchema           = "schema"
	cfgBookmarkInterval = "bookmark_interval"
	cfgQueueSize        = "queue_size"
	cfgMaxSubscriptions = "max_subscriptions"
	cfgCompactInterval  = "compact_interval"
	cfgLogFormat        = "log_format"
	cfgCORSOrigins      = "cors_origins"

	envPrefix = "ATTRSTORE"
)

const shutdownTimeout = 10 * time.Second

// ServeConfig is the resolved configuration of a server process.
type ServeConfig struct {
	Listen           string
	Database         string
	Schema           string
	BookmarkInterval time.Duration
	QueueSize        int
	MaxSubscriptions int
	CompactInterval  time.Duration
	LogFormat        string
	CORSOrigins      []string
	Verbose          bool
}

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ConfigFile string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an attrstore server",
		Long: `Run an attrstore server on HTTP.

Settings come from flags, then ATTRSTORE_* environment variables
(ATTRSTORE_LISTEN, ATTRSTORE_DB, ATTRSTORE_QUEUE_SIZE, ...), then the YAML
file given with --config, then defaults.

Without --db the store lives in memory and starts empty on every run.

Example:
  attrstore serve --listen :7070 --db ./attrstore.db --schema ./schema.cue
  ATTRSTORE_DB=/var/lib/attrstore.db attrstore serve --log-format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(cmd, opts)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid configuration", err)
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.LogFormat, cfg.Verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to listen", err)
			}
			return Serve(ctx, cfg, ln, logger)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigFile, "config", "", "YAML config file")
	f.String("listen", "127.0.0.1:7070", "address to listen on")
	f.String("db", "", "path to SQLite journal (empty = in-memory only)")
	f.String("schema", "", "CUE file declaring attribute types to ensure at startup")
	f.Duration("bookmark-interval", engine.DefaultBookmarkInterval, "idle bookmark interval for watches")
	f.Int("queue-size", engine.DefaultQueueSize, "per-subscription event buffer")
	f.Int("max-subscriptions", engine.DefaultMaxSubscriptions, "maximum concurrent watches")
	f.Duration("compact-interval", time.Minute, "how often to compact history (0 = never)")
	f.String("log-format", "text", "log format (text|json)")
	f.StringSlice("cors-origins", nil, "browser origins allowed to call the API")

	return cmd
}

// loadServeConfig merges flags, environment, and the config file.
func loadServeConfig(cmd *cobra.Command, opts *ServeOptions) (ServeConfig, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		cfgListen, cfgDatabase, cfgSchema, cfgBookmarkInterval, cfgQueueSize,
		cfgMaxSubscriptions, cfgCompactInterval, cfgLogFormat, cfgCORSOrigins,
	} {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-"))); err != nil {
			return ServeConfig{}, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return ServeConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := ServeConfig{
		Listen:           v.GetString(cfgListen),
		Database:         v.GetString(cfgDatabase),
		Schema:           v.GetString(cfgSchema),
		BookmarkInterval: v.GetDuration(cfgBookmarkInterval),
		QueueSize:        v.GetInt(cfgQueueSize),
		MaxSubscriptions: v.GetInt(cfgMaxSubscriptions),
		CompactInterval:  v.GetDuration(cfgCompactInterval),
		LogFormat:        v.GetString(cfgLogFormat),
		CORSOrigins:      v.GetStringSlice(cfgCORSOrigins),
		Verbose:          opts.Verbose,
	}
	switch {
	case cfg.LogFormat != "text" && cfg.LogFormat != "json":
		return ServeConfig{}, fmt.Errorf("invalid log format %q: must be text or json", cfg.LogFormat)
	case cfg.BookmarkInterval <= 0:
		return ServeConfig{}, fmt.Errorf("bookmark interval must be positive, got %s", cfg.BookmarkInterval)
	case cfg.QueueSize <= 0:
		return ServeConfig{}, fmt.Errorf("queue size must be positive, got %d", cfg.QueueSize)
	case cfg.MaxSubscriptions <= 0:
		return ServeConfig{}, fmt.Errorf("max subscriptions must be positive, got %d", cfg.MaxSubscriptions)
	case cfg.CompactInterval < 0:
		return ServeConfig{}, fmt.Errorf("compact interval must not be negative, got %s", cfg.CompactInterval)
	}
	return cfg, nil
}

func newLogger(w io.Writer, format string, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// Serve runs a server on ln until ctx is cancelled. It owns ln.
//
// Shutdown closes the store first so open watch streams end with an
// UNAVAILABLE frame; the HTTP server then drains.
func Serve(ctx context.Context, cfg ServeConfig, ln net.Listener, logger *slog.Logger) error {
	defer ln.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	storeOpts := []engine.StoreOption{
		engine.WithLogger(logger),
		engine.WithMetrics(engine.NewMetrics(reg)),
	}
	if cfg.BookmarkInterval > 0 {
		storeOpts = append(storeOpts, engine.WithBookmarkInterval(cfg.BookmarkInterval))
	}
	if cfg.QueueSize > 0 {
		storeOpts = append(storeOpts, engine.WithQueueSize(cfg.QueueSize))
	}
	if cfg.MaxSubscriptions > 0 {
		storeOpts = append(storeOpts, engine.WithMaxSubscriptions(cfg.MaxSubscriptions))
	}

	if cfg.Database != "" {
		logger.Info("opening journal", "path", cfg.Database)
		journal, err := store.Open(cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}()
		storeOpts = append(storeOpts, engine.WithJournal(journal))
	}

	s, err := engine.Open(ctx, storeOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer s.Close()

	if cfg.Schema != "" {
		types, err := schema.LoadFile(cfg.Schema)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load schema", err)
		}
		res, err := schema.Apply(ctx, s, types, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to apply schema", err)
		}
		logger.Info("schema applied", "path", cfg.Schema, "created", len(res.Created), "existing", len(res.Existing))
	}

	httpSrv := &http.Server{
		Handler: server.New(s,
			server.WithLogger(logger),
			server.WithRegistry(reg),
			server.WithCORSOrigins(cfg.CORSOrigins...),
		),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", ln.Addr().String(), "head", s.Head())
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		_ = s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	if cfg.CompactInterval > 0 {
		g.Go(func() error {
			compactLoop(gctx, s, cfg.CompactInterval, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "server error", err)
	}
	logger.Info("server stopped", "head", s.Head())
	return nil
}

func compactLoop(ctx context.Context, s *engine.Store, every time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := s.Compact(ctx)
			if err != nil {
				if !engine.IsUnavailable(err) && ctx.Err() == nil {
					logger.Error("compaction failed", "error", err)
				}
				continue
			}
			logger.Debug("compacted", "horizon", stats.Horizon, "records", stats.Records, "versions", stats.Versions, "log_len", stats.LogLen)
		}
	}
}
