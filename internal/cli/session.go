package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/credsync/internal/config"
	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/engine"
	"github.com/roach88/credsync/internal/metrics"
	"github.com/roach88/credsync/internal/mongostore"
	"github.com/roach88/credsync/internal/schema"
	"github.com/roach88/credsync/internal/store"
)

// datasets is the pair of datasets a command works on.
type datasets interface {
	engine.SourceDataset
	engine.TargetDataset
}

// session holds what every backend-bound command needs: configuration, a
// logger, an open backend, a metrics registry and an engine over them.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	data    datasets
	close   func(context.Context) error
	metrics *metrics.Run
	engine  *engine.Engine
}

// loadConfig loads configuration, mapping every failure to ExitCommandError.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
// --verbose forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) *slog.Logger {
	level, _ := cfg.SlogLevel() // validated by config.Load
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openSession loads configuration and connects to the configured backend.
// Connectivity failures are ExitFailure; everything else is ExitCommandError.
func openSession(ctx context.Context, opts *RootOptions, logOut io.Writer) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, opts.Verbose, logOut)
	slog.SetDefault(logger)

	s := &session{cfg: cfg, logger: logger, metrics: metrics.NewRun()}

	switch cfg.Backend {
	case config.BackendSQLite:
		logger.Info("opening database", "path", cfg.SQLitePath)
		st, err := store.Open(cfg.SQLitePath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to open database", err)
		}
		s.data = st
		s.close = func(context.Context) error { return st.Close() }
	default:
		ms, err := mongostore.Connect(ctx, cfg.MongoStoreOptions(), logger)
		if err != nil {
			return nil, connectError(err)
		}
		if err := ms.EnsureIndexes(ctx); err != nil {
			_ = ms.Close(context.Background())
			return nil, connectError(err)
		}
		s.data = ms
		s.close = ms.Close
	}

	checker, err := schema.NewChecker()
	if err != nil {
		_ = s.close(context.Background())
		return nil, WrapExitError(ExitCommandError, "failed to load credential schema", err)
	}

	s.engine = engine.New(s.data, s.data, cfg.Settings(),
		engine.WithLogger(logger),
		engine.WithRecorder(s.metrics),
		engine.WithSchemaChecker(checker),
	)
	return s, nil
}

func connectError(err error) error {
	if credential.IsUnavailable(err) {
		return WrapExitError(ExitFailure, "failed to connect", engine.NewConnectivityError("", "connect", err))
	}
	return WrapExitError(ExitCommandError, "failed to connect", err)
}

// sourceName describes where origin's records are read from.
func (s *session) sourceName(origin credential.Origin) string {
	if s.cfg.Backend == config.BackendSQLite {
		return s.cfg.SQLitePath
	}
	return s.cfg.Mongo.SourceDB + "." + s.cfg.SourceCollection(origin)
}

// runContext bounds a command by RUN_TIMEOUT.
func (s *session) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.cfg.RunTimeout)
}

// finish pushes metrics and closes the backend. Both get a fresh context so
// they still run after the command's context was cancelled.
func (s *session) finish(instance string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	// Push failures are logged by Push and never change the exit code.
	_ = s.metrics.Push(ctx, s.cfg.PushgatewayURL, instance, s.logger)

	if err := s.close(ctx); err != nil {
		s.logger.Error("error closing backend", "error", err)
	}
}

// formatDuration renders d for text output.
func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}

// fmtCount renders a labelled count list such as "inserted=1 matched=0".
func fmtCount(pairs ...any) string {
	var b strings.Builder
	for i := 0; i+1 < len(pairs); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%v=%v", pairs[i], pairs[i+1])
	}
	return b.String()
}
