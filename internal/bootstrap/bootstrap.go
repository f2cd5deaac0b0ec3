// Package bootstrap wires the kernel binary: env-driven configuration,
// logger, the BoltDB-backed Host, and the inbox drain loop.
package bootstrap

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/jstz-dev/jstz-core/internal/address"
	"github.com/jstz-dev/jstz-core/internal/host"
	"github.com/jstz-dev/jstz-core/internal/kernel"
	"github.com/jstz-dev/jstz-core/pkg/config"
	"github.com/jstz-dev/jstz-core/pkg/mlog"
	"github.com/jstz-dev/jstz-core/pkg/mtrace"
	"github.com/jstz-dev/jstz-core/pkg/mzap"
)

const ApplicationName = "jstzd"

// Config is the top level configuration struct for the kernel binary.
type Config struct {
	EnvName         string `env:"ENV_NAME"`
	LogLevel        string `env:"LOG_LEVEL"`
	RollupAddress   string `env:"JSTZ_ROLLUP_ADDRESS"`
	DataDir         string `env:"JSTZ_DATA_DIR"`
	InboxDir        string `env:"JSTZ_INBOX_DIR"`
	OraclePublicKey string `env:"JSTZ_ORACLE_PUBLIC_KEY"`
	PollIntervalMS  int64  `env:"JSTZ_POLL_INTERVAL_MS"`
}

// Service is the running kernel binary: the drain loop over an inbox
// directory where the rollup host (or the sandbox) deposits one framed
// file per level, named <level>.inbox.
type Service struct {
	kernel *kernel.Kernel
	closer func() error
	log    mlog.Logger

	inboxDir string
	poll     time.Duration
}

// InitService builds a Service from the environment.
func InitService() (*Service, mlog.Logger, error) {
	config.LoadDotEnv()

	cfg := &Config{}
	if err := config.FromEnv(cfg); err != nil {
		return nil, nil, err
	}

	logger := mzap.InitializeLogger()

	if cfg.RollupAddress == "" {
		return nil, nil, fmt.Errorf("JSTZ_ROLLUP_ADDRESS is required")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "."
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, nil, err
	}

	h, err := host.OpenBolt(filepath.Join(dataDir, "jstz.db"))
	if err != nil {
		return nil, nil, err
	}

	var oracleKey *address.PublicKey

	if cfg.OraclePublicKey != "" {
		raw, err := hex.DecodeString(cfg.OraclePublicKey)
		if err != nil {
			_ = h.Close()
			return nil, nil, fmt.Errorf("JSTZ_ORACLE_PUBLIC_KEY is not hex: %w", err)
		}

		pk := address.NewPublicKey(address.SchemeEd25519, raw)
		oracleKey = &pk
	}

	poll := time.Duration(cfg.PollIntervalMS) * time.Millisecond
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	svc := &Service{
		kernel:   kernel.New(h, cfg.RollupAddress, oracleKey, logger, time.Now),
		closer:   h.Close,
		log:      logger,
		inboxDir: cfg.InboxDir,
		poll:     poll,
	}

	return svc, logger, nil
}

// Kernel exposes the wired kernel, for callers that drive levels
// themselves instead of using Run's directory polling.
func (s *Service) Kernel() *kernel.Kernel { return s.kernel }

// Close releases the underlying database.
func (s *Service) Close() error { return s.closer() }

// Run polls the inbox directory for the next level's file and drains it,
// until ctx is cancelled. Levels are consumed strictly in sequence; a
// gap means Run waits for the missing level rather than skipping ahead.
func (s *Service) Run(ctx context.Context) error {
	// The global provider is a no-op unless a deployment installs a
	// real one; either way every operation and nested call gets its
	// span through this context.
	ctx = mtrace.ContextWithTracer(ctx, otel.Tracer(ApplicationName))

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		if err := s.drainReady(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) drainReady(ctx context.Context) error {
	for {
		next := uint32(1)

		if last, ok, err := s.kernel.LastProcessedLevel(ctx); err != nil {
			return err
		} else if ok {
			next = last + 1
		}

		path := filepath.Join(s.inboxDir, fmt.Sprintf("%d.inbox", next))

		raw, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			return nil
		}

		if err != nil {
			return err
		}

		receipts, err := s.kernel.Drain(ctx, next, raw)
		if err != nil {
			return err
		}

		s.log.Infof("drained level %d: %d receipts", next, len(receipts))
	}
}
