package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/nkiryanov/chronoflow/internal/logger"
	"github.com/nkiryanov/chronoflow/internal/repository"
)

const (
	defaultInterval = 10 * time.Minute
	defaultGrace    = time.Hour
)

type Config struct {
	// How often expired rows are removed
	Interval time.Duration

	// Rows are kept for grace period after expiration
	Grace time.Duration
}

// Sweeper removes expired refresh grants and QR codes
type Sweeper struct {
	interval time.Duration
	grace    time.Duration
	storage  repository.Storage
	logger   logger.Logger
}

func New(cfg Config, storage repository.Storage, log logger.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}

	return &Sweeper{
		interval: cfg.Interval,
		grace:    cfg.Grace,
		storage:  storage,
		logger:   log.With("component", "sweeper"),
	}
}

// Result of one sweep
type Swept struct {
	DeviceAuth int64
	QRCodes    int64
}

// Sweep deletes rows expired before now minus grace period
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Swept, error) {
	var swept Swept
	before := now.Add(-s.grace)

	n, err := s.storage.DeviceAuth().DeleteExpired(ctx, before)
	if err != nil {
		return swept, fmt.Errorf("can't delete expired refresh tokens. Err: %w", err)
	}
	swept.DeviceAuth = n

	n, err = s.storage.QRCode().DeleteExpired(ctx, before)
	if err != nil {
		return swept, fmt.Errorf("can't delete expired qr codes. Err: %w", err)
	}
	swept.QRCodes = n

	return swept, nil
}

// Run sweeps on every tick until ctx is done
// Returned channel is closed when the loop stopped
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.interval, "grace", s.grace)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case now := <-ticker.C:
				swept, err := s.Sweep(ctx, now)
				if err != nil {
					s.logger.Error("Sweep failed", "error", err)
					continue
				}
				s.logger.Debug("Sweep done", "deviceAuth", swept.DeviceAuth, "qrCodes", swept.QRCodes)
			}
		}
	}()

	return idleStopped
}
