package jobs

import (
	"context"
	"time"

	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/internal/daemon"
	"github.com/bardlex/cnpool/internal/telemetry"
	"github.com/bardlex/cnpool/pkg/log"
)

// PollerConfig carries the template acquisition settings.
type PollerConfig struct {
	WalletAddress   string
	ReserveSize     uint
	PollInterval    time.Duration
	RefreshInterval time.Duration
}

// TemplateSource fetches block templates from the upstream daemon.
type TemplateSource interface {
	GetBlockTemplate(ctx context.Context, walletAddress string, reserveSize uint) (*daemon.BlockTemplate, error)
}

// Poller tracks the upstream chain tip. It polls get_block_template at a
// fixed interval and can be kicked early by the push notification channels.
// A template is published when its identity changes or when the refresh
// interval elapses, whichever comes first.
type Poller struct {
	cfg       PollerConfig
	client    TemplateSource
	manager   *Manager
	clock     clock.Clock
	telemetry *telemetry.Recorder
	logger    *log.Logger

	kick chan struct{}

	lastKey  string
	lastEmit time.Time
}

// NewPoller creates a template poller.
func NewPoller(cfg PollerConfig, client TemplateSource, manager *Manager, clk clock.Clock, rec *telemetry.Recorder, logger *log.Logger) *Poller {
	return &Poller{
		cfg:       cfg,
		client:    client,
		manager:   manager,
		clock:     clk,
		telemetry: rec,
		logger:    logger.WithComponent("poller"),
		kick:      make(chan struct{}, 1),
	}
}

// Kick requests an immediate poll, used by the ZMQ/WebSocket channels.
// Non-blocking; a pending kick coalesces.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run polls until ctx is cancelled. Daemon failures keep the last template
// current; new sessions still receive jobs for it.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller starting",
		"poll_interval", p.cfg.PollInterval,
		"refresh_interval", p.cfg.RefreshInterval,
	)

	p.poll(ctx)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopping")
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		case <-p.kick:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	start := time.Now()

	t, err := p.client.GetBlockTemplate(ctx, p.cfg.WalletAddress, p.cfg.ReserveSize)
	p.telemetry.Measure(ctx, "get_block_template", start, err == nil)
	if err != nil {
		p.logger.WithError(err).Warn("failed to fetch block template, keeping last")
		return
	}

	now := p.clock.Now()
	t.ReceivedAt = now

	key := t.Key()
	if key == p.lastKey && now.Sub(p.lastEmit) < p.cfg.RefreshInterval {
		return
	}

	p.lastKey = key
	p.lastEmit = now
	p.manager.Publish(t)
}
