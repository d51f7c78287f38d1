// Package banning tracks share quality per remote address and bans sources
// that flood the pool with invalid work. Bans live in redis when configured
// so they survive restarts; otherwise an in-memory table is used.
package banning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bardlex/cnpool/internal/clock"
	"github.com/bardlex/cnpool/pkg/log"
)

// Config holds the ban policy and the optional redis backend.
type Config struct {
	Enabled        bool
	CheckThreshold int     // shares observed before the ratio is evaluated
	InvalidPercent float64 // invalid percentage that triggers a ban
	BanDuration    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// counts is the rolling share tally for one address.
type counts struct {
	valid   int
	invalid int
}

// Manager implements the IP ban service.
type Manager struct {
	cfg    Config
	logger *log.Logger
	clock  clock.Clock
	rdb    *redis.Client

	mu        sync.Mutex
	tallies   map[string]*counts
	localBans map[string]time.Time
}

// NewManager creates a ban manager. Redis connectivity is verified when an
// address is configured; a failed ping falls back to the in-memory table.
func NewManager(cfg Config, clk clock.Clock, logger *log.Logger) *Manager {
	m := &Manager{
		cfg:       cfg,
		logger:    logger.WithComponent("banning"),
		clock:     clk,
		tallies:   make(map[string]*counts),
		localBans: make(map[string]time.Time),
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := rdb.Ping(ctx).Err(); err != nil {
			m.logger.WithError(err).Warn("redis unavailable, using in-memory ban table")
			_ = rdb.Close()
		} else {
			m.rdb = rdb
			m.logger.Info("ban store connected", "addr", cfg.RedisAddr)
		}
	}

	return m
}

// Close releases the redis connection.
func (m *Manager) Close() error {
	if m.rdb != nil {
		return m.rdb.Close()
	}
	return nil
}

func banKey(ip string) string {
	return fmt.Sprintf("ban:%s", ip)
}

// IsBanned reports whether an address is currently banned.
func (m *Manager) IsBanned(ctx context.Context, ip string) bool {
	if !m.cfg.Enabled {
		return false
	}

	if m.rdb != nil {
		n, err := m.rdb.Exists(ctx, banKey(ip)).Result()
		if err == nil {
			return n > 0
		}
		m.logger.WithError(err).Debug("ban lookup failed, falling back to local table")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	until, ok := m.localBans[ip]
	if !ok {
		return false
	}
	if m.clock.Now().After(until) {
		delete(m.localBans, ip)
		return false
	}
	return true
}

// Ban bans an address for the configured duration.
func (m *Manager) Ban(ctx context.Context, ip string) {
	if !m.cfg.Enabled {
		return
	}

	m.logger.Warn("banning address", "remote_ip", ip, "duration", m.cfg.BanDuration)

	if m.rdb != nil {
		if err := m.rdb.Set(ctx, banKey(ip), m.clock.Now().Unix(), m.cfg.BanDuration).Err(); err != nil {
			m.logger.WithError(err).Error("failed to persist ban")
		}
	}

	m.mu.Lock()
	m.localBans[ip] = m.clock.Now().Add(m.cfg.BanDuration)
	delete(m.tallies, ip)
	m.mu.Unlock()
}

// ObserveShare records a share verdict for an address and returns true when
// the address crossed the ban threshold. The tally resets after each
// evaluation so a recovering miner is re-judged on fresh data.
func (m *Manager) ObserveShare(ctx context.Context, ip string, valid bool) bool {
	if !m.cfg.Enabled {
		return false
	}

	m.mu.Lock()
	tally, ok := m.tallies[ip]
	if !ok {
		tally = &counts{}
		m.tallies[ip] = tally
	}
	if valid {
		tally.valid++
	} else {
		tally.invalid++
	}

	total := tally.valid + tally.invalid
	if total < m.cfg.CheckThreshold {
		m.mu.Unlock()
		return false
	}

	invalidPercent := float64(tally.invalid) / float64(total) * 100
	delete(m.tallies, ip)
	m.mu.Unlock()

	if invalidPercent < m.cfg.InvalidPercent {
		return false
	}

	m.Ban(ctx, ip)
	return true
}
