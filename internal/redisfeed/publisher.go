// Package redisfeed pushes read-only snapshots to redis for dashboard
// consumers: a keyed copy with TTL for polling and a pub/sub channel for
// push updates. The trading loop never reads anything back.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"xrparb/internal/config"
	"xrparb/internal/model"
)

const (
	spreadKey   = "xrparb:spread:latest"
	balancesKey = "xrparb:balances:latest"
)

// Publisher writes spread and balance snapshots to redis.
type Publisher struct {
	rdb     *redis.Client
	channel string
	ttl     time.Duration
}

// NewPublisher connects a publisher, or returns nil when no addr is
// configured (publishing disabled).
func NewPublisher(cfg config.RedisConfig) *Publisher {
	if cfg.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &Publisher{rdb: rdb, channel: cfg.Channel, ttl: cfg.TTL}
}

// PublishSpread stores the latest snapshot under a TTL key and notifies the
// pub/sub channel.
func (p *Publisher) PublishSpread(ctx context.Context, snap model.SpreadSnapshot) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redisfeed: marshal spread: %w", err)
	}
	if err := p.rdb.Set(ctx, spreadKey, payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redisfeed: set spread: %w", err)
	}
	if p.channel != "" {
		if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
			return fmt.Errorf("redisfeed: publish spread: %w", err)
		}
	}
	return nil
}

// PublishBalances stores the latest ledger snapshot under a TTL key.
func (p *Publisher) PublishBalances(ctx context.Context, balances map[string]model.Balance) error {
	if p == nil {
		return nil
	}
	payload, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("redisfeed: marshal balances: %w", err)
	}
	if err := p.rdb.Set(ctx, balancesKey, payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redisfeed: set balances: %w", err)
	}
	return nil
}

// Close releases the client connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}
