package settings

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/backoffice/internal/shared"
)

// CacheKey is where the serialized settings live in Redis.
const CacheKey = "backoffice:settings"

const loadTimeout = 5 * time.Second

// Store abstracts the persisted row.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings, audit shared.AuditLog) error
}

// Provider serves settings from Redis, then Postgres, then configured defaults.
type Provider struct {
	store    Store
	client   *redis.Client
	ttl      time.Duration
	defaults Settings
	logger   *slog.Logger
	group    singleflight.Group
	now      func() time.Time

	// cacheMu orders cache writes against updates; generation moves on every update so a load
	// that started earlier never writes its result back.
	cacheMu    sync.Mutex
	generation uint64
}

// NewProvider builds Provider. A nil client disables caching.
func NewProvider(store Store, client *redis.Client, ttl time.Duration, defaults Settings, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Provider{store: store, client: client, ttl: ttl, defaults: defaults, logger: logger, now: time.Now}
}

// Current returns the effective settings. Cache failures degrade to a direct load.
func (p *Provider) Current(ctx context.Context) (Settings, error) {
	if p.client != nil {
		payload, err := p.client.Get(ctx, CacheKey).Bytes()
		if err == nil {
			var s Settings
			if jsonErr := json.Unmarshal(payload, &s); jsonErr == nil {
				return s, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			p.logger.Warn("settings cache read failed", slog.Any("error", err))
		}
	}
	p.cacheMu.Lock()
	gen := p.generation
	p.cacheMu.Unlock()
	ch := p.group.DoChan(CacheKey, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return p.load(loadCtx, gen)
	})
	select {
	case <-ctx.Done():
		return Settings{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Settings{}, res.Err
		}
		return res.Val.(Settings), nil
	}
}

func (p *Provider) load(ctx context.Context, gen uint64) (Settings, error) {
	s, err := p.store.Load(ctx)
	switch {
	case errors.Is(err, ErrSettingsNotFound):
		s = p.defaults
	case err != nil:
		return Settings{}, err
	}
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	if p.generation != gen {
		return s, nil
	}
	if err := p.writeCache(ctx, s); err != nil {
		p.logger.Warn("settings cache write failed", slog.Any("error", err))
	}
	return s, nil
}

func (p *Provider) writeCache(ctx context.Context, s Settings) error {
	if p.client == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.client.Set(ctx, CacheKey, raw, p.ttl).Err()
}

// Invalidate drops the cached copy and detaches loads already in flight.
func (p *Provider) Invalidate(ctx context.Context) error {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	p.bump()
	if p.client == nil {
		return nil
	}
	return p.client.Del(ctx, CacheKey).Err()
}

func (p *Provider) bump() {
	p.generation++
	p.group.Forget(CacheKey)
}

// Update validates and stores new settings, then replaces the cached copy.
func (p *Provider) Update(ctx context.Context, actor shared.Actor, input UpdateInput) (Settings, error) {
	if !actor.Valid() {
		return Settings{}, shared.ErrActorRequired
	}
	s := Settings{
		TaxRate:          input.TaxRate.Round(4),
		RefundWindowDays: input.RefundWindowDays,
		UpdatedAt:        p.now().UTC(),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	err := p.store.Save(ctx, s, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "settings.update",
		Entity:   "store_settings",
		EntityID: "1",
		Meta: map[string]any{
			"tax_rate":           s.TaxRate.String(),
			"refund_window_days": s.RefundWindowDays,
		},
		At: s.UpdatedAt,
	})
	if err != nil {
		return Settings{}, err
	}
	p.cacheMu.Lock()
	p.bump()
	if err := p.writeCache(ctx, s); err != nil {
		p.logger.Warn("settings cache refresh failed", slog.Any("error", err))
		if delErr := p.client.Del(ctx, CacheKey).Err(); delErr != nil {
			p.logger.Warn("settings cache invalidation failed", slog.Any("error", delErr))
		}
	}
	p.cacheMu.Unlock()
	p.logger.Info("settings updated", slog.Int64("actor_id", actor.ID), slog.String("tax_rate", s.TaxRate.String()),
		slog.Int("refund_window_days", s.RefundWindowDays))
	return s, nil
}
