// Package engine wires the moderation and punishment engines from config. The
// API and the bot share it so both processes see the same stores and caches.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/cache"
	"github.com/ivankudzin/anonmod/internal/config"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	"github.com/ivankudzin/anonmod/internal/infra/httpclient"
	s3infra "github.com/ivankudzin/anonmod/internal/infra/s3"
	"github.com/ivankudzin/anonmod/internal/infra/telegram"
	"github.com/ivankudzin/anonmod/internal/infra/webhook"
	"github.com/ivankudzin/anonmod/internal/jobs/sweep"
	pgrepo "github.com/ivankudzin/anonmod/internal/repo/postgres"
	redrepo "github.com/ivankudzin/anonmod/internal/repo/redis"
	accesssvc "github.com/ivankudzin/anonmod/internal/services/access"
	mediasvc "github.com/ivankudzin/anonmod/internal/services/media"
	modsvc "github.com/ivankudzin/anonmod/internal/services/moderation"
	punishsvc "github.com/ivankudzin/anonmod/internal/services/punishment"
	"github.com/ivankudzin/anonmod/internal/services/ratelimit"
	statssvc "github.com/ivankudzin/anonmod/internal/services/stats"
)

const (
	TaskModerationExpiry    = "moderation_expiry"
	TaskPunishmentReconcile = "punishment_reconcile"
)

type Engine struct {
	Access      *accesssvc.Service
	Moderation  *modsvc.Service
	Punishments *punishsvc.Service
	Stats       *statssvc.Service
	Limiter     *ratelimit.Limiter
	Media       *mediasvc.Service
	Webhooks    *webhook.Dispatcher
	// Bot is nil when no token is configured; outbound relays are skipped.
	Bot *telegram.Bot

	storage  *mediasvc.S3Storage
	postgres *pgxpool.Pool
	redis    *goredis.Client
	cfg      config.Config
	logger   *zap.Logger
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Engine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	pool, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, err
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		// Redis only holds derived state; the engines fall back to Postgres.
		log.Warn("redis ping failed, continuing in degraded mode", zap.Error(err))
	}

	prefix := cfg.Redis.KeyPrefix
	opTimeout := cfg.Storage.OpTimeout
	cacheRepo := redrepo.NewCacheRepo(redisClient, prefix)

	dispatcher := webhook.NewDispatcher(
		httpclient.New(httpclient.Config{Timeout: cfg.Webhooks.Timeout, RetryMax: cfg.Webhooks.MaxRetries}, log),
		webhook.Config{Endpoints: webhookEndpoints(cfg.Webhooks.Endpoints, log)},
		log,
	)

	var storage *mediasvc.S3Storage
	if client, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		storage = mediasvc.NewS3Storage(client, cfg.S3.Bucket)
	}
	var signer mediasvc.URLSigner
	if storage != nil {
		signer = storage
	}
	mediaService := mediasvc.NewService(signer, cfg.S3.PresignTTL)

	var (
		bot       *telegram.Bot
		transport *telegram.Transport
	)
	if cfg.Bot.Token != "" {
		bot, err = telegram.NewBot(telegram.Config{
			Token:          cfg.Bot.Token,
			SendRatePerSec: cfg.Bot.SendRatePerSec,
			SendBurst:      cfg.Bot.SendBurst,
		}, httpclient.NewPooled(60*time.Second), log.Named("telegram"))
		if err != nil {
			pool.Close()
			_ = redisClient.Close()
			return nil, err
		}
		loc, err := time.LoadLocation(cfg.Stats.Timezone)
		if err != nil {
			loc = time.UTC
		}
		transport = telegram.NewTransport(bot, mediaService.ResolveURL, telegram.TransportConfig{
			ChannelID:    cfg.Bot.ChannelID,
			LogChannelID: cfg.Bot.LogChannelID,
			Location:     loc,
		}, log.Named("transport"))
	}

	userCache := cache.NewTiered[model.User](cache.Config{
		Name:      "users",
		LocalSize: cfg.Cache.LocalSize,
		LocalTTL:  cfg.Cache.LocalTTL,
	}, cacheRepo, fixedTTL[model.User](cfg.Cache.RemoteTTL), log)
	access := accesssvc.NewService(accesssvc.Dependencies{
		Users:  pgrepo.NewUserRepo(pool),
		Cache:  userCache,
		Events: dispatcher,
		Logger: log.Named("access"),
	}, accesssvc.Config{OwnerID: cfg.Access.OwnerID, OpTimeout: opTimeout})

	auditRepo := pgrepo.NewAuditRepo(pool)
	punishDeps := punishsvc.Dependencies{
		Store:   pgrepo.NewPunishmentRepo(pool),
		Cache:   redrepo.NewPunishmentCacheRepo(redisClient, prefix),
		History: auditRepo,
		Levels:  access,
		Events:  dispatcher,
		Logger:  log.Named("punishment"),
	}
	if transport != nil {
		punishDeps.Notifier = transport
	}
	punishments := punishsvc.NewService(punishDeps, punishsvc.Config{
		DefaultMute:      cfg.Punishment.DefaultMute,
		DefaultBan:       cfg.Punishment.DefaultBan,
		MaxBan:           cfg.Punishment.MaxBan,
		WarningThreshold: cfg.Punishment.WarningThreshold,
		CacheTTL:         cfg.Punishment.CacheTTL,
		ReconcileBatch:   cfg.Punishment.ReconcileBatch,
		OpTimeout:        opTimeout,
		Policy:           punishsvc.MultiplicativeEscalation(cfg.Punishment.EscalationFactor, cfg.Punishment.MaxBan),
	})

	limiter := ratelimit.NewLimiter(redrepo.NewRateRepo(redisClient), ratelimit.Config{
		MaxSubmissions: cfg.RateLimit.MaxSubmissions,
		Period:         cfg.RateLimit.Period,
		KeyPrefix:      prefix,
	})

	itemCache := cache.NewTiered[model.ModerationItem](cache.Config{
		Name:      "items",
		LocalSize: cfg.Cache.LocalSize,
		LocalTTL:  cfg.Cache.LocalTTL,
	}, cacheRepo, modsvc.ItemCacheTTL(func() time.Time { return time.Now().UTC() }, cfg.Cache.RemoteTTL), log)
	modDeps := modsvc.Dependencies{
		Store:     pgrepo.NewModerationRepo(pool),
		Items:     itemCache,
		Marks:     redrepo.NewClaimRepo(redisClient, prefix),
		Limiter:   limiter,
		Access:    access,
		Sanctions: punishments,
		Events:    dispatcher,
		Logger:    log.Named("moderation"),
	}
	if transport != nil {
		modDeps.Transport = transport
	}
	moderation := modsvc.NewService(modDeps, modsvc.Config{
		ItemTTL:       cfg.Moderation.ItemTTL,
		MaxTextLength: cfg.Moderation.MaxTextLength,
		SweepBatch:    cfg.Moderation.SweepBatch,
		OpTimeout:     opTimeout,
	})

	stats, err := statssvc.NewService(statssvc.Dependencies{
		Store:       pgrepo.NewStatsRepo(pool),
		Users:       access,
		Pending:     moderation,
		Punishments: punishments,
		Audit:       auditRepo,
	}, statssvc.Config{
		Timezone:         cfg.Stats.Timezone,
		LeaderboardLimit: cfg.Stats.LeaderboardLimit,
		OpTimeout:        opTimeout,
	})
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}

	return &Engine{
		Access:      access,
		Moderation:  moderation,
		Punishments: punishments,
		Stats:       stats,
		Limiter:     limiter,
		Media:       mediaService,
		Webhooks:    dispatcher,
		Bot:         bot,
		storage:     storage,
		postgres:    pool,
		redis:       redisClient,
		cfg:         cfg,
		logger:      log,
	}, nil
}

// Bootstrap seeds the owner, warms the punishment cache and makes sure the
// media bucket exists. Only the owner seed is fatal.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if err := e.Access.SeedOwner(ctx); err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}

	if warmed, err := e.Punishments.Warm(ctx); err != nil {
		e.logger.Warn("punishment cache warm failed", zap.Error(err))
	} else {
		e.logger.Info("punishment cache warmed", zap.Int("entries", warmed))
	}

	if e.storage != nil {
		if err := e.storage.EnsureBucket(ctx); err != nil {
			e.logger.Warn("ensure media bucket failed", zap.Error(err))
		}
	}
	return nil
}

// Sweeps returns the two background tasks that retire expired state.
func (e *Engine) Sweeps() []*sweep.Task {
	return []*sweep.Task{
		sweep.New(TaskModerationExpiry, e.cfg.Moderation.SweepInterval, e.Moderation.ExpireSweep, e.logger),
		sweep.New(TaskPunishmentReconcile, e.cfg.Punishment.ReconcileInterval, e.Punishments.Reconcile, e.logger),
	}
}

func (e *Engine) Close() {
	if e.postgres != nil {
		e.postgres.Close()
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn("close redis", zap.Error(err))
		}
	}
}

func webhookEndpoints(in []config.WebhookEndpoint, log *zap.Logger) []webhook.Endpoint {
	out := make([]webhook.Endpoint, 0, len(in))
	for _, ep := range in {
		events := make([]enums.WebhookEvent, 0, len(ep.Events))
		for _, raw := range ep.Events {
			event, ok := enums.ParseWebhookEvent(raw)
			if !ok {
				log.Warn("unknown webhook event ignored", zap.String("url", ep.URL), zap.String("event", raw))
				continue
			}
			events = append(events, event)
		}
		out = append(out, webhook.Endpoint{URL: ep.URL, Secret: ep.Secret, Events: events})
	}
	return out
}

func fixedTTL[V any](ttl time.Duration) func(V) time.Duration {
	return func(V) time.Duration { return ttl }
}
