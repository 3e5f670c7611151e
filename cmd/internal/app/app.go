// Package app wires the messenger runtime: config, logging, stores, HTTP routes and the
// realtime gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"messenger/cmd/identity"
	"messenger/cmd/internal/attachment"
	"messenger/cmd/internal/conversation"
	"messenger/cmd/internal/dbschema"
	"messenger/cmd/internal/eventbus"
	"messenger/cmd/internal/message"
	"messenger/cmd/internal/messaging"
	"messenger/cmd/internal/messaging/httpapi"
	"messenger/cmd/internal/realtime"
	"messenger/cmd/internal/redisx"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App owns every long-lived dependency of the server and their shutdown order.
type App struct {
	cfg Config
	log Logger

	registry    *prometheus.Registry
	httpMetrics *HTTPMetrics

	pool     *pgxpool.Pool
	redis    *redis.Client
	bus      *eventbus.Writer
	consumer *eventbus.Consumer

	hub      *realtime.Hub
	ws       *realtime.WSGateway
	svc      *messaging.Service
	disp     *messaging.Dispatcher
	api      *httpapi.Handler
	uploads  http.Handler
	resolver identity.Resolver
}

// New constructs a fully wired App. Backends are chosen by configuration: Postgres when a
// database URL is set (in-memory otherwise), MinIO when an endpoint is set (local disk
// otherwise), Redis guards and Kafka only when configured.
func New(ctx context.Context, cfg Config, log Logger) (_ *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.httpMetrics = NewHTTPMetrics(a.registry)

	convs, msgs, users, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	resolver, err := a.buildResolver(users)
	if err != nil {
		return nil, err
	}
	a.resolver = resolver

	files, err := a.openAttachments(ctx)
	if err != nil {
		return nil, err
	}
	a.uploads = files.Handler()

	policy := attachment.DefaultPolicy()
	policy.MaxFileBytes = cfg.MaxUploadBytes
	policy.MaxFiles = cfg.MaxUploadFiles

	a.svc, err = messaging.New(messaging.Deps{
		Identity:          resolver,
		Directory:         users,
		Conversations:     convs,
		Messages:          msgs,
		Attachments:       files,
		Policy:            policy,
		Log:               log,
		StoreTimeout:      cfg.StoreTimeout,
		AttachmentTimeout: cfg.AttachmentTimeout,
	})
	if err != nil {
		return nil, err
	}

	a.hub = realtime.NewHub(log, realtime.NewMetrics(a.registry))
	a.ws = realtime.NewWSGateway(log, a.hub, resolver, cfg.WS)

	var announcer messaging.Announcer
	if cfg.KafkaBrokers != "" {
		a.bus = eventbus.NewWriter(cfg.KafkaBrokers, cfg.KafkaMessageTopic, log)
		announcer = a.bus
		a.consumer = eventbus.NewConsumer(cfg.KafkaBrokers, cfg.KafkaNotificationsGroup, cfg.KafkaNotificationTopic, a.handleNotification, log)
		log.Info("eventbus.enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaMessageTopic)
	}
	a.disp = messaging.NewDispatcher(log, a.hub, announcer)

	opts := []httpapi.HandlerOption{
		httpapi.WithPolicy(policy),
		httpapi.WithNotifyKey(cfg.NotifySharedKey),
	}
	if cfg.RedisURL != "" {
		a.redis, err = redisx.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			httpapi.WithIdempotency(redisx.NewIdempotency(a.redis, cfg.IdempotencyTTL)),
			httpapi.WithRateLimit(redisx.NewLimiter(a.redis, int64(cfg.SendRateLimit), cfg.SendRateWindow), cfg.SendRateWindow),
		)
		log.Info("redis.enabled")
	}

	a.api, err = httpapi.NewHandler(log, a.svc, a.disp, resolver, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Service exposes the messaging service to maintenance commands.
func (a *App) Service() *messaging.Service { return a.svc }

func (a *App) openStores(ctx context.Context) (conversation.Store, message.Store, identity.Directory, error) {
	if a.cfg.DatabaseURL == "" {
		// No user directory without a database: recipients are not checked and
		// only bearer tokens (JWT, PASETO) authenticate.
		a.log.Warn("db.disabled.inmemory_store")
		return conversation.NewMemoryStore(), message.NewMemoryStore(), nil, nil
	}

	pool, err := NewDBPool(ctx, a.cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	a.pool = pool
	a.registry.MustRegister(newDBPoolCollector(pool))

	if a.cfg.AutoMigrate {
		if err := dbschema.Apply(ctx, pool, a.cfg.DBSchema); err != nil {
			return nil, nil, nil, err
		}
		a.log.Info("db.migrate.done", "schema", a.cfg.DBSchema)
	}

	convs, err := conversation.NewPostgresStore(pool, conversation.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	msgs, err := message.NewPostgresStore(pool, message.WithSchema(a.cfg.DBSchema))
	if err != nil {
		return nil, nil, nil, err
	}
	users, err := identity.NewPostgresStore(pool,
		identity.WithSchema(a.cfg.IdentitySchema),
		identity.WithHashedTokens(a.cfg.SessionTableHashed),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	a.log.Info("db.enabled.postgres_store", "schema", a.cfg.DBSchema)
	return convs, msgs, users, nil
}

// buildResolver chains the session table with the configured bearer token formats.
func (a *App) buildResolver(users identity.Directory) (identity.Resolver, error) {
	var chain identity.Chain
	if r, ok := users.(identity.Resolver); ok {
		chain = append(chain, r)
	}
	if a.cfg.JWTSecret != "" {
		r, err := identity.NewJWTResolver([]byte(a.cfg.JWTSecret), a.cfg.JWTIssuer)
		if err != nil {
			return nil, err
		}
		chain = append(chain, r)
	}
	if a.cfg.PasetoPublicKeyHex != "" || a.cfg.PasetoSecretKeyHex != "" {
		r, err := identity.NewPasetoResolver(identity.PasetoConfig{
			Issuer:       a.cfg.PasetoIssuer,
			PublicKeyHex: a.cfg.PasetoPublicKeyHex,
			SecretKeyHex: a.cfg.PasetoSecretKeyHex,
			ClockSkew:    30 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		chain = append(chain, r)
	}
	if len(chain) == 0 {
		return nil, errors.New("app: no identity resolver configured")
	}
	return chain, nil
}

func (a *App) openAttachments(ctx context.Context) (attachment.Store, error) {
	if a.cfg.MinIOEndpoint != "" {
		st, err := attachment.NewMinIOStore(ctx, attachment.MinIOConfig{
			Endpoint:  a.cfg.MinIOEndpoint,
			AccessKey: a.cfg.MinIOAccessKey,
			SecretKey: a.cfg.MinIOSecretKey,
			UseSSL:    a.cfg.MinIOUseSSL,
			Bucket:    a.cfg.MinIOBucket,
		}, a.cfg.MaxUploadBytes, a.log)
		if err != nil {
			return nil, err
		}
		a.log.Info("attachments.minio", "endpoint", a.cfg.MinIOEndpoint, "bucket", a.cfg.MinIOBucket)
		return st, nil
	}

	st, err := attachment.NewLocalStore(a.cfg.UploadsDir, a.cfg.MaxUploadBytes, a.log)
	if err != nil {
		return nil, err
	}
	a.log.Info("attachments.local", "root", st.Root())
	return st, nil
}

// handleNotification delivers notices produced by other services through the bus.
func (a *App) handleNotification(ctx context.Context, n eventbus.Notification) error {
	out, err := a.svc.Notify(ctx, messaging.Notification{
		UserID:       n.UserID,
		Type:         n.Type,
		Message:      n.Message,
		From:         n.From,
		FromUsername: n.FromUsername,
	})
	if err != nil {
		return err
	}
	a.disp.Dispatch(ctx, out)
	return nil
}

// Close releases external resources in reverse dependency order. It is safe on a partly built App.
func (a *App) Close(_ context.Context) {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("eventbus.close.fail", "err", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
