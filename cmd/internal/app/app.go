// Package app wires the docrelay runtime: config, logging, session storage,
// the session authority, the relay gateway and the revalidation scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"docrelay/cmd/internal/auth/identity"
	"docrelay/cmd/internal/auth/revalidate"
	"docrelay/cmd/internal/auth/session"
	"docrelay/cmd/internal/document"
	"docrelay/cmd/internal/metrics"
	"docrelay/cmd/internal/relay"
)

// resource is anything the app must release on shutdown.
type resource interface {
	Close(ctx context.Context) error
}

type nopResource struct{}

func (nopResource) Close(context.Context) error { return nil }

type poolResource struct{ pool *pgxpool.Pool }

func (r poolResource) Close(context.Context) error {
	r.pool.Close()
	return nil
}

type firestoreResource struct{ client *firestore.Client }

func (r firestoreResource) Close(context.Context) error { return r.client.Close() }

// App is the docrelay runtime: it owns the HTTP server, the session authority
// and the background loops that serve it.
type App struct {
	cfg Config
	log Logger

	metrics *metrics.Metrics

	store    session.Store
	resource resource

	session    *session.Service
	sessionKey string
	scheduler  *revalidate.Scheduler
	fanout     *relay.Fanout
	ws         *relay.WSGateway

	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	fp, err := SecurityFingerprinter(cfg)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}

	m := metrics.New(nil)

	store, res, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	fanout := relay.NewFanout(log, m)

	oauthCfg := identity.GoogleOAuthConfig(
		cfg.OAuthClientID,
		cfg.OAuthClientSecret,
		cfg.OAuthScope,
		oauth2api.UserinfoEmailScope,
		oauth2api.UserinfoProfileScope,
	)
	// Connected control surfaces show the verification code; the log keeps
	// it reachable when none is connected.
	prompter := identity.MultiPrompter{fanout, identity.LogPrompter{Log: log}}
	tokens := identity.NewCachedSource(oauthCfg, cfg.OAuthRefreshToken, prompter, log)
	validator := identity.NewGoogleValidator([]string{cfg.OAuthScope}, cfg.OAuthAudience)
	revoker := identity.NewGoogleRevoker(cfg.RevokeURL, cfg.RevokeTimeout)

	svc := session.NewService(sessCfg, tokens, validator, revoker, store,
		session.WithLogger(log),
		session.WithMetrics(m),
		session.WithFingerprinter(fp),
	)

	var docOpts []option.ClientOption
	if ep := strings.TrimSpace(cfg.DocsEndpoint); ep != "" {
		docOpts = append(docOpts, option.WithEndpoint(ep))
	}
	router := relay.NewRouter(log, svc, document.NewGoogleSource(docOpts...), m)

	gwCfg := relay.DefaultGatewayConfig()
	gwCfg.AllowedOrigins = cfg.WSAllowedOrigins
	gwCfg.OriginRequired = cfg.WSOriginRequired
	gwCfg.SendQueueSize = cfg.WSSendQueueSize
	ws := relay.NewWSGateway(log, router, fanout, gwCfg)

	sched := revalidate.New(svc, cfg.RevalidateInterval,
		revalidate.WithLogger(log),
		revalidate.WithMetrics(m),
	)

	return &App{
		cfg:        cfg,
		log:        log,
		metrics:    m,
		store:      store,
		resource:   res,
		session:    svc,
		sessionKey: sessCfg.Key,
		scheduler:  sched,
		fanout:     fanout,
		ws:         ws,
		handler:    newRouter(log, store, m, ws),
	}, nil
}

// Handler returns the HTTP surface (health, readiness, metrics, WebSocket).
func (a *App) Handler() http.Handler { return a.handler }

// Run restores the session, then serves HTTP and runs the scheduler and the
// change fan-out until ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	if err := a.session.Restore(ctx); err != nil {
		a.log.Error("session.restore.fail", "err", err)
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.cfg.Store, "revalidate_interval", a.cfg.RevalidateInterval)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", "context_done")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
			return err
		}
		return nil
	})

	g.Go(func() error { return a.scheduler.Run(gctx) })
	g.Go(func() error { return a.fanout.Run(gctx, a.store, a.sessionKey) })

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

func (a *App) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.resource.Close(ctx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore opens the session store selected by cfg.Store.
func newStore(ctx context.Context, cfg Config, log Logger) (session.Store, resource, error) {
	switch cfg.Store {
	case StorePostgres:
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}

		// Ownership model:
		// - app owns pool lifecycle
		// - PostgresStore never closes the pool
		st, err := session.NewPostgresStore(pool,
			session.WithSchema(cfg.PostgresSchema),
			session.WithStoreLogger(log),
		)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("session schema: %w", err)
		}

		log.Info("store.enabled.postgres", "schema", cfg.PostgresSchema)
		return st, poolResource{pool: pool}, nil

	case StoreFirestore:
		client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore client: %w", err)
		}
		st, err := session.NewFirestoreStore(client, cfg.FirestoreCollection, log)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}

		log.Info("store.enabled.firestore", "project", cfg.FirestoreProject, "collection", cfg.FirestoreCollection)
		return st, firestoreResource{client: client}, nil

	default:
		log.Info("store.enabled.inmemory")
		return session.NewInMemoryStore(), nopResource{}, nil
	}
}
