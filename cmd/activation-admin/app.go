package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	auth "github.com/healthapp/go-auth"
	"github.com/healthapp/go-auth/activitymap"
	authkafka "github.com/healthapp/go-auth/adapters/kafka"
	authmongo "github.com/healthapp/go-auth/adapters/mongo"
	authredis "github.com/healthapp/go-auth/adapters/redis"
	"github.com/healthapp/go-auth/config"
	"github.com/healthapp/go-auth/repository"
	"github.com/healthapp/go-auth/repository/memory"
)

// app holds the wired services one CLI invocation needs.
type app struct {
	cfg     *config.Config
	zap     *zap.Logger
	logger  auth.Logger
	metrics *auth.Metrics

	accounts auth.AccountStore
	requests auth.ActivationRequestStore

	workflow *auth.ActivationWorkflow
	gate     *auth.Gate
	tokens   *auth.TokenServiceImpl
	hasher   *auth.BcryptHasher
	authn    *auth.Authenticator
	register *auth.RegisterAccountHandler
	process  *auth.ProcessActivationHandler

	closers []func() error
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	if strings.EqualFold(cfg.LogFormat, "json") {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build()
}

func newApp(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		zap:     zl,
		logger:  auth.NewZapLogger(zl),
		metrics: auth.NewMetrics(prometheus.NewRegistry()),
		hasher:  auth.NewBcryptHasher(cfg.BcryptCost),
	}

	if err := a.openStores(ctx); err != nil {
		a.Close()
		return nil, err
	}

	var notifier auth.Notifier
	var activity auth.ActivitySink
	if len(cfg.KafkaBrokers) > 0 {
		renderer, err := auth.NewNotificationRenderer(cfg.FrontendURL, cfg.SupportEmail)
		if err != nil {
			a.Close()
			return nil, err
		}
		writer := authkafka.NewWriter(cfg.KafkaBrokers)
		a.closers = append(a.closers, writer.Close)
		notifier = authkafka.NewNotifier(writer, cfg.KafkaNotificationTopic, renderer)
		activity = authkafka.NewActivitySink(writer, cfg.KafkaActivityTopic,
			activitymap.WithChannel("activation-admin"),
		)
	} else {
		notifier = auth.NotifierFunc(func(_ context.Context, n auth.Notification) error {
			a.logger.Info("notification %s for %s not sent, no kafka brokers configured", n.Template, n.Recipient)
			return nil
		})
	}

	revocations := auth.RevocationStore(auth.NewMemoryRevocationStore())
	if cfg.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, client.Close)
		revocations = authredis.NewRevocationStore(client)
	}

	a.workflow = auth.NewActivationWorkflow(a.accounts, a.requests,
		auth.WithWorkflowNotifier(notifier),
		auth.WithWorkflowLogger(a.logger),
		auth.WithWorkflowActivitySink(activity),
		auth.WithWorkflowMetrics(a.metrics),
	)
	a.gate = auth.NewGate(auth.WithGateAccounts(a.accounts), auth.WithGateLogger(a.logger))
	a.tokens = auth.NewTokenService(cfg, auth.WithTokenLogger(a.logger))
	a.authn = auth.NewAuthenticator(a.accounts, a.tokens,
		auth.WithPasswordHasher(a.hasher),
		auth.WithRevocationStore(revocations),
		auth.WithAuthenticatorLogger(a.logger),
		auth.WithAuthenticatorActivitySink(activity),
		auth.WithAuthenticatorMetrics(a.metrics),
	)
	a.register = auth.NewRegisterAccountHandler(a.accounts, a.workflow,
		auth.WithRegistrationNotifier(notifier),
		auth.WithRegistrationHasher(a.hasher),
		auth.WithRegistrationLogger(a.logger),
		auth.WithRegistrationActivitySink(activity),
		auth.WithRegistrationMetrics(a.metrics),
		auth.WithPhoneRegion(cfg.PhoneRegion),
	)
	a.process = auth.NewProcessActivationHandler(a.workflow, a.gate)

	return a, nil
}

func (a *app) openStores(ctx context.Context) error {
	switch a.cfg.StoreBackend {
	case config.BackendMemory:
		a.accounts = memory.NewAccounts()
		a.requests = memory.NewRequests()
	case config.BackendMongo:
		client, err := authmongo.Connect(ctx, a.cfg.MongoURI)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() error { return client.Disconnect(context.Background()) })
		db := client.Database(a.cfg.MongoDatabase)
		if err := authmongo.EnsureIndexes(ctx, db); err != nil {
			return err
		}
		a.accounts = authmongo.NewAccounts(db)
		a.requests = authmongo.NewRequests(db)
	default:
		db, err := repository.Open(a.cfg.DBDriver, a.cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		m := repository.NewManager(db)
		a.closers = append(a.closers, m.Close)
		if err := m.Migrate(ctx); err != nil {
			return err
		}
		a.accounts = m.Accounts()
		a.requests = m.ActivationRequests()
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close: %v", err)
		}
	}
	a.closers = nil
	_ = a.zap.Sync()
}

// adminContext validates token and returns a context carrying its claims
// once the gate accepts them as an admin.
func (a *app) adminContext(ctx context.Context, token string) (context.Context, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%s is required", adminTokenEnv)
	}
	claims, err := a.tokens.ValidateAccess(token)
	if err != nil {
		return nil, err
	}
	ctx = auth.WithClaimsContext(ctx, claims)
	if err := a.gate.AuthorizeContext(ctx, auth.PolicyAdmin); err != nil {
		return nil, err
	}
	return ctx, nil
}
