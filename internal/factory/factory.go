package factory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"healthcare-auth/internal/audit"
	"healthcare-auth/internal/client"
	"healthcare-auth/internal/config"
	"healthcare-auth/internal/hashing"
	"healthcare-auth/internal/notification"
	"healthcare-auth/internal/repository"
	"healthcare-auth/internal/repository/memory"
	"healthcare-auth/internal/repository/postgres"
	redisrepo "healthcare-auth/internal/repository/redis"
	"healthcare-auth/internal/service"
	"healthcare-auth/internal/session"
	"healthcare-auth/internal/tls"
	"healthcare-auth/internal/util"
)

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	postgresClient   *client.PostgresClient
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient

	// Stores
	accounts repository.AccountRepository
	tokens   repository.ResetTokenRepository
	limiter  service.AttemptLimiter

	hasher     *hashing.Hasher
	sessions   *session.Issuer
	dispatcher *notification.Dispatcher
	recorder   audit.Recorder

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
}

// NewFactory builds every dependency selected by cfg. Backends that fail to
// come up are fatal in production and fall back to in-process ones elsewhere.
func NewFactory(cfg *config.Config) (*Factory, error) {
	f := &Factory{config: cfg}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewTLSManager(&tls.TLSConfig{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error
	for _, step := range []func(context.Context) error{
		f.initializeStore,
		f.initializeLimiter,
		f.initializeNotifier,
		f.initializeAudit,
	} {
		if err := step(ctx); err != nil {
			initErrors = append(initErrors, err)
		}
	}
	if len(initErrors) > 0 {
		if cfg.IsProduction() {
			f.Close()
			return nil, fmt.Errorf("critical service initialization failed: %w", errors.Join(initErrors...))
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	f.hasher = hashing.NewHasher(cfg.Auth.BcryptCost)
	f.sessions = session.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.SessionTTL)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("store", cfg.Database.Driver),
		util.String("limiter", cfg.Auth.LimiterDriver),
		util.String("notifier", cfg.Notification.Driver),
		util.String("audit", cfg.Audit.Driver),
	)
	return f, nil
}

func (f *Factory) initializeStore(ctx context.Context) error {
	if f.config.Database.Driver == "postgres" {
		pg, err := client.NewPostgresClient(f.config)
		if err == nil && f.config.Database.AutoMigrate {
			if err = postgres.EnsureSchema(ctx, pg.Pool); err != nil {
				pg.Close()
			}
		}
		if err == nil {
			f.postgresClient = pg
			f.accounts = postgres.NewAccountRepository(pg.Pool)
			f.tokens = postgres.NewResetTokenRepository(pg.Pool)
			return nil
		}
		f.useMemoryStore()
		return fmt.Errorf("postgres: %w", err)
	}
	f.useMemoryStore()
	return nil
}

func (f *Factory) useMemoryStore() {
	util.Warn("Using in-memory account store; data is lost on restart")
	f.accounts = memory.NewAccountRepository()
	f.tokens = memory.NewResetTokenRepository()
}

func (f *Factory) initializeLimiter(context.Context) error {
	auth := f.config.Auth
	if auth.LimiterDriver == "redis" {
		rc, err := client.NewRedisClient(f.config)
		if err == nil {
			f.redisClient = rc
			f.limiter = redisrepo.NewOTPAttemptCache(rc, auth.OTPMaxAttempts, auth.OTPAttemptWindow)
			return nil
		}
		f.limiter = memory.NewAttemptLimiter(auth.OTPMaxAttempts, auth.OTPAttemptWindow)
		return fmt.Errorf("redis: %w", err)
	}
	f.limiter = memory.NewAttemptLimiter(auth.OTPMaxAttempts, auth.OTPAttemptWindow)
	return nil
}

func (f *Factory) initializeNotifier(ctx context.Context) error {
	var (
		sender  notification.Sender
		initErr error
	)
	switch f.config.Notification.Driver {
	case "kafka":
		producer, err := client.NewKafkaProducer(f.config)
		if err == nil {
			if terr := producer.EnsureTopic(ctx, 3, 1); terr != nil {
				util.Warn("Could not ensure notification topic", util.ErrorField(terr))
			}
			f.kafkaProducer = producer
			sender = notification.NewKafkaSender(producer)
		} else {
			initErr = fmt.Errorf("kafka: %w", err)
		}
	case "smtp":
		sender = notification.NewSMTPSender(f.config.SMTP)
	}
	if sender == nil {
		sender = notification.NewLogSender(util.Get().Named("mail"))
	}

	n := f.config.Notification
	f.dispatcher = notification.NewDispatcher(sender, n.QueueSize, n.Workers, n.SendTimeout, util.Get().Named("dispatcher"))
	return initErr
}

func (f *Factory) initializeAudit(ctx context.Context) error {
	if f.config.Audit.Driver == "clickhouse" {
		ch, err := client.NewClickHouseClient(f.config)
		if err == nil {
			if err = audit.EnsureTable(ctx, ch); err != nil {
				ch.Close()
			}
		}
		if err == nil {
			f.clickhouseClient = ch
			a := f.config.Audit
			f.recorder = audit.NewClickHouseRecorder(ch, a.BatchSize, a.FlushInterval, util.Get().Named("audit"))
			return nil
		}
		f.recorder = audit.NewLogRecorder(util.Get().Named("audit"))
		return fmt.Errorf("clickhouse: %w", err)
	}
	f.recorder = audit.NewLogRecorder(util.Get().Named("audit"))
	return nil
}

// ServiceFactory wires the services over whichever backends were selected
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.accounts,
			f.tokens,
			f.hasher,
			f.sessions,
			f.dispatcher,
			f.limiter,
			f.recorder,
			f.config.Auth,
			util.Get(),
		)
	}
	return f.serviceFactory
}

// HealthCheck pings every backend in parallel and reports failures by name
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	checks := map[string]healthChecker{"accounts": f.accounts}
	if f.redisClient != nil {
		checks["redis"] = f.redisClient
	}
	if f.clickhouseClient != nil {
		checks["clickhouse"] = f.clickhouseClient
	}
	if f.kafkaProducer != nil {
		checks["kafka"] = f.kafkaProducer
	}

	var mu sync.Mutex
	healthErrors := make(map[string]error)
	g, gctx := errgroup.WithContext(ctx)
	for name, hc := range checks {
		g.Go(func() error {
			if err := hc.HealthCheck(gctx); err != nil {
				mu.Lock()
				healthErrors[name] = err
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return healthErrors
}

// Ready fails when the account store or limiter backend is unreachable.
// Kafka and ClickHouse only degrade delivery, so they do not count.
func (f *Factory) Ready(ctx context.Context) error {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	delete(healthErrors, "clickhouse")

	var errs []error
	for name, err := range healthErrors {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	return errors.Join(errs...)
}

// Close drains the notification queue and audit buffer, then closes clients
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		util.Info("Shutting down factory...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if f.dispatcher != nil {
			if err := f.dispatcher.Close(ctx); err != nil {
				util.Error("Notification queue did not drain", util.ErrorField(err))
			}
		}
		if f.recorder != nil {
			if err := f.recorder.Close(ctx); err != nil {
				util.Error("Audit buffer did not flush", util.ErrorField(err))
			}
		}

		if f.clickhouseClient != nil {
			_ = f.clickhouseClient.Close()
		}
		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}
		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}
		if f.postgresClient != nil {
			_ = f.postgresClient.Close()
		}

		util.Info("Factory shutdown completed")
		util.Sync()
	})
	return nil
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}
