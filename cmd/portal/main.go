package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/clients/cache"
	"max.ks1230/grants-portal/internal/clients/documents"
	"max.ks1230/grants-portal/internal/clients/kafka"
	"max.ks1230/grants-portal/internal/clients/recaptcha"
	"max.ks1230/grants-portal/internal/config"
	"max.ks1230/grants-portal/internal/entity/submission"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/migrations"
	"max.ks1230/grants-portal/internal/model/accounting"
	"max.ks1230/grants-portal/internal/model/identity"
	"max.ks1230/grants-portal/internal/model/locker"
	"max.ks1230/grants-portal/internal/model/reports"
	"max.ks1230/grants-portal/internal/model/storage"
	"max.ks1230/grants-portal/internal/model/submissions"
	"max.ks1230/grants-portal/internal/model/validator"
	"max.ks1230/grants-portal/internal/server"
	"max.ks1230/grants-portal/internal/tracing"
)

type grantLocker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

type documentStore interface {
	Put(ctx context.Context, email string, doc *submission.Document) (string, error)
	PutPicture(ctx context.Context, email string, doc *submission.Document) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

type captchaVerifier interface {
	Verify(ctx context.Context, token string) error
	SiteKey() string
}

func main() {
	defer logger.Sync()
	logger.Info("Portal init - start")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conf, err := config.New()
	if err != nil {
		logger.Fatal("failed to init config", zap.Error(err))
	}

	closer, err := tracing.Init(conf.App().Name(), conf.Tracing())
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}
	defer closer.Close()

	loc, err := conf.App().Location()
	if err != nil {
		logger.Fatal("failed to load time zone", zap.Error(err))
	}

	db, err := storage.NewPostgresStorage(conf.Postgres())
	if err != nil {
		logger.Fatal("failed to init postgres", zap.Error(err))
	}
	defer db.Close()

	if err = migrations.Up(db.DB()); err != nil {
		logger.Fatal("failed to migrate", zap.Error(err))
	}

	engine := accounting.NewEngine(db, accounting.NewSystemClock(loc), conf.Grants().Defaults())

	var opts []submissions.Option
	if conf.Memcached().Enabled() {
		mc, err := cache.NewMemcache(conf.Memcached())
		if err != nil {
			logger.Fatal("failed to init memcache", zap.Error(err))
		}
		opts = append(opts, submissions.WithCache(mc))
	}
	if conf.Kafka().Enabled() {
		producer, err := kafka.NewProducer(conf.Kafka())
		if err != nil {
			logger.Fatal("failed to init kafka producer", zap.Error(err))
		}
		defer producer.Close()
		opts = append(opts, submissions.WithPublisher(producer))
	}

	var grantLock grantLocker
	switch conf.App().LockBackend() {
	case "redis":
		rl, err := locker.NewRedisLocker(conf.Redis(), conf.Grants().LockWait())
		if err != nil {
			logger.Fatal("failed to init redis locker", zap.Error(err))
		}
		defer rl.Close()
		grantLock = rl
	default:
		grantLock = locker.NewKeyedLocker(conf.Grants().LockWait())
	}

	var docs documentStore
	switch conf.Documents().Backend() {
	case "gcs":
		gcs, err := documents.NewGCSStore(ctx, conf.Documents())
		if err != nil {
			logger.Fatal("failed to init document store", zap.Error(err))
		}
		defer gcs.Close()
		docs = gcs
	default:
		logger.Warn("receipts are kept in memory")
		docs = documents.NewInMemStore()
	}

	subs := submissions.NewService(engine, db, validator.New(), docs, grantLock, conf.Grants(), opts...)

	ident, err := identity.NewService(db, engine, conf.Auth(), identity.WithPictureStore(docs))
	if err != nil {
		logger.Fatal("failed to init identity", zap.Error(err))
	}

	var captcha captchaVerifier
	if conf.Recaptcha().Enabled() {
		captcha = recaptcha.New(conf.Recaptcha())
	}

	if conf.Grants().Sweep() {
		sweeper := accounting.NewSweeper(engine, loc)
		if err = sweeper.Start(ctx); err != nil {
			logger.Fatal("failed to start sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	logger.Info("Portal init - end")

	srv := server.New(subs, ident, reports.NewGenerator(db, engine), captcha, conf.HTTP())
	if err = srv.ListenAndServe(ctx); err != nil {
		logger.Error("http server stopped", zap.Error(err))
	}
}
