package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/clients/cache"
	"max.ks1230/grants-portal/internal/clients/kafka"
	"max.ks1230/grants-portal/internal/clients/tg"
	"max.ks1230/grants-portal/internal/config"
	"max.ks1230/grants-portal/internal/logger"
)

func main() {
	defer logger.Sync()
	logger.Info("Events init - start")

	conf, err := config.New()
	if err != nil {
		logger.Fatal("failed to init config", zap.Error(err))
	}

	var opts []kafka.ConsumerOption
	if conf.Memcached().Enabled() {
		memcache, err := cache.NewMemcache(conf.Memcached())
		if err != nil {
			logger.Fatal("failed to init memcache", zap.Error(err))
		}
		opts = append(opts, kafka.WithInvalidator(memcache))
	}
	if conf.Telegram().Enabled() {
		tgClient, err := tg.New(conf.Telegram())
		if err != nil {
			logger.Fatal("failed to init telegram client", zap.Error(err))
		}
		opts = append(opts, kafka.WithNotifier(tgClient))
	}

	consumer, err := kafka.NewConsumer(conf.Kafka(), opts...)
	if err != nil {
		logger.Fatal("failed to init kafka consumer", zap.Error(err))
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("failed to close consumer", zap.Error(err))
		}
	}()

	logger.Info("Events init - end")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err = consumer.StartConsuming(ctx); err != nil {
		logger.Error("failed to consume", zap.Error(err))
	}
}
