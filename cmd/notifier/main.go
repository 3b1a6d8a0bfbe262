package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"healthcare-auth/internal/client"
	"healthcare-auth/internal/config"
	"healthcare-auth/internal/notification"
	"healthcare-auth/internal/util"
)

// notifier consumes the email topic and delivers each message over SMTP.
// Scale out by running more instances in the same consumer group.
func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	sender := notification.NewSMTPSender(cfg.SMTP)
	logger := util.Get().Named("notifier")

	g, gctx := errgroup.WithContext(ctx)
	// one group member per worker; partitions are spread across them
	for i := 0; i < cfg.Notification.Workers; i++ {
		consumer := client.NewKafkaConsumer(cfg, cfg.Kafka.NotificationTopic, cfg.Kafka.ConsumerGroup)
		defer consumer.Close()
		relay := notification.NewRelay(consumer, sender, 3, 2*time.Second, cfg.Notification.SendTimeout, logger)
		g.Go(func() error {
			return relay.Run(gctx)
		})
	}

	util.Info("Notifier started",
		util.String("topic", cfg.Kafka.NotificationTopic),
		util.String("group", cfg.Kafka.ConsumerGroup),
		util.Int("workers", cfg.Notification.Workers),
	)

	if err := g.Wait(); err != nil {
		util.Error("Notifier stopped", util.ErrorField(err))
		return
	}
	util.Info("Notifier shutdown completed")
}
