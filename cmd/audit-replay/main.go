// Command audit-replay consumes the check-in audit topic and appends every
// entry to the checkin_logs table. Appends are idempotent on entry id, so
// the consumer group can be reset and replayed safely.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ms-checkin/internal/audit"
	"ms-checkin/internal/config"
	"ms-checkin/internal/database"
	"ms-checkin/internal/kafka"
	"ms-checkin/internal/logger"
	"ms-checkin/internal/models"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()
	cfg := config.Load()

	var groupID string
	flagSet := pflag.NewFlagSet("audit-replay", pflag.ExitOnError)
	flagSet.StringVar(&groupID, "group", "checkin-audit-replay", "kafka consumer group")
	flagSet.StringVar(&cfg.Kafka.AuditTopic, "topic", cfg.Kafka.AuditTopic, "audit topic")
	_ = flagSet.Parse(args)

	logger := logger.NewLogger("checkin-audit-replay")
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("DATABASE", err.Error())
		return 1
	}
	defer bunDB.Close()
	sink := &audit.DBSink{Bun: bunDB}

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic, groupID, logger)
	defer consumer.Close()

	return replay(ctx, consumer, sink, logger)
}

// replay appends every consumed entry to sink and returns the exit code.
func replay(ctx context.Context, consumer *kafka.Consumer, sink audit.Sink, l *logger.Logger) int {
	var replayed int
	err := consumer.Start(ctx, func(ctx context.Context, entry models.CheckInLogEntry) error {
		if err := sink.Append(ctx, entry); err != nil {
			return err
		}
		replayed++
		return nil
	})
	if err != nil {
		l.Error("KAFKA", fmt.Sprintf("Replay stopped after %d entries: %v", replayed, err))
		return 1
	}
	l.Info("KAFKA", fmt.Sprintf("Replay finished, %d entries appended", replayed))
	return 0
}
