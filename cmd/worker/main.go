package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"qattend/internal/activity"
	"qattend/internal/config"
	"qattend/internal/queue"
	"qattend/internal/store"
	"qattend/internal/summary"
)

// Worker consumes accepted check-in events and appends them to the activity
// log, keeping the audit write off the request path.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qattend:checkins")
	}

	activityRepo := activity.NewRepository(db.Client)

	// Check summary service health on startup; it is only consulted by the
	// API's report endpoint, but a dead service is worth knowing about.
	if !cfg.SummarySkip {
		if err := summary.New(cfg.SummaryServiceURL, false).Health(ctx); err != nil {
			log.Printf("WARNING: summary service not available: %v", err)
		} else {
			log.Println("summary service connected")
		}
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "checkin" {
			continue
		}

		var evt queue.CheckinEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad checkin event: %v", err)
			continue
		}

		details := fmt.Sprintf("%s (%s) scope=%s %s %s",
			evt.RollNumber, evt.StudentName, evt.Scope, evt.Day, evt.ClockTime)
		if err := activityRepo.Append(ctx, "checkin_accepted", details); err != nil {
			log.Printf("activity append failed for %s: %v", evt.RollNumber, err)
			continue
		}
		log.Printf("logged check-in for %s", evt.RollNumber)
	}

	log.Println("worker stopped")
}
