package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"itendance/internal/access"
	"itendance/internal/config"
	"itendance/internal/queue"
	"itendance/internal/report"
	"itendance/internal/roster"
	"itendance/internal/store"
)

// Worker consumes roster-submitted messages and refreshes the cached
// at-risk report so dashboards pick up new streaks without a rescan on
// every page load.
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
	cache := store.NewReportCache(redisClient.Client, cfg.ReportCacheTTL)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "itendance:rosters")
	}

	repo := roster.NewRepository(db.Client)
	policy := access.Policy{CheckAssignmentDates: cfg.CheckAssignmentDates}
	// The queue is nil here so refresh runs don't republish to themselves.
	svc := report.NewService(repo, nil, policy, cfg.RiskThreshold)

	// Report refreshes run program-wide, so they act as an admin.
	system := roster.User{ID: "system", Name: "system", Role: roster.RoleAdmin}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != "roster" {
			continue
		}

		var evt report.RosterEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			log.Printf("bad roster event payload: %v", err)
			continue
		}
		log.Printf("roster submitted for class %s (%s) on %s", evt.ClassID, evt.CRN, evt.Date.Format(time.DateOnly))

		asOf := roster.Day(time.Now().UTC())
		rep, err := svc.AtRiskReport(ctx, system, asOf)
		if err != nil {
			log.Printf("at-risk refresh failed: %v", err)
			continue
		}
		for _, w := range rep.Warnings {
			log.Printf("duplicate records for student %s in class %s on %s", w.StudentID, w.ClassID, w.Date.Format(time.DateOnly))
		}

		payload, err := json.Marshal(rep)
		if err != nil {
			log.Printf("marshal at-risk report failed: %v", err)
			continue
		}
		key := "reports:at-risk:" + asOf.Format(time.DateOnly)
		if err := cache.Set(ctx, key, payload); err != nil {
			log.Printf("cache refresh failed: %v", err)
			continue
		}
		log.Printf("at-risk cache refreshed: %d entries as of %s", len(rep.Entries), asOf.Format(time.DateOnly))
	}

	log.Println("worker stopped")
}
