package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/attendclient"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
)

// Worker consumes submission events and refreshes the marked-dates cache so
// the calendar endpoint serves fresh data without hitting the attendance API
// on every request.
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

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:submissions")
	}

	api := attendclient.New(cfg.AttendanceAPIURL)
	cache := store.NewMarkCache(redisClient.Client, cfg.MarkCacheTTL)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for submission events...")
	for msg := range messages {
		if msg.Type != queue.TypeSubmitted {
			continue
		}

		evt, err := session.ParseSubmittedEvent(msg.Body)
		if err != nil {
			log.Printf("bad submission event: %v", err)
			continue
		}
		log.Printf("refreshing marked dates for batch %s faculty %s", evt.BatchID, evt.FacultyID)

		dates, err := api.MarkedDates(ctx, evt.BatchID, evt.FacultyID, evt.CourseID)
		if err != nil {
			log.Printf("marked dates fetch failed for %s/%s: %v", evt.BatchID, evt.FacultyID, err)
			continue
		}

		if err := cache.Put(ctx, evt.BatchID, evt.CourseID, evt.FacultyID, dates); err != nil {
			log.Printf("cache write failed for %s/%s: %v", evt.BatchID, evt.FacultyID, err)
			continue
		}
		log.Printf("cached %d marked dates for %s/%s", len(dates), evt.BatchID, evt.FacultyID)
	}

	log.Println("worker stopped")
}
