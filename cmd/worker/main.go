package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"

	"greenledger/api/internal/config"
	"greenledger/api/internal/evidence"
	"greenledger/api/internal/jobs"
	"greenledger/api/internal/questionnaire"
	"greenledger/api/internal/report"
	"greenledger/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	dataStore := store.NewPostgresStore(db)

	orphans, err := questionnaire.ParseOrphanPolicy(cfg.OrphanPolicy)
	if err != nil {
		log.Printf("worker: %v, falling back to promote", err)
		orphans = questionnaire.OrphanPromote
	}
	builder := report.NewBuilder(dataStore, orphans)

	storage, err := evidence.NewStorage(ctx, evidence.Config{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		// The worker cannot store artifacts without the object store.
		log.Fatalf("object storage connection failed: %v", err)
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatalf("invalid REDIS_URL: %v", err)
	}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			jobs.QueueReports: 1,
		},
	})

	worker := jobs.NewWorker(dataStore, builder, storage)
	log.Printf("GreenLedger report worker started")
	if err := srv.Run(worker.Mux()); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}
