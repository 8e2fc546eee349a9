package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exam-live-service/internal/app"
	"exam-live-service/internal/config"
	"exam-live-service/internal/domain"
	"exam-live-service/internal/infra/memory"
	pginfra "exam-live-service/internal/infra/postgres"
	redisinfra "exam-live-service/internal/infra/redis"
	transport "exam-live-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the exam session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		log.SetLevel(level)
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	var bundb *bun.DB
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bundb = bun.NewDB(sqldb, pgdialect.New())
		defer bundb.Close()
	}

	var loader memory.ExamLoader = memory.NewStaticExamLoader(sampleExams())
	if pool != nil {
		loader = pginfra.NewExamLoader(pool)
	}

	examTTL := config.TTLDuration(cfg.Exam.TTL, 10*time.Minute)
	var examRepo app.ExamRepository
	if redisClient != nil {
		examRepo = redisinfra.NewExamRepository(redisClient, loader, examTTL)
	} else {
		examRepo = memory.NewExamRepository(loader, examTTL)
	}

	var directory app.RoomDirectory
	if redisClient != nil {
		directory = redisinfra.NewRoomDirectory(redisClient, redisTTL)
	} else {
		directory = memory.NewRoomDirectory()
	}

	var history app.HistorySink
	if bundb != nil {
		history = pginfra.NewHistoryStore(bundb)
	} else {
		history = memory.NewHistorySink()
	}

	manager := app.NewManager(examRepo, directory, history, roomConfig(cfg), log)
	defer manager.Shutdown()

	roster := memory.StaticRoster(nil)
	wsHandler := transport.NewWSHandler(manager, log)
	moderator := transport.NewModeratorHandler(manager, roster, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	moderator.Mount(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting exam session server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("failed to start server")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func roomConfig(cfg config.Config) app.RoomConfig {
	rc := app.DefaultRoomConfig()
	if cfg.Room.SyncEveryTicks > 0 {
		rc.SyncEveryTicks = cfg.Room.SyncEveryTicks
	}
	if cfg.Room.BroadcastBatchSize > 0 {
		rc.BatchSize = cfg.Room.BroadcastBatchSize
	}
	rc.BatchYield = config.TTLDuration(cfg.Room.BroadcastYield, rc.BatchYield)
	rc.GracePeriod = config.TTLDuration(cfg.Room.GracePeriod, rc.GracePeriod)
	rc.MaterializeInterval = config.TTLDuration(cfg.Room.MaterializeInterval, rc.MaterializeInterval)
	if cfg.Room.AdmitOnEmptyAllow != nil {
		rc.AdmitOnEmptyAllowList = *cfg.Room.AdmitOnEmptyAllow
	}
	return rc
}

// sampleExams provides minimal exam content; swap the loader for the
// Postgres-backed one in production.
func sampleExams() map[string]domain.Exam {
	return map[string]domain.Exam{
		"exam-1": {
			ID:              "exam-1",
			Title:           "Arithmetic Basics",
			Subject:         "Math",
			DurationMinutes: 10,
			Questions: []domain.Question{
				{
					ID:             "q1",
					Type:           domain.QuestionSingle,
					Content:        "What is 2 + 2?",
					Options:        []string{"3", "4", "5"},
					CorrectAnswers: []string{"4"},
					Points:         1,
				},
				{
					ID:             "q2",
					Type:           domain.QuestionShort,
					Content:        "Half of seven, as a decimal?",
					CorrectAnswers: []string{"3.5"},
					Points:         2,
				},
			},
		},
	}
}
