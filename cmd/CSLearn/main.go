package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/api/admin"
	"github.com/ZJUSCT/CSLearn/internal/api/user"
	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/config"
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/events"
	"github.com/ZJUSCT/CSLearn/internal/grader"
	"github.com/ZJUSCT/CSLearn/internal/judge"
	"github.com/ZJUSCT/CSLearn/internal/progress"
	"github.com/ZJUSCT/CSLearn/internal/ranking"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/ZJUSCT/CSLearn/internal/updatequeue"
	"github.com/joho/godotenv"

	"go.uber.org/zap"
)

var Version = "dev-build"

func newLogger(cfg config.Logger) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Level == "debug" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.File != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}
	return zcfg.Build()
}

func main() {

	fmt.Fprintf(os.Stderr, "ZJUSCT CSLearn %s - Course Progress and Ranking Service\n\n", Version)

	// config
	var configPath string
	flag.StringVar(&configPath, "c", "configs/config.yaml", "path to config file")
	flag.Parse()

	// A missing .env is fine, the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// logger
	logger, err := newLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	loc, err := cfg.Location()
	if err != nil {
		zap.S().Fatalf("invalid timezone: %v", err)
	}
	windows, err := progress.ParseWindows(cfg.Ranking.Windows)
	if err != nil {
		zap.S().Fatalf("invalid ranking windows: %v", err)
	}

	// database
	db, err := database.Init(cfg.Storage.Database)
	if err != nil {
		zap.S().Fatalf("failed to initialize database: %v", err)
	}
	zap.S().Info("database initialized successfully")

	// courses and exercises
	cat := catalog.New(cfg.CoursesRoot)
	if err := cat.Reload(); err != nil {
		zap.S().Fatalf("failed to load courses: %v", err)
	}
	courses, exercises := cat.Counts()
	zap.S().Infof("loaded %d courses and %d exercises", courses, exercises)

	// events
	var publisher events.Publisher = events.Noop{}
	if cfg.Events.Enabled {
		publisher = events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.JudgedTopic, cfg.Events.LeaderboardTopic)
		zap.S().Infof("publishing events to kafka brokers %v", cfg.Events.Brokers)
	}
	defer publisher.Close()

	// ranking cache
	var cache ranking.Cache = ranking.NoopCache{}
	if cfg.Ranking.Cache.Enabled {
		rc, err := ranking.NewRedisCache(cfg.Ranking.Cache.Addr, cfg.Ranking.Cache.Password, cfg.Ranking.Cache.DB, cfg.Ranking.Cache.TTL)
		if err != nil {
			zap.S().Errorf("ranking cache disabled: %v", err)
		} else {
			cache = rc
		}
	}
	defer cache.Close()

	engine := submission.NewEngine(db, cat, submission.Options{
		Windows:  windows,
		Location: loc,
		Events:   publisher,
	})
	ranker := ranking.NewRanker(db, cache, loc)

	// grader
	scheduler := grader.NewScheduler(engine, judge.NewClient(cfg.Judge.URL, cfg.Judge.Timeout), grader.Options{
		Workers:   cfg.Grader.Workers,
		QueueSize: cfg.Grader.QueueSize,
		Retries:   cfg.Judge.Retries,
	})

	// recovery of the last run
	if err := grader.RecoverInterrupted(db); err != nil {
		zap.S().Errorf("failed to recover interrupted submissions: %v", err)
	}
	if err := grader.RequeuePending(db, scheduler); err != nil {
		zap.S().Fatalf("failed to requeue pending submissions: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	graderDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(graderDone)
	}()
	go updatequeue.NewSweeper(db, cfg.Sweep.Interval, cfg.Sweep.BatchSize).Run(ctx)

	// API servers
	servers := []*http.Server{{Addr: cfg.Listen, Handler: user.NewUserRouter(cfg, engine, scheduler, ranker)}}
	if cfg.Admin.Enabled {
		servers = append(servers, &http.Server{Addr: cfg.Admin.Listen, Handler: admin.NewAdminRouter(cfg, engine, scheduler)})
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			zap.S().Infof("starting server at %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.S().Fatalf("failed to start server at %s: %v", srv.Addr, err)
			}
		}(srv)
	}

	// graceful shutdown
	<-ctx.Done()
	zap.S().Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.S().Errorf("server at %s did not shut down cleanly: %v", srv.Addr, err)
		}
	}
	<-graderDone
}
