package main

import (
	"fmt"

	"github.com/suteetoe/coursecatalog/internal/ingest"
	"github.com/suteetoe/coursecatalog/internal/notify"
	"github.com/suteetoe/coursecatalog/internal/permission"
	"github.com/suteetoe/coursecatalog/internal/publisher"
	"github.com/suteetoe/coursecatalog/internal/search"
	"github.com/suteetoe/coursecatalog/internal/store"
	"github.com/suteetoe/coursecatalog/pkg/config"
	"github.com/suteetoe/coursecatalog/pkg/database"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const serviceName = "course-catalog"

// app holds the wiring shared by every command
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	store     *store.Store
	backend   search.Backend
	search    *search.Service
	perms     *permission.Checker
	notifier  *notify.Notifier
	publisher *publisher.Service
	pipeline  *ingest.Pipeline
}

func bootstrap() (*app, error) {
	// Load configuration from .env file and environment variables
	cfg, err := config.Load(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := logger.InitLogger(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	db, err := database.InitDB(&cfg.DB, log)
	if err != nil {
		return nil, err
	}

	backend, err := search.NewBackend(cfg.Search, log)
	if err != nil {
		database.Close(db)
		return nil, err
	}

	st := store.New(db, log)
	search.NewIndexer(st, backend, log)

	perms := permission.NewChecker(db, log)
	notifier := notify.New(db, notify.NewMailer(cfg.Mail, log), log)

	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		store:     st,
		backend:   backend,
		search:    search.NewService(backend, search.NewMaterializer(db), nil, cfg.Search.DefaultPartner, log),
		perms:     perms,
		notifier:  notifier,
		publisher: publisher.NewService(st, notifier, perms, log),
		pipeline:  ingest.NewPipeline(st, cfg.Ingest, nil, log),
	}, nil
}

func (a *app) close() {
	if err := database.Close(a.db); err != nil {
		a.log.Warn("Failed to close database", zap.Error(err))
	}
	_ = a.log.Sync()
}
