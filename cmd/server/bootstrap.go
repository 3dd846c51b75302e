package main

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eWorkbench/eWorkbench-sub000/internal/app"
	"github.com/eWorkbench/eWorkbench-sub000/internal/database"
	"github.com/eWorkbench/eWorkbench-sub000/pkg/logger"
)

// runtimeStack bundles the long-lived resources of the engine process.
type runtimeStack struct {
	DB     *gorm.DB
	Engine *app.Engine
}

// bootstrapRuntime opens the database, migrates and seeds it, wires the
// engine, and brings the project tree encoding up to date.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(log)
		}
	}()

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.Engine, err = app.NewEngine(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("wire engine: %w", err)
	}

	// Rebuild on start so resolutions see a consistent encoding even after
	// an unclean shutdown mid-rebuild.
	if err := stack.Engine.Tree.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("rebuild project tree: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown releases the stack's resources.
func (s *runtimeStack) Shutdown(log *zap.Logger) {
	if s == nil {
		return
	}
	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.Connection()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
