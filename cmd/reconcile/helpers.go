package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/parishbooks/reconcile/internal/config"
	"github.com/parishbooks/reconcile/internal/storage"
	"github.com/parishbooks/reconcile/internal/workflow"
)

// initStorage initializes the storage layer with proper path expansion
// and auto-migration.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := config.DatabasePath(viper.GetViper())

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine initializes storage plus a workflow engine configured from viper.
func initEngine(ctx context.Context) (*workflow.Engine, *storage.SQLiteStorage, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.WorkflowConfig(viper.GetViper())
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	return workflow.NewWithConfig(store, cfg), store, nil
}
