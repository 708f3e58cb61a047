package store

import (
	"context"

	"github.com/pusherbot/pusherbot/internal/store/model"
	"gorm.io/gorm"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Ledger() Ledger
	WorkerStats() WorkerStats
	Settings() Settings
	PermanentJob() PermanentJob
	InitialMigration(ctx context.Context) error
	Seed(ctx context.Context) error
	Statistics(ctx context.Context) (model.BoardStats, error)
	// Reset wipes the active jobs, the ledger and the worker stats. The
	// sequence counter is kept so job numbers are never handed out twice.
	Reset(ctx context.Context) error
	Close() error
}

type DataStore struct {
	db           *gorm.DB
	job          Job
	ledger       Ledger
	workerStats  WorkerStats
	settings     Settings
	permanentJob PermanentJob
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:           db,
		job:          NewJobStore(db),
		ledger:       NewLedgerStore(db),
		workerStats:  NewWorkerStatsStore(db),
		settings:     NewSettingsStore(db),
		permanentJob: NewPermanentJobStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Ledger() Ledger {
	return s.ledger
}

func (s *DataStore) WorkerStats() WorkerStats {
	return s.workerStats
}

func (s *DataStore) Settings() Settings {
	return s.settings
}

func (s *DataStore) PermanentJob() PermanentJob {
	return s.permanentJob
}

func (s *DataStore) InitialMigration(ctx context.Context) error {
	migrations := []func(context.Context) error{
		s.Job().InitialMigration,
		s.Ledger().InitialMigration,
		s.WorkerStats().InitialMigration,
		s.Settings().InitialMigration,
		s.PermanentJob().InitialMigration,
	}
	for _, migrate := range migrations {
		if err := migrate(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (s *DataStore) Seed(ctx context.Context) error {
	return s.Settings().Seed(ctx)
}

func (s *DataStore) Statistics(ctx context.Context) (model.BoardStats, error) {
	return s.Job().CountByStatus(ctx)
}

func (s *DataStore) Reset(ctx context.Context) error {
	ctx, err := s.NewTransactionContext(ctx)
	if err != nil {
		return err
	}

	for _, wipe := range []func(context.Context) error{
		s.Job().DeleteAll,
		s.Ledger().DeleteAll,
		s.WorkerStats().DeleteAll,
	} {
		if err := wipe(ctx); err != nil {
			_, _ = Rollback(ctx)
			return err
		}
	}

	_, err = Commit(ctx)
	return err
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
