package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/bucketeer/internal/modules/orchestrator"
	"github.com/rs/zerolog"
)

// CycleRunner runs one decision cycle
type CycleRunner interface {
	RunCycle(ctx context.Context) (*orchestrator.CycleResult, error)
}

// CycleJob triggers the decision cycle
type CycleJob struct {
	runner  CycleRunner
	timeout time.Duration
	log     zerolog.Logger
}

// NewCycleJob creates a cycle job; timeout bounds one cycle
func NewCycleJob(runner CycleRunner, timeout time.Duration, log zerolog.Logger) *CycleJob {
	return &CycleJob{runner: runner, timeout: timeout, log: log.With().Str("job", "decision_cycle").Logger()}
}

// Name returns the job name
func (j *CycleJob) Name() string { return "decision_cycle" }

// Run executes one cycle. An overlapping trigger is not an error.
func (j *CycleJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	_, err := j.runner.RunCycle(ctx)
	if errors.Is(err, orchestrator.ErrCycleInProgress) {
		j.log.Debug().Msg("Previous cycle still running")
		return nil
	}
	return err
}

// OrderRecoverer re-checks orders left working by an earlier run
type OrderRecoverer interface {
	Recover(ctx context.Context) (int, error)
}

// RecoveryJob resolves non-terminal orders
type RecoveryJob struct {
	recoverer OrderRecoverer
	log       zerolog.Logger
}

// NewRecoveryJob creates a recovery job
func NewRecoveryJob(recoverer OrderRecoverer, log zerolog.Logger) *RecoveryJob {
	return &RecoveryJob{recoverer: recoverer, log: log.With().Str("job", "order_recovery").Logger()}
}

// Name returns the job name
func (j *RecoveryJob) Name() string { return "order_recovery" }

// Run checks every non-terminal order once
func (j *RecoveryJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	n, err := j.recoverer.Recover(ctx)
	if err != nil {
		return fmt.Errorf("order recovery failed: %w", err)
	}
	if n > 0 {
		j.log.Info().Int("resolved", n).Msg("Recovered orders")
	}
	return nil
}

// BackupRunner uploads a database backup
type BackupRunner interface {
	Run(ctx context.Context) error
}

// BackupJob ships database backups
type BackupJob struct {
	backups BackupRunner
}

// NewBackupJob creates a backup job
func NewBackupJob(backups BackupRunner) *BackupJob {
	return &BackupJob{backups: backups}
}

// Name returns the job name
func (j *BackupJob) Name() string { return "database_backup" }

// Run creates, uploads and rotates backups
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()
	return j.backups.Run(ctx)
}

// Checkpointer forces a WAL checkpoint
type Checkpointer interface {
	Name() string
	WALCheckpoint(mode string) error
}

// WALCheckpointJob truncates the write-ahead logs of every database
type WALCheckpointJob struct {
	databases []Checkpointer
	log       zerolog.Logger
}

// NewWALCheckpointJob creates a checkpoint job
func NewWALCheckpointJob(databases []Checkpointer, log zerolog.Logger) *WALCheckpointJob {
	return &WALCheckpointJob{databases: databases, log: log.With().Str("job", "wal_checkpoint").Logger()}
}

// Name returns the job name
func (j *WALCheckpointJob) Name() string { return "wal_checkpoint" }

// Run checkpoints each database, continuing past failures
func (j *WALCheckpointJob) Run() error {
	var failed []string
	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			failed = append(failed, db.Name())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("wal checkpoint failed for %v", failed)
	}
	return nil
}
