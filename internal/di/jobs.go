package di

import (
	"fmt"
	"time"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/reliability"
	"github.com/aristath/bucketeer/internal/scheduler"
	"github.com/rs/zerolog"
)

const (
	cycleJobTimeout       = 10 * time.Minute
	walCheckpointSchedule = "0 0 * * * *"
	integritySchedule     = "0 0 4 * * *"
	maintenanceSchedule   = "0 0 3 * * SUN"
)

// RegisterJobs creates the scheduler and registers every background job.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) (*scheduler.Scheduler, error) {
	if container == nil || container.Orchestrator == nil {
		return nil, fmt.Errorf("services must be initialized before jobs")
	}

	sched := scheduler.New(log)

	if err := sched.AddJob(cfg.CycleSchedule, scheduler.NewCycleJob(container.Orchestrator, cycleJobTimeout, log)); err != nil {
		return nil, fmt.Errorf("failed to register decision cycle job: %w", err)
	}
	if err := sched.AddJob(cfg.RecoverySchedule, scheduler.NewRecoveryJob(container.Executor, log)); err != nil {
		return nil, fmt.Errorf("failed to register order recovery job: %w", err)
	}

	databases := container.Databases()
	checkpointers := make([]scheduler.Checkpointer, 0, len(databases))
	checkers := make([]scheduler.IntegrityChecker, 0, len(databases))
	for _, db := range databases {
		checkpointers = append(checkpointers, db)
		checkers = append(checkers, db)
	}
	if err := sched.AddJob(walCheckpointSchedule, scheduler.NewWALCheckpointJob(checkpointers, log)); err != nil {
		return nil, fmt.Errorf("failed to register WAL checkpoint job: %w", err)
	}
	if err := sched.AddJob(integritySchedule, scheduler.NewDatabaseIntegrityJob(checkers, container.EventManager, log)); err != nil {
		return nil, fmt.Errorf("failed to register integrity job: %w", err)
	}
	maintenance := reliability.NewMaintenanceJob(databases, cfg.DataDir, container.EventManager, log)
	if err := sched.AddJob(maintenanceSchedule, maintenance); err != nil {
		return nil, fmt.Errorf("failed to register maintenance job: %w", err)
	}

	if container.BackupService != nil {
		if err := sched.AddJob(cfg.Backup.Schedule, scheduler.NewBackupJob(container.BackupService)); err != nil {
			return nil, fmt.Errorf("failed to register backup job: %w", err)
		}
	}

	container.Scheduler = sched
	return sched, nil
}
