package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/bucketeer/internal/events"
	"github.com/rs/zerolog"
)

// IntegrityChecker is a database that can verify itself
type IntegrityChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// DatabaseIntegrityJob runs PRAGMA integrity_check on every database.
// Corruption cannot be repaired automatically; it is reported.
type DatabaseIntegrityJob struct {
	databases []IntegrityChecker
	events    *events.Manager
	log       zerolog.Logger
}

// NewDatabaseIntegrityJob creates an integrity job. eventManager may be nil.
func NewDatabaseIntegrityJob(databases []IntegrityChecker, eventManager *events.Manager, log zerolog.Logger) *DatabaseIntegrityJob {
	return &DatabaseIntegrityJob{
		databases: databases,
		events:    eventManager,
		log:       log.With().Str("job", "database_integrity").Logger(),
	}
}

// Name returns the job name
func (j *DatabaseIntegrityJob) Name() string {
	return "database_integrity"
}

// Run checks each database and fails if any is corrupt
func (j *DatabaseIntegrityJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var corrupt []string
	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database integrity check failed")
			corrupt = append(corrupt, db.Name())
			if j.events != nil {
				j.events.EmitError("scheduler", err, map[string]interface{}{"database": db.Name()})
			}
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("Database integrity OK")
	}

	if len(corrupt) > 0 {
		return fmt.Errorf("integrity check failed for %v", corrupt)
	}
	j.log.Info().Int("databases", len(j.databases)).Msg("Database integrity check passed")
	return nil
}
