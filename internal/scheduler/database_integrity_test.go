package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/bucketeer/internal/events"
	testingpkg "github.com/aristath/bucketeer/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type brokenDB struct{ name string }

func (b brokenDB) Name() string { return b.name }

func (b brokenDB) HealthCheck(ctx context.Context) error {
	return errors.New("integrity check failed for " + b.name + ": *** in database main ***")
}

func TestDatabaseIntegrityJob_Healthy(t *testing.T) {
	ledger, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()

	job := NewDatabaseIntegrityJob([]IntegrityChecker{ledger}, nil, zerolog.New(nil).Level(zerolog.Disabled))
	assert.Equal(t, "database_integrity", job.Name())
	assert.NoError(t, job.Run())
}

func TestDatabaseIntegrityJob_ReportsCorruption(t *testing.T) {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	ledger, cleanup := testingpkg.NewTestDB(t, "ledger")
	defer cleanup()

	manager := events.NewManager(events.NewBus(log), log)
	var reported []string
	manager.Bus().Subscribe(events.ErrorOccurred, func(e *events.Event) {
		ctx, _ := e.Data["context"].(map[string]interface{})
		reported = append(reported, ctx["database"].(string))
	})

	job := NewDatabaseIntegrityJob([]IntegrityChecker{brokenDB{"config"}, ledger}, manager, log)
	err := job.Run()
	assert.ErrorContains(t, err, "config")
	assert.Equal(t, []string{"config"}, reported)
}
