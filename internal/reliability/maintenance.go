package reliability

import (
	"fmt"
	"time"

	"github.com/aristath/bucketeer/internal/database"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// minFreeDiskMB is the free space below which maintenance reports a failure
const minFreeDiskMB = 500

// MaintenanceJob optimizes the databases and watches free disk space.
// The ledger is never vacuumed; it is an append-mostly audit trail.
type MaintenanceJob struct {
	databases []*database.DB
	dataDir   string
	minFreeMB float64
	events    *events.Manager
	diskUsage func(path string) (*disk.UsageStat, error)
	log       zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job. eventManager may be nil.
func NewMaintenanceJob(databases []*database.DB, dataDir string, eventManager *events.Manager, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		minFreeMB: minFreeDiskMB,
		events:    eventManager,
		diskUsage: disk.Usage,
		log:       log.With().Str("job", "database_maintenance").Logger(),
	}
}

// Name returns the job name
func (j *MaintenanceJob) Name() string {
	return "database_maintenance"
}

// Run optimizes every database, vacuums the non-ledger ones and checks disk space
func (j *MaintenanceJob) Run() error {
	start := time.Now()

	for _, db := range j.databases {
		if _, err := db.Conn().Exec("PRAGMA optimize"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("PRAGMA optimize failed")
		}
		if db.Profile() == database.ProfileLedger {
			continue
		}
		if err := j.vacuum(db); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("VACUUM failed")
		}
	}

	if err := j.checkDiskSpace(); err != nil {
		if j.events != nil {
			j.events.EmitError("reliability", err, map[string]interface{}{"data_dir": j.dataDir})
		}
		return err
	}

	j.log.Info().Dur("duration_ms", time.Since(start)).Msg("Database maintenance completed")
	return nil
}

func (j *MaintenanceJob) vacuum(db *database.DB) error {
	before := sizeBytes(db)
	if _, err := db.Conn().Exec("VACUUM"); err != nil {
		return fmt.Errorf("VACUUM failed: %w", err)
	}
	after := sizeBytes(db)

	j.log.Info().
		Str("database", db.Name()).
		Int64("size_before_bytes", before).
		Int64("size_after_bytes", after).
		Msg("VACUUM completed")
	return nil
}

func (j *MaintenanceJob) checkDiskSpace() error {
	usage, err := j.diskUsage(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %w", j.dataDir, err)
	}
	freeMB := float64(usage.Free) / 1024 / 1024
	j.log.Debug().Float64("free_mb", freeMB).Msg("Disk space check")

	if freeMB < j.minFreeMB {
		return fmt.Errorf("only %.0f MB free in %s", freeMB, j.dataDir)
	}
	return nil
}

func sizeBytes(db *database.DB) int64 {
	var pageCount, pageSize int64
	_ = db.Conn().QueryRow("PRAGMA page_count").Scan(&pageCount)
	_ = db.Conn().QueryRow("PRAGMA page_size").Scan(&pageSize)
	return pageCount * pageSize
}
