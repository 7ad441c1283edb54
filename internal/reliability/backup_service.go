package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aristath/bucketeer/internal/events"
	"github.com/rs/zerolog"
)

const (
	archiveTimeLayout = "2006-01-02-150405"
	metadataFile      = "backup-metadata.json"
	minBackupsToKeep  = 3
)

// Backupable is a database that can write a consistent copy of itself
type Backupable interface {
	Name() string
	BackupTo(ctx context.Context, destPath string) error
}

// Manifest describes the contents of one archive
type Manifest struct {
	CreatedAt time.Time       `json:"created_at"`
	Databases []DatabaseEntry `json:"databases"`
}

// DatabaseEntry is one database file inside an archive
type DatabaseEntry struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes a stored archive
type BackupInfo struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService snapshots the databases into a tar.gz archive and ships it
// to object storage, rotating archives past the retention period
type BackupService struct {
	store         ObjectStore
	databases     []Backupable
	stagingRoot   string
	prefix        string
	retentionDays int
	events        *events.Manager
	now           func() time.Time
	log           zerolog.Logger
}

// NewBackupService creates a backup service. retentionDays 0 keeps everything.
func NewBackupService(store ObjectStore, databases []Backupable, dataDir, prefix string, retentionDays int, eventManager *events.Manager, log zerolog.Logger) *BackupService {
	if prefix == "" {
		prefix = "bucketeer"
	}
	return &BackupService{
		store:         store,
		databases:     databases,
		stagingRoot:   dataDir,
		prefix:        prefix,
		retentionDays: retentionDays,
		events:        eventManager,
		now:           time.Now,
		log:           log.With().Str("service", "backup").Logger(),
	}
}

// Run creates and uploads an archive, then rotates old ones
func (s *BackupService) Run(ctx context.Context) error {
	info, err := s.CreateAndUpload(ctx)
	if err != nil {
		return err
	}
	if err := s.Rotate(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	if s.events != nil {
		s.events.Emit(events.BackupCompleted, "reliability", map[string]interface{}{
			"key":        info.Key,
			"size_bytes": info.SizeBytes,
		})
	}
	return nil
}

// CreateAndUpload writes every database to a staging directory, archives
// them with a manifest and uploads the archive
func (s *BackupService) CreateAndUpload(ctx context.Context) (*BackupInfo, error) {
	start := s.now()
	staging, err := os.MkdirTemp(s.stagingRoot, "backup-staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	manifest := Manifest{CreatedAt: start.UTC()}
	files := make([]string, 0, len(s.databases)+1)
	for _, db := range s.databases {
		filename := db.Name() + ".db"
		path := filepath.Join(staging, filename)
		if err := db.BackupTo(ctx, path); err != nil {
			return nil, fmt.Errorf("failed to back up %s: %w", db.Name(), err)
		}
		entry, err := describe(db.Name(), path)
		if err != nil {
			return nil, err
		}
		manifest.Databases = append(manifest.Databases, entry)
		files = append(files, filename)
	}

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging, metadataFile), manifestBytes, 0644); err != nil {
		return nil, fmt.Errorf("failed to write manifest: %w", err)
	}
	files = append(files, metadataFile)

	key := s.archiveKey(start)
	archivePath := filepath.Join(staging, filepath.Base(key))
	if err := writeArchive(archivePath, staging, files); err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	if err := s.store.Upload(ctx, key, f); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("key", key).
		Int64("size_bytes", stat.Size()).
		Dur("duration", s.now().Sub(start)).
		Msg("Backup uploaded")
	return &BackupInfo{Key: key, CreatedAt: start.UTC(), SizeBytes: stat.Size()}, nil
}

// List returns stored archives, newest first
func (s *BackupService) List(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, s.prefix+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	out := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		created, ok := s.parseKey(obj.Key)
		if !ok {
			continue
		}
		out = append(out, BackupInfo{Key: obj.Key, CreatedAt: created, SizeBytes: obj.Size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Rotate deletes archives older than the retention period, always keeping
// the newest few
func (s *BackupService) Rotate(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}
	backups, err := s.List(ctx)
	if err != nil {
		return err
	}
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)

	deleted := 0
	for i, b := range backups {
		if i < minBackupsToKeep || !b.CreatedAt.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Key); err != nil {
			s.log.Error().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("Old backups rotated")
	}
	return nil
}

func (s *BackupService) archiveKey(at time.Time) string {
	return fmt.Sprintf("%s/backup-%s.tar.gz", s.prefix, at.UTC().Format(archiveTimeLayout))
}

func (s *BackupService) parseKey(key string) (time.Time, bool) {
	name := strings.TrimPrefix(key, s.prefix+"/")
	if !strings.HasPrefix(name, "backup-") || !strings.HasSuffix(name, ".tar.gz") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, "backup-"), ".tar.gz")
	t, err := time.Parse(archiveTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func describe(name, path string) (DatabaseEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return DatabaseEntry{}, fmt.Errorf("failed to open %s backup: %w", name, err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return DatabaseEntry{}, fmt.Errorf("failed to checksum %s backup: %w", name, err)
	}
	return DatabaseEntry{
		Name:      name,
		Filename:  filepath.Base(path),
		SizeBytes: size,
		Checksum:  fmt.Sprintf("sha256:%x", h.Sum(nil)),
	}, nil
}

func writeArchive(archivePath, dir string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	for _, name := range files {
		if err := addFile(tw, filepath.Join(dir, name), name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    0644,
		ModTime: info.ModTime(),
	}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
