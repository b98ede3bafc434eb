package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/multierr"
)

// FSStore implements the Store interface on the filesystem.
// Runs are stored as <baseDir>/runs/<runID>/result.json.
//
// Thread-safety: writes use temp file + rename and need no locks.
type FSStore struct {
	baseDir string // Root directory for all run data (e.g., "./data")
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func runDir(baseDir, runID string) string {
	return filepath.Join(baseDir, "runs", runID)
}

func (fs *FSStore) resultPath(runID string) string {
	return filepath.Join(runDir(fs.baseDir, runID), "result.json")
}

// writeAtomic writes data to a temp file next to path and renames it.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// SaveRun validates and atomically saves a run.
func (fs *FSStore) SaveRun(run *Run) error {
	if run == nil {
		return fmt.Errorf("run cannot be nil")
	}
	if err := run.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	path := fs.resultPath(run.ID)
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}

	slog.Debug("Run saved", "run_id", run.ID, "path", path)
	return nil
}

// LoadRun retrieves the run with the given ID.
func (fs *FSStore) LoadRun(runID string) (*Run, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.resultPath(runID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to deserialize run: %w", err)
	}

	slog.Debug("Run loaded", "run_id", runID, "path", path)
	return &run, nil
}

// ListRuns returns metadata for all stored runs, newest first. Unreadable
// runs are skipped with a warning.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		runID := entry.Name()
		if _, err := os.Stat(fs.resultPath(runID)); os.IsNotExist(err) {
			continue // Run still in progress or aborted
		}

		run, err := fs.LoadRun(runID)
		if err != nil {
			slog.Warn("Failed to load run for listing", "run_id", runID, "error", err)
			continue
		}
		infos = append(infos, run.ToInfo())
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].Timestamp.After(infos[j].Timestamp)
	})

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run directory with its result and trace.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	dir := runDir(fs.baseDir, runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "run_id", runID, "path", dir)
	return nil
}

// Prune deletes the runs selected by policy at time now and returns their
// IDs. A failed deletion does not stop the others; all failures are
// returned together.
func (fs *FSStore) Prune(policy RetentionPolicy, now time.Time) ([]string, error) {
	infos, err := fs.ListRuns()
	if err != nil {
		return nil, err
	}
	var (
		deleted []string
		errs    error
	)
	for _, info := range policy.Select(infos, now) {
		if err := fs.DeleteRun(info.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("run %s: %w", info.ID, err))
			continue
		}
		deleted = append(deleted, info.ID)
	}
	slog.Debug("Pruned runs", "count", len(deleted), "keep_last", policy.KeepLast, "older_than", policy.OlderThan, "failed_only", policy.FailedOnly)
	return deleted, errs
}
