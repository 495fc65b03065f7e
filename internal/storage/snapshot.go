package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
)

// SessionSnapshot is a point-in-time capture of the trading session:
// open positions and the realized PnL accumulated so far. Restoring it
// is much cheaper than replaying the audit trail after a restart.
type SessionSnapshot struct {
	Cycle     int64                      `json:"cycle"` // last completed engine cycle
	TsUnix    int64                      `json:"ts"`    // snapshot creation timestamp (Unix seconds)
	Realized  float64                    `json:"realized_pnl"`
	Positions map[string]domain.Position `json:"positions"`
}

// NewSessionSnapshot deep-copies the given state under a fresh
// timestamp so the caller can keep mutating its own maps.
func NewSessionSnapshot(cycle int64, realized float64, positions map[string]domain.Position) *SessionSnapshot {
	copied := make(map[string]domain.Position, len(positions))
	for sym, pos := range positions {
		copied[sym] = pos
	}
	return &SessionSnapshot{
		Cycle:     cycle,
		TsUnix:    time.Now().Unix(),
		Realized:  realized,
		Positions: copied,
	}
}

// SnapshotManager saves and loads session snapshots as JSON files.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager creates a manager writing under dir.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

// Save writes a snapshot to disk.
func (sm *SnapshotManager) Save(snap *SessionSnapshot) error {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	filename := fmt.Sprintf("session_%d_%d.json", snap.Cycle, snap.TsUnix)
	path := filepath.Join(sm.dir, filename)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}

	slog.Info("Session snapshot saved",
		slog.Int64("cycle", snap.Cycle),
		slog.String("path", path))
	return nil
}

// LoadLatest loads the most recent snapshot from disk.
// Returns nil if no snapshot exists.
func (sm *SnapshotManager) LoadLatest() (*SessionSnapshot, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // no snapshots yet
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	var latestPath string
	var latestCycle int64 = -1
	var latestTs int64

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var cycle, ts int64
		if _, err := fmt.Sscanf(entry.Name(), "session_%d_%d.json", &cycle, &ts); err != nil {
			continue // not a snapshot file
		}
		if cycle > latestCycle || (cycle == latestCycle && ts > latestTs) {
			latestCycle = cycle
			latestTs = ts
			latestPath = filepath.Join(sm.dir, entry.Name())
		}
	}

	if latestPath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(latestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	slog.Info("Session snapshot loaded",
		slog.Int64("cycle", snap.Cycle),
		slog.String("path", latestPath))
	return &snap, nil
}

// Cleanup removes old snapshots, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type snapFile struct {
		path  string
		cycle int64
		ts    int64
	}
	var files []snapFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var cycle, ts int64
		if _, err := fmt.Sscanf(entry.Name(), "session_%d_%d.json", &cycle, &ts); err == nil {
			files = append(files, snapFile{
				path:  filepath.Join(sm.dir, entry.Name()),
				cycle: cycle,
				ts:    ts,
			})
		}
	}

	if len(files) <= keepCount {
		return nil
	}

	// Newest first; small N so a simple selection pass is enough.
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].cycle > files[i].cycle ||
				(files[j].cycle == files[i].cycle && files[j].ts > files[i].ts) {
				files[i], files[j] = files[j], files[i]
			}
		}
	}

	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old snapshot", slog.String("path", files[i].path))
		}
	}
	return nil
}
