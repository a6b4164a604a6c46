// internal/cache/history.go
package cache

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Keeganp1988/GeoGuardian-sub003/internal/types"
)

// HistoryLog is a JSONL-backed append-only location history. Updates are
// stored per-user in history/<userID>/locations.jsonl under the root.
type HistoryLog struct {
	root  string
	mu    sync.Mutex
	locks map[types.UserID]*sync.Mutex
}

// NewHistoryLog creates a file-backed HistoryLog rooted at dir.
func NewHistoryLog(root string) *HistoryLog {
	return &HistoryLog{
		root:  root,
		locks: make(map[types.UserID]*sync.Mutex),
	}
}

// getLock returns the per-user mutex, creating one if it doesn't exist.
func (h *HistoryLog) getLock(id types.UserID) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()

	if lock, ok := h.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	h.locks[id] = lock
	return lock
}

func (h *HistoryLog) logPath(id types.UserID) string {
	return filepath.Join(h.root, "history", string(id), "locations.jsonl")
}

// Append adds one update to the owner's history log.
func (h *HistoryLog) Append(update *types.LocationUpdate) error {
	lock := h.getLock(update.UserID)
	lock.Lock()
	defer lock.Unlock()

	path := h.logPath(update.UserID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}

	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write update: %w", err)
	}
	return nil
}

// Tail returns the last limit updates for the given user, oldest first.
// A user with no history yields nil, not an error.
func (h *HistoryLog) Tail(id types.UserID, limit int) ([]*types.LocationUpdate, error) {
	lock := h.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(h.logPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var updates []*types.LocationUpdate
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var u types.LocationUpdate
		if err := json.Unmarshal(scanner.Bytes(), &u); err != nil {
			return nil, fmt.Errorf("unmarshal update: %w", err)
		}
		updates = append(updates, &u)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan history file: %w", err)
	}

	if limit > 0 && len(updates) > limit {
		updates = updates[len(updates)-limit:]
	}
	return updates, nil
}

// Count returns the number of recorded updates for the given user.
func (h *HistoryLog) Count(id types.UserID) (int64, error) {
	lock := h.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(h.logPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan history file: %w", err)
	}
	return count, nil
}
