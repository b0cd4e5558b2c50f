package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Ledger is the persisted record of dispatched sequence ids, oldest first.
type Ledger struct {
	IDs       []string  `json:"ids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LoadLedger reads the ledger from a JSON file. Returns an empty ledger if the
// path is empty or the file doesn't exist.
func LoadLedger(filePath string) (*Ledger, error) {
	if filePath == "" {
		return &Ledger{}, nil
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Ledger{}, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return &l, nil
}

// SaveLedger writes the ledger to a JSON file. An empty path keeps it in memory.
func SaveLedger(filePath string, l *Ledger, now time.Time) error {
	l.UpdatedAt = now
	if filePath == "" {
		return nil
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	return os.Rename(tmp, filePath)
}
