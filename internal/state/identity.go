package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/research-kreat/kreat-agentic/internal/utils"
)

// Identity is the locally generated client id standing in for
// authentication. Created once on first access and reused across runs; it is
// the only piece of client state persisted unconditionally.
type Identity struct {
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
}

// ResultSummary is one entry of the recent-results cache: enough of an
// analysis to list it later without keeping chat history around.
type ResultSummary struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	SavedAt   string `json:"saved_at"`
}

// DiskCache persists the identity and a bounded list of recent result
// summaries under the data dir. Volatile chat state never goes through here.
type DiskCache struct {
	dir        string
	maxResults int
}

func NewDiskCache(dir string, maxResults int) *DiskCache {
	if maxResults <= 0 {
		maxResults = 20
	}
	return &DiskCache{dir: dir, maxResults: maxResults}
}

func (d *DiskCache) identityPath() string { return filepath.Join(d.dir, "identity.json") }
func (d *DiskCache) resultsPath() string  { return filepath.Join(d.dir, "results.json") }

func (d *DiskCache) ensureDir() error {
	return os.MkdirAll(d.dir, 0o755)
}

// LoadIdentity returns the persisted identity, creating and persisting a new
// one the first time it is asked for.
func (d *DiskCache) LoadIdentity() (Identity, error) {
	data, err := os.ReadFile(d.identityPath())
	if err == nil {
		var id Identity
		if jsonErr := json.Unmarshal(data, &id); jsonErr == nil && id.UserID != "" {
			return id, nil
		}
		// Corrupt file: fall through and regenerate.
	} else if !os.IsNotExist(err) {
		return Identity{}, fmt.Errorf("read identity: %w", err)
	}

	id := Identity{
		UserID:    uuid.NewString(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := d.ensureDir(); err != nil {
		return Identity{}, fmt.Errorf("create data dir: %w", err)
	}
	payload, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return Identity{}, fmt.Errorf("marshal identity: %w", err)
	}
	if err := utils.WriteFileAtomic(d.identityPath(), payload, 0o644); err != nil {
		return Identity{}, fmt.Errorf("write identity: %w", err)
	}
	return id, nil
}

// LoadResults returns the persisted recent-results list. A missing file is
// an empty list.
func (d *DiskCache) LoadResults() ([]ResultSummary, error) {
	data, err := os.ReadFile(d.resultsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results: %w", err)
	}
	var out []ResultSummary
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	return out, nil
}

// AddResult prepends a summary and trims the list to the configured bound.
func (d *DiskCache) AddResult(entry ResultSummary) error {
	existing, err := d.LoadResults()
	if err != nil {
		existing = nil
	}
	next := make([]ResultSummary, 0, len(existing)+1)
	next = append(next, entry)
	for _, e := range existing {
		if e.SessionID == entry.SessionID && e.SavedAt == entry.SavedAt {
			continue
		}
		next = append(next, e)
	}
	if len(next) > d.maxResults {
		next = next[:d.maxResults]
	}
	if err := d.ensureDir(); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	payload, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return utils.WriteFileAtomic(d.resultsPath(), payload, 0o644)
}
