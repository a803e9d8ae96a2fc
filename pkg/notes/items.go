// Package notes holds the generic item store and the Note projection
// layer that adapts it into the notepad-facing Note shape.
package notes

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Item is one record in the generic task/item store.
type Item struct {
	ID        string
	Title     string
	Utterance string
	Tags      []string
	Drive     string
	Created   time.Time
	Updated   time.Time
	Recycled  bool
}

// Artifact is a side attachment on an item (an image URL and the like).
type Artifact struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// CreateOptions carries the optional fields of CreateTask.
type CreateOptions struct {
	Utterance string
	Tags      []string
}

// ItemPatch updates a subset of item fields. Nil pointers leave the
// field untouched; a non-nil Tags replaces the whole tag set.
type ItemPatch struct {
	Title     *string
	Utterance *string
	Tags      []string
}

// ItemStore is the sqlite-backed generic item store. Mutations notify
// subscribers after commit; consumers are expected to re-list rather
// than patch local copies.
type ItemStore struct {
	db *sql.DB

	mu     sync.Mutex
	subs   map[int]func()
	order  []int
	nextID int
}

// NewItemStore creates/opens the item database at path.
func NewItemStore(path string) (*ItemStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create item db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS items (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			utterance TEXT NOT NULL DEFAULT '',
			tags_json TEXT NOT NULL DEFAULT '[]',
			drive TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			recycled INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS items_active_idx ON items(recycled, created_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS item_artifacts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			item_id TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS item_artifacts_item_idx ON item_artifacts(item_id, created_at_ms);`,
		`CREATE TABLE IF NOT EXISTS item_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init item schema: %w", err)
		}
	}

	return &ItemStore{db: db, subs: map[int]func(){}}, nil
}

func (s *ItemStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Subscribe registers a change listener, returning its unsubscribe
// func. Listeners fire after every committed mutation.
func (s *ItemStore) Subscribe(onChange func()) func() {
	if onChange == nil {
		return func() {}
	}
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = onChange
	s.order = append(s.order, id)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *ItemStore) notify() {
	s.mu.Lock()
	listeners := make([]func(), 0, len(s.subs))
	for _, id := range s.order {
		if fn, ok := s.subs[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range listeners {
		fn()
	}
}

// List returns items newest-first, excluding recycled ones unless asked.
func (s *ItemStore) List(includeRecycled bool) ([]Item, error) {
	query := `SELECT id, title, utterance, tags_json, drive, created_at_ms, updated_at_ms, recycled
		FROM items`
	if !includeRecycled {
		query += ` WHERE recycled = 0`
	}
	query += ` ORDER BY created_at_ms DESC`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		var (
			it                   Item
			tagsJSON             string
			createdMS, updatedMS int64
			recycled             int
		)
		if err := rows.Scan(&it.ID, &it.Title, &it.Utterance, &tagsJSON, &it.Drive, &createdMS, &updatedMS, &recycled); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(tagsJSON), &it.Tags)
		it.Created = time.UnixMilli(createdMS)
		it.Updated = time.UnixMilli(updatedMS)
		it.Recycled = recycled != 0
		items = append(items, it)
	}
	return items, rows.Err()
}

// CreateTask inserts a new item. Drive is derived from the tag set.
func (s *ItemStore) CreateTask(title string, opts CreateOptions) (Item, error) {
	now := time.Now()
	it := Item{
		ID:        "item-" + uuid.NewString(),
		Title:     strings.TrimSpace(title),
		Utterance: opts.Utterance,
		Tags:      opts.Tags,
		Drive:     DeriveDrive(opts.Tags),
		Created:   now,
		Updated:   now,
	}
	tagsJSON, _ := json.Marshal(it.Tags)
	_, err := s.db.Exec(
		`INSERT INTO items(id, title, utterance, tags_json, drive, created_at_ms, updated_at_ms, recycled)
		 VALUES(?, ?, ?, ?, ?, ?, ?, 0)`,
		it.ID, it.Title, it.Utterance, string(tagsJSON), it.Drive, now.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return Item{}, err
	}
	s.notify()
	return it, nil
}

// Update applies a patch and bumps the updated timestamp.
func (s *ItemStore) Update(id string, patch ItemPatch) error {
	sets := []string{"updated_at_ms = ?"}
	args := []interface{}{time.Now().UnixMilli()}

	if patch.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, strings.TrimSpace(*patch.Title))
	}
	if patch.Utterance != nil {
		sets = append(sets, "utterance = ?")
		args = append(args, *patch.Utterance)
	}
	if patch.Tags != nil {
		tagsJSON, _ := json.Marshal(patch.Tags)
		sets = append(sets, "tags_json = ?", "drive = ?")
		args = append(args, string(tagsJSON), DeriveDrive(patch.Tags))
	}
	args = append(args, id)

	res, err := s.db.Exec(`UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s not found", id)
	}
	s.notify()
	return nil
}

// Recycle soft-deletes an item. Nothing is ever hard-erased here.
func (s *ItemStore) Recycle(id string) error {
	res, err := s.db.Exec(
		`UPDATE items SET recycled = 1, updated_at_ms = ? WHERE id = ?`,
		time.Now().UnixMilli(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s not found", id)
	}
	if active, _ := s.GetActive(); active == id {
		_ = s.SetActive("")
	}
	s.notify()
	return nil
}

// AttachArtifacts appends side artifacts to an item.
func (s *ItemStore) AttachArtifacts(id string, artifacts []Artifact) error {
	now := time.Now().UnixMilli()
	for _, a := range artifacts {
		if strings.TrimSpace(a.URL) == "" {
			continue
		}
		if _, err := s.db.Exec(
			`INSERT INTO item_artifacts(item_id, kind, url, created_at_ms) VALUES(?, ?, ?, ?)`,
			id, a.Kind, a.URL, now,
		); err != nil {
			return err
		}
	}
	s.notify()
	return nil
}

// ListArtifacts returns an item's artifacts oldest-first.
func (s *ItemStore) ListArtifacts(id string) ([]Artifact, error) {
	rows, err := s.db.Query(
		`SELECT kind, url FROM item_artifacts WHERE item_id = ? ORDER BY created_at_ms, id`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Artifact{}
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Kind, &a.URL); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetActive returns the active item id, empty when none.
func (s *ItemStore) GetActive() (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM item_meta WHERE key = 'active_item'`).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetActive updates the active item pointer; empty id clears it.
func (s *ItemStore) SetActive(id string) error {
	var err error
	if id == "" {
		_, err = s.db.Exec(`DELETE FROM item_meta WHERE key = 'active_item'`)
	} else {
		_, err = s.db.Exec(
			`INSERT INTO item_meta(key, value) VALUES('active_item', ?)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value`, id,
		)
	}
	if err != nil {
		return err
	}
	s.notify()
	return nil
}

// DeriveDrive maps tags onto the UI grouping label. Purely cosmetic
// categorization, not a storage concept.
func DeriveDrive(tags []string) string {
	for _, tag := range tags {
		switch strings.ToLower(strings.TrimSpace(tag)) {
		case "research":
			return "Research"
		case "image", "creative":
			return "Creative"
		case "analysis", "document":
			return "Analysis"
		case "call", "email":
			return "Comms"
		case "memory", "conversation":
			return "Memory"
		}
	}
	return "General"
}
