package store

import (
	"context"
	"fmt"
	"time"

	"github.com/atward/riolink/internal/infrastructure/database"
	"github.com/atward/riolink/internal/zone"
)

// SessionEvent is one entry in the session event log.
type SessionEvent struct {
	ID        int64
	Event     string
	Detail    string
	CreatedAt time.Time
}

// Repository defines the persistence operations the bridge needs.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// SaveZones upserts zone snapshots.
	SaveZones(ctx context.Context, zones []zone.State) error

	// LoadZones retrieves all persisted zone snapshots, ordered by id.
	LoadZones(ctx context.Context) ([]zone.State, error)

	// SaveSources upserts source snapshots.
	SaveSources(ctx context.Context, sources []zone.SourceInfo) error

	// LoadSources retrieves all persisted source snapshots, ordered by id.
	LoadSources(ctx context.Context) ([]zone.SourceInfo, error)

	// RecordSessionEvent appends to the session event log.
	RecordSessionEvent(ctx context.Context, event, detail string) error

	// RecentSessionEvents retrieves the newest events, newest first.
	RecentSessionEvents(ctx context.Context, limit int) ([]SessionEvent, error)
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a SQLite-backed store over an open database.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Init creates the schema. Safe to call on every startup.
func (s *SQLiteStore) Init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS zones (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			power INTEGER NOT NULL DEFAULT 0,
			volume INTEGER NOT NULL DEFAULT 0,
			mute INTEGER NOT NULL DEFAULT 0,
			source_id INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sources (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			media_title TEXT NOT NULL DEFAULT '',
			media_artist TEXT NOT NULL DEFAULT '',
			media_album TEXT NOT NULL DEFAULT '',
			media_image_url TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS session_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_session_events_created
			ON session_events(created_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// SaveZones upserts zone snapshots in a single transaction.
func (s *SQLiteStore) SaveZones(ctx context.Context, zones []zone.State) error {
	if len(zones) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	query := `
		INSERT INTO zones (id, name, power, volume, mute, source_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			power = excluded.power,
			volume = excluded.volume,
			mute = excluded.mute,
			source_id = excluded.source_id,
			updated_at = CURRENT_TIMESTAMP`

	for _, z := range zones {
		if _, err := tx.ExecContext(ctx, query,
			z.ID, z.Name, boolToInt(z.Power), z.Volume, boolToInt(z.Mute), z.SourceID); err != nil {
			return fmt.Errorf("saving zone %d: %w", z.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing zone snapshots: %w", err)
	}
	return nil
}

// LoadZones retrieves all persisted zone snapshots, ordered by id.
func (s *SQLiteStore) LoadZones(ctx context.Context) ([]zone.State, error) {
	query := `SELECT id, name, power, volume, mute, source_id FROM zones ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying zones: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var zones []zone.State
	for rows.Next() {
		var z zone.State
		var power, mute int
		if err := rows.Scan(&z.ID, &z.Name, &power, &z.Volume, &mute, &z.SourceID); err != nil {
			return nil, fmt.Errorf("scanning zone: %w", err)
		}
		z.Power = power != 0
		z.Mute = mute != 0
		zones = append(zones, z)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating zones: %w", err)
	}
	return zones, nil
}

// SaveSources upserts source snapshots in a single transaction.
func (s *SQLiteStore) SaveSources(ctx context.Context, sources []zone.SourceInfo) error {
	if len(sources) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	query := `
		INSERT INTO sources (id, name, media_title, media_artist, media_album, media_image_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			media_title = excluded.media_title,
			media_artist = excluded.media_artist,
			media_album = excluded.media_album,
			media_image_url = excluded.media_image_url,
			updated_at = CURRENT_TIMESTAMP`

	for _, src := range sources {
		if _, err := tx.ExecContext(ctx, query,
			src.ID, src.Name, src.MediaTitle, src.MediaArtist, src.MediaAlbum, src.MediaImageURL); err != nil {
			return fmt.Errorf("saving source %d: %w", src.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing source snapshots: %w", err)
	}
	return nil
}

// LoadSources retrieves all persisted source snapshots, ordered by id.
func (s *SQLiteStore) LoadSources(ctx context.Context) ([]zone.SourceInfo, error) {
	query := `SELECT id, name, media_title, media_artist, media_album, media_image_url FROM sources ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying sources: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var sources []zone.SourceInfo
	for rows.Next() {
		var src zone.SourceInfo
		if err := rows.Scan(&src.ID, &src.Name, &src.MediaTitle, &src.MediaArtist, &src.MediaAlbum, &src.MediaImageURL); err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sources: %w", err)
	}
	return sources, nil
}

// RecordSessionEvent appends to the session event log.
func (s *SQLiteStore) RecordSessionEvent(ctx context.Context, event, detail string) error {
	query := `INSERT INTO session_events (event, detail) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, event, detail); err != nil {
		return fmt.Errorf("recording session event: %w", err)
	}
	return nil
}

// RecentSessionEvents retrieves the newest events, newest first.
func (s *SQLiteStore) RecentSessionEvents(ctx context.Context, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, event, detail, created_at FROM session_events ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying session events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning session event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session events: %w", err)
	}
	return events, nil
}

// RestoreRegistry loads persisted snapshots into the registry.
//
// Snapshots for ids outside the configured topology are skipped; a
// reconfiguration that shrinks the zone count must not fail startup.
func RestoreRegistry(ctx context.Context, repo Repository, registry *zone.Registry) error {
	zones, err := repo.LoadZones(ctx)
	if err != nil {
		return fmt.Errorf("loading zone snapshots: %w", err)
	}
	for _, z := range zones {
		if !registry.HasZone(z.ID) {
			continue
		}
		if err := registry.Restore(z); err != nil {
			return fmt.Errorf("restoring zone %d: %w", z.ID, err)
		}
	}

	sources, err := repo.LoadSources(ctx)
	if err != nil {
		return fmt.Errorf("loading source snapshots: %w", err)
	}
	for _, src := range sources {
		if !registry.HasSource(src.ID) {
			continue
		}
		if err := registry.RestoreSource(src); err != nil {
			return fmt.Errorf("restoring source %d: %w", src.ID, err)
		}
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
