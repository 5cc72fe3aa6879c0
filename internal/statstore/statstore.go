// Package statstore journals per-peer send statistics to sqlite for
// after-the-fact diagnostics.
package statstore

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"dev.c0redev.framelink/internal/frame"
)

// DB wraps the sqlite snapshot journal.
type DB struct {
	*sql.DB
}

// Snapshot is one recorded stats reading for a peer.
type Snapshot struct {
	Peer         frame.NodeID
	SentBytes    uint64
	SentMessages uint64
	RecordedAt   time.Time
}

// Open opens (or creates) the journal at path and runs migrations.
// Use ":memory:" for an ephemeral journal.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS stat_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			peer INTEGER NOT NULL,
			sent_bytes INTEGER NOT NULL,
			sent_messages INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_stat_snapshots_peer ON stat_snapshots(peer, id);
	`)
	return err
}

// Record stores the current reading of stats for peer.
func (d *DB) Record(peer frame.NodeID, stats *frame.MessageStats) error {
	_, err := d.Exec(
		"INSERT INTO stat_snapshots (peer, sent_bytes, sent_messages, recorded_at) VALUES (?, ?, ?, ?)",
		int64(peer), int64(stats.SentBytes()), int64(stats.SentMessages()),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// Latest returns the most recent snapshot for peer, or nil when none exists.
func (d *DB) Latest(peer frame.NodeID) (*Snapshot, error) {
	rows, err := d.History(peer, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// History returns up to limit snapshots for peer, newest first.
func (d *DB) History(peer frame.NodeID, limit int) ([]Snapshot, error) {
	rows, err := d.Query(
		"SELECT sent_bytes, sent_messages, recorded_at FROM stat_snapshots WHERE peer = ? ORDER BY id DESC LIMIT ?",
		int64(peer), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		var b, m int64
		var at string
		if err := rows.Scan(&b, &m, &at); err != nil {
			return nil, err
		}
		t, _ := time.Parse(time.RFC3339Nano, at)
		out = append(out, Snapshot{Peer: peer, SentBytes: uint64(b), SentMessages: uint64(m), RecordedAt: t})
	}
	return out, rows.Err()
}
