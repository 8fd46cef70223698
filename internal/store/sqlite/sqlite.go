package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/watchparty/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_participants (
	room_id      TEXT PRIMARY KEY,
	participants TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	user_name  TEXT NOT NULL,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (room_id, id)
);

CREATE TABLE IF NOT EXISTS bus (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id    TEXT NOT NULL,
	sender     TEXT NOT NULL,
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_room_messages_room ON room_messages(room_id, seq);
CREATE INDEX IF NOT EXISTS idx_bus_room ON bus(room_id, seq);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests that need extra fixtures on top of the schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Set connection pool limits before setup
	db.SetMaxOpenConns(1) // SQLite works best with single connection
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== SnapshotStore implementation ====

// SaveParticipants replaces the participant snapshot of a room.
func (s *SQLiteStore) SaveParticipants(ctx context.Context, roomID string, participants []store.Participant) error {
	if participants == nil {
		participants = []store.Participant{}
	}
	data, err := json.Marshal(participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}

	query := `
		INSERT INTO room_participants (room_id, participants, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET participants = excluded.participants, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, roomID, string(data), s.now().UnixMilli()); err != nil {
		return fmt.Errorf("save participants: %w", err)
	}
	return nil
}

// LoadParticipants returns the snapshot or store.ErrNotFound.
func (s *SQLiteStore) LoadParticipants(ctx context.Context, roomID string) ([]store.Participant, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT participants FROM room_participants WHERE room_id = ?`, roomID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	var participants []store.Participant
	if err := json.Unmarshal([]byte(data), &participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	return participants, nil
}

// AppendMessage stores a chat line. Re-appending the same id is a no-op.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg store.Message) error {
	query := `
		INSERT OR IGNORE INTO room_messages (id, room_id, user_id, user_name, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.UserID, msg.UserName, msg.Body, msg.CreatedAt.UnixMilli()); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// LoadMessages returns the last limit messages of a room in chronological order.
// A limit <= 0 returns everything.
func (s *SQLiteStore) LoadMessages(ctx context.Context, roomID string, limit int) ([]store.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, room_id, user_id, user_name, body, created_at FROM (
			SELECT seq, id, room_id, user_id, user_name, body, created_at
			FROM room_messages
			WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []store.Message
	for rows.Next() {
		var (
			m  store.Message
			ts int64
		)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.UserName, &m.Body, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(ts)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// Purge removes participant and chat snapshots for a room. Bus frames stay so
// peers still see the frames posted right before the purge.
func (s *SQLiteStore) Purge(ctx context.Context, roomID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin purge: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM room_participants WHERE room_id = ?`,
		`DELETE FROM room_messages WHERE room_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, roomID); err != nil {
			return fmt.Errorf("purge room %s: %w", roomID, err)
		}
	}
	return tx.Commit()
}

// ==== BusStore implementation ====

// Publish appends a frame and returns its sequence number.
func (s *SQLiteStore) Publish(ctx context.Context, roomID, sender string, payload []byte) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO bus (room_id, sender, payload, created_at) VALUES (?, ?, ?, ?)`,
		roomID, sender, payload, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("publish: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}
	return seq, nil
}

// Since returns frames for a room with seq > afterSeq, oldest first.
func (s *SQLiteStore) Since(ctx context.Context, roomID string, afterSeq int64, limit int) ([]store.BusMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, room_id, sender, payload, created_at
		FROM bus
		WHERE room_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, roomID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("query bus: %w", err)
	}
	defer rows.Close()

	var out []store.BusMessage
	for rows.Next() {
		var (
			m  store.BusMessage
			ts int64
		)
		if err := rows.Scan(&m.Seq, &m.RoomID, &m.Sender, &m.Payload, &ts); err != nil {
			return nil, fmt.Errorf("scan bus: %w", err)
		}
		m.CreatedAt = time.UnixMilli(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bus: %w", err)
	}
	return out, nil
}

// LastSeq returns the newest sequence number for a room, or 0.
func (s *SQLiteStore) LastSeq(ctx context.Context, roomID string) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM bus WHERE room_id = ?`, roomID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// PruneBus deletes frames created before the given time.
func (s *SQLiteStore) PruneBus(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM bus WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune bus: %w", err)
	}
	return result.RowsAffected()
}

var _ store.Store = (*SQLiteStore)(nil)
