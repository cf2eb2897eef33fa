package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go driver, registered for side effect

	"github.com/hallwayfm/hallway/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	owner_id         TEXT NOT NULL,
	max_participants INTEGER NOT NULL DEFAULT 16,
	active           INTEGER NOT NULL DEFAULT 1,
	languages        TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS participants (
	room_id   TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	role      TEXT NOT NULL,
	muted     INTEGER NOT NULL DEFAULT 0,
	joined_at TIMESTAMP NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
`

type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func OpenSQLite(path string) (RoomStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writes itself; a single conn avoids
	// SQLITE_BUSY on concurrent room actors.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, owner_id, max_participants, active, languages
		FROM rooms WHERE id = ?`, string(id))

	var r domain.Room
	var langs string
	err := row.Scan(&r.ID, &r.Name, &r.OwnerID, &r.MaxParticipants, &r.Active, &langs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	if langs != "" {
		r.Languages = strings.Split(langs, ",")
	}
	return &r, nil
}

func (s *sqliteStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rooms (id, name, owner_id, max_participants, active, languages)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(room.ID), string(room.Name), string(room.OwnerID),
		room.MaxParticipants, room.Active, strings.Join(room.Languages, ","))
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

func (s *sqliteStore) SetRoomActive(ctx context.Context, id domain.RoomID, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET active = ? WHERE id = ?`, active, string(id))
	if err != nil {
		return fmt.Errorf("set room active: %w", err)
	}
	return nil
}

func (s *sqliteStore) SetRoomOwner(ctx context.Context, id domain.RoomID, owner domain.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET owner_id = ? WHERE id = ?`, string(owner), string(id))
	if err != nil {
		return fmt.Errorf("set room owner: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListActiveRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, owner_id, max_participants, active, languages
		FROM rooms WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		var r domain.Room
		var langs string
		if err := rows.Scan(&r.ID, &r.Name, &r.OwnerID, &r.MaxParticipants, &r.Active, &langs); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		if langs != "" {
			r.Languages = strings.Split(langs, ",")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertParticipant(ctx context.Context, p *domain.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (room_id, user_id, role, muted, joined_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		string(p.RoomID), string(p.UserID), string(p.Role), p.Muted, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

func (s *sqliteStore) RemoveParticipant(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM participants WHERE room_id = ? AND user_id = ?`,
		string(roomID), string(userID))
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *sqliteStore) SetParticipantRole(ctx context.Context, roomID domain.RoomID, userID domain.UserID, role domain.Role) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE participants SET role = ? WHERE room_id = ? AND user_id = ?`,
		string(role), string(roomID), string(userID))
	if err != nil {
		return fmt.Errorf("set participant role: %w", err)
	}
	return nil
}

func (s *sqliteStore) SetParticipantMuted(ctx context.Context, roomID domain.RoomID, userID domain.UserID, muted bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE participants SET muted = ? WHERE room_id = ? AND user_id = ?`,
		muted, string(roomID), string(userID))
	if err != nil {
		return fmt.Errorf("set participant muted: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListParticipants(ctx context.Context, roomID domain.RoomID) ([]domain.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, user_id, role, muted, joined_at
		FROM participants WHERE room_id = ? ORDER BY joined_at`, string(roomID))
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.Role, &p.Muted, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
