package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// UpsertSession inserts or replaces a session row.
func (db *DB) UpsertSession(s domain.Session) error {
	var stateJSON []byte
	if s.StateTokens != nil {
		var err error
		stateJSON, err = json.Marshal(s.StateTokens)
		if err != nil {
			return fmt.Errorf("marshal state tokens: %w", err)
		}
	}
	_, err := db.conn.Exec(`INSERT INTO sessions (session_id, status, title, created_at, last_used_at, state_tokens_json)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET status=excluded.status, title=excluded.title,
			last_used_at=excluded.last_used_at, state_tokens_json=excluded.state_tokens_json`,
		s.SessionID, string(s.Status), s.Title, unixOrZero(s.CreatedAt), unixOrZero(s.LastUsedAt), string(stateJSON))
	return err
}

// GetSession fetches a session by id.
func (db *DB) GetSession(sessionID string) (domain.Session, error) {
	row := db.conn.QueryRow(`SELECT session_id, status, title, created_at, last_used_at, state_tokens_json
		FROM sessions WHERE session_id = ?`, sessionID)
	s, err := scanSession(row)
	if err == sql.ErrNoRows {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return s, err
}

// ListSessions returns every session, most recently used first.
func (db *DB) ListSessions() ([]domain.Session, error) {
	rows, err := db.conn.Query(`SELECT session_id, status, title, created_at, last_used_at, state_tokens_json
		FROM sessions ORDER BY last_used_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and all its turns.
func (db *DB) DeleteSession(sessionID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

func scanSession(s scanner) (domain.Session, error) {
	var sess domain.Session
	var status string
	var title sql.NullString
	var createdAt, lastUsedAt sql.NullInt64
	var stateJSON sql.NullString

	if err := s.Scan(&sess.SessionID, &status, &title, &createdAt, &lastUsedAt, &stateJSON); err != nil {
		return domain.Session{}, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.Title = title.String
	sess.CreatedAt = timeFromUnix(createdAt)
	sess.LastUsedAt = timeFromUnix(lastUsedAt)
	if stateJSON.Valid && stateJSON.String != "" {
		_ = json.Unmarshal([]byte(stateJSON.String), &sess.StateTokens)
	}
	return sess, nil
}

// AppendTurn inserts a turn at the next sequence number within a
// transaction, enforcing the strictly-increasing-dense invariant. Returns
// the assigned sequence.
func (db *DB) AppendTurn(sessionID string, turn domain.Turn) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(sequence) FROM session_messages WHERE session_id = ?`, sessionID).Scan(&maxSeq); err != nil {
		return 0, err
	}
	seq := 1
	if maxSeq.Valid {
		seq = int(maxSeq.Int64) + 1
	}

	inputJSON, err := json.Marshal(turn.Input)
	if err != nil {
		return 0, err
	}
	outputJSON, err := json.Marshal(turn.Output)
	if err != nil {
		return 0, err
	}
	var stateJSON []byte
	if turn.StateTokens != nil {
		stateJSON, err = json.Marshal(turn.StateTokens)
		if err != nil {
			return 0, err
		}
	}

	_, err = tx.Exec(`INSERT INTO session_messages (session_id, sequence, id, modality, input_json, output_json, state_tokens_json, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		sessionID, seq, turn.ID, string(turn.Modality), string(inputJSON), string(outputJSON), string(stateJSON), unixOrZero(turn.CreatedAt))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

// ListTurns returns every turn of a session, in sequence order.
func (db *DB) ListTurns(sessionID string) ([]domain.Turn, error) {
	rows, err := db.conn.Query(`SELECT id, sequence, modality, input_json, output_json, state_tokens_json, created_at
		FROM session_messages WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var modality string
		var inputJSON, outputJSON, stateJSON sql.NullString
		var createdAt sql.NullInt64
		if err := rows.Scan(&t.ID, &t.Sequence, &modality, &inputJSON, &outputJSON, &stateJSON, &createdAt); err != nil {
			return nil, err
		}
		t.SessionID = sessionID
		t.Modality = domain.Modality(modality)
		t.CreatedAt = timeFromUnix(createdAt)
		if inputJSON.Valid {
			_ = json.Unmarshal([]byte(inputJSON.String), &t.Input)
		}
		if outputJSON.Valid {
			_ = json.Unmarshal([]byte(outputJSON.String), &t.Output)
		}
		if stateJSON.Valid && stateJSON.String != "" {
			_ = json.Unmarshal([]byte(stateJSON.String), &t.StateTokens)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteLastTurn removes the highest-sequence turn, for regenerate.
func (db *DB) DeleteLastTurn(sessionID string) error {
	_, err := db.conn.Exec(`DELETE FROM session_messages WHERE session_id = ? AND sequence = (
		SELECT MAX(sequence) FROM session_messages WHERE session_id = ?)`, sessionID, sessionID)
	return err
}

// ResetTurns deletes every turn of a session and clears state_tokens.
func (db *DB) ResetTurns(sessionID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM session_messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE sessions SET state_tokens_json = NULL WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	return tx.Commit()
}
