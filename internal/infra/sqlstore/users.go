package sqlstore

import (
	"database/sql"

	"github.com/tutu-network/inferencegate/internal/domain"
)

// InsertUser creates a new user row.
func (db *DB) InsertUser(u domain.User) error {
	_, err := db.conn.Exec(`INSERT INTO users (user_id, name, created_at) VALUES (?,?,?)`,
		u.UserID, u.Name, unixOrZero(u.CreatedAt))
	return err
}

// GetUser fetches a user by id.
func (db *DB) GetUser(userID string) (domain.User, error) {
	var u domain.User
	var createdAt sql.NullInt64
	err := db.conn.QueryRow(`SELECT user_id, name, created_at FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Name, &createdAt)
	u.CreatedAt = timeFromUnix(createdAt)
	return u, err
}

// InsertToken stores a bearer token minted for a user.
func (db *DB) InsertToken(t domain.UserToken) error {
	_, err := db.conn.Exec(`INSERT INTO user_tokens (token, user_id, created_at) VALUES (?,?,?)`,
		t.Token, t.UserID, unixOrZero(t.CreatedAt))
	return err
}

// UserIDForToken resolves a bearer token to its owning user, used by the
// authentication middleware the HTTP transport sits on.
func (db *DB) UserIDForToken(token string) (string, error) {
	var userID string
	err := db.conn.QueryRow(`SELECT user_id FROM user_tokens WHERE token = ?`, token).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", domain.ErrAuth
	}
	return userID, err
}

// InsertInvite creates a new single-use invite token.
func (db *DB) InsertInvite(inv domain.InviteToken) error {
	_, err := db.conn.Exec(`INSERT INTO invite_tokens (token, created_at) VALUES (?,?)`,
		inv.Token, unixOrZero(inv.CreatedAt))
	return err
}

// RedeemInvite atomically consumes an invite token if it is unredeemed.
// Returns domain.ErrInviteInvalid if the token is unknown or already used.
func (db *DB) RedeemInvite(token, userID string, nowUnix int64) error {
	res, err := db.conn.Exec(`UPDATE invite_tokens SET redeemed_at = ?, redeemed_by = ?
		WHERE token = ? AND redeemed_at IS NULL`, nowUnix, userID, token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrInviteInvalid
	}
	return nil
}

// UpsertProviderCredential stores an AES-GCM encrypted credential blob.
func (db *DB) UpsertProviderCredential(userID, provider string, ciphertext, nonce []byte, updatedAtUnix int64) error {
	_, err := db.conn.Exec(`INSERT INTO provider_keys (user_id, provider, ciphertext, nonce, updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(user_id, provider) DO UPDATE SET ciphertext=excluded.ciphertext, nonce=excluded.nonce,
			updated_at=excluded.updated_at`,
		userID, provider, ciphertext, nonce, updatedAtUnix)
	return err
}

// GetProviderCredential fetches the encrypted blob for (user, provider).
func (db *DB) GetProviderCredential(userID, provider string) (ciphertext, nonce []byte, err error) {
	err = db.conn.QueryRow(`SELECT ciphertext, nonce FROM provider_keys WHERE user_id = ? AND provider = ?`,
		userID, provider).Scan(&ciphertext, &nonce)
	if err == sql.ErrNoRows {
		err = domain.ErrCredentialMissing
	}
	return
}

// DeleteProviderCredential removes a stored credential.
func (db *DB) DeleteProviderCredential(userID, provider string) error {
	_, err := db.conn.Exec(`DELETE FROM provider_keys WHERE user_id = ? AND provider = ?`, userID, provider)
	return err
}

// ListProviderCredentials returns the providers a user has configured.
func (db *DB) ListProviderCredentials(userID string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT provider FROM provider_keys WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
