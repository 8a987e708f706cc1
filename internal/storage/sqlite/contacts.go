package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/cybercypher/setu-carddav/internal/storage"
)

func (s *Store) Put(ctx context.Context, c storage.Contact) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contacts (resource_name, etag, display_name, vcard, searchable_phone, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(resource_name) DO UPDATE SET
				etag = excluded.etag,
				display_name = excluded.display_name,
				vcard = excluded.vcard,
				searchable_phone = excluded.searchable_phone,
				updated_at = excluded.updated_at
		`, c.ResourceName, c.ETag, c.DisplayName, c.VCard, c.SearchablePhone, c.UpdatedAt)
		return err
	})
}

func (s *Store) Delete(ctx context.Context, resourceName string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE resource_name = ?`, resourceName)
		return err
	})
}

func (s *Store) Get(ctx context.Context, resourceName string) (*storage.Contact, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT resource_name, etag, display_name, vcard, searchable_phone, updated_at
		FROM contacts WHERE resource_name = ?
	`, resourceName)

	var c storage.Contact
	if err := row.Scan(&c.ResourceName, &c.ETag, &c.DisplayName, &c.VCard, &c.SearchablePhone, &c.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Contact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_name, etag, display_name, vcard, searchable_phone, updated_at
		FROM contacts ORDER BY display_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Contact
	for rows.Next() {
		var c storage.Contact
		if err := rows.Scan(&c.ResourceName, &c.ETag, &c.DisplayName, &c.VCard, &c.SearchablePhone, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchByPhone implements the two-stage match described for contact
// lookup: a broad SQL substring filter followed by a symmetric suffix
// comparison against each stored token, so numbers recorded with
// differing country-code prefixes still match.
func (s *Store) SearchByPhone(ctx context.Context, rawQuery string) ([]storage.Contact, error) {
	q := storage.NormalizePhone(rawQuery)
	if q == "" || q == "+" {
		return nil, nil
	}
	qDigits := strings.TrimPrefix(q, "+")

	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_name, etag, display_name, vcard, searchable_phone, updated_at
		FROM contacts WHERE searchable_phone LIKE '%' || ? || '%'
	`, qDigits)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []storage.Contact
	for rows.Next() {
		var c storage.Contact
		if err := rows.Scan(&c.ResourceName, &c.ETag, &c.DisplayName, &c.VCard, &c.SearchablePhone, &c.UpdatedAt); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []storage.Contact
	for _, c := range candidates {
		for _, tok := range strings.Fields(c.SearchablePhone) {
			t := strings.TrimPrefix(tok, "+")
			if t == "" {
				continue
			}
			if strings.HasSuffix(t, qDigits) || strings.HasSuffix(qDigits, t) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) ApplyBatch(ctx context.Context, puts []storage.Contact, deletes []string, syncToken string, lastSync int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, c := range puts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO contacts (resource_name, etag, display_name, vcard, searchable_phone, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(resource_name) DO UPDATE SET
					etag = excluded.etag,
					display_name = excluded.display_name,
					vcard = excluded.vcard,
					searchable_phone = excluded.searchable_phone,
					updated_at = excluded.updated_at
			`, c.ResourceName, c.ETag, c.DisplayName, c.VCard, c.SearchablePhone, c.UpdatedAt); err != nil {
				return err
			}
		}
		for _, rn := range deletes {
			if _, err := tx.ExecContext(ctx, `DELETE FROM contacts WHERE resource_name = ?`, rn); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `UPDATE sync_metadata SET sync_token = ?, last_sync = ? WHERE id = 1`, syncToken, lastSync)
		return err
	})
}

func (s *Store) GetSyncToken(ctx context.Context) (string, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT sync_token FROM sync_metadata WHERE id = 1`).Scan(&token)
	if err != nil {
		return "", err
	}
	return token.String, nil
}

func (s *Store) SetSyncToken(ctx context.Context, token string, lastSync int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE sync_metadata SET sync_token = ?, last_sync = ? WHERE id = 1
		`, token, lastSync)
		return err
	})
}

func (s *Store) GetGoogleEmail(ctx context.Context) (string, error) {
	var email string
	err := s.db.QueryRowContext(ctx, `SELECT google_email FROM auth_mirror WHERE id = 1`).Scan(&email)
	if err != nil {
		return "", err
	}
	return email, nil
}

func (s *Store) SetGoogleEmail(ctx context.Context, email string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE auth_mirror SET google_email = ? WHERE id = 1`, email)
		return err
	})
}

func (s *Store) StoreOAuthToken(ctx context.Context, tokenJSON string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE oauth_tokens SET token_json = ? WHERE id = 1`, tokenJSON)
		return err
	})
}

func (s *Store) GetOAuthToken(ctx context.Context) (string, bool, error) {
	var token sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT token_json FROM oauth_tokens WHERE id = 1`).Scan(&token)
	if err != nil {
		return "", false, err
	}
	if !token.Valid || token.String == "" {
		return "", false, nil
	}
	return token.String, true, nil
}

func (s *Store) ClearOAuthToken(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE oauth_tokens SET token_json = NULL WHERE id = 1`)
		return err
	})
}
