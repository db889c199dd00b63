package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/credsync/internal/credential"
)

// credentialColumns is the column list scanned by scanCredential.
const credentialColumns = `id, user_id, password, url, first_name, last_name, title, email,
	school_id, school_group_id, device_id, app_ids, created_at, updated_at`

// entitledTo matches rows whose app_ids array contains the bound app ID.
// Rows with NULL or malformed app_ids never match.
const entitledTo = `EXISTS (
	SELECT 1 FROM json_each(CASE WHEN json_valid(c.app_ids) THEN
		CASE WHEN json_type(c.app_ids) = 'array' THEN c.app_ids ELSE '[]' END
	ELSE '[]' END) WHERE value = ?)`

// FindByUserID returns the oldest credential for userID.
// Returns an error wrapping credential.ErrNotFound if none exists.
func (s *Store) FindByUserID(ctx context.Context, userID string) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+`
		FROM credentials c
		WHERE user_id = ?
		ORDER BY seq ASC
		LIMIT 1
	`, userID)
	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, fmt.Errorf("find credential %q: %w", userID, credential.ErrNotFound)
	}
	if err != nil {
		return credential.Credential{}, wrapErr("find credential", err)
	}
	return cred, nil
}

// ListAll returns every credential ordered by user_id, then creation order.
func (s *Store) ListAll(ctx context.Context) ([]credential.Credential, error) {
	return s.listCredentials(ctx, "list credentials", `
		SELECT `+credentialColumns+`
		FROM credentials c
		ORDER BY user_id COLLATE BINARY ASC, seq ASC
	`)
}

// ListEntitled returns every credential whose entitlements contain appID.
func (s *Store) ListEntitled(ctx context.Context, appID string) ([]credential.Credential, error) {
	return s.listCredentials(ctx, "list entitled credentials", `
		SELECT `+credentialColumns+`
		FROM credentials c
		WHERE `+entitledTo+`
		ORDER BY user_id COLLATE BINARY ASC, seq ASC
	`, appID)
}

// CountEntitled counts credentials entitled to appID among userIDs.
func (s *Store) CountEntitled(ctx context.Context, appID string, userIDs []string) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	list, err := marshalList(userIDs)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM credentials c
		WHERE user_id IN (SELECT value FROM json_each(?))
		AND `+entitledTo, list, appID).Scan(&n)
	if err != nil {
		return 0, wrapErr("count entitled credentials", err)
	}
	return n, nil
}

// DuplicateGroups returns every user_id held by more than one credential.
// Groups are ordered by user_id and members by creation order.
func (s *Store) DuplicateGroups(ctx context.Context) ([]credential.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, app_ids
		FROM credentials
		WHERE user_id IN (
			SELECT user_id FROM credentials GROUP BY user_id HAVING COUNT(*) > 1
		)
		ORDER BY user_id COLLATE BINARY ASC, seq ASC
	`)
	if err != nil {
		return nil, wrapErr("query duplicate groups", err)
	}
	defer rows.Close()

	groups := []credential.DuplicateGroup{}
	for rows.Next() {
		var (
			ref, userID string
			raw         sql.NullString
		)
		if err := rows.Scan(&ref, &userID, &raw); err != nil {
			return nil, wrapErr("scan duplicate member", err)
		}
		ids, ok := unmarshalAppIDs(raw)
		member := credential.Member{Ref: ref, AppIDs: ids, HasAppIDs: ok}

		if n := len(groups); n > 0 && groups[n-1].UserID == userID {
			groups[n-1].Members = append(groups[n-1].Members, member)
			continue
		}
		groups = append(groups, credential.DuplicateGroup{
			UserID:  userID,
			Members: []credential.Member{member},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate duplicate groups", err)
	}
	return groups, nil
}

func (s *Store) listCredentials(ctx context.Context, op, query string, args ...any) ([]credential.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	// Return empty slice (not nil) for consistency
	creds := []credential.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return creds, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(sc scanner) (credential.Credential, error) {
	var (
		c                                   credential.Credential
		password, first, last, title, email sql.NullString
		schoolID, schoolGroupID, appIDs     sql.NullString
		createdAt, updatedAt                string
	)
	err := sc.Scan(
		&c.Ref,
		&c.UserID,
		&password,
		&c.URL,
		&first,
		&last,
		&title,
		&email,
		&schoolID,
		&schoolGroupID,
		&c.DeviceID,
		&appIDs,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return credential.Credential{}, err
	}

	c.Password = optional(password)
	c.FirstName = optional(first)
	c.LastName = optional(last)
	c.Title = optional(title)
	c.Email = optional(email)
	c.SchoolID = optional(schoolID)
	c.SchoolGroupID = optional(schoolGroupID)
	c.AppIDs, c.HasAppIDs = unmarshalAppIDs(appIDs)

	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return credential.Credential{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return credential.Credential{}, err
	}
	return c, nil
}
