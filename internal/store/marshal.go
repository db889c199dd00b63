package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// errAppIDsNotArray mirrors a document store refusing to add to a
// non-array field.
var errAppIDsNotArray = errors.New("appId is not an array of strings")

// timeLayout keeps nanoseconds so timestamps round-trip exactly.
const timeLayout = time.RFC3339Nano

// marshalList encodes a string list as a JSON array. A nil list is stored as [].
func marshalList(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal list: %w", err)
	}
	return string(data), nil
}

// unmarshalAppIDs decodes a stored entitlement list.
// ok is false when the column is NULL or not an array of strings.
func unmarshalAppIDs(raw sql.NullString) (ids []string, ok bool) {
	if !raw.Valid {
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw.String), &ids); err != nil || ids == nil {
		return nil, false
	}
	return ids, true
}

// appIDsForUpdate decodes app_ids for a write. NULL is treated as an empty
// list; anything else that is not an array of strings fails the op.
func appIDsForUpdate(raw sql.NullString) ([]string, error) {
	if !raw.Valid {
		return []string{}, nil
	}
	ids, ok := unmarshalAppIDs(raw)
	if !ok {
		return nil, errAppIDsNotArray
	}
	return ids, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func optional(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
