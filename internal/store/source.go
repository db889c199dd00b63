package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/credsync/internal/credential"
)

// InsertSource adds one origin document to the source dataset.
func (s *Store) InsertSource(ctx context.Context, origin credential.Origin, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s source document: %w", origin, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_records (origin, doc) VALUES (?, ?)`,
		string(origin), string(data))
	if err != nil {
		return wrapErr("insert source record", err)
	}
	return nil
}

// Count returns the number of origin documents passing excl.
// A nil exclusion counts every document of the origin.
func (s *Store) Count(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) (int64, error) {
	where, args, err := sourceFilter(origin, excl)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM source_records WHERE `+where, args...).Scan(&n); err != nil {
		return 0, wrapErr("count source records", err)
	}
	return n, nil
}

// Find returns the origin documents passing excl, in insertion order.
func (s *Store) Find(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) ([]credential.SourceRecord, error) {
	where, args, err := sourceFilter(origin, excl)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM source_records WHERE `+where+` ORDER BY seq ASC`, args...)
	if err != nil {
		return nil, wrapErr("query source records", err)
	}
	defer rows.Close()

	records := []credential.SourceRecord{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr("scan source record", err)
		}
		doc := map[string]any{}
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode %s source document: %w", origin, err)
		}
		rec, err := credential.DecodeSource(origin, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("iterate source records", err)
	}
	return records, nil
}

// sourceFilter renders "field is absent or not equal to value".
// Comparison is type-strict: a string "true" does not match a boolean true.
func sourceFilter(origin credential.Origin, excl *credential.Exclusion) (string, []any, error) {
	where := `origin = ?`
	args := []any{string(origin)}
	if excl == nil {
		return where, args, nil
	}

	path := "$." + excl.Field
	switch v := excl.Value.(type) {
	case string:
		where += ` AND NOT (json_type(doc, ?) IS 'text' AND json_extract(doc, ?) = ?)`
		args = append(args, path, path, v)
	case bool:
		jsonType := "false"
		if v {
			jsonType = "true"
		}
		where += ` AND json_type(doc, ?) IS NOT ?`
		args = append(args, path, jsonType)
	default:
		return "", nil, fmt.Errorf("unsupported exclusion value %T for field %q", excl.Value, excl.Field)
	}
	return where, args, nil
}
