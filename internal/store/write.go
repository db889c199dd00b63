package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/upsert"
)

// columns maps credential fields to their SQLite columns.
var columns = map[credential.Field]string{
	credential.FieldUserID:        "user_id",
	credential.FieldFirstName:     "first_name",
	credential.FieldLastName:      "last_name",
	credential.FieldPassword:      "password",
	credential.FieldEmail:         "email",
	credential.FieldTitle:         "title",
	credential.FieldURL:           "url",
	credential.FieldDeviceID:      "device_id",
	credential.FieldSchoolID:      "school_id",
	credential.FieldSchoolGroupID: "school_group_id",
}

// ApplyBatch executes ops without ordering guarantees between them.
//
// Each op runs in its own transaction against the oldest credential with
// the op's user_id. An op that cannot be applied is recorded in the result
// and the batch continues. Connectivity loss and context cancellation stop
// the batch; the partial result is returned with the error.
func (s *Store) ApplyBatch(ctx context.Context, ops []upsert.Op) (upsert.Result, error) {
	var res upsert.Result
	for i, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("apply batch: %w", err)
		}
		outcome, err := s.applyOp(ctx, op)
		if err != nil {
			if fatal(err) {
				return res, fmt.Errorf("apply batch: op %d: %w", i, err)
			}
			res.Fail(i, op.UserID, err)
			continue
		}
		res.Record(outcome)
	}
	return res, nil
}

func (s *Store) applyOp(ctx context.Context, op upsert.Op) (upsert.Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var (
		ref     string
		appIDs  sql.NullString
		current = map[credential.Field]*string{}
		vals    = make([]sql.NullString, len(op.Overwrite))
		targets = make([]any, 0, len(op.Overwrite)+2)
	)
	targets = append(targets, &ref, &appIDs)
	cols := make([]string, 0, len(op.Overwrite))
	for i, a := range op.Overwrite {
		col, ok := columns[a.Field]
		if !ok || a.Field == credential.FieldUserID {
			return 0, fmt.Errorf("field %q cannot be overwritten", a.Field)
		}
		cols = append(cols, col)
		targets = append(targets, &vals[i])
	}

	query := `SELECT id, app_ids`
	for _, col := range cols {
		query += ", " + col
	}
	query += ` FROM credentials WHERE user_id = ? ORDER BY seq ASC LIMIT 1`

	err = tx.QueryRowContext(ctx, query, op.UserID).Scan(targets...)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.insertOp(ctx, tx, op, cols); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, wrapErr("commit insert", err)
		}
		return upsert.OutcomeInserted, nil
	}
	if err != nil {
		return 0, wrapErr("select credential", err)
	}

	for i, a := range op.Overwrite {
		current[a.Field] = optional(vals[i])
	}
	have, err := appIDsForUpdate(appIDs)
	if err != nil {
		return 0, err
	}

	next, merged, changed := upsert.Apply(op, current, have)
	if !changed {
		return upsert.OutcomeMatched, nil
	}

	mergedJSON, err := marshalList(merged)
	if err != nil {
		return 0, err
	}
	set := make([]string, 0, len(cols)+2)
	args := make([]any, 0, len(cols)+3)
	for i, col := range cols {
		set = append(set, col+" = ?")
		args = append(args, nullString(next[op.Overwrite[i].Field]))
	}
	set = append(set, "app_ids = ?", "updated_at = ?")
	args = append(args, mergedJSON, formatTime(op.UpdatedAt), ref)

	if _, err := tx.ExecContext(ctx,
		`UPDATE credentials SET `+strings.Join(set, ", ")+` WHERE id = ?`, args...); err != nil {
		return 0, wrapErr("update credential", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, wrapErr("commit update", err)
	}
	return upsert.OutcomeModified, nil
}

func (s *Store) insertOp(ctx context.Context, tx *sql.Tx, op upsert.Op, cols []string) error {
	appIDs, err := marshalList(op.Union)
	if err != nil {
		return err
	}
	names := append([]string{"id", "user_id", "app_ids", "created_at", "updated_at"}, cols...)
	args := []any{
		s.newRef(),
		op.InsertOnly.UserID,
		appIDs,
		formatTime(op.InsertOnly.CreatedAt),
		formatTime(op.UpdatedAt),
	}
	for _, a := range op.Overwrite {
		args = append(args, nullString(a.Value))
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credentials (`+strings.Join(names, ", ")+`) VALUES (`+placeholders+`)`, args...); err != nil {
		return wrapErr("insert credential", err)
	}
	return nil
}

// InsertCredential stores rec as a new credential without looking for an
// existing one, the way an independent writer does. It returns the new ref.
func (s *Store) InsertCredential(ctx context.Context, rec credential.Record) (string, error) {
	appIDs, err := marshalList(rec.AppIDs)
	if err != nil {
		return "", err
	}
	ref := s.newRef()
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials
		(id, user_id, password, url, first_name, last_name, title, email, school_id, school_group_id, device_id, app_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ref,
		rec.UserID,
		nullString(rec.Password),
		rec.URL,
		nullString(rec.FirstName),
		nullString(rec.LastName),
		nullString(rec.Title),
		nullString(rec.Email),
		nullString(rec.SchoolID),
		nullString(rec.SchoolGroupID),
		rec.DeviceID,
		appIDs,
		now,
		now,
	)
	if err != nil {
		return "", wrapErr("insert credential", err)
	}
	return ref, nil
}

// AddEntitlements adds appIDs missing from the credential ref.
// updated_at is left alone; only the entitlement set changes.
func (s *Store) AddEntitlements(ctx context.Context, ref string, appIDs []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT app_ids FROM credentials WHERE id = ?`, ref).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("add entitlements to %s: %w", ref, credential.ErrNotFound)
	}
	if err != nil {
		return wrapErr("select app_ids", err)
	}

	have, err := appIDsForUpdate(raw)
	if err != nil {
		return fmt.Errorf("add entitlements to %s: %w", ref, err)
	}
	missing := credential.MissingAppIDs(have, appIDs)
	if len(missing) == 0 {
		return nil
	}
	merged, err := marshalList(credential.UnionAppIDs(have, missing))
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE credentials SET app_ids = ? WHERE id = ?`, merged, ref); err != nil {
		return wrapErr("update app_ids", err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr("commit app_ids", err)
	}
	return nil
}

// DeleteRefs removes the credentials with the given refs and returns how
// many rows went away.
func (s *Store) DeleteRefs(ctx context.Context, refs []string) (int64, error) {
	if len(refs) == 0 {
		return 0, nil
	}
	list, err := marshalList(refs)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE id IN (SELECT value FROM json_each(?))`, list)
	if err != nil {
		return 0, wrapErr("delete credentials", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("delete credentials", err)
	}
	return n, nil
}
