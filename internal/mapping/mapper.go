package mapping

import (
	"github.com/roach88/credsync/internal/credential"
)

// Options carries the per-deployment constants every origin stamps onto its records.
type Options struct {
	URL      string
	SchoolID string
}

// Map projects a source record onto a normalized credential record.
//
// Generic field mapping runs first; origin post-processing then overrides
// identity, entitlements, endpoint URL, school and device unconditionally.
// Map never fails. The boolean is false when the record has no resolvable
// identity; such records must be dropped by the caller.
func Map(rec credential.SourceRecord, opts Options) (credential.Record, bool) {
	var fields map[credential.Field]*string
	switch r := rec.(type) {
	case credential.StaffRecord:
		fields = project(StaffFieldMap, r.Attr)
	case credential.GuardianRecord:
		fields = project(GuardianFieldMap, r.Attr)
	}

	out := credential.Record{
		FirstName: fields[credential.FieldFirstName],
		LastName:  fields[credential.FieldLastName],
		Password:  fields[credential.FieldPassword],
		Email:     fields[credential.FieldEmail],
		Title:     fields[credential.FieldTitle],
	}

	userID, ok := rec.Identity()
	out.UserID = userID
	out.AppIDs = rec.Origin().Entitlements()
	out.URL = opts.URL
	out.SchoolID = credential.Str(opts.SchoolID)
	out.DeviceID = ""

	if rec.Origin() == credential.OriginGuardian {
		out.Title = credential.Str("Parent")
	}

	return out, ok
}

// MapAll maps a batch and returns the records with a resolvable identity
// together with the number dropped for lacking one.
func MapAll(recs []credential.SourceRecord, opts Options) ([]credential.Record, int) {
	out := make([]credential.Record, 0, len(recs))
	dropped := 0
	for _, rec := range recs {
		mapped, ok := Map(rec, opts)
		if !ok {
			dropped++
			continue
		}
		out = append(out, mapped)
	}
	return out, dropped
}
