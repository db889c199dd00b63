package credential

import "time"

// Field names an attribute of a target credential, using the datastore's field names.
type Field string

const (
	FieldUserID        Field = "userId"
	FieldAppID         Field = "appId"
	FieldFirstName     Field = "firstName"
	FieldLastName      Field = "lastName"
	FieldPassword      Field = "password"
	FieldEmail         Field = "email"
	FieldTitle         Field = "title"
	FieldURL           Field = "url"
	FieldDeviceID      Field = "deviceId"
	FieldSchoolID      Field = "schoolId"
	FieldSchoolGroupID Field = "schoolGroupId"
	FieldCreatedAt     Field = "createdAt"
	FieldUpdatedAt     Field = "updatedAt"
)

// OwnedFields are the profile attributes an origin run overwrites
// unconditionally (last write wins per origin per field).
var OwnedFields = []Field{
	FieldFirstName,
	FieldLastName,
	FieldPassword,
	FieldEmail,
	FieldTitle,
	FieldDeviceID,
	FieldURL,
	FieldSchoolID,
}

// Record is a source record projected onto the target credential shape.
// Nil profile fields are explicit nulls.
type Record struct {
	UserID        string   `json:"user_id"`
	AppIDs        []string `json:"app_ids"`
	FirstName     *string  `json:"first_name"`
	LastName      *string  `json:"last_name"`
	Password      *string  `json:"password"`
	Email         *string  `json:"email"`
	Title         *string  `json:"title"`
	SchoolID      *string  `json:"school_id"`
	SchoolGroupID *string  `json:"school_group_id"`
	URL           string   `json:"url"`
	DeviceID      string   `json:"device_id"`
}

// Value returns the record's value for an owned field as an optional string.
// URL and DeviceID are never null.
func (r Record) Value(f Field) *string {
	switch f {
	case FieldFirstName:
		return r.FirstName
	case FieldLastName:
		return r.LastName
	case FieldPassword:
		return r.Password
	case FieldEmail:
		return r.Email
	case FieldTitle:
		return r.Title
	case FieldSchoolID:
		return r.SchoolID
	case FieldSchoolGroupID:
		return r.SchoolGroupID
	case FieldURL:
		u := r.URL
		return &u
	case FieldDeviceID:
		d := r.DeviceID
		return &d
	case FieldUserID:
		id := r.UserID
		return &id
	}
	return nil
}

// Timestamps are the audit fields of a persisted credential.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
