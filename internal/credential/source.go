package credential

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SourceRecord is a read-only record from one origin.
//
// The set of implementations is closed: StaffRecord and GuardianRecord.
// Code that needs origin-specific behaviour type-switches over the two.
type SourceRecord interface {
	Origin() Origin

	// Identity returns the userId the record resolves to, or false when
	// every identity attribute is absent or blank.
	Identity() (string, bool)

	// Departed reports whether the origin's exclusion predicate matches.
	Departed() bool

	sourceRecord()
}

// StaffField names an attribute of a staff source record.
type StaffField string

const (
	StaffEmployeeID StaffField = "employeeID"
	StaffFirstName  StaffField = "firstName"
	StaffLastName   StaffField = "lastName"
	StaffPassword   StaffField = "password"
	StaffEmail      StaffField = "email"
	StaffTitle      StaffField = "title"
)

// StaffRecord is an employee account from the staff origin.
type StaffRecord struct {
	EmployeeID *string
	FirstName  *string
	LastName   *string
	Password   *string
	Email      *string
	Title      *string
}

func (StaffRecord) Origin() Origin { return OriginStaff }
func (StaffRecord) sourceRecord()  {}

// Attr returns the named attribute, or nil when absent.
func (r StaffRecord) Attr(f StaffField) *string {
	switch f {
	case StaffEmployeeID:
		return r.EmployeeID
	case StaffFirstName:
		return r.FirstName
	case StaffLastName:
		return r.LastName
	case StaffPassword:
		return r.Password
	case StaffEmail:
		return r.Email
	case StaffTitle:
		return r.Title
	}
	return nil
}

func (r StaffRecord) Identity() (string, bool) {
	return firstPresent(r.EmployeeID)
}

// Departed matches staff whose title marks them as having left.
func (r StaffRecord) Departed() bool {
	return r.Title != nil && *r.Title == "Left"
}

// GuardianField names an attribute of a guardian/dependent source record.
type GuardianField string

const (
	GuardianParentID        GuardianField = "parentId"
	GuardianChildID         GuardianField = "childID"
	GuardianFirstNameFather GuardianField = "firstNameFather"
	GuardianLastNameFather  GuardianField = "lastNameFather"
	GuardianPassword        GuardianField = "password"
	GuardianEmail           GuardianField = "emailAddressOfAParent"
	GuardianTitle           GuardianField = "title"
	GuardianIsLeave         GuardianField = "isLeave"
)

// GuardianRecord is a dependent (child) record carrying its guardian's login.
// Several children may resolve to the same guardian identity.
type GuardianRecord struct {
	ParentID              *string
	ChildID               *string
	FirstNameFather       *string
	LastNameFather        *string
	Password              *string
	EmailAddressOfAParent *string
	Title                 *string
	IsLeave               *bool
}

func (GuardianRecord) Origin() Origin { return OriginGuardian }
func (GuardianRecord) sourceRecord()  {}

// Attr returns the named string attribute, or nil when absent.
// GuardianIsLeave is boolean and always returns nil here.
func (r GuardianRecord) Attr(f GuardianField) *string {
	switch f {
	case GuardianParentID:
		return r.ParentID
	case GuardianChildID:
		return r.ChildID
	case GuardianFirstNameFather:
		return r.FirstNameFather
	case GuardianLastNameFather:
		return r.LastNameFather
	case GuardianPassword:
		return r.Password
	case GuardianEmail:
		return r.EmailAddressOfAParent
	case GuardianTitle:
		return r.Title
	case GuardianIsLeave:
		return nil
	}
	return nil
}

// Identity prefers the guardian id and falls back to the child id.
func (r GuardianRecord) Identity() (string, bool) {
	return firstPresent(r.ParentID, r.ChildID)
}

// Departed matches records explicitly flagged as on leave.
func (r GuardianRecord) Departed() bool {
	return r.IsLeave != nil && *r.IsLeave
}

func firstPresent(candidates ...*string) (string, bool) {
	for _, c := range candidates {
		if c == nil {
			continue
		}
		if id := strings.TrimSpace(*c); id != "" {
			return id, true
		}
	}
	return "", false
}

// DecodeSource builds the origin's record variant from a loosely typed
// document (BSON, JSON or YAML decoded into a map). Scalar values are
// coerced to strings; unknown keys are ignored.
func DecodeSource(origin Origin, doc map[string]any) (SourceRecord, error) {
	switch origin {
	case OriginStaff:
		return StaffRecord{
			EmployeeID: stringAttr(doc, string(StaffEmployeeID)),
			FirstName:  stringAttr(doc, string(StaffFirstName)),
			LastName:   stringAttr(doc, string(StaffLastName)),
			Password:   stringAttr(doc, string(StaffPassword)),
			Email:      stringAttr(doc, string(StaffEmail)),
			Title:      stringAttr(doc, string(StaffTitle)),
		}, nil
	case OriginGuardian:
		return GuardianRecord{
			ParentID:              stringAttr(doc, string(GuardianParentID)),
			ChildID:               stringAttr(doc, string(GuardianChildID)),
			FirstNameFather:       stringAttr(doc, string(GuardianFirstNameFather)),
			LastNameFather:        stringAttr(doc, string(GuardianLastNameFather)),
			Password:              stringAttr(doc, string(GuardianPassword)),
			EmailAddressOfAParent: stringAttr(doc, string(GuardianEmail)),
			Title:                 stringAttr(doc, string(GuardianTitle)),
			IsLeave:               boolAttr(doc, string(GuardianIsLeave)),
		}, nil
	}
	return nil, fmt.Errorf("decode source: unknown origin %q", origin)
}

func stringAttr(doc map[string]any, key string) *string {
	v, ok := doc[key]
	if !ok || v == nil {
		return nil
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case int:
		s = strconv.Itoa(t)
	case int32:
		s = strconv.FormatInt(int64(t), 10)
	case int64:
		s = strconv.FormatInt(t, 10)
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		s = t.String()
	case bool:
		s = strconv.FormatBool(t)
	case interface{ Hex() string }: // BSON ObjectID
		s = t.Hex()
	default:
		s = fmt.Sprint(t)
	}
	return &s
}

// boolAttr only honours real booleans, matching a strict `=== true` check
// on the source side.
func boolAttr(doc map[string]any, key string) *bool {
	v, ok := doc[key].(bool)
	if !ok {
		return nil
	}
	return &v
}

// Str returns a pointer to s. Convenience for optional fields in tests and fixtures.
func Str(s string) *string {
	return &s
}
