package credential

import (
	"fmt"
	"slices"
)

// Origin identifies one of the source systems being consolidated.
type Origin string

const (
	OriginStaff    Origin = "staff"
	OriginGuardian Origin = "guardian"
)

// Origins lists every known origin in a stable order.
var Origins = []Origin{OriginStaff, OriginGuardian}

// Application identifiers granted as entitlements.
const (
	AppInstitute = "InstituteApp"
	AppMentor    = "MentorApp"
	AppParent    = "ParentApp"
	AppScholar   = "ScholarApp"
)

// ParseOrigin converts a command-line or config value to an Origin.
func ParseOrigin(s string) (Origin, error) {
	o := Origin(s)
	if slices.Contains(Origins, o) {
		return o, nil
	}
	return "", fmt.Errorf("unknown origin %q: must be one of %v", s, Origins)
}

// Entitlements returns the fixed application set an origin grants.
// The returned slice is a fresh copy.
func (o Origin) Entitlements() []string {
	switch o {
	case OriginStaff:
		return []string{AppInstitute, AppMentor}
	case OriginGuardian:
		return []string{AppParent}
	}
	return nil
}

// ValidationApp is the entitlement used to find an origin's credentials
// in the target dataset when validating a run.
func (o Origin) ValidationApp() string {
	switch o {
	case OriginStaff:
		return AppMentor
	case OriginGuardian:
		return AppParent
	}
	return ""
}

// Exclusion returns the predicate that removes departed records at the source.
func (o Origin) Exclusion() *Exclusion {
	switch o {
	case OriginStaff:
		return &Exclusion{Field: "title", Value: "Left"}
	case OriginGuardian:
		return &Exclusion{Field: "isLeave", Value: true}
	}
	return nil
}

// Exclusion drops source records whose Field equals Value.
// Records where Field is absent are kept.
type Exclusion struct {
	Field string
	Value any
}

func (e *Exclusion) String() string {
	if e == nil {
		return "none"
	}
	return fmt.Sprintf("%s != %v", e.Field, e.Value)
}

// WebhookEntitlements mirrors the entitlement rules of the webhook ingestion
// path, which creates credentials without going through the engine.
func WebhookEntitlements(title string) []string {
	switch title {
	case "Teacher":
		return []string{AppInstitute, AppMentor}
	case "Parent":
		return []string{AppScholar}
	}
	return []string{}
}
