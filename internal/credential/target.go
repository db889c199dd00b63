package credential

import "slices"

// Credential is a persisted record in the shared target dataset.
//
// HasAppIDs distinguishes an empty entitlement list from a missing or
// malformed one written by another party.
type Credential struct {
	Ref string `json:"ref"`
	Record
	HasAppIDs bool `json:"has_app_ids"`
	Timestamps
}

// CanAccess is the login path's entitlement check: the application must be
// a member of the credential's entitlement collection.
func (c Credential) CanAccess(appID string) bool {
	return c.HasAppIDs && slices.Contains(c.AppIDs, appID)
}

// Authenticate reports whether a submitted secret and application may log in.
// The credential stores the secret as provisioned by its origin.
func (c Credential) Authenticate(password, appID string) bool {
	if c.Password == nil || *c.Password != password {
		return false
	}
	return c.CanAccess(appID)
}

// Member is one record of a DuplicateGroup.
type Member struct {
	Ref       string   `json:"ref"`
	AppIDs    []string `json:"app_ids"`
	HasAppIDs bool     `json:"has_app_ids"`
}

// Entitled reports whether the member carries at least one entitlement.
func (m Member) Entitled() bool {
	return m.HasAppIDs && len(m.AppIDs) > 0
}

// DuplicateGroup is every credential currently sharing one UserID.
// Members are in creation order. Never persisted.
type DuplicateGroup struct {
	UserID  string   `json:"user_id"`
	Members []Member `json:"members"`
}

// UnionAppIDs merges entitlement lists, keeping first-seen order and
// dropping repeats. Used wherever entitlements accumulate.
func UnionAppIDs(lists ...[]string) []string {
	out := []string{}
	for _, list := range lists {
		for _, id := range list {
			if !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

// MissingAppIDs returns the entries of add that are absent from have.
func MissingAppIDs(have, add []string) []string {
	var out []string
	for _, id := range add {
		if !slices.Contains(have, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
