package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/credsync/internal/credential"
)

// AssertionError is returned when an assertion fails.
// It includes the final target state to help debug the failure.
type AssertionError struct {
	Type     string                  // Assertion type for categorization
	Expected string                  // Human-readable expected outcome
	Actual   string                  // Human-readable actual outcome
	Final    []credential.Credential // Target state the assertion ran against
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFinal state:\n")
	for i, c := range e.Final {
		fmt.Fprintf(&buf, "  [%d] %s %s appId=%s\n", i+1, c.Ref, c.UserID, formatAppIDs(c))
	}

	return buf.String()
}

func formatAppIDs(c credential.Credential) string {
	if !c.HasAppIDs {
		return "<missing>"
	}
	return "[" + strings.Join(c.AppIDs, ",") + "]"
}

// byUserID returns the credentials for userID in creation order.
func byUserID(final []credential.Credential, userID string) []credential.Credential {
	var out []credential.Credential
	for _, c := range final {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

func assertCredentialCount(final []credential.Credential, a Assertion) error {
	got := len(byUserID(final, a.UserID))
	if got != a.Count {
		return &AssertionError{
			Type:     AssertCredentialCount,
			Expected: fmt.Sprintf("%d credentials for %s", a.Count, a.UserID),
			Actual:   fmt.Sprintf("%d credentials", got),
			Final:    final,
		}
	}
	return nil
}

// assertEntitlements compares the oldest credential's entitlements with the
// expected set, ignoring order.
func assertEntitlements(final []credential.Credential, a Assertion) error {
	matches := byUserID(final, a.UserID)
	if len(matches) == 0 {
		return &AssertionError{
			Type:     AssertEntitlements,
			Expected: fmt.Sprintf("credential for %s", a.UserID),
			Actual:   "not found",
			Final:    final,
		}
	}

	got := slices.Clone(matches[0].AppIDs)
	want := slices.Clone(a.AppIDs)
	slices.Sort(got)
	slices.Sort(want)
	if !matches[0].HasAppIDs || !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertEntitlements,
			Expected: fmt.Sprintf("%s entitled to [%s]", a.UserID, strings.Join(want, ",")),
			Actual:   formatAppIDs(matches[0]),
			Final:    final,
		}
	}
	return nil
}

func assertNoDuplicates(final []credential.Credential) error {
	seen := make(map[string]int, len(final))
	var dups []string
	for _, c := range final {
		seen[c.UserID]++
		if seen[c.UserID] == 2 {
			dups = append(dups, c.UserID)
		}
	}
	if len(dups) > 0 {
		return &AssertionError{
			Type:     AssertNoDuplicates,
			Expected: "one credential per user_id",
			Actual:   fmt.Sprintf("duplicates for %s", strings.Join(dups, ", ")),
			Final:    final,
		}
	}
	return nil
}

func assertTotalCount(final []credential.Credential, a Assertion) error {
	if len(final) != a.Count {
		return &AssertionError{
			Type:     AssertTotalCount,
			Expected: fmt.Sprintf("%d credentials", a.Count),
			Actual:   fmt.Sprintf("%d credentials", len(final)),
			Final:    final,
		}
	}
	return nil
}

// assertCanLogin runs the login check against the oldest credential, the one
// a lookup by user ID finds.
func assertCanLogin(final []credential.Credential, a Assertion) error {
	allowed := true
	if a.Allowed != nil {
		allowed = *a.Allowed
	}

	got := false
	if matches := byUserID(final, a.UserID); len(matches) > 0 {
		got = matches[0].Authenticate(a.Password, a.AppID)
	}
	if got != allowed {
		verb := map[bool]string{true: "allowed", false: "denied"}
		return &AssertionError{
			Type:     AssertCanLogin,
			Expected: fmt.Sprintf("login of %s to %s %s", a.UserID, a.AppID, verb[allowed]),
			Actual:   verb[got],
			Final:    final,
		}
	}
	return nil
}

func assertField(final []credential.Credential, a Assertion) error {
	matches := byUserID(final, a.UserID)
	if len(matches) == 0 {
		return &AssertionError{
			Type:     AssertField,
			Expected: fmt.Sprintf("credential for %s", a.UserID),
			Actual:   "not found",
			Final:    final,
		}
	}

	got := matches[0].Value(credential.Field(a.Field))
	if !equalOptional(got, a.Value) {
		return &AssertionError{
			Type:     AssertField,
			Expected: fmt.Sprintf("%s.%s = %s", a.UserID, a.Field, formatOptional(a.Value)),
			Actual:   formatOptional(got),
			Final:    final,
		}
	}
	return nil
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func formatOptional(s *string) string {
	if s == nil {
		return "null"
	}
	return fmt.Sprintf("%q", *s)
}

// EvaluateAssertions evaluates all assertions against the final target state.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(final []credential.Credential, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCredentialCount:
			err = assertCredentialCount(final, assertion)
		case AssertEntitlements:
			err = assertEntitlements(final, assertion)
		case AssertNoDuplicates:
			err = assertNoDuplicates(final)
		case AssertTotalCount:
			err = assertTotalCount(final, assertion)
		case AssertCanLogin:
			err = assertCanLogin(final, assertion)
		case AssertField:
			err = assertField(final, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
