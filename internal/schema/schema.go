// Package schema checks persisted credentials against an embedded CUE
// definition of the target shape.
package schema

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/credsync/internal/credential"
)

//go:embed credential.cue
var credentialCUE string

// Violation is one way a credential fails the schema.
type Violation struct {
	Ref     string `json:"ref"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s: %s", v.Ref, v.Field, v.Message)
}

// Checker validates credentials against #Credential.
// A Checker is not safe for concurrent use.
type Checker struct {
	ctx *cue.Context
	def cue.Value
}

// NewChecker compiles the embedded schema.
func NewChecker() (*Checker, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(credentialCUE, cue.Filename("credential.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile credential schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Credential"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile credential schema: #Credential not defined")
	}
	return &Checker{ctx: ctx, def: def}, nil
}

// Check returns the violations of c, or nil if it conforms.
func (ch *Checker) Check(c credential.Credential) []Violation {
	var out []Violation
	if !c.HasAppIDs {
		out = append(out, Violation{
			Ref:     c.Ref,
			Field:   string(credential.FieldAppID),
			Message: "missing or not a list of strings",
		})
	}

	unified := ch.def.Unify(ch.ctx.Encode(document(c)))
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		for _, e := range errors.Errors(err) {
			out = append(out, Violation{
				Ref:     c.Ref,
				Field:   fieldPath(e.Path()),
				Message: strings.TrimSpace(errorMessage(e)),
			})
		}
	}
	return out
}

// document renders c with datastore field names. Timestamps are left out;
// their type is enforced by the backends.
func document(c credential.Credential) map[string]any {
	doc := map[string]any{
		string(credential.FieldUserID):   c.UserID,
		string(credential.FieldURL):      c.URL,
		string(credential.FieldDeviceID): c.DeviceID,
	}
	appIDs := c.AppIDs
	if appIDs == nil {
		appIDs = []string{}
	}
	doc[string(credential.FieldAppID)] = appIDs
	for _, f := range []credential.Field{
		credential.FieldPassword,
		credential.FieldFirstName,
		credential.FieldLastName,
		credential.FieldEmail,
		credential.FieldTitle,
		credential.FieldSchoolID,
		credential.FieldSchoolGroupID,
	} {
		if v := c.Value(f); v != nil {
			doc[string(f)] = *v
		} else {
			doc[string(f)] = nil
		}
	}
	return doc
}

func fieldPath(path []string) string {
	parts := make([]string, 0, len(path))
	for _, p := range path {
		if p == "#Credential" {
			continue
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, ".")
}

func errorMessage(e errors.Error) string {
	format, args := e.Msg()
	return fmt.Sprintf(format, args...)
}
