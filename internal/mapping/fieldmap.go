// Package mapping projects origin-specific source records onto the normalized
// credential shape.
//
// A FieldMap is a static table from target field to source attribute. It is
// parameterised by the origin's field-name type, so a staff map cannot name a
// guardian attribute.
package mapping

import "github.com/roach88/credsync/internal/credential"

// FieldMap maps target credential fields to source attribute names.
type FieldMap[F ~string] map[credential.Field]F

// StaffFieldMap projects employee records.
var StaffFieldMap = FieldMap[credential.StaffField]{
	credential.FieldFirstName: credential.StaffFirstName,
	credential.FieldLastName:  credential.StaffLastName,
	credential.FieldPassword:  credential.StaffPassword,
	credential.FieldEmail:     credential.StaffEmail,
	credential.FieldTitle:     credential.StaffTitle,
}

// GuardianFieldMap projects dependent records onto their guardian's credential.
var GuardianFieldMap = FieldMap[credential.GuardianField]{
	credential.FieldFirstName: credential.GuardianFirstNameFather,
	credential.FieldLastName:  credential.GuardianLastNameFather,
	credential.FieldPassword:  credential.GuardianPassword,
	credential.FieldEmail:     credential.GuardianEmail,
	credential.FieldTitle:     credential.GuardianTitle,
}

// trimmed lists the display fields the credential store trims. Every other
// field, password included, is copied byte for byte.
var trimmed = map[credential.Field]bool{
	credential.FieldFirstName: true,
	credential.FieldLastName:  true,
	credential.FieldTitle:     true,
}

// project copies every mapped attribute, assigning nil where the source lacks it.
func project[F ~string](m FieldMap[F], attr func(F) *string) map[credential.Field]*string {
	out := make(map[credential.Field]*string, len(m))
	for target, src := range m {
		v := attr(src)
		if trimmed[target] {
			v = normalize(v)
		}
		out[target] = v
	}
	return out
}
