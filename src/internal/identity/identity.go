package identity

import (
	"strings"
	"unicode"
)

// Identity is the normalized subject of a validated assertion.
type Identity struct {
	SubjectID  string `json:"subjectId"`
	Email      string `json:"email"`
	GivenName  string `json:"givenName"`
	FamilyName string `json:"familyName"`
}

// DisplayName joins the given and family names, falling back to the email address.
func (i *Identity) DisplayName() string {
	name := strings.TrimSpace(i.GivenName + " " + i.FamilyName)
	if name == "" {
		return i.Email
	}
	return name
}

// namesFromEmail derives a given and family name from an address like "jane.doe@example.com".
func namesFromEmail(email string) (string, string) {
	local, _, _ := strings.Cut(email, "@")
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	if len(parts) == 0 {
		return "", ""
	}

	given := capitalize(parts[0])
	family := make([]string, 0, len(parts)-1)
	for _, p := range parts[1:] {
		family = append(family, capitalize(p))
	}
	return given, strings.Join(family, " ")
}

func capitalize(s string) string {
	runes := []rune(strings.ToLower(s))
	if len(runes) == 0 {
		return ""
	}
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
