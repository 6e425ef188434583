package user

import (
	"strings"
	"time"

	"timesheet-auth-svc/src/internal/identity"

	"github.com/google/uuid"
)

// subjectNamespace scopes the name-based UUIDs derived from IdP subject identifiers.
var subjectNamespace = uuid.MustParse("6f1d3c8e-2b7a-4c59-9e1f-0a4d7b2c5e83")

type User struct {
	ID          string     `json:"id" bson:"_id"`
	SubjectID   string     `json:"subjectId" bson:"subject_id"`
	Email       string     `json:"email" bson:"email"`
	DisplayName string     `json:"displayName" bson:"display_name"`
	GivenName   string     `json:"givenName" bson:"first_name"`
	FamilyName  string     `json:"familyName" bson:"last_name"`
	Role        string     `json:"role" bson:"role"`
	IsActive    bool       `json:"isActive" bson:"is_active"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" bson:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" bson:"updated_at"`
}

// Profile is the IdP-owned part of a user, refreshed on every login.
type Profile struct {
	ID          string
	SubjectID   string
	Email       string
	DisplayName string
	GivenName   string
	FamilyName  string
}

// Role constants
const (
	RoleAdmin    = "admin"
	RoleEmployee = "employee"
)

// IDFromSubject derives the stable user id for an IdP subject. The same subject always maps to
// the same id, case-insensitively.
func IDFromSubject(subjectID string) string {
	normalized := strings.ToLower(strings.TrimSpace(subjectID))
	return uuid.NewSHA1(subjectNamespace, []byte(normalized)).String()
}

// ProfileFromIdentity maps a validated identity onto the stored profile fields.
func ProfileFromIdentity(id *identity.Identity) *Profile {
	return &Profile{
		ID:          IDFromSubject(id.SubjectID),
		SubjectID:   id.SubjectID,
		Email:       id.Email,
		DisplayName: id.DisplayName(),
		GivenName:   id.GivenName,
		FamilyName:  id.FamilyName,
	}
}

// IsAdmin checks if user is admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
