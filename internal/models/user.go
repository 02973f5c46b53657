package models

import (
	"strings"
	"time"
)

// Role is the coarse role attached to a user record. Policy evaluation on it
// happens outside this service.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// LocalProvider is the provider name used for password-based accounts.
const LocalProvider = "local"

// User represents a durable identity record. Several provider identities may
// map to one User through ProviderLink rows.
type User struct {
	ID                       string    `bson:"_id" json:"id"`
	Email                    *string   `bson:"email,omitempty" json:"email,omitempty"`
	PasswordHash             *string   `bson:"passwordHash,omitempty" json:"-"`
	DisplayName              *string   `bson:"displayName,omitempty" json:"displayName,omitempty"`
	Role                     Role      `bson:"role" json:"role"`
	EmailVerified            bool      `bson:"emailVerified" json:"emailVerified"`
	Active                   bool      `bson:"active" json:"active"`
	PrimaryProvider          *string   `bson:"primaryProvider,omitempty" json:"primaryProvider,omitempty"`
	PrimaryProviderAccountID *string   `bson:"primaryProviderAccountId,omitempty" json:"primaryProviderAccountId,omitempty"`
	CreatedAt                time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt                time.Time `bson:"updatedAt" json:"updatedAt"`
}

// ProviderLink binds one (provider, provider account id) pair to a User.
type ProviderLink struct {
	ID                string    `bson:"_id" json:"id"`
	UserID            string    `bson:"userId" json:"userId"`
	Provider          string    `bson:"provider" json:"provider"`
	ProviderAccountID string    `bson:"providerAccountId" json:"providerAccountId"`
	LinkedEmail       *string   `bson:"linkedEmail,omitempty" json:"linkedEmail,omitempty"`
	LinkedAt          time.Time `bson:"linkedAt" json:"linkedAt"`
}

// EmailValue returns the email or "" for identity-only accounts.
func (u *User) EmailValue() string {
	if u == nil || u.Email == nil {
		return ""
	}
	return *u.Email
}

// IsLocal reports whether the account authenticates with a password.
func (u *User) IsLocal() bool {
	return u.PrimaryProvider != nil && *u.PrimaryProvider == LocalProvider
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Email = cloneStr(u.Email)
	c.PasswordHash = cloneStr(u.PasswordHash)
	c.DisplayName = cloneStr(u.DisplayName)
	c.PrimaryProvider = cloneStr(u.PrimaryProvider)
	c.PrimaryProviderAccountID = cloneStr(u.PrimaryProviderAccountID)
	return &c
}

// Clone returns a deep copy of the link.
func (l *ProviderLink) Clone() *ProviderLink {
	if l == nil {
		return nil
	}
	c := *l
	c.LinkedEmail = cloneStr(l.LinkedEmail)
	return &c
}

// NormalizeEmail lower-cases and trims an email so uniqueness is case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// StrPtr returns nil for "" and a pointer to s otherwise.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
