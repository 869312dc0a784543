package domain

import "time"

// Role enumerates member permission tiers.
type Role string

const (
	RoleMember  Role = "MEMBER"
	RoleManager Role = "MANAGER"
	RoleAdmin   Role = "ADMIN"
)

// Member models an account: end-users filing tickets and managers triaging them.
type Member struct {
	ID                string
	Username          string
	Name              string
	PasswordHash      string
	Role              Role
	ProfilePic        string
	RefreshToken      *string
	PasswordChangedAt *time.Time
	DeactivatedAt     *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Active reports whether the member may authenticate.
func (m *Member) Active() bool {
	return m.DeactivatedAt == nil
}
