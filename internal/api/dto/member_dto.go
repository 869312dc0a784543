package dto

import (
	"time"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// MemberSummary response.
type MemberSummary struct {
	ID         string      `json:"id"`
	Username   string      `json:"username"`
	Name       string      `json:"name"`
	Role       domain.Role `json:"role"`
	ProfilePic string      `json:"profile_pic,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewMemberSummary maps the domain model.
func NewMemberSummary(member *domain.Member) MemberSummary {
	return MemberSummary{
		ID:         member.ID,
		Username:   member.Username,
		Name:       member.Name,
		Role:       member.Role,
		ProfilePic: member.ProfilePic,
		CreatedAt:  member.CreatedAt,
	}
}

// UpdateProfileRequest payload.
type UpdateProfileRequest struct {
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic"`
}

// ChangeRoleRequest payload for admin role changes.
type ChangeRoleRequest struct {
	Role domain.Role `json:"role"`
}
