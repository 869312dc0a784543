package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/cache"
	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/repository"
	apperrors "github.com/spec-kit/helpdesk-service/pkg/util/errorutil"
)

// MemberService covers profile reads and the administrative mutations that
// invalidate outstanding tokens. Role changes and activation flips write a
// stale-claim flag so the gate rejects tokens issued before the change.
type MemberService struct {
	members      repository.MemberRepository
	roleChanges  *cache.StaleClaimRegistry
	deactivation *cache.StaleClaimRegistry
	dispatcher   events.Dispatcher
	logger       *zap.Logger
}

// NewMemberService builds the service.
func NewMemberService(members repository.MemberRepository, roleChanges, deactivation *cache.StaleClaimRegistry, dispatcher events.Dispatcher, logger *zap.Logger) *MemberService {
	return &MemberService{
		members:      members,
		roleChanges:  roleChanges,
		deactivation: deactivation,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

// Get returns the member record.
func (s *MemberService) Get(ctx context.Context, id string) (*domain.Member, error) {
	member, err := s.members.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return member, nil
}

// UpdateProfile updates display fields.
func (s *MemberService) UpdateProfile(ctx context.Context, id, name, profilePic string) (*domain.Member, error) {
	member, err := s.members.GetByID(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	member.Name = name
	member.ProfilePic = profilePic
	if err := s.members.Update(ctx, member); err != nil {
		return nil, apperrors.MapError(err)
	}
	return member, nil
}

// ChangeRole updates the member's role and flags outstanding tokens stale.
func (s *MemberService) ChangeRole(ctx context.Context, actorID, memberID string, role domain.Role) error {
	member, err := s.members.GetByID(ctx, memberID)
	if err != nil {
		return apperrors.MapError(err)
	}
	oldRole := member.Role
	if oldRole == role {
		return nil
	}
	if err := s.members.SetRole(ctx, memberID, role); err != nil {
		return apperrors.MapError(err)
	}
	s.roleChanges.Flag(memberID)
	s.logger.Info("member role changed",
		zap.String("member_id", memberID),
		zap.String("old_role", string(oldRole)),
		zap.String("new_role", string(role)))

	return s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventMemberRoleChanged,
		MemberID:  memberID,
		ActorID:   actorID,
		Timestamp: time.Now(),
		Payload:   events.MemberRoleChangedPayload{OldRole: oldRole, NewRole: role},
	})
}

// Deactivate soft-deletes the member and flags outstanding tokens stale.
func (s *MemberService) Deactivate(ctx context.Context, actorID, memberID string) error {
	if err := s.members.SetDeactivated(ctx, memberID, true); err != nil {
		return apperrors.MapError(err)
	}
	s.deactivation.Flag(memberID)
	s.logger.Info("member deactivated", zap.String("member_id", memberID))

	return s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventMemberDeactivated,
		MemberID:  memberID,
		ActorID:   actorID,
		Timestamp: time.Now(),
	})
}

// Reactivate clears the soft delete. Tokens issued while deactivated are
// flagged stale as well; the member must log in again.
func (s *MemberService) Reactivate(ctx context.Context, actorID, memberID string) error {
	if err := s.members.SetDeactivated(ctx, memberID, false); err != nil {
		return apperrors.MapError(err)
	}
	s.deactivation.Flag(memberID)
	s.logger.Info("member reactivated", zap.String("member_id", memberID), zap.String("actor_id", actorID))
	return nil
}
