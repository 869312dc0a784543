package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/helpdesk-service/internal/domain"
)

// MemberRepository defines persistence access for member accounts.
type MemberRepository interface {
	Create(ctx context.Context, member *domain.Member) error
	Update(ctx context.Context, member *domain.Member) error
	GetByID(ctx context.Context, id string) (*domain.Member, error)
	GetByUsername(ctx context.Context, username string) (*domain.Member, error)
	SetRefreshToken(ctx context.Context, id string, token *string) error
	// RotateRefreshToken replaces the stored refresh token only if the
	// current stored value still equals oldToken. Returns pgx.ErrNoRows
	// when the guard fails, which callers report as an invalid refresh
	// token; this closes the concurrent-refresh race.
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error
	SetPassword(ctx context.Context, id, passwordHash string) error
	SetRole(ctx context.Context, id string, role domain.Role) error
	SetDeactivated(ctx context.Context, id string, deactivated bool) error
}

type memberRepository struct {
	pool *pgxpool.Pool
}

// NewMemberRepository returns a Postgres-backed implementation.
func NewMemberRepository(pool *pgxpool.Pool) MemberRepository {
	return &memberRepository{pool: pool}
}

const memberColumns = `id, username, name, password_hash, role, profile_pic, refresh_token, password_changed_at, deactivated_at, created_at, updated_at`

func scanMember(row pgx.Row) (*domain.Member, error) {
	var member domain.Member
	if err := row.Scan(
		&member.ID,
		&member.Username,
		&member.Name,
		&member.PasswordHash,
		&member.Role,
		&member.ProfilePic,
		&member.RefreshToken,
		&member.PasswordChangedAt,
		&member.DeactivatedAt,
		&member.CreatedAt,
		&member.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *memberRepository) Create(ctx context.Context, member *domain.Member) error {
	const query = `
        INSERT INTO members (username, name, password_hash, role, profile_pic)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		member.Username,
		member.Name,
		member.PasswordHash,
		member.Role,
		member.ProfilePic,
	).Scan(&member.ID, &member.CreatedAt, &member.UpdatedAt)
}

func (r *memberRepository) Update(ctx context.Context, member *domain.Member) error {
	const query = `
        UPDATE members SET name=$1, profile_pic=$2, updated_at=NOW()
        WHERE id=$3`

	cmd, err := r.pool.Exec(ctx, query, member.Name, member.ProfilePic, member.ID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *memberRepository) GetByID(ctx context.Context, id string) (*domain.Member, error) {
	const query = `SELECT ` + memberColumns + ` FROM members WHERE id=$1`
	return scanMember(r.pool.QueryRow(ctx, query, id))
}

func (r *memberRepository) GetByUsername(ctx context.Context, username string) (*domain.Member, error) {
	const query = `SELECT ` + memberColumns + ` FROM members WHERE username=$1`
	return scanMember(r.pool.QueryRow(ctx, query, username))
}

func (r *memberRepository) SetRefreshToken(ctx context.Context, id string, token *string) error {
	const query = `UPDATE members SET refresh_token=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, token, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *memberRepository) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string) error {
	const query = `
        UPDATE members SET refresh_token=$1, updated_at=NOW()
        WHERE id=$2 AND refresh_token=$3`
	cmd, err := r.pool.Exec(ctx, query, newToken, id, oldToken)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *memberRepository) SetPassword(ctx context.Context, id, passwordHash string) error {
	const query = `
        UPDATE members SET password_hash=$1, password_changed_at=NOW(), updated_at=NOW()
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, passwordHash, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *memberRepository) SetRole(ctx context.Context, id string, role domain.Role) error {
	const query = `UPDATE members SET role=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, role, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *memberRepository) SetDeactivated(ctx context.Context, id string, deactivated bool) error {
	const query = `
        UPDATE members
        SET deactivated_at = CASE WHEN $1 THEN NOW() ELSE NULL END, updated_at=NOW()
        WHERE id=$2`
	cmd, err := r.pool.Exec(ctx, query, deactivated, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
