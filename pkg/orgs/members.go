package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

// GetMembers lists the members of a live organization
func (s *PostgresService) GetMembers(ctx context.Context, orgID string) ([]MemberInfo, error) {
	if _, err := s.getOrganization(ctx, s.db, orgID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.user_id, u.email, m.role
		FROM org_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.org_id = $1 AND u.is_deleted = FALSE
		ORDER BY m.joined_at, m.user_id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []MemberInfo{}
	for rows.Next() {
		var m MemberInfo
		if err := rows.Scan(&m.UserID, &m.Email, &m.Role); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// InviteUser issues an invitation to email. The actor must own the
// organization.
func (s *PostgresService) InviteUser(ctx context.Context, actorID, orgID, email string) (inv *Invitation, err error) {
	defer func() { s.metrics.ObserveOrgOperation("invite", err) }()

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apierr.BadRequest("email is required")
	}
	if err := requireOwner(ctx, s.db, actorID, orgID); err != nil {
		return nil, err
	}
	if _, err := s.getOrganization(ctx, s.db, orgID); err != nil {
		return nil, err
	}

	token, err := generateInviteToken()
	if err != nil {
		return nil, fmt.Errorf("failed to generate invitation token: %w", err)
	}

	inv = &Invitation{
		Token:     token,
		OrgID:     orgID,
		Email:     email,
		Role:      RoleMember,
		InvitedBy: actorID,
		ExpiresAt: s.now().Add(s.inviteTTL).UTC(),
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO org_invitations (token, org_id, email, role, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		inv.Token, inv.OrgID, inv.Email, inv.Role, inv.InvitedBy, inv.ExpiresAt,
	).Scan(&inv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

// AcceptInvitation redeems token for userID. The invitation row is locked
// for the duration of the transaction, so a token resolves at most once.
// The organization becomes the user's active one if none is selected.
func (s *PostgresService) AcceptInvitation(ctx context.Context, token, userID string) (m *Membership, err error) {
	defer func() { s.metrics.ObserveOrgOperation("accept_invite", err) }()

	if strings.TrimSpace(token) == "" {
		return nil, apierr.BadRequest("invite_token is required")
	}

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var orgID string
		var role Role
		var expiresAt time.Time
		var acceptedAt sql.NullTime

		err := tx.QueryRowContext(ctx, `
			SELECT org_id, role, expires_at, accepted_at
			FROM org_invitations
			WHERE token = $1
			FOR UPDATE`, token,
		).Scan(&orgID, &role, &expiresAt, &acceptedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return apierr.NotFound("Invitation not found")
		}
		if err != nil {
			return fmt.Errorf("failed to get invitation: %w", err)
		}
		if acceptedAt.Valid {
			return apierr.BadRequest("Invitation already accepted")
		}
		if s.now().After(expiresAt) {
			return apierr.BadRequest("Invitation expired")
		}
		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO org_members (user_id, org_id, role, is_owner)
			VALUES ($1, $2, $3, FALSE)
			ON CONFLICT (user_id, org_id) DO NOTHING`,
			userID, orgID, role,
		); err != nil {
			return fmt.Errorf("failed to add member: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE org_invitations SET accepted_at = NOW(), accepted_by = $1 WHERE token = $2`,
			userID, token,
		); err != nil {
			return fmt.Errorf("failed to mark invitation accepted: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO active_org_context (user_id, org_id, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (user_id) DO NOTHING`,
			userID, orgID,
		); err != nil {
			return fmt.Errorf("failed to set active organization: %w", err)
		}

		m = &Membership{OrgID: orgID, UserID: userID}
		if err := tx.QueryRowContext(ctx,
			`SELECT role, is_owner FROM org_members WHERE user_id = $1 AND org_id = $2`,
			userID, orgID,
		).Scan(&m.Role, &m.IsOwner); err != nil {
			return fmt.Errorf("failed to read membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RemoveMember deletes targetID's membership. The actor must own the
// organization and the last owner cannot be removed. An active context
// pointing at the organization is cleared.
func (s *PostgresService) RemoveMember(ctx context.Context, actorID, orgID, targetID string) (err error) {
	defer func() { s.metrics.ObserveOrgOperation("remove_member", err) }()

	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		if err := requireOwner(ctx, tx, actorID, orgID); err != nil {
			return err
		}
		targetIsOwner, err := memberIsOwner(ctx, tx, targetID, orgID)
		if err != nil {
			return err
		}
		if targetIsOwner {
			if err := requireOtherOwner(ctx, tx, orgID, targetID, "remove"); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM org_members WHERE user_id = $1 AND org_id = $2`, targetID, orgID,
		); err != nil {
			return fmt.Errorf("failed to remove member: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM active_org_context WHERE user_id = $1 AND org_id = $2`, targetID, orgID,
		); err != nil {
			return fmt.Errorf("failed to clear active organization: %w", err)
		}
		return nil
	})
}

// UpdateMemberRole sets targetID's role; is_owner follows it. The last owner
// cannot be demoted.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, actorID, orgID, targetID string, role Role) (err error) {
	defer func() { s.metrics.ObserveOrgOperation("update_role", err) }()

	if !role.Valid() {
		return apierr.BadRequest("invalid role %q: must be %q or %q", role, RoleOwner, RoleMember)
	}

	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		if err := requireOwner(ctx, tx, actorID, orgID); err != nil {
			return err
		}
		targetIsOwner, err := memberIsOwner(ctx, tx, targetID, orgID)
		if err != nil {
			return err
		}
		if targetIsOwner && role != RoleOwner {
			if err := requireOtherOwner(ctx, tx, orgID, targetID, "demote"); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE org_members SET role = $3, is_owner = $4 WHERE user_id = $1 AND org_id = $2`,
			targetID, orgID, role, role == RoleOwner,
		); err != nil {
			return fmt.Errorf("failed to update member role: %w", err)
		}
		return nil
	})
}

// CleanupExpiredInvitations deletes unaccepted invitations past their expiry
// and returns how many were removed.
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM org_invitations WHERE expires_at < NOW() AND accepted_at IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired invitations: %w", err)
	}
	return n, nil
}

// requireOwner fails with InsufficientPermissions unless actorID holds an
// owning membership in orgID.
func requireOwner(ctx context.Context, q queryer, actorID, orgID string) error {
	var isOwner bool
	err := q.QueryRowContext(ctx,
		`SELECT is_owner FROM org_members WHERE user_id = $1 AND org_id = $2`, actorID, orgID,
	).Scan(&isOwner)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !isOwner) {
		return apierr.InsufficientPermissions("Insufficient permissions")
	}
	if err != nil {
		return fmt.Errorf("failed to check membership: %w", err)
	}
	return nil
}

// lockOrganization row-locks the live organization for the rest of tx.
// Membership changes take this lock first, so they apply one at a time.
func lockOrganization(ctx context.Context, tx *sql.Tx, orgID string) error {
	var id string
	err := tx.QueryRowContext(ctx,
		`SELECT id FROM organizations WHERE id = $1 AND is_deleted = FALSE FOR UPDATE`, orgID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return apierr.NotFound("Organization not found")
	}
	if err != nil {
		return fmt.Errorf("failed to lock organization: %w", err)
	}
	return nil
}

// memberIsOwner reports whether userID owns orgID. A missing membership is
// NotFound.
func memberIsOwner(ctx context.Context, q queryer, userID, orgID string) (bool, error) {
	var isOwner bool
	err := q.QueryRowContext(ctx,
		`SELECT is_owner FROM org_members WHERE user_id = $1 AND org_id = $2`, userID, orgID,
	).Scan(&isOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apierr.NotFound("Member not found")
	}
	if err != nil {
		return false, fmt.Errorf("failed to get member: %w", err)
	}
	return isOwner, nil
}

// requireOtherOwner fails unless orgID has an owner besides userID
func requireOtherOwner(ctx context.Context, q queryer, orgID, userID, action string) error {
	var others int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM org_members WHERE org_id = $1 AND is_owner = TRUE AND user_id <> $2`, orgID, userID,
	).Scan(&others); err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if others == 0 {
		return apierr.BadRequest("Cannot %s the last owner of the organization", action)
	}
	return nil
}
