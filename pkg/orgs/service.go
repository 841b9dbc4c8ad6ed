package orgs

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

// DefaultInviteTTL is how long an invitation stays redeemable
const DefaultInviteTTL = 7 * 24 * time.Hour

const (
	inviteTokenLength   = 32
	inviteTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db        *sql.DB
	inviteTTL time.Duration
	metrics   *observability.Metrics
	now       func() time.Time
}

// Option configures a PostgresService
type Option func(*PostgresService)

// WithInviteTTL sets the invitation lifetime
func WithInviteTTL(ttl time.Duration) Option {
	return func(s *PostgresService) {
		if ttl > 0 {
			s.inviteTTL = ttl
		}
	}
}

// WithMetrics records organization mutations
func WithMetrics(m *observability.Metrics) Option {
	return func(s *PostgresService) {
		s.metrics = m
	}
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, opts ...Option) *PostgresService {
	s := &PostgresService{
		db:        db,
		inviteTTL: DefaultInviteTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrganization creates an organization owned by userID and makes it
// the user's active organization. All three writes share one transaction.
func (s *PostgresService) CreateOrganization(ctx context.Context, userID, name string) (org *Organization, err error) {
	defer func() { s.metrics.ObserveOrgOperation("create", err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apierr.BadRequest("organization name is required")
	}

	org = &Organization{
		ID:   uuid.NewString(),
		Name: name,
	}
	org.Slug = generateSlug(name, org.ID)

	err = postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO organizations (id, name, slug)
			VALUES ($1, $2, NULLIF($3, ''))
			RETURNING created_at`,
			org.ID, org.Name, org.Slug,
		).Scan(&org.CreatedAt)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return apierr.BadRequest("an organization with slug %q already exists", org.Slug)
			}
			return fmt.Errorf("failed to create organization: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO org_members (user_id, org_id, role, is_owner)
			VALUES ($1, $2, $3, TRUE)`,
			userID, org.ID, RoleOwner,
		); err != nil {
			return fmt.Errorf("failed to add owner membership: %w", err)
		}

		if err := upsertActiveOrg(ctx, tx, userID, org.ID); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return org, nil
}

// GetOrganizationInfo returns the organization with its first owner, ordered
// by join time.
func (s *PostgresService) GetOrganizationInfo(ctx context.Context, orgID string) (*OrgInfo, error) {
	org, err := s.getOrganization(ctx, s.db, orgID)
	if err != nil {
		return nil, err
	}

	info := &OrgInfo{OrgID: org.ID, Name: org.Name, Slug: org.Slug}

	var ownerID string
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id FROM org_members
		WHERE org_id = $1 AND is_owner = TRUE
		ORDER BY joined_at, user_id
		LIMIT 1`, orgID,
	).Scan(&ownerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("failed to get organization owner: %w", err)
	default:
		info.OwnerID = &ownerID
	}
	return info, nil
}

// GetUserOrgs lists the live organizations userID belongs to
func (s *PostgresService) GetUserOrgs(ctx context.Context, userID string) ([]UserOrg, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.name, m.role, m.is_owner
		FROM org_members m
		JOIN organizations o ON o.id = m.org_id
		WHERE m.user_id = $1 AND o.is_deleted = FALSE
		ORDER BY m.joined_at, o.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user organizations: %w", err)
	}
	defer rows.Close()

	orgs := []UserOrg{}
	for rows.Next() {
		var o UserOrg
		if err := rows.Scan(&o.OrgID, &o.Name, &o.Role, &o.IsOwner); err != nil {
			return nil, fmt.Errorf("failed to scan user organization: %w", err)
		}
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list user organizations: %w", err)
	}
	return orgs, nil
}

// GetActiveOrg returns the user's active organization id, or "" when none
// is selected.
func (s *PostgresService) GetActiveOrg(ctx context.Context, userID string) (string, error) {
	var orgID string
	err := s.db.QueryRowContext(ctx,
		`SELECT org_id FROM active_org_context WHERE user_id = $1`, userID,
	).Scan(&orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get active organization: %w", err)
	}
	return orgID, nil
}

// SwitchActiveOrg makes orgID the user's active organization. The user must
// be a member. Switching to the already active organization is a no-op. The
// membership row is share-locked until the switch commits, so a concurrent
// removal either waits for it or wins outright.
func (s *PostgresService) SwitchActiveOrg(ctx context.Context, userID, orgID string) (err error) {
	defer func() { s.metrics.ObserveOrgOperation("switch", err) }()

	return postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `
			SELECT 1 FROM org_members m
			JOIN organizations o ON o.id = m.org_id
			WHERE m.user_id = $1 AND m.org_id = $2 AND o.is_deleted = FALSE
			FOR SHARE OF m, o`,
			userID, orgID,
		).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return apierr.NotAMember("User is not a member of this organization")
		}
		if err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}

		if _, err := tx.ExecContext(ctx, upsertActiveOrgSQL, userID, orgID); err != nil {
			return fmt.Errorf("failed to switch organization: %w", err)
		}
		return nil
	})
}

const upsertActiveOrgSQL = `
	INSERT INTO active_org_context (user_id, org_id, updated_at)
	VALUES ($1, $2, NOW())
	ON CONFLICT (user_id) DO UPDATE SET org_id = EXCLUDED.org_id, updated_at = NOW()`

func upsertActiveOrg(ctx context.Context, tx *sql.Tx, userID, orgID string) error {
	if _, err := tx.ExecContext(ctx, upsertActiveOrgSQL, userID, orgID); err != nil {
		return fmt.Errorf("failed to set active organization: %w", err)
	}
	return nil
}

func (s *PostgresService) getOrganization(ctx context.Context, q queryer, orgID string) (*Organization, error) {
	var org Organization
	var slug sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, name, slug, created_at FROM organizations
		WHERE id = $1 AND is_deleted = FALSE`, orgID,
	).Scan(&org.ID, &org.Name, &slug, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierr.NotFound("Organization not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.Slug = slug.String
	return &org, nil
}

// generateSlug lower-cases name, turns spaces into dashes and keeps only
// letters, digits and dashes, in any script. A name with no letter or digit
// gets a slug derived from the organization id.
func generateSlug(name, id string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == ' ' || r == '-':
			return '-'
		}
		return -1
	}, name)
	if strings.IndexFunc(slug, func(r rune) bool { return r != '-' }) < 0 {
		short, _, _ := strings.Cut(id, "-")
		return "org-" + short
	}
	return slug
}

// generateInviteToken returns a random alphanumeric invitation token
func generateInviteToken() (string, error) {
	limit := big.NewInt(int64(len(inviteTokenAlphabet)))
	b := make([]byte, inviteTokenLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = inviteTokenAlphabet[n.Int64()]
	}
	return string(b), nil
}
