package orgs

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
)

const (
	ownerID  = "11111111-1111-1111-1111-111111111111"
	memberID = "22222222-2222-2222-2222-222222222222"
	orgID    = "33333333-3333-3333-3333-333333333333"
)

func newMockService(t *testing.T, opts ...Option) (*PostgresService, sqlmock.Sqlmock, *sql.DB) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewPostgresService(db, opts...), mock, db
}

func TestCreateOrganization(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("creates org, owner membership and active context", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations \(id, name, slug\)`).
			WithArgs(sqlmock.AnyArg(), "Acme Corp", "acme-corp").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectExec(`INSERT INTO org_members \(user_id, org_id, role, is_owner\)`).
			WithArgs(ownerID, sqlmock.AnyArg(), "owner").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO active_org_context .* ON CONFLICT \(user_id\) DO UPDATE`).
			WithArgs(ownerID, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		org, err := service.CreateOrganization(ctx, ownerID, "  Acme Corp ")
		require.NoError(t, err)
		assert.NotEmpty(t, org.ID)
		assert.Equal(t, "Acme Corp", org.Name)
		assert.Equal(t, "acme-corp", org.Slug)
		assert.Equal(t, now, org.CreatedAt)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure after insert rolls everything back", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectExec(`INSERT INTO org_members`).
			WillReturnError(errors.New("foreign key violation"))
		mock.ExpectRollback()

		org, err := service.CreateOrganization(ctx, ownerID, "Acme Corp")
		require.Error(t, err)
		assert.Nil(t, org)
		assert.Contains(t, err.Error(), "failed to add owner membership")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("active context failure rolls back", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectExec(`INSERT INTO org_members`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO active_org_context`).WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := service.CreateOrganization(ctx, ownerID, "Acme Corp")
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("slug collision", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: "organizations_slug_key"})
		mock.ExpectRollback()

		_, err := service.CreateOrganization(ctx, ownerID, "Acme Corp")
		require.Error(t, err)
		assert.Equal(t, apierr.KindBadRequest, apierr.KindOf(err))
		assert.Contains(t, apierr.MessageOf(err), "acme-corp")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("name without letters gets an id slug", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WithArgs(sqlmock.AnyArg(), "Ω", "ω").
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectExec(`INSERT INTO org_members`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO active_org_context`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectBegin()
		mock.ExpectQuery(`INSERT INTO organizations`).
			WithArgs(sqlmock.AnyArg(), "???", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
		mock.ExpectExec(`INSERT INTO org_members`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`INSERT INTO active_org_context`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		greek, err := service.CreateOrganization(ctx, ownerID, "Ω")
		require.NoError(t, err)
		assert.Equal(t, "ω", greek.Slug)

		org, err := service.CreateOrganization(ctx, ownerID, "???")
		require.NoError(t, err)
		assert.Equal(t, "org-"+org.ID[:8], org.Slug)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty name", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		_, err := service.CreateOrganization(ctx, ownerID, "   ")
		assert.ErrorIs(t, err, apierr.ErrBadRequest)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSwitchActiveOrg(t *testing.T) {
	ctx := context.Background()
	membership := `SELECT 1 FROM org_members m\s+JOIN organizations o .+ FOR SHARE OF m, o`

	t.Run("not a member", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(membership).
			WithArgs(memberID, orgID).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
		mock.ExpectRollback()

		err := service.SwitchActiveOrg(ctx, memberID, orgID)
		assert.ErrorIs(t, err, apierr.ErrNotAMember)
		assert.Equal(t, "User is not a member of this organization", apierr.MessageOf(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("idempotent", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		for i := 0; i < 2; i++ {
			mock.ExpectBegin()
			mock.ExpectQuery(membership).
				WithArgs(memberID, orgID).
				WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
			mock.ExpectExec(`INSERT INTO active_org_context`).
				WithArgs(memberID, orgID).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectCommit()
		}

		require.NoError(t, service.SwitchActiveOrg(ctx, memberID, orgID))
		require.NoError(t, service.SwitchActiveOrg(ctx, memberID, orgID))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("write failure rolls back", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectBegin()
		mock.ExpectQuery(membership).
			WithArgs(memberID, orgID).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		mock.ExpectExec(`INSERT INTO active_org_context`).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := service.SwitchActiveOrg(ctx, memberID, orgID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to switch organization")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetOrganizationInfo(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	orgRow := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "slug", "created_at"}).AddRow(orgID, "Acme Corp", "acme-corp", now)
	}

	t.Run("with owner", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, name, slug, created_at FROM organizations`).
			WithArgs(orgID).
			WillReturnRows(orgRow())
		mock.ExpectQuery(`SELECT user_id FROM org_members\s+WHERE org_id = \$1 AND is_owner = TRUE\s+ORDER BY joined_at, user_id`).
			WithArgs(orgID).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(ownerID))

		info, err := service.GetOrganizationInfo(ctx, orgID)
		require.NoError(t, err)
		assert.Equal(t, orgID, info.OrgID)
		assert.Equal(t, "Acme Corp", info.Name)
		assert.Equal(t, "acme-corp", info.Slug)
		require.NotNil(t, info.OwnerID)
		assert.Equal(t, ownerID, *info.OwnerID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown or deleted", func(t *testing.T) {
		service, mock, db := newMockService(t)
		defer db.Close()

		mock.ExpectQuery(`SELECT id, name, slug, created_at FROM organizations`).
			WithArgs(orgID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "created_at"}))

		_, err := service.GetOrganizationInfo(ctx, orgID)
		assert.ErrorIs(t, err, apierr.ErrNotFound)
		assert.Equal(t, "Organization not found", apierr.MessageOf(err))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetUserOrgsAndActiveOrg(t *testing.T) {
	service, mock, db := newMockService(t)
	defer db.Close()
	ctx := context.Background()

	mock.ExpectQuery(`SELECT o.id, o.name, m.role, m.is_owner\s+FROM org_members m`).
		WithArgs(memberID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role", "is_owner"}).
			AddRow(orgID, "Acme Corp", "owner", true).
			AddRow("44444444-4444-4444-4444-444444444444", "Globex", "member", false))
	mock.ExpectQuery(`SELECT org_id FROM active_org_context WHERE user_id = \$1`).
		WithArgs(memberID).
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}).AddRow(orgID))
	mock.ExpectQuery(`SELECT org_id FROM active_org_context`).
		WithArgs(ownerID).
		WillReturnRows(sqlmock.NewRows([]string{"org_id"}))

	orgs, err := service.GetUserOrgs(ctx, memberID)
	require.NoError(t, err)
	require.Len(t, orgs, 2)
	assert.Equal(t, UserOrg{OrgID: orgID, Name: "Acme Corp", Role: RoleOwner, IsOwner: true}, orgs[0])
	assert.Equal(t, RoleMember, orgs[1].Role)

	active, err := service.GetActiveOrg(ctx, memberID)
	require.NoError(t, err)
	assert.Equal(t, orgID, active)

	active, err = service.GetActiveOrg(ctx, ownerID)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateSlug(t *testing.T) {
	const id = "3f2b1c4e-8d7a-4b6c-9e5f-1a2b3c4d5e6f"
	tests := []struct {
		name string
		want string
	}{
		{"Acme Corp", "acme-corp"},
		{"R&D Lab #2", "rd-lab-2"},
		{"already-slugged", "already-slugged"},
		{"Ünïcode Ltd.", "ünïcode-ltd"},
		{"Рога и Копыта", "рога-и-копыта"},
		{"東京 2026", "東京-2026"},
		{"!!!", "org-3f2b1c4e"},
		{" - ", "org-3f2b1c4e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, generateSlug(tt.name, id))
		})
	}
}

func TestGenerateInviteToken(t *testing.T) {
	pattern := regexp.MustCompile(`^[A-Za-z0-9]{32}$`)
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		token, err := generateInviteToken()
		require.NoError(t, err)
		assert.Regexp(t, pattern, token)
		assert.False(t, seen[token])
		seen[token] = true
	}
}
