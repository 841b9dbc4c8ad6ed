package api

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

type stubResolver struct {
	user *auth.User
}

func (s stubResolver) Resolve(context.Context, *http.Request) (*auth.User, error) {
	if s.user == nil {
		return nil, apierr.Unauthenticated("Not authenticated")
	}
	return s.user, nil
}

// stubOrgs records calls and returns err from every mutation
type stubOrgs struct {
	err    error
	calls  []string
	active map[string]string
}

func (s *stubOrgs) record(call string) { s.calls = append(s.calls, call) }

func (s *stubOrgs) CreateOrganization(_ context.Context, userID, name string) (*orgs.Organization, error) {
	s.record("create:" + userID + ":" + name)
	if s.err != nil {
		return nil, s.err
	}
	return &orgs.Organization{ID: "3f2b1c4e-8d7a-4b6c-9e5f-1a2b3c4d5e6f", Name: name, Slug: "acme", CreatedAt: time.Now()}, nil
}

func (s *stubOrgs) GetOrganizationInfo(_ context.Context, orgID string) (*orgs.OrgInfo, error) {
	s.record("info:" + orgID)
	if s.err != nil {
		return nil, s.err
	}
	return &orgs.OrgInfo{OrgID: orgID, Name: "Acme"}, nil
}

func (s *stubOrgs) GetMembers(_ context.Context, orgID string) ([]orgs.MemberInfo, error) {
	s.record("members:" + orgID)
	if s.err != nil {
		return nil, s.err
	}
	return []orgs.MemberInfo{{UserID: "u1", Email: "a@example.com", Role: orgs.RoleOwner}}, nil
}

func (s *stubOrgs) GetUserOrgs(context.Context, string) ([]orgs.UserOrg, error) {
	return []orgs.UserOrg{}, nil
}

func (s *stubOrgs) GetActiveOrg(_ context.Context, userID string) (string, error) {
	return s.active[userID], nil
}

func (s *stubOrgs) SwitchActiveOrg(_ context.Context, userID, orgID string) error {
	s.record("switch:" + userID + ":" + orgID)
	return s.err
}

func (s *stubOrgs) InviteUser(_ context.Context, actorID, orgID, email string) (*orgs.Invitation, error) {
	s.record("invite:" + actorID + ":" + orgID + ":" + email)
	if s.err != nil {
		return nil, s.err
	}
	return &orgs.Invitation{Token: "AbCdEfGhIjKlMnOpQrStUvWxYz012345", OrgID: orgID, ExpiresAt: time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)}, nil
}

func (s *stubOrgs) AcceptInvitation(_ context.Context, token, userID string) (*orgs.Membership, error) {
	s.record("accept:" + token + ":" + userID)
	if s.err != nil {
		return nil, s.err
	}
	return &orgs.Membership{OrgID: "3f2b1c4e-8d7a-4b6c-9e5f-1a2b3c4d5e6f", UserID: userID, Role: orgs.RoleMember}, nil
}

func (s *stubOrgs) RemoveMember(_ context.Context, actorID, orgID, targetID string) error {
	s.record("remove:" + actorID + ":" + orgID + ":" + targetID)
	return s.err
}

func (s *stubOrgs) UpdateMemberRole(_ context.Context, actorID, orgID, targetID string, role orgs.Role) error {
	s.record("role:" + actorID + ":" + orgID + ":" + targetID + ":" + string(role))
	return s.err
}

func (s *stubOrgs) CleanupExpiredInvitations(context.Context) (int64, error) {
	return 0, nil
}
