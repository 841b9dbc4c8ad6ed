package orgs

import (
	"context"
	"time"
)

// Role is a member's role within an organization
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleMember
}

// Organization is a tenant
type Organization struct {
	ID        string    `json:"org_id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// OrgInfo describes an organization and its owner. OwnerID is nil when no
// member currently owns it.
type OrgInfo struct {
	OrgID   string  `json:"org_id"`
	Name    string  `json:"name"`
	Slug    string  `json:"slug,omitempty"`
	OwnerID *string `json:"owner_id"`
}

// MemberInfo is one row of an organization's member list
type MemberInfo struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

// UserOrg is an organization as seen from one of its members
type UserOrg struct {
	OrgID   string `json:"org_id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	IsOwner bool   `json:"is_owner"`
}

// Membership links a user to an organization
type Membership struct {
	OrgID   string `json:"org_id"`
	UserID  string `json:"user_id"`
	Role    Role   `json:"role"`
	IsOwner bool   `json:"-"`
}

// Invitation is a single-use token granting membership
type Invitation struct {
	Token      string     `json:"invite_token"`
	OrgID      string     `json:"org_id"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	InvitedBy  string     `json:"invited_by"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *string    `json:"accepted_by,omitempty"`
}

// CreateOrgRequest is the body of an organization creation request
type CreateOrgRequest struct {
	Name string `json:"name"`
}

// SwitchOrgRequest selects the caller's active organization
type SwitchOrgRequest struct {
	OrgID string `json:"org_id"`
}

// InviteRequest invites an email address into an organization
type InviteRequest struct {
	Email string `json:"email"`
}

// AcceptInviteRequest redeems an invitation token
type AcceptInviteRequest struct {
	InviteToken string `json:"invite_token"`
}

// UpdateRoleRequest changes a member's role
type UpdateRoleRequest struct {
	Role Role `json:"role"`
}

// Service defines the organization and membership operations
type Service interface {
	CreateOrganization(ctx context.Context, userID, name string) (*Organization, error)
	GetOrganizationInfo(ctx context.Context, orgID string) (*OrgInfo, error)
	GetMembers(ctx context.Context, orgID string) ([]MemberInfo, error)
	GetUserOrgs(ctx context.Context, userID string) ([]UserOrg, error)
	GetActiveOrg(ctx context.Context, userID string) (string, error)
	SwitchActiveOrg(ctx context.Context, userID, orgID string) error

	InviteUser(ctx context.Context, actorID, orgID, email string) (*Invitation, error)
	AcceptInvitation(ctx context.Context, token, userID string) (*Membership, error)
	RemoveMember(ctx context.Context, actorID, orgID, targetID string) error
	UpdateMemberRole(ctx context.Context, actorID, orgID, targetID string, role Role) error
	CleanupExpiredInvitations(ctx context.Context) (int64, error)
}
