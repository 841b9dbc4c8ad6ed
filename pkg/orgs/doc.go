// Package orgs implements the multi-tenant organization model.
//
// A user may belong to many organizations, each membership carrying a role
// (owner or member). Exactly one membership may be marked active per user;
// the active organization is what downstream services scope requests to.
//
// Mutations that change who belongs to an organization (invite, role
// change, removal) require the actor to hold an owning membership.
// Invitations are persisted, expire after a configurable TTL and can be
// redeemed exactly once.
//
// Usage:
//
//	svc := orgs.NewPostgresService(db, orgs.WithInviteTTL(72*time.Hour))
//	org, err := svc.CreateOrganization(ctx, userID, "Acme Corp")
//	inv, err := svc.InviteUser(ctx, userID, org.ID, "new@acme.com")
//	m, err := svc.AcceptInvitation(ctx, inv.Token, newUserID)
package orgs
