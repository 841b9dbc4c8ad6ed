package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/apierr"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// InviteResponse carries a freshly issued invitation token
type InviteResponse struct {
	InviteToken string    `json:"invite_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// RoleResponse reports a member's new role
type RoleResponse struct {
	UserID string    `json:"user_id"`
	Role   orgs.Role `json:"role"`
}

// OrgHandlers handles organization-related HTTP requests
type OrgHandlers struct {
	orgs orgs.Service
}

// RegisterRoutes registers organization routes. All of them need a session.
func (h *OrgHandlers) RegisterRoutes(protected *mux.Router) {
	protected.HandleFunc("/org", h.createOrganization).Methods("POST")
	protected.HandleFunc("/invite/accept", h.acceptInvitation).Methods("POST")

	org := protected.PathPrefix("/org/{org_id}").Subrouter()
	org.Use(middleware.ValidateIDParams("org_id", "user_id"))
	org.HandleFunc("", h.getOrganization).Methods("GET")
	org.HandleFunc("/members", h.listMembers).Methods("GET")
	org.HandleFunc("/invite", h.invite).Methods("POST")
	org.HandleFunc("/member/{user_id}", h.removeMember).Methods("DELETE")
	org.HandleFunc("/member/{user_id}/role", h.updateRole).Methods("PATCH")
}

// createOrganization handles POST /org
func (h *OrgHandlers) createOrganization(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	var req orgs.CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	org, err := h.orgs.CreateOrganization(r.Context(), userID, req.Name)
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	httputil.WriteCreated(w, org)
}

// getOrganization handles GET /org/{org_id}
func (h *OrgHandlers) getOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}

	info, err := h.orgs.GetOrganizationInfo(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, info)
}

// listMembers handles GET /org/{org_id}/members
func (h *OrgHandlers) listMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}

	members, err := h.orgs.GetMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// invite handles POST /org/{org_id}/invite
func (h *OrgHandlers) invite(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}

	var req orgs.InviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}

	inv, err := h.orgs.InviteUser(r.Context(), userID, orgID, req.Email)
	if err != nil {
		httputil.WriteAPIError(w, r, apierr.AsPrecondition(err))
		return
	}
	httputil.WriteCreated(w, InviteResponse{InviteToken: inv.Token, ExpiresAt: inv.ExpiresAt})
}

// acceptInvitation handles POST /invite/accept
func (h *OrgHandlers) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	var req orgs.AcceptInviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.InviteToken, "invite_token") {
		return
	}

	membership, err := h.orgs.AcceptInvitation(r.Context(), req.InviteToken, userID)
	if err != nil {
		httputil.WriteAPIError(w, r, apierr.AsPrecondition(err))
		return
	}
	httputil.WriteSuccess(w, membership)
}

// removeMember handles DELETE /org/{org_id}/member/{user_id}
func (h *OrgHandlers) removeMember(w http.ResponseWriter, r *http.Request) {
	actorID, ok := sessionUser(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := h.orgs.RemoveMember(r.Context(), actorID, orgID, targetID); err != nil {
		httputil.WriteAPIError(w, r, apierr.AsPrecondition(err))
		return
	}
	httputil.WriteNoContent(w)
}

// updateRole handles PATCH /org/{org_id}/member/{user_id}/role
func (h *OrgHandlers) updateRole(w http.ResponseWriter, r *http.Request) {
	actorID, ok := sessionUser(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
	if !ok {
		return
	}
	targetID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	var req orgs.UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		func() (bool, string) { return req.Role != "", "role is required" },
		func() (bool, string) {
			return req.Role.Valid(), fmt.Sprintf("invalid role %q: must be %q or %q", req.Role, orgs.RoleOwner, orgs.RoleMember)
		},
	) {
		return
	}

	if err := h.orgs.UpdateMemberRole(r.Context(), actorID, orgID, targetID, req.Role); err != nil {
		httputil.WriteAPIError(w, r, apierr.AsPrecondition(err))
		return
	}
	httputil.WriteSuccess(w, RoleResponse{UserID: targetID, Role: req.Role})
}
