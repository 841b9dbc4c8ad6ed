package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// MeResponse describes the caller and their organizations
type MeResponse struct {
	Sub         string         `json:"sub"`
	Email       string         `json:"email"`
	FullName    string         `json:"full_name"`
	Orgs        []orgs.UserOrg `json:"orgs"`
	ActiveOrgID *string        `json:"active_org_id"`
}

// ActiveOrgResponse is returned after switching organizations
type ActiveOrgResponse struct {
	ActiveOrgID string `json:"active_org_id"`
}

// ClientHandlers serves the caller's own profile and organization context
type ClientHandlers struct {
	flow *auth.Flow
	orgs orgs.Service
}

// RegisterRoutes registers client routes. All of them need a session.
func (h *ClientHandlers) RegisterRoutes(protected *mux.Router) {
	protected.HandleFunc("/me", h.getMe).Methods("GET")
	protected.HandleFunc("/me", h.updateMe).Methods("PATCH")
	protected.HandleFunc("/switch-org", h.switchOrg).Methods("PATCH")
}

// getMe handles GET /me
func (h *ClientHandlers) getMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r)
	if user == nil {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}
	h.writeMe(w, r, user)
}

// updateMe handles PATCH /me
func (h *ClientHandlers) updateMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.CurrentUser(r)
	if user == nil {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return
	}

	var req auth.UpdateProfileRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, err := h.flow.UpdateProfile(r.Context(), user, req)
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	h.writeMe(w, r, updated)
}

func (h *ClientHandlers) writeMe(w http.ResponseWriter, r *http.Request, user *auth.User) {
	memberships, err := h.orgs.GetUserOrgs(r.Context(), user.ID)
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	active, err := h.orgs.GetActiveOrg(r.Context(), user.ID)
	if err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}

	resp := MeResponse{
		Sub:      user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Orgs:     memberships,
	}
	if active != "" {
		resp.ActiveOrgID = &active
	}
	httputil.WriteSuccess(w, resp)
}

// switchOrg handles PATCH /switch-org
func (h *ClientHandlers) switchOrg(w http.ResponseWriter, r *http.Request) {
	userID, ok := sessionUser(w, r)
	if !ok {
		return
	}

	var req orgs.SwitchOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	orgID, err := uuid.Parse(req.OrgID)
	if !httputil.ValidateAll(w,
		func() (bool, string) { return req.OrgID != "", "org_id is required" },
		func() (bool, string) { return err == nil, "org_id must be a UUID" },
	) {
		return
	}

	if err := h.orgs.SwitchActiveOrg(r.Context(), userID, orgID.String()); err != nil {
		httputil.WriteAPIError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, ActiveOrgResponse{ActiveOrgID: orgID.String()})
}
