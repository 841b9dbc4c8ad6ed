package api

import (
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenantgate/pkg/config"
)

// TestRoutesRegistered verifies all routes are registered
func TestRoutesRegistered(t *testing.T) {
	server := NewServer(nil, Dependencies{
		Resolver: stubResolver{},
		Orgs:     &stubOrgs{},
		Cookies:  config.Defaults().Cookies,
	})

	orgID := "3f2b1c4e-8d7a-4b6c-9e5f-1a2b3c4d5e6f"
	userID := "0b9c8d7e-6f5a-4b3c-2d1e-0f9a8b7c6d5e"

	tests := []struct {
		method string
		path   string
	}{
		{"POST", "/v1/auth/sign-up"},
		{"POST", "/v1/auth/sign-in/password"},
		{"POST", "/v1/auth/refresh_token"},
		{"POST", "/v1/auth/logout"},
		{"GET", "/v1/auth/validate"},
		{"POST", "/v1/auth/change-password"},
		{"POST", "/v1/client/sign-up"},
		{"POST", "/v1/client/sign-in/password"},
		{"POST", "/v1/client/refresh_token"},
		{"POST", "/v1/client/logout"},
		{"GET", "/v1/client/validate"},
		{"GET", "/v1/client/me"},
		{"PATCH", "/v1/client/me"},
		{"PATCH", "/v1/client/switch-org"},
		{"POST", "/v1/org"},
		{"GET", "/v1/org/" + orgID},
		{"GET", "/v1/org/" + orgID + "/members"},
		{"POST", "/v1/org/" + orgID + "/invite"},
		{"POST", "/v1/invite/accept"},
		{"DELETE", "/v1/org/" + orgID + "/member/" + userID},
		{"PATCH", "/v1/org/" + orgID + "/member/" + userID + "/role"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			var match mux.RouteMatch
			assert.True(t, server.Router().Match(req, &match), "Route %s %s should be registered", tt.method, tt.path)
		})
	}
}
