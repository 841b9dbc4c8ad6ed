package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
)

// parseOptionalJSON decodes the body into dest; an empty body leaves dest
// untouched.
func parseOptionalJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// sessionUser returns the session user, writing a 401 when there is none.
// Routes behind SessionMiddleware always have one.
func sessionUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := middleware.CurrentUser(r)
	if user == nil {
		httputil.WriteUnauthorized(w, "Not authenticated")
		return "", false
	}
	return user.ID, true
}
