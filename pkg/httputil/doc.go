// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteCreated(w, resource)
//	httputil.WriteNoContent(w)
//
// Domain errors are written with WriteAPIError, which maps the apierr kind to
// a status code and never leaks unclassified error text:
//
//	if err != nil {
//		httputil.WriteAPIError(w, r, err)
//		return
//	}
//
// # Request Parsing
//
//	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
//	if !ok {
//		return
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware,
//	)(router)
package httputil
