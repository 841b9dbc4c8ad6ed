// Package middleware provides HTTP middleware for sessions, organization
// context and rate limiting.
//
// # Sessions
//
// SessionMiddleware resolves the caller through an auth.SessionResolver and
// stores the *auth.User in the request context. Handlers read it back with
// CurrentUser.
//
//	protected := router.NewRoute().Subrouter()
//	protected.Use(middleware.NewSessionMiddleware(resolver, false).Handler)
//	protected.Use(middleware.OrgContextMiddleware(orgService))
//
// # Rate Limiting
//
// RateLimitMiddleware throttles by client address with any Limiter:
// RateLimiter keeps fixed windows in process memory, DistributedRateLimiter
// keeps them in Redis so all instances share one budget. Both fail open.
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.RateLimitConfigFrom(cfg.RateLimit), "ratelimit:signin")
//	signIn.Use(middleware.RateLimitMiddleware(limiter, "sign_in", metrics))
package middleware
