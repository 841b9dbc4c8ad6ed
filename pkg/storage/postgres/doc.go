// Package postgres holds the relational storage plumbing: connection setup,
// versioned schema migrations, the local user mirror and the optional Redis
// connection shared by the rate limiter and health checks.
//
// Missing rows are reported as apierr NotFound errors; every other failure is
// wrapped with the operation that failed.
package postgres
