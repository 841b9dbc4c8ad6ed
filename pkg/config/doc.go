// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Configuration starts from built-in defaults, is optionally overlaid by a YAML
// file named in TENANTGATE_CONFIG_FILE, and is finally overridden by environment
// variables. The result is validated before it is returned.
//
// # Configuration Structure
//
// Identity provider settings:
//
//	TENANTGATE_IDP_URL="http://localhost:8080"
//	TENANTGATE_IDP_REALM="auth-service"
//	TENANTGATE_IDP_CLIENT_ID="auth-service"
//	TENANTGATE_IDP_CLIENT_SECRET="..."
//	TENANTGATE_IDP_ADMIN_USERNAME="admin"
//	TENANTGATE_IDP_ADMIN_PASSWORD="admin"
//	TENANTGATE_IDP_ALGORITHM="RS256"
//	TENANTGATE_IDP_KEY_CACHE_TTL="1h"
//	TENANTGATE_IDP_AUDIENCE_POLICY="lenient"  # lenient, strict
//
// Storage settings:
//
//	TENANTGATE_POSTGRES_URL="postgres://localhost/tenantgate"
//	TENANTGATE_REDIS_URL="redis://localhost:6379"
//
// Observability settings:
//
//	TENANTGATE_LOG_LEVEL="info"  # debug, info, warn, error
//	TENANTGATE_OTEL_ENABLED="true"
//	TENANTGATE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Realm: %s\n", cfg.IdP.RealmURL())
package config
