// Package api wires the HTTP surface of the gateway onto a gorilla/mux
// router.
//
// Routes:
//
//	POST   /v1/auth/sign-up                       201 TokenPair, session cookies set
//	POST   /v1/auth/sign-in/password              200 TokenPair, rate limited
//	POST   /v1/auth/refresh_token                 200 TokenPair
//	POST   /v1/auth/logout                        204, session cookies cleared
//	GET    /v1/auth/validate?token=               {valid, sub, exp}
//	POST   /v1/auth/change-password               204 (session)
//	GET    /v1/client/me                          caller and organizations (session)
//	PATCH  /v1/client/me                          update display name (session)
//	PATCH  /v1/client/switch-org                  {active_org_id} (session)
//	POST   /v1/org                                201 organization (session)
//	GET    /v1/org/{org_id}                       organization info (session)
//	GET    /v1/org/{org_id}/members               member list (session)
//	POST   /v1/org/{org_id}/invite                201 {invite_token, expires_at} (session)
//	POST   /v1/invite/accept                      membership (session)
//	DELETE /v1/org/{org_id}/member/{user_id}      204 (session)
//	PATCH  /v1/org/{org_id}/member/{user_id}/role {user_id, role} (session)
//
// Every /v1/auth route is also mounted under /v1/client, so the refresh
// cookie is scoped to /v1 to reach both mounts. Errors are written
// by httputil.WriteAPIError as {"error": "..."}.
package api
