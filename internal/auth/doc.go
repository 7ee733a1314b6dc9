// Package auth provides identity extraction for aura-orchestrator.
//
// # Model
//
// Identity validation happens once, at the connection or request boundary.
// The orchestrator core trusts the resulting Identity without ever
// re-validating it; handlers retrieve it with FromContext.
//
// # Tokens
//
// Clients authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret. The "sub" claim carries the user ID. Tokens arrive in
// the Authorization header (Bearer) or, for websocket upgrades where
// headers are unavailable to browser clients, the "token" query parameter.
//
// # Usage
//
// Wrap API handlers with the middleware:
//
//	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
//	handler = auth.Middleware(verifier)(handler)
//
// Then read the identity inside a handler:
//
//	id := auth.FromContext(r.Context())
//
// Dev tokens can be minted with Generate:
//
//	token, err := verifier.Generate("user-1", time.Hour)
package auth
