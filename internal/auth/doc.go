// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package auth issues and renews credentials.
//
// # Tokens
//
// A successful login yields two signed tokens:
//   - an access token ({userId, exp}, 15 minutes) presented as
//     "Authorization: Bearer <token>" on each request
//   - a refresh token ({userId, tokenVersion, exp}, 7 days) delivered as an
//     HTTP-only cookie scoped to the refresh endpoint
//
// Access tokens are stateless and live until they expire. A refresh token is
// accepted only while its embedded version equals the user's current
// TokenVersion, so RevokeAllSessions invalidates every outstanding refresh
// token for that user with one atomic increment.
//
// # Results
//
// Expected outcomes (bad input, unknown account, wrong password, stale
// token) are reported as result values carrying FieldErrors or an OK flag.
// Internal failures are logged and collapsed to OK=false without detail.
//
// # Services
//
// Service is created with NewAuthService, which rejects nil dependencies.
// Repository implementations live in the postgres and memory subpackages.
package auth
