// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

package auth

import "strings"

// ParseBearer extracts the token from an "Authorization: Bearer <token>" header value.
// The scheme is matched case-insensitively. Any other shape reports ok=false.
func ParseBearer(header string) (token string, ok bool) {
	scheme, rest, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(rest)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
