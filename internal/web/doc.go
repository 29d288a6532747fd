// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

// Package web exposes the auth service over HTTP.
//
// Results keep the shape of the service return values: validation, conflict
// and not-found outcomes are 200 responses carrying an "errors" list, protected
// routes answer 401 without a valid bearer token, and internal failures are a
// bare 500 with no detail.
package web
