// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 jwtserver Contributors

//go:build tools
// +build tools

// Package main pins the test frameworks to go.mod.
package main

import (
	// Integration suites (//go:build integration)
	_ "github.com/onsi/ginkgo/v2"
	_ "github.com/onsi/gomega"
	_ "github.com/testcontainers/testcontainers-go/modules/postgres"

	// Unit test tooling
	_ "github.com/stretchr/testify/assert"
	_ "github.com/stretchr/testify/mock"
	_ "github.com/stretchr/testify/require"
)
