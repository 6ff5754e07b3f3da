//go:build tools
// +build tools

// Package tools pins the linter and the ginkgo test runner so `go install`
// uses the versions in go.mod.
package tools

import (
	_ "github.com/golangci/golangci-lint/cmd/golangci-lint"
	_ "github.com/onsi/ginkgo/ginkgo"
)
