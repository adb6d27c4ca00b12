//go:build !debug

// Package debug provides assertions that compile out entirely in release builds.
package debug

func ON() bool { return false }

func Assert(_ bool, _ ...any)            {}
func Assertf(_ bool, _ string, _ ...any) {}
func AssertNoErr(_ error)                {}
func AssertFunc(_ func() bool, _ ...any) {}
