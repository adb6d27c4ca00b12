//go:build debug

// Package debug provides assertions that compile out entirely in release builds.
package debug

import "fmt"

func ON() bool { return true }

func Assert(cond bool, args ...any) {
	if cond {
		return
	}
	panic(fmt.Sprintln(append([]any{"assertion failed:"}, args...)...))
}

func Assertf(cond bool, format string, args ...any) {
	if cond {
		return
	}
	panic(fmt.Sprintf("assertion failed: "+format, args...))
}

func AssertNoErr(err error) {
	if err == nil {
		return
	}
	panic("assertion failed: unexpected error: " + err.Error())
}

func AssertFunc(f func() bool, args ...any) {
	Assert(f(), args...)
}
