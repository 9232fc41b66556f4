// Package tassert provides small test assertion helpers wrapping
// *testing.T: a condition plus a failure message, instead of a manual
// if !cond { t.Fatal(...) } at every call site.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package tassert

import "testing"

func Fatal(t *testing.T, cond bool, a ...any) {
	t.Helper()
	if !cond {
		t.Fatal(a...)
	}
}

func Fatalf(t *testing.T, cond bool, format string, a ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, a...)
	}
}

func Errorf(t *testing.T, cond bool, format string, a ...any) {
	t.Helper()
	if !cond {
		t.Errorf(format, a...)
	}
}

func CheckError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
