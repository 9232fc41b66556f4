//go:build debug

// Package debug provides assertion helpers for the messaging core. Built
// with -tags=debug, assertions panic instead of compiling away; this is
// meant for development and CI, never for a production build of a node.
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package debug

import (
	"fmt"
	"sync"

	"github.com/LatticeX-Foundation/rosetta-io-go/cmn/nlog"
)

func ON() bool { return true }

func Infof(format string, a ...any) { nlog.InfoDepth(1, fmt.Sprintf(format, a...)) }

func Func(f func()) { f() }

func Assert(cond bool, a ...any) {
	if !cond {
		panic(fmt.Sprintln(append([]any{"assertion failed:"}, a...)...))
	}
}

func AssertFunc(f func() bool, a ...any) { Assert(f(), a...) }

func AssertNoErr(err error) {
	if err != nil {
		panic("assertion failed: " + err.Error())
	}
}

func Assertf(cond bool, format string, a ...any) {
	if !cond {
		panic("assertion failed: " + fmt.Sprintf(format, a...))
	}
}

// AssertMutexLocked cannot inspect Mutex state safely; it exists so call
// sites read the same in debug and non-debug builds. It is a documentation
// aid, not a real lock-held check.
func AssertMutexLocked(_ *sync.Mutex) {}
func AssertRWMutexLocked(_ *sync.RWMutex) {}
