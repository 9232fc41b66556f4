// Package nlog is the leveled logger used throughout this module: the
// same severity levels and call shapes (Infof/Warningf/Errorf/InfoDepth/
// ErrorDepth) and the same "file:line" caller prefix as a synchronous,
// unbuffered logger, without any file-rotation machinery — the logging
// *facility* (where bytes end up, how they rotate) is out of scope here;
// only the leveled-logging call surface is carried.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

const sevChars = "IWE"

var (
	mu           sync.Mutex
	out          io.Writer = os.Stderr
	errOut       io.Writer = os.Stderr
	minSeverity            = sevInfo
	title        string
)

// SetOutput redirects info-and-above output; SetErrOutput redirects
// warn-and-above. Tests commonly point both at a bytes.Buffer.
func SetOutput(w io.Writer) { mu.Lock(); out = w; mu.Unlock() }

func SetErrOutput(w io.Writer) { mu.Lock(); errOut = w; mu.Unlock() }

// SetQuiet raises the minimum severity to Warning, silencing Infof/Infoln.
func SetQuiet(quiet bool) {
	mu.Lock()
	if quiet {
		minSeverity = sevWarn
	} else {
		minSeverity = sevInfo
	}
	mu.Unlock()
}

func SetTitle(s string) { mu.Lock(); title = s; mu.Unlock() }

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth+1, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 1, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 1, format, args...) }
func WarningDepth(depth int, args ...any) { log(sevWarn, depth+1, "", args...) }
func Warningln(args ...any)               { log(sevWarn, 1, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 1, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth+1, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 1, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 1, format, args...) }

// Flush is a no-op placeholder: this package writes synchronously, so
// there is nothing buffered to drain. Present for call-site parity with
// loggers that do buffer.
func Flush(...bool) {}

func log(sev severity, depth int, format string, args ...any) {
	mu.Lock()
	skip := sev < minSeverity
	w, ew := out, errOut
	t := title
	mu.Unlock()
	if skip {
		return
	}

	var b strings.Builder
	b.WriteByte(sevChars[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(depth + 1); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	if t != "" {
		b.WriteString(t)
		b.WriteByte(' ')
	}
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}

	line := b.String()
	mu.Lock()
	io.WriteString(w, line)
	if sev >= sevWarn && ew != w {
		io.WriteString(ew, line)
	}
	mu.Unlock()
}
