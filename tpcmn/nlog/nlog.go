// Package nlog is the system's logger: severity-leveled, with each line
// formatted and written straight to the configured io.Writer under a
// package mutex. There is no in-memory buffer and no separate flush, so a
// log call blocks for as long as the underlying write does.
//
// Ported and trimmed from the teacher's cmn/nlog: same severities, same
// caller-file:line header -- trimmed because this system has no need for
// the teacher's multi-gigabyte rotating log files.
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

const sevChar = "IWE"

var (
	mu        sync.Mutex
	out       io.Writer = os.Stderr
	threshold          = sevInfo
)

// SetOutput redirects all log output; used by tests and daemons that want
// to send logs to a file instead of stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

// SetLevel controls the minimum severity that is actually written.
func SetLevel(warnAndAbove bool) {
	mu.Lock()
	defer mu.Unlock()
	if warnAndAbove {
		threshold = sevWarn
	} else {
		threshold = sevInfo
	}
}

func log(sev severity, depth int, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if sev < threshold {
		return
	}
	var b strings.Builder
	writeHeader(&b, sev, depth+1)
	if format == "" {
		fmt.Fprintln(&b, args...)
	} else {
		fmt.Fprintf(&b, format, args...)
		if !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	io.WriteString(out, b.String())
}

func writeHeader(b *strings.Builder, sev severity, depth int) {
	_, fn, ln, ok := runtime.Caller(2 + depth)
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
}

func Infof(format string, args ...any)     { log(sevInfo, 0, format, args...) }
func Warningf(format string, args ...any)  { log(sevWarn, 0, format, args...) }
func Errorf(format string, args ...any)    { log(sevErr, 0, format, args...) }
func Infoln(args ...any)                   { log(sevInfo, 0, "", args...) }
func Warningln(args ...any)                { log(sevWarn, 0, "", args...) }
func Errorln(args ...any)                  { log(sevErr, 0, "", args...) }
