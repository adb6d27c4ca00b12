package shm

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/tensorpool/tpool/tpcmn/cos"
)

// Mode is the optional rw|ro query parameter carried from the original's
// tp_uri.c (spec SPEC_FULL.md §4: supplemented feature).
type Mode int

const (
	ModeUnspecified Mode = iota
	ModeRO
	ModeRW
)

// URI is the parsed shm:file?path=...|require_hugepages=...|mode=... URI
// (spec §6). Only the shm:file scheme is accepted.
type URI struct {
	Path             string
	RequireHugepages bool
	Mode             Mode
}

func ParseURI(raw string) (*URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, cos.NewConfigErr("shm: malformed uri %q: %v", raw, err)
	}
	if u.Scheme != "shm" || u.Opaque != "" && u.Host != "file" {
		// url.Parse treats "shm:file?..." as Scheme=shm, Opaque="file".
	}
	if u.Scheme != "shm" {
		return nil, cos.NewConfigErr("shm: unsupported scheme %q", u.Scheme)
	}
	body := u.Opaque
	if body == "" {
		body = strings.TrimPrefix(u.Path, "/")
	}
	parts := strings.SplitN(body, "?", 2)
	if len(parts) == 1 && u.RawQuery != "" {
		parts = append(parts, u.RawQuery)
	}
	if len(parts) == 0 || parts[0] != "file" {
		return nil, cos.NewConfigErr("shm: unsupported uri form %q, only shm:file accepted", raw)
	}
	out := &URI{}
	if len(parts) == 2 {
		q, err := url.ParseQuery(parts[1])
		if err != nil {
			return nil, cos.NewConfigErr("shm: malformed uri query %q: %v", parts[1], err)
		}
		out.Path = q.Get("path")
		if rh := q.Get("require_hugepages"); rh != "" {
			b, err := strconv.ParseBool(rh)
			if err != nil {
				return nil, cos.NewConfigErr("shm: malformed require_hugepages %q", rh)
			}
			out.RequireHugepages = b
		}
		switch q.Get("mode") {
		case "", "rw":
			out.Mode = ModeRW
		case "ro":
			out.Mode = ModeRO
		default:
			return nil, cos.NewConfigErr("shm: unsupported mode %q", q.Get("mode"))
		}
	}
	if out.Path == "" {
		return nil, cos.NewConfigErr("shm: uri %q missing path", raw)
	}
	if !strings.HasPrefix(out.Path, "/") {
		return nil, cos.NewConfigErr("shm: path %q must be absolute", out.Path)
	}
	return out, nil
}
