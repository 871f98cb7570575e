// Package origin decides which browser origins may reach the signaling
// endpoints.
package origin

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

var (
	ErrMalformed  = errors.New("origin: malformed Origin header")
	ErrMultiple   = errors.New("origin: multiple Origin headers")
	ErrNotAllowed = errors.New("origin: not allowed")
)

// Policy is either an explicit allowlist of normalized origins ("*" matches
// anything) or, when empty, same-host only.
type Policy struct {
	allowed []string
}

func NewPolicy(allowed []string) Policy {
	return Policy{allowed: lo.Uniq(allowed)}
}

// AllowsAny reports whether the allowlist contains "*".
func (p Policy) AllowsAny() bool {
	return lo.Contains(p.allowed, "*")
}

// Check validates r's Origin header. Requests without one (non-browser
// clients) pass with an empty origin. On success the normalized origin is
// returned for CORS echoing.
func (p Policy) Check(r *http.Request) (string, error) {
	values := r.Header.Values("Origin")
	switch len(values) {
	case 0:
		return "", nil
	case 1:
	default:
		return "", ErrMultiple
	}
	raw := strings.TrimSpace(values[0])
	if raw == "" {
		return "", nil
	}

	normalized, host, ok := NormalizeHeader(raw)
	if !ok {
		return "", ErrMalformed
	}
	if !p.allows(normalized, host, r.Host) {
		return "", ErrNotAllowed
	}
	return normalized, nil
}

func (p Policy) allows(normalized, originHost, requestHost string) bool {
	if len(p.allowed) > 0 {
		return lo.Contains(p.allowed, "*") || lo.Contains(p.allowed, normalized)
	}

	// Same host:port. Scheme is not compared since a TLS-terminating proxy
	// may forward HTTPS traffic as plain HTTP.
	scheme, _, found := strings.Cut(normalized, "://")
	if !found {
		return false
	}
	reqHost, ok := normalizeAuthority(scheme, requestHost)
	return ok && reqHost == originHost
}

// NormalizeHeader validates a browser Origin header and returns
// scheme://host[:port] plus the host[:port] part. Scheme and host are
// lower-cased and default ports dropped. "null" is accepted as-is.
func NormalizeHeader(header string) (normalized, host string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeAuthority(scheme, u.Host)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

func normalizeAuthority(scheme, authority string) (string, bool) {
	hostname, rawPort, ok := splitHostPort(strings.ToLower(strings.TrimSpace(authority)))
	if !ok || hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits host[:port]. IPv6 literals must be bracketed; the
// brackets are stripped from hostname.
func splitHostPort(raw string) (hostname, port string, ok bool) {
	if raw == "" {
		return "", "", false
	}

	if strings.HasPrefix(raw, "[") {
		end := strings.IndexByte(raw, ']')
		if end < 0 {
			return "", "", false
		}
		hostname = raw[1:end]
		rest := raw[end+1:]
		if rest == "" {
			return hostname, "", true
		}
		var found bool
		port, found = strings.CutPrefix(rest, ":")
		if !found || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(raw, ":") {
	case 0:
		return raw, "", true
	case 1:
		hostname, port, _ = strings.Cut(raw, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
