// Package origin validates browser Origin headers against the broker's
// allowed-origins policy.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates an Origin header and returns it in canonical
// scheme://host[:port] form, with default ports stripped. The opaque origin
// "null" is preserved as-is.
func Normalize(header string) (normalized string, ok bool) {
	trimmed := strings.TrimSpace(header)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return "", false
		}
		isDefault := (scheme == "http" && port == 80) || (scheme == "https" && port == 443)
		if !isDefault {
			host += ":" + strconv.FormatUint(port, 10)
		}
	}

	return scheme + "://" + host, true
}

// Allowed reports whether a normalized origin may access the given request
// host. A non-empty allowlist matches entries exactly, with "*" allowing
// everything. An empty allowlist falls back to same-host: the origin's
// host[:port] must equal the request's Host header. Scheme is deliberately
// not compared so the broker can run behind a TLS-terminating proxy.
func Allowed(normalized, requestHost string, allowlist []string) bool {
	if len(allowlist) > 0 {
		for _, entry := range allowlist {
			if entry == "*" || entry == normalized {
				return true
			}
		}
		return false
	}

	host := normalized
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return host != "" && host != "null" && strings.EqualFold(host, strings.TrimSpace(requestHost))
}

// CheckHeader combines Normalize and Allowed for a raw Origin header. An
// absent header passes: non-browser clients do not send one.
func CheckHeader(header, requestHost string, allowlist []string) bool {
	if strings.TrimSpace(header) == "" {
		return true
	}
	normalized, ok := Normalize(header)
	if !ok {
		return false
	}
	return Allowed(normalized, requestHost, allowlist)
}
