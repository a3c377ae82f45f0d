package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	scriptScheme = regexp.MustCompile(`(?i)javascript\s*:`)
	eventHandler = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
	angleBracket = strings.NewReplacer("<", "", ">", "")

	dangerousSchemes = []string{"javascript:", "data:", "vbscript:"}
)

// SanitizeInput strips angle brackets, script URLs and inline event handler
// attributes. Removal repeats until the result is stable so that nested
// fragments such as "javajavascript:script:" cannot reassemble.
func SanitizeInput(input string) string {
	out := input
	for {
		next := angleBracket.Replace(out)
		next = scriptScheme.ReplaceAllString(next, "")
		next = eventHandler.ReplaceAllString(next, "")
		if next == out {
			return strings.TrimSpace(out)
		}
		out = next
	}
}

// URL rejection reasons.
const (
	URLReasonMalformed = "malformed"
	URLReasonDangerous = "dangerous_scheme"
	URLReasonScheme    = "unsupported_scheme"
	URLReasonHost      = "host_not_allowed"
)

// CheckURL validates raw against the URL policy. It returns the parsed URL
// and an empty reason when raw is acceptable. allowedDomains matches the
// hostname exactly or as a parent domain; an empty list allows any host.
func CheckURL(raw string, allowedDomains []string) (*url.URL, string) {
	if containsDangerousScheme(raw) {
		return nil, URLReasonDangerous
	}
	if decoded, err := url.PathUnescape(raw); err == nil && containsDangerousScheme(decoded) {
		return nil, URLReasonDangerous
	}

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, URLReasonMalformed
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, URLReasonScheme
	}
	if len(allowedDomains) > 0 && !hostAllowed(u.Hostname(), allowedDomains) {
		return nil, URLReasonHost
	}
	return u, ""
}

// SanitizeURL returns the normalized form of raw, or "" when it fails CheckURL.
func SanitizeURL(raw string, allowedDomains []string) string {
	u, reason := CheckURL(raw, allowedDomains)
	if reason != "" {
		return ""
	}
	return u.String()
}

func containsDangerousScheme(s string) bool {
	compact := strings.ToLower(strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, s))
	for _, scheme := range dangerousSchemes {
		if strings.Contains(compact, scheme) {
			return true
		}
	}
	return false
}

func hostAllowed(host string, allowedDomains []string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, domain := range allowedDomains {
		domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), ".")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
