// Package redact scrubs credentials, card-like numbers and URL paths from
// text before it reaches logs, traces or audit sinks.
package redact

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const (
	mask       = "[REDACTED]"
	maskNumber = "[REDACTED_NUMBER]"
	maskURL    = "[REDACTED_URL]"
	maskPath   = "[REDACTED_PATH]"
)

// rule rewrites every match of re. replace receives the submatches of one
// match and returns its replacement; a nil replace uses template.
type rule struct {
	re       *regexp.Regexp
	template string
	replace  func(m []string) string
}

func (r rule) apply(s string) string {
	if r.replace == nil {
		return r.re.ReplaceAllString(s, r.template)
	}
	return r.re.ReplaceAllStringFunc(s, func(match string) string {
		return r.replace(r.re.FindStringSubmatch(match))
	})
}

// Rules run in order; later rules see the output of earlier ones.
var rules = []rule{
	{re: regexp.MustCompile(`(?i)(\b[a-z][a-z0-9+.\-]*://[^:/@\s]+:)([^@\s]+)(@)`), template: "${1}" + mask + "${3}"},
	{re: regexp.MustCompile(`(?i)(authorization\s*[:=]\s*bearer\s+)([A-Za-z0-9._\-+/=]+)`), template: "${1}" + mask},
	{re: regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`), template: "${1}" + mask},
	{re: regexp.MustCompile(`(?i)(api[_-]?keys?\s*[:=]\s*\[)([^\]]+)(\])`), template: "${1}REDACTED${3}"},
	{re: regexp.MustCompile(`(?i)(api[_-]?key(?:s)?\s*[:=]\s*)([A-Za-z0-9._\-+/=]+)`), template: "${1}" + mask},
	{
		re: regexp.MustCompile(`(?i)(pass(?:word|wd)?\s*[:=]\s*)(\S+)`),
		replace: func(m []string) string {
			if strings.Contains(m[2], "REDACTED") {
				return m[0]
			}
			return m[1] + mask
		},
	},
	{re: regexp.MustCompile(`(?i)(x-api-key)\s*[:=]\s*([A-Za-z0-9._\-+/=]+)`), template: "${1}=" + mask},
	{
		re: regexp.MustCompile(`(?i)(key|token|secret)\s*[:=]\s*([A-Za-z0-9._\-+/=]{6,})`),
		replace: func(m []string) string {
			if strings.Contains(m[0], mask) {
				return m[0]
			}
			return m[1] + "=" + mask
		},
	},
	{re: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), template: maskNumber},
	{
		re:      regexp.MustCompile(`https?://[^\s"'<>]+`),
		replace: func(m []string) string { return URL(m[0]) },
	},
}

// String returns s with every known secret pattern masked.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.apply(s)
	}
	for strings.Contains(s, mask+mask) {
		s = strings.ReplaceAll(s, mask+mask, mask)
	}
	return s
}

// Any formats v with %+v and redacts the result.
func Any(v any) string {
	return String(fmt.Sprintf("%+v", v))
}

// Sprintf is fmt.Sprintf followed by String.
func Sprintf(format string, args ...any) string {
	return String(fmt.Sprintf(format, args...))
}

// URL keeps scheme, host and the last path element. Credentials, query
// strings and inner path segments are dropped.
func URL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return maskURL
	}
	last := path.Base(strings.TrimSuffix(u.Path, "/"))
	if strings.HasSuffix(trimmed, "/") || last == "." || last == "/" || last == "" {
		last = maskPath
	}
	return u.Scheme + "://" + u.Host + "/" + last
}
