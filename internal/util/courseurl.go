package util

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// The same course is reachable under the public storefront and the
// business-tenant subdomain. The canonical form stored and matched on
// is always the tenant host.
const (
	canonicalCourseHost = "samsungu.udemy.com"
	publicCourseHost    = "www.udemy.com"
	baseCourseDomain    = "udemy.com"
)

var coursePathRe = regexp.MustCompile(`^/course/([a-zA-Z0-9-_]+)/?`)

// CanonicalCourseURL normalizes a raw course URL to the canonical
// platform host with a clean /course/<slug>/ path, dropping query and
// fragment. Returns an error for non-platform or malformed URLs.
func CanonicalCourseURL(raw string) (string, error) {
	return normalizeCourseURL(raw, canonicalCourseHost)
}

// PublicCourseURL normalizes a raw course URL to the public storefront
// host. Used as the alternate lookup variant when matching catalog
// entries written before canonicalization was enforced.
func PublicCourseURL(raw string) (string, error) {
	return normalizeCourseURL(raw, publicCourseHost)
}

func normalizeCourseURL(raw, host string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("empty course url")
	}
	if !strings.HasPrefix(strings.ToLower(trimmed), "http://") &&
		!strings.HasPrefix(strings.ToLower(trimmed), "https://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid course url %q: %w", raw, err)
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname != baseCourseDomain && !strings.HasSuffix(hostname, "."+baseCourseDomain) {
		return "", fmt.Errorf("not a platform course url: %s", raw)
	}

	m := coursePathRe.FindStringSubmatch(u.Path)
	if m == nil {
		return "", fmt.Errorf("not a course path: %s", u.Path)
	}

	return fmt.Sprintf("https://%s/course/%s/", host, m[1]), nil
}

// IsPlatformCourseURL reports whether a URL points at the course platform
func IsPlatformCourseURL(raw string) bool {
	_, err := CanonicalCourseURL(raw)
	return err == nil
}
