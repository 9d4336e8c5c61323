package auth

import (
	"net/url"
	"strings"
)

// SafeRedirect returns target when it is a local absolute path, otherwise "/".
// Protocol-relative ("//host") and backslash ("/\host") forms are rejected.
func SafeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") {
		return "/"
	}
	if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return "/"
	}
	if strings.ContainsAny(target, "\r\n") {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return "/"
	}
	return target
}
