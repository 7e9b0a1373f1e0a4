// Package target decides which client-supplied URLs the proxy may fetch.
package target

import (
	"net/url"
)

// IsAllowed reports whether candidate is an absolute http or https URL.
//
// Any other scheme (file, ftp, data, ...) is rejected so the proxy cannot be
// used to reach non-HTTP resources. Hosts are not filtered: private and
// loopback addresses reachable over HTTP(S) are still allowed.
//
// candidate is parsed as given. Unlike a browser URL parser, leading
// whitespace and malformed percent escapes such as "%zz" make it invalid.
func IsAllowed(candidate string) bool {
	if candidate == "" {
		return false
	}

	parsed, err := url.Parse(candidate)
	if err != nil {
		return false
	}

	// url.Parse lower-cases the scheme, so "HTTP://" is accepted.
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	// "http:feed.xml" and "http://" parse but carry no host to dial.
	return parsed.Host != ""
}
