package platform

import (
	"fmt"
	"strings"
)

// StripScheme removes any scheme prefix and trailing slash from host.
func StripScheme(host string) string {
	if _, rest, ok := strings.Cut(host, "://"); ok {
		host = rest
	}
	host = strings.TrimPrefix(host, "//")
	return strings.TrimSuffix(host, "/")
}

// WebActionURL returns the reachable URL of a web action. The URL is built
// only from configuration and the action name. With asJSON the ".json"
// suffix asks the platform for a JSON-decoded response.
func WebActionURL(scheme, host, namespace, pkg, action string, asJSON bool) string {
	if scheme == "" {
		scheme = "http"
	}
	u := fmt.Sprintf("%s://%s/api/v1/web/%s/%s/%s", scheme, StripScheme(host), namespace, pkg, action)
	if asJSON {
		u += ".json"
	}
	return u
}
