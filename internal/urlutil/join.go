package urlutil

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// ParseBase validates a service base URL. Only absolute http(s) URLs are accepted.
func ParseBase(base string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", base)
	}
	return u, nil
}

// Endpoint joins an API path onto base and encodes query. The base keeps its own
// path prefix, so a server mounted under /prefix still resolves /prefix/api/...
func Endpoint(base *url.URL, apiPath string, query url.Values) *url.URL {
	u := *base
	u.Path = path.Join("/", base.Path, apiPath)
	u.RawPath = ""
	u.RawQuery = ""
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	u.Fragment = ""
	return &u
}

// Redacted returns the URL without its query string, for logs and error messages
// where query parameters may carry tokens.
func Redacted(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}
