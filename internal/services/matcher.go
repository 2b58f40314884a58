package services

import (
	"regexp"
	"strings"

	"github.com/apimarket/gateway/internal/models"
)

var templateParamRe = regexp.MustCompile(`\{(\w+)\}`)

// Match is a resolved endpoint plus the path parameters extracted from the
// concrete request path.
type Match struct {
	Endpoint *models.Endpoint
	Params   map[string]string
}

// MatchEndpoint resolves method + path against an API's endpoint templates.
// Each {name} segment becomes a single-segment wildcard; the pattern is
// anchored so a segment-count mismatch (including trailing slashes) is a
// non-match. Methods compare case-insensitively. First match in stored
// order wins. Returns nil when nothing matches.
func MatchEndpoint(endpoints []models.Endpoint, method, path string) *Match {
	for i := range endpoints {
		ep := &endpoints[i]
		if !strings.EqualFold(ep.Method, method) {
			continue
		}

		pattern := "^" + templateParamRe.ReplaceAllString(ep.Path, `[^/]+`) + "$"
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Malformed template; skip rather than fail the whole lookup.
			continue
		}
		if !re.MatchString(path) {
			continue
		}

		return &Match{Endpoint: ep, Params: extractParams(ep.Path, path)}
	}
	return nil
}

// extractParams re-walks template and literal path segment by segment and
// pairs each {name} segment with the text occupying it. Values never span
// a '/' boundary.
func extractParams(template, path string) map[string]string {
	params := make(map[string]string)

	tsegs := strings.Split(template, "/")
	psegs := strings.Split(path, "/")
	if len(tsegs) != len(psegs) {
		return params
	}

	for i, seg := range tsegs {
		m := templateParamRe.FindStringSubmatch(seg)
		if m != nil && m[0] == seg {
			params[m[1]] = psegs[i]
		}
	}
	return params
}
