package services

import (
	"encoding/json"
	"sort"
)

// Notices attached to shaped public-test responses.
const (
	TruncationNotice = "Response truncated for public testing. Purchase this API to receive full responses."
	PublicTestNotice = "Public test mode: responses may be truncated and requests are rate limited."
)

// TestCallRequest is the body of a public-test call. Unknown fields sent by
// clients are ignored.
type TestCallRequest struct {
	Method      string            `json:"method"`
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"queryParams,omitempty"`
	Body        interface{}       `json:"body,omitempty"`
	Auth        *AuthSpec         `json:"auth,omitempty"`
}

// AuthSpec describes how the test call authenticates against the upstream.
type AuthSpec struct {
	Type     string `json:"type"` // none | basic | bearer | apiKey
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	Key      string `json:"key,omitempty"`
	Header   string `json:"header,omitempty"` // header name for apiKey auth, default x-api-key
}

// PublicTestResponse is the envelope returned for every public-test call.
// The outer transport status is always 200; success reflects the upstream
// outcome.
type PublicTestResponse struct {
	Success       bool                `json:"success"`
	Duration      int64               `json:"duration"` // ms, includes the artificial paid-API delay
	Response      *PublicTestUpstream `json:"response,omitempty"`
	Error         *PublicTestError    `json:"error,omitempty"`
	Request       PublicTestRequest   `json:"request"`
	PublicTesting PublicTestInfo      `json:"publicTesting"`
}

type PublicTestUpstream struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    interface{}       `json:"body"`
}

type PublicTestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PublicTestRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type PublicTestInfo struct {
	Limited   bool          `json:"limited"`
	Truncated bool          `json:"truncated"`
	Message   string        `json:"message"`
	RateLimit RateLimitInfo `json:"rateLimit"`
}

type RateLimitInfo struct {
	Limit        int `json:"limit"`
	Remaining    int `json:"remaining"`
	ResetSeconds int `json:"resetSeconds"`
}

const (
	truncateMaxArrayItems = 3
	truncateMaxKeys       = 10
	truncateMaxDepth      = 2
)

// TruncateForPublicTest bounds a response body for the public-test envelope.
// Bodies at or under maxChars pass through decoded but unmodified. Larger
// JSON bodies keep the first 3 elements of arrays and up to 10 keys per
// object, with nodes past depth 2 replaced by a {_truncated: true} marker
// and a _moreProps count where keys were dropped; a _publicTestLimitation
// notice is attached to object roots. Non-JSON and scalar bodies are cut at
// maxChars with a trailing notice.
func TruncateForPublicTest(body []byte, maxChars int) (interface{}, bool) {
	if len(body) <= maxChars {
		return decodeLoose(body), false
	}

	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return hardCut(body, maxChars), true
	}

	switch v.(type) {
	case map[string]interface{}, []interface{}:
	default:
		// Scalar roots (strings, numbers) have no structure to prune.
		return hardCut(body, maxChars), true
	}

	shaped := truncateValue(v, 0)
	if m, ok := shaped.(map[string]interface{}); ok {
		m["_publicTestLimitation"] = TruncationNotice
	}
	return shaped, true
}

func hardCut(body []byte, maxChars int) string {
	return string(body[:maxChars]) + "... [" + TruncationNotice + "]"
}

func truncateValue(v interface{}, depth int) interface{} {
	switch val := v.(type) {
	case []interface{}:
		if depth >= truncateMaxDepth {
			return map[string]interface{}{"_truncated": true}
		}
		n := len(val)
		if n > truncateMaxArrayItems {
			n = truncateMaxArrayItems
		}
		out := make([]interface{}, 0, n)
		for _, item := range val[:n] {
			out = append(out, truncateValue(item, depth+1))
		}
		return out

	case map[string]interface{}:
		if depth >= truncateMaxDepth {
			return map[string]interface{}{"_truncated": true}
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]interface{}, truncateMaxKeys)
		for i, k := range keys {
			if i == truncateMaxKeys {
				break
			}
			out[k] = truncateValue(val[k], depth+1)
		}
		if len(keys) > truncateMaxKeys {
			out["_moreProps"] = len(keys) - truncateMaxKeys
		}
		return out

	default:
		return v
	}
}

// decodeLoose returns the parsed JSON value, or the raw text when the body
// isn't valid JSON.
func decodeLoose(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
