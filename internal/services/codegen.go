package services

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/apimarket/gateway/internal/models"
)

// Snippet is generated client code for one API.
type Snippet struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	FileName string `json:"fileName"`
}

// GenerateSDK derives client code from an API's stored endpoint definitions.
// Pure function of the metadata; no runtime state. Supported languages are
// javascript, python and curl; anything else is a bad request.
func GenerateSDK(api *models.RegisteredAPI, endpoints []models.Endpoint, language string) (*Snippet, error) {
	switch strings.ToLower(language) {
	case "javascript":
		return &Snippet{Code: javascriptSDK(api, endpoints), Language: "javascript", FileName: "client.js"}, nil
	case "python":
		return &Snippet{Code: pythonSDK(api, endpoints), Language: "python", FileName: "client.py"}, nil
	case "curl":
		return &Snippet{Code: curlSnippets(api, endpoints), Language: "curl", FileName: "requests.sh"}, nil
	default:
		return nil, NewBadRequest("unsupported_language", fmt.Sprintf("unsupported SDK language %q, expected javascript, python or curl", language))
	}
}

func javascriptSDK(api *models.RegisteredAPI, endpoints []models.Endpoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// %s client\n", api.Name)
	b.WriteString("class Client {\n")
	b.WriteString("  constructor(apiKey) {\n")
	fmt.Fprintf(&b, "    this.baseUrl = %q;\n", api.BaseURL)
	b.WriteString("    this.apiKey = apiKey;\n")
	b.WriteString("  }\n")

	for _, ep := range endpoints {
		params := templateParams(ep.Path)
		args := strings.Join(append(append([]string{}, params...), "options = {}"), ", ")
		fmt.Fprintf(&b, "\n  async %s(%s) {\n", endpointFuncName(ep, lowerCamel), args)
		fmt.Fprintf(&b, "    const path = `%s`;\n", jsTemplatePath(ep.Path))
		b.WriteString("    const res = await fetch(this.baseUrl + path, {\n")
		fmt.Fprintf(&b, "      method: %q,\n", strings.ToUpper(ep.Method))
		b.WriteString("      headers: { 'x-api-key': this.apiKey, 'Content-Type': 'application/json', ...options.headers },\n")
		b.WriteString("      body: options.body ? JSON.stringify(options.body) : undefined,\n")
		b.WriteString("    });\n")
		b.WriteString("    return res.json();\n")
		b.WriteString("  }\n")
	}

	b.WriteString("}\n\nmodule.exports = Client;\n")
	return b.String()
}

func pythonSDK(api *models.RegisteredAPI, endpoints []models.Endpoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\"\"\"%s client.\"\"\"\n", api.Name)
	b.WriteString("import requests\n\n\n")
	b.WriteString("class Client:\n")
	fmt.Fprintf(&b, "    BASE_URL = %q\n\n", api.BaseURL)
	b.WriteString("    def __init__(self, api_key):\n")
	b.WriteString("        self.session = requests.Session()\n")
	b.WriteString("        self.session.headers[\"x-api-key\"] = api_key\n")

	for _, ep := range endpoints {
		params := templateParams(ep.Path)
		args := strings.Join(append([]string{"self"}, append(params, "**kwargs")...), ", ")
		fmt.Fprintf(&b, "\n    def %s(%s):\n", endpointFuncName(ep, snakeCase), args)
		fmt.Fprintf(&b, "        path = f%q\n", pyTemplatePath(ep.Path))
		fmt.Fprintf(&b, "        resp = self.session.request(%q, self.BASE_URL + path, **kwargs)\n", strings.ToUpper(ep.Method))
		b.WriteString("        resp.raise_for_status()\n")
		b.WriteString("        return resp.json()\n")
	}

	return b.String()
}

func curlSnippets(api *models.RegisteredAPI, endpoints []models.Endpoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#!/bin/sh\n# %s requests\n", api.Name)
	for _, ep := range endpoints {
		fmt.Fprintf(&b, "\n# %s %s\n", strings.ToUpper(ep.Method), ep.Path)
		fmt.Fprintf(&b, "curl -X %s \\\n", strings.ToUpper(ep.Method))
		b.WriteString("  -H 'x-api-key: YOUR_API_KEY' \\\n")
		fmt.Fprintf(&b, "  '%s%s'\n", strings.TrimSuffix(api.BaseURL, "/"), ep.Path)
	}
	return b.String()
}

// GenerateCurl transforms a request description into a cURL command. No
// network or store access.
func GenerateCurl(req *TestCallRequest) (string, error) {
	if !ValidMethod(req.Method) {
		return "", NewBadRequest("invalid_method", fmt.Sprintf("invalid HTTP method %q", req.Method))
	}
	if req.URL == "" {
		return "", NewBadRequest("missing_url", "url is required")
	}

	target := req.URL
	if len(req.QueryParams) > 0 {
		q := url.Values{}
		for k, v := range req.QueryParams {
			q.Set(k, v)
		}
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + q.Encode()
	}

	parts := []string{fmt.Sprintf("curl -X %s '%s'", strings.ToUpper(req.Method), target)}

	headerNames := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		headerNames = append(headerNames, name)
	}
	sort.Strings(headerNames)
	for _, name := range headerNames {
		parts = append(parts, fmt.Sprintf("-H '%s: %s'", name, req.Headers[name]))
	}

	if req.Auth != nil {
		switch req.Auth.Type {
		case "basic":
			parts = append(parts, fmt.Sprintf("-u '%s:%s'", req.Auth.Username, req.Auth.Password))
		case "bearer":
			parts = append(parts, fmt.Sprintf("-H 'Authorization: Bearer %s'", req.Auth.Token))
		case "apiKey":
			header := req.Auth.Header
			if header == "" {
				header = "x-api-key"
			}
			parts = append(parts, fmt.Sprintf("-H '%s: %s'", header, req.Auth.Key))
		}
	}

	if req.Body != nil {
		body, err := json.Marshal(req.Body)
		if err != nil {
			return "", NewBadRequest("invalid_body", "body is not serializable")
		}
		parts = append(parts, "-H 'Content-Type: application/json'")
		parts = append(parts, fmt.Sprintf("-d '%s'", string(body)))
	}

	return strings.Join(parts, " \\\n  "), nil
}

// ValidMethod reports whether m is one of the seven standard HTTP verbs.
func ValidMethod(m string) bool {
	switch strings.ToUpper(m) {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS":
		return true
	}
	return false
}

func templateParams(path string) []string {
	var names []string
	for _, m := range templateParamRe.FindAllStringSubmatch(path, -1) {
		names = append(names, m[1])
	}
	return names
}

// jsTemplatePath turns /users/{id} into /users/${id} for template literals.
func jsTemplatePath(path string) string {
	return templateParamRe.ReplaceAllString(path, "${$1}")
}

// pyTemplatePath keeps {id} as-is: the f-string substitutes it directly.
func pyTemplatePath(path string) string {
	return path
}

func endpointFuncName(ep models.Endpoint, caseFn func([]string) string) string {
	words := []string{strings.ToLower(ep.Method)}
	for _, seg := range strings.Split(strings.Trim(ep.Path, "/"), "/") {
		if seg == "" {
			continue
		}
		if m := templateParamRe.FindStringSubmatch(seg); m != nil && m[0] == seg {
			words = append(words, "by", strings.ToLower(m[1]))
			continue
		}
		words = append(words, strings.ToLower(nonAlnumRe.ReplaceAllString(seg, "")))
	}
	return caseFn(words)
}

var nonAlnumRe = regexp.MustCompile(`[^a-zA-Z0-9]`)

func lowerCamel(words []string) string {
	var b strings.Builder
	for i, w := range words {
		if w == "" {
			continue
		}
		if i == 0 {
			b.WriteString(w)
			continue
		}
		b.WriteString(strings.ToUpper(w[:1]) + w[1:])
	}
	return b.String()
}

func snakeCase(words []string) string {
	kept := words[:0:0]
	for _, w := range words {
		if w != "" {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, "_")
}
