package nativehost

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caffeineduck/opcore/dispatch"
)

const (
	DefaultMaxURLLength   = 8192
	DefaultMaxBodySize    = 1 << 20 // 1MB
	DefaultRequestTimeout = 30 * time.Second
)

// FetchConfig controls op_fetch.
type FetchConfig struct {
	AllowedHosts   []string
	MaxBodySize    int64
	MaxURLLength   int
	RequestTimeout time.Duration
}

// Fetcher performs HTTP requests for op_fetch against an allow-list.
type Fetcher struct {
	cfg    FetchConfig
	client *http.Client
}

// NewFetcher creates a Fetcher. Zero limits take their defaults.
func NewFetcher(cfg FetchConfig) *Fetcher {
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = DefaultMaxURLLength
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	return &Fetcher{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

// FetchResponse is the result of op_fetch.
type FetchResponse struct {
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}

// Fetch implements op_fetch. Arguments: url, and optionally method,
// headers and body.
func (f *Fetcher) Fetch(ctx context.Context, args map[string]any) (any, error) {
	method, _ := args["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	switch method {
	case "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
	default:
		return nil, dispatch.NewOpError(dispatch.TypeError, "unsupported method: %s", method)
	}

	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return nil, invalidArg("url required")
	}
	if len(rawURL) > f.cfg.MaxURLLength {
		return nil, dispatch.NewOpError(dispatch.URIError, "url exceeds max length")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, dispatch.NewOpError(dispatch.URIError, "invalid url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, dispatch.NewOpError(dispatch.URIError, "scheme must be http or https")
	}

	host := parsed.Hostname()
	if !f.allowed(host) {
		return nil, denied("host not allowed: %s", host)
	}

	var body io.Reader
	if s, ok := args["body"].(string); ok && s != "" {
		if int64(len(s)) > f.cfg.MaxBodySize {
			return nil, invalidArg("request body exceeds max size")
		}
		body = bytes.NewBufferString(s)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, dispatch.NewOpError(dispatch.Http, "create request: %v", err)
	}
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if vs, ok := v.(string); ok {
				req.Header.Set(k, vs)
			}
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		oe := classify(err)
		if oe.Kind == dispatch.Other {
			oe.Kind = dispatch.Http
		}
		return nil, oe
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodySize))
	if err != nil {
		return nil, dispatch.NewOpError(dispatch.Http, "read response: %v", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return FetchResponse{
		Status:  resp.StatusCode,
		Body:    string(respBody),
		Headers: headers,
	}, nil
}

func (f *Fetcher) allowed(host string) bool {
	for _, allowed := range f.cfg.AllowedHosts {
		if allowed == "*" || host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
