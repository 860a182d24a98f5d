package exchange

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"tradecore/pkg/exception"
)

// DefaultRestTimeout bounds every signed REST call.
const DefaultRestTimeout = 10 * time.Second

// Doer issues one HTTP request. Satisfied by *http.Client; tests swap
// in a recorder.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// NewHTTPClient builds the production Doer with the default timeout.
func NewHTTPClient() Doer {
	return &http.Client{Timeout: DefaultRestTimeout}
}

// RestRequest is one venue HTTP call before signing.
type RestRequest struct {
	Method string
	URL    string
	Query  url.Values
	Body   []byte
	Header http.Header
}

// SortedQuery encodes values with keys in byte order, the canonical
// form signature schemes hash over.
func SortedQuery(values url.Values) string {
	if len(values) == 0 {
		return ""
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var buf bytes.Buffer
	for _, key := range keys {
		for _, value := range values[key] {
			if buf.Len() > 0 {
				buf.WriteByte('&')
			}
			buf.WriteString(url.QueryEscape(key))
			buf.WriteByte('=')
			buf.WriteString(url.QueryEscape(value))
		}
	}
	return buf.String()
}

// DoRest issues the request and decodes the JSON response into out.
// A non-2xx status fails with the body attached; out may be nil when
// the caller only cares about success.
func DoRest(ctx context.Context, client Doer, req RestRequest, out any) error {
	switch req.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
	default:
		return errors.Wrapf(exception.ErrRestUnknownMethod, "method: %s", req.Method)
	}

	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + SortedQuery(req.Query)
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return errors.Wrap(err, "build rest request")
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return errors.Wrapf(err, "do rest request, url: %s", req.URL)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read rest response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Wrapf(exception.ErrRestBadStatus, "status: %d, body: %s", resp.StatusCode, payload)
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(payload, out); err != nil {
		return errors.Wrapf(exception.ErrRestBodyNotJSON, "body: %s", payload)
	}
	return nil
}
