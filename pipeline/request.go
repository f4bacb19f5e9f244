package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	HeaderRequestID   = "X-Request-ID"
	HeaderContentType = "Content-Type"
	ContentTypeJSON   = "application/json"
	ContentTypeForm   = "application/x-www-form-urlencoded"
)

// Request describes one logical API call. A Request may be sent several
// times by the pipeline, so its Body must be re-readable: []byte, string,
// url.Values or any value that encodes to JSON.
type Request struct {
	Method string
	Path   string // Relative to the base URL, or an absolute URL
	Query  url.Values
	Header http.Header
	Body   any

	// Idempotent allows retrying a non-GET request after a 5xx.
	Idempotent bool
	// Anonymous requests carry no access token and never trigger a refresh.
	Anonymous bool
}

// NewRequest builds a Request with a JSON body.
func NewRequest(method, path string, body any) *Request {
	return &Request{Method: method, Path: path, Body: body}
}

func (r *Request) retryable() bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead || r.Idempotent
}

func (r *Request) target(baseURL string) string {
	target := r.Path
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(target, "/")
	}
	if len(r.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.Query.Encode()
	}
	return target
}

func (r *Request) encodeBody() ([]byte, string, error) {
	switch b := r.Body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, ContentTypeJSON, nil
	case string:
		return []byte(b), ContentTypeJSON, nil
	case url.Values:
		return []byte(b.Encode()), ContentTypeForm, nil
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("encode request body: %w", err)
		}
		return encoded, ContentTypeJSON, nil
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return io.EOF
	}
	dec := json.NewDecoder(bytes.NewReader(r.Body))
	dec.UseNumber()
	return dec.Decode(v)
}

func readResponse(resp *http.Response) (*Response, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}
