package offlinesync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentworkforce/fieldsync/internal/mutationqueue"
)

// Request is a single call issued through the gateway or replayed from the
// queue. Headers keep their original order.
type Request struct {
	URL     string                 `json:"url"`
	Method  string                 `json:"method"`
	Headers []mutationqueue.Header `json:"headers,omitempty"`
	Body    []byte                 `json:"body,omitempty"`
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Transport performs one network call. A non-nil error means the request
// did not produce a response at all; HTTP status handling is the engine's.
type Transport interface {
	Do(ctx context.Context, req Request) (Response, error)
}

type HTTPTransport struct {
	httpClient *http.Client
}

// NewHTTPTransport wraps httpClient. A nil client gets one without a timeout:
// replay calls are bounded only by the caller's context.
func NewHTTPTransport(httpClient *http.Client) *HTTPTransport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPTransport{httpClient: httpClient}
}

func (t *HTTPTransport) Do(ctx context.Context, req Request) (Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	var bodyReader io.Reader
	if req.Body != nil {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return Response{}, err
	}
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "Host") {
			httpReq.Host = h.Value
			continue
		}
		httpReq.Header.Add(h.Name, h.Value)
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, err
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return Response{}, fmt.Errorf("read response body: %w", readErr)
	}
	return Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
	}, nil
}

// send runs req and folds non-2xx responses into *HTTPError. A panicking
// transport is contained at this boundary.
func (e *Engine) send(ctx context.Context, req Request) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = Response{}
			err = fmt.Errorf("%w: transport panicked: %v", ErrReplay, r)
		}
	}()
	resp, err = e.transport.Do(ctx, req)
	if err != nil {
		return resp, err
	}
	if !resp.OK() {
		return resp, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body, 256),
		}
	}
	return resp, nil
}

func errorMessage(body []byte, limit int) string {
	msg := strings.TrimSpace(string(body))
	if limit > 0 && len(msg) > limit {
		msg = msg[:limit]
	}
	return msg
}
