// Package testutil provides testing utilities for pagefetch.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/pagefetch/pkg/envelope"
	"github.com/Sternrassler/pagefetch/pkg/ratelimit"
	"github.com/tidwall/gjson"
)

// MockResponse defines a canned backend response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is one request received by the mock backend.
type RecordedRequest struct {
	Path          string
	OperationCode string
	Header        http.Header
	// Envelope is the raw JSON of the infbdy member.
	Envelope string
}

// StartIndex returns the X2 startIndex of the request, or -1 when unpaged.
func (r RecordedRequest) StartIndex() int {
	res := gjson.Get(r.Envelope, envelope.Key(r.OperationCode, envelope.GroupPaging)+".0."+envelope.FieldStartIndex)
	if !res.Exists() {
		return -1
	}
	return int(res.Int())
}

// Payload returns the X1 record of the request as raw JSON.
func (r RecordedRequest) Payload() string {
	return gjson.Get(r.Envelope, envelope.Key(r.OperationCode, envelope.GroupPayload)+".0").Raw
}

// MockBackend is a configurable envelope backend for testing. Operations
// without a canned response are served from lists registered with SetList.
type MockBackend struct {
	server *httptest.Server

	mu        sync.RWMutex
	responses map[string]MockResponse
	lists     map[string][]envelope.Item
	requests  []RecordedRequest
	remain    int
	reset     int
}

// NewMockBackend creates and starts a mock backend.
func NewMockBackend() *MockBackend {
	mock := &MockBackend{
		responses: make(map[string]MockResponse),
		lists:     make(map[string][]envelope.Item),
		remain:    100,
		reset:     60,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// URL returns the mock server URL.
func (m *MockBackend) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockBackend) Close() {
	m.server.Close()
}

// SetResponse configures a canned response for an operation code.
func (m *MockBackend) SetResponse(operationCode string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[operationCode] = resp
}

// SetList registers the records served for an operation code. Paged
// requests get the X2 window of records plus the total count in Z2.
func (m *MockBackend) SetList(operationCode string, records []envelope.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[operationCode] = records
}

// SetBudget sets the error-budget headers sent with every response.
func (m *MockBackend) SetBudget(remain, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remain = remain
	m.reset = resetSeconds
}

// Requests returns a copy of the recorded requests.
func (m *MockBackend) Requests() []RecordedRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockBackend) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

func (m *MockBackend) serve(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := RecordedRequest{
		Path:          r.URL.Path,
		OperationCode: gjson.GetBytes(raw, "prcCode").String(),
		Header:        r.Header.Clone(),
		Envelope:      gjson.GetBytes(raw, "infbdy").Raw,
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	resp, canned := m.responses[rec.OperationCode]
	records, listed := m.lists[rec.OperationCode]
	remain, reset := m.remain, m.reset
	m.mu.Unlock()

	w.Header().Set(ratelimit.HeaderRemain, strconv.Itoa(remain))
	w.Header().Set(ratelimit.HeaderReset, strconv.Itoa(reset))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	switch {
	case canned:
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	case listed:
		writeJSON(w, http.StatusOK, map[string]any{"infbdy": page(rec, records)})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "unknown operation " + rec.OperationCode})
	}
}

// page builds the envelope body for a list request.
func page(rec RecordedRequest, records []envelope.Item) envelope.Body {
	window := records
	if start := rec.StartIndex(); start >= 0 {
		size := int(gjson.Get(rec.Envelope,
			envelope.Key(rec.OperationCode, envelope.GroupPaging)+".0."+envelope.FieldPageSize).Int())
		window = slice(records, start, size)
	}

	items := make([]any, len(window))
	for i, item := range window {
		items[i] = item
	}

	return envelope.Body{
		envelope.Key(rec.OperationCode, envelope.GroupPrimary):   items,
		envelope.Key(rec.OperationCode, envelope.GroupSecondary): []any{envelope.Item{envelope.FieldTotalCount: len(records)}},
	}
}

func slice(records []envelope.Item, start, size int) []envelope.Item {
	if start >= len(records) {
		return nil
	}
	end := start + size
	if size <= 0 || end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// NewEnvelopeResponse creates a 200 OK response carrying body as the envelope.
func NewEnvelopeResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"infbdy":` + body + `}`,
	}
}

// NewNullResponse creates a 200 OK response with a null envelope.
func NewNullResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"infbdy":null}`,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with a low budget.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Rate limit exceeded"}`,
		Headers: map[string]string{
			ratelimit.HeaderRemain: "5",
			ratelimit.HeaderReset:  "30",
		},
	}
}

// Records builds n list records with sequential ids starting at 1.
func Records(n int) []envelope.Item {
	out := make([]envelope.Item, n)
	for i := range out {
		out[i] = envelope.Item{"id": i + 1}
	}
	return out
}
