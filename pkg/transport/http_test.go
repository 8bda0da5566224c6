package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/pagefetch/internal/testutil"
	"github.com/Sternrassler/pagefetch/pkg/envelope"
	"github.com/Sternrassler/pagefetch/pkg/pagination"
	"github.com/Sternrassler/pagefetch/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestTransport(t *testing.T, baseURL string) *HTTPTransport {
	t.Helper()
	tr, err := New(DefaultConfig(baseURL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tr
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{name: "valid", baseURL: "https://api.example.com/gateway"},
		{name: "trailing slash", baseURL: "http://localhost:8080/"},
		{name: "empty", baseURL: "", wantErr: true},
		{name: "relative", baseURL: "/gateway", wantErr: true},
		{name: "unparsable", baseURL: "http://[::1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(DefaultConfig(tt.baseURL))
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("http://localhost")
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
	if cfg.Tracker != nil {
		t.Error("Tracker should be nil by default")
	}
}

func TestFetch_WireFormat(t *testing.T) {
	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetList("MC06GETLIST", testutil.Records(25))

	tr := newTestTransport(t, mock.URL()+"/gateway/")

	ctx := pagination.WithRequestID(context.Background(), "req-1")
	req := envelope.Encode("MC06GETLIST", envelope.Item{"X01": "vip"}, &envelope.Paging{StartIndex: 10, PageSize: 10})

	body, err := tr.Fetch(ctx, "MC06GETLIST", req, "customer")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	reqs := mock.Requests()
	if len(reqs) != 1 {
		t.Fatalf("request count = %d, want 1", len(reqs))
	}
	got := reqs[0]
	if got.Path != "/gateway/customer" {
		t.Errorf("Path = %q, want /gateway/customer", got.Path)
	}
	if got.OperationCode != "MC06GETLIST" {
		t.Errorf("OperationCode = %q", got.OperationCode)
	}
	if got.Header.Get(HeaderRequestID) != "req-1" {
		t.Errorf("X-Request-ID = %q, want req-1", got.Header.Get(HeaderRequestID))
	}
	if got.Header.Get("User-Agent") != "pagefetch/1.0" {
		t.Errorf("User-Agent = %q", got.Header.Get("User-Agent"))
	}
	if got.StartIndex() != 10 {
		t.Errorf("StartIndex() = %d, want 10", got.StartIndex())
	}
	if got.Payload() != `{"X01":"vip"}` {
		t.Errorf("Payload() = %s", got.Payload())
	}

	decoded := envelope.Decode("MC06GETLIST", body)
	if len(decoded.Primary) != 10 {
		t.Fatalf("Primary len = %d, want 10", len(decoded.Primary))
	}
	first, ok := decoded.Primary[0].(envelope.Item)
	if !ok || first["id"] != json.Number("11") {
		t.Errorf("first = %v, want id 11", decoded.Primary[0])
	}
	if decoded.TotalCount == nil || *decoded.TotalCount != 25 {
		t.Errorf("TotalCount = %v, want 25", decoded.TotalCount)
	}
}

func TestFetch_NullBodies(t *testing.T) {
	tests := []struct {
		name string
		resp testutil.MockResponse
	}{
		{"null member", testutil.NewNullResponse()},
		{"missing member", testutil.MockResponse{StatusCode: http.StatusOK, Body: `{"other":1}`}},
		{"empty body", testutil.MockResponse{StatusCode: http.StatusOK}},
		{"literal null", testutil.MockResponse{StatusCode: http.StatusOK, Body: "null"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockBackend()
			defer mock.Close()
			mock.SetResponse("MC06GETINFO", tt.resp)

			tr := newTestTransport(t, mock.URL())
			body, err := tr.Fetch(context.Background(), "MC06GETINFO", envelope.Encode("MC06GETINFO", nil, nil), "customer")
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if body != nil {
				t.Errorf("body = %v, want nil", body)
			}
		})
	}
}

func TestFetch_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "<html>oops</html>"},
		{"array at root", `[1,2]`},
		{"member not an object", `{"infbdy":[1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockBackend()
			defer mock.Close()
			mock.SetResponse("MC06GETINFO", testutil.MockResponse{StatusCode: http.StatusOK, Body: tt.body})

			tr := newTestTransport(t, mock.URL())
			_, err := tr.Fetch(context.Background(), "MC06GETINFO", envelope.Encode("MC06GETINFO", nil, nil), "customer")
			if !errors.Is(err, ErrMalformedResponse) {
				t.Errorf("err = %v, want ErrMalformedResponse", err)
			}
		})
	}
}

func TestFetch_ErrorStatus(t *testing.T) {
	tests := []struct {
		name        string
		resp        testutil.MockResponse
		wantClass   ErrorClass
		wantMessage string
	}{
		{"server error", testutil.NewServerErrorResponse(), ErrorClassServer, "Internal server error"},
		{"rate limited", testutil.NewRateLimitResponse(), ErrorClassRateLimit, "Rate limit exceeded"},
		{"bad request without message", testutil.MockResponse{StatusCode: http.StatusBadRequest}, ErrorClassClient, "400 Bad Request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockBackend()
			defer mock.Close()
			mock.SetResponse("MC06GETLIST", tt.resp)

			tr := newTestTransport(t, mock.URL())
			_, err := tr.Fetch(context.Background(), "MC06GETLIST", envelope.Encode("MC06GETLIST", nil, nil), "customer")

			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("err = %v, want *TransportError", err)
			}
			if te.Class != tt.wantClass {
				t.Errorf("Class = %q, want %q", te.Class, tt.wantClass)
			}
			if te.StatusCode != tt.resp.StatusCode {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.resp.StatusCode)
			}
			if te.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", te.Message, tt.wantMessage)
			}
		})
	}
}

func TestFetch_NetworkError(t *testing.T) {
	mock := testutil.NewMockBackend()
	url := mock.URL()
	mock.Close()

	tr := newTestTransport(t, url)
	_, err := tr.Fetch(context.Background(), "MC06GETLIST", envelope.Encode("MC06GETLIST", nil, nil), "customer")

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if te.Class != ErrorClassNetwork {
		t.Errorf("Class = %q, want network", te.Class)
	}
	if te.Err == nil {
		t.Error("network error should wrap its cause")
	}
}

func TestFetch_Timeout(t *testing.T) {
	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetResponse("MC06GETLIST", testutil.MockResponse{StatusCode: http.StatusOK, Delay: 200 * time.Millisecond})

	cfg := DefaultConfig(mock.URL())
	cfg.Timeout = 20 * time.Millisecond
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = tr.Fetch(context.Background(), "MC06GETLIST", envelope.Encode("MC06GETLIST", nil, nil), "customer")
	if !IsRetryable(err) {
		t.Errorf("timeout should classify as a retryable network error, got %v", err)
	}
}

// TestControllerOverHTTP pages through a backend list with the controller.
func TestControllerOverHTTP(t *testing.T) {
	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetList("MC06GETLIST", testutil.Records(25))

	pages := make(chan []any, 4)
	failures := make(chan error, 4)

	ctrl, err := pagination.NewFactory(newTestTransport(t, mock.URL()),
		pagination.WithDebounce(10*time.Millisecond),
		pagination.WithLogger(zerolog.Nop()),
	).NewPaged(pagination.FetchConfig{
		OperationCode: "MC06GETLIST",
		OnSuccess:     func(data any) { pages <- data.([]any) },
		OnFailure:     func(err error) { failures <- err },
	})
	if err != nil {
		t.Fatalf("NewPaged() error = %v", err)
	}
	defer ctrl.Dispose()

	wantSizes := []int{10, 10, 5}
	for i, want := range wantSizes {
		if i == 0 {
			ctrl.FirstPage()
		} else {
			ctrl.NextPage()
		}

		select {
		case page := <-pages:
			if len(page) != want {
				t.Fatalf("page %d: len = %d, want %d", i, len(page), want)
			}
			want := json.Number(strconv.Itoa(i*10 + 1))
			if first := page[0].(envelope.Item); first["id"] != want {
				t.Errorf("page %d: first id = %v, want %v", i, first["id"], want)
			}
		case err := <-failures:
			t.Fatalf("page %d: unexpected failure %v", i, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("page %d: timed out", i)
		}
	}

	if ctrl.HasMoreData() {
		t.Error("HasMoreData() should be false after the last page")
	}

	for _, req := range mock.Requests() {
		if _, err := uuid.Parse(req.Header.Get(HeaderRequestID)); err != nil {
			t.Errorf("request ID %q is not a UUID", req.Header.Get(HeaderRequestID))
		}
	}
}

func TestControllerOverHTTP_Failure(t *testing.T) {
	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetResponse("MC06GETLIST", testutil.NewServerErrorResponse())

	failures := make(chan error, 1)
	ctrl, err := pagination.New(newTestTransport(t, mock.URL()), pagination.FetchConfig{
		Path:          "customer",
		OperationCode: "MC06GETLIST",
		PageSize:      10,
		OnFailure:     func(err error) { failures <- err },
	}, pagination.WithDebounce(10*time.Millisecond), pagination.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer ctrl.Dispose()

	ctrl.FirstPage()

	select {
	case err := <-failures:
		var te *TransportError
		if !errors.As(err, &te) || te.Class != ErrorClassServer {
			t.Errorf("failure = %v, want server TransportError", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure")
	}

	if ctrl.State().Status != pagination.Failed {
		t.Errorf("Status = %v, want fail", ctrl.State().Status)
	}
}

func TestFetch_ErrorBudgetGate(t *testing.T) {
	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	redisClient.FlushDB(ctx)
	t.Cleanup(func() {
		redisClient.FlushDB(context.Background())
		redisClient.Close()
	})

	mock := testutil.NewMockBackend()
	defer mock.Close()
	mock.SetList("MC06GETLIST", testutil.Records(3))
	mock.SetBudget(2, 60)

	cfg := DefaultConfig(mock.URL())
	cfg.Tracker = ratelimit.NewTracker(redisClient, zerolog.Nop())
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	req := envelope.Encode("MC06GETLIST", nil, nil)

	// First call sees the default healthy budget and records the critical one.
	if _, err := tr.Fetch(ctx, "MC06GETLIST", req, "customer"); err != nil {
		t.Fatalf("first Fetch() error = %v", err)
	}

	_, err = tr.Fetch(ctx, "MC06GETLIST", req, "customer")
	if !errors.Is(err, ErrBackendBudgetExhausted) {
		t.Errorf("second Fetch() err = %v, want ErrBackendBudgetExhausted", err)
	}
	if mock.GetRequestCount() != 1 {
		t.Errorf("blocked request reached the backend (count %d)", mock.GetRequestCount())
	}
}

func TestUnwrapBody(t *testing.T) {
	body, err := unwrapBody([]byte(`{"infbdy":{"GETLISTZ1":[{"id":1}]}}`))
	if err != nil {
		t.Fatalf("unwrapBody() error = %v", err)
	}
	if _, ok := body["GETLISTZ1"]; !ok {
		t.Errorf("body = %v, want GETLISTZ1 member", body)
	}

	if _, err := unwrapBody([]byte(strings.Repeat("{", 3))); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("err = %v, want ErrMalformedResponse", err)
	}
}
