package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"ibkr-copilot/internal/api"
)

// fakeGateway is an in-process stand-in for the Client Portal Gateway. Each
// route counts its hits and records request bodies.
type fakeGateway struct {
	t      *testing.T
	mux    *http.ServeMux
	srv    *httptest.Server
	mu     sync.Mutex
	hits   map[string]int
	bodies map[string][]map[string]any
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	fg := &fakeGateway{
		t:      t,
		mux:    http.NewServeMux(),
		hits:   map[string]int{},
		bodies: map[string][]map[string]any{},
	}
	fg.srv = httptest.NewServer(fg.mux)
	t.Cleanup(fg.srv.Close)
	return fg
}

// handle registers a JSON route. reply receives the decoded body and returns
// the status code and value to encode.
func (fg *fakeGateway) handle(pattern string, reply func(r *http.Request, body map[string]any) (int, any)) {
	fg.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if b, _ := io.ReadAll(r.Body); len(b) > 0 {
			_ = json.Unmarshal(b, &body)
		}
		fg.mu.Lock()
		fg.hits[pattern]++
		fg.bodies[pattern] = append(fg.bodies[pattern], body)
		fg.mu.Unlock()

		status, v := reply(r, body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	})
}

func (fg *fakeGateway) static(pattern string, v any) {
	fg.handle(pattern, func(*http.Request, map[string]any) (int, any) {
		return http.StatusOK, v
	})
}

func (fg *fakeGateway) count(pattern string) int {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	return fg.hits[pattern]
}

func (fg *fakeGateway) lastBody(pattern string) map[string]any {
	fg.mu.Lock()
	defer fg.mu.Unlock()
	b := fg.bodies[pattern]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

func (fg *fakeGateway) client(opts ...Option) *Client {
	opts = append([]Option{WithClientOrderID(func() string { return "Exp-1234" })}, opts...)
	return New(api.NewClient(api.WithBaseURL(fg.srv.URL)), opts...)
}

const (
	routeAccounts  = "GET /v1/api/portfolio/accounts"
	routePositions = "GET /v1/api/portfolio/{acct}/positions/0"
	routeSummary   = "GET /v1/api/portfolio/{acct}/summary"
	routeOrders    = "GET /v1/api/iserver/account/orders"
	routeSearch    = "GET /v1/api/iserver/secdef/search"
	routePlace     = "POST /v1/api/iserver/account/{acct}/orders"
	routeReply     = "POST /v1/api/iserver/reply/{id}"
	routeCancel    = "DELETE /v1/api/iserver/account/{acct}/order/{id}"
	routeModify    = "POST /v1/api/iserver/account/{acct}/order/{id}"
	routeAuth      = "GET /v1/api/iserver/auth/status"
	routeSnapshot  = "GET /v1/api/iserver/marketdata/snapshot"
	routeHistory   = "GET /v1/api/iserver/marketdata/history"
)

func (fg *fakeGateway) withAccounts() {
	fg.static(routeAccounts, []map[string]any{{"id": "DU123", "accountTitle": "Paper"}})
}
