package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/qqrelay/internal/delivery"
	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
	"github.com/nextlevelbuilder/qqrelay/internal/store/file"
)

type fakeDeliverer struct {
	last   delivery.Request
	result delivery.Result
	err    error
}

func (f *fakeDeliverer) Deliver(_ context.Context, req delivery.Request) (delivery.Result, error) {
	f.last = req
	return f.result, f.err
}

func (f *fakeDeliverer) Lookup(id string) (delivery.Result, bool) {
	if id == f.result.ID {
		return f.result, true
	}
	return delivery.Result{}, false
}

func (f *fakeDeliverer) Stats() delivery.Stats { return delivery.Stats{PendingWakes: 2} }

type fakeGateway struct{ restarts int }

func (g *fakeGateway) Status() qqbot.GatewayStatus {
	return qqbot.GatewayStatus{State: "ready", RetryCount: 0}
}
func (g *fakeGateway) Restart() { g.restarts++ }

func newTestServer(t *testing.T, token string) (http.Handler, *fakeDeliverer, *fakeGateway, store.BindingStore) {
	t.Helper()
	bs, err := file.NewBindingStore(filepath.Join(t.TempDir(), "bindings.json"))
	if err != nil {
		t.Fatal(err)
	}
	d := &fakeDeliverer{}
	gw := &fakeGateway{}
	srv := NewServer(Deps{Delivery: d, Bindings: bs, Gateway: gw, Token: token})
	return srv.Handler(), d, gw, bs
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_RequiresToken(t *testing.T) {
	h, _, _, _ := newTestServer(t, "secret")
	if rec := do(h, "GET", "/v1/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d", rec.Code)
	}
	if rec := do(h, "GET", "/v1/status", "wrong", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status %d", rec.Code)
	}
	if rec := do(h, "GET", "/v1/status", "secret", ""); rec.Code != http.StatusOK {
		t.Errorf("good token: status %d", rec.Code)
	}
	if rec := do(h, "GET", "/health", "", ""); rec.Code != http.StatusOK {
		t.Errorf("health should be open: status %d", rec.Code)
	}
}

func TestServer_DeliverStatusCodes(t *testing.T) {
	h, d, _, _ := newTestServer(t, "")
	body := `{"conversation_key":"group:1","content":{"text":"hi"}}`

	d.result = delivery.Result{ID: "d1", Status: delivery.StatusDelivered, Tier: delivery.TierCached}
	if rec := do(h, "POST", "/v1/deliveries", "", body); rec.Code != http.StatusOK {
		t.Errorf("delivered: status %d", rec.Code)
	}
	if d.last.ConversationKey != "group:1" || d.last.Content.Text != "hi" {
		t.Errorf("request = %+v", d.last)
	}

	d.result = delivery.Result{ID: "d2", Status: delivery.StatusPending, VerifyCode: "ABCDEFGH"}
	rec := do(h, "POST", "/v1/deliveries", "", body)
	if rec.Code != http.StatusAccepted {
		t.Errorf("pending: status %d", rec.Code)
	}
	var got delivery.Result
	json.NewDecoder(rec.Body).Decode(&got)
	if got.VerifyCode != "ABCDEFGH" {
		t.Errorf("verify code = %q", got.VerifyCode)
	}

	d.result = delivery.Result{ID: "d3", Status: delivery.StatusFailed}
	d.err = delivery.ErrExhausted
	if rec := do(h, "POST", "/v1/deliveries", "", body); rec.Code != http.StatusBadGateway {
		t.Errorf("exhausted: status %d", rec.Code)
	}

	if rec := do(h, "POST", "/v1/deliveries", "", "{"); rec.Code != http.StatusBadRequest {
		t.Errorf("bad json: status %d", rec.Code)
	}
}

func TestServer_DeliverRejectionsAndLimits(t *testing.T) {
	h, d, _, _ := newTestServer(t, "")

	d.result = delivery.Result{ID: "d4", Status: delivery.StatusFailed}
	d.err = fmt.Errorf("%w: unsupported file", delivery.ErrContentRejected)
	if rec := do(h, "POST", "/v1/deliveries", "", `{"conversation_key":"group:1","content":{"text":"hi"}}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("content rejected: status %d", rec.Code)
	}

	huge := `{"conversation_key":"group:1","content":{"text":"` + strings.Repeat("a", maxBodyBytes+1) + `"}}`
	if rec := do(h, "POST", "/v1/deliveries", "", huge); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status %d", rec.Code)
	}
}

func TestServer_DeliveryLookup(t *testing.T) {
	h, d, _, _ := newTestServer(t, "")
	d.result = delivery.Result{ID: "abc", Status: delivery.StatusDelivered}
	if rec := do(h, "GET", "/v1/deliveries/abc", "", ""); rec.Code != http.StatusOK {
		t.Errorf("known id: status %d", rec.Code)
	}
	if rec := do(h, "GET", "/v1/deliveries/zzz", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status %d", rec.Code)
	}
}

func TestServer_BindingsCRUD(t *testing.T) {
	h, _, _, bs := newTestServer(t, "")

	rec := do(h, "PUT", "/v1/bindings/group:42", "", `{"action_id":"wake","action_payload":"go"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: status %d body %s", rec.Code, rec.Body)
	}
	b, err := bs.Get(context.Background(), "group:42")
	if err != nil || b.ActionID != "wake" {
		t.Fatalf("stored = %+v, %v", b, err)
	}

	if rec := do(h, "GET", "/v1/bindings/group:42", "", ""); rec.Code != http.StatusOK {
		t.Errorf("get: status %d", rec.Code)
	}
	rec = do(h, "GET", "/v1/bindings", "", "")
	if !strings.Contains(rec.Body.String(), `"group:42"`) {
		t.Errorf("list = %s", rec.Body)
	}
	if rec := do(h, "DELETE", "/v1/bindings/group:42", "", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status %d", rec.Code)
	}
	if rec := do(h, "GET", "/v1/bindings/group:42", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status %d", rec.Code)
	}
}

func TestServer_BindingBareKeyIsGroup(t *testing.T) {
	h, _, _, bs := newTestServer(t, "")
	if rec := do(h, "PUT", "/v1/bindings/77", "", `{"action_id":"wake"}`); rec.Code != http.StatusOK {
		t.Fatalf("put: status %d body %s", rec.Code, rec.Body)
	}
	if _, err := bs.Get(context.Background(), "group:77"); err != nil {
		t.Errorf("stored under canonical key: %v", err)
	}
	if rec := do(h, "DELETE", "/v1/bindings/group:77", "", ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete canonical: status %d", rec.Code)
	}
}

func TestServer_PutBindingValidates(t *testing.T) {
	h, _, _, _ := newTestServer(t, "")
	if rec := do(h, "PUT", "/v1/bindings/group:1", "", `{"action_payload":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("missing action_id: status %d", rec.Code)
	}
	if rec := do(h, "PUT", "/v1/bindings/channel:1", "", `{"action_id":"x"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad key kind: status %d", rec.Code)
	}
}

func TestServer_RestartAndStatus(t *testing.T) {
	h, _, gw, _ := newTestServer(t, "")
	if rec := do(h, "POST", "/v1/gateway/restart", "", ""); rec.Code != http.StatusAccepted {
		t.Errorf("restart: status %d", rec.Code)
	}
	if gw.restarts != 1 {
		t.Errorf("restarts = %d", gw.restarts)
	}

	rec := do(h, "GET", "/v1/status", "", "")
	var st struct {
		Gateway  qqbot.GatewayStatus `json:"gateway"`
		Delivery delivery.Stats      `json:"delivery"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Gateway.State != "ready" || st.Delivery.PendingWakes != 2 {
		t.Errorf("status = %+v", st)
	}
}

func TestRateLimiter_PerKey(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst not honoured")
	}
	if rl.Allow("a") {
		t.Error("third request within burst window allowed")
	}
	if !rl.Allow("b") {
		t.Error("independent key limited")
	}
	if !NewRateLimiter(0, 0).Allow("x") {
		t.Error("disabled limiter rejected")
	}
}

func TestServer_RateLimited(t *testing.T) {
	bs, _ := file.NewBindingStore(filepath.Join(t.TempDir(), "b.json"))
	h := NewServer(Deps{Delivery: &fakeDeliverer{}, Bindings: bs, RateLimitRPM: 1}).Handler()
	var last int
	for i := 0; i < 7; i++ {
		last = do(h, "GET", "/v1/bindings", "", "").Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want 429", last)
	}
}
