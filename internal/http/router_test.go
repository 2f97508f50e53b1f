// README: End-to-end tests of the HTTP surface against in-memory services.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/config"
	httpapi "tgtaxi/internal/http"
	"tgtaxi/internal/infra"
	"tgtaxi/internal/modules/accesscode"
	"tgtaxi/internal/modules/chat"
	"tgtaxi/internal/modules/order"
	"tgtaxi/internal/modules/pricing"
	"tgtaxi/internal/modules/ratelimit"
	"tgtaxi/internal/modules/rating"
	"tgtaxi/internal/modules/user"
	"tgtaxi/internal/types"
)

// stubVerifier accepts tokens of the form "uid|role".
type stubVerifier struct{}

func (stubVerifier) VerifyToken(_ context.Context, raw string) (*infra.Token, error) {
	uid, role, ok := strings.Cut(raw, "|")
	if !ok {
		return nil, errors.New("bad token")
	}
	return &infra.Token{UID: uid, Role: role}, nil
}

type recordingBroadcaster struct {
	recipients []types.ID
	text       string
}

func (b *recordingBroadcaster) Broadcast(recipients []types.ID, text string) int {
	b.recipients = recipients
	b.text = text
	return len(recipients)
}

type testEnv struct {
	router      http.Handler
	users       *user.Service
	codes       *accesscode.Service
	broadcaster *recordingBroadcaster
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	users := user.NewService(user.NewMemoryStore(), []string{"admin1"})
	orders := order.NewService(order.NewMemoryStore(), pricing.NewService(config.DefaultTariffs, "RUB", nil), users,
		order.Options{Policy: order.PolicyFixed, Currency: "RUB", MaxActivePerClient: 10, BidMin: 50, BidMax: 100000}, nil)
	codes := accesscode.NewService(accesscode.NewMemoryStore(), users, nil)
	ratings := rating.NewService(rating.NewMemoryStore(), orders, users, rating.NewMemoryCache(), 0, nil)
	chats := chat.NewService(chat.NewMemoryStore(), orders, nil, nil)
	guard := ratelimit.NewGuard(ratelimit.NewMemoryLimiter(time.Minute, 5), nil)
	b := &recordingBroadcaster{}

	for _, id := range []types.ID{"c1", "c2"} {
		if _, err := users.Ensure(ctx, id, "Client "+id.String()); err != nil {
			t.Fatalf("seed client: %v", err)
		}
	}
	if _, err := users.BecomeDriver(ctx, "d1", "Driver One", "+100"); err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	if _, err := users.Ensure(ctx, "admin1", "Admin"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	srv := httpapi.NewServer(httpapi.ServerDeps{
		Users:         users,
		Codes:         codes,
		Orders:        orders,
		Ratings:       ratings,
		Chat:          chats,
		Guard:         guard,
		Broadcaster:   b,
		Verifier:      stubVerifier{},
		InternalToken: "svc",
	})
	return &testEnv{router: srv.Routes(), users: users, codes: codes, broadcaster: b}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

type orderBody struct {
	ID       string  `json:"id"`
	Status   string  `json:"status"`
	Price    int64   `json:"price"`
	DriverID *string `json:"driverId"`
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodGet, "/health", "", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/metrics", "", nil), http.StatusOK)
}

func TestCreate_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/orders", "", map[string]any{"type": "taxi", "from": "A", "to": "B"})
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestCreate_WrongClientID(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/orders", "c1|client", map[string]any{
		"type": "taxi", "clientId": "c2", "from": "A", "to": "B",
	})
	expectStatus(t, w, http.StatusForbidden)
}

func TestCreate_PricedFromTariff(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/orders", "c1|client", map[string]any{
		"type": "taxi", "from": "A", "to": "B", "distanceKm": 10,
	})
	expectStatus(t, w, http.StatusCreated)
	o := decode[orderBody](t, w)
	if o.Price != 350 || o.Status != "new" {
		t.Errorf("unexpected order %+v", o)
	}

	bad := env.do(t, http.MethodPost, "/api/orders", "c1|client", map[string]any{"type": "plane", "from": "A", "to": "B"})
	expectStatus(t, bad, http.StatusBadRequest)
}

func TestCreate_RateLimited(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		w := env.do(t, http.MethodPost, "/api/orders", "c2|client", map[string]any{"type": "courier", "from": "A", "to": "B"})
		expectStatus(t, w, http.StatusCreated)
		id := decode[orderBody](t, w).ID
		// keep the active-order limit out of the way
		expectStatus(t, env.do(t, http.MethodPost, "/api/orders/"+id+"/cancel", "c2|client", nil), http.StatusOK)
	}
	w := env.do(t, http.MethodPost, "/api/orders", "c2|client", map[string]any{"type": "courier", "from": "A", "to": "B"})
	expectStatus(t, w, http.StatusTooManyRequests)
	if msg := decode[map[string]string](t, w)["error"]; !strings.HasPrefix(msg, "Too many orders") {
		t.Errorf("unexpected message %q", msg)
	}

	admin := env.do(t, http.MethodPost, "/api/orders", "admin1|admin", map[string]any{"type": "courier", "clientId": "c2", "from": "A", "to": "B"})
	expectStatus(t, admin, http.StatusCreated)
}

func TestOrderLifecycleAndRating(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/orders", "c1|client", map[string]any{"type": "taxi", "from": "A", "to": "B"})
	expectStatus(t, w, http.StatusCreated)
	id := decode[orderBody](t, w).ID

	expectStatus(t, env.do(t, http.MethodPost, "/api/orders/"+id+"/accept", "c2|client", nil), http.StatusBadRequest)

	w = env.do(t, http.MethodPost, "/api/orders/"+id+"/accept", "d1|driver", map[string]any{"distanceKm": 4})
	expectStatus(t, w, http.StatusOK)
	if o := decode[orderBody](t, w); o.Status != "accepted" || o.DriverID == nil || *o.DriverID != "d1" || o.Price != 200 {
		t.Fatalf("unexpected accepted order %+v", o)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/orders/"+id+"/accept", "d1|driver", nil), http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodPost, "/api/orders/"+id+"/arrive", "d1|driver", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/api/orders/"+id+"/complete", "c2|client", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPost, "/api/orders/"+id+"/complete", "d1|driver", nil), http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/orders/"+id+"/rate", "c1|client", map[string]any{"stars": 5})
	expectStatus(t, w, http.StatusOK)
	if ok := decode[map[string]any](t, w)["success"]; ok != true {
		t.Fatalf("expected success, got %v", ok)
	}
	w = env.do(t, http.MethodPost, "/api/orders/"+id+"/rate", "c1|client", map[string]any{"stars": 1})
	expectStatus(t, w, http.StatusBadRequest)
	if ok := decode[map[string]any](t, w)["success"]; ok != false {
		t.Fatalf("expected success=false, got %v", ok)
	}

	w = env.do(t, http.MethodGet, "/api/drivers/d1/stats", "c1|client", nil)
	expectStatus(t, w, http.StatusOK)
	st := decode[map[string]any](t, w)
	if st["completedOrders"] != float64(1) || st["averageRating"] != float64(5) {
		t.Errorf("unexpected stats %v", st)
	}

	w = env.do(t, http.MethodGet, "/api/orders/"+id+"/events", "c1|client", nil)
	expectStatus(t, w, http.StatusOK)
	if events := decode[[]map[string]any](t, w); len(events) != 4 {
		t.Errorf("expected 4 events, got %d", len(events))
	}
	expectStatus(t, env.do(t, http.MethodGet, "/api/orders/"+id+"/events", "c2|client", nil), http.StatusForbidden)
}

func TestChatParticipants(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/orders", "c1|client", map[string]any{"type": "taxi", "from": "A", "to": "B"})
	expectStatus(t, w, http.StatusCreated)
	id := decode[orderBody](t, w).ID

	expectStatus(t, env.do(t, http.MethodPost, "/api/chat", "c1|client", map[string]any{"orderId": id, "message": "hi"}), http.StatusCreated)
	expectStatus(t, env.do(t, http.MethodPost, "/api/chat", "c2|client", map[string]any{"orderId": id, "message": "hi"}), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPost, "/api/chat", "c1|client", map[string]any{"orderId": id, "message": "   "}), http.StatusBadRequest)

	w = env.do(t, http.MethodGet, "/api/chat/"+id, "c1|client", nil)
	expectStatus(t, w, http.StatusOK)
	msgs := decode[[]map[string]any](t, w)
	if len(msgs) != 1 || msgs[0]["message"] != "hi" {
		t.Errorf("unexpected messages %v", msgs)
	}
}

func TestRegisterDriverWithCode(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/generate-code", "c1|client", nil), http.StatusForbidden)

	w := env.do(t, http.MethodPost, "/api/admin/generate-code", "admin1|admin", nil)
	expectStatus(t, w, http.StatusCreated)
	code := decode[map[string]any](t, w)["code"].(string)

	body := map[string]any{"code": code, "name": "Pavel", "phone": "+7000"}
	w = env.do(t, http.MethodPost, "/api/users/register-driver", "c2|client", body)
	expectStatus(t, w, http.StatusOK)
	if role := decode[map[string]any](t, w)["role"]; role != "driver" {
		t.Errorf("expected driver role, got %v", role)
	}

	w = env.do(t, http.MethodPost, "/api/users/register-driver", "c1|client", body)
	expectStatus(t, w, http.StatusBadRequest)

	w = env.do(t, http.MethodGet, "/api/admin/drivers", "admin1|admin", nil)
	expectStatus(t, w, http.StatusOK)
	if drivers := decode[[]map[string]any](t, w); len(drivers) != 2 {
		t.Errorf("expected 2 drivers, got %d", len(drivers))
	}
}

func TestAdminModeration(t *testing.T) {
	env := newTestEnv(t)
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/drivers/d1/warning", "admin1|admin", map[string]any{"text": "late"}), http.StatusOK)
	w := env.do(t, http.MethodPost, "/api/admin/drivers/d1/bonus", "admin1|admin", map[string]any{"amount": 300, "reason": "week"})
	expectStatus(t, w, http.StatusOK)
	if bal := decode[map[string]any](t, w)["balance"]; bal != float64(300) {
		t.Errorf("expected balance 300, got %v", bal)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/drivers/d1/block", "admin1|admin", nil), http.StatusOK)

	w = env.do(t, http.MethodPost, "/api/orders", "c1|client", map[string]any{"type": "taxi", "from": "A", "to": "B"})
	id := decode[orderBody](t, w).ID
	expectStatus(t, env.do(t, http.MethodPost, "/api/orders/"+id+"/accept", "d1|driver", nil), http.StatusBadRequest)

	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/users/c1/role", "admin1|admin", map[string]any{"role": "pilot"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/admin/stats", "admin1|admin", nil), http.StatusOK)
}

func TestAdminBroadcast(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodPost, "/api/admin/broadcast", "admin1|admin", map[string]any{"text": "Service update"})
	expectStatus(t, w, http.StatusAccepted)
	if len(env.broadcaster.recipients) != 4 || env.broadcaster.text != "Service update" {
		t.Errorf("unexpected broadcast %+v", env.broadcaster)
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/broadcast", "admin1|admin", map[string]any{}), http.StatusBadRequest)
}

func TestInternalTokenBypassesAuth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/drivers", nil)
	req.Header.Set("X-Internal-Token", "svc")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusOK)
}

func TestTelegramSignIn(t *testing.T) {
	gin.SetMode(gin.TestMode)
	const botToken = "123:abc"
	issuer, err := infra.NewJWTIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	users := user.NewService(user.NewMemoryStore(), nil)
	router := httpapi.NewServer(httpapi.ServerDeps{
		Users:          users,
		Verifier:       issuer,
		Issuer:         issuer,
		BotToken:       botToken,
		InitDataMaxAge: time.Hour,
	}).Routes()
	env := &testEnv{router: router, users: users}

	v := url.Values{}
	v.Set("auth_date", strconv.FormatInt(time.Now().Unix(), 10))
	v.Set("user", `{"id":777,"first_name":"Olga"}`)
	v.Set("hash", infra.SignInitData(v, botToken))

	w := env.do(t, http.MethodPost, "/auth/telegram", "", map[string]string{"initData": v.Encode()})
	expectStatus(t, w, http.StatusOK)
	resp := decode[struct {
		Token string         `json:"token"`
		User  map[string]any `json:"user"`
	}](t, w)
	if resp.User["id"] != "777" || resp.User["name"] != "Olga" || resp.User["role"] != "client" {
		t.Fatalf("unexpected user %v", resp.User)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/api/users/777", resp.Token, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/api/users/777", "forged.token.value", nil), http.StatusUnauthorized)

	v.Set("user", `{"id":1,"first_name":"Mallory"}`)
	w = env.do(t, http.MethodPost, "/auth/telegram", "", map[string]string{"initData": v.Encode()})
	expectStatus(t, w, http.StatusUnauthorized)
}
