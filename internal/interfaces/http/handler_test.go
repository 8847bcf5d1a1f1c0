package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"saldobot/internal/entities"
	"saldobot/internal/infrastructure"
	"saldobot/internal/repository"
	"saldobot/internal/usecases"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type recordingMessenger struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (m *recordingMessenger) SendMessage(_ context.Context, to, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to+":"+content)
	return m.err
}

type fakeWhatsApp struct {
	qr        string
	connected bool
	loggedIn  bool
	logoutErr error
}

func (f *fakeWhatsApp) GetQR() string          { return f.qr }
func (f *fakeWhatsApp) IsConnected() bool      { return f.connected }
func (f *fakeWhatsApp) IsLoggedIn() bool       { return f.loggedIn }
func (f *fakeWhatsApp) GetPhoneNumber() string { return "5491199999999" }

func (f *fakeWhatsApp) Logout(context.Context) error {
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.loggedIn = false
	f.connected = false
	return nil
}

type apiFixture struct {
	router    *gin.Engine
	redis     *miniredis.Miniredis
	messenger *recordingMessenger
	service   *usecases.BalanceService
	whatsapp  *fakeWhatsApp
}

func newAPIFixture(t *testing.T, auth *usecases.AuthUsecase, limiter *infrastructure.KeyedLimiter) *apiFixture {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	services, err := repository.BindSenders(repository.DefaultServices(), map[string]string{
		"EDENOR": "5491100000001",
		"EDESUR": "5491100000002",
		"AYSA":   "5491100000003",
	}, false)
	if err != nil {
		t.Fatalf("bind senders: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	messenger := &recordingMessenger{}
	service := usecases.NewBalanceService(
		usecases.NewFlowMatcher(services),
		usecases.NewBalanceExtractor(nil),
		repository.NewRedisBalanceCache(client, nil),
		messenger,
		infrastructure.NewPendingRequests(10*time.Minute),
		usecases.BalanceServiceConfig{},
		logger,
	)

	wa := &fakeWhatsApp{qr: "2@pairing-code", connected: true}
	router := gin.New()
	SetupRoutes(router, NewHandler(service, wa, func() bool { return true }, logger), auth, NewMiddleware(auth, limiter))

	return &apiFixture{router: router, redis: server, messenger: messenger, service: service, whatsapp: wa}
}

func (f *apiFixture) do(t *testing.T, method, target string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestUpdateBalanceThenGetBalance(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/update-balance", map[string]string{"servicio": "EDENOR", "numeroCuenta": "12345"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["message"] != "Mensaje enviado a EDENOR con número de cuenta: 12345." || body["requestId"] == "" {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(f.messenger.sent) != 1 || f.messenger.sent[0] != "5491100000001:SALDO" {
		t.Fatalf("expected SALDO trigger, got %v", f.messenger.sent)
	}

	f.service.HandleInbound(context.Background(), entities.Message{
		From: "5491100000001@s.whatsapp.net",
		Body: "Factura: no saldo pendiente",
	})

	w = f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR&numeroCuenta=12345", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body = decode(t, w)
	if body["servicio"] != "EDENOR" || body["numeroCuenta"] != "12345" || body["saldo"] != "0" {
		t.Fatalf("unexpected balance body: %v", body)
	}
	if body["saldoDecimal"] != "0.00" || body["timestamp"] == nil {
		t.Fatalf("expected decimal and timestamp, got %v", body)
	}
}

func TestSendMessageAlias(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, nil)
	w := f.do(t, http.MethodPost, "/send-message", map[string]string{"servicio": "AYSA", "numeroCuenta": "0012-3"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestUpdateBalanceErrors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, nil)

	w := f.do(t, http.MethodPost, "/update-balance", map[string]string{"servicio": "GASNOR", "numeroCuenta": "1"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if msg, _ := decode(t, w)["error"].(string); !strings.Contains(msg, "AYSA, EDENOR, EDESUR, METROGAS") {
		t.Fatalf("expected valid services listed, got %q", msg)
	}

	w = f.do(t, http.MethodPost, "/update-balance", map[string]string{"servicio": "METROGAS", "numeroCuenta": "1"}, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for service without sender, got %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/update-balance", map[string]string{"servicio": "EDENOR", "numeroCuenta": "12 34"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid account, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/update-balance", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}

	f.messenger.err = errors.New("not connected")
	w = f.do(t, http.MethodPost, "/update-balance", map[string]string{"servicio": "EDENOR", "numeroCuenta": "1"}, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for transport failure, got %d", w.Code)
	}
}

func TestGetBalanceErrors(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, nil)

	if w := f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing account, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR&numeroCuenta=99999", nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", w.Code)
	}

	f.redis.Close()
	if w := f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR&numeroCuenta=12345", nil, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 with backend down, got %d", w.Code)
	}
}

func TestAuthProtectsBalanceEndpoints(t *testing.T) {
	t.Parallel()

	hashed, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f := newAPIFixture(t, usecases.NewAuthUsecase("admin", string(hashed), "jwt-secret"), nil)

	if w := f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR&numeroCuenta=1", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "nope"}, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin", "password": "s3cret"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected login to succeed, got %d", w.Code)
	}
	token, _ := decode(t, w)["token"].(string)

	w = f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR&numeroCuenta=1", nil, map[string]string{"Authorization": "Bearer " + token})
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected authorized request to reach the handler, got %d", w.Code)
	}
}

func TestLoginRouteAbsentWithoutAuth(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, nil)
	if w := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"username": "admin"}, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when auth is disabled, got %d", w.Code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, infrastructure.NewKeyedLimiter(0.001, 2))
	for i := 0; i < 2; i++ {
		if w := f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR&numeroCuenta=1", nil, nil); w.Code != http.StatusNotFound {
			t.Fatalf("request %d: expected 404, got %d", i, w.Code)
		}
	}
	if w := f.do(t, http.MethodGet, "/get-balance?servicio=EDENOR&numeroCuenta=1", nil, nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/healthz", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("expected health to bypass rate limit, got %d", w.Code)
	}
}

func TestWhatsAppEndpoints(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, nil)

	w := f.do(t, http.MethodGet, "/whatsapp/qr", nil, nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected PNG QR code, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("expected PNG signature")
	}

	f.whatsapp.loggedIn = true
	if w := f.do(t, http.MethodGet, "/whatsapp/qr", nil, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 once paired, got %d", w.Code)
	}

	w = f.do(t, http.MethodGet, "/whatsapp/status", nil, nil)
	if body := decode(t, w); body["connected"] != true || body["phone"] != "5491199999999" {
		t.Fatalf("unexpected status: %v", body)
	}

	w = f.do(t, http.MethodGet, "/healthz", nil, nil)
	if body := decode(t, w); body["cache"] != "up" || body["whatsapp"] != "up" {
		t.Fatalf("unexpected health: %v", body)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
}

func TestWhatsAppLogout(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, nil, nil)
	if w := f.do(t, http.MethodPost, "/whatsapp/logout", nil, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 without a paired session, got %d", w.Code)
	}

	f.whatsapp.loggedIn = true
	f.whatsapp.logoutErr = errors.New("server unreachable")
	if w := f.do(t, http.MethodPost, "/whatsapp/logout", nil, nil); w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when logout fails, got %d", w.Code)
	}
	if !f.whatsapp.loggedIn {
		t.Fatal("failed logout must keep the session")
	}

	f.whatsapp.logoutErr = nil
	w := f.do(t, http.MethodPost, "/whatsapp/logout", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if f.whatsapp.loggedIn {
		t.Fatal("expected session to be unlinked")
	}

	w = f.do(t, http.MethodGet, "/whatsapp/status", nil, nil)
	if body := decode(t, w); body["logged_in"] != false {
		t.Fatalf("expected logged out status, got %v", body)
	}
}
