package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret = "test-signing-secret"
	testIssuer = "transfa-auth"
)

type capturingNotifier struct {
	mu    sync.Mutex
	codes []string
}

func (n *capturingNotifier) SendVerificationCode(ctx context.Context, msg domain.VerificationCodeMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, msg.Code)
	return nil
}

func (n *capturingNotifier) last(t *testing.T) string {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.codes) == 0 {
		t.Fatalf("expected a verification code to be sent")
	}
	return n.codes[len(n.codes)-1]
}

type testServer struct {
	handler  http.Handler
	repo     *store.MemoryRepository
	notifier *capturingNotifier
}

func newTestServer(t *testing.T, config app.GateConfig, limiter app.RateLimiter) *testServer {
	t.Helper()
	logger := zerolog.Nop()
	repo := store.NewMemoryRepository()
	notifier := &capturingNotifier{}

	config.HashCost = bcrypt.MinCost
	gate := app.NewGate(repo, notifier, limiter, config, logger)
	executor := app.NewExecutor(repo, app.NewReferenceGenerator(repo), logger)
	service := app.NewService(repo, ContextIdentity{}, gate, executor, app.NewNoopPublisher(logger), app.ServiceOptions{
		Fees:           app.DefaultFeeSchedule(),
		EventsExchange: "transfa.events",
	}, logger)

	return &testServer{
		handler:  TransferRoutes(NewTransferHandlers(service, logger), RouterConfig{JWTSecret: testSecret, JWTIssuer: testIssuer}),
		repo:     repo,
		notifier: notifier,
	}
}

func (s *testServer) seedAccount(ownerID, balance string) uuid.UUID {
	id := uuid.New()
	s.repo.SeedAccount(domain.Account{
		ID:          id,
		OwnerID:     ownerID,
		DisplayName: "Everyday Checking",
		Currency:    "USD",
		Balance:     decimal.RequireFromString(balance),
		Status:      domain.AccountActive,
	})
	return id
}

func signToken(t *testing.T, subject, secret string) string {
	t.Helper()
	claims := Claims{
		Email:       subject + "@example.com",
		PhoneNumber: "+15555550123",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

func wireBody(sourceID uuid.UUID, routing string) map[string]interface{} {
	return map[string]interface{}{
		"kind":              "domestic_wire",
		"source_account_id": sourceID,
		"amount":            "250.00",
		"memo":              "Rent",
		"destination": map[string]interface{}{
			"recipient_name": "Bob Builder",
			"recipient_bank": "First National",
			"routing_number": routing,
			"account_number": "000123456789",
		},
	}
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t, app.DefaultGateConfig(), nil)
	rr := srv.do(t, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestAuthMiddlewareRejectsMissingAndForgedTokens(t *testing.T) {
	srv := newTestServer(t, app.DefaultGateConfig(), nil)

	if rr := srv.do(t, http.MethodGet, "/transfers", "", nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without token, got %d", rr.Code)
	}
	forged := signToken(t, "user_alice", "some-other-secret")
	if rr := srv.do(t, http.MethodGet, "/transfers", forged, nil); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for forged token, got %d", rr.Code)
	}
}

func TestSubmitTransferReportsInvalidField(t *testing.T) {
	srv := newTestServer(t, app.DefaultGateConfig(), nil)
	token := signToken(t, "user_alice", testSecret)
	source := srv.seedAccount("user_alice", "1000.00")

	rr := srv.do(t, http.MethodPost, "/transfers", token, wireBody(source, "12345"))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp errorResponse
	decodeBody(t, rr, &resp)
	if resp.Field != "routing_number" {
		t.Fatalf("expected field routing_number, got %q", resp.Field)
	}

	rr = srv.do(t, http.MethodPost, "/transfers", token, map[string]interface{}{"kind": "crypto"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for unknown kind, got %d", rr.Code)
	}
}

func TestWireTransferFlowOverHTTP(t *testing.T) {
	srv := newTestServer(t, app.DefaultGateConfig(), nil)
	token := signToken(t, "user_alice", testSecret)
	source := srv.seedAccount("user_alice", "1000.00")

	rr := srv.do(t, http.MethodPost, "/transfers", token, wireBody(source, "026009593"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var created transferResponse
	decodeBody(t, rr, &created)
	if created.Fee != "25.00" || created.Total != "275.00" {
		t.Fatalf("expected fee 25.00 and total 275.00, got %s and %s", created.Fee, created.Total)
	}
	dest, _ := created.Destination.(map[string]interface{})
	if dest["account_number"] != "****6789" {
		t.Fatalf("expected masked account number, got %v", dest["account_number"])
	}
	base := fmt.Sprintf("/transfers/%s", created.ID)

	if rr := srv.do(t, http.MethodPost, base+"/execute", token, nil); rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 before verification, got %d", rr.Code)
	}

	rr = srv.do(t, http.MethodPost, base+"/verification", token, map[string]string{"channel": "sms"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 issuing code, got %d: %s", rr.Code, rr.Body.String())
	}
	var issued verificationResponse
	decodeBody(t, rr, &issued)
	if !issued.Required || issued.SentTo == "+15555550123" {
		t.Fatalf("expected a required challenge with masked destination, got %+v", issued)
	}

	code := srv.notifier.last(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rr = srv.do(t, http.MethodPost, base+"/verification/confirm", token, map[string]string{"code": wrong})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 on mismatch, got %d", rr.Code)
	}

	rr = srv.do(t, http.MethodPost, base+"/verification/confirm", token, map[string]string{"code": code})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 on confirm, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = srv.do(t, http.MethodPost, base+"/execute", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 on execute, got %d: %s", rr.Code, rr.Body.String())
	}
	var receipt domain.Receipt
	decodeBody(t, rr, &receipt)
	if receipt.Reference == "" || receipt.Total != "$275.00" {
		t.Fatalf("expected receipt with reference and total $275.00, got %+v", receipt)
	}

	rr = srv.do(t, http.MethodGet, base+"/receipt", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 fetching receipt, got %d", rr.Code)
	}

	rr = srv.do(t, http.MethodGet, fmt.Sprintf("/accounts/%s/balance", source), token, nil)
	var balance map[string]interface{}
	decodeBody(t, rr, &balance)
	if balance["opening_balance"] != "1000.00" {
		t.Fatalf("expected opening balance 1000.00, got %v", balance["opening_balance"])
	}
	if balance["balance"] != "725.00" || balance["ledger_balance"] != "725.00" {
		t.Fatalf("expected balance 725.00 matching the ledger, got %v", balance)
	}

	other := signToken(t, "user_mallory", testSecret)
	if rr := srv.do(t, http.MethodGet, base, other, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for another user's transfer, got %d", rr.Code)
	}
}

func TestConfirmThrottleSetsRetryAfter(t *testing.T) {
	config := app.DefaultGateConfig()
	config.ConfirmLimitPerMinute = 1
	srv := newTestServer(t, config, app.NewLocalRateLimiter())
	token := signToken(t, "user_alice", testSecret)
	source := srv.seedAccount("user_alice", "1000.00")

	rr := srv.do(t, http.MethodPost, "/transfers", token, wireBody(source, "026009593"))
	var created transferResponse
	decodeBody(t, rr, &created)
	base := fmt.Sprintf("/transfers/%s", created.ID)

	if rr := srv.do(t, http.MethodPost, base+"/verification", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 issuing code, got %d: %s", rr.Code, rr.Body.String())
	}

	wrong := "000000"
	if srv.notifier.last(t) == wrong {
		wrong = "111111"
	}
	srv.do(t, http.MethodPost, base+"/verification/confirm", token, map[string]string{"code": wrong})

	rr = srv.do(t, http.MethodPost, base+"/verification/confirm", token, map[string]string{"code": wrong})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header on throttled confirm")
	}
}

func TestInvalidPathIDIsBadRequest(t *testing.T) {
	srv := newTestServer(t, app.DefaultGateConfig(), nil)
	token := signToken(t, "user_alice", testSecret)

	if rr := srv.do(t, http.MethodGet, "/transfers/not-a-uuid", token, nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}
