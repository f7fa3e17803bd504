/**
 * @description
 * This file contains the HTTP handlers for the transfer-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - github.com/rs/zerolog: Structured logging.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/transfa/transfer-service/internal/app"
	"github.com/transfa/transfer-service/internal/domain"
	"github.com/transfa/transfer-service/internal/store"
)

const genericExecutionFailure = "We couldn't complete this transfer. Please try again."

// TransferHandlers holds the application service that handlers will use.
type TransferHandlers struct {
	service *app.Service
	logger  zerolog.Logger
}

// NewTransferHandlers creates a new instance of TransferHandlers.
func NewTransferHandlers(service *app.Service, logger zerolog.Logger) *TransferHandlers {
	return &TransferHandlers{service: service, logger: logger}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

// submitTransferBody is the wire form of a transfer request. The destination is
// decoded once the kind is known.
type submitTransferBody struct {
	Kind            string          `json:"kind"`
	SourceAccountID uuid.UUID       `json:"source_account_id"`
	Destination     json.RawMessage `json:"destination"`
	Amount          decimal.Decimal `json:"amount"`
	Memo            string          `json:"memo"`
	RecipientID     *uuid.UUID      `json:"recipient_id,omitempty"`
}

type issueVerificationBody struct {
	Channel string `json:"channel"`
}

type confirmVerificationBody struct {
	Code string `json:"code"`
}

// transferResponse is a TransferRequest with its destination account numbers masked.
type transferResponse struct {
	ID              uuid.UUID             `json:"id"`
	Kind            domain.TransferKind   `json:"kind"`
	Status          domain.TransferStatus `json:"status"`
	SourceAccountID uuid.UUID             `json:"source_account_id"`
	Destination     interface{}           `json:"destination"`
	Amount          string                `json:"amount"`
	Fee             string                `json:"fee"`
	Total           string                `json:"total"`
	Currency        string                `json:"currency"`
	Memo            string                `json:"memo,omitempty"`
	RecipientID     *uuid.UUID            `json:"recipient_id,omitempty"`
	Reference       *string               `json:"reference,omitempty"`
	FailureReason   *string               `json:"failure_reason,omitempty"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

type verificationResponse struct {
	Transfer  transferResponse   `json:"transfer"`
	Required  bool               `json:"required"`
	Bypassed  bool               `json:"bypassed,omitempty"`
	Channel   domain.ChannelKind `json:"channel,omitempty"`
	SentTo    string             `json:"sent_to,omitempty"`
	ExpiresAt *time.Time         `json:"expires_at,omitempty"`
}

func buildTransferResponse(t *domain.TransferRequest) transferResponse {
	return transferResponse{
		ID:              t.ID,
		Kind:            t.Kind,
		Status:          t.Status,
		SourceAccountID: t.SourceAccountID,
		Destination:     maskDestination(t.Destination),
		Amount:          t.Amount.StringFixed(2),
		Fee:             t.Fee.StringFixed(2),
		Total:           t.Total().StringFixed(2),
		Currency:        t.Currency,
		Memo:            t.Memo,
		RecipientID:     t.RecipientID,
		Reference:       t.Reference,
		FailureReason:   t.FailureReason,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

func buildVerificationResponse(status *app.VerificationStatus) verificationResponse {
	return verificationResponse{
		Transfer:  buildTransferResponse(status.Transfer),
		Required:  status.Required,
		Bypassed:  status.Bypassed,
		Channel:   status.Channel,
		SentTo:    status.SentTo,
		ExpiresAt: status.ExpiresAt,
	}
}

func maskDestination(dest domain.Destination) interface{} {
	switch d := dest.(type) {
	case domain.DomesticDestination:
		d.AccountNumber = domain.MaskAccountNumber(d.AccountNumber)
		return d
	case domain.InternationalDestination:
		d.IBAN = domain.MaskAccountNumber(d.IBAN)
		return d
	default:
		return d
	}
}

func (b submitTransferBody) toRequest() (domain.SubmitTransferRequest, error) {
	kind, err := domain.ParseTransferKind(b.Kind)
	if err != nil {
		return domain.SubmitTransferRequest{}, domain.NewValidationError("kind", "must be internal, domestic_ach, domestic_wire or international")
	}
	dest, err := domain.DecodeDestination(kind, b.Destination)
	if err != nil {
		return domain.SubmitTransferRequest{}, domain.NewValidationError("destination", "malformed destination payload")
	}
	return domain.SubmitTransferRequest{
		Kind:            kind,
		SourceAccountID: b.SourceAccountID,
		Destination:     dest,
		Amount:          b.Amount,
		Memo:            b.Memo,
		RecipientID:     b.RecipientID,
	}, nil
}

// ValidateTransferHandler runs the validator without persisting anything.
func (h *TransferHandlers) ValidateTransferHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransferRequest(w, r)
	if !ok {
		return
	}
	if err := h.service.Validate(r.Context(), req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

// SubmitTransferHandler validates and persists a new transfer.
func (h *TransferHandlers) SubmitTransferHandler(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTransferRequest(w, r)
	if !ok {
		return
	}
	transfer, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, buildTransferResponse(transfer))
}

// ListTransfersHandler returns the caller's transfers, newest first.
func (h *TransferHandlers) ListTransfersHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseQueryInt(r, "limit")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := parseQueryInt(r, "offset")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	transfers, err := h.service.ListTransfers(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for i := range transfers {
		out = append(out, buildTransferResponse(&transfers[i]))
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"transfers": out})
}

// GetTransferHandler returns a single transfer owned by the caller.
func (h *TransferHandlers) GetTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.pathUUID(w, r, "transferID")
	if !ok {
		return
	}
	transfer, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildTransferResponse(transfer))
}

// IssueVerificationHandler sends the first verification code for a transfer.
func (h *TransferHandlers) IssueVerificationHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.pathUUID(w, r, "transferID")
	if !ok {
		return
	}

	var body issueVerificationBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	status, err := h.service.IssueVerification(r.Context(), transferID, domain.ChannelKind(strings.ToLower(strings.TrimSpace(body.Channel))))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildVerificationResponse(status))
}

// ResendVerificationHandler replaces the active verification code.
func (h *TransferHandlers) ResendVerificationHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.pathUUID(w, r, "transferID")
	if !ok {
		return
	}
	status, err := h.service.ResendVerification(r.Context(), transferID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildVerificationResponse(status))
}

// ConfirmVerificationHandler checks a submitted code.
func (h *TransferHandlers) ConfirmVerificationHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.pathUUID(w, r, "transferID")
	if !ok {
		return
	}

	var body confirmVerificationBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	transfer, err := h.service.ConfirmVerification(r.Context(), transferID, strings.TrimSpace(body.Code))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, buildTransferResponse(transfer))
}

// ExecuteTransferHandler settles a verified transfer and returns its receipt.
func (h *TransferHandlers) ExecuteTransferHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.pathUUID(w, r, "transferID")
	if !ok {
		return
	}
	receipt, err := h.service.Execute(r.Context(), transferID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

// GetReceiptHandler returns the receipt of a completed transfer.
func (h *TransferHandlers) GetReceiptHandler(w http.ResponseWriter, r *http.Request) {
	transferID, ok := h.pathUUID(w, r, "transferID")
	if !ok {
		return
	}
	receipt, err := h.service.GetReceipt(r.Context(), transferID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, receipt)
}

func (h *TransferHandlers) ListRecipientsHandler(w http.ResponseWriter, r *http.Request) {
	recipients, err := h.service.ListRecipients(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"recipients": recipients})
}

func (h *TransferHandlers) SaveRecipientHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.SaveRecipientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	recipient, err := h.service.SaveRecipient(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, recipient)
}

func (h *TransferHandlers) DeleteRecipientHandler(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := h.pathUUID(w, r, "recipientID")
	if !ok {
		return
	}
	if err := h.service.DeleteRecipient(r.Context(), recipientID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAccountBalanceHandler reports the stored and ledger-derived balance of an account.
func (h *TransferHandlers) GetAccountBalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.pathUUID(w, r, "accountID")
	if !ok {
		return
	}
	balance, err := h.service.GetAccountBalance(r.Context(), accountID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":      balance.AccountID,
		"currency":        balance.Currency,
		"balance":         balance.Balance.StringFixed(2),
		"opening_balance": balance.OpeningBalance.StringFixed(2),
		"ledger_balance":  balance.LedgerBalance.StringFixed(2),
		"entry_count":     balance.EntryCount,
	})
}

func (h *TransferHandlers) decodeTransferRequest(w http.ResponseWriter, r *http.Request) (domain.SubmitTransferRequest, bool) {
	var body submitTransferBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return domain.SubmitTransferRequest{}, false
	}
	req, err := body.toRequest()
	if err != nil {
		h.writeServiceError(w, r, err)
		return domain.SubmitTransferRequest{}, false
	}
	return req, true
}

func (h *TransferHandlers) pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+strings.TrimSuffix(param, "ID")+" id")
		return uuid.Nil, false
	}
	return id, true
}

func parseQueryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// writeServiceError maps errors from the application layer onto HTTP responses.
// Validation and challenge errors carry their message to the caller. Execution and
// unexpected errors are logged and surfaced as a generic retry prompt.
func (h *TransferHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr  *domain.ValidationError
		challengeErr   *domain.ChallengeError
		executionErr   *domain.ExecutionError
		concurrencyErr *domain.ConcurrencyError
		rateLimitErr   *app.RateLimitError
	)

	switch {
	case errors.As(err, &rateLimitErr):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitErr.RetryAfterSeconds))
		h.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: domain.ErrRateLimited.Error(), Code: "rate_limited"})
	case errors.Is(err, domain.ErrRateLimited):
		h.writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Code: "rate_limited"})
	case errors.As(err, &validationErr):
		h.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: validationErr.Error(), Code: "validation_failed", Field: validationErr.Field})
	case errors.Is(err, app.ErrUnauthenticated):
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "Authentication required", Code: "unauthenticated"})
	case errors.As(err, &challengeErr):
		h.writeJSON(w, challengeStatus(challengeErr.Code), errorResponse{Error: challengeErr.Error(), Code: string(challengeErr.Code)})
	case errors.As(err, &concurrencyErr):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: "This transfer was updated by another request. Refresh and try again.", Code: "conflicting_update"})
	case errors.As(err, &executionErr):
		status := http.StatusUnprocessableEntity
		if executionErr.Code == domain.ExecutionPersistenceFailure {
			status = http.StatusInternalServerError
		}
		h.logger.Warn().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("code", string(executionErr.Code)).Msg("transfer execution failed")
		h.writeJSON(w, status, errorResponse{Error: genericExecutionFailure, Code: string(executionErr.Code)})
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "invalid_transition"})
	case errors.Is(err, store.ErrTransferNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Transfer not found", Code: "not_found"})
	case errors.Is(err, store.ErrRecipientNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Recipient not found", Code: "not_found"})
	case errors.Is(err, store.ErrAccountNotFound):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "Account not found", Code: "not_found"})
	default:
		h.logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Something went wrong. Please try again.", Code: "internal"})
	}
}

func challengeStatus(code domain.ChallengeErrorCode) int {
	switch code {
	case domain.ChallengeNotFound:
		return http.StatusNotFound
	case domain.ChallengeExpired:
		return http.StatusGone
	case domain.ChallengeCodeMismatch:
		return http.StatusBadRequest
	case domain.ChallengeAlreadyConsumed, domain.ChallengeAlreadyActive, domain.ChallengeResendLimit:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *TransferHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, data)
}

// writeError is a helper for writing JSON error responses.
func (h *TransferHandlers) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}
