package sales

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ledgerd/ledgerd/internal/ledger"
	"github.com/ledgerd/ledgerd/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// EventEnqueuer hands sales events off to the ingestion queue.
type EventEnqueuer interface {
	EnqueueSalesEvent(ctx context.Context, event ledger.SalesEvent) error
}

// Handler exposes the sales document endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer EventEnqueuer
	validate *validator.Validate
}

// NewHandler constructs the HTTP handler. enqueuer may be nil, disabling the
// events endpoint.
func NewHandler(logger *slog.Logger, service *Service, enqueuer EventEnqueuer) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		enqueuer: enqueuer,
		validate: validator.New(),
	}
}

// MountRoutes attaches the sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.createInvoice)
	r.Put("/invoices/{id}", h.updateInvoice)
	r.Post("/invoices/{id}/cancel", h.cancelInvoice)
	r.Post("/receipts", h.createReceipt)
	r.Post("/events", h.ingestEvent)
}

type createInvoiceRequest struct {
	InvoiceNumber      string   `json:"invoice_number" validate:"required"`
	IssueDate          string   `json:"issue_date" validate:"required"`
	DueDate            string   `json:"due_date" validate:"required"`
	CustomerID         int64    `json:"customer_id" validate:"required"`
	TotalAmount        float64  `json:"total_amount" validate:"required,gt=0"`
	Currency           string   `json:"currency" validate:"required,len=3"`
	PeriodID           int64    `json:"period_id" validate:"required"`
	ExchangeRate       *float64 `json:"exchange_rate,omitempty"`
	BaseCurrencyAmount *float64 `json:"base_currency_amount,omitempty"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	issueDate, err := time.Parse(dateLayout, req.IssueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "issue_date must be YYYY-MM-DD")
		return
	}
	dueDate, err := time.Parse(dateLayout, req.DueDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
		return
	}

	result := h.service.CreateInvoice(r.Context(), CreateInvoiceInput{
		Number:             req.InvoiceNumber,
		IssueDate:          issueDate,
		DueDate:            dueDate,
		CustomerID:         req.CustomerID,
		TotalAmount:        req.TotalAmount,
		Currency:           req.Currency,
		PeriodID:           req.PeriodID,
		ExchangeRate:       req.ExchangeRate,
		BaseCurrencyAmount: req.BaseCurrencyAmount,
	})
	writeResult(w, result.Success, result.Message, result, invoiceStatus(result.Code), http.StatusCreated)
}

type updateInvoiceRequest struct {
	IssueDate   *string  `json:"issue_date,omitempty"`
	DueDate     *string  `json:"due_date,omitempty"`
	TotalAmount *float64 `json:"total_amount,omitempty" validate:"omitempty,gt=0"`
	Currency    *string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	PeriodID    *int64   `json:"period_id,omitempty" validate:"omitempty,gt=0"`
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invoice id must be numeric")
		return
	}
	var req updateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in := UpdateInvoiceInput{
		TotalAmount: req.TotalAmount,
		Currency:    req.Currency,
		PeriodID:    req.PeriodID,
	}
	if req.IssueDate != nil {
		parsed, err := time.Parse(dateLayout, *req.IssueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "issue_date must be YYYY-MM-DD")
			return
		}
		in.IssueDate = &parsed
	}
	if req.DueDate != nil {
		parsed, err := time.Parse(dateLayout, *req.DueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "due_date must be YYYY-MM-DD")
			return
		}
		in.DueDate = &parsed
	}

	result := h.service.UpdateInvoice(r.Context(), id, in)
	writeResult(w, result.Success, result.Message, result, invoiceStatus(result.Code), http.StatusOK)
}

type cancelInvoiceRequest struct {
	CreditNoteNumber string `json:"credit_note_number" validate:"required"`
	PeriodID         int64  `json:"period_id" validate:"required"`
	IssueDate        string `json:"issue_date,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

func (h *Handler) cancelInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "invoice id must be numeric")
		return
	}
	var req cancelInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	in := CreditNoteInput{
		Number:   req.CreditNoteNumber,
		PeriodID: req.PeriodID,
		Reason:   req.Reason,
	}
	if req.IssueDate != "" {
		parsed, err := time.Parse(dateLayout, req.IssueDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "issue_date must be YYYY-MM-DD")
			return
		}
		in.IssueDate = &parsed
	}

	result := h.service.CancelInvoice(r.Context(), id, in)
	writeResult(w, result.Success, result.Message, result, cancelStatus(result.Code), http.StatusOK)
}

type createReceiptRequest struct {
	ReceiptNumber      string   `json:"receipt_number" validate:"required"`
	PaymentDate        string   `json:"payment_date" validate:"required"`
	Amount             float64  `json:"amount" validate:"required,gt=0"`
	Currency           string   `json:"currency" validate:"required,len=3"`
	PeriodID           int64    `json:"period_id" validate:"required"`
	ExchangeRate       *float64 `json:"exchange_rate,omitempty"`
	BaseCurrencyAmount *float64 `json:"base_currency_amount,omitempty"`
}

func (h *Handler) createReceipt(w http.ResponseWriter, r *http.Request) {
	var req createReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	paymentDate, err := time.Parse(dateLayout, req.PaymentDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "payment_date must be YYYY-MM-DD")
		return
	}

	result := h.service.CreateReceipt(r.Context(), CreateReceiptInput{
		Number:             req.ReceiptNumber,
		PaymentDate:        paymentDate,
		Amount:             req.Amount,
		Currency:           req.Currency,
		PeriodID:           req.PeriodID,
		ExchangeRate:       req.ExchangeRate,
		BaseCurrencyAmount: req.BaseCurrencyAmount,
	})
	writeResult(w, result.Success, result.Message, result, invoiceStatus(result.Code), http.StatusCreated)
}

type ingestEventRequest struct {
	EventID         string                  `json:"event_id,omitempty"`
	SourceReference string                  `json:"source_reference" validate:"required"`
	PostingDate     string                  `json:"posting_date" validate:"required"`
	Description     string                  `json:"description,omitempty"`
	Lines           []ledger.SalesEventLine `json:"lines" validate:"required,min=1"`
}

func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "event ingestion is not configured")
		return
	}
	var req ingestEventRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	postingDate, err := time.Parse(dateLayout, req.PostingDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "posting_date must be YYYY-MM-DD")
		return
	}

	eventID := uuid.New()
	if req.EventID != "" {
		parsed, err := uuid.Parse(req.EventID)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "event_id must be a UUID")
			return
		}
		eventID = parsed
	}

	event := ledger.SalesEvent{
		EventID:         eventID,
		SourceReference: req.SourceReference,
		PostingDate:     postingDate,
		Description:     req.Description,
		Lines:           req.Lines,
	}
	if err := event.Validate(); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.enqueuer.EnqueueSalesEvent(r.Context(), event); err != nil {
		h.logger.Error("enqueue sales event",
			slog.String("source_reference", event.SourceReference), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	httpx.JSON(w, http.StatusAccepted, httpx.Envelope{
		Success: true,
		Message: "Event accepted for processing.",
		Data:    map[string]string{"event_id": event.EventID.String()},
	})
}

func writeResult(w http.ResponseWriter, success bool, message string, payload any, failStatus, okStatus int) {
	if !success {
		httpx.JSON(w, failStatus, httpx.Envelope{Message: message, Data: payload})
		return
	}
	httpx.JSON(w, okStatus, httpx.Envelope{Success: true, Message: message, Data: payload})
}

func invoiceStatus(code FailureCode) int {
	switch code {
	case FailureNotFound, FailurePeriodNotFound:
		return http.StatusNotFound
	case FailurePeriodNotOpen:
		return http.StatusUnprocessableEntity
	case FailurePeriodIDRequired, FailureValidation:
		return http.StatusBadRequest
	case FailureConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func cancelStatus(code FailureCode) int {
	switch code {
	case FailureNotFound, FailurePeriodNotFound:
		return http.StatusNotFound
	case FailurePeriodNotOpen:
		return http.StatusUnprocessableEntity
	case FailurePeriodIDRequired:
		return http.StatusBadRequest
	case FailureAlreadyCancelled, FailureDuplicateCreditNote, FailureConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
