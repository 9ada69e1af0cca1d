package periods

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/ledgerd/ledgerd/internal/platform/httpx"
)

// Handler exposes the period lifecycle and balances endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	cache   *BalanceCache
	group   singleflight.Group
}

// NewHandler constructs the HTTP handler. cache may be nil.
func NewHandler(logger *slog.Logger, service *Service, cache *BalanceCache) *Handler {
	return &Handler{logger: logger, service: service, cache: cache}
}

// MountRoutes attaches the accounting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods/{code}/close", h.closePeriod)
	r.Post("/periods/{code}/reopen", h.reopenPeriod)
	r.Get("/balances", h.listBalances)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	result := h.service.ClosePeriod(r.Context(), code)
	if !result.Success {
		httpx.JSON(w, closeStatus(result.Code), httpx.Envelope{Message: result.Message, Data: result})
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: result.Message, Data: result})
}

func (h *Handler) reopenPeriod(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	result := h.service.ReopenPeriod(r.Context(), code)
	if !result.Success {
		httpx.JSON(w, reopenStatus(result.Code), httpx.Envelope{Message: result.Message, Data: result})
		return
	}
	httpx.JSON(w, http.StatusOK, httpx.Envelope{Success: true, Message: result.Message, Data: result})
}

// balanceView is the wire shape of one active snapshot row, amounts fixed to
// two decimal places.
type balanceView struct {
	ID       int64 `json:"id"`
	PeriodID int64 `json:"period_id"`
	Account  struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"account"`
	Totals struct {
		Debit   string `json:"debit"`
		Credit  string `json:"credit"`
		Balance string `json:"balance"`
	} `json:"totals"`
	CreatedAt time.Time `json:"created_at"`
}

type balanceListView struct {
	Count    int           `json:"count"`
	Balances []balanceView `json:"balances"`
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	filter := BalanceFilter{
		PeriodID:  parseID(r.URL.Query().Get("period_id")),
		AccountID: parseID(r.URL.Query().Get("account_id")),
	}

	key, err := h.cache.BuildKey(r.Context(), "balances",
		strconv.FormatInt(filter.PeriodID, 10), strconv.FormatInt(filter.AccountID, 10))
	if err != nil {
		h.logger.Warn("balance cache key", slog.Any("error", err))
		key = "balances:fallback"
	}

	// Concurrent identical listings collapse into one load.
	value, err, _ := h.group.Do(key, func() (any, error) {
		var view balanceListView
		err := h.cache.FetchJSON(r.Context(), key, &view, func(ctx context.Context) (any, error) {
			list, err := h.service.ListBalances(ctx, filter)
			if err != nil {
				return nil, err
			}
			return toBalanceListView(list), nil
		})
		return view, err
	})
	if err != nil {
		h.logger.Error("list balances", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	httpx.JSON(w, http.StatusOK, httpx.Envelope{
		Success: true,
		Message: "Accounting period balances retrieved successfully.",
		Data:    value,
	})
}

func toBalanceListView(list BalanceList) balanceListView {
	views := make([]balanceView, 0, len(list.Balances))
	for _, b := range list.Balances {
		var v balanceView
		v.ID = b.ID
		v.PeriodID = b.PeriodID
		v.Account.ID = b.AccountID
		v.Account.Code = b.AccountCode
		v.Account.Name = b.AccountName
		v.Account.Type = b.AccountType
		v.Totals.Debit = decimal.NewFromFloat(b.TotalDebit).StringFixed(2)
		v.Totals.Credit = decimal.NewFromFloat(b.TotalCredit).StringFixed(2)
		v.Totals.Balance = decimal.NewFromFloat(b.Balance).StringFixed(2)
		v.CreatedAt = b.CreatedAt
		views = append(views, v)
	}
	return balanceListView{Count: list.Count, Balances: views}
}

func parseID(raw string) int64 {
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func closeStatus(code FailureCode) int {
	switch code {
	case FailurePeriodNotFound:
		return http.StatusNotFound
	case FailureAlreadyClosed, FailureInvalidTransition:
		return http.StatusConflict
	case FailureUnbalanced:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func reopenStatus(code FailureCode) int {
	switch code {
	case FailurePeriodNotFound:
		return http.StatusNotFound
	case FailureInvalidTransition:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
