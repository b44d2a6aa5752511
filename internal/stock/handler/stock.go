package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lotledger/lotledger-backend/internal/stock/domain"
	"github.com/lotledger/lotledger-backend/internal/stock/service"
	"github.com/lotledger/lotledger-backend/pkg/actor"
	"github.com/lotledger/lotledger-backend/pkg/errors"
	"github.com/lotledger/lotledger-backend/pkg/httputil"
	"github.com/lotledger/lotledger-backend/pkg/logger"
)

// StockHandler handles stock endpoints
type StockHandler struct {
	service *service.StockService
	sweeper *service.ExpirySweeper
	logger  *logger.Logger
}

// NewStockHandler creates a new stock handler
func NewStockHandler(svc *service.StockService, sweeper *service.ExpirySweeper, log *logger.Logger) *StockHandler {
	return &StockHandler{
		service: svc,
		sweeper: sweeper,
		logger:  log,
	}
}

// Mount registers the stock routes on r
func (h *StockHandler) Mount(r chi.Router) {
	r.Route("/skus/{id}", func(r chi.Router) {
		r.Get("/", h.GetStockLevel)
		r.Put("/", h.UpsertSku)
		r.Get("/batches", h.ListBatches)
		r.Post("/batches", h.ReceiveBatch)
		r.Post("/movements", h.AdjustStock)
	})
	r.Get("/movements", h.ListMovements)
	r.Post("/expiry/sweep", h.RunExpirySweep)
}

type adjustStockRequest struct {
	BatchID     string  `json:"batch_id" validate:"omitempty,uuid"`
	ChangeQty   int     `json:"change_qty" validate:"gt=0"`
	IsAdd       bool    `json:"is_add"`
	Kind        string  `json:"kind" validate:"required,oneof=purchase adjust sale return expire"`
	Remark      string  `json:"remark" validate:"max=500"`
	OrderItemID *string `json:"order_item_id" validate:"omitempty,min=1,max=64"`
}

// AdjustStock applies one stock movement. The body of every answer is the
// movement result.
func (h *StockHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	var req adjustStockRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	result := h.service.AdjustStock(r.Context(), domain.AdjustRequest{
		BatchID:     req.BatchID,
		SkuID:       chi.URLParam(r, "id"),
		ChangeQty:   req.ChangeQty,
		IsAdd:       req.IsAdd,
		Kind:        domain.MovementKind(req.Kind),
		ActorID:     actor.IDFromContext(r.Context()),
		Remark:      req.Remark,
		OrderItemID: req.OrderItemID,
	})

	httputil.JSON(w, resultStatus(result, http.StatusOK), result)
}

type receiveBatchRequest struct {
	BatchNumber     string `json:"batch_number" validate:"max=100"`
	Quantity        int    `json:"quantity" validate:"gt=0"`
	ManufactureDate string `json:"manufacture_date"`
	Remark          string `json:"remark" validate:"max=500"`
}

// ReceiveBatch creates a lot and books the received quantity into it
func (h *StockHandler) ReceiveBatch(w http.ResponseWriter, r *http.Request) {
	var req receiveBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(req); err != nil {
		httputil.Error(w, err)
		return
	}

	var manufactured *time.Time
	if req.ManufactureDate != "" {
		d, err := time.Parse(time.DateOnly, req.ManufactureDate)
		if err != nil {
			httputil.Error(w, errors.Validation(map[string]string{
				"manufacture_date": "must be a date in YYYY-MM-DD format",
			}))
			return
		}
		manufactured = &d
	}

	result := h.service.ReceiveBatch(r.Context(), domain.ReceiveBatchRequest{
		SkuID:           chi.URLParam(r, "id"),
		BatchNumber:     req.BatchNumber,
		Quantity:        req.Quantity,
		ManufactureDate: manufactured,
		ActorID:         actor.IDFromContext(r.Context()),
		Remark:          req.Remark,
	})

	if result.Success {
		httputil.Created(w, result)
		return
	}
	httputil.JSON(w, resultStatus(result, http.StatusCreated), result)
}

// resultStatus maps a movement result to its HTTP status
func resultStatus(result *domain.AdjustResult, success int) int {
	switch {
	case result.Success:
		return success
	case result.IsValidationFailure():
		return http.StatusBadRequest
	case result.IsSystemFailure():
		return http.StatusInternalServerError
	case result.Code == domain.CodeStockBusy:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// GetStockLevel returns a SKU with its batches in consumption order
func (h *StockHandler) GetStockLevel(w http.ResponseWriter, r *http.Request) {
	level, err := h.service.GetStockLevel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, level)
}

// ListBatches lists every batch of a SKU
func (h *StockHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.service.ListBatches(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

type upsertSkuRequest struct {
	MaxStockQty    int `json:"max_stock_qty"`
	SafetyStockQty int `json:"safety_stock_qty"`
	ReorderPoint   int `json:"reorder_point"`
	ShelfLifeDays  int `json:"shelf_life_days"`
}

// UpsertSku creates a SKU or replaces its master data
func (h *StockHandler) UpsertSku(w http.ResponseWriter, r *http.Request) {
	var req upsertSkuRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	master := domain.SkuMaster{
		ID:             chi.URLParam(r, "id"),
		MaxStockQty:    req.MaxStockQty,
		SafetyStockQty: req.SafetyStockQty,
		ReorderPoint:   req.ReorderPoint,
		ShelfLifeDays:  req.ShelfLifeDays,
	}
	if err := httputil.Validate(master); err != nil {
		httputil.Error(w, err)
		return
	}

	sku, err := h.service.UpsertSku(r.Context(), master)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, sku)
}

// ListMovements returns a page of movement history, newest first
func (h *StockHandler) ListMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := movementFilter(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	records, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	filter = filter.Normalize()
	httputil.JSONWithMeta(w, http.StatusOK, records, &httputil.Meta{
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Total:  total,
	})
}

func movementFilter(r *http.Request) (domain.MovementFilter, error) {
	q := r.URL.Query()
	filter := domain.MovementFilter{
		SkuID:         q.Get("sku_id"),
		BatchID:       q.Get("batch_id"),
		Kind:          domain.MovementKind(q.Get("kind")),
		OrderItemID:   q.Get("order_item_id"),
		CorrelationID: q.Get("correlation_id"),
	}

	details := map[string]string{}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details["limit"] = "must be a number"
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details["offset"] = "must be a number"
		}
		filter.Offset = n
	}
	for key, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			details[key] = "must be an RFC 3339 timestamp"
			continue
		}
		*dst = &t
	}

	if len(details) > 0 {
		return filter, errors.Validation(details)
	}
	return filter, nil
}

// RunExpirySweep expires everything that is past its expiry date now
func (h *StockHandler) RunExpirySweep(w http.ResponseWriter, r *http.Request) {
	report, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("manual expiry sweep failed")
		httputil.Error(w, errors.Internal("expiry sweep failed"))
		return
	}

	h.logger.WithUserID(actor.IDFromContext(r.Context())).Info().
		Int("skus", report.Skus).
		Int("expired_qty", report.ExpiredQty).
		Msg("manual expiry sweep")

	httputil.JSON(w, http.StatusOK, report)
}
