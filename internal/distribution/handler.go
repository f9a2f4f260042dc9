package distribution

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/beanline/beanline/internal/platform/httpx"
	"github.com/beanline/beanline/internal/shared"
)

// Handler wires HTTP endpoints for the batch workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers batch workflow routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/batches", h.handleList)
	r.Post("/batches", h.handleCreate)
	r.Get("/batches/{id}", h.handleGet)
	r.Post("/batches/{id}/quality-check", h.handleQualityCheck)
	r.Post("/batches/{id}/plan", h.handlePropose)
	r.Post("/batches/{id}/approve", h.handleApprove)
	r.Post("/batches/{id}/reject", h.handleReject)
	r.Post("/orders/{id}/reactivate", h.handleReactivate)
}

type receiptItemRequest struct {
	ProductID  int64     `json:"productId" validate:"required"`
	Quantity   int64     `json:"quantity" validate:"gte=0"`
	ExpiryDate time.Time `json:"expiryDate"`
}

type createBatchRequest struct {
	OrderID int64                `json:"orderId" validate:"required"`
	Items   []receiptItemRequest `json:"items" validate:"dive"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req createBatchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]ReceiptItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, ReceiptItemInput(item))
	}
	batch, err := h.service.CreateBatchFromOrder(r.Context(), CreateBatchInput{
		OrderID: req.OrderID,
		Items:   items,
		Actor:   actor,
	})
	if err != nil {
		h.logger.Error("create batch", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, batch)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := batchID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id")
		return
	}
	batch, err := h.service.GetBatch(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	batches, err := h.service.List(r.Context(), limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"batches": batches})
}

type qualityItemRequest struct {
	ProductID           int64 `json:"productId" validate:"required"`
	PassedQuantity      int64 `json:"passedQuantity" validate:"gte=0"`
	RefurbishedQuantity int64 `json:"refurbishedQuantity" validate:"gte=0"`
	DamagedQuantity     int64 `json:"damagedQuantity" validate:"gte=0"`
	ExpiredQuantity     int64 `json:"expiredQuantity" validate:"gte=0"`
}

type qualityCheckRequest struct {
	Items []qualityItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleQualityCheck(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, err := batchID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id")
		return
	}
	var req qualityCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	items := make([]QualityItemInput, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, QualityItemInput(item))
	}
	batch, err := h.service.CompleteQualityCheck(r.Context(), QualityCheckInput{
		BatchID: id,
		Items:   items,
		Actor:   actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type planLineRequest struct {
	ProductID       int64 `json:"productId" validate:"required"`
	OnlineQuantity  int64 `json:"onlineQuantity" validate:"gte=0"`
	OfflineQuantity int64 `json:"offlineQuantity" validate:"gte=0"`
}

type planRequest struct {
	Lines []planLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) handlePropose(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, err := batchID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id")
		return
	}
	var req planRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]PlanLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, PlanLine(line))
	}
	batch, err := h.service.ProposeDistribution(r.Context(), PlanInput{
		BatchID: id,
		Lines:   lines,
		Actor:   actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type decisionRequest struct {
	Notes string `json:"notes"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, err := batchID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	batch, err := h.service.ApproveDistribution(r.Context(), id, actor, req.Notes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, err := batchID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid batch id")
		return
	}
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	batch, err := h.service.RejectDistribution(r.Context(), id, actor, req.Notes)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

type reactivateRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleReactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	orderID, err := batchID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	var req reactivateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ReactivateOrder(r.Context(), orderID, actor, req.Reason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func batchID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}
