package stock

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/beanline/beanline/internal/platform/httpx"
	"github.com/beanline/beanline/internal/shared"
)

// Handler wires HTTP endpoints for the warehouse ledger and lot registry.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	reports   singleflight.Group
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers stock routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stocks/{productID}", h.handleGetStock)
	r.Get("/stocks/{productID}/movements", h.handleMovements)
	r.Post("/stocks/{productID}/movements", h.handleRecordMovement)
	r.Post("/stocks/{productID}/sync", h.handleSync)
	r.Get("/stocks/{productID}/lots", h.handleListLots)
	r.Post("/lots", h.handleCreateLot)
	r.Post("/lots/{id}/transfer", h.handleTransferLot)
	r.Post("/lots/{id}/dispose", h.handleDisposeLot)
	r.Get("/stocks/{productID}/withdrawal-recommendation", h.handleRecommend)
	r.Get("/expiration-report", h.handleExpirationReport)
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request) {
	productID, err := pathProductID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	st, err := h.service.GetStock(r.Context(), productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	productID, err := pathProductID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.Movements(r.Context(), productID, limit)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

type movementRequest struct {
	Type        string `json:"type" validate:"required"`
	From        string `json:"from"`
	To          string `json:"to"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	Reason      string `json:"reason"`
	Reference   string `json:"reference"`
	BatchNumber string `json:"batchNumber"`
}

func (h *Handler) handleRecordMovement(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	productID, err := pathProductID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	var req movementRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	st, err := h.service.RecordMovement(r.Context(), productID, MovementInput{
		Type:        MovementType(req.Type),
		From:        Location(req.From),
		To:          Location(req.To),
		Quantity:    req.Quantity,
		Reason:      req.Reason,
		Reference:   req.Reference,
		BatchNumber: req.BatchNumber,
		Actor:       actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	productID, err := pathProductID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	st, err := h.service.SyncProduct(r.Context(), productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) handleListLots(w http.ResponseWriter, r *http.Request) {
	productID, err := pathProductID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	lots, err := h.service.Lots(r.Context(), productID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	now := time.Now().UTC()
	window := h.service.Window()
	type lotView struct {
		Lot
		EffectiveStatus LotStatus `json:"effectiveStatus"`
		DaysUntilExpiry int       `json:"daysUntilExpiry"`
	}
	views := make([]lotView, 0, len(lots))
	for _, lot := range lots {
		views = append(views, lotView{
			Lot:             lot,
			EffectiveStatus: lot.EffectiveStatus(now, window),
			DaysUntilExpiry: lot.DaysUntilExpiry(now),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": views})
}

type createLotRequest struct {
	ProductID       int64     `json:"productId" validate:"required"`
	BatchNumber     string    `json:"batchNumber" validate:"required"`
	ManufactureDate time.Time `json:"manufactureDate"`
	ExpirationDate  time.Time `json:"expirationDate" validate:"required"`
	Quantity        int64     `json:"quantity" validate:"required,gt=0"`
	Location        string    `json:"location"`
	SupplierID      int64     `json:"supplierId"`
	OrderNumber     string    `json:"orderNumber"`
}

func (h *Handler) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req createLotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lot, err := h.service.CreateLot(r.Context(), CreateLotInput{
		ProductID:       req.ProductID,
		BatchNumber:     req.BatchNumber,
		ManufactureDate: req.ManufactureDate,
		ExpirationDate:  req.ExpirationDate,
		Quantity:        req.Quantity,
		Location:        Location(req.Location),
		SupplierID:      req.SupplierID,
		OrderNumber:     req.OrderNumber,
		Actor:           actor,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

type transferLotRequest struct {
	To       string `json:"to" validate:"required"`
	Quantity int64  `json:"quantity" validate:"required,gt=0"`
}

func (h *Handler) handleTransferLot(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	lotID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid lot id")
		return
	}
	var req transferLotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lot, err := h.service.TransferLot(r.Context(), lotID, Location(req.To), req.Quantity, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

type disposeLotRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) handleDisposeLot(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	lotID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid lot id")
		return
	}
	var req disposeLotRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.DisposeLot(r.Context(), lotID, req.Reason, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	productID, err := pathProductID(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid product id")
		return
	}
	quantity, err := strconv.ParseInt(r.URL.Query().Get("quantity"), 10, 64)
	if err != nil || quantity <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "quantity must be a positive integer")
		return
	}
	rec, err := h.service.RecommendWithdrawal(r.Context(), productID, quantity)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

// handleExpirationReport collapses concurrent report requests into one scan;
// dashboards tend to poll this endpoint in bursts.
func (h *Handler) handleExpirationReport(w http.ResponseWriter, r *http.Request) {
	result, err, _ := h.reports.Do("expiration-report", func() (any, error) {
		return h.service.ExpirationAlerts(r.Context())
	})
	if err != nil {
		h.logger.Error("expiration report", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func pathProductID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
}
