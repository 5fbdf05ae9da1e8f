package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
	"github.com/openfloor/nftindex/internal/engine"
	"github.com/openfloor/nftindex/internal/protocol"
)

// OrderHandler serves order read endpoints and the submission endpoint that
// feeds hand-posted orders through the same parse and upsert pipeline as the
// firehose.
type OrderHandler struct {
	orders   domain.OrderStore
	registry *protocol.Registry
	engine   *engine.Engine
	logger   *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders domain.OrderStore, registry *protocol.Registry, eng *engine.Engine, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		registry: registry,
		engine:   eng,
		logger:   logHandler(logger, "orders"),
	}
}

type listOrdersResponse struct {
	Orders []orderView `json:"orders"`
}

// ListOrders returns orders matching the query filters.
// GET /api/orders?side=sell&maker=0x...&status=fillable&token_set_id=...&kind=seaport
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.OrderFilter{
		Side:        domain.Side(q.Get("side")),
		Fillability: domain.FillabilityStatus(q.Get("status")),
		TokenSetID:  q.Get("token_set_id"),
		Kind:        domain.OrderKind(q.Get("kind")),
	}
	if v := q.Get("maker"); v != "" {
		if !common.IsHexAddress(v) {
			writeError(w, http.StatusBadRequest, "maker must be a hex address")
			return
		}
		addr := common.HexToAddress(v)
		filter.Maker = &addr
	}

	orders, err := h.orders.List(r.Context(), filter, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	resp := listOrdersResponse{Orders: make([]orderView, 0, len(orders))}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetOrder returns a single order by id.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "order id required")
		return
	}

	o, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, toOrderView(&o))
}

// submitOrderItem is one order in a submission request, mirroring the
// firehose envelope.
type submitOrderItem struct {
	Kind       string          `json:"kind"`
	Source     string          `json:"source"`
	Schema     json.RawMessage `json:"schema"`
	SchemaHash string          `json:"schemaHash"`
	Data       json.RawMessage `json:"data"`
}

type submitOrdersRequest struct {
	Orders []submitOrderItem `json:"orders"`
}

type submitOrderResult struct {
	OrderID string `json:"orderId,omitempty"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

type submitOrdersResponse struct {
	Results []submitOrderResult `json:"results"`
}

const maxSubmitBatch = 50

// SubmitOrders accepts protocol-native order payloads and runs them through
// parse and upsert. Submissions are timestamp-only signals: they carry no
// on-chain coordinates.
// POST /api/orders
func (h *OrderHandler) SubmitOrders(w http.ResponseWriter, r *http.Request) {
	var req submitOrdersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Orders) == 0 {
		writeError(w, http.StatusBadRequest, "orders array is required")
		return
	}
	if len(req.Orders) > maxSubmitBatch {
		writeError(w, http.StatusBadRequest, "too many orders in one request")
		return
	}

	now := time.Now().UTC()
	resp := submitOrdersResponse{Results: make([]submitOrderResult, 0, len(req.Orders))}
	normalized := make([]domain.NormalizedOrder, 0, len(req.Orders))

	for i := range req.Orders {
		item := &req.Orders[i]
		meta := domain.OrderMetadata{
			Schema:     item.Schema,
			SchemaHash: common.HexToHash(item.SchemaHash),
			Source:     item.Source,
		}
		origin := domain.SignalOrigin{Timestamp: now}

		n, err := h.registry.Parse(r.Context(), domain.OrderKind(item.Kind), item.Data, meta, origin)
		if err != nil {
			if rej, ok := domain.AsRejection(err); ok {
				resp.Results = append(resp.Results, submitOrderResult{
					Status: string(domain.UpsertRejected),
					Reason: string(rej.Reason),
				})
				continue
			}
			resp.Results = append(resp.Results, submitOrderResult{
				Status: string(domain.UpsertRejected),
				Reason: err.Error(),
			})
			continue
		}
		normalized = append(normalized, n)
	}

	if len(normalized) > 0 {
		results, err := h.engine.Upsert(r.Context(), normalized)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "submit upsert failed",
				slog.Int("size", len(normalized)),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to upsert orders")
			return
		}
		for i := range results {
			resp.Results = append(resp.Results, submitOrderResult{
				OrderID: results[i].OrderID,
				Status:  string(results[i].Status),
				Reason:  string(results[i].Reason),
			})
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
