package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openfloor/nftindex/internal/domain"
)

// ActivityHandler serves per-token history endpoints: fills, transfers and
// open orders for one (contract, tokenId).
type ActivityHandler struct {
	orders    domain.OrderStore
	events    domain.OrderEventStore
	transfers domain.TransferStore
	logger    *slog.Logger
}

// NewActivityHandler creates an ActivityHandler.
func NewActivityHandler(orders domain.OrderStore, events domain.OrderEventStore, transfers domain.TransferStore, logger *slog.Logger) *ActivityHandler {
	return &ActivityHandler{
		orders:    orders,
		events:    events,
		transfers: transfers,
		logger:    logHandler(logger, "activity"),
	}
}

// tokenParams parses the {contract} and {token_id} path segments.
func tokenParams(r *http.Request) (common.Address, *big.Int, bool) {
	contract := pathParam(r, "contract")
	if !common.IsHexAddress(contract) {
		return common.Address{}, nil, false
	}
	tokenID, ok := new(big.Int).SetString(pathParam(r, "token_id"), 10)
	if !ok || tokenID.Sign() < 0 {
		return common.Address{}, nil, false
	}
	return common.HexToAddress(contract), tokenID, true
}

type listFillsResponse struct {
	Fills []fillView `json:"fills"`
}

// ListFills returns recorded sales for one token, newest first.
// GET /api/tokens/{contract}/{token_id}/fills
func (h *ActivityHandler) ListFills(w http.ResponseWriter, r *http.Request) {
	contract, tokenID, ok := tokenParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid contract or token id")
		return
	}

	fills, err := h.events.ListFillsByToken(r.Context(), contract, tokenID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list fills failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list fills")
		return
	}

	resp := listFillsResponse{Fills: make([]fillView, 0, len(fills))}
	for i := range fills {
		resp.Fills = append(resp.Fills, toFillView(&fills[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

type listTransfersResponse struct {
	Transfers []transferView `json:"transfers"`
}

// ListTransfers returns recorded transfers for one token, newest first.
// GET /api/tokens/{contract}/{token_id}/transfers
func (h *ActivityHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	contract, tokenID, ok := tokenParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid contract or token id")
		return
	}

	transfers, err := h.transfers.ListByToken(r.Context(), contract, tokenID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list transfers failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list transfers")
		return
	}

	resp := listTransfersResponse{Transfers: make([]transferView, 0, len(transfers))}
	for i := range transfers {
		resp.Transfers = append(resp.Transfers, toTransferView(&transfers[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListTokenOrders returns open orders whose token set covers one token.
// GET /api/tokens/{contract}/{token_id}/orders?side=sell
func (h *ActivityHandler) ListTokenOrders(w http.ResponseWriter, r *http.Request) {
	contract, tokenID, ok := tokenParams(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid contract or token id")
		return
	}

	side := domain.Side(r.URL.Query().Get("side"))
	orders, err := h.orders.ListOpenByToken(r.Context(), contract, tokenID, side)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list token orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	resp := listOrdersResponse{Orders: make([]orderView, 0, len(orders))}
	for i := range orders {
		resp.Orders = append(resp.Orders, toOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}
