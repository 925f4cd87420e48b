package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/market/internal/domain"
	"github.com/vladislavdragonenkov/market/internal/money"
)

const (
	routeItems    = "/api/items"
	routeItem     = "/api/items/{itemId}"
	routeCart     = "/api/cart"
	routeCartItem = "/api/cart/items/{itemId}"
	routeOrders   = "/api/orders"
	routeOrder    = "/api/orders/{orderId}"

	defaultOrdersLimit = 50
)

// Действия над строкой корзины.
const (
	cartActionPlus   = "PLUS"
	cartActionMinus  = "MINUS"
	cartActionDelete = "DELETE"
)

// CartService: операции корзины, которые нужны витрине.
type CartService interface {
	Increment(ctx context.Context, itemID int64) (domain.CartLine, error)
	Decrement(ctx context.Context, itemID int64) error
	Delete(ctx context.Context, itemID int64) error
	Lines(ctx context.Context) ([]domain.CartLine, error)
}

// OrderCreator запускает сагу оформления заказа.
type OrderCreator interface {
	CreateOrder(ctx context.Context) (string, error)
}

// MarketDeps собирает зависимости витрины.
type MarketDeps struct {
	Catalog domain.Catalog
	Cart    CartService
	Orders  domain.OrderRepository
	Saga    OrderCreator
	Ledger  domain.PaymentLedger
}

type itemResponse struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Price       money.Amount `json:"price"`
}

type cartLineResponse struct {
	itemResponse
	Qty int32 `json:"qty"`
}

type cartResponse struct {
	Items []cartLineResponse `json:"items"`
	Total money.Amount       `json:"total"`
	// CanBuy: баланс покрывает сумму корзины; при недоступном леджере всегда false.
	CanBuy            bool `json:"canBuy"`
	PaymentsAvailable bool `json:"paymentsAvailable"`
}

type cartActionRequest struct {
	Action string `json:"action"`
}

type orderCreatedResponse struct {
	OrderID string `json:"orderId"`
}

type orderLineResponse struct {
	ItemID int64        `json:"itemId"`
	Qty    int32        `json:"qty"`
	Price  money.Amount `json:"price"`
}

type orderResponse struct {
	ID        string              `json:"id"`
	Total     money.Amount        `json:"total"`
	CreatedAt time.Time           `json:"createdAt"`
	Lines     []orderLineResponse `json:"lines"`
}

// MarketHandler: JSON API витрины: каталог, корзина и заказы.
type MarketHandler struct {
	deps   MarketDeps
	logger *log.Entry
	now    func() time.Time
}

func NewMarketHandler(deps MarketDeps, logger *log.Entry) *MarketHandler {
	if logger == nil {
		logger = log.New().WithField("component", "market-http")
	}
	return &MarketHandler{deps: deps, logger: logger, now: time.Now}
}

func (h *MarketHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+routeItems, h.listItems)
	mux.HandleFunc("GET "+routeItem, h.getItem)
	mux.HandleFunc("GET "+routeCart, h.getCart)
	mux.HandleFunc("POST "+routeCartItem, h.updateCart)
	mux.HandleFunc("POST "+routeOrders, h.createOrder)
	mux.HandleFunc("GET "+routeOrders, h.listOrders)
	mux.HandleFunc("GET "+routeOrder, h.getOrder)
}

func (h *MarketHandler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.deps.Catalog.FindAll(r.Context())
	if err != nil {
		h.fail(w, err, "list_items")
		return
	}
	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MarketHandler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}
	item, err := h.deps.Catalog.FindByID(r.Context(), id)
	if err != nil {
		h.fail(w, err, "get_item")
		return
	}
	writeJSON(w, http.StatusOK, toItemResponse(item))
}

func (h *MarketHandler) getCart(w http.ResponseWriter, r *http.Request) {
	cart, err := h.cartView(r.Context())
	if err != nil {
		h.fail(w, err, "get_cart")
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// updateCart применяет действие PLUS, MINUS или DELETE к строке и возвращает корзину целиком.
func (h *MarketHandler) updateCart(w http.ResponseWriter, r *http.Request) {
	id, ok := h.itemID(w, r)
	if !ok {
		return
	}

	var req cartActionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidBody, "invalid request body", h.now())
		return
	}

	var err error
	switch req.Action {
	case cartActionPlus:
		_, err = h.deps.Cart.Increment(r.Context(), id)
	case cartActionMinus:
		err = h.deps.Cart.Decrement(r.Context(), id)
	case cartActionDelete:
		err = h.deps.Cart.Delete(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, codeInvalidAction, "action must be PLUS, MINUS or DELETE", h.now())
		return
	}
	if err != nil {
		h.fail(w, err, "update_cart")
		return
	}

	h.getCart(w, r)
}

func (h *MarketHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := h.deps.Saga.CreateOrder(r.Context())
	if err != nil {
		h.fail(w, err, "create_order")
		return
	}
	w.Header().Set("Location", routeOrders+"/"+orderID)
	writeJSON(w, http.StatusCreated, orderCreatedResponse{OrderID: orderID})
}

func (h *MarketHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit := defaultOrdersLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, codeInvalidRequest, "limit must be a positive integer", h.now())
			return
		}
		limit = parsed
	}

	orders, err := h.deps.Orders.List(r.Context(), limit)
	if err != nil {
		h.fail(w, err, "list_orders")
		return
	}
	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *MarketHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.deps.Orders.Get(r.Context(), r.PathValue("orderId"))
	if err != nil {
		h.fail(w, err, "get_order")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *MarketHandler) cartView(ctx context.Context) (cartResponse, error) {
	lines, err := h.deps.Cart.Lines(ctx)
	if err != nil {
		return cartResponse{}, err
	}
	items, err := h.deps.Catalog.FindByIDs(ctx, domain.DistinctItemIDs(lines))
	if err != nil {
		return cartResponse{}, err
	}
	byID := make(map[int64]domain.Item, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}

	view := cartResponse{Items: make([]cartLineResponse, 0, len(lines))}
	var total int64
	for _, line := range lines {
		item, ok := byID[line.ItemID]
		if !ok {
			// Товар убрали из каталога после добавления в корзину.
			continue
		}
		view.Items = append(view.Items, cartLineResponse{itemResponse: toItemResponse(item), Qty: line.Qty})
		total += int64(line.Qty) * item.PriceMinor
	}
	view.Total = money.FromMinor(total)

	balance, err := h.deps.Ledger.Balance(ctx)
	switch {
	case err == nil:
		view.PaymentsAvailable = true
		view.CanBuy = total > 0 && balance >= total
	case errors.Is(err, domain.ErrLedgerUnavailable):
		h.logger.WithError(err).Warn("payments unavailable, cart rendered without balance")
	default:
		return cartResponse{}, err
	}
	return view, nil
}

func (h *MarketHandler) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("itemId"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "itemId must be a positive integer", h.now())
		return 0, false
	}
	return id, true
}

func (h *MarketHandler) fail(w http.ResponseWriter, err error, operation string) {
	status, body := errorBody(err, h.now())
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("operation", operation).Error("market operation failed")
	}
	writeJSON(w, status, body)
}

func toItemResponse(item domain.Item) itemResponse {
	return itemResponse{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		Price:       money.FromMinor(item.PriceMinor),
	}
}

func toOrderResponse(order domain.Order) orderResponse {
	lines := make([]orderLineResponse, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, orderLineResponse{
			ItemID: line.ItemID,
			Qty:    line.Qty,
			Price:  money.FromMinor(line.PriceMinor),
		})
	}
	return orderResponse{
		ID:        order.ID,
		Total:     money.FromMinor(order.AmountMinor),
		CreatedAt: order.CreatedAt.UTC(),
		Lines:     lines,
	}
}
