// internal/service/shop/interfaces/http_handler.go
package interfaces

import (
	"context"
	"io"
	"net/http"
	"net/netip"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/errsink"
	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/pkg/metrics"
	"storefront/internal/pkg/ratelimit"
	"storefront/internal/service/shop/application"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
)

const concerningPerMinute = 10

// ShopHandler 封装了商城的全部 HTTP 路由：店铺前台、支付回调、后台管理和运维接口。
type ShopHandler struct {
	gate       *application.TenantGate
	products   *application.ProductService
	carts      *application.CartService
	orders     *application.OrderService
	payments   *application.PaymentService
	hub        *Hub
	limiter    *ratelimit.Limiter
	sink       *errsink.Sink
	locks      *keyedmutex.KeyedMutex
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	adminToken string
	proxies    []netip.Prefix
}

func NewShopHandler(gate *application.TenantGate, products *application.ProductService, carts *application.CartService,
	orders *application.OrderService, payments *application.PaymentService, hub *Hub, limiter *ratelimit.Limiter,
	sink *errsink.Sink, locks *keyedmutex.KeyedMutex, m *metrics.Metrics, tracer trace.Tracer, adminToken string) *ShopHandler {
	return &ShopHandler{
		gate: gate, products: products, carts: carts, orders: orders, payments: payments, hub: hub,
		limiter: limiter, sink: sink, locks: locks, metrics: m, tracer: tracer, adminToken: adminToken,
	}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *ShopHandler) RegisterRoutes(mux *http.ServeMux) {
	route := func(pattern string, op ratelimit.Operation, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, h.instrument(pattern, h.limited(op, fn)))
	}
	adminRoute := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, h.instrument(pattern, h.admin(h.limited(ratelimit.OpAdmin, fn))))
	}

	// 店铺前台
	route("GET /api/products", ratelimit.OpProduct, h.handleListProducts)
	route("GET /api/products/{slug}", ratelimit.OpProduct, h.handleGetProduct)
	route("GET /api/search", ratelimit.OpSearch, h.handleSearch)
	route("GET /api/cart", ratelimit.OpCart, h.handleGetCart)
	route("POST /api/cart/items", ratelimit.OpCart, h.handleAddCartItem)
	route("PATCH /api/cart/items/{itemId}", ratelimit.OpCart, h.handleUpdateCartItem)
	route("DELETE /api/cart/items/{itemId}", ratelimit.OpCart, h.handleRemoveCartItem)
	route("DELETE /api/cart", ratelimit.OpCart, h.handleClearCart)
	route("POST /api/checkout", ratelimit.OpOrder, h.handleCheckout)
	route("POST /api/orders", ratelimit.OpOrder, h.handleDirectOrder)
	route("GET /api/orders/{number}", ratelimit.OpProduct, h.handleTrackOrder)
	route("POST /api/orders/{id}/payment", ratelimit.OpPayment, h.handleStartPayment)
	route("POST /api/orders/{id}/payment/capture", ratelimit.OpPayment, h.handleCapturePayment)
	// 支付方的回调不带租户和会话，靠验签而不是限流防护
	mux.HandleFunc("POST /api/payments/webhook", h.instrument("POST /api/payments/webhook", h.handleWebhook))

	// 后台管理
	adminRoute("GET /admin/products", h.handleAdminListProducts)
	adminRoute("POST /admin/products", h.handleCreateProduct)
	adminRoute("GET /admin/products/{id}", h.handleAdminGetProduct)
	adminRoute("PATCH /admin/products/{id}", h.handleUpdateProduct)
	adminRoute("DELETE /admin/products/{id}", h.handleDeleteProduct)
	adminRoute("POST /admin/products/{id}/variants", h.handleAddVariant)
	adminRoute("POST /admin/products/{id}/images", h.handleAddImage)
	adminRoute("PUT /admin/products/{id}/images/{imageId}/main", h.handleSetMainImage)
	adminRoute("POST /admin/products/{id}/stock", h.handleAdjustStock)
	adminRoute("GET /admin/orders", h.handleAdminListOrders)
	adminRoute("GET /admin/orders/{id}", h.handleAdminGetOrder)
	adminRoute("PATCH /admin/orders/{id}/status", h.handleUpdateOrderStatus)
	adminRoute("POST /admin/orders/{id}/cancel", h.handleCancelOrder)
	adminRoute("GET /admin/monitoring", h.handleMonitoring)
	adminRoute("DELETE /admin/rate-limits/{operation}/{key}", h.handleClearRateLimit)

	// 运维
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{}))
	}
	// websocket 升级需要原始 ResponseWriter，不经过 instrument
	mux.HandleFunc("GET /ws/orders", h.limited(ratelimit.OpProduct, h.handleOrderStream))
}

func tenantOf(r *http.Request) string { return r.Header.Get(headerTenant) }

// sessionOf 缺少会话头时返回校验错误。
func sessionOf(r *http.Request) (string, error) {
	s := strings.TrimSpace(r.Header.Get(headerSession))
	if s == "" {
		return "", domain.NewValidationError(headerSession, "header is required")
	}
	return s, nil
}

func queryInt(r *http.Request, name string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(name))
	return v
}

func productViews(ps []*domain.Product) []application.ProductView {
	out := make([]application.ProductView, 0, len(ps))
	for _, p := range ps {
		out = append(out, application.ToProductView(p))
	}
	return out
}

func orderViews(list []*domain.Order) []application.OrderView {
	out := make([]application.OrderView, 0, len(list))
	for _, o := range list {
		out = append(out, application.ToOrderView(o))
	}
	return out
}

// --- 店铺前台 ---

func (h *ShopHandler) listActive(w http.ResponseWriter, r *http.Request, query string) {
	ps, err := h.products.List(r.Context(), tenantOf(r), domain.ProductFilter{
		Status: domain.ProductActive,
		Query:  query,
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, productViews(ps))
}

func (h *ShopHandler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	h.listActive(w, r, r.URL.Query().Get("q"))
}

func (h *ShopHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, h.sink, domain.NewValidationError("q", "is required"))
		return
	}
	h.listActive(w, r, q)
}

func (h *ShopHandler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetBySlug(r.Context(), tenantOf(r), r.PathValue("slug"), true)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToProductView(p))
}

// cartCall 取会话并执行一个购物车操作，成功时返回购物车视图。
func (h *ShopHandler) cartCall(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error)) {
	session, err := sessionOf(r)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	cart, err := fn(r.Context(), tenantOf(r), session)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToCartView(cart))
}

func (h *ShopHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	h.cartCall(w, r, h.carts.GetOrCreateCart)
}

func (h *ShopHandler) handleAddCartItem(w http.ResponseWriter, r *http.Request) {
	var req application.AddCartItemRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	h.cartCall(w, r, func(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error) {
		return h.carts.AddItem(ctx, tenantID, sessionID, req)
	})
}

func (h *ShopHandler) handleUpdateCartItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	h.cartCall(w, r, func(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error) {
		return h.carts.UpdateItemQuantity(ctx, tenantID, sessionID, r.PathValue("itemId"), req.Quantity)
	})
}

func (h *ShopHandler) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	h.cartCall(w, r, func(ctx context.Context, tenantID, sessionID string) (*domain.Cart, error) {
		return h.carts.RemoveItem(ctx, tenantID, sessionID, r.PathValue("itemId"))
	})
}

func (h *ShopHandler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	h.cartCall(w, r, h.carts.Clear)
}

func (h *ShopHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	session, err := sessionOf(r)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	var req application.CheckoutRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	order, err := h.orders.CreateFromCart(r.Context(), tenantOf(r), session, req)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.ToOrderView(order))
}

func (h *ShopHandler) handleDirectOrder(w http.ResponseWriter, r *http.Request) {
	var req application.DirectOrderRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	order, err := h.orders.CreateDirect(r.Context(), tenantOf(r), req)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.ToOrderView(order))
}

// handleTrackOrder 前台按订单号查询，必须带上下单邮箱；不匹配时与不存在一样返回 404。
func (h *ShopHandler) handleTrackOrder(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	order, err := h.orders.GetByNumber(r.Context(), tenantOf(r), number)
	if err == nil && !strings.EqualFold(order.Customer.Email, strings.TrimSpace(r.URL.Query().Get("email"))) {
		err = domain.NewNotFound("order", number)
	}
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToOrderView(order))
}

func (h *ShopHandler) handleStartPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReturnURL string `json:"returnUrl"`
		CancelURL string `json:"cancelUrl"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	res, err := h.payments.StartPayment(r.Context(), tenantOf(r), r.PathValue("id"), req.ReturnURL, req.CancelURL)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ShopHandler) handleCapturePayment(w http.ResponseWriter, r *http.Request) {
	order, err := h.payments.CapturePayment(r.Context(), tenantOf(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToOrderView(order))
}

func (h *ShopHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, h.sink, domain.NewValidationError("body", "unreadable: %v", err))
		return
	}
	headers := make(port.WebhookHeaders, len(r.Header))
	for k := range r.Header {
		headers[strings.ToLower(k)] = r.Header.Get(k)
	}
	if err := h.payments.HandleWebhook(r.Context(), headers, body); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *ShopHandler) handleOrderStream(w http.ResponseWriter, r *http.Request) {
	tenantID := tenantOf(r)
	if tenantID == "" {
		// 浏览器的 WebSocket 无法自定义请求头
		tenantID = r.URL.Query().Get("tenantId")
	}
	if _, err := h.gate.Validate(r.Context(), tenantID); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	h.hub.ServeWS(w, r, tenantID)
}

// --- 后台管理 ---

func (h *ShopHandler) handleAdminListProducts(w http.ResponseWriter, r *http.Request) {
	ps, err := h.products.List(r.Context(), tenantOf(r), domain.ProductFilter{
		Status: domain.ProductStatus(strings.ToUpper(r.URL.Query().Get("status"))),
		Query:  r.URL.Query().Get("q"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, productViews(ps))
}

func (h *ShopHandler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req application.CreateProductRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	p, err := h.products.Create(r.Context(), tenantOf(r), req)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusCreated, application.ToProductView(p))
}

func (h *ShopHandler) handleAdminGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Get(r.Context(), tenantOf(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToProductView(p))
}

func (h *ShopHandler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req application.UpdateProductRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	p, err := h.products.Update(r.Context(), tenantOf(r), r.PathValue("id"), req)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToProductView(p))
}

func (h *ShopHandler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.products.Delete(r.Context(), tenantOf(r), r.PathValue("id")); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ShopHandler) handleAddVariant(w http.ResponseWriter, r *http.Request) {
	var req application.AddVariantRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	productID := r.PathValue("id")
	if _, err := h.products.AddVariant(r.Context(), tenantOf(r), productID, req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	h.respondProduct(w, r, productID, http.StatusCreated)
}

func (h *ShopHandler) handleAddImage(w http.ResponseWriter, r *http.Request) {
	var req application.AddImageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	productID := r.PathValue("id")
	if _, err := h.products.AddImage(r.Context(), tenantOf(r), productID, req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	h.respondProduct(w, r, productID, http.StatusCreated)
}

func (h *ShopHandler) handleSetMainImage(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.SetMainImage(r.Context(), tenantOf(r), r.PathValue("id"), r.PathValue("imageId"))
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToProductView(p))
}

func (h *ShopHandler) handleAdjustStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VariantID string `json:"variantId"`
		Delta     int    `json:"delta"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	stock, err := h.products.AdjustStock(r.Context(), tenantOf(r), r.PathValue("id"), req.VariantID, req.Delta)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"productId": r.PathValue("id"), "variantId": req.VariantID, "stockQuantity": stock,
	})
}

func (h *ShopHandler) respondProduct(w http.ResponseWriter, r *http.Request, productID string, status int) {
	p, err := h.products.Get(r.Context(), tenantOf(r), productID)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, status, application.ToProductView(p))
}

func (h *ShopHandler) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := h.orders.List(r.Context(), tenantOf(r), domain.OrderFilter{
		Status: domain.OrderStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	})
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, orderViews(list))
}

func (h *ShopHandler) handleAdminGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), tenantOf(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToOrderView(o))
}

func (h *ShopHandler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), tenantOf(r), r.PathValue("id"), req.Status)
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToOrderView(o))
}

func (h *ShopHandler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(r.Context(), tenantOf(r), r.PathValue("id"))
	if err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	writeJSON(w, http.StatusOK, application.ToOrderView(o))
}

// handleMonitoring 返回错误计数快照、持有中的锁、WebSocket 连接数和告警标记。不需要租户。
func (h *ShopHandler) handleMonitoring(w http.ResponseWriter, r *http.Request) {
	alerts := map[string]bool{}
	for _, c := range []string{errsink.CategorySecurity, errsink.CategoryPayment, errsink.CategoryInternal, errsink.CategoryLock} {
		alerts[c] = h.sink.IsRateConcerning(c, concerningPerMinute)
	}
	resp := map[string]interface{}{
		"errors": h.sink.Snapshot(),
		"alerts": alerts,
	}
	if h.locks != nil {
		resp["locks"] = h.locks.Len()
	}
	if h.hub != nil {
		resp["websocketClients"] = h.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ShopHandler) handleClearRateLimit(w http.ResponseWriter, r *http.Request) {
	op := ratelimit.Operation(r.PathValue("operation"))
	if _, ok := ratelimit.DefaultConfig().Capacity(op); !ok {
		writeError(w, r, h.sink, domain.NewValidationError("operation", "unknown operation %q", op))
		return
	}
	if err := h.limiter.Clear(r.Context(), op, r.PathValue("key")); err != nil {
		writeError(w, r, h.sink, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
