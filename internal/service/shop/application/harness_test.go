package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/errsink"
	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
	"storefront/internal/service/shop/infrastructure/memory"
)

var start = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type staticTaxes struct{ policy domain.TaxPolicy }

func (s staticTaxes) For(string) domain.TaxPolicy { return s.policy }

type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
	err    error
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, _ *domain.Tenant, o *domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o.OrderNumber)
	return n.err
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.orders...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OrderStatusChanged
}

func (p *recordingPublisher) OrderStatusChanged(_ context.Context, ev domain.OrderStatusChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) last() domain.OrderStatusChanged {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type fakeProvider struct {
	mu            sync.Mutex
	seq           int
	captureStatus string
	captureErr    error
	verified      bool
	event         *port.WebhookEvent
}

func (f *fakeProvider) CreateRemoteOrder(_ context.Context, o *domain.Order, _, _ string) (*port.RemoteOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("PP-%s-%d", o.OrderNumber, f.seq)
	return &port.RemoteOrder{ProviderOrderID: id, ApprovalURL: "https://pay.example/approve/" + id, Status: "CREATED"}, nil
}

func (f *fakeProvider) Capture(_ context.Context, id string) (*port.Capture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return &port.Capture{CaptureID: "CAP-" + id, Status: f.captureStatus}, nil
}

func (f *fakeProvider) VerifyWebhook(context.Context, port.WebhookHeaders, []byte) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verified, nil
}

func (f *fakeProvider) ParseWebhook([]byte) (*port.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.event == nil {
		return nil, errors.New("no event")
	}
	return f.event, nil
}

type harness struct {
	clock     *clock.Manual
	tenants   *memory.TenantRepository
	products  *memory.ProductRepository
	carts     *memory.CartRepository
	orders    *memory.OrderRepository
	locks     *keyedmutex.KeyedMutex
	sink      *errsink.Sink
	notifier  *recordingNotifier
	publisher *recordingPublisher
	provider  *fakeProvider
	created   *prometheus.CounterVec

	gate     *TenantGate
	catalog  *ProductService
	cart     *CartService
	order    *OrderService
	payments *PaymentService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	tracer := noop.NewTracerProvider().Tracer("test")
	h := &harness{
		clock: clock.NewManual(start),
		tenants: memory.NewTenantRepository(
			&domain.Tenant{ID: "t1", Slug: "acme", Name: "Acme", EcommerceEnabled: true},
			&domain.Tenant{ID: "t2", Slug: "globex", Name: "Globex", EcommerceEnabled: true},
			&domain.Tenant{ID: "t3", Slug: "initech", Name: "Initech"},
		),
		products:  memory.NewProductRepository(),
		carts:     memory.NewCartRepository(),
		orders:    memory.NewOrderRepository(),
		locks:     keyedmutex.New(),
		notifier:  &recordingNotifier{},
		publisher: &recordingPublisher{},
		provider:  &fakeProvider{captureStatus: "COMPLETED", verified: true},
		created:   prometheus.NewCounterVec(prometheus.CounterOpts{Name: "orders_created_total"}, []string{"source"}),
	}
	h.sink = errsink.New(h.clock)
	taxes := staticTaxes{domain.FlatRateTaxPolicy{Rate: decimal.RequireFromString("0.10")}}

	h.gate = NewTenantGate(h.tenants, nil, tracer)
	h.catalog = NewProductService(h.gate, h.products, h.locks, h.clock, tracer)
	h.cart = NewCartService(h.gate, h.carts, h.products, taxes, h.locks, h.clock,
		CartConfig{TTL: 48 * time.Hour, ExtendThreshold: 12 * time.Hour}, tracer)
	h.order = NewOrderService(h.gate, h.orders, h.products, h.carts, memory.TxRunner{}, h.locks,
		NewOrderNumberGenerator(h.orders, h.clock), taxes, h.notifier, h.publisher, h.created,
		h.clock, "usd", tracer)
	h.payments = NewPaymentService(h.gate, h.order, h.provider, h.sink, tracer)
	return h
}

// seedProduct 直接写仓储，创建一个上架的简单商品。
func (h *harness) seedProduct(t *testing.T, tenantID, slug, price string, stock int) *domain.Product {
	t.Helper()
	p, err := domain.NewProduct(tenantID, "Product "+slug, slug, "SKU-"+slug, "", decimal.RequireFromString(price), stock, start)
	require.NoError(t, err)
	p.Status = domain.ProductActive
	require.NoError(t, h.products.Create(context.Background(), p))
	return p
}

func (h *harness) stockOf(t *testing.T, tenantID, productID, variantID string) int {
	t.Helper()
	p, err := h.products.FindByID(context.Background(), tenantID, productID)
	require.NoError(t, err)
	s, err := p.StockFor(variantID)
	require.NoError(t, err)
	return s.StockQuantity
}

var customer = CustomerInfo{Name: "Ada Lovelace", Email: "ada@example.com", ShippingAddress: "12 Analytical St"}
