// internal/service/shop/application/order_service.go
package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
)

const (
	orderSourceCart   = "cart"
	orderSourceDirect = "direct"

	// 订单号通过了 ExistsByNumber 却仍被唯一约束拒绝时的重试次数
	orderCreateRetries = 3

	unpaidBatchSize = 100
)

// OrderService 是订单工厂和订单生命周期的入口。
type OrderService struct {
	gate      *TenantGate
	orders    domain.OrderRepository
	products  domain.ProductRepository
	carts     domain.CartRepository
	tx        domain.TxRunner
	locks     *keyedmutex.KeyedMutex
	numbers   *OrderNumberGenerator
	taxes     port.TaxPolicyResolver
	notifier  port.Notifier
	publisher port.OrderEventPublisher
	created   *prometheus.CounterVec
	clock     clock.Clock
	currency  string
	tracer    trace.Tracer
}

// NewOrderService notifier/publisher/created 都可以为 nil。
func NewOrderService(gate *TenantGate, orders domain.OrderRepository, products domain.ProductRepository, carts domain.CartRepository,
	tx domain.TxRunner, locks *keyedmutex.KeyedMutex, numbers *OrderNumberGenerator, taxes port.TaxPolicyResolver,
	notifier port.Notifier, publisher port.OrderEventPublisher, created *prometheus.CounterVec,
	clk clock.Clock, currency string, tracer trace.Tracer) *OrderService {
	if currency == "" {
		currency = "USD"
	}
	return &OrderService{
		gate: gate, orders: orders, products: products, carts: carts, tx: tx, locks: locks,
		numbers: numbers, taxes: taxes, notifier: notifier, publisher: publisher, created: created,
		clock: clk, currency: strings.ToUpper(currency), tracer: tracer,
	}
}

func (s *OrderService) taxPolicy(tenantID string) domain.TaxPolicy {
	if s.taxes == nil {
		return domain.NoTax
	}
	return s.taxes.For(tenantID)
}

// checkAvailable 在库存锁内重新读取商品，确认商品/变体可售且库存足够。
func (s *OrderService) checkAvailable(ctx context.Context, tenantID, productID, variantID string, qty int) (*domain.Product, error) {
	p, err := s.products.FindByID(ctx, tenantID, productID)
	if err != nil {
		return nil, err
	}
	if _, _, err := p.Purchasable(variantID); err != nil {
		return nil, err
	}
	stock, err := p.StockFor(variantID)
	if err != nil {
		return nil, err
	}
	if !stock.CanFulfillQuantity(qty) {
		return nil, &domain.InsufficientStockError{
			ProductID: productID, VariantID: variantID,
			Available: stock.StockQuantity, Requested: qty,
		}
	}
	return p, nil
}

// createHeader 生成订单号并插入订单头；号码被并发占用时重新生成。
func (s *OrderService) createHeader(ctx context.Context, tenant *domain.Tenant, customer domain.Customer, notes string, totals func(o *domain.Order)) (*domain.Order, error) {
	var lastErr error
	for i := 0; i < orderCreateRetries; i++ {
		number, err := s.numbers.Generate(ctx, tenant)
		if err != nil {
			return nil, err
		}
		o, err := domain.NewOrder(tenant.ID, number, customer, s.currency, s.clock.Now())
		if err != nil {
			return nil, err
		}
		o.Notes = notes
		totals(o)

		err = s.orders.Create(ctx, o)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		lastErr = err
		logger.Ctx(ctx).Warn().Str("number", number).Msg("order number taken, regenerating")
	}
	return nil, lastErr
}

// CreateFromCart 把会话的购物车转成订单。
// 持锁顺序：会话锁 → 购物车锁 → 按 key 排序的全部库存锁；库存检查、扣减和订单写入在同一个事务里。
func (s *OrderService) CreateFromCart(ctx context.Context, tenantID, sessionID string, req CheckoutRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.OrderService.CreateFromCart")
	defer span.End()

	tenant, err := s.gate.Validate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	customer := req.Customer.toDomain()
	if err := customer.Validate(); err != nil {
		return nil, fail(span, err)
	}

	order, err := keyedmutex.Run(ctx, s.locks, sessionLockKey(tenantID, sessionID), func(ctx context.Context) (*domain.Order, error) {
		cart, err := s.carts.FindBySession(ctx, tenantID, sessionID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("cart", "is empty")
		}
		if err != nil {
			return nil, err
		}

		return keyedmutex.Run(ctx, s.locks, cartLockPrefix+cart.ID, func(ctx context.Context) (*domain.Order, error) {
			// 锁内重新读取，避免使用过期的快照
			if cart, err = s.carts.FindByID(ctx, tenantID, cart.ID); err != nil {
				return nil, err
			}
			if cart.IsEmpty() {
				return nil, domain.NewValidationError("cart", "is empty")
			}
			if !s.clock.Now().Before(cart.ExpiresAt) {
				return nil, domain.NewValidationError("cart", "has expired")
			}

			keys := make([]string, 0, len(cart.Items))
			for _, it := range cart.Items {
				keys = append(keys, domain.StockKey(it.ProductID, it.VariantID))
			}

			var order *domain.Order
			err := lockAll(ctx, s.locks, keys, func(ctx context.Context) error {
				return s.tx.WithinTx(ctx, func(ctx context.Context) error {
					for _, it := range cart.Items {
						if _, err := s.checkAvailable(ctx, tenantID, it.ProductID, it.VariantID, it.Quantity); err != nil {
							return err
						}
					}
					for _, it := range cart.Items {
						if _, err := s.products.AdjustStock(ctx, tenantID, it.ProductID, it.VariantID, -it.Quantity); err != nil {
							return err
						}
					}

					o, err := s.createHeader(ctx, tenant, customer, req.Notes, func(o *domain.Order) { o.CopyTotals(cart) })
					if err != nil {
						return err
					}
					items := make([]*domain.OrderItem, 0, len(cart.Items))
					for _, it := range cart.Items {
						items = append(items, domain.NewOrderItemFromCart(o.ID, it))
					}
					if err := s.orders.AddItems(ctx, o.ID, items); err != nil {
						return err
					}
					o.Items = items
					o.RecalculateTotals()
					if err := s.orders.Save(ctx, o); err != nil {
						return err
					}
					order = o
					return nil
				})
			})
			if err != nil {
				return nil, err
			}

			cart.Clear(s.clock.Now())
			cart.RecalculateTotals(s.taxPolicy(tenantID))
			if err := s.carts.Save(ctx, cart); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("cart", cart.ID).Msg("failed to clear cart after checkout")
			}
			return order, nil
		})
	})
	if err != nil {
		return nil, fail(span, err)
	}

	s.afterCreate(ctx, tenant, order, orderSourceCart)
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.String("order.number", order.OrderNumber))
	return order, nil
}

// CreateDirect 是"立即购买"：不经过购物车，直接以单个商品下单。
func (s *OrderService) CreateDirect(ctx context.Context, tenantID string, req DirectOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.OrderService.CreateDirect", trace.WithAttributes(
		attribute.String("product.id", req.ProductID),
		attribute.Int("quantity", req.Quantity),
	))
	defer span.End()

	tenant, err := s.gate.Validate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if req.Quantity < 1 {
		return nil, fail(span, domain.NewValidationError("quantity", "must be at least 1"))
	}
	customer := req.Customer.toDomain()
	if err := customer.Validate(); err != nil {
		return nil, fail(span, err)
	}

	var order *domain.Order
	err = s.locks.Do(ctx, domain.StockKey(req.ProductID, req.VariantID), func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			p, err := s.checkAvailable(ctx, tenantID, req.ProductID, req.VariantID, req.Quantity)
			if err != nil {
				return err
			}
			price, variant, err := p.Purchasable(req.VariantID)
			if err != nil {
				return err
			}
			if _, err := s.products.AdjustStock(ctx, tenantID, req.ProductID, req.VariantID, -req.Quantity); err != nil {
				return err
			}

			line := &domain.CartItem{
				ProductID: p.ID, ProductName: p.Name, SKU: p.SKU,
				Quantity: req.Quantity, UnitPrice: domain.Money(price),
			}
			if variant != nil {
				line.VariantID, line.VariantName, line.SKU = variant.ID, variant.Name, variant.SKU
			}
			subtotal := line.LineTotal()
			tax := s.taxPolicy(tenantID).Tax(subtotal)

			o, err := s.createHeader(ctx, tenant, customer, req.Notes, func(o *domain.Order) {
				o.Subtotal = subtotal
				o.Tax = domain.Money(tax)
				o.TotalAmount = subtotal.Add(o.Tax)
			})
			if err != nil {
				return err
			}
			items := []*domain.OrderItem{domain.NewOrderItemFromCart(o.ID, line)}
			if err := s.orders.AddItems(ctx, o.ID, items); err != nil {
				return err
			}
			o.Items = items
			o.RecalculateTotals()
			if err := s.orders.Save(ctx, o); err != nil {
				return err
			}
			order = o
			return nil
		})
	})
	if err != nil {
		return nil, fail(span, err)
	}

	s.afterCreate(ctx, tenant, order, orderSourceDirect)
	return order, nil
}

// afterCreate 处理下单后的尽力而为的动作，失败只记日志。
func (s *OrderService) afterCreate(ctx context.Context, tenant *domain.Tenant, order *domain.Order, source string) {
	if s.created != nil {
		s.created.WithLabelValues(source).Inc()
	}
	logger.Ctx(ctx).Info().
		Str("tenant", tenant.ID).
		Str("order", order.ID).
		Str("number", order.OrderNumber).
		Str("total", order.TotalAmount.StringFixed(2)).
		Str("source", source).
		Msg("order created")

	if s.notifier != nil {
		if err := s.notifier.SendOrderConfirmation(ctx, tenant, order); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order", order.ID).Msg("failed to send order confirmation")
		}
	}
}

// ExecuteOrderOperation 在 order:<id> 锁内执行 op。op 内可以再次获取同一把锁（可重入）。
func (s *OrderService) ExecuteOrderOperation(ctx context.Context, orderID string, op func(ctx context.Context) error) error {
	return s.locks.Do(ctx, orderLockPrefix+orderID, op)
}

// applyStatus 在订单锁内完成一次状态流转并保存，返回需要在提交后发布的事件。
func (s *OrderService) applyStatus(ctx context.Context, tenantID, orderID string, next domain.OrderStatus, mutate func(o *domain.Order)) (*domain.Order, *domain.OrderStatusChanged, error) {
	var (
		order *domain.Order
		event *domain.OrderStatusChanged
	)
	err := s.ExecuteOrderOperation(ctx, orderID, func(ctx context.Context) error {
		o, err := s.orders.FindByID(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		from := o.Status
		if err := o.TransitionTo(next, s.clock.Now()); err != nil {
			return err
		}
		if mutate != nil {
			mutate(o)
		}
		if err := s.orders.Save(ctx, o); err != nil {
			return err
		}
		ev := domain.NewOrderStatusChanged(o, from)
		order, event = o, &ev
		return nil
	})
	return order, event, err
}

func (s *OrderService) publish(ctx context.Context, event *domain.OrderStatusChanged) {
	if event == nil {
		return
	}
	logger.Ctx(ctx).Info().
		Str("order", event.OrderID).
		Str("from", string(event.From)).
		Str("to", string(event.To)).
		Msg("order status changed")
	if s.publisher == nil {
		return
	}
	if err := s.publisher.OrderStatusChanged(ctx, *event); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("order", event.OrderID).Msg("failed to publish order status change")
	}
}

// UpdateStatus 后台修改订单状态。目标为 CANCELLED 时走 CancelOrder 以便回补库存。
func (s *OrderService) UpdateStatus(ctx context.Context, tenantID, orderID, status string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.OrderService.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", status),
	))
	defer span.End()

	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	next := domain.OrderStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !next.Valid() {
		return nil, fail(span, domain.NewValidationError("status", "unknown status %q", status))
	}
	if next == domain.StatusCancelled {
		return s.CancelOrder(ctx, tenantID, orderID)
	}

	order, event, err := s.applyStatus(ctx, tenantID, orderID, next, nil)
	if err != nil {
		return nil, fail(span, err)
	}
	s.publish(ctx, event)
	return order, nil
}

// CancelOrder 取消订单并把明细数量加回库存。
func (s *OrderService) CancelOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.OrderService.CancelOrder", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	order, err := s.cancel(ctx, tenantID, orderID, "")
	if err != nil {
		return nil, fail(span, err)
	}
	return order, nil
}

// cancel 外层持有订单锁，状态更新在内部再次获取同一把锁。
// expect 非空时，订单在锁内必须仍处于该状态，否则返回 ConflictError。
func (s *OrderService) cancel(ctx context.Context, tenantID, orderID string, expect domain.OrderStatus) (*domain.Order, error) {
	var (
		order *domain.Order
		event *domain.OrderStatusChanged
	)
	err := s.ExecuteOrderOperation(ctx, orderID, func(ctx context.Context) error {
		return s.tx.WithinTx(ctx, func(ctx context.Context) error {
			o, err := s.orders.FindByID(ctx, tenantID, orderID)
			if err != nil {
				return err
			}
			if expect != "" && o.Status != expect {
				return domain.NewConflict("order", "order is %s, expected %s", o.Status, expect)
			}
			if !o.CanBeCancelled() {
				return domain.NewConflict("order", "order in status %s cannot be cancelled", o.Status)
			}

			keys := make([]string, 0, len(o.Items))
			for _, it := range o.Items {
				keys = append(keys, domain.StockKey(it.ProductID, it.VariantID))
			}
			err = lockAll(ctx, s.locks, keys, func(ctx context.Context) error {
				for _, it := range o.Items {
					_, err := s.products.AdjustStock(ctx, tenantID, it.ProductID, it.VariantID, it.Quantity)
					if errors.Is(err, domain.ErrNotFound) {
						logger.Ctx(ctx).Warn().Str("product", it.ProductID).Str("variant", it.VariantID).Msg("restock skipped, product no longer exists")
						continue
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}

			order, event, err = s.applyStatus(ctx, tenantID, orderID, domain.StatusCancelled, nil)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, event)
	return order, nil
}

// CancelUnpaid 取消超过 timeout 仍未支付的订单，释放其占用的库存。返回取消的数量。
// 期间已被支付或取消的订单会被跳过。
func (s *OrderService) CancelUnpaid(ctx context.Context, timeout time.Duration) (int, error) {
	stale, err := s.orders.FindStale(ctx, domain.StatusPendingPayment, s.clock.Now().Add(-timeout), unpaidBatchSize)
	if err != nil {
		return 0, err
	}
	cancelled := 0
	var firstErr error
	for _, o := range stale {
		_, err := s.cancel(ctx, o.TenantID, o.ID, domain.StatusPendingPayment)
		switch {
		case err == nil:
			cancelled++
			logger.Ctx(ctx).Info().Str("tenant", o.TenantID).Str("order", o.OrderNumber).Msg("unpaid order expired")
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		default:
			logger.Ctx(ctx).Error().Err(err).Str("order", o.ID).Msg("failed to expire unpaid order")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return cancelled, firstErr
}

func (s *OrderService) GetOrder(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.orders.FindByID(ctx, tenantID, orderID)
}

func (s *OrderService) GetByNumber(ctx context.Context, tenantID, number string) (*domain.Order, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.orders.FindByNumber(ctx, tenantID, number)
}

func (s *OrderService) List(ctx context.Context, tenantID string, filter domain.OrderFilter) ([]*domain.Order, error) {
	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}
	if filter.Status != "" {
		filter.Status = domain.OrderStatus(strings.ToUpper(string(filter.Status)))
		if !filter.Status.Valid() {
			return nil, domain.NewValidationError("status", "unknown status %q", filter.Status)
		}
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.orders.List(ctx, tenantID, filter)
}
