// internal/service/shop/application/payment_service.go
package application

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/errsink"
	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
)

// PaymentService 对接外部支付渠道：发起支付、确认扣款、处理回调。
type PaymentService struct {
	gate     *TenantGate
	orders   *OrderService
	provider port.PaymentProvider
	sink     *errsink.Sink
	tracer   trace.Tracer
}

func NewPaymentService(gate *TenantGate, orders *OrderService, provider port.PaymentProvider, sink *errsink.Sink, tracer trace.Tracer) *PaymentService {
	return &PaymentService{gate: gate, orders: orders, provider: provider, sink: sink, tracer: tracer}
}

// StartPayment 为待支付订单创建渠道侧订单，返回用户需要跳转的审批地址。
// 支付失败的订单可以重新发起，状态先回到 PENDING_PAYMENT。
func (s *PaymentService) StartPayment(ctx context.Context, tenantID, orderID, returnURL, cancelURL string) (*StartPaymentResult, error) {
	ctx, span := s.tracer.Start(ctx, "app.PaymentService.StartPayment", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}

	var (
		result *StartPaymentResult
		event  *domain.OrderStatusChanged
	)
	err := s.orders.ExecuteOrderOperation(ctx, orderID, func(ctx context.Context) error {
		o, err := s.orders.orders.FindByID(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		from := o.Status
		switch o.Status {
		case domain.StatusPaymentFailed:
			if err := o.TransitionTo(domain.StatusPendingPayment, s.orders.clock.Now()); err != nil {
				return err
			}
		case domain.StatusPendingPayment:
		default:
			return domain.NewConflict("order", "order in status %s cannot be paid", o.Status)
		}

		remote, err := s.provider.CreateRemoteOrder(ctx, o, returnURL, cancelURL)
		if err != nil {
			return &domain.PaymentProcessingError{Op: "create order", Err: err}
		}
		o.PaymentReference = remote.ProviderOrderID
		o.UpdatedAt = s.orders.clock.Now()
		if err := s.orders.orders.Save(ctx, o); err != nil {
			return err
		}
		if from != o.Status {
			ev := domain.NewOrderStatusChanged(o, from)
			event = &ev
		}
		result = &StartPaymentResult{OrderID: o.ID, ProviderOrderID: remote.ProviderOrderID, ApprovalURL: remote.ApprovalURL}
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}
	s.orders.publish(ctx, event)
	logger.Ctx(ctx).Info().Str("order", orderID).Str("provider_order", result.ProviderOrderID).Msg("payment started")
	return result, nil
}

// CapturePayment 在用户审批后扣款。重复调用已支付订单直接返回。
func (s *PaymentService) CapturePayment(ctx context.Context, tenantID, orderID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "app.PaymentService.CapturePayment", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	if _, err := s.gate.Validate(ctx, tenantID); err != nil {
		return nil, err
	}

	var (
		order *domain.Order
		event *domain.OrderStatusChanged
	)
	err := s.orders.ExecuteOrderOperation(ctx, orderID, func(ctx context.Context) error {
		o, err := s.orders.orders.FindByID(ctx, tenantID, orderID)
		if err != nil {
			return err
		}
		if o.Status == domain.StatusPaid {
			order = o
			return nil
		}
		if o.PaymentReference == "" {
			return domain.NewValidationError("order", "payment has not been started")
		}
		if o.Status != domain.StatusPendingPayment {
			return domain.NewConflict("order", "order in status %s cannot be captured", o.Status)
		}

		capture, err := s.provider.Capture(ctx, o.PaymentReference)
		if err != nil {
			return &domain.PaymentProcessingError{Op: "capture", Err: err}
		}
		next := domain.StatusPaymentFailed
		if capture.Completed() {
			next = domain.StatusPaid
		}
		order, event, err = s.orders.applyStatus(ctx, tenantID, orderID, next, nil)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}
	s.orders.publish(ctx, event)
	return order, nil
}

// HandleWebhook 校验并应用支付渠道的回调。
// 验签失败记为 security 错误并拒绝；未知事件类型和找不到的订单只记日志后确认。
func (s *PaymentService) HandleWebhook(ctx context.Context, headers port.WebhookHeaders, body []byte) error {
	ctx, span := s.tracer.Start(ctx, "app.PaymentService.HandleWebhook")
	defer span.End()

	ok, err := s.provider.VerifyWebhook(ctx, headers, body)
	if err != nil {
		return fail(span, &domain.PaymentProcessingError{Op: "verify webhook", Err: err})
	}
	if !ok {
		err := domain.NewValidationError("signature", "webhook signature verification failed")
		s.sink.Record(ctx, errsink.CategorySecurity, err)
		return fail(span, err)
	}

	event, err := s.provider.ParseWebhook(body)
	if err != nil {
		return fail(span, domain.NewValidationError("body", "malformed webhook payload"))
	}
	span.SetAttributes(attribute.String("webhook.type", event.EventType), attribute.String("webhook.id", event.ID))

	var next domain.OrderStatus
	switch event.EventType {
	case port.WebhookCaptureCompleted:
		next = domain.StatusPaid
	case port.WebhookCaptureDenied:
		next = domain.StatusPaymentFailed
	default:
		logger.Ctx(ctx).Debug().Str("type", event.EventType).Msg("ignoring webhook event")
		return nil
	}

	o, err := s.orders.orders.FindByPaymentReference(ctx, event.ProviderOrderID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Ctx(ctx).Warn().Str("provider_order", event.ProviderOrderID).Msg("webhook for unknown payment reference")
		return nil
	}
	if err != nil {
		return fail(span, err)
	}
	if o.Status == next {
		return nil
	}

	_, changed, err := s.orders.applyStatus(ctx, o.TenantID, o.ID, next, nil)
	if errors.Is(err, domain.ErrConflict) {
		logger.Ctx(ctx).Warn().Err(err).Str("order", o.ID).Str("type", event.EventType).Msg("webhook transition rejected")
		return nil
	}
	if err != nil {
		return fail(span, err)
	}
	s.orders.publish(ctx, changed)
	return nil
}
