package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/pkg/errsink"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
)

func (h *harness) pendingOrder(t *testing.T) *domain.Order {
	t.Helper()
	p := h.seedProduct(t, "t1", "camera", "299", 3)
	o, err := h.order.CreateDirect(context.Background(), "t1", DirectOrderRequest{ProductID: p.ID, Quantity: 1, Customer: customer})
	require.NoError(t, err)
	return o
}

func TestPaymentService_StartAndCapture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.pendingOrder(t)

	res, err := h.payments.StartPayment(ctx, "t1", o.ID, "https://shop/return", "https://shop/cancel")
	require.NoError(t, err)
	assert.Equal(t, o.ID, res.OrderID)
	assert.Contains(t, res.ApprovalURL, res.ProviderOrderID)

	stored, err := h.order.GetOrder(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ProviderOrderID, stored.PaymentReference)

	paid, err := h.payments.CapturePayment(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
	assert.Equal(t, domain.StatusPaid, h.publisher.last().To)

	// 幂等
	again, err := h.payments.CapturePayment(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, again.Status)

	_, err = h.payments.StartPayment(ctx, "t1", o.ID, "", "")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestPaymentService_CaptureFailureAllowsRetry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.pendingOrder(t)

	_, err := h.payments.CapturePayment(ctx, "t1", o.ID)
	assert.ErrorIs(t, err, domain.ErrValidation, "payment not started")

	_, err = h.payments.StartPayment(ctx, "t1", o.ID, "", "")
	require.NoError(t, err)

	h.provider.captureErr = errors.New("gateway timeout")
	_, err = h.payments.CapturePayment(ctx, "t1", o.ID)
	assert.ErrorIs(t, err, domain.ErrPaymentProcessing)

	h.provider.captureErr = nil
	h.provider.captureStatus = "DECLINED"
	failed, err := h.payments.CapturePayment(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentFailed, failed.Status)

	res, err := h.payments.StartPayment(ctx, "t1", o.ID, "", "")
	require.NoError(t, err)
	stored, err := h.order.GetOrder(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingPayment, stored.Status)
	assert.Equal(t, res.ProviderOrderID, stored.PaymentReference)

	h.provider.captureStatus = "COMPLETED"
	paid, err := h.payments.CapturePayment(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, paid.Status)
}

func TestPaymentService_Webhook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.pendingOrder(t)
	res, err := h.payments.StartPayment(ctx, "t1", o.ID, "", "")
	require.NoError(t, err)

	h.provider.event = &port.WebhookEvent{ID: "WH-1", EventType: port.WebhookCaptureCompleted, ProviderOrderID: res.ProviderOrderID}
	require.NoError(t, h.payments.HandleWebhook(ctx, port.WebhookHeaders{}, []byte(`{}`)))

	stored, err := h.order.GetOrder(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, stored.Status)

	// 重复投递不报错
	require.NoError(t, h.payments.HandleWebhook(ctx, port.WebhookHeaders{}, []byte(`{}`)))

	// 已支付后再收到拒付事件：非法流转，只记日志
	h.provider.event = &port.WebhookEvent{ID: "WH-2", EventType: port.WebhookCaptureDenied, ProviderOrderID: res.ProviderOrderID}
	require.NoError(t, h.payments.HandleWebhook(ctx, port.WebhookHeaders{}, []byte(`{}`)))

	h.provider.event = &port.WebhookEvent{ID: "WH-3", EventType: port.WebhookCaptureCompleted, ProviderOrderID: "unknown"}
	assert.NoError(t, h.payments.HandleWebhook(ctx, port.WebhookHeaders{}, []byte(`{}`)))

	h.provider.event = &port.WebhookEvent{ID: "WH-4", EventType: "CHECKOUT.ORDER.APPROVED"}
	assert.NoError(t, h.payments.HandleWebhook(ctx, port.WebhookHeaders{}, []byte(`{}`)))
}

func TestPaymentService_WebhookDenied(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	o := h.pendingOrder(t)
	res, err := h.payments.StartPayment(ctx, "t1", o.ID, "", "")
	require.NoError(t, err)

	h.provider.event = &port.WebhookEvent{ID: "WH-9", EventType: port.WebhookCaptureDenied, ProviderOrderID: res.ProviderOrderID}
	require.NoError(t, h.payments.HandleWebhook(ctx, port.WebhookHeaders{}, []byte(`{}`)))

	stored, err := h.order.GetOrder(ctx, "t1", o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentFailed, stored.Status)
}

func TestPaymentService_WebhookSignatureFailureIsSecurityEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.verified = false

	err := h.payments.HandleWebhook(ctx, port.WebhookHeaders{"paypal-transmission-id": "x"}, []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrValidation)

	snap := h.sink.Snapshot()
	assert.Equal(t, int64(1), snap[errsink.CategorySecurity].Count)

	h.provider.verified = true
	h.provider.event = nil
	err = h.payments.HandleWebhook(ctx, port.WebhookHeaders{}, []byte(`garbage`))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, int64(1), h.sink.Snapshot()[errsink.CategorySecurity].Count)
}
