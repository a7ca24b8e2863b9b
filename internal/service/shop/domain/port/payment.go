// internal/service/shop/domain/port/payment.go
package port

import (
	"context"

	"storefront/internal/service/shop/domain"
)

const (
	WebhookCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	WebhookCaptureDenied    = "PAYMENT.CAPTURE.DENIED"
)

type RemoteOrder struct {
	ProviderOrderID string
	ApprovalURL     string
	Status          string
}

type Capture struct {
	CaptureID string
	Status    string
}

func (c *Capture) Completed() bool { return c.Status == "COMPLETED" }

// WebhookEvent 是解析后的支付回调。ProviderOrderID 对应订单上保存的 PaymentReference。
type WebhookEvent struct {
	ID              string
	EventType       string
	ProviderOrderID string
	CaptureID       string
}

// WebhookHeaders 是回调请求里参与验签的头，key 统一为小写。
type WebhookHeaders map[string]string

// PaymentProvider 是支付渠道（如 PayPal）的出站端口。
type PaymentProvider interface {
	CreateRemoteOrder(ctx context.Context, order *domain.Order, returnURL, cancelURL string) (*RemoteOrder, error)
	Capture(ctx context.Context, providerOrderID string) (*Capture, error)
	VerifyWebhook(ctx context.Context, headers WebhookHeaders, body []byte) (bool, error)
	ParseWebhook(body []byte) (*WebhookEvent, error)
}
