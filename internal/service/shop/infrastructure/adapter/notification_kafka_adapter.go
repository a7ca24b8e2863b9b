// internal/service/shop/infrastructure/adapter/notification_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"

	"storefront/internal/pkg/mq"
	"storefront/internal/service/shop/domain"
)

const EmailTopic = "shop-emails"

// NotificationKafkaAdapter 实现了 port.Notifier 接口：把确认邮件写入 Kafka，由 notification-service 投递。
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
	from   string
}

func NewNotificationKafkaAdapter(writer *kafka.Writer, from string) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer, from: from}
}

func (a *NotificationKafkaAdapter) SendOrderConfirmation(ctx context.Context, tenant *domain.Tenant, order *domain.Order) error {
	event := ConfirmationEmail(tenant, order, a.from)
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal email event: %w", err)
	}
	// 按订单做 key，同一订单的邮件落在同一分区
	return mq.ProduceMessage(ctx, a.writer, []byte(order.ID), eventBytes)
}

func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}

// ConfirmationEmail 生成订单确认邮件。发件人优先用租户邮箱。
func ConfirmationEmail(tenant *domain.Tenant, order *domain.Order, from string) domain.EmailEvent {
	if tenant.Email != "" {
		from = tenant.Email
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", order.Customer.Name)
	fmt.Fprintf(&b, "Thank you for your order at %s. Your order number is %s.\n\n", tenant.Name, order.OrderNumber)
	for _, it := range order.Items {
		name := it.ProductName
		if it.VariantName != "" {
			name += " (" + it.VariantName + ")"
		}
		fmt.Fprintf(&b, "  %d x %s  %s %s\n", it.Quantity, name, it.LineTotal.StringFixed(2), order.Currency)
	}
	fmt.Fprintf(&b, "\nSubtotal: %s %s\n", order.Subtotal.StringFixed(2), order.Currency)
	fmt.Fprintf(&b, "Tax: %s %s\n", order.Tax.StringFixed(2), order.Currency)
	if !order.Shipping.IsZero() {
		fmt.Fprintf(&b, "Shipping: %s %s\n", order.Shipping.StringFixed(2), order.Currency)
	}
	fmt.Fprintf(&b, "Total: %s %s\n", order.TotalAmount.StringFixed(2), order.Currency)
	if order.Customer.ShippingAddress != "" {
		fmt.Fprintf(&b, "\nShipping to:\n%s\n", order.Customer.ShippingAddress)
	}

	return domain.EmailEvent{
		TenantID: tenant.ID,
		OrderID:  order.ID,
		From:     from,
		To:       order.Customer.Email,
		Subject:  fmt.Sprintf("[%s] Order %s confirmed", tenant.Name, order.OrderNumber),
		Body:     b.String(),
	}
}
