// internal/service/shop/domain/event.go
package domain

import "time"

// OrderStatusChanged 在订单状态变化后发布给推送通道。
type OrderStatusChanged struct {
	TenantID    string      `json:"tenantId"`
	OrderID     string      `json:"orderId"`
	OrderNumber string      `json:"orderNumber"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	At          time.Time   `json:"at"`
}

func NewOrderStatusChanged(o *Order, from OrderStatus) OrderStatusChanged {
	return OrderStatusChanged{
		TenantID:    o.TenantID,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		From:        from,
		To:          o.Status,
		At:          o.UpdatedAt,
	}
}

// EmailEvent 是写入 Kafka 的邮件任务，由 notification-service 消费并投递。
type EmailEvent struct {
	TenantID string `json:"tenantId"`
	OrderID  string `json:"orderId,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
}
