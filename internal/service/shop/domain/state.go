// internal/service/shop/domain/state.go
package domain

// OrderStatus 代表订单的状态
type OrderStatus string

const (
	StatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	StatusPaymentFailed  OrderStatus = "PAYMENT_FAILED"
	StatusPaid           OrderStatus = "PAID"
	StatusProcessing     OrderStatus = "PROCESSING"
	StatusShipped        OrderStatus = "SHIPPED"
	StatusDelivered      OrderStatus = "DELIVERED"
	StatusCancelled      OrderStatus = "CANCELLED"
	StatusRefunded       OrderStatus = "REFUNDED"
)

var transitions = map[OrderStatus][]OrderStatus{
	StatusPendingPayment: {StatusPaid, StatusPaymentFailed, StatusCancelled},
	StatusPaymentFailed:  {StatusPendingPayment, StatusCancelled},
	StatusPaid:           {StatusProcessing, StatusCancelled, StatusRefunded},
	StatusProcessing:     {StatusShipped, StatusCancelled},
	StatusShipped:        {StatusDelivered},
	StatusDelivered:      {StatusRefunded},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case StatusPendingPayment, StatusPaymentFailed, StatusPaid, StatusProcessing,
		StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal: CANCELLED 和 REFUNDED 之后不再有任何流转。
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

func (s OrderStatus) CanBeCancelled() bool {
	switch s {
	case StatusPendingPayment, StatusPaymentFailed, StatusPaid, StatusProcessing:
		return true
	}
	return false
}
