// internal/service/shop/domain/stock.go
package domain

// StockKey 是库存锁的 key，所有改动同一库存的操作都必须持有这把锁。
func StockKey(productID, variantID string) string {
	return "stock:" + productID + ":" + variantID
}

// Stock 是可售数量，嵌入到简单商品和变体中。
// DecreaseStock 本身不是存储层原子的，调用方必须持有 StockKey 对应的锁。
type Stock struct {
	StockQuantity int
}

// DecreaseStock 在 qty<=0 或超出库存时返回 *InsufficientStockError，库存不变。
func (s *Stock) DecreaseStock(qty int) error {
	if qty <= 0 || qty > s.StockQuantity {
		return &InsufficientStockError{Available: s.StockQuantity, Requested: qty}
	}
	s.StockQuantity -= qty
	return nil
}

func (s *Stock) IncreaseStock(qty int) error {
	if qty <= 0 {
		return NewValidationError("quantity", "must be positive, got %d", qty)
	}
	s.StockQuantity += qty
	return nil
}

func (s Stock) CanFulfillQuantity(qty int) bool {
	return s.StockQuantity >= qty
}

func (s Stock) IsInStock() bool {
	return s.StockQuantity > 0
}
