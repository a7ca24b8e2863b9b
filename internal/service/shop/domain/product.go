// internal/service/shop/domain/product.go
package domain

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductDraft    ProductStatus = "DRAFT"
	ProductActive   ProductStatus = "ACTIVE"
	ProductArchived ProductStatus = "ARCHIVED"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductDraft, ProductActive, ProductArchived:
		return true
	}
	return false
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const maxNameLength = 255

// Money 统一保留两位小数。
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Variant 是商品下一个具体可售的 SKU（如尺码/颜色组合），有自己的价格和库存。
type Variant struct {
	ID        string
	ProductID string
	SKU       string
	Name      string
	Price     decimal.Decimal
	Active    bool
	Position  int
	Stock
}

func (v *Variant) Validate() error {
	if strings.TrimSpace(v.Name) == "" || utf8.RuneCountInString(v.Name) > maxNameLength {
		return NewValidationError("variant.name", "must be between 1 and %d characters", maxNameLength)
	}
	if strings.TrimSpace(v.SKU) == "" {
		return NewValidationError("variant.sku", "is required")
	}
	if v.Price.IsNegative() {
		return NewValidationError("variant.price", "must not be negative")
	}
	if v.StockQuantity < 0 {
		return NewValidationError("variant.stockQuantity", "must not be negative")
	}
	return nil
}

type Image struct {
	ID       string
	URL      string
	AltText  string
	IsMain   bool
	Position int
}

// Product 是商品聚合根。没有变体的简单商品直接使用内嵌的 Stock。
type Product struct {
	ID          string
	TenantID    string
	Name        string
	Slug        string
	SKU         string
	Description string
	Price       decimal.Decimal
	Status      ProductStatus
	Stock
	Variants  []*Variant
	Images    []*Image
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewProduct 创建一个草稿状态的商品并做字段校验。
func NewProduct(tenantID, name, slug, sku, description string, price decimal.Decimal, stock int, now time.Time) (*Product, error) {
	p := &Product{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        strings.TrimSpace(name),
		Slug:        strings.TrimSpace(slug),
		SKU:         strings.TrimSpace(sku),
		Description: description,
		Price:       Money(price),
		Status:      ProductDraft,
		Stock:       Stock{StockQuantity: stock},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Product) Validate() error {
	n := utf8.RuneCountInString(p.Name)
	if n == 0 || n > maxNameLength {
		return NewValidationError("name", "must be between 1 and %d characters", maxNameLength)
	}
	if len(p.Slug) > maxNameLength || !slugPattern.MatchString(p.Slug) {
		return NewValidationError("slug", "must be lowercase letters, digits and single hyphens")
	}
	if p.Price.IsNegative() {
		return NewValidationError("price", "must not be negative")
	}
	if p.StockQuantity < 0 {
		return NewValidationError("stockQuantity", "must not be negative")
	}
	if !p.Status.Valid() {
		return NewValidationError("status", "unknown status %q", p.Status)
	}
	return nil
}

func (p *Product) IsActive() bool { return p.Status == ProductActive }

func (p *Product) HasVariants() bool { return len(p.Variants) > 0 }

// Variant 按 id 查找变体。
func (p *Product) Variant(id string) (*Variant, error) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, nil
		}
	}
	return nil, NewNotFound("variant", id)
}

// AddVariant 校验并追加变体，同一商品内 SKU 不能重复。
func (p *Product) AddVariant(v *Variant, now time.Time) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.ProductID = p.ID
	v.Price = Money(v.Price)
	if err := v.Validate(); err != nil {
		return err
	}
	for _, existing := range p.Variants {
		if strings.EqualFold(existing.SKU, v.SKU) {
			return NewConflict("variant", "sku %q already exists on product", v.SKU)
		}
	}
	v.Position = len(p.Variants)
	p.Variants = append(p.Variants, v)
	p.UpdatedAt = now
	return nil
}

// StockFor 返回 (productID, variantID) 对应的库存。有变体的商品必须指定变体。
func (p *Product) StockFor(variantID string) (*Stock, error) {
	if variantID == "" {
		if p.HasVariants() {
			return nil, NewValidationError("variantId", "is required for product %s", p.ID)
		}
		return &p.Stock, nil
	}
	v, err := p.Variant(variantID)
	if err != nil {
		return nil, err
	}
	return &v.Stock, nil
}

// Purchasable 校验商品（和变体）可售，并返回单价和变体。
func (p *Product) Purchasable(variantID string) (decimal.Decimal, *Variant, error) {
	if !p.IsActive() {
		return decimal.Zero, nil, NewValidationError("productId", "product %s is not available", p.ID)
	}
	if variantID == "" {
		if p.HasVariants() {
			return decimal.Zero, nil, NewValidationError("variantId", "is required for product %s", p.ID)
		}
		return p.Price, nil, nil
	}
	v, err := p.Variant(variantID)
	if err != nil {
		return decimal.Zero, nil, err
	}
	if !v.Active {
		return decimal.Zero, nil, NewValidationError("variantId", "variant %s is not available", v.ID)
	}
	return v.Price, v, nil
}

// AddImage 追加图片，position 按当前数量递增。
func (p *Product) AddImage(url, altText string, now time.Time) (*Image, error) {
	if strings.TrimSpace(url) == "" {
		return nil, NewValidationError("url", "is required")
	}
	img := &Image{ID: uuid.NewString(), URL: url, AltText: altText, Position: len(p.Images)}
	p.Images = append(p.Images, img)
	p.UpdatedAt = now
	return img, nil
}

// EnsureMainImage 保证有图片时恰好一张主图（幂等）。返回是否有改动。
func (p *Product) EnsureMainImage() bool {
	if len(p.Images) == 0 {
		return false
	}
	sort.SliceStable(p.Images, func(i, j int) bool { return p.Images[i].Position < p.Images[j].Position })

	mainIdx := -1
	for i, img := range p.Images {
		if img.IsMain {
			mainIdx = i
			break
		}
	}
	changed := false
	if mainIdx < 0 {
		mainIdx = 0
		p.Images[0].IsMain = true
		changed = true
	}
	for i, img := range p.Images {
		if i != mainIdx && img.IsMain {
			img.IsMain = false
			changed = true
		}
	}
	return changed
}

// SetMainImage 把指定图片设为唯一主图。
func (p *Product) SetMainImage(imageID string, now time.Time) error {
	found := false
	for _, img := range p.Images {
		if img.ID == imageID {
			found = true
		}
	}
	if !found {
		return NewNotFound("image", imageID)
	}
	for _, img := range p.Images {
		img.IsMain = img.ID == imageID
	}
	p.UpdatedAt = now
	return nil
}

func (p *Product) MainImage() *Image {
	for _, img := range p.Images {
		if img.IsMain {
			return img
		}
	}
	return nil
}
