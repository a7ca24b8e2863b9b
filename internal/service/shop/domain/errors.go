// internal/service/shop/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// 哨兵错误，便于上层用 errors.Is 分类。
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrFeatureDisabled   = errors.New("feature disabled")
	ErrPaymentProcessing = errors.New("payment processing failed")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError 同时用于跨租户访问，调用方无法区分"不存在"和"属于其他租户"。
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

type ConflictError struct {
	Entity  string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Entity, e.Message)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

func NewConflict(entity, format string, args ...interface{}) *ConflictError {
	return &ConflictError{Entity: entity, Message: fmt.Sprintf(format, args...)}
}

// InsufficientStockError 对客户端暴露可用量和请求量。
type InsufficientStockError struct {
	ProductID string
	VariantID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d",
		StockKey(e.ProductID, e.VariantID), e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type FeatureDisabledError struct {
	TenantID string
	Feature  string
}

func (e *FeatureDisabledError) Error() string {
	return fmt.Sprintf("feature %s is disabled for tenant %s", e.Feature, e.TenantID)
}

func (e *FeatureDisabledError) Is(target error) bool { return target == ErrFeatureDisabled }

// PaymentProcessingError 包装支付渠道的远端失败。
type PaymentProcessingError struct {
	Op  string
	Err error
}

func (e *PaymentProcessingError) Error() string {
	return fmt.Sprintf("payment %s failed: %v", e.Op, e.Err)
}

func (e *PaymentProcessingError) Unwrap() error { return e.Err }

func (e *PaymentProcessingError) Is(target error) bool { return target == ErrPaymentProcessing }
