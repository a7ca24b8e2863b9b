// internal/service/shop/interfaces/errors.go
package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"storefront/internal/pkg/errsink"
	"storefront/internal/pkg/keyedmutex"
	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/ratelimit"
	"storefront/internal/service/shop/domain"
)

type errorBody struct {
	Error     string `json:"error"`
	Category  string `json:"category"`
	Field     string `json:"field,omitempty"`
	Available *int   `json:"available,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	RetryIn   int    `json:"retryAfterSeconds,omitempty"`
}

// classify 先看领域错误：锁失败错误会包装业务错误，业务分类优先。
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, errsink.CategoryInsufficientStock
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errsink.CategoryValidation
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errsink.CategoryNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, errsink.CategoryConflict
	case errors.Is(err, domain.ErrFeatureDisabled):
		return http.StatusForbidden, errsink.CategoryFeatureDisabled
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		return http.StatusTooManyRequests, errsink.CategoryRateLimit
	case errors.Is(err, domain.ErrPaymentProcessing):
		return http.StatusBadGateway, errsink.CategoryPayment
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, errsink.CategorySecurity
	case errors.Is(err, keyedmutex.ErrLockOperationFailed):
		return http.StatusInternalServerError, errsink.CategoryLock
	}
	return http.StatusInternalServerError, errsink.CategoryInternal
}

// writeError 把错误记入 ErrorSink 并写出 JSON 响应。5xx 不向客户端暴露内部信息。
func writeError(w http.ResponseWriter, r *http.Request, sink *errsink.Sink, err error) {
	status, category := classify(err)
	ctx := r.Context()
	if sink != nil {
		sink.Record(ctx, category, err)
	}

	body := errorBody{Error: err.Error(), Category: category}
	var (
		ve  *domain.ValidationError
		ise *domain.InsufficientStockError
		rle *ratelimit.RateLimitExceededError
	)
	switch {
	case errors.As(err, &ise):
		body.Available, body.Requested = &ise.Available, &ise.Requested
	case errors.As(err, &ve):
		body.Error, body.Field = ve.Message, ve.Field
	case errors.As(err, &rle):
		body.RetryIn = rle.RetryAfterSeconds()
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryIn))
	}

	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.Ctx(ctx).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		body.Error = http.StatusText(status)
	} else if status == http.StatusBadGateway {
		logger.Ctx(ctx).Error().Err(err).Str("path", r.URL.Path).Msg("payment provider failed")
		body.Error = "payment provider error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v); err != nil {
		return domain.NewValidationError("body", "invalid JSON: %v", err)
	}
	return nil
}
