// internal/service/shop/interfaces/middleware.go
package interfaces

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"storefront/internal/pkg/logger"
	"storefront/internal/pkg/ratelimit"
)

const (
	headerTenant     = "X-Tenant-ID"
	headerSession    = "X-Session-ID"
	headerAdminToken = "X-Admin-Token"
)

var errUnauthorized = errors.New("unauthorized")

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap 让 http.ResponseController 和 websocket 升级能拿到底层连接。
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// instrument 恢复上游 trace 上下文、开 server span、挂 trace logger，并记录请求耗时。
func (h *ShopHandler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := h.tracer.Start(ctx, route, trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method), attribute.String("http.route", route)))
		defer span.End()
		ctx = logger.WithTrace(ctx)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		if h.metrics != nil {
			h.metrics.HTTPDuration.WithLabelValues(route, strconv.Itoa(rec.status)).Observe(time.Since(started).Seconds())
		}
	}
}

// TrustProxies 设置可信的反向代理（IP 或 CIDR）。只有来自这些地址的请求才读取 X-Forwarded-For。
func (h *ShopHandler) TrustProxies(entries ...string) error {
	proxies := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			prefix, err := netip.ParsePrefix(e)
			if err != nil {
				return errors.Wrapf(err, "invalid trusted proxy %q", e)
			}
			proxies = append(proxies, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return errors.Wrapf(err, "invalid trusted proxy %q", e)
		}
		addr = addr.Unmap()
		proxies = append(proxies, netip.PrefixFrom(addr, addr.BitLen()))
	}
	h.proxies = proxies
	return nil
}

func (h *ShopHandler) trusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range h.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientAddr 返回客户端地址。请求经可信代理转发时，从 X-Forwarded-For 右侧起取第一个非代理地址。
func (h *ShopHandler) clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !h.trusted(host) {
		return host
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !h.trusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

// rateLimitKey 是 "<tenant>:<session 或客户端地址>"。
func (h *ShopHandler) rateLimitKey(r *http.Request) string {
	id := r.Header.Get(headerSession)
	if id == "" {
		id = h.clientAddr(r)
	}
	return r.Header.Get(headerTenant) + ":" + id
}

// limited 消耗一个 op 令牌，并带上 X-RateLimit-* 响应头；超限时返回 429。
func (h *ShopHandler) limited(op ratelimit.Operation, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.limiter == nil {
			next(w, r)
			return
		}
		key := h.rateLimitKey(r)
		err := h.limiter.CheckLimit(r.Context(), op, key)
		if st, stErr := h.limiter.GetStatus(r.Context(), op, key); stErr == nil && !st.Unlimited {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(st.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(st.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(st.ResetTime.Unix(), 10))
		}
		if err != nil {
			writeError(w, r, h.sink, err)
			return
		}
		next(w, r)
	}
}

// admin 在配置了令牌时要求 X-Admin-Token 匹配。
func (h *ShopHandler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminToken != "" {
			got := r.Header.Get(headerAdminToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(h.adminToken)) != 1 {
				writeError(w, r, h.sink, errUnauthorized)
				return
			}
		}
		next(w, r)
	}
}
