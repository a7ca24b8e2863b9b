// internal/pkg/httpclient/client.go

package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBody = 4 << 10

// Client 是一个可追踪的、可注入的HTTP客户端
type Client struct {
	Tracer     trace.Tracer
	HTTPClient *http.Client
}

// NewClient 不设置 http.Client.Timeout，超时完全由每次请求的 ctx 控制。
func NewClient(tracer trace.Tracer) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Client{
		Tracer:     tracer,
		HTTPClient: httpClient,
	}
}

// StatusError 表示对端返回了非 2xx 状态码。
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// DoJSON 发送 JSON 请求（in 为 nil 时无请求体），2xx 时把响应解码到 out（out 可为 nil）。
func (c *Client) DoJSON(ctx context.Context, method, rawURL string, header http.Header, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if in != nil {
		h.Set("Content-Type", "application/json")
	}
	h.Set("Accept", "application/json")
	return c.do(ctx, method, rawURL, h, body, out)
}

// PostForm 以 application/x-www-form-urlencoded 发送 form，响应按 JSON 解码到 out。
func (c *Client) PostForm(ctx context.Context, rawURL string, header http.Header, form url.Values, out interface{}) error {
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Accept", "application/json")
	return c.do(ctx, http.MethodPost, rawURL, h, strings.NewReader(form.Encode()), out)
}

func (c *Client) do(ctx context.Context, method, rawURL string, header http.Header, body io.Reader, out interface{}) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	// 用对端主机名作为 span 名
	spanName := fmt.Sprintf("call-%s", strings.Split(parsedURL.Host, ":")[0])

	ctx, span := c.Tracer.Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, method, parsedURL.String(), body)
	if err != nil {
		span.RecordError(err)
		return err
	}
	req.Header = header

	span.SetAttributes(
		attribute.String("http.url", parsedURL.Redacted()),
		attribute.String("http.method", method),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := &StatusError{Method: method, URL: parsedURL.Redacted(), Code: resp.StatusCode, Body: string(snippet)}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("decode response from %s: %w", parsedURL.Redacted(), err)
	}
	return nil
}
