// internal/service/shop/infrastructure/adapter/paypal_http_adapter.go
package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"storefront/internal/pkg/clock"
	"storefront/internal/pkg/httpclient"
	"storefront/internal/pkg/logger"
	"storefront/internal/service/shop/domain"
	"storefront/internal/service/shop/domain/port"
)

const (
	PayPalSandboxURL = "https://api-m.sandbox.paypal.com"
	tokenRefreshSkew = time.Minute
)

type PayPalConfig struct {
	BaseURL      string `yaml:"baseUrl"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
	WebhookID    string `yaml:"webhookId"`
	BrandName    string `yaml:"brandName"`
}

// PayPalHTTPAdapter 实现了 port.PaymentProvider 接口，对接 PayPal REST v2 checkout。
type PayPalHTTPAdapter struct {
	client *httpclient.Client
	cfg    PayPalConfig
	clock  clock.Clock

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func NewPayPalHTTPAdapter(client *httpclient.Client, cfg PayPalConfig, clk clock.Clock) *PayPalHTTPAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = PayPalSandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PayPalHTTPAdapter{client: client, cfg: cfg, clock: clk}
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id,omitempty"`
	CustomID    string       `json:"custom_id,omitempty"`
	InvoiceID   string       `json:"invoice_id,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalCreateOrder struct {
	Intent             string               `json:"intent"`
	PurchaseUnits      []paypalPurchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL  string `json:"return_url,omitempty"`
		CancelURL  string `json:"cancel_url,omitempty"`
		BrandName  string `json:"brand_name,omitempty"`
		UserAction string `json:"user_action"`
	} `json:"application_context"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// accessToken 走 OAuth2 client credentials，token 在过期前一分钟刷新。
func (a *PayPalHTTPAdapter) accessToken(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.clock.Now().Before(a.expiresAt) {
		return a.token, nil
	}

	creds := base64.StdEncoding.EncodeToString([]byte(a.cfg.ClientID + ":" + a.cfg.ClientSecret))
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	err := a.client.PostForm(ctx, a.cfg.BaseURL+"/v1/oauth2/token",
		http.Header{"Authorization": {"Basic " + creds}},
		url.Values{"grant_type": {"client_credentials"}}, &resp)
	if err != nil {
		return "", fmt.Errorf("paypal oauth: %w", err)
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("paypal oauth: empty access token")
	}
	a.token = resp.AccessToken
	a.expiresAt = a.clock.Now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenRefreshSkew)
	return a.token, nil
}

func (a *PayPalHTTPAdapter) call(ctx context.Context, method, path string, in, out interface{}) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}
	return a.client.DoJSON(ctx, method, a.cfg.BaseURL+path,
		http.Header{"Authorization": {"Bearer " + token}}, in, out)
}

func (a *PayPalHTTPAdapter) CreateRemoteOrder(ctx context.Context, order *domain.Order, returnURL, cancelURL string) (*port.RemoteOrder, error) {
	req := paypalCreateOrder{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: order.ID,
			CustomID:    order.TenantID,
			InvoiceID:   order.OrderNumber,
			Amount: paypalAmount{
				CurrencyCode: order.Currency,
				Value:        order.TotalAmount.StringFixed(2),
			},
		}},
	}
	req.ApplicationContext.ReturnURL = returnURL
	req.ApplicationContext.CancelURL = cancelURL
	req.ApplicationContext.BrandName = a.cfg.BrandName
	req.ApplicationContext.UserAction = "PAY_NOW"

	var resp paypalOrder
	if err := a.call(ctx, http.MethodPost, "/v2/checkout/orders", req, &resp); err != nil {
		return nil, err
	}
	remote := &port.RemoteOrder{ProviderOrderID: resp.ID, Status: resp.Status}
	for _, l := range resp.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			remote.ApprovalURL = l.Href
			break
		}
	}
	logger.Ctx(ctx).Info().Str("order", order.ID).Str("paypal_order", resp.ID).Msg("paypal order created")
	return remote, nil
}

// Capture 优先返回 capture 自身的状态，没有时退回订单状态。
func (a *PayPalHTTPAdapter) Capture(ctx context.Context, providerOrderID string) (*port.Capture, error) {
	var resp paypalOrder
	path := "/v2/checkout/orders/" + url.PathEscape(providerOrderID) + "/capture"
	if err := a.call(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		return nil, err
	}
	c := &port.Capture{Status: resp.Status}
	for _, pu := range resp.PurchaseUnits {
		if len(pu.Payments.Captures) > 0 {
			c.CaptureID = pu.Payments.Captures[0].ID
			c.Status = pu.Payments.Captures[0].Status
			break
		}
	}
	return c, nil
}

// VerifyWebhook 调用 PayPal 的验签接口。缺少签名头时直接判定为不通过，不发请求。
func (a *PayPalHTTPAdapter) VerifyWebhook(ctx context.Context, headers port.WebhookHeaders, body []byte) (bool, error) {
	req := map[string]interface{}{
		"auth_algo":         headers["paypal-auth-algo"],
		"cert_url":          headers["paypal-cert-url"],
		"transmission_id":   headers["paypal-transmission-id"],
		"transmission_sig":  headers["paypal-transmission-sig"],
		"transmission_time": headers["paypal-transmission-time"],
		"webhook_id":        a.cfg.WebhookID,
		"webhook_event":     json.RawMessage(body),
	}
	for k, v := range req {
		if s, ok := v.(string); ok && s == "" {
			logger.Ctx(ctx).Warn().Str("field", k).Msg("webhook verification input missing")
			return false, nil
		}
	}
	if !json.Valid(body) {
		return false, nil
	}

	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := a.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", req, &resp); err != nil {
		return false, err
	}
	return resp.VerificationStatus == "SUCCESS", nil
}

func (a *PayPalHTTPAdapter) ParseWebhook(body []byte) (*port.WebhookEvent, error) {
	var raw struct {
		ID        string `json:"id"`
		EventType string `json:"event_type"`
		Resource  struct {
			ID                string `json:"id"`
			SupplementaryData struct {
				RelatedIDs struct {
					OrderID string `json:"order_id"`
				} `json:"related_ids"`
			} `json:"supplementary_data"`
		} `json:"resource"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if raw.EventType == "" {
		return nil, fmt.Errorf("decode webhook: missing event_type")
	}
	ev := &port.WebhookEvent{ID: raw.ID, EventType: raw.EventType}
	switch {
	case strings.HasPrefix(raw.EventType, "PAYMENT.CAPTURE."):
		ev.CaptureID = raw.Resource.ID
		ev.ProviderOrderID = raw.Resource.SupplementaryData.RelatedIDs.OrderID
	case strings.HasPrefix(raw.EventType, "CHECKOUT.ORDER."):
		ev.ProviderOrderID = raw.Resource.ID
	}
	return ev, nil
}
