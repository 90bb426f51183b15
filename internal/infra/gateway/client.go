// Package gateway は外部決済ゲートウェイ（PaymentIntent型のHTTP API）のクライアント。
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"
)

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// 連続failures回の一時エラーでオープン、cooldown後に1件だけ試す
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(c *Client) { c.breaker = newBreaker(failures, cooldown) }
}

func NewClient(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		http:    &http.Client{},
		breaker: newBreaker(5, 30*time.Second),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func newBreaker(failures uint32, cooldown time.Duration) *gobreaker.CircuitBreaker[[]byte] {
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// 拒否や4xxはゲートウェイの不調ではない
		IsSuccessful: func(err error) bool {
			return err == nil || !IsTransient(err)
		},
	})
}

// confirm=trueで作成する。同じIdempotencyKeyなら同じPaymentIntentが返る
func (c *Client) CreatePaymentIntent(ctx context.Context, p CreateIntentParams) (PaymentIntent, error) {
	body := map[string]interface{}{
		"amount":         p.Amount,
		"currency":       p.Currency,
		"payment_method": p.PaymentMethod,
		"confirm":        true,
		"metadata":       map[string]string{MetadataCheckoutID: p.CheckoutID},
	}
	var pi PaymentIntent
	err := c.call(ctx, http.MethodPost, "/v1/payment_intents", p.IdempotencyKey, body, &pi)
	return pi, err
}

func (c *Client) ConfirmPaymentIntent(ctx context.Context, id string, idempotencyKey string) (PaymentIntent, error) {
	var pi PaymentIntent
	path := "/v1/payment_intents/" + url.PathEscape(id) + "/confirm"
	err := c.call(ctx, http.MethodPost, path, idempotencyKey, map[string]interface{}{}, &pi)
	return pi, err
}

func (c *Client) CreateRefund(ctx context.Context, p RefundParams) (Refund, error) {
	body := map[string]interface{}{
		"payment_intent": p.PaymentIntent,
		"amount":         p.Amount,
		"reason":         p.Reason,
	}
	var rf Refund
	err := c.call(ctx, http.MethodPost, "/v1/refunds", p.IdempotencyKey, body, &rf)
	return rf, err
}

func (c *Client) call(ctx context.Context, method, path, idempotencyKey string, in interface{}, out interface{}) error {
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, path, idempotencyKey, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindTransient, Err: err}
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindPermanent, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in interface{}) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Kind: KindPermanent, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// タイムアウトも含めて結果不明
		return nil, &Error{Kind: KindTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransient, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	gerr := &Error{Kind: classifyStatus(resp.StatusCode), StatusCode: resp.StatusCode}
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil && env.Error != nil {
		gerr.Code = env.Error.Code
		gerr.Reason = env.Error.Reason()
	}
	if gerr.Reason == "" {
		gerr.Reason = http.StatusText(resp.StatusCode)
	}
	if v := resp.Header.Get("Retry-After"); v != "" && gerr.Kind == KindTransient {
		if secs, err := strconv.Atoi(v); err == nil {
			gerr.Err = fmt.Errorf("retry after %ds", secs)
		}
	}
	return nil, gerr
}
