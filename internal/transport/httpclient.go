package transport

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

	"github.com/rs/zerolog"

	"github.com/shopkit/selfscan/internal/checkout"
	"github.com/shopkit/selfscan/internal/resilience"
)

// Client talks to the checkout backend over HTTP. It implements
// checkout.Api and classifies every failure into a *checkout.Error, so
// callers never see raw transport errors.
type Client struct {
	BaseURL  string
	Project  string
	ClientID string
	// AppToken is sent as a bearer token when set.
	AppToken string
	HTTP     resilience.HTTPClient
	Logger   zerolog.Logger
}

// errorPayload is the backend's structured error body.
type errorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// backend error types worth distinguishing; everything else is unknown.
const (
	errTypeInvalidCartItem = "invalid_cart_item"
	errTypeSaleStop        = "sale_stop"
	errTypeProductNotFound = "product_not_found"
	errTypeNoMethod        = "no_available_method"
	errTypeShopNotFound    = "shop_not_found"
)

func (c *Client) CreateCheckoutInfo(ctx context.Context, cart checkout.BackendCart, timeout time.Duration) (checkout.SignedCheckoutInfo, error) {
	var info checkout.SignedCheckoutInfo
	path := fmt.Sprintf("/%s/checkout/info", url.PathEscape(c.Project))
	resp, err := c.do(ctx, http.MethodPost, path, cart, timeout)
	if err != nil {
		return info, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return info, checkout.NewError(checkout.KindUnknown, "decode checkout info", err)
		}
		return info, nil
	case resp.StatusCode == http.StatusNotFound:
		return info, checkout.NewError(checkout.KindShopNotFound, "shop not found", nil)
	default:
		return info, classifyResponse(resp)
	}
}

func (c *Client) CreatePaymentProcess(ctx context.Context, req checkout.ProcessRequest) (checkout.CheckoutProcess, error) {
	var process checkout.CheckoutProcess
	path := fmt.Sprintf("/%s/checkout/process/%s",
		url.PathEscape(c.Project), url.PathEscape(req.IdempotencyID))

	payload := processPayload{
		Signature:        req.SignedInfo.Signature,
		Session:          req.SignedInfo.Session,
		PaymentMethod:    req.Method,
		ProcessedOffline: req.ProcessedOffline,
		FinalizedAt:      req.FinalizedAt,
	}
	if req.Credentials != nil {
		payload.PaymentInformation = req.Credentials
	}

	resp, err := c.do(ctx, http.MethodPut, path, payload, 0)
	if err != nil {
		return process, classifyTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		if err := json.NewDecoder(resp.Body).Decode(&process); err != nil {
			return process, checkout.NewError(checkout.KindUnknown, "decode checkout process", err)
		}
		return process, nil
	case resp.StatusCode == http.StatusConflict:
		// The cart uuid doubles as the idempotency key: a conflict means
		// the process already exists, so resume it instead of failing.
		io.Copy(io.Discard, resp.Body)
		return c.fetchProcess(ctx, path)
	default:
		return process, classifyResponse(resp)
	}
}

func (c *Client) UpdatePaymentProcess(ctx context.Context, process checkout.CheckoutProcess) (checkout.CheckoutProcess, error) {
	var updated checkout.CheckoutProcess
	link := process.SelfLink
	if link == "" {
		return updated, checkout.NewError(checkout.KindUnknown, "process has no self link", nil)
	}
	return c.fetchProcess(ctx, link)
}

func (c *Client) Abort(ctx context.Context, process checkout.CheckoutProcess) error {
	if process.SelfLink == "" {
		return checkout.NewError(checkout.KindUnknown, "process has no self link", nil)
	}
	body := map[string]bool{"aborted": true}
	resp, err := c.do(ctx, http.MethodPatch, process.SelfLink, body, 0)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return classifyResponse(resp)
}

func (c *Client) AuthorizePayment(ctx context.Context, process checkout.CheckoutProcess, originToken string) error {
	if process.AuthorizePaymentLink == "" {
		return checkout.NewError(checkout.KindUnknown, "process has no authorize link", nil)
	}
	body := map[string]string{"encryptedOrigin": originToken}
	resp, err := c.do(ctx, http.MethodPost, process.AuthorizePaymentLink, body, 0)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return classifyResponse(resp)
}

type processPayload struct {
	Signature          string                       `json:"signature,omitempty"`
	Session            string                       `json:"session"`
	PaymentMethod      checkout.PaymentMethod       `json:"paymentMethod"`
	PaymentInformation *checkout.PaymentCredentials `json:"paymentInformation,omitempty"`
	ProcessedOffline   bool                         `json:"processedOffline,omitempty"`
	FinalizedAt        *time.Time                   `json:"finalizedAt,omitempty"`
}

func (c *Client) fetchProcess(ctx context.Context, link string) (checkout.CheckoutProcess, error) {
	var process checkout.CheckoutProcess
	resp, err := c.do(ctx, http.MethodGet, link, nil, 0)
	if err != nil {
		return process, classifyTransport(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return process, classifyResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&process); err != nil {
		return process, checkout.NewError(checkout.KindUnknown, "decode checkout process", err)
	}
	return process, nil
}

// do builds and executes one request. Links returned by the backend may be
// absolute or relative; relative ones are resolved against BaseURL.
func (c *Client) do(ctx context.Context, method, link string, body any, timeout time.Duration) (*http.Response, error) {
	target := link
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		target = strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(link, "/")
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ClientID != "" {
		req.Header.Set("Client-ID", c.ClientID)
	}
	if c.AppToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AppToken)
	}

	cl := c.HTTP
	if timeout > 0 {
		cl.Timeout = timeout
	}
	start := time.Now()
	resp, err := cl.Do(ctx, req)
	evt := c.Logger.Debug().
		Str("method", method).
		Str("url", target).
		Dur("elapsed", time.Since(start))
	if err != nil {
		evt.Err(err).Msg("backend_request_failed")
		return nil, err
	}
	evt.Int("status", resp.StatusCode).Msg("backend_request")
	return resp, nil
}

// classifyTransport turns an error from the resilient client into a
// checkout error. Anything connectivity-shaped becomes KindConnection,
// which is the only kind the offline queue accepts.
func classifyTransport(err error) error {
	if resilience.IsConnectivityError(err) {
		return checkout.NewError(checkout.KindConnection, "backend unreachable", err)
	}
	return checkout.NewError(checkout.KindUnknown, "backend request failed", err)
}

// classifyResponse maps a non-success HTTP response that reached us onto
// the error taxonomy. The body is consumed here.
func classifyResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	var payload errorPayload
	_ = json.Unmarshal(data, &payload)
	msg := payload.Error.Message
	if msg == "" {
		msg = resp.Status
	}

	kind := checkout.KindUnknown
	switch payload.Error.Type {
	case errTypeInvalidCartItem:
		kind = checkout.KindInvalidItems
	case errTypeSaleStop, errTypeProductNotFound:
		kind = checkout.KindInvalidProducts
	case errTypeNoMethod:
		kind = checkout.KindNoAvailableMethod
	case errTypeShopNotFound:
		kind = checkout.KindShopNotFound
	}
	if kind == checkout.KindUnknown && resp.StatusCode == http.StatusNotFound {
		kind = checkout.KindShopNotFound
	}
	return checkout.NewError(kind, msg, fmt.Errorf("backend status %d", resp.StatusCode))
}
