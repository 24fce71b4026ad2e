// Package pesapal brokers the PesaPal v3 REST calls needed for a hosted
// checkout: token exchange, order submission and transaction status.
// The client owns no state between calls; every operation re-authenticates.
package pesapal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hackgods/herbal-consult-booking/internal/logging"
)

var tracer = otel.Tracer("herbal.internal.pesapal")

// Transaction statuses reported by the processor. Anything else, PENDING
// included, means the order may still settle.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusInvalid   = "INVALID"
	StatusReversed  = "REVERSED"
)

const currencyKES = "KES"

var (
	ErrPaymentInit          = errors.New("payment initialization failed")
	ErrPaymentStatusUnknown = errors.New("payment status check failed")
	ErrNoToken              = errors.New("failed to get authorization token")
	ErrNoRedirect           = errors.New("failed to create payment order")
)

// Observer receives one observation per outbound call.
type Observer interface {
	ObserveGatewayCall(operation string, ok bool, seconds float64)
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	CallbackURL    string
	NotificationID string
	Timeout        time.Duration
}

type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	callbackURL    string
	notificationID string
	httpClient     *http.Client
	observer       Observer
}

type PaymentDetails struct {
	Amount         float64
	Description    string
	Reference      string
	PayerEmail     string
	PayerFirstName string
	PayerLastName  string
	PayerPhone     string
}

// Order is the successful result of InitializePayment.
type Order struct {
	RedirectURL     string
	OrderTrackingID string
}

// Status is the successful result of CheckPaymentStatus.
type Status struct {
	Status            string
	PaymentMethod     string
	Amount            float64
	MerchantReference string
}

// Completed reports whether the processor settled the order.
func (s Status) Completed() bool {
	return s.Status == StatusCompleted
}

// Failed reports whether the order can no longer be paid.
func (s Status) Failed() bool {
	switch s.Status {
	case StatusFailed, StatusInvalid, StatusReversed:
		return true
	}
	return false
}

func NewClient(cfg Config, observer Observer) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		callbackURL:    cfg.CallbackURL,
		notificationID: cfg.NotificationID,
		httpClient:     &http.Client{Timeout: timeout},
		observer:       observer,
	}
}

// WithHTTPClient swaps the transport, mainly for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

type apiError struct {
	ErrorType string `json:"error_type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

func (e *apiError) err() error {
	if e == nil || (e.Message == "" && e.Code == "") {
		return nil
	}
	if e.Message == "" {
		return fmt.Errorf("pesapal error code %s", e.Code)
	}
	return fmt.Errorf("pesapal: %s", e.Message)
}

type tokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type tokenResponse struct {
	Token      string    `json:"token"`
	ExpiryDate string    `json:"expiryDate"`
	Error      *apiError `json:"error"`
	Message    string    `json:"message"`
}

type billingAddress struct {
	EmailAddress string `json:"email_address"`
	PhoneNumber  string `json:"phone_number"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

type submitOrderRequest struct {
	ID             string         `json:"id"`
	Currency       string         `json:"currency"`
	Amount         float64        `json:"amount"`
	Description    string         `json:"description"`
	CallbackURL    string         `json:"callback_url"`
	NotificationID string         `json:"notification_id"`
	BillingAddress billingAddress `json:"billing_address"`
}

type submitOrderResponse struct {
	OrderTrackingID   string    `json:"order_tracking_id"`
	MerchantReference string    `json:"merchant_reference"`
	RedirectURL       string    `json:"redirect_url"`
	Error             *apiError `json:"error"`
}

type transactionStatusResponse struct {
	Status                   string    `json:"status"`
	PaymentStatusDescription string    `json:"payment_status_description"`
	PaymentMethod            string    `json:"payment_method"`
	Amount                   float64   `json:"amount"`
	MerchantReference        string    `json:"merchant_reference"`
	Error                    *apiError `json:"error"`
}

// InitializePayment acquires a token and submits an order whose external id is
// the caller's reference. Every failure is returned wrapped in ErrPaymentInit.
func (c *Client) InitializePayment(ctx context.Context, details PaymentDetails) (Order, error) {
	ctx, span := tracer.Start(ctx, "pesapal.initialize_payment")
	defer span.End()
	span.SetAttributes(
		attribute.String("herbal.payment_reference", details.Reference),
		attribute.Float64("herbal.amount", details.Amount),
	)

	order, err := c.initialize(ctx, details)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.FromContext(ctx).Error().Err(err).Str("reference", details.Reference).Msg("payment initialization error")
		return Order{}, fmt.Errorf("%w: %w", ErrPaymentInit, err)
	}
	return order, nil
}

func (c *Client) initialize(ctx context.Context, details PaymentDetails) (Order, error) {
	token, err := c.requestToken(ctx)
	if err != nil {
		return Order{}, err
	}

	body := submitOrderRequest{
		ID:             details.Reference,
		Currency:       currencyKES,
		Amount:         details.Amount,
		Description:    details.Description,
		CallbackURL:    c.callbackURL,
		NotificationID: c.notificationID,
		BillingAddress: billingAddress{
			EmailAddress: details.PayerEmail,
			PhoneNumber:  details.PayerPhone,
			FirstName:    details.PayerFirstName,
			LastName:     details.PayerLastName,
		},
	}

	var resp submitOrderResponse
	if err := c.do(ctx, "submit_order", http.MethodPost, "/api/Transactions/SubmitOrderRequest", token, body, &resp); err != nil {
		return Order{}, err
	}
	if err := resp.Error.err(); err != nil {
		return Order{}, err
	}
	if resp.RedirectURL == "" {
		return Order{}, ErrNoRedirect
	}

	return Order{
		RedirectURL:     resp.RedirectURL,
		OrderTrackingID: resp.OrderTrackingID,
	}, nil
}

// CheckPaymentStatus re-authenticates and queries the transaction status of an
// order. Failures are wrapped in ErrPaymentStatusUnknown.
func (c *Client) CheckPaymentStatus(ctx context.Context, orderTrackingID string) (Status, error) {
	ctx, span := tracer.Start(ctx, "pesapal.check_payment_status")
	defer span.End()
	span.SetAttributes(attribute.String("herbal.order_tracking_id", orderTrackingID))

	st, err := c.checkStatus(ctx, orderTrackingID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.FromContext(ctx).Error().Err(err).Str("order_tracking_id", orderTrackingID).Msg("payment status check error")
		return Status{}, fmt.Errorf("%w: %w", ErrPaymentStatusUnknown, err)
	}
	span.SetAttributes(attribute.String("herbal.payment_status", st.Status))
	return st, nil
}

func (c *Client) checkStatus(ctx context.Context, orderTrackingID string) (Status, error) {
	if strings.TrimSpace(orderTrackingID) == "" {
		return Status{}, errors.New("order tracking id is required")
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return Status{}, err
	}

	path := "/api/Transactions/GetTransactionStatus?orderTrackingId=" + url.QueryEscape(orderTrackingID)
	var resp transactionStatusResponse
	if err := c.do(ctx, "transaction_status", http.MethodGet, path, token, nil, &resp); err != nil {
		return Status{}, err
	}
	if err := resp.Error.err(); err != nil {
		return Status{}, err
	}

	// The live API reports the textual state in payment_status_description and
	// an HTTP-like code in status.
	status := strings.ToUpper(strings.TrimSpace(resp.PaymentStatusDescription))
	if status == "" {
		status = resp.Status
	}

	return Status{
		Status:            status,
		PaymentMethod:     resp.PaymentMethod,
		Amount:            resp.Amount,
		MerchantReference: resp.MerchantReference,
	}, nil
}

func (c *Client) requestToken(ctx context.Context) (string, error) {
	var resp tokenResponse
	req := tokenRequest{ConsumerKey: c.consumerKey, ConsumerSecret: c.consumerSecret}
	if err := c.do(ctx, "request_token", http.MethodPost, "/api/Auth/RequestToken", "", req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", ErrNoToken
	}
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, operation, method, path, token string, in, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveGatewayCall(operation, err == nil, time.Since(start).Seconds())
		}
	}()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", operation, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: request: %w", operation, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: http: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", operation, err)
	}
	return nil
}
