// Package gateway holds what the payment gateway adapters share: the
// normalized notification, the composite order reference and HMAC signing.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Momo  = "momo"
	VNPay = "vnpay"
)

var (
	ErrSignatureInvalid = errors.New("invalid signature")
	ErrMalformed        = errors.New("malformed notification")
	ErrUpstream         = errors.New("payment gateway unavailable")
)

// PaymentRequest is what an adapter needs to open a payment for an order.
type PaymentRequest struct {
	OrderID  int64
	OrderRef string
	Amount   decimal.Decimal // VND
	Info     string
	ClientIP string
}

type PaymentLink struct {
	PayURL    string `json:"payUrl"`
	OrderRef  string `json:"orderRef"`
	RequestID string `json:"requestId,omitempty"`
}

// Creator opens a payment on a gateway and returns where to send the customer.
type Creator interface {
	CreatePayment(ctx context.Context, req PaymentRequest) (*PaymentLink, error)
}

// Notification is a callback whose signature has been verified.
type Notification struct {
	Gateway    string
	OrderRef   string
	OrderID    int64
	GatewayRef string // transaction id di sisi gateway
	ResultCode string
	Success    bool
	Amount     decimal.Decimal
	Message    string
}

// ComposeOrderRef builds "{orderId}_{unixMillis}". The suffix makes every
// payment attempt unique on the gateway side.
func ComposeOrderRef(orderID int64, at time.Time) string {
	return strconv.FormatInt(orderID, 10) + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}

// ParseOrderRef extracts the order id from a composite reference.
func ParseOrderRef(ref string) (int64, error) {
	idPart, tsPart, ok := strings.Cut(ref, "_")
	if !ok || idPart == "" || tsPart == "" {
		return 0, fmt.Errorf("%w: order reference %q", ErrMalformed, ref)
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: order reference %q", ErrMalformed, ref)
	}
	if _, err := strconv.ParseInt(tsPart, 10, 64); err != nil {
		return 0, fmt.Errorf("%w: order reference %q", ErrMalformed, ref)
	}
	return id, nil
}

// FallbackRef is used as the ledger key when a gateway reports no
// transaction id (typical for failures).
func FallbackRef(txnRef, orderRef, resultCode string) string {
	if txnRef == "" || txnRef == "0" {
		return orderRef + ":" + resultCode
	}
	return txnRef
}

// Sign returns the lowercase hex HMAC-SHA256 of data.
func Sign(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureMatches compares hex signatures ignoring case in constant time.
func SignatureMatches(expected, got string) bool {
	if got == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(got)))
}
