// Package vnpay builds signed VNPay redirect URLs and verifies the parameters
// VNPay sends back.
package vnpay

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-food-orders/internal/gateway"
	"github.com/shopspring/decimal"
)

const (
	version        = "2.1.0"
	command        = "pay"
	currency       = "VND"
	codeSuccess    = "00"
	stampLayout    = "20060102150405"
	paramHash      = "vnp_SecureHash"
	paramHashType  = "vnp_SecureHashType"
	defaultExpire  = 15 * time.Minute
	amountMultiple = 100
)

var amountScale = decimal.NewFromInt(amountMultiple)

type Config struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	ReturnURL   string
	Location    *time.Location // waktu di vnp_CreateDate, GMT+7
	ExpireAfter time.Duration
}

type Client struct {
	cfg Config
	Now func() time.Time
}

func New(cfg Config) *Client {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("GMT+7", 7*60*60)
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = defaultExpire
	}
	return &Client{cfg: cfg, Now: time.Now}
}

// canonical joins every non-empty vnp_* parameter except the hash fields,
// sorted by key, with query-escaped values.
func canonical(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if !strings.HasPrefix(k, "vnp_") || k == paramHash || k == paramHashType {
			continue
		}
		if q.Get(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(q.Get(k)))
	}
	return b.String()
}

// Sign returns the vnp_SecureHash for q.
func (c *Client) Sign(q url.Values) string {
	return gateway.Sign(c.cfg.HashSecret, canonical(q))
}

// CreatePayment returns the signed redirect URL. It does no I/O.
func (c *Client) CreatePayment(_ context.Context, req gateway.PaymentRequest) (*gateway.PaymentLink, error) {
	now := c.Now().In(c.cfg.Location)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	q := url.Values{}
	q.Set("vnp_Version", version)
	q.Set("vnp_Command", command)
	q.Set("vnp_TmnCode", c.cfg.TmnCode)
	q.Set("vnp_Amount", req.Amount.Round(0).Mul(amountScale).StringFixed(0))
	q.Set("vnp_CurrCode", currency)
	q.Set("vnp_TxnRef", req.OrderRef)
	q.Set("vnp_OrderInfo", req.Info)
	q.Set("vnp_OrderType", "other")
	q.Set("vnp_Locale", "vn")
	q.Set("vnp_ReturnUrl", c.cfg.ReturnURL)
	q.Set("vnp_IpAddr", ip)
	q.Set("vnp_CreateDate", now.Format(stampLayout))
	q.Set("vnp_ExpireDate", now.Add(c.cfg.ExpireAfter).Format(stampLayout))

	query := canonical(q)
	payURL := c.cfg.PayURL + "?" + query + "&" + paramHash + "=" + gateway.Sign(c.cfg.HashSecret, query)
	return &gateway.PaymentLink{PayURL: payURL, OrderRef: req.OrderRef}, nil
}

// Verify checks vnp_SecureHash over the received parameters and normalizes
// them.
func (c *Client) Verify(q url.Values) (*gateway.Notification, error) {
	if !gateway.SignatureMatches(c.Sign(q), q.Get(paramHash)) {
		return nil, gateway.ErrSignatureInvalid
	}
	ref := q.Get("vnp_TxnRef")
	orderID, err := gateway.ParseOrderRef(ref)
	if err != nil {
		return nil, err
	}
	raw, err := decimal.NewFromString(q.Get("vnp_Amount"))
	if err != nil {
		return nil, fmt.Errorf("%w: vnp_Amount %q", gateway.ErrMalformed, q.Get("vnp_Amount"))
	}
	code := q.Get("vnp_ResponseCode")
	txStatus := q.Get("vnp_TransactionStatus")
	return &gateway.Notification{
		Gateway:    gateway.VNPay,
		OrderRef:   ref,
		OrderID:    orderID,
		GatewayRef: gateway.FallbackRef(q.Get("vnp_TransactionNo"), ref, code),
		ResultCode: code,
		Success:    code == codeSuccess && (txStatus == "" || txStatus == codeSuccess),
		Amount:     raw.Div(amountScale),
		Message:    q.Get("vnp_OrderInfo"),
	}, nil
}
