// Package momo talks to the MoMo e-wallet "captureWallet" API.
package momo

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

	"github.com/ariefcatur/go-food-orders/internal/gateway"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	requestType   = "captureWallet"
	resultSuccess = "0"
)

type Config struct {
	PartnerCode string
	PartnerName string
	StoreID     string
	AccessKey   string
	SecretKey   string
	CreateURL   string
	RedirectURL string
	IPNURL      string
	Timeout     time.Duration
}

type Client struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type createRequest struct {
	PartnerCode string `json:"partnerCode"`
	PartnerName string `json:"partnerName,omitempty"`
	StoreID     string `json:"storeId,omitempty"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IpnURL      string `json:"ipnUrl"`
	Lang        string `json:"lang"`
	RequestType string `json:"requestType"`
	ExtraData   string `json:"extraData"`
	Signature   string `json:"signature"`
}

type createResponse struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	ResultCode   json.Number `json:"resultCode"`
	Message      string      `json:"message"`
	PayURL       string      `json:"payUrl"`
	ResponseTime json.Number `json:"responseTime"`
}

func (c *Client) requestSignature(r *createRequest) string {
	raw := "accessKey=" + c.cfg.AccessKey +
		"&amount=" + fmt.Sprint(r.Amount) +
		"&extraData=" + r.ExtraData +
		"&ipnUrl=" + r.IpnURL +
		"&orderId=" + r.OrderID +
		"&orderInfo=" + r.OrderInfo +
		"&partnerCode=" + r.PartnerCode +
		"&redirectUrl=" + r.RedirectURL +
		"&requestId=" + r.RequestID +
		"&requestType=" + r.RequestType
	return gateway.Sign(c.cfg.SecretKey, raw)
}

// CreatePayment asks MoMo for a payUrl. Any transport failure, non-2xx status,
// non-zero resultCode or missing payUrl is reported as gateway.ErrUpstream.
func (c *Client) CreatePayment(ctx context.Context, req gateway.PaymentRequest) (*gateway.PaymentLink, error) {
	body := &createRequest{
		PartnerCode: c.cfg.PartnerCode,
		PartnerName: c.cfg.PartnerName,
		StoreID:     c.cfg.StoreID,
		RequestID:   uuid.NewString(),
		Amount:      req.Amount.Round(0).IntPart(),
		OrderID:     req.OrderRef,
		OrderInfo:   req.Info,
		RedirectURL: c.cfg.RedirectURL,
		IpnURL:      c.cfg.IPNURL,
		Lang:        "vi",
		RequestType: requestType,
		ExtraData:   "",
	}
	body.Signature = c.requestSignature(body)

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CreateURL, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: build momo request: %v", gateway.ErrUpstream, err)
	}
	httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: momo create: %v", gateway.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: momo create: read body: %v", gateway.ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: momo create returned status %d", gateway.ErrUpstream, resp.StatusCode)
	}
	var out createResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: momo create: decode: %v", gateway.ErrUpstream, err)
	}
	if out.ResultCode.String() != resultSuccess || out.PayURL == "" {
		return nil, fmt.Errorf("%w: momo create resultCode=%s message=%q", gateway.ErrUpstream, out.ResultCode, out.Message)
	}
	return &gateway.PaymentLink{PayURL: out.PayURL, OrderRef: req.OrderRef, RequestID: body.RequestID}, nil
}

// Callback is the IPN body MoMo posts, also rebuilt from the redirect query.
type Callback struct {
	PartnerCode  string      `json:"partnerCode"`
	OrderID      string      `json:"orderId"`
	RequestID    string      `json:"requestId"`
	Amount       json.Number `json:"amount"`
	OrderInfo    string      `json:"orderInfo"`
	OrderType    string      `json:"orderType"`
	TransID      json.Number `json:"transId"`
	ResultCode   json.Number `json:"resultCode"`
	Message      string      `json:"message"`
	PayType      string      `json:"payType"`
	ResponseTime json.Number `json:"responseTime"`
	ExtraData    string      `json:"extraData"`
	Signature    string      `json:"signature"`
}

// CallbackFromQuery reads the parameters MoMo appends to the redirect URL.
func CallbackFromQuery(q url.Values) Callback {
	return Callback{
		PartnerCode:  q.Get("partnerCode"),
		OrderID:      q.Get("orderId"),
		RequestID:    q.Get("requestId"),
		Amount:       json.Number(q.Get("amount")),
		OrderInfo:    q.Get("orderInfo"),
		OrderType:    q.Get("orderType"),
		TransID:      json.Number(q.Get("transId")),
		ResultCode:   json.Number(q.Get("resultCode")),
		Message:      q.Get("message"),
		PayType:      q.Get("payType"),
		ResponseTime: json.Number(q.Get("responseTime")),
		ExtraData:    q.Get("extraData"),
		Signature:    q.Get("signature"),
	}
}

func (c *Client) callbackCanonical(cb Callback) string {
	return "accessKey=" + c.cfg.AccessKey +
		"&amount=" + cb.Amount.String() +
		"&extraData=" + cb.ExtraData +
		"&message=" + cb.Message +
		"&orderId=" + cb.OrderID +
		"&orderInfo=" + cb.OrderInfo +
		"&orderType=" + cb.OrderType +
		"&partnerCode=" + cb.PartnerCode +
		"&payType=" + cb.PayType +
		"&requestId=" + cb.RequestID +
		"&responseTime=" + cb.ResponseTime.String() +
		"&resultCode=" + cb.ResultCode.String() +
		"&transId=" + cb.TransID.String()
}

// SignCallback computes the signature MoMo would put on cb.
func (c *Client) SignCallback(cb Callback) string {
	return gateway.Sign(c.cfg.SecretKey, c.callbackCanonical(cb))
}

// Verify checks the signature of cb and normalizes it.
func (c *Client) Verify(cb Callback) (*gateway.Notification, error) {
	if !gateway.SignatureMatches(c.SignCallback(cb), cb.Signature) {
		return nil, gateway.ErrSignatureInvalid
	}
	orderID, err := gateway.ParseOrderRef(cb.OrderID)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(cb.Amount.String()))
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q", gateway.ErrMalformed, cb.Amount)
	}
	code := cb.ResultCode.String()
	return &gateway.Notification{
		Gateway:    gateway.Momo,
		OrderRef:   cb.OrderID,
		OrderID:    orderID,
		GatewayRef: gateway.FallbackRef(cb.TransID.String(), cb.OrderID, code),
		ResultCode: code,
		Success:    code == resultSuccess,
		Amount:     amount,
		Message:    cb.Message,
	}, nil
}
