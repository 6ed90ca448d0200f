// Package audit records every inbound gateway message together with what the
// reconciler decided about it. Rows are never updated.
package audit

import (
	"context"
	"time"
)

type Verdict string

const (
	VerdictApplied   Verdict = "APPLIED"
	VerdictDuplicate Verdict = "DUPLICATE"
	VerdictIgnored   Verdict = "IGNORED"
	VerdictMismatch  Verdict = "AMOUNT_MISMATCH"
	VerdictRejected  Verdict = "REJECTED"  // signature atau format salah
	VerdictNotFound  Verdict = "NOT_FOUND" // order tidak ada
	VerdictError     Verdict = "ERROR"
)

// Entry is one received callback.
type Entry struct {
	Gateway    string
	Channel    string // "ipn" atau "return"
	OrderRef   string
	GatewayRef string
	ResultCode string
	Verdict    Verdict
	Reason     string
	Raw        string // payload asli, JSON atau query string
	ReceivedAt time.Time
}

// Repository is the append-only log.
type Repository interface {
	Save(ctx context.Context, e *Entry) error
}

// Discard drops every entry. Used when no audit path is configured.
type Discard struct{}

func (Discard) Save(context.Context, *Entry) error { return nil }
