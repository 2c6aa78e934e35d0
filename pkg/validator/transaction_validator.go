package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"fraud_scorer/internal/domain"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrInvalidPayload = errors.New("invalid transaction payload")

// Accepted timestamp layouts, tried in order. Naive layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// TransactionValidator turns loosely typed event payloads into transactions.
// Malformed fields degrade to defaults; only a payload that is not a JSON
// object is rejected.
type TransactionValidator struct {
	currencyRegex *regexp.Regexp
}

func NewTransactionValidator() *TransactionValidator {
	return &TransactionValidator{
		currencyRegex: regexp.MustCompile(`^[A-Z]{3}$`),
	}
}

func (v *TransactionValidator) Decode(r io.Reader, now time.Time) (*domain.Transaction, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidPayload)
	}

	return v.Coerce(raw, now), nil
}

func (v *TransactionValidator) DecodeBytes(data []byte, now time.Time) (*domain.Transaction, error) {
	return v.Decode(bytes.NewReader(data), now)
}

func (v *TransactionValidator) Coerce(raw map[string]any, now time.Time) *domain.Transaction {
	eventID := stringField(raw, "event_id")
	if eventID == "" {
		eventID = uuid.NewString()
	}

	tx := &domain.Transaction{
		EventID:      eventID,
		Fingerprint:  fingerprint(raw),
		MerchantName: stringField(raw, "merchant_name"),
		Category:     stringField(raw, "category"),
		Amount:       amountField(raw["amount"]),
		Currency:     v.currency(stringField(raw, "currency")),
		City:         stringField(raw, "city"),
		State:        stringField(raw, "state"),
		Status:       stringField(raw, "status"),
	}

	if ts, ok := timestampField(raw["ts"]); ok {
		tx.Timestamp = ts
	} else {
		tx.Timestamp = now.UTC()
		tx.TimestampDefaulted = true
	}

	return tx
}

func (v *TransactionValidator) currency(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	if !v.currencyRegex.MatchString(c) {
		return ""
	}
	return c
}

// fingerprint prefers the last four digits of a raw card number and falls
// back to a precomputed fingerprint.
func fingerprint(raw map[string]any) string {
	if card := stringField(raw, "card_number"); card != "" {
		if len(card) >= 4 {
			return card[len(card)-4:]
		}
		return card
	}
	return stringField(raw, "card_fingerprint")
}

func stringField(raw map[string]any, key string) string {
	switch val := raw[key].(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

func amountField(val any) decimal.Decimal {
	var (
		amount decimal.Decimal
		err    error
	)

	switch a := val.(type) {
	case json.Number:
		amount, err = decimal.NewFromString(a.String())
	case string:
		amount, err = decimal.NewFromString(strings.TrimSpace(a))
	case float64:
		amount = decimal.NewFromFloat(a)
	case int:
		amount = decimal.NewFromInt(int64(a))
	case int64:
		amount = decimal.NewFromInt(a)
	default:
		return decimal.Zero
	}

	if err != nil || amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

func timestampField(val any) (time.Time, bool) {
	switch ts := val.(type) {
	case string:
		s := strings.TrimSpace(ts)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	case json.Number:
		if ms, err := ts.Int64(); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC(), true
		}
	case float64:
		if ts > 0 {
			return time.UnixMilli(int64(ts)).UTC(), true
		}
	}
	return time.Time{}, false
}
