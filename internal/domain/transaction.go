package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a single card event submitted for scoring. It is built by
// the validator from loosely typed input and never mutated by the scorer.
type Transaction struct {
	EventID      string          `json:"event_id"`
	Timestamp    time.Time       `json:"ts"`
	Fingerprint  string          `json:"card_fingerprint"`
	MerchantName string          `json:"merchant_name"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	City         string          `json:"city"`
	State        string          `json:"state"`
	Status       string          `json:"status"`

	// TimestampDefaulted is set when the submitted timestamp was missing or
	// unparsable and Timestamp holds the time of receipt instead.
	TimestampDefaulted bool `json:"-"`
}

func NewTransaction(eventID, fingerprint string, amount decimal.Decimal, at time.Time) *Transaction {
	return &Transaction{
		EventID:     eventID,
		Timestamp:   at,
		Fingerprint: fingerprint,
		Amount:      amount,
	}
}

func (tx *Transaction) WithMerchant(name, category string) *Transaction {
	tx.MerchantName = name
	tx.Category = category
	return tx
}

func (tx *Transaction) WithLocation(city, state string) *Transaction {
	tx.City = city
	tx.State = state
	return tx
}

func (tx *Transaction) AmountFloat() float64 {
	return tx.Amount.InexactFloat64()
}
