package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction represents an incoming transaction to be assessed.
// Transactions are immutable facts: once created they are never mutated.
type Transaction struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// Financial details. Amount is fixed-point to keep threshold
	// comparisons (e.g. >= 10,000.00) exact.
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`

	MerchantCategory string `json:"merchantCategory"`
	IsInternational  bool   `json:"isInternational"`

	// Optional geolocation; rules that need it abstain when absent.
	Location *Geolocation `json:"location,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// Geolocation is the optional location attached to a transaction.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
	City      string  `json:"city,omitempty"`
}

// HasCoordinates reports whether the location carries usable coordinates.
func (g *Geolocation) HasCoordinates() bool {
	return g != nil && (g.Latitude != 0 || g.Longitude != 0)
}

// High-risk merchant categories flagged by the category rule.
const (
	CategoryGambling           = "GAMBLING"
	CategoryCrypto             = "CRYPTO"
	CategoryAdultEntertainment = "ADULT_ENTERTAINMENT"
)

// TransactionRequest is the API request payload for transaction assessment.
type TransactionRequest struct {
	UserID           string          `json:"userId"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	MerchantCategory string          `json:"merchantCategory"`
	IsInternational  bool            `json:"isInternational"`
	Location         *Geolocation    `json:"location,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		UserID:           r.UserID,
		Amount:           r.Amount,
		Currency:         r.Currency,
		MerchantCategory: r.MerchantCategory,
		IsInternational:  r.IsInternational,
		Location:         r.Location,
		CreatedAt:        time.Now().UTC(),
	}
}
