package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction status values.
const (
	TransactionCompleted = "completed"
	TransactionPending   = "pending"
)

// Transaction is an immutable payment from a user, on a device, at a merchant.
type Transaction struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	DeviceID   string          `json:"deviceId"`
	MerchantID string          `json:"merchantId"`
	Amount     decimal.Decimal `json:"amount"`
	Status     string          `json:"status"`

	// Note is attached by the simulation's fraud injectors.
	Note string `json:"note,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// User owns devices and transactions.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Device is a fingerprinted client. UserID is empty when the device
// has been detached from its owner.
type Device struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Merchant carries a static risk level in [0,100].
type Merchant struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Category  string  `json:"category"`
	RiskLevel float64 `json:"riskLevel"`
}

// TransactionRequest is the API payload for evaluating a transaction.
type TransactionRequest struct {
	ID         string          `json:"id,omitempty"`
	UserID     string          `json:"userId"`
	DeviceID   string          `json:"deviceId"`
	MerchantID string          `json:"merchantId"`
	Amount     decimal.Decimal `json:"amount"`
}

// Validate checks identifiers and amount before any side effect.
func (r *TransactionRequest) Validate() error {
	return ValidateTransactionInput(r.UserID, r.DeviceID, r.MerchantID, r.Amount)
}

// ToTransaction converts a request to a Transaction domain object.
func (r *TransactionRequest) ToTransaction() *Transaction {
	return &Transaction{
		ID:         r.ID,
		UserID:     r.UserID,
		DeviceID:   r.DeviceID,
		MerchantID: r.MerchantID,
		Amount:     r.Amount,
		Status:     TransactionCompleted,
		Timestamp:  time.Now().UTC(),
	}
}
