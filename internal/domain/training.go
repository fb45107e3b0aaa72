package domain

import (
	"time"
)

// TrainingExample is an append-only (features, label) pair.
type TrainingExample struct {
	ID            string             `json:"id"`
	TransactionID string             `json:"transactionId,omitempty"`
	Features      map[string]float64 `json:"features"`
	Label         int                `json:"label"`
	CreatedAt     time.Time          `json:"createdAt"`
}

// Model is one persisted version of a trainable scorer. The current
// model of a kind is the most recently created row.
type Model struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Parameters []byte    `json:"-"`
	Version    string    `json:"version"`
	Revision   int       `json:"revision"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
