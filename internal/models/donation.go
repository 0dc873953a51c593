package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DonationType discriminates the donation payload variant. Cash and in-kind
// details are mutually exclusive; exactly one matches the type.
type DonationType string

const (
	DonationCash   DonationType = "Cash"
	DonationInKind DonationType = "InKind"
)

// CashDetails carries the cash variant payload.
type CashDetails struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// InKindDetails carries the in-kind variant payload.
type InKindDetails struct {
	Description    string  `json:"description"`
	EstimatedValue float64 `json:"estimated_value"`
}

// Donation records a contribution to the foundation.
type Donation struct {
	ID            string         `db:"id" json:"id"`
	DonorName     string         `db:"donor_name" json:"donor_name"`
	DonationType  DonationType   `db:"donation_type" json:"donation_type"`
	CashDetails   *CashJSON      `db:"cash_details" json:"cash_details,omitempty"`
	InKindDetails *InKindJSON    `db:"in_kind_details" json:"in_kind_details,omitempty"`
	ProgramID     *string        `db:"program_id" json:"program_id,omitempty"`
	CommunityName string         `db:"community_name" json:"community_name"`
	Note          string         `db:"note" json:"note,omitempty"`
	ReceivedAt    time.Time      `db:"received_at" json:"received_at"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// CashJSON wraps CashDetails for JSONB persistence.
type CashJSON CashDetails

func (c CashJSON) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cash details: %w", err)
	}
	return data, nil
}

func (c *CashJSON) Scan(value interface{}) error {
	return scanJSON(value, c, "CashJSON")
}

// InKindJSON wraps InKindDetails for JSONB persistence.
type InKindJSON InKindDetails

func (k InKindJSON) Value() (driver.Value, error) {
	data, err := json.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("marshal in-kind details: %w", err)
	}
	return data, nil
}

func (k *InKindJSON) Scan(value interface{}) error {
	return scanJSON(value, k, "InKindJSON")
}

// Amount returns the monetary value of the donation regardless of variant.
func (d *Donation) Amount() float64 {
	switch d.DonationType {
	case DonationCash:
		if d.CashDetails != nil {
			return d.CashDetails.Amount
		}
	case DonationInKind:
		if d.InKindDetails != nil {
			return d.InKindDetails.EstimatedValue
		}
	}
	return 0
}

// DonationFilter captures list criteria for donations.
type DonationFilter struct {
	DonationType  *DonationType
	CommunityName string
	ProgramID     *string
	From          *time.Time
	To            *time.Time
	Page          int
	PageSize      int
	SortBy        string
	SortOrder     string
}
