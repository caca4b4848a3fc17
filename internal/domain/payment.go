package domain

import (
	"time"
)

// Provider identifiers. These match the provider column in the ledger and the
// path segments of the collector endpoints.
const (
	ProviderNaver   = "naver"
	ProviderCoupang = "coupang"
)

// Providers lists every supported provider id.
func Providers() []string {
	return []string{ProviderNaver, ProviderCoupang}
}

// ValidProvider reports whether id names a supported provider.
func ValidProvider(id string) bool {
	return id == ProviderNaver || id == ProviderCoupang
}

// Merchant is the seller attached to a payment. Only Name is reliably present;
// the portal omits the rest for some payment kinds.
type Merchant struct {
	Name     string `json:"name"`
	Tel      string `json:"tel,omitempty"`
	URL      string `json:"url,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// LineItem is one purchased product within a payment. LineNo is assigned
// sequentially from 1 across the flattened delivery/product groups of the
// provider payload.
type LineItem struct {
	LineNo      int    `json:"line_no"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   *int64 `json:"unit_price,omitempty"`
	LineAmount  *int64 `json:"line_amount,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	InfoURL     string `json:"info_url,omitempty"`
	Memo        string `json:"memo,omitempty"`
}

// Payment is the canonical record both collectors normalize into, independent
// of the provider payload shape it came from. ExternalID is the provider's
// natural id (naver payId, coupang orderId) and is unique per
// (accountID, provider). Amounts are integer won.
type Payment struct {
	ExternalID  string    `json:"external_id"`
	Provider    string    `json:"provider"`
	ServiceType string    `json:"service_type,omitempty"`
	PaidAt      time.Time `json:"paid_at"`

	StatusCode  string `json:"status_code,omitempty"`
	StatusText  string `json:"status_text,omitempty"`
	StatusColor string `json:"status_color,omitempty"`

	Merchant Merchant `json:"merchant"`

	// ProductName is the synthetic display name: the first item's name plus an
	// "and N more" suffix when the payment has more than one item.
	ProductName  string `json:"product_name,omitempty"`
	ProductCount int    `json:"product_count,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`

	ProductDetailURL string `json:"product_detail_url,omitempty"`
	OrderDetailURL   string `json:"order_detail_url,omitempty"`

	TotalAmount    int64 `json:"total_amount"`
	DiscountAmount int64 `json:"discount_amount,omitempty"`

	// PayMethods holds the per-instrument amounts the provider reports
	// (e.g. naver easycard/reward_point, coupang rocket_balance/card).
	PayMethods map[string]int64 `json:"pay_methods,omitempty"`

	// Extra keeps provider-specific leftovers that have no canonical column
	// (coupang main_pay_type, wow_instant_discount, ...).
	Extra map[string]interface{} `json:"extra,omitempty"`

	LineItems []LineItem `json:"line_items,omitempty"`
}

// Checkpoint is the natural key of the newest persisted payment for one
// (account, provider). It is owned by the ledger and bounds incremental runs.
type Checkpoint struct {
	LastExternalID string    `json:"last_external_id"`
	LastPaidAt     time.Time `json:"last_paid_at"`
}
