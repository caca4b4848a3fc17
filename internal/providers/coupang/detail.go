package coupang

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
)

type detailResponse struct {
	Order *detailOrder `json:"order"`
}

type detailOrder struct {
	OrderID        int64           `json:"orderId"`
	OrderedAt      string          `json:"orderedAt"`
	Vendor         *vendorInfo     `json:"vendor"`
	Payment        *paymentInfo    `json:"payment"`
	BundleReceipts []bundleReceipt `json:"bundleReceipts"`
	ProductList    []orderProduct  `json:"productList"`
}

type vendorInfo struct {
	VendorName  string `json:"vendorName"`
	RepPhoneNum string `json:"repPhoneNum"`
	HomepageURL string `json:"homepageUrl"`
	ImageURL    string `json:"imageUrl"`
}

type paymentInfo struct {
	PaidAt              string      `json:"paidAt"`
	MainPayType         string      `json:"mainPayType"`
	TotalPayedAmount    int64       `json:"totalPayedAmount"`
	TotalOrderAmount    int64       `json:"totalOrderAmount"`
	TotalDiscountAmount int64       `json:"totalDiscountAmount"`
	WowInstantDiscount  int64       `json:"wowInstantDiscount"`
	RewardCashAmount    int64       `json:"rewardCashAmount"`
	PayDetails          *payDetails `json:"payDetails"`
}

type payDetails struct {
	RocketBalanceAmount int64 `json:"rocketBalanceAmount"`
	CardAmount          int64 `json:"cardAmount"`
	CouponAmount        int64 `json:"couponAmount"`
	CoupangCashAmount   int64 `json:"coupangCashAmount"`
	RocketBankAmount    int64 `json:"rocketBankAmount"`
}

type bundleReceipt struct {
	OrderItems []orderProduct `json:"orderItems"`
}

type orderProduct struct {
	ProductID           int64  `json:"productId"`
	ProductName         string `json:"productName"`
	ImagePath           string `json:"imagePath"`
	Quantity            int    `json:"quantity"`
	UnitPrice           *int64 `json:"unitPrice"`
	DiscountedUnitPrice *int64 `json:"discountedUnitPrice"`
	CombinedUnitPrice   *int64 `json:"combinedUnitPrice"`
	EtcInfo             string `json:"etcInfo"`
}

// payloadKind discriminates the detail payload shapes the marketplace serves.
type payloadKind int

const (
	kindUnrecognized payloadKind = iota
	kindSimple
	kindMultiSuborder
)

func classify(o *detailOrder) payloadKind {
	switch {
	case o == nil:
		return kindUnrecognized
	case len(o.BundleReceipts) > 0:
		return kindMultiSuborder
	case len(o.ProductList) > 0:
		return kindSimple
	default:
		return kindUnrecognized
	}
}

// FetchDetail fetches one order document and normalizes it. A missing
// document or a payload shape the classifier does not recognize yields
// collector.ErrUnavailable.
func (c *Collector) FetchDetail(ctx context.Context, item collector.ListItem, token string) (*domain.Payment, error) {
	detailURL := fmt.Sprintf("%s/ssr/api/order/details?orderId=%s&deployVersion=%s",
		baseURL, url.QueryEscape(item.ExternalID), url.QueryEscape(token))

	resp, err := c.gw.Do(ctx, gateway.Request{URL: detailURL, Headers: c.headers})
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, collector.ErrUnavailable
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("detail returned status %d", resp.Status)
	}

	var payload detailResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode detail: %w", err)
	}
	return normalize(item.ExternalID, payload.Order)
}

func normalize(orderID string, o *detailOrder) (*domain.Payment, error) {
	kind := classify(o)
	if kind == kindUnrecognized {
		return nil, collector.ErrUnavailable
	}

	// orderedAt is canonical for chronology; the settlement timestamp is
	// kept in extra.
	orderedAt, err := parseOrderTime(o.OrderedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable orderedAt %q", collector.ErrUnavailable, o.OrderedAt)
	}

	rec := &domain.Payment{
		ExternalID: orderID,
		Provider:   domain.ProviderCoupang,
		PaidAt:     orderedAt,
	}
	if o.Vendor != nil {
		rec.Merchant = domain.Merchant{
			Name:     o.Vendor.VendorName,
			Tel:      o.Vendor.RepPhoneNum,
			URL:      o.Vendor.HomepageURL,
			ImageURL: o.Vendor.ImageURL,
		}
	}
	if p := o.Payment; p != nil {
		rec.TotalAmount = totalAmount(p)
		rec.DiscountAmount = p.TotalDiscountAmount
		rec.PayMethods = payMethods(p.PayDetails)
		rec.Extra = extraFields(p)
	}

	var products []orderProduct
	switch kind {
	case kindSimple:
		products = o.ProductList
	case kindMultiSuborder:
		for _, receipt := range o.BundleReceipts {
			products = append(products, receipt.OrderItems...)
		}
	}
	rec.LineItems = lineItems(products)
	rec.ProductCount = len(rec.LineItems)
	if len(rec.LineItems) > 0 {
		rec.ProductName = rec.LineItems[0].ProductName
		if len(rec.LineItems) > 1 {
			rec.ProductName = fmt.Sprintf("%s and %d more", rec.LineItems[0].ProductName, len(rec.LineItems)-1)
		}
		rec.ImageURL = rec.LineItems[0].ImageURL
	}
	return rec, nil
}

// totalAmount resolves the order total through the fallback chain: paid
// aggregate, then order aggregate, then zero.
func totalAmount(p *paymentInfo) int64 {
	if p.TotalPayedAmount > 0 {
		return p.TotalPayedAmount
	}
	if p.TotalOrderAmount > 0 {
		return p.TotalOrderAmount
	}
	return 0
}

func payMethods(d *payDetails) map[string]int64 {
	if d == nil {
		return nil
	}
	methods := map[string]int64{}
	for key, value := range map[string]int64{
		"rocketBalanceAmount": d.RocketBalanceAmount,
		"cardAmount":          d.CardAmount,
		"couponAmount":        d.CouponAmount,
		"coupangCashAmount":   d.CoupangCashAmount,
		"rocketBankAmount":    d.RocketBankAmount,
	} {
		if value != 0 {
			methods[key] = value
		}
	}
	if len(methods) == 0 {
		return nil
	}
	return methods
}

// extraFields keeps the marketplace-only figures that have no unified column.
func extraFields(p *paymentInfo) map[string]interface{} {
	extra := map[string]interface{}{}
	if p.PaidAt != "" {
		extra["paidAt"] = p.PaidAt
	}
	if p.MainPayType != "" {
		extra["mainPayType"] = p.MainPayType
	}
	if p.WowInstantDiscount != 0 {
		extra["wowInstantDiscount"] = p.WowInstantDiscount
	}
	if p.RewardCashAmount != 0 {
		extra["rewardCashAmount"] = p.RewardCashAmount
	}
	if p.TotalOrderAmount != 0 {
		extra["totalOrderAmount"] = p.TotalOrderAmount
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// lineItems flattens order products into the unified line sequence. lineNo
// runs 1..N across the whole order regardless of receipt grouping.
func lineItems(products []orderProduct) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(products))
	for _, product := range products {
		quantity := product.Quantity
		if quantity < 1 {
			quantity = 1
		}
		li := domain.LineItem{
			LineNo:      len(items) + 1,
			ProductName: product.ProductName,
			Quantity:    quantity,
			UnitPrice:   product.UnitPrice,
			ImageURL:    product.ImagePath,
			Memo:        product.EtcInfo,
		}
		// combinedUnitPrice folds per-unit fees in; fall back to the
		// discounted price when it is absent.
		unit := product.CombinedUnitPrice
		if unit == nil {
			unit = product.DiscountedUnitPrice
		}
		if unit != nil {
			amount := int64(quantity) * *unit
			li.LineAmount = &amount
		}
		if product.ProductID != 0 {
			li.InfoURL = fmt.Sprintf("https://www.coupang.com/vp/products/%d", product.ProductID)
		}
		items = append(items, li)
	}
	return items
}
