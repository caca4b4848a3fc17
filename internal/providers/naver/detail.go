package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
)

type detailResponse struct {
	PageProps struct {
		Payment *detailPayment `json:"payment"`
	} `json:"pageProps"`
}

type detailPayment struct {
	PayID       string        `json:"payId"`
	ServiceType string        `json:"serviceType"`
	PaidAt      string        `json:"paidAt"`
	Status      statusInfo    `json:"status"`
	Merchant    *merchantInfo `json:"merchant"`
	Product     *productInfo  `json:"product"`
	Amount      *amountInfo   `json:"amount"`
	OrderAmount *orderAmount  `json:"orderAmount"`
	Orders      []suborder    `json:"orders"`
}

type merchantInfo struct {
	Name     string `json:"name"`
	Tel      string `json:"tel"`
	URL      string `json:"url"`
	ImageURL string `json:"imageUrl"`
}

type productInfo struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  *int64 `json:"unitPrice"`
	TotalPrice *int64 `json:"totalPrice"`
	ImageURL   string `json:"imageUrl"`
	InfoURL    string `json:"infoUrl"`
}

type amountInfo struct {
	TotalPayAmount    int64 `json:"totalPayAmount"`
	DiscountAmount    int64 `json:"discountAmount"`
	EasyCardAmount    int64 `json:"easyCardAmount"`
	EasyBankAmount    int64 `json:"easyBankAmount"`
	RewardPointAmount int64 `json:"rewardPointAmount"`
	ChargePointAmount int64 `json:"chargePointAmount"`
	GiftCardAmount    int64 `json:"giftCardAmount"`
}

type orderAmount struct {
	TotalAmount int64 `json:"totalAmount"`
}

type suborder struct {
	Merchant       *merchantInfo   `json:"merchant"`
	DeliveryGroups []deliveryGroup `json:"deliveryGroups"`
}

type deliveryGroup struct {
	Products []groupProduct `json:"products"`
}

type groupProduct struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  *int64 `json:"unitPrice"`
	TotalPrice *int64 `json:"totalPrice"`
	ImageURL   string `json:"imageUrl"`
	InfoURL    string `json:"infoUrl"`
	Memo       string `json:"memo"`
}

// payloadKind discriminates the detail payload shapes the portal serves.
type payloadKind int

const (
	kindUnrecognized payloadKind = iota
	kindSimple
	kindMultiSuborder
)

func classify(p *detailPayment) payloadKind {
	switch {
	case p == nil:
		return kindUnrecognized
	case len(p.Orders) > 0:
		return kindMultiSuborder
	case p.Merchant != nil:
		return kindSimple
	default:
		return kindUnrecognized
	}
}

// FetchDetail fetches one payment document and normalizes it. A missing
// document or a payload shape the classifier does not recognize yields
// collector.ErrUnavailable.
func (c *Collector) FetchDetail(ctx context.Context, item collector.ListItem, token string) (*domain.Payment, error) {
	detailURL := fmt.Sprintf("%s/_next/data/%s/payments/%s.json", baseURL, token, item.ExternalID)
	if item.SubType != "" {
		detailURL += "?serviceType=" + url.QueryEscape(item.SubType)
	}

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
	return normalize(item.ExternalID, payload.PageProps.Payment)
}

func normalize(payID string, p *detailPayment) (*domain.Payment, error) {
	kind := classify(p)
	if kind == kindUnrecognized {
		return nil, collector.ErrUnavailable
	}

	paidAt, err := time.Parse(time.RFC3339, p.PaidAt)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable paidAt %q", collector.ErrUnavailable, p.PaidAt)
	}

	rec := &domain.Payment{
		ExternalID:  payID,
		Provider:    domain.ProviderNaver,
		ServiceType: p.ServiceType,
		PaidAt:      paidAt,
		StatusCode:  p.Status.Code,
		StatusText:  p.Status.Text,
		StatusColor: p.Status.Color,
		TotalAmount: totalAmount(p),
		PayMethods:  payMethods(p.Amount),
	}
	if p.Amount != nil {
		rec.DiscountAmount = p.Amount.DiscountAmount
	}

	switch kind {
	case kindSimple:
		normalizeSimple(rec, p)
	case kindMultiSuborder:
		normalizeMulti(rec, p)
	}
	return rec, nil
}

// totalAmount resolves the payment total through the fallback chain:
// payment-method aggregate, then order aggregate, then zero.
func totalAmount(p *detailPayment) int64 {
	if p.Amount != nil && p.Amount.TotalPayAmount > 0 {
		return p.Amount.TotalPayAmount
	}
	if p.OrderAmount != nil && p.OrderAmount.TotalAmount > 0 {
		return p.OrderAmount.TotalAmount
	}
	return 0
}

func payMethods(a *amountInfo) map[string]int64 {
	if a == nil {
		return nil
	}
	methods := map[string]int64{}
	for key, value := range map[string]int64{
		"easyCardAmount":    a.EasyCardAmount,
		"easyBankAmount":    a.EasyBankAmount,
		"rewardPointAmount": a.RewardPointAmount,
		"chargePointAmount": a.ChargePointAmount,
		"giftCardAmount":    a.GiftCardAmount,
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

func normalizeSimple(rec *domain.Payment, p *detailPayment) {
	rec.Merchant = domain.Merchant{
		Name:     p.Merchant.Name,
		Tel:      p.Merchant.Tel,
		URL:      p.Merchant.URL,
		ImageURL: p.Merchant.ImageURL,
	}
	if p.Product == nil {
		return
	}
	quantity := p.Product.Quantity
	if quantity < 1 {
		quantity = 1
	}
	rec.LineItems = []domain.LineItem{{
		LineNo:      1,
		ProductName: p.Product.Name,
		Quantity:    quantity,
		UnitPrice:   p.Product.UnitPrice,
		LineAmount:  p.Product.TotalPrice,
		ImageURL:    p.Product.ImageURL,
		InfoURL:     p.Product.InfoURL,
	}}
	rec.ProductName = p.Product.Name
	rec.ProductCount = 1
	rec.ImageURL = p.Product.ImageURL
}

// normalizeMulti flattens orders -> delivery groups -> products into one
// line item sequence. lineNo runs 1..N across the whole order regardless
// of the source nesting.
func normalizeMulti(rec *domain.Payment, p *detailPayment) {
	merchant := p.Merchant
	if merchant == nil {
		for _, order := range p.Orders {
			if order.Merchant != nil {
				merchant = order.Merchant
				break
			}
		}
	}
	if merchant != nil {
		rec.Merchant = domain.Merchant{
			Name:     merchant.Name,
			Tel:      merchant.Tel,
			URL:      merchant.URL,
			ImageURL: merchant.ImageURL,
		}
	}

	var items []domain.LineItem
	for _, order := range p.Orders {
		for _, group := range order.DeliveryGroups {
			for _, product := range group.Products {
				quantity := product.Quantity
				if quantity < 1 {
					quantity = 1
				}
				items = append(items, domain.LineItem{
					LineNo:      len(items) + 1,
					ProductName: product.Name,
					Quantity:    quantity,
					UnitPrice:   product.UnitPrice,
					LineAmount:  product.TotalPrice,
					ImageURL:    product.ImageURL,
					InfoURL:     product.InfoURL,
					Memo:        product.Memo,
				})
			}
		}
	}
	rec.LineItems = items
	rec.ProductCount = len(items)
	if len(items) == 0 {
		return
	}
	rec.ProductName = items[0].ProductName
	if len(items) > 1 {
		rec.ProductName = fmt.Sprintf("%s and %d more", items[0].ProductName, len(items)-1)
	}
	rec.ImageURL = items[0].ImageURL
}
