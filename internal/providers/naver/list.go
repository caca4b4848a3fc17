package naver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/gateway"
)

type listResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Result  struct {
		TotalPage int           `json:"totalPage"`
		Items     []listPayment `json:"items"`
	} `json:"result"`
}

type listPayment struct {
	PayID            string     `json:"payId"`
	ServiceType      string     `json:"serviceType"`
	ProductName      string     `json:"productName"`
	PaidAt           string     `json:"paidAt"`
	Status           statusInfo `json:"status"`
	ThumbnailURL     string     `json:"thumbnailUrl"`
	ProductDetailURL string     `json:"productDetailUrl"`
	OrderDetailURL   string     `json:"orderDetailUrl"`
}

type statusInfo struct {
	Code  string `json:"code"`
	Text  string `json:"text"`
	Color string `json:"color"`
}

// ListPage fetches one history page. The history API ignores the build
// token; it is only needed for detail documents.
func (c *Collector) ListPage(ctx context.Context, page collector.Page, token string) ([]collector.ListItem, error) {
	items, totalPage, err := c.listHistory(ctx, page.Index)
	if err != nil {
		return nil, err
	}
	if !c.totalLogged && totalPage > 0 {
		c.totalLogged = true
		// Informational only; an empty page is the end-of-data signal.
		c.log.Info().Int("total_page", totalPage).Msg("history reports total pages")
	}

	out := make([]collector.ListItem, 0, len(items))
	for _, it := range items {
		out = append(out, collector.ListItem{
			ExternalID:       it.PayID,
			SubType:          it.ServiceType,
			Title:            it.ProductName,
			PaidAt:           parseListTime(it.PaidAt),
			StatusCode:       it.Status.Code,
			StatusText:       it.Status.Text,
			StatusColor:      it.Status.Color,
			ProductDetailURL: it.ProductDetailURL,
			OrderDetailURL:   it.OrderDetailURL,
			ImageURL:         it.ThumbnailURL,
		})
	}
	return out, nil
}

func (c *Collector) listHistory(ctx context.Context, index int) ([]listPayment, int, error) {
	url := fmt.Sprintf("%s/api/payments/history?page=%d&pageSize=%d", baseURL, index, pageSize)
	resp, err := c.gw.Do(ctx, gateway.Request{URL: url, Headers: c.headers})
	if err != nil {
		return nil, 0, err
	}
	if !resp.IsSuccess() {
		return nil, 0, fmt.Errorf("history returned status %d", resp.Status)
	}

	var payload listResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, 0, fmt.Errorf("failed to decode history: %w", err)
	}
	if payload.Code != "Success" {
		return nil, 0, fmt.Errorf("history returned code %q: %s", payload.Code, payload.Message)
	}
	return payload.Result.Items, payload.Result.TotalPage, nil
}

// parseListTime is best-effort: listing timestamps only seed the stub and
// never gate persistence.
func parseListTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
