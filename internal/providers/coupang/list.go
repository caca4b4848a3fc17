package coupang

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/gateway"
)

type listResponse struct {
	Orders []listOrder `json:"orders"`
}

type listOrder struct {
	OrderID        int64  `json:"orderId"`
	OrderedAt      string `json:"orderedAt"`
	Title          string `json:"title"`
	StatusCode     string `json:"status"`
	StatusText     string `json:"statusText"`
	ImageURL       string `json:"representativeImageUrl"`
	OrderDetailURL string `json:"orderDetailUrl"`
}

// ListPage fetches one listing page of the page's year partition, newest
// first in the marketplace's native order.
func (c *Collector) ListPage(ctx context.Context, page collector.Page, token string) ([]collector.ListItem, error) {
	orders, err := c.listYear(ctx, page.Year, page.Index, token)
	if err != nil {
		return nil, err
	}
	items := make([]collector.ListItem, 0, len(orders))
	for _, order := range orders {
		// A stub timestamp that fails to parse stays zero; the detail
		// payload is the authoritative source.
		orderedAt, _ := parseOrderTime(order.OrderedAt)
		items = append(items, collector.ListItem{
			ExternalID:     strconv.FormatInt(order.OrderID, 10),
			Title:          order.Title,
			PaidAt:         orderedAt,
			StatusCode:     order.StatusCode,
			StatusText:     order.StatusText,
			ImageURL:       order.ImageURL,
			OrderDetailURL: order.OrderDetailURL,
		})
	}
	return items, nil
}

func (c *Collector) listYear(ctx context.Context, year, index int, token string) ([]listOrder, error) {
	listURL := fmt.Sprintf("%s/ssr/api/myorders?requestYear=%d&pageIndex=%d&size=%d", baseURL, year, index, pageSize)
	if token != "" {
		listURL += "&v=" + url.QueryEscape(token)
	}
	resp, err := c.gw.Do(ctx, gateway.Request{URL: listURL, Headers: c.headers})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("listing returned status %d", resp.Status)
	}
	var payload listResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode listing: %w", err)
	}
	return payload.Orders, nil
}
