package coupang

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/gateway"
)

type fakeDoer struct {
	do func(req gateway.Request) (*gateway.Response, error)
}

func (d *fakeDoer) Do(_ context.Context, req gateway.Request) (*gateway.Response, error) {
	return d.do(req)
}

func newTestCollector(do func(req gateway.Request) (*gateway.Response, error)) *Collector {
	c := New(&fakeDoer{do: do}, map[string]string{"Cookie": "sid=1"}, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC) }
	return c
}

const listYear2025 = `{
  "orders": [
    {
      "orderId": 81001,
      "orderedAt": "2025-11-03 19:22:10",
      "title": "종이컵 1000개",
      "status": "DELIVERED",
      "statusText": "배송완료",
      "representativeImageUrl": "https://img.example/cup.jpg",
      "orderDetailUrl": "https://mc.coupang.com/orders/81001"
    },
    {
      "orderId": 80990,
      "orderedAt": "2025-10-28T09:00:00",
      "title": "물티슈 10팩",
      "status": "ORDERED",
      "statusText": "주문완료"
    }
  ]
}`

const emptyList = `{"orders": []}`

func TestPartitions_DescendingToFloor(t *testing.T) {
	c := newTestCollector(nil)
	years := c.Partitions(time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC))
	if len(years) != 12 {
		t.Fatalf("got %d years, want 12", len(years))
	}
	if years[0] != 2026 {
		t.Errorf("years[0] = %d, want 2026", years[0])
	}
	if years[len(years)-1] != 2015 {
		t.Errorf("last year = %d, want 2015", years[len(years)-1])
	}
	for i := 1; i < len(years); i++ {
		if years[i] != years[i-1]-1 {
			t.Fatalf("years not consecutive descending: %v", years)
		}
	}
}

func TestResolveToken_WalksBackToFirstNonEmptyYear(t *testing.T) {
	const shell = `<html><div id="app" data-deploy-version="v2.143.0"></div></html>`

	var listURLs []string
	var docURL string
	c := newTestCollector(func(req gateway.Request) (*gateway.Response, error) {
		switch {
		case strings.Contains(req.URL, "/ssr/api/myorders"):
			listURLs = append(listURLs, req.URL)
			if strings.Contains(req.URL, "requestYear=2025") {
				return &gateway.Response{Status: 200, Body: []byte(listYear2025)}, nil
			}
			return &gateway.Response{Status: 200, Body: []byte(emptyList)}, nil
		default:
			docURL = req.URL
			return &gateway.Response{Status: 200, Body: []byte(shell)}, nil
		}
	})

	token, err := c.ResolveToken(context.Background())
	if err != nil {
		t.Fatalf("ResolveToken() error = %v", err)
	}
	if token != "v2.143.0" {
		t.Errorf("token = %q, want v2.143.0", token)
	}
	if len(listURLs) != 2 {
		t.Fatalf("listed %d pages, want 2 (2026 empty, then 2025): %v", len(listURLs), listURLs)
	}
	if !strings.Contains(listURLs[0], "requestYear=2026") {
		t.Errorf("first bootstrap listing = %q, want current year", listURLs[0])
	}
	if strings.Contains(listURLs[0], "&v=") {
		t.Errorf("bootstrap listing should be token-free, got %q", listURLs[0])
	}
	if docURL != "https://mc.coupang.com/ssr/desktop/order/details/81001" {
		t.Errorf("document fetched from %q, want the first listed order", docURL)
	}
}

func TestResolveToken_GivesUpAfterConsecutiveEmptyYears(t *testing.T) {
	var listCalls int
	c := newTestCollector(func(req gateway.Request) (*gateway.Response, error) {
		listCalls++
		return &gateway.Response{Status: 200, Body: []byte(emptyList)}, nil
	})

	_, err := c.ResolveToken(context.Background())
	if err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("error = %v, want empty-bootstrap error", err)
	}
	if listCalls != 3 {
		t.Errorf("listed %d years, want 3", listCalls)
	}
}

func TestResolveToken_Failures(t *testing.T) {
	tests := []struct {
		name    string
		do      func(req gateway.Request) (*gateway.Response, error)
		wantMsg string
	}{
		{
			name: "listing non-2xx",
			do: func(req gateway.Request) (*gateway.Response, error) {
				return &gateway.Response{Status: 500, Body: []byte("oops")}, nil
			},
			wantMsg: "bootstrap listing failed for 2026",
		},
		{
			name: "document fetch non-2xx",
			do: func(req gateway.Request) (*gateway.Response, error) {
				if strings.Contains(req.URL, "/ssr/api/myorders") {
					return &gateway.Response{Status: 200, Body: []byte(listYear2025)}, nil
				}
				return &gateway.Response{Status: 403, Body: []byte("denied")}, nil
			},
			wantMsg: "status 403",
		},
		{
			name: "pattern absent",
			do: func(req gateway.Request) (*gateway.Response, error) {
				if strings.Contains(req.URL, "/ssr/api/myorders") {
					return &gateway.Response{Status: 200, Body: []byte(listYear2025)}, nil
				}
				return &gateway.Response{Status: 200, Body: []byte("<html>bare</html>")}, nil
			},
			wantMsg: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(tt.do)
			_, err := c.ResolveToken(context.Background())
			if err == nil {
				t.Fatal("ResolveToken() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantMsg)
			}
		})
	}
}

func TestListPage(t *testing.T) {
	var listedURL string
	c := newTestCollector(func(req gateway.Request) (*gateway.Response, error) {
		listedURL = req.URL
		return &gateway.Response{Status: 200, Body: []byte(listYear2025)}, nil
	})

	items, err := c.ListPage(context.Background(), collector.Page{Year: 2025, Index: 4}, "v2.143.0")
	if err != nil {
		t.Fatalf("ListPage() error = %v", err)
	}
	for _, want := range []string{"requestYear=2025", "pageIndex=4", "size=10", "v=v2.143.0"} {
		if !strings.Contains(listedURL, want) {
			t.Errorf("listed URL %q missing %q", listedURL, want)
		}
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}

	first := items[0]
	if first.ExternalID != "81001" {
		t.Errorf("ExternalID = %q, want decimal order id", first.ExternalID)
	}
	if first.Title != "종이컵 1000개" {
		t.Errorf("Title = %q", first.Title)
	}
	if first.StatusCode != "DELIVERED" || first.StatusText != "배송완료" {
		t.Errorf("status = %q / %q", first.StatusCode, first.StatusText)
	}
	if first.OrderDetailURL != "https://mc.coupang.com/orders/81001" {
		t.Errorf("OrderDetailURL = %q", first.OrderDetailURL)
	}
	if first.PaidAt.IsZero() {
		t.Error("orderedAt not parsed")
	}
	if items[1].PaidAt.IsZero() {
		t.Error("ISO-style orderedAt not parsed")
	}
}

func TestListPage_Failures(t *testing.T) {
	tests := []struct {
		name string
		resp *gateway.Response
	}{
		{"http error status", &gateway.Response{Status: 500, Body: []byte("oops")}},
		{"malformed body", &gateway.Response{Status: 200, Body: []byte("<html>login</html>")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCollector(func(req gateway.Request) (*gateway.Response, error) {
				return tt.resp, nil
			})
			if _, err := c.ListPage(context.Background(), collector.Page{Year: 2025, Index: 1}, "tok"); err == nil {
				t.Error("ListPage() error = nil, want error")
			}
		})
	}
}
