package coupang

import (
	"context"
	"fmt"
	"regexp"

	"github.com/minukim/paysync/internal/gateway"
)

// deployPattern matches the deploy version embedded in SSR order pages.
var deployPattern = regexp.MustCompile(`data-deploy-version="([^"]+)"`)

// bootstrapEmptyYears bounds the token bootstrap's backward walk, matching
// the runner's consecutive-empty-year halt.
const bootstrapEmptyYears = 3

// ResolveToken finds a recent order and scrapes the deploy version off its
// order page. Detail requests carry the version as deployVersion; it rotates
// with marketplace deploys, so it is resolved fresh every run.
func (c *Collector) ResolveToken(ctx context.Context) (string, error) {
	var first *listOrder
	emptyYears := 0
	for _, year := range c.Partitions(c.now()) {
		orders, err := c.listYear(ctx, year, 1, "")
		if err != nil {
			return "", fmt.Errorf("bootstrap listing failed for %d: %w", year, err)
		}
		if len(orders) > 0 {
			first = &orders[0]
			break
		}
		emptyYears++
		if emptyYears >= bootstrapEmptyYears {
			break
		}
	}
	if first == nil {
		return "", fmt.Errorf("bootstrap listing is empty")
	}

	docURL := fmt.Sprintf("%s/ssr/desktop/order/details/%d", baseURL, first.OrderID)
	resp, err := c.gw.Do(ctx, gateway.Request{URL: docURL, Headers: c.headers})
	if err != nil {
		return "", fmt.Errorf("failed to fetch order document: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("order document returned status %d", resp.Status)
	}
	m := deployPattern.FindSubmatch(resp.Body)
	if m == nil {
		return "", fmt.Errorf("deploy version not found in order document")
	}
	token := string(m[1])
	c.log.Debug().Str("token", token).Msg("resolved deploy version")
	return token, nil
}
