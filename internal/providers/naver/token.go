package naver

import (
	"context"
	"fmt"
	"regexp"

	"github.com/minukim/paysync/internal/gateway"
)

// buildManifestPattern locates the Next.js build id inside the payment
// page shell; the same id addresses the /_next/data endpoints.
var buildManifestPattern = regexp.MustCompile(`/_next/static/([A-Za-z0-9_-]+)/_buildManifest\.js`)

// ResolveToken bootstraps the session token: list one page, fetch the
// first payment's document, and extract the build id from its body. The
// id rotates with portal deploys, so it is resolved fresh every run.
func (c *Collector) ResolveToken(ctx context.Context) (string, error) {
	items, _, err := c.listHistory(ctx, 1)
	if err != nil {
		return "", fmt.Errorf("bootstrap listing failed: %w", err)
	}
	if len(items) == 0 {
		return "", fmt.Errorf("bootstrap listing is empty")
	}

	docURL := fmt.Sprintf("%s/payments/%s", baseURL, items[0].PayID)
	resp, err := c.gw.Do(ctx, gateway.Request{URL: docURL, Headers: c.headers})
	if err != nil {
		return "", fmt.Errorf("failed to fetch payment document: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("payment document returned status %d", resp.Status)
	}

	m := buildManifestPattern.FindSubmatch(resp.Body)
	if m == nil {
		return "", fmt.Errorf("build token not found in payment document")
	}
	token := string(m[1])
	c.log.Debug().Str("token", token).Msg("resolved build token")
	return token, nil
}
