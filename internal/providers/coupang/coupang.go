// Package coupang collects order history from the Coupang marketplace.
// Listings are partitioned by order year and walked newest first; detail
// documents come from the SSR order API, addressed by a deploy version
// scraped off an order page.
package coupang

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
)

const (
	baseURL  = "https://mc.coupang.com"
	pageSize = 10

	// yearFloor is the oldest order year the marketplace still serves.
	yearFloor = 2015
)

// Collector implements collector.Provider for Coupang.
type Collector struct {
	gw      gateway.Doer
	headers map[string]string
	log     zerolog.Logger
	now     func() time.Time
}

var _ collector.Provider = (*Collector)(nil)

// New returns a collector that authenticates every request with the given
// captured headers.
func New(gw gateway.Doer, headers map[string]string, log zerolog.Logger) *Collector {
	return &Collector{gw: gw, headers: headers, log: log, now: time.Now}
}

// ID returns the provider identifier stored on ledger rows.
func (c *Collector) ID() string { return domain.ProviderCoupang }

// Partitions returns order years newest first, down to the service floor.
func (c *Collector) Partitions(now time.Time) []int {
	years := make([]int, 0, now.Year()-yearFloor+1)
	for year := now.Year(); year >= yearFloor; year-- {
		years = append(years, year)
	}
	return years
}

// StopKey is the order id of the newest collected order.
func (c *Collector) StopKey(cp domain.Checkpoint) string { return cp.LastExternalID }

// Order timestamps appear in a few shapes depending on the page age.
var orderTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

func parseOrderTime(s string) (time.Time, error) {
	for _, layout := range orderTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized order time %q", s)
}
