// Package naver collects Naver Pay purchase history. Listing and detail
// documents come from the payment portal's internal Next.js endpoints;
// details are addressed through a build token scraped out of the page
// shell at run start.
package naver

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
)

const (
	baseURL  = "https://new-m.pay.naver.com"
	pageSize = 20
)

// Collector implements the provider capability set for Naver Pay. One
// Collector serves one run and is not safe for concurrent use.
type Collector struct {
	gw          gateway.Doer
	headers     map[string]string
	log         zerolog.Logger
	totalLogged bool
}

var _ collector.Provider = (*Collector)(nil)

// New creates a Collector replaying the given captured headers.
func New(gw gateway.Doer, headers map[string]string, log zerolog.Logger) *Collector {
	return &Collector{gw: gw, headers: headers, log: log}
}

// ID returns the provider identifier stored on ledger rows.
func (c *Collector) ID() string {
	return domain.ProviderNaver
}

// Partitions returns a single zero: the history listing is one
// continuous page sequence, not split by year.
func (c *Collector) Partitions(now time.Time) []int {
	return []int{0}
}

// StopKey bounds incremental runs by the checkpoint's payment id.
func (c *Collector) StopKey(cp domain.Checkpoint) string {
	return cp.LastExternalID
}
