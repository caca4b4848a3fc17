// Package providers assembles the per-service collectors behind the
// shared provider interface.
package providers

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/minukim/paysync/internal/collector"
	"github.com/minukim/paysync/internal/domain"
	"github.com/minukim/paysync/internal/gateway"
	"github.com/minukim/paysync/internal/providers/coupang"
	"github.com/minukim/paysync/internal/providers/naver"
)

// New builds a fresh provider for one run. Providers are stateful and
// must not be shared between runs.
func New(providerID string, gw gateway.Doer, headers map[string]string, log zerolog.Logger) (collector.Provider, error) {
	switch providerID {
	case domain.ProviderNaver:
		return naver.New(gw, headers, log), nil
	case domain.ProviderCoupang:
		return coupang.New(gw, headers, log), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", providerID)
	}
}
