package main

import (
	"context"
	"fmt"

	"text2mem/internal/provider"
)

// checkProviderHealth probes a provider before a batch run so a down
// backend fails fast instead of erroring mid-pipeline. Providers without a
// health endpoint pass trivially.
func checkProviderHealth(ctx context.Context, role string, p any) error {
	hc, ok := p.(provider.HealthChecker)
	if !ok {
		return nil
	}
	if err := hc.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%s provider health check: %w", role, err)
	}
	return nil
}
