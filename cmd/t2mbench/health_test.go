package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text2mem/internal/provider"
)

type unhealthyProvider struct{ err error }

func (p *unhealthyProvider) HealthCheck(context.Context) error { return p.err }

func TestCheckProviderHealthReportsFailure(t *testing.T) {
	p := &unhealthyProvider{err: errors.New("connection refused")}
	err := checkProviderHealth(context.Background(), "generation", p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generation provider health check")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCheckProviderHealthPassesHealthy(t *testing.T) {
	p := &unhealthyProvider{}
	assert.NoError(t, checkProviderHealth(context.Background(), "embedding", p))
}

func TestCheckProviderHealthSkipsProvidersWithoutEndpoint(t *testing.T) {
	// the mock backends expose no health endpoint and must pass trivially
	assert.NoError(t, checkProviderHealth(context.Background(), "embedding", provider.NewMockEmbedding()))
	assert.NoError(t, checkProviderHealth(context.Background(), "generation", provider.NewMockGeneration()))
}
