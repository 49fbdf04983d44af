// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Codelens Contributors

package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codelens-dev/codelens/internal/backend"
	"github.com/codelens-dev/codelens/internal/backend/anthropic"
	"github.com/codelens-dev/codelens/internal/backend/factory"
	"github.com/codelens-dev/codelens/internal/backend/local"
	"github.com/codelens-dev/codelens/internal/backend/openai"
)

func TestNewDispatchesByVariant(t *testing.T) {
	t.Run("local", func(t *testing.T) {
		b, err := factory.New("mine", backend.Config{
			Timeout: time.Second,
			Variant: backend.VariantLocal,
			Local:   &backend.LocalConfig{ModelName: "codellama", Command: []string{"runner"}},
		})
		require.NoError(t, err)
		assert.IsType(t, (*local.Backend)(nil), b)
		assert.Equal(t, "mine", b.Name())
	})

	t.Run("external defaults to openai", func(t *testing.T) {
		b, err := factory.New("ext", backend.Config{
			Timeout:  time.Second,
			Variant:  backend.VariantExternal,
			External: &backend.ExternalConfig{APIKey: "k", Model: "gpt-4o-mini"},
		})
		require.NoError(t, err)
		assert.IsType(t, (*openai.Backend)(nil), b)
	})

	t.Run("external openai explicit", func(t *testing.T) {
		b, err := factory.New("ext", backend.Config{
			Timeout:  time.Second,
			Variant:  backend.VariantExternal,
			External: &backend.ExternalConfig{Provider: backend.ExternalProviderOpenAI, APIKey: "k", Model: "gpt-4o-mini"},
		})
		require.NoError(t, err)
		assert.IsType(t, (*openai.Backend)(nil), b)
	})

	t.Run("external anthropic", func(t *testing.T) {
		b, err := factory.New("ext", backend.Config{
			Timeout:  time.Second,
			Variant:  backend.VariantExternal,
			External: &backend.ExternalConfig{Provider: backend.ExternalProviderAnthropic, APIKey: "k", Model: "claude-haiku-4-5"},
		})
		require.NoError(t, err)
		assert.IsType(t, (*anthropic.Backend)(nil), b)
	})
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := factory.New("bad", backend.Config{Variant: "grpc"})
	require.Error(t, err)

	kind, ok := backend.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, backend.KindConfiguration, kind)
}

func TestNewUnvalidatedBackendIsUnavailable(t *testing.T) {
	b, err := factory.New("mine", backend.Config{
		Timeout: time.Second,
		Variant: backend.VariantLocal,
		Local:   &backend.LocalConfig{ModelName: "codellama", Command: []string{"runner"}},
	})
	require.NoError(t, err)
	assert.False(t, b.Available())
}
