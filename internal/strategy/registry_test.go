package strategy

import (
	"testing"

	"multistrat/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "momo", Currency: "USD"}))
	require.NoError(t, r.Register(Spec{Name: "pairs", Currency: "EUR"}))

	s, ok := r.Lookup("pairs")
	require.True(t, ok)
	assert.Equal(t, "EUR", s.Currency)

	_, ok = r.Lookup("ghost")
	assert.False(t, ok)
	assert.Equal(t, []string{"momo", "pairs"}, r.Names())
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Spec{Name: "momo", Currency: "USD"}))
	require.Error(t, r.Register(Spec{Name: "momo", Currency: "USD"}))
}

func TestRegistryRejectsEmptyAndReservedNames(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(Spec{Currency: "USD"}))
	require.Error(t, r.Register(Spec{Name: schema.StrategyUnattributed, Currency: "USD"}))
}
