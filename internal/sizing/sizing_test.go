package sizing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lowcap-labs/regime-engine/internal/sizing"
	"github.com/lowcap-labs/regime-engine/pkg/types"
)

func TestEntryMultiplierDefaultsToOneWhenNoMatch(t *testing.T) {
	got := sizing.EntryMultiplier(nil, "pm.uptrend.S1.entry", "entry", "*")
	require.Equal(t, 1.0, got)
}

func TestEntryMultiplierUsesMatchingOverride(t *testing.T) {
	overrides := []types.Override{
		{PatternKey: "pm.uptrend.S1.entry", ActionCategory: "entry", ScopeKey: "chain=sol", Kind: "sizing", Multiplier: 1.5},
		{PatternKey: "pm.uptrend.S1.entry", ActionCategory: "entry", ScopeKey: "*", Kind: "sizing", Multiplier: 1.1},
	}
	got := sizing.EntryMultiplier(overrides, "pm.uptrend.S1.entry", "entry", "chain=sol")
	require.Equal(t, 1.5, got)
}

func TestEntryMultiplierClampsToSizingRange(t *testing.T) {
	overrides := []types.Override{
		{PatternKey: "p", ActionCategory: "entry", ScopeKey: "*", Kind: "sizing", Multiplier: 10.0},
	}
	got := sizing.EntryMultiplier(overrides, "p", "entry", "*")
	require.Equal(t, types.SizingMultiplierMax, got)
}
