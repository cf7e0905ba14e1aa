package learning_test

import (
	"testing"
	"time"

	"github.com/lowcap-labs/regime-engine/internal/learning"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/stretchr/testify/require"
)

func mkTrade(id string, rr float64, closedAt time.Time, scope map[string]string) types.TradeEvent {
	return types.TradeEvent{
		TradeID:        id,
		PatternKey:     "pm.uptrend.S1.entry",
		ActionCategory: "entry",
		ClosedAt:       closedAt,
		RR:             rr,
		Scope:          scope,
	}
}

func TestMineSkipsGroupsBelowNMin(t *testing.T) {
	now := time.Now()
	var events []types.TradeEvent
	for i := 0; i < 10; i++ {
		events = append(events, mkTrade(string(rune('a'+i)), 1.0, now, map[string]string{"chain": "sol"}))
	}
	lessons := learning.Mine(events, now)
	require.Empty(t, lessons, "below N_MIN=33 distinct trades, no lesson should be emitted")
}

func TestMineEmitsRootLessonAtNMin(t *testing.T) {
	now := time.Now()
	var events []types.TradeEvent
	for i := 0; i < 40; i++ {
		events = append(events, mkTrade(
			itoa(i), 1.5, now.Add(time.Duration(i)*time.Hour), map[string]string{"chain": "sol"}))
	}
	lessons := learning.Mine(events, now)
	require.NotEmpty(t, lessons)

	var root *types.Lesson
	for i := range lessons {
		if lessons[i].ScopeKey == "*" {
			root = &lessons[i]
		}
	}
	require.NotNil(t, root, "expected an empty-scope root lesson")
	require.Equal(t, 40, root.TradeCount)
	require.InDelta(t, 1.5, root.MeanRR, 1e-9)
	require.Equal(t, types.LessonPMStrength, root.LessonType)
}

func TestMineRecursesIntoFrequentScopeValue(t *testing.T) {
	now := time.Now()
	var events []types.TradeEvent
	for i := 0; i < 35; i++ {
		events = append(events, mkTrade(itoa(i), 2.0, now.Add(time.Duration(i)*time.Hour), map[string]string{"chain": "sol"}))
	}
	for i := 0; i < 10; i++ {
		events = append(events, mkTrade(itoa(100+i), 0.2, now.Add(time.Duration(i)*time.Hour), map[string]string{"chain": "eth"}))
	}
	lessons := learning.Mine(events, now)

	found := false
	for _, l := range lessons {
		if l.ScopeSubset["chain"] == "sol" {
			found = true
			require.Equal(t, 35, l.TradeCount)
		}
	}
	require.True(t, found, "chain=sol clears N_MIN within the group and should be mined")

	for _, l := range lessons {
		require.NotEqual(t, "eth", l.ScopeSubset["chain"], "chain=eth has only 10 trades, below N_MIN")
	}
}

func itoa(i int) string {
	digits := "0123456789"
	if i == 0 {
		return "0"
	}
	var b []byte
	for i > 0 {
		b = append([]byte{digits[i%10]}, b...)
		i /= 10
	}
	return string(b)
}
