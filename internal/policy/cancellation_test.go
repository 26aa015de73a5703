package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateCancellation_HeavyServiceWidensWindows(t *testing.T) {
	snap := EvaluateCancellation(CancellationInputs{ServiceType: "deep"})
	assert.Equal(t, 72.0, snap.FreeCancelCutoffHours)
	assert.Equal(t, 48.0, snap.PartialWindowStartHours)
}

func TestEvaluateCancellation_StandardServiceDefaultWindows(t *testing.T) {
	snap := EvaluateCancellation(CancellationInputs{ServiceType: "standard"})
	assert.Equal(t, 48.0, snap.FreeCancelCutoffHours)
	assert.Equal(t, 24.0, snap.PartialWindowStartHours)
}

func TestEvaluateCancellation_ReductionIsMinNotSum(t *testing.T) {
	// first-time(40) and short-notice(25) both apply; the result is the
	// minimum of the two targets (25), not 50-40-25 (which would be
	// negative before flooring) and not 50-25 either.
	snap := EvaluateCancellation(CancellationInputs{
		ServiceType:     "standard",
		FirstTimeClient: true,
		ShortNotice:     true,
	})
	partial := findWindow(t, snap, "partial")
	assert.Equal(t, 25, partial.RefundPercent)
}

func TestEvaluateCancellation_SingleRuleIsMinNotSubtraction(t *testing.T) {
	// Only first-time-client applies: the refund is min(50, 40) = 40, not
	// 50-40 = 10. This is the case the above test's coincidental 25 masks.
	snap := EvaluateCancellation(CancellationInputs{
		ServiceType:     "standard",
		FirstTimeClient: true,
	})
	partial := findWindow(t, snap, "partial")
	assert.Equal(t, 40, partial.RefundPercent)
}

func TestEvaluateCancellation_NoTriggersKeepsFiftyPercent(t *testing.T) {
	snap := EvaluateCancellation(CancellationInputs{ServiceType: "standard"})
	partial := findWindow(t, snap, "partial")
	assert.Equal(t, 50, partial.RefundPercent)
	free := findWindow(t, snap, "free")
	assert.Equal(t, 100, free.RefundPercent)
	late := findWindow(t, snap, "late")
	assert.Equal(t, 0, late.RefundPercent)
}

func findWindow(t *testing.T, snap CancellationSnapshot, name string) CancellationWindow {
	t.Helper()
	for _, w := range snap.Windows {
		if w.Name == name {
			return w
		}
	}
	require.Failf(t, "window not found", "missing window %q", name)
	return CancellationWindow{}
}
