package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusName(t *testing.T) {
	assert.Equal(t, "INITIATED", StatusName(StatusInitiated))
	assert.Equal(t, "FUNDS_LOCKED", StatusName(StatusFundsLocked))
	assert.Equal(t, "DECLINED", StatusName(StatusDeclined))
	assert.Equal(t, "UNKNOWN", StatusName(999))
}

func TestIsKnownStatus(t *testing.T) {
	for _, code := range []int{100, 106, 110, 150, 200, 250, 300, 305, 310, 315, 350, 400, 800, 900, 910} {
		assert.True(t, IsKnownStatus(code), "code %d", code)
	}
	assert.False(t, IsKnownStatus(0))
	assert.False(t, IsKnownStatus(500))
}

func TestIsTerminal(t *testing.T) {
	terminal := map[int]bool{
		StatusCompleted:     true,
		StatusHeldForReview: true,
		StatusExpired:       true,
	}
	for code := range statusNames {
		assert.Equal(t, terminal[code], IsTerminal(code), StatusName(code))
	}
}

func TestStatusTimestampColumn(t *testing.T) {
	assert.Equal(t, "paid_at", StatusTimestampColumn(StatusFundsLocked))
	assert.Equal(t, "rider_assigned_at", StatusTimestampColumn(StatusRiderAssigned))
	assert.Equal(t, "completed_at", StatusTimestampColumn(StatusCompleted))
	assert.Equal(t, "rerouted_at", StatusTimestampColumn(StatusAltFound))

	// Statuses without a dedicated column only bump status_changed_at.
	assert.Empty(t, StatusTimestampColumn(StatusInitiated))
	assert.Empty(t, StatusTimestampColumn(StatusForceCall))
}
