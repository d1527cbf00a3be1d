package service_test

import (
	"testing"
	"time"

	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/stretchr/testify/assert"
)

func TestClassifyUrgency(t *testing.T) {
	tests := []struct {
		name      string
		daysUntil int
		want      string
	}{
		{"already expired", -3, repository.UrgencyCritical},
		{"expires today", 0, repository.UrgencyCritical},
		{"within a week", 7, repository.UrgencyCritical},
		{"just past the critical horizon", 8, repository.UrgencyHigh},
		{"within a month", 30, repository.UrgencyHigh},
		{"within a quarter", 31, repository.UrgencyMedium},
		{"far out", 90, repository.UrgencyMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.ClassifyUrgency(tt.daysUntil))
		})
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	now := time.Date(2026, 6, 15, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, 0, service.DaysUntilExpiry(time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 10, service.DaysUntilExpiry(time.Date(2026, 6, 25, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, -2, service.DaysUntilExpiry(time.Date(2026, 6, 13, 0, 0, 0, 0, time.UTC), now))

	// Time of day on either side never shifts the day count.
	assert.Equal(t, 1, service.DaysUntilExpiry(time.Date(2026, 6, 16, 23, 59, 0, 0, time.UTC), now))
}
