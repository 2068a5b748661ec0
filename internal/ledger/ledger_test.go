package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDay(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}

	tests := []struct {
		name string
		in   time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "utc midday",
			in:   time.Date(2024, 3, 10, 12, 30, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "utc instant still previous day in new york",
			in:   time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC),
			loc:  ny,
			want: time.Date(2024, 3, 9, 0, 0, 0, 0, ny),
		},
		{
			name: "nil location falls back to utc",
			in:   time.Date(2024, 3, 10, 23, 59, 59, 0, time.UTC),
			loc:  nil,
			want: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(Day(tt.in, tt.loc)), "got %v", Day(tt.in, tt.loc))
		})
	}
}

func TestWindowBoundaries(t *testing.T) {
	day := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), MonthStart(day))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), NextDay(day))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), NextMonth(day))
}

func TestDateValue_KeepsCalendarDay(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, tokyo)

	got := dateValue(day)

	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), got)
}
