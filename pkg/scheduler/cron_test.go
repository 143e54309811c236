package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour, minute int) time.Time {
	// 2025-06-02 is a Monday
	return time.Date(2025, 6, 2, hour, minute, 0, 0, time.UTC)
}

func TestParseCron_Invalid(t *testing.T) {
	tests := []string{
		"",
		"* * * *",
		"* * * * * *",
		"60 * * * *",
		"* 24 * * *",
		"* * 0 * *",
		"* * * 13 *",
		"* * * * 8",
		"*/0 * * * *",
		"5-1 * * * *",
		"a * * * *",
		"1,,2 * * * *",
	}

	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			_, err := ParseCron(expr)
			var cfgErr *domain.ConfigError
			require.Error(t, err)
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestSchedule_Matches(t *testing.T) {
	tests := []struct {
		expr    string
		when    time.Time
		matches bool
	}{
		{"* * * * *", at(3, 17), true},
		{"0 10 * * *", at(10, 0), true},
		{"0 10 * * *", at(9, 59), false},
		{"0 10 * * *", at(10, 0).Add(45 * time.Second), true},
		{"*/15 * * * *", at(4, 45), true},
		{"*/15 * * * *", at(4, 50), false},
		{"0 */2 * * *", at(14, 0), true},
		{"0 */2 * * *", at(13, 0), false},
		{"5/20 * * * *", at(1, 45), true},
		{"5/20 * * * *", at(1, 40), false},
		{"5/1 * * * *", at(1, 59), true},
		{"5/1 * * * *", at(1, 4), false},
		{"5 * * * *", at(1, 6), false},
		{"0 9-17/4 * * *", at(13, 0), true},
		{"0 9-17/4 * * *", at(15, 0), false},
		{"0,30 * * * *", at(8, 30), true},
		{"0 0 * * 1", at(0, 0), true},
		{"0 0 * * 0", at(0, 0), false},
		{"0 0 * * 7", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), true},
		{"0 0 2 6 1", at(0, 0), true},
		// day of month and day of week must both match
		{"0 0 2 * 0", at(0, 0), false},
		{"0 0 3 * 1", at(0, 0), false},
	}

	for _, tc := range tests {
		t.Run(tc.expr+" "+tc.when.Format(time.Kitchen), func(t *testing.T) {
			s, err := ParseCron(tc.expr)
			require.NoError(t, err)
			assert.Equal(t, tc.matches, s.Matches(tc.when))
		})
	}
}

func TestSchedule_Next(t *testing.T) {
	s, err := ParseCron("0 */2 * * *")
	require.NoError(t, err)
	assert.Equal(t, at(12, 0), s.Next(at(10, 0)))
	assert.Equal(t, at(12, 0), s.Next(at(11, 59)))
	assert.Equal(t, 2*time.Hour, s.Interval(at(10, 0)))

	daily, err := ParseCron("0 2 * * *")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 3, 2, 0, 0, 0, time.UTC), daily.Next(at(2, 0)))

	never, err := ParseCron("0 0 30 2 *")
	require.NoError(t, err)
	assert.True(t, never.Next(at(0, 0)).IsZero())
}
