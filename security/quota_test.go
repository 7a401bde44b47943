package security

import (
	"testing"
	"time"

	"github.com/giantswarm/oauth-gateway/storage"
)

func TestConsumeQuota(t *testing.T) {
	now := time.Unix(1700000000, 0)

	tests := []struct {
		name        string
		state       storage.QuotaState
		wantLimited bool
		wantCount   int64
		wantUntil   time.Time
	}{
		{
			name:      "under limit inside window",
			state:     storage.QuotaState{Limit: 5, Count: 2, Until: now.Add(10 * time.Minute)},
			wantCount: 3,
			wantUntil: now.Add(10 * time.Minute),
		},
		{
			name:      "reaching limit exactly is allowed",
			state:     storage.QuotaState{Limit: 5, Count: 4, Until: now.Add(time.Minute)},
			wantCount: 5,
			wantUntil: now.Add(time.Minute),
		},
		{
			name:        "at limit inside window is rejected",
			state:       storage.QuotaState{Limit: 5, Count: 5, Until: now.Add(time.Minute)},
			wantLimited: true,
			wantCount:   5,
			wantUntil:   now.Add(time.Minute),
		},
		{
			name:        "boundary is inclusive",
			state:       storage.QuotaState{Limit: 5, Count: 5, Until: now},
			wantLimited: true,
			wantCount:   5,
			wantUntil:   now,
		},
		{
			name:      "expired window resets",
			state:     storage.QuotaState{Limit: 5, Count: 5, Until: now.Add(-time.Second)},
			wantCount: 1,
			wantUntil: now.Add(QuotaWindow),
		},
		{
			name:      "unset until is treated as now",
			state:     storage.QuotaState{Limit: 5, Count: 0},
			wantCount: 1,
			wantUntil: now,
		},
		{
			name:      "negative until is treated as now",
			state:     storage.QuotaState{Limit: 5, Count: 1, Until: time.Unix(-100, 0)},
			wantCount: 2,
			wantUntil: now,
		},
		{
			name:        "zero limit rejects inside window",
			state:       storage.QuotaState{Limit: 0, Count: 0, Until: now.Add(time.Minute)},
			wantLimited: true,
			wantCount:   0,
			wantUntil:   now.Add(time.Minute),
		},
		{
			name:      "new window admits without checking limit",
			state:     storage.QuotaState{Limit: 0, Count: 7, Until: now.Add(-time.Hour)},
			wantCount: 1,
			wantUntil: now.Add(QuotaWindow),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, limited := ConsumeQuota(tt.state, now)
			if limited != tt.wantLimited {
				t.Errorf("limited = %v, want %v", limited, tt.wantLimited)
			}
			if next.Count != tt.wantCount {
				t.Errorf("Count = %d, want %d", next.Count, tt.wantCount)
			}
			if !next.Until.Equal(tt.wantUntil) {
				t.Errorf("Until = %v, want %v", next.Until, tt.wantUntil)
			}
			if next.Limit != tt.state.Limit {
				t.Errorf("Limit = %d, want %d", next.Limit, tt.state.Limit)
			}
			if !tt.wantLimited && !next.LastRequestAt.Equal(now) {
				t.Errorf("LastRequestAt = %v, want %v", next.LastRequestAt, now)
			}
			if tt.wantLimited && !next.LastRequestAt.Equal(tt.state.LastRequestAt) {
				t.Errorf("LastRequestAt changed on rejection: %v", next.LastRequestAt)
			}
		})
	}
}

func TestConsumeQuota_FillsWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	state := storage.QuotaState{Limit: 3, Until: now.Add(-time.Minute)}

	for i := 1; i <= 3; i++ {
		var limited bool
		state, limited = ConsumeQuota(state, now)
		if limited {
			t.Fatalf("request %d limited, want admitted", i)
		}
		if state.Count != int64(i) {
			t.Fatalf("request %d count = %d, want %d", i, state.Count, i)
		}
	}

	if _, limited := ConsumeQuota(state, now.Add(30*time.Minute)); !limited {
		t.Error("fourth request in window should be limited")
	}

	next, limited := ConsumeQuota(state, now.Add(QuotaWindow+time.Second))
	if limited || next.Count != 1 {
		t.Errorf("request after window = (count %d, limited %v), want (1, false)", next.Count, limited)
	}
}
