package tenant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		timezone string
		wantErr  bool
		wantLoc  string
	}{
		{name: "utc default", id: "default", timezone: "", wantLoc: "UTC"},
		{name: "named zone", id: "default", timezone: "Asia/Kolkata", wantLoc: "Asia/Kolkata"},
		{name: "missing id", id: "", timezone: "UTC", wantErr: true},
		{name: "bad zone", id: "default", timezone: "Mars/Olympus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc, err := New(tt.id, "Default", "en-US", tt.timezone)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLoc, tc.Location().String())
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoTenant)
}

func TestWithContext_RoundTrip(t *testing.T) {
	tc := Context{ID: "acme", Locale: "de-DE"}
	got, err := FromContext(WithContext(context.Background(), tc))
	require.NoError(t, err)
	assert.Equal(t, tc, got)
}

func TestToday_IsMidnightInTenantZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	tc := Context{ID: "ny", Timezone: loc}

	today := tc.Today()
	assert.Equal(t, loc, today.Location())
	assert.Zero(t, today.Hour())
	assert.Zero(t, today.Minute())
}

// Each task installs its own copy; concurrent tasks never observe each other's tenant.
func TestWithContext_IsolatedAcrossGoroutines(t *testing.T) {
	base := context.Background()
	var wg sync.WaitGroup
	errs := make(chan string, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		id := string(rune('a' + i%26))
		go func() {
			defer wg.Done()
			ctx := WithContext(base, Context{ID: id}.Clone())
			time.Sleep(time.Millisecond)
			got, err := FromContext(ctx)
			if err != nil || got.ID != id {
				errs <- got.ID
			}
		}()
	}
	wg.Wait()
	close(errs)

	for e := range errs {
		t.Errorf("observed foreign tenant %q", e)
	}
	_, err := FromContext(base)
	assert.ErrorIs(t, err, ErrNoTenant)
}
