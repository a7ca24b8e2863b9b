package errsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/pkg/clock"
)

func ctxWithBuffer() (context.Context, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	l := zerolog.New(buf)
	return l.WithContext(context.Background()), buf
}

func levels(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry["level"].(string))
	}
	return out
}

func TestSink_RecordAndSnapshot(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	s := New(clk)
	ctx := context.Background()

	s.Record(ctx, CategoryValidation, errors.New("bad"))
	s.Record(ctx, CategoryValidation, nil)
	clk.Advance(time.Second)
	s.Record(ctx, CategoryConflict, nil)

	snap := s.Snapshot()
	assert.Equal(t, int64(2), snap[CategoryValidation].Count)
	assert.Equal(t, int64(1), snap[CategoryConflict].Count)
	assert.Equal(t, clk.Now(), snap[CategoryConflict].LastSeen)

	// 快照是副本
	s.Record(ctx, CategoryValidation, nil)
	assert.Equal(t, int64(2), snap[CategoryValidation].Count)

	s.Reset()
	assert.Empty(t, s.Snapshot())
}

func TestSink_IsRateConcerning(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	s := New(clk)
	ctx := context.Background()

	assert.False(t, s.IsRateConcerning(CategoryPayment, 3))
	for i := 0; i < 4; i++ {
		s.Record(ctx, CategoryPayment, nil)
	}
	assert.True(t, s.IsRateConcerning(CategoryPayment, 3))
	assert.False(t, s.IsRateConcerning(CategoryPayment, 4))

	clk.Advance(61 * time.Second)
	assert.False(t, s.IsRateConcerning(CategoryPayment, 3))
}

func TestSink_SecurityEscalation(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	s := New(clk)
	ctx, buf := ctxWithBuffer()

	for i := 0; i < 6; i++ {
		s.Record(ctx, CategorySecurity, errors.New("webhook signature mismatch"))
		clk.Advance(10 * time.Second)
	}
	assert.Equal(t, []string{"warn", "warn", "warn", "warn", "warn", "error"}, levels(t, buf))
	assert.Contains(t, buf.String(), "security alert")
}

func TestSink_SecurityWindowSlides(t *testing.T) {
	clk := clock.NewManual(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC))
	s := New(clk)
	ctx, buf := ctxWithBuffer()

	for i := 0; i < 5; i++ {
		s.Record(ctx, CategorySecurity, nil)
	}
	clk.Advance(6 * time.Minute)
	s.Record(ctx, CategorySecurity, nil)

	lv := levels(t, buf)
	assert.Equal(t, "warn", lv[len(lv)-1])
	assert.Equal(t, int64(6), s.Snapshot()[CategorySecurity].Count)
}

func TestSink_ConcurrentRecord(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Record(context.Background(), CategoryInternal, nil)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), s.Snapshot()[CategoryInternal].Count)
}

func TestSink_Collector(t *testing.T) {
	s := New(nil)
	s.Record(context.Background(), CategoryRateLimit, nil)
	s.Record(context.Background(), CategoryRateLimit, nil)

	expected := `
# HELP storefront_errors_total Errors recorded by category since the last reset.
# TYPE storefront_errors_total counter
storefront_errors_total{category="rate_limit"} 2
`
	assert.NoError(t, testutil.CollectAndCompare(s, strings.NewReader(expected)))
}
