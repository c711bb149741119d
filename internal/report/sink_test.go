package report

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	r := crawler.NewCycleReport("c-1", time.Now())
	r.Added = 7
	r.NewCursors[crawler.Desc] = 3
	require.NoError(t, sink.Record(context.Background(), r))

	entries := logs.FilterMessage("cycle report").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "c-1", fields["cycle_id"])
	require.EqualValues(t, 7, fields["added"])
	require.EqualValues(t, 3, fields["new_desc"])
}

func TestHistoryKeepsNewest(t *testing.T) {
	t.Parallel()

	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Record(context.Background(), crawler.NewCycleReport(fmt.Sprintf("c%d", i), time.Now())))
	}

	got, err := h.Recent(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c5", "c4", "c3"}, ids(got))

	got, err = h.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c5", "c4"}, ids(got))
}

func TestHistoryEmpty(t *testing.T) {
	t.Parallel()

	got, err := NewHistory(0).Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, got)
}

func ids(reports []crawler.CycleReport) []string {
	out := make([]string, 0, len(reports))
	for _, r := range reports {
		out = append(out, r.CycleID)
	}
	return out
}
