package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
)

func TestRecordInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCycleStoreWithPool(mock, "cycle_reports")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	report := crawler.NewCycleReport("cycle-1", started)
	report.Mode = "peak"
	report.Duration = 1500 * time.Millisecond
	report.Planned = 30
	report.Fetched = 2400
	report.Unique = 310
	report.Sent = 310
	report.Added = 120
	report.Errors = 2
	report.RateLimited = 3
	report.NoProxy = 1
	report.ChunkFailures = 0
	report.NewCursors[crawler.Asc] = 4
	report.NewCursors[crawler.Desc] = 5
	report.Outcomes[crawler.OutcomeSuccess] = 27

	mock.ExpectExec("INSERT INTO cycle_reports").
		WithArgs(
			"cycle-1",
			"peak",
			started,
			int64(1500),
			30,
			2400,
			310,
			310,
			120,
			2,
			3,
			1,
			0,
			[]byte(`{"Asc":4,"Desc":5}`),
			[]byte(`{"success":27}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Record(context.Background(), report))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCycleStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO cycle_reports").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = store.Record(context.Background(), crawler.NewCycleReport("c", time.Now()))
	require.ErrorContains(t, err, "insert cycle report")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRequiresCycleID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCycleStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.Record(context.Background(), crawler.CycleReport{}))
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCycleStoreWithPool(mock, "history")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS history").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecentScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewCycleStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"cycle_id", "mode", "started_at", "duration_ms", "planned", "fetched", "unique_entries",
		"sent", "added", "errors", "rate_limited", "no_proxy", "chunk_failures",
	}).
		AddRow("c2", "normal", started.Add(time.Minute), int64(2000), 30, 100, 10, 10, 4, 0, 1, 0, 0).
		AddRow("c1", "normal", started, int64(1000), 2, 50, 5, 5, 5, 1, 0, 0, 1)
	mock.ExpectQuery("SELECT cycle_id").WithArgs(5).WillReturnRows(rows)

	got, err := store.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c2", got[0].CycleID)
	require.Equal(t, 2*time.Second, got[0].Duration)
	require.Equal(t, 4, got[0].Added)
	require.Equal(t, 1, got[1].ChunkFailures)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewCycleStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCycleStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewCycleStoreWithPool(mock, "bad-name;drop")
	require.Error(t, err)

	_, err = NewCycleStore(context.Background(), CycleStoreConfig{})
	require.Error(t, err)
}
