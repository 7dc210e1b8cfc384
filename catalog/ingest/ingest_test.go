package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/datacat/am"
	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/catalog/store"
	"github.com/teranos/datacat/catalog/tasks"
	"github.com/teranos/datacat/db"
	"github.com/teranos/datacat/errors"
	"github.com/teranos/datacat/internal/httpclient"
	datacattest "github.com/teranos/datacat/internal/testing"
	"github.com/teranos/datacat/internal/util"
	"github.com/teranos/datacat/pulse/async"
)

// ============================================================================
// Warehouse Test Universe
// ============================================================================
//
// Characters:
//   - Forklift: carries source files from the loading dock into tables
//   - Clerk: keeps the ledger of what was shelved and what was thrown out
// ============================================================================

const potholes = "Creation Date,Status,Street Address,Latitude,Longitude\n" +
	"2024-01-02,Open,100 N State St,41.88,-87.62\n" +
	"2024-01-03,Completed,200 W Lake St,41.88,-87.63\n" +
	"2024-01-04,Open,300 S Clark St,41.87,-87.63\n"

type recordingEmitter struct {
	mu     sync.Mutex
	stages []string
	rows   int
}

func (e *recordingEmitter) EmitStage(stage, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stages = append(e.stages, stage)
}
func (e *recordingEmitter) EmitTotal(int) {}
func (e *recordingEmitter) EmitRows(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rows += n
}
func (e *recordingEmitter) EmitError(string, error) {}

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string]string
}

func (a *memoryArchive) Put(_ context.Context, object, localPath string) (string, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = map[string]string{}
	}
	a.objects[object] = string(data)
	return "memory/" + object, nil
}

func (a *memoryArchive) Remove(_ context.Context, object string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.objects, object)
	return nil
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func countRows(t *testing.T, conn *db.Conn, table string) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM "+db.QuoteIdent(table)).Scan(&n))
	return n
}

func tableExists(t *testing.T, conn *db.Conn, table string) bool {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n))
	return n == 1
}

func testClient() *httpclient.SaferClient {
	return httpclient.NewSaferClientWithOptions(5*time.Second, httpclient.SaferClientOptions{
		BlockPrivateIP: util.Ptr(false),
	})
}

func TestForkliftLoadsAndReplacesTable(t *testing.T) {
	ctx := context.Background()
	conn := datacattest.CreateTestDB(t)
	loader := NewLoader(conn, 2, zaptest.NewLogger(t).Sugar())

	emitter := &recordingEmitter{}
	res, err := loader.Load(ctx, "dataset_potholes", writeCSV(t, potholes), emitter)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Rows)
	assert.Equal(t, []string{"creation_date", "status", "street_address", "latitude", "longitude"}, res.Columns)
	assert.Equal(t, 3, countRows(t, conn, "dataset_potholes"))
	assert.Equal(t, 3, emitter.rows)
	assert.Contains(t, emitter.stages, "load")

	var status string
	require.NoError(t, conn.QueryRow(`SELECT "status" FROM "dataset_potholes" WHERE "street_address" = ?`,
		"200 W Lake St").Scan(&status))
	assert.Equal(t, "Completed", status)

	// A reload replaces rows rather than appending
	res, err = loader.Load(ctx, "dataset_potholes", writeCSV(t, "Creation Date,Status\n2024-02-01,Open\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Rows)
	assert.Equal(t, 1, countRows(t, conn, "dataset_potholes"))

	cols, rows, err := store.NewStore(conn, nil).DescribeTable(ctx, "dataset_potholes")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)
	require.Len(t, cols, 2)
	assert.Equal(t, "creation_date", cols[0].Name)
}

func TestForkliftHandlesRaggedAndBlankRows(t *testing.T) {
	ctx := context.Background()
	conn := datacattest.CreateTestDB(t)
	loader := NewLoader(conn, 0, zaptest.NewLogger(t).Sugar())

	body := "a,b,c\n1,2\n,,\n4,5,6,7\n"
	res, err := loader.Load(ctx, "dataset_ragged", writeCSV(t, body), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Rows, "blank rows are skipped")

	var c *string
	require.NoError(t, conn.QueryRow(`SELECT "c" FROM "dataset_ragged" WHERE "a" = '1'`).Scan(&c))
	assert.Nil(t, c, "short rows are padded with NULL")
}

func TestForkliftRejectsEmptySource(t *testing.T) {
	conn := datacattest.CreateTestDB(t)
	loader := NewLoader(conn, 0, zaptest.NewLogger(t).Sugar())

	_, err := loader.Load(context.Background(), "dataset_empty", writeCSV(t, ""), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, async.ErrPermanent))
	assert.False(t, tableExists(t, conn, "dataset_empty"))
}

func TestForkliftKeepsPreviousContentsOnCancel(t *testing.T) {
	conn := datacattest.CreateTestDB(t)
	loader := NewLoader(conn, 1, zaptest.NewLogger(t).Sugar())

	_, err := loader.Load(context.Background(), "dataset_potholes", writeCSV(t, potholes), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = loader.Load(ctx, "dataset_potholes", writeCSV(t, "x\n1\n2\n"), nil)
	require.Error(t, err)
	assert.Equal(t, 3, countRows(t, conn, "dataset_potholes"))
}

func TestBatchRowsStaysUnderBindLimit(t *testing.T) {
	l := NewLoader(nil, 1000, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, 1000, l.batchRows(10))
	assert.Equal(t, maxBindVars/100, l.batchRows(100))
	assert.Equal(t, 1, l.batchRows(maxBindVars*2))
}

func TestFetcherDownloadsSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/potholes.csv" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(potholes))
	}))
	defer srv.Close()

	staging := t.TempDir()
	f := NewFetcher(testClient(), staging, 5*time.Second, zaptest.NewLogger(t).Sugar())

	staged, err := f.Fetch(context.Background(), srv.URL+"/potholes.csv", "potholes")
	require.NoError(t, err)
	data, err := os.ReadFile(staged.Path)
	require.NoError(t, err)
	assert.Equal(t, potholes, string(data))
	assert.Equal(t, int64(len(potholes)), staged.Bytes)

	staged.Cleanup()
	entries, err := os.ReadDir(staging)
	require.NoError(t, err)
	assert.Empty(t, entries, "cleanup removes the staging directory")

	_, err = f.Fetch(context.Background(), srv.URL+"/missing.csv", "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, async.ErrPermanent), "404 is not retried: %v", err)

	_, err = f.Fetch(context.Background(), "ftp://example.com/file.csv", "ftp")
	require.Error(t, err)
	assert.True(t, errors.Is(err, async.ErrPermanent))
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(testClient(), t.TempDir(), 0, zaptest.NewLogger(t).Sugar())
	_, err := f.Fetch(context.Background(), srv.URL+"/busy.csv", "busy")
	require.Error(t, err)
	assert.False(t, errors.Is(err, async.ErrPermanent))
}

func TestObjectName(t *testing.T) {
	rec := &meta.Record{Key: "abc123", DatasetName: "potholes"}
	assert.Equal(t, "sources/potholes/abc123", ObjectName(rec))
}

func TestNewArchive(t *testing.T) {
	log := zaptest.NewLogger(t).Sugar()

	a, err := NewArchive(am.StorageConfig{}, log)
	require.NoError(t, err)
	assert.IsType(t, NopArchive{}, a)

	_, err = NewArchive(am.StorageConfig{Enabled: true, Bucket: "b"}, log)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.NotEmpty(t, errors.FlattenHints(err))

	_, err = NewArchive(am.StorageConfig{Enabled: true, Endpoint: "localhost:9000"}, log)
	require.Error(t, err)

	a, err = NewArchive(am.StorageConfig{Enabled: true, Endpoint: "localhost:9000", Bucket: "b", Region: "us-east-1"}, log)
	require.NoError(t, err)
	assert.IsType(t, &ObjectArchive{}, a)
}

type warehouse struct {
	conn       *db.Conn
	records    *store.Store
	dispatcher *tasks.Dispatcher
	pool       *async.WorkerPool
	archive    *memoryArchive
}

func newWarehouse(t *testing.T) *warehouse {
	conn := datacattest.CreateTestDB(t)
	log := zaptest.NewLogger(t).Sugar()

	pool := async.NewWorkerPool(conn, async.WorkerPoolConfig{
		Workers:      1,
		PollInterval: 10 * time.Millisecond,
		MaxRetries:   0,
	}, log)
	records := store.NewStore(conn, log)
	archive := &memoryArchive{}

	RegisterHandlers(pool.Registry(), Deps{
		Records: records,
		Queue:   pool.GetQueue(),
		Fetcher: NewFetcher(testClient(), t.TempDir(), 5*time.Second, log),
		Loader:  NewLoader(conn, 2, log),
		Archive: archive,
		Logger:  log,
	})

	return &warehouse{
		conn:       conn,
		records:    records,
		dispatcher: tasks.NewDispatcher(pool.GetQueue(), records, log),
		pool:       pool,
		archive:    archive,
	}
}

func (w *warehouse) insert(t *testing.T, url string) *meta.Record {
	rec := &meta.Record{
		Key:            meta.Fingerprint(url),
		SourceURL:      url,
		SubmittedURL:   url,
		DatasetName:    "potholes",
		HumanName:      "Potholes",
		ApprovedStatus: meta.StatusApproved,
		DateAdded:      time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, w.records.Insert(context.Background(), rec))
	return rec
}

func (w *warehouse) run(t *testing.T, kind meta.TaskKind, rec *meta.Record) *async.Job {
	t.Helper()
	ctx := context.Background()
	handle, err := w.dispatcher.Dispatch(ctx, kind, rec)
	require.NoError(t, err)
	_, err = w.pool.RunPending(ctx)
	require.NoError(t, err)
	job, err := w.pool.GetQueue().GetJob(ctx, handle.JobID)
	require.NoError(t, err)
	return job
}

func TestClerkAddUpdateDelete(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(potholes))
	}))
	defer srv.Close()

	wh := newWarehouse(t)
	rec := wh.insert(t, srv.URL+"/potholes.csv")

	job := wh.run(t, meta.TaskAdd, rec)
	require.Equal(t, async.JobStatusCompleted, job.Status, "error: %s", job.Error)
	assert.Equal(t, 3, job.Progress.Current)
	assert.Equal(t, 3, countRows(t, wh.conn, "dataset_potholes"))
	assert.Equal(t, potholes, wh.archive.objects[ObjectName(rec)])

	loaded, err := wh.records.Get(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, loaded.LastUpdate)
	assert.True(t, loaded.DateAdded.Equal(*loaded.LastUpdate), "first load resets date_added")

	job = wh.run(t, meta.TaskUpdate, loaded)
	require.Equal(t, async.JobStatusCompleted, job.Status, "error: %s", job.Error)
	assert.Equal(t, 3, countRows(t, wh.conn, "dataset_potholes"), "update replaces rows")

	job = wh.run(t, meta.TaskDelete, loaded)
	require.Equal(t, async.JobStatusCompleted, job.Status, "error: %s", job.Error)
	assert.False(t, tableExists(t, wh.conn, "dataset_potholes"))
	assert.Empty(t, wh.archive.objects)

	_, err = wh.records.Get(ctx, rec.Key)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestClerkFailsLoadForMissingSource(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	wh := newWarehouse(t)
	rec := wh.insert(t, srv.URL+"/gone.csv")

	job := wh.run(t, meta.TaskAdd, rec)
	assert.Equal(t, async.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "404")
	assert.NotEmpty(t, job.Trace)

	loaded, err := wh.records.Get(context.Background(), rec.Key)
	require.NoError(t, err)
	assert.Nil(t, loaded.LastUpdate)
}

func TestClerkFailsLoadForDeletedRecord(t *testing.T) {
	ctx := context.Background()
	wh := newWarehouse(t)
	rec := wh.insert(t, "https://example.com/potholes.csv")

	handle, err := wh.dispatcher.Dispatch(ctx, meta.TaskUpdate, rec)
	require.NoError(t, err)
	require.NoError(t, wh.records.Delete(ctx, rec.Key))

	_, err = wh.pool.RunPending(ctx)
	require.NoError(t, err)
	job, err := wh.pool.GetQueue().GetJob(ctx, handle.JobID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "record removed")
}

func TestClerkDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	wh := newWarehouse(t)
	rec := wh.insert(t, "https://example.com/never-loaded.csv")

	job := wh.run(t, meta.TaskDelete, rec)
	require.Equal(t, async.JobStatusCompleted, job.Status, "error: %s", job.Error)

	// A second delete for the same record finds nothing left to do
	payload := []byte(`{"record_key":"` + rec.Key + `"}`)
	again, err := async.NewJobWithPayload(meta.TaskDelete.HandlerName(), rec.Key, payload)
	require.NoError(t, err)
	require.NoError(t, wh.pool.GetQueue().Enqueue(ctx, again))
	_, err = wh.pool.RunPending(ctx)
	require.NoError(t, err)

	done, err := wh.pool.GetQueue().GetJob(ctx, again.ID)
	require.NoError(t, err)
	assert.Equal(t, async.JobStatusCompleted, done.Status)
}
