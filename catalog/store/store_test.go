package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/datacat/catalog/meta"
	"github.com/teranos/datacat/errors"
	datacattest "github.com/teranos/datacat/internal/testing"
	"github.com/teranos/datacat/pulse/async"
)

func newTestStore(t *testing.T) *Store {
	return NewStore(datacattest.CreateTestDB(t), zaptest.NewLogger(t).Sugar())
}

func newRecord(url, humanName string) *meta.Record {
	return &meta.Record{
		Key:            meta.Fingerprint(url),
		SourceURL:      url,
		SubmittedURL:   url,
		DatasetName:    "ds_" + meta.Fingerprint(humanName)[:8],
		HumanName:      humanName,
		ApprovedStatus: meta.StatusPending,
		ColumnNames:    []string{"date", "location"},
		ObservedDate:   "date",
		Location:       "location",
		DateAdded:      time.Now().UTC().Truncate(time.Second),
	}
}

// approve commits ApproveTx on its own transaction.
func approve(ctx context.Context, s *Store, key string) (bool, error) {
	tx, err := s.Conn().BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	ok, err := s.ApproveTx(ctx, tx, key)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	return ok, tx.Commit()
}

func TestInsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := newRecord("https://example.com/a.csv", "Alpha")
	rec.ViewURL = "https://example.com/view"
	rec.IsShapefile = true
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, got.Key)
	assert.Equal(t, "Alpha", got.HumanName)
	assert.Equal(t, rec.DatasetName, got.DatasetName)
	assert.Equal(t, "https://example.com/view", got.ViewURL)
	assert.Equal(t, []string{"date", "location"}, got.ColumnNames)
	assert.Equal(t, meta.StatusPending, got.ApprovedStatus)
	assert.True(t, got.IsShapefile)
	assert.True(t, rec.DateAdded.Equal(got.DateAdded))
	assert.Nil(t, got.LastUpdate)
	assert.Empty(t, got.Tasks)

	_, err = s.Get(ctx, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestInsertDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Insert(ctx, newRecord("https://example.com/a.csv", "Alpha")))

	again := newRecord("https://example.com/a.csv", "Alpha again")
	err := s.Insert(ctx, again)
	require.Error(t, err)

	var dup *meta.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, "Alpha", dup.HumanName)
	assert.True(t, errors.IsConflictError(err))
}

func TestInsertDatasetNameTaken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := newRecord("https://example.com/a.csv", "Alpha")
	require.NoError(t, s.Insert(ctx, first))

	second := newRecord("https://example.com/b.csv", "Alpha")
	second.DatasetName = first.DatasetName
	err := s.Insert(ctx, second)

	require.Error(t, err)
	assert.True(t, errors.IsConflictError(err))
	var dup *meta.DuplicateError
	assert.False(t, errors.As(err, &dup))
	assert.Contains(t, err.Error(), "already in use")
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	empty, err := s.ListByStatus(ctx, meta.StatusPending)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	a := newRecord("https://example.com/a.csv", "Alpha")
	b := newRecord("https://example.com/b.csv", "Beta")
	b.DateAdded = a.DateAdded.Add(time.Minute)
	require.NoError(t, s.Insert(ctx, b))
	require.NoError(t, s.Insert(ctx, a))

	_, err = approve(ctx, s, b.Key)
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, meta.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a.Key, pending[0].Key)

	approved, err := s.ListByStatus(ctx, meta.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, b.Key, approved[0].Key)
}

func TestApproveTakesEdgeOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := newRecord("https://example.com/a.csv", "Alpha")
	require.NoError(t, s.Insert(ctx, rec))

	const approvers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		taken int
	)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := approve(ctx, s, rec.Key)
			if err != nil {
				t.Errorf("Approve() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				taken++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, taken)

	ok, err := approve(ctx, s, rec.Key)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = approve(ctx, s, "missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestUpdateAndMarkLoaded(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := newRecord("https://example.com/a.csv", "Alpha")
	require.NoError(t, s.Insert(ctx, rec))

	rec.HumanName = "Alpha (edited)"
	rec.UpdateFrequency = "weekly"
	rec.Location = ""
	rec.Latitude, rec.Longitude = "lat", "lon"
	require.NoError(t, s.Update(ctx, rec))

	loaded := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, s.MarkLoaded(ctx, rec.Key, loaded, true))

	got, err := s.Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, "Alpha (edited)", got.HumanName)
	assert.Equal(t, "weekly", got.UpdateFrequency)
	assert.Equal(t, "lat", got.Latitude)
	assert.Empty(t, got.Location)
	require.NotNil(t, got.LastUpdate)
	assert.True(t, loaded.Equal(*got.LastUpdate))
	assert.True(t, loaded.Equal(got.DateAdded))

	later := loaded.Add(time.Hour)
	require.NoError(t, s.MarkLoaded(ctx, rec.Key, later, false))
	got, _ = s.Get(ctx, rec.Key)
	assert.True(t, later.Equal(*got.LastUpdate))
	assert.True(t, loaded.Equal(got.DateAdded))

	missing := newRecord("https://example.com/missing.csv", "Missing")
	assert.True(t, errors.IsNotFoundError(s.Update(ctx, missing)))
	assert.True(t, errors.IsNotFoundError(s.MarkLoaded(ctx, missing.Key, later, false)))
}

func TestTasksAndStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	queue := async.NewQueue(s.Conn())

	rec := newRecord("https://example.com/a.csv", "Alpha")
	require.NoError(t, s.Insert(ctx, rec))

	addJob, err := async.NewJobWithPayload("catalog.add", rec.Key, []byte(`{"record_key":"`+rec.Key+`"}`))
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(ctx, addJob))
	require.NoError(t, s.AppendTask(ctx, rec.Key, meta.TaskHandle{JobID: addJob.ID, Kind: meta.TaskAdd, EnqueuedAt: time.Now()}))

	// A handle whose job row never materialized
	require.NoError(t, s.AppendTask(ctx, rec.Key, meta.TaskHandle{JobID: "ghost", Kind: meta.TaskUpdate, EnqueuedAt: time.Now()}))

	assert.True(t, errors.IsConflictError(
		s.AppendTask(ctx, rec.Key, meta.TaskHandle{JobID: "ghost", Kind: meta.TaskUpdate, EnqueuedAt: time.Now()})))

	claimed, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, queue.FailJob(ctx, claimed, errors.New("bad row\r\nsecond line")))

	got, err := s.Get(ctx, rec.Key)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, addJob.ID, got.Tasks[0].JobID)
	assert.Equal(t, meta.TaskUpdate, got.Tasks[1].Kind)

	statuses, err := s.TaskStatuses(ctx, rec.Key)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	ghost := statuses[0]
	assert.Equal(t, "ghost", ghost.TaskID)
	assert.Empty(t, ghost.Status)
	assert.Nil(t, ghost.CompletedAt)

	add := statuses[1]
	assert.Equal(t, "Alpha", add.HumanName)
	assert.Equal(t, string(async.JobStatusFailed), add.Status)
	assert.Equal(t, meta.TaskAdd, add.Kind)
	require.NotNil(t, add.CompletedAt)
	assert.Contains(t, add.Trace, "bad row")

	byJob, err := s.TaskStatusByJob(ctx, addJob.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, byJob.RecordKey)

	_, err = s.TaskStatusByJob(ctx, "nope")
	assert.True(t, errors.IsNotFoundError(err))

	all, err := s.TaskStatuses(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestApprovedWithLatestStatus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a := newRecord("https://example.com/a.csv", "Alpha")
	b := newRecord("https://example.com/b.csv", "Beta")
	require.NoError(t, s.Insert(ctx, a))
	require.NoError(t, s.Insert(ctx, b))
	for _, key := range []string{a.Key, b.Key} {
		_, err := approve(ctx, s, key)
		require.NoError(t, err)
	}

	require.NoError(t, s.AppendTask(ctx, a.Key, meta.TaskHandle{JobID: "j1", Kind: meta.TaskAdd, EnqueuedAt: time.Now()}))
	require.NoError(t, s.AppendTask(ctx, a.Key, meta.TaskHandle{JobID: "j2", Kind: meta.TaskUpdate, EnqueuedAt: time.Now()}))

	list, err := s.ApprovedWithLatestStatus(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	byKey := map[string]RecordStatus{}
	for _, rs := range list {
		byKey[rs.Record.Key] = rs
	}
	require.NotNil(t, byKey[a.Key].Latest)
	assert.Equal(t, "j2", byKey[a.Key].Latest.TaskID)
	assert.Nil(t, byKey[b.Key].Latest)
}

func TestDeleteCascadesTasks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rec := newRecord("https://example.com/a.csv", "Alpha")
	require.NoError(t, s.Insert(ctx, rec))
	require.NoError(t, s.AppendTask(ctx, rec.Key, meta.TaskHandle{JobID: "j1", Kind: meta.TaskAdd, EnqueuedAt: time.Now()}))

	require.NoError(t, s.Delete(ctx, rec.Key))

	_, err := s.Get(ctx, rec.Key)
	assert.True(t, errors.IsNotFoundError(err))

	statuses, err := s.TaskStatuses(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, statuses)

	assert.True(t, errors.IsNotFoundError(s.Delete(ctx, rec.Key)))
}

func TestDescribeTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Conn().ExecContext(ctx, `CREATE TABLE "dataset_alpha" ("row_id" INTEGER PRIMARY KEY, "date" TEXT, "location" TEXT)`)
	require.NoError(t, err)
	_, err = s.Conn().ExecContext(ctx, `INSERT INTO "dataset_alpha" ("date", "location") VALUES ('2016-01-01', 'x'), ('2016-01-02', NULL)`)
	require.NoError(t, err)

	columns, count, err := s.DescribeTable(ctx, "dataset_alpha")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	require.Len(t, columns, 3)
	assert.Equal(t, ColumnInfo{Name: "row_id", Type: "INTEGER", Nullable: false}, columns[0])
	assert.Equal(t, ColumnInfo{Name: "date", Type: "TEXT", Nullable: true}, columns[1])

	_, _, err = s.DescribeTable(ctx, "dataset_missing")
	assert.True(t, errors.IsNotFoundError(err))
}
