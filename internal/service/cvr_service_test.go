package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/metrics"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// MockCVRStore is a mock implementation of CVRStore
type MockCVRStore struct {
	mock.Mock
}

func (m *MockCVRStore) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCVRStore) Load(ctx context.Context, groupID string) (*model.CVRSnapshot, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CVRSnapshot), args.Error(1)
}

func (m *MockCVRStore) RowRecords(ctx context.Context, groupID string, ids []model.RowID) (map[model.RowID]*model.RowRecord, error) {
	args := m.Called(ctx, groupID, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.RowID]*model.RowRecord), args.Error(1)
}

func (m *MockCVRStore) RowRecordsReferencing(ctx context.Context, groupID string, queryHashes []string) (map[model.RowID]*model.RowRecord, error) {
	args := m.Called(ctx, groupID, queryHashes)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[model.RowID]*model.RowRecord), args.Error(1)
}

func (m *MockCVRStore) TombstonedQueries(ctx context.Context, groupID string) ([]string, error) {
	args := m.Called(ctx, groupID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCVRStore) Flush(ctx context.Context, req *store.FlushRequest) (*store.FlushResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.FlushResult), args.Error(1)
}

func (m *MockCVRStore) CatchupConfigPatches(ctx context.Context, after model.CVRVersion, upTo *model.CVRSnapshot) ([]model.ConfigPatchToVersion, error) {
	args := m.Called(ctx, after, upTo)
	return args.Get(0).([]model.ConfigPatchToVersion), args.Error(1)
}

func (m *MockCVRStore) CatchupRowPatches(ctx context.Context, after model.CVRVersion, upTo *model.CVRSnapshot, excludeQueryHashes []string) *store.RowPatchIterator {
	args := m.Called(ctx, after, upTo, excludeQueryHashes)
	return args.Get(0).(*store.RowPatchIterator)
}

func (m *MockCVRStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockCVRStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

func conflict(groupID string, expected, actual model.CVRVersion) error {
	return &store.ConcurrentModificationError{GroupID: groupID, ExpectedVersion: expected, ActualVersion: actual}
}

func expectingVersion(v model.CVRVersion) interface{} {
	return mock.MatchedBy(func(req *store.FlushRequest) bool {
		return req.ExpectedVersion == v
	})
}

func TestCVRService_RetriesConcurrentModification(t *testing.T) {
	mockStore := new(MockCVRStore)
	ctx := context.Background()

	// The first load races with a writer that adds c2 desiring q1
	stale := model.NewCVRSnapshot("group-1")
	fresh := model.NewCVRSnapshot("group-1")
	fresh.Version = ver("00", 1)
	fresh.Clients["c2"] = &model.ClientRecord{ID: "c2", DesiredQueryIDs: []string{"q1"}, PatchVersion: ver("00", 1)}
	fresh.Queries["q1"] = &model.QueryRecord{
		ID:        "q1",
		AST:       model.AST{Table: "issues"},
		DesiredBy: map[string]model.CVRVersion{"c2": ver("00", 1)},
	}

	mockStore.On("Load", mock.Anything, "group-1").Return(stale, nil).Once()
	mockStore.On("Load", mock.Anything, "group-1").Return(fresh, nil).Once()
	mockStore.On("Flush", mock.Anything, expectingVersion(ver("00", 0))).
		Return(nil, conflict("group-1", ver("00", 0), ver("00", 1))).Once()
	mockStore.On("Flush", mock.Anything, expectingVersion(ver("00", 1))).
		Return(&store.FlushResult{Snapshot: fresh, Stats: store.FlushStats{Instances: 1, Statements: 1}}, nil).Once()

	m := metrics.NewMetrics(prometheus.NewRegistry())
	service := NewCVRService(mockStore, 3, m, zap.NewNop())

	res, err := service.ApplyDesiredQueries(ctx, "group-1", DesiredQueriesChange{
		ClientID: "c1",
		Put:      []model.QuerySpec{issuesQuery("q1")},
	})
	require.NoError(t, err)

	// Recomputed against the fresh snapshot, q1 is no longer new
	assert.Empty(t, res.NewQueries)
	assert.Equal(t, []model.ConfigPatchToVersion{
		clientPatch(model.PatchOpPut, "c1", ver("00", 2)),
		desirePatch(model.PatchOpPut, "q1", "c1", ver("00", 2)),
	}, res.Patches)

	mockStore.AssertExpectations(t)
	mockStore.AssertNumberOfCalls(t, "Load", 2)
	mockStore.AssertNumberOfCalls(t, "Flush", 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushRetries.WithLabelValues("desired_queries")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("config", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FlushesTotal.WithLabelValues("config", "ok")))
}

func TestCVRService_GivesUpAfterMaxRetries(t *testing.T) {
	mockStore := new(MockCVRStore)
	snapshot := model.NewCVRSnapshot("group-1")

	mockStore.On("Load", mock.Anything, "group-1").Return(snapshot, nil)
	mockStore.On("Flush", mock.Anything, mock.Anything).
		Return(nil, conflict("group-1", ver("00", 0), ver("00", 5)))

	service := NewCVRService(mockStore, 2, nil, zap.NewNop())
	_, err := service.Touch(context.Background(), "group-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrConcurrentModification))

	var cme *store.ConcurrentModificationError
	require.True(t, errors.As(err, &cme))
	assert.Equal(t, ver("00", 5), cme.ActualVersion)

	mockStore.AssertNumberOfCalls(t, "Load", 3)
	mockStore.AssertNumberOfCalls(t, "Flush", 3)
}

func TestCVRService_DoesNotRetryOtherErrors(t *testing.T) {
	t.Run("flush failure", func(t *testing.T) {
		mockStore := new(MockCVRStore)
		mockStore.On("Load", mock.Anything, "group-1").Return(model.NewCVRSnapshot("group-1"), nil)
		mockStore.On("Flush", mock.Anything, mock.Anything).Return(nil, errors.New("database is locked"))

		service := NewCVRService(mockStore, 3, nil, zap.NewNop())
		_, err := service.Touch(context.Background(), "group-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database is locked")
		mockStore.AssertNumberOfCalls(t, "Flush", 1)
	})

	t.Run("load failure", func(t *testing.T) {
		mockStore := new(MockCVRStore)
		mockStore.On("Load", mock.Anything, "group-1").Return(nil, errors.New("connection refused"))

		service := NewCVRService(mockStore, 3, nil, zap.NewNop())
		_, err := service.Touch(context.Background(), "group-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		mockStore.AssertNotCalled(t, "Flush", mock.Anything, mock.Anything)
	})

	t.Run("version regression", func(t *testing.T) {
		snapshot := model.NewCVRSnapshot("group-1")
		snapshot.Version = ver("02", 0)
		snapshot.ReplicaVersion = "replica-1"

		mockStore := new(MockCVRStore)
		mockStore.On("Load", mock.Anything, "group-1").Return(snapshot, nil)

		service := NewCVRService(mockStore, 3, nil, zap.NewNop())
		_, err := service.ApplyQueryResults(context.Background(), "group-1", QueryResults{
			StateVersion:   "01",
			ReplicaVersion: "replica-1",
		})
		assert.True(t, errors.Is(err, ErrVersionRegression))
		mockStore.AssertNumberOfCalls(t, "Load", 1)
		mockStore.AssertNotCalled(t, "Flush", mock.Anything, mock.Anything)
	})

	t.Run("empty client group", func(t *testing.T) {
		mockStore := new(MockCVRStore)
		service := NewCVRService(mockStore, 3, nil, zap.NewNop())
		_, err := service.Load(context.Background(), "")
		assert.True(t, errors.Is(err, ErrInvalidArgument))
		mockStore.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
	})
}

func TestCVRService_EndToEnd(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	service := NewCVRService(s, 3, nil, zap.NewNop())
	service.now = tick

	// A client asks for two queries
	configRes, err := service.ApplyDesiredQueries(ctx, "group-1", DesiredQueriesChange{
		ClientID: "c1",
		Put:      []model.QuerySpec{issuesQuery("q1"), issuesQuery("q2")},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.QuerySpec{issuesQuery("q1"), issuesQuery("q2")}, configRes.NewQueries)
	assert.Len(t, configRes.Patches, 3)
	assert.Equal(t, ver("00", 1), configRes.Snapshot.Version)

	// Both are executed, rows arriving in two batches
	queryRes, err := service.ApplyQueryResults(ctx, "group-1", QueryResults{
		StateVersion:   "01",
		ReplicaVersion: "replica-1",
		Executed: []model.ExecutedQuery{
			{ID: "q1", TransformationHash: "t1"},
			{ID: "q2", TransformationHash: "t2"},
		},
		Batches: []map[model.RowID]model.RowUpdate{
			{issueRow("1"): rowUpdate("a1", map[string]int{"q1": 1})},
			{issueRow("2"): rowUpdate("a1", map[string]int{"q2": 1})},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, ver("01", 0), queryRes.Snapshot.Version)
	assert.Equal(t, []model.ConfigPatchToVersion{
		gotPatch(model.PatchOpPut, "q1", ver("01", 0)),
		gotPatch(model.PatchOpPut, "q2", ver("01", 0)),
	}, queryRes.ConfigPatches)
	assert.Equal(t, []model.RowPatchToVersion{
		putRow(issueRow("1"), "a1", ver("01", 0)),
		putRow(issueRow("2"), "a1", ver("01", 0)),
	}, queryRes.RowPatches)

	// The client replaces its set with q2 only
	configRes, err = service.ApplyDesiredQueries(ctx, "group-1", DesiredQueriesChange{
		ClientID: "c1",
		Clear:    true,
		Put:      []model.QuerySpec{issuesQuery("q2")},
	})
	require.NoError(t, err)
	assert.Empty(t, configRes.NewQueries)
	v := ver("01", 1)
	assert.Equal(t, []model.ConfigPatchToVersion{
		desirePatch(model.PatchOpDel, "q1", "c1", v),
		desirePatch(model.PatchOpDel, "q2", "c1", v),
		desirePatch(model.PatchOpPut, "q2", "c1", v),
		gotPatch(model.PatchOpDel, "q1", v),
	}, configRes.Patches)

	catchup, err := service.Catchup(ctx, "group-1", ver("01", 0), nil)
	require.NoError(t, err)
	assert.Equal(t, v, catchup.Target)
	assert.Equal(t, []model.ConfigPatchToVersion{
		gotPatch(model.PatchOpDel, "q1", v),
		desirePatch(model.PatchOpDel, "q1", "c1", v),
		desirePatch(model.PatchOpPut, "q2", "c1", v),
	}, catchup.ConfigPatches)
	assert.Empty(t, collectRows(t, catchup.Rows))

	// The next execution drops the row only q1 referenced
	queryRes, err = service.ApplyQueryResults(ctx, "group-1", QueryResults{
		StateVersion:   "02",
		ReplicaVersion: "replica-1",
	})
	require.NoError(t, err)
	assert.Equal(t, []model.RowPatchToVersion{delRow(issueRow("1"), ver("02", 0))}, queryRes.RowPatches)

	configRes, err = service.DeleteClient(ctx, "group-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []model.ConfigPatchToVersion{
		desirePatch(model.PatchOpDel, "q2", "c1", ver("02", 1)),
		clientPatch(model.PatchOpDel, "c1", ver("02", 1)),
		gotPatch(model.PatchOpDel, "q2", ver("02", 1)),
	}, configRes.Patches)
	assert.Empty(t, configRes.Snapshot.Clients)
	assert.Empty(t, configRes.Snapshot.Queries)

	before := configRes.Snapshot.LastActive
	touched, err := service.Touch(ctx, "group-1")
	require.NoError(t, err)
	assert.Equal(t, ver("02", 1), touched.Version)
	assert.True(t, touched.LastActive.After(before))
	assert.Equal(t, time.Second, touched.LastActive.Sub(before))
}
