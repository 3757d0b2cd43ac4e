package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// clientView is what a client holds after applying patches
type clientView struct {
	Clients map[string]bool
	Desires map[string]map[string]bool
	Got     map[string]bool
	Rows    map[model.RowID]string
}

func newClientView() *clientView {
	return &clientView{
		Clients: make(map[string]bool),
		Desires: make(map[string]map[string]bool),
		Got:     make(map[string]bool),
		Rows:    make(map[model.RowID]string),
	}
}

func (v *clientView) apply(t *testing.T, catchup *Catchup) {
	t.Helper()
	for _, p := range catchup.ConfigPatches {
		put := p.Patch.Op == model.PatchOpPut
		switch {
		case p.Patch.Type == model.PatchTypeClient && put:
			v.Clients[p.Patch.ID] = true
		case p.Patch.Type == model.PatchTypeClient:
			delete(v.Clients, p.Patch.ID)
			delete(v.Desires, p.Patch.ID)
		case p.Patch.ClientID != "" && put:
			if v.Desires[p.Patch.ClientID] == nil {
				v.Desires[p.Patch.ClientID] = make(map[string]bool)
			}
			v.Desires[p.Patch.ClientID][p.Patch.ID] = true
		case p.Patch.ClientID != "":
			delete(v.Desires[p.Patch.ClientID], p.Patch.ID)
			if len(v.Desires[p.Patch.ClientID]) == 0 {
				delete(v.Desires, p.Patch.ClientID)
			}
		case put:
			v.Got[p.Patch.ID] = true
		default:
			delete(v.Got, p.Patch.ID)
		}
	}
	for _, p := range collectRows(t, catchup.Rows) {
		if p.Patch.Op == model.PatchOpPut {
			v.Rows[p.Patch.ID] = p.Patch.RowVersion
		} else {
			delete(v.Rows, p.Patch.ID)
		}
	}
}

// persistedView is the view a fully caught up client must hold
func persistedView(t *testing.T, s store.CVRStore, snapshot *model.CVRSnapshot) *clientView {
	t.Helper()
	v := newClientView()
	for id, client := range snapshot.Clients {
		v.Clients[id] = true
		for _, queryID := range client.DesiredQueryIDs {
			if v.Desires[id] == nil {
				v.Desires[id] = make(map[string]bool)
			}
			v.Desires[id][queryID] = true
		}
	}
	for id, query := range snapshot.Queries {
		if query.PatchVersion != nil && !query.Internal {
			v.Got[id] = true
		}
	}
	for id, record := range rowRecords(t, s, snapshot.ID) {
		v.Rows[id] = record.RowVersion
	}
	return v
}

func TestCatchupReader_Completeness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reader := NewCatchupReader(s, zap.NewNop())

	var history []*model.CVRSnapshot
	step := func(snapshot *model.CVRSnapshot) *model.CVRSnapshot {
		history = append(history, snapshot)
		return snapshot
	}

	// 1. c1 desires q1 and q2, c2 desires q2
	config := NewConfigDrivenUpdater(s, load(t, s, "group-1"), zap.NewNop())
	_, _, err := config.PutDesiredQueries("c1", []model.QuerySpec{issuesQuery("q1"), issuesQuery("q2")})
	require.NoError(t, err)
	_, _, err = config.PutDesiredQueries("c2", []model.QuerySpec{issuesQuery("q2")})
	require.NoError(t, err)
	res, err := config.Flush(ctx, tick())
	require.NoError(t, err)
	snapshot := step(res.Snapshot)

	// 2. both queries are executed
	snapshot = step(executeCycle(t, s, snapshot, "01",
		[]model.ExecutedQuery{{ID: "q1", TransformationHash: "t1"}, {ID: "q2", TransformationHash: "t2"}}, nil,
		map[model.RowID]model.RowUpdate{
			issueRow("a"): rowUpdate("a1", map[string]int{"q1": 1}),
			issueRow("b"): rowUpdate("b1", map[string]int{"q1": 1, "q2": 1}),
			issueRow("c"): rowUpdate("c1", map[string]int{"q2": 1}),
		}))

	// 3. c1 drops q1, which is then collected
	config = NewConfigDrivenUpdater(s, snapshot, zap.NewNop())
	config.DeleteDesiredQueries("c1", []string{"q1"})
	res, err = config.Flush(ctx, tick())
	require.NoError(t, err)
	require.Len(t, res.Patches, 1)
	snapshot = step(res.Snapshot)

	// 4. q2 is re-executed at a new state version
	snapshot = step(executeCycle(t, s, snapshot, "02",
		[]model.ExecutedQuery{{ID: "q2", TransformationHash: "t2"}}, nil,
		map[model.RowID]model.RowUpdate{
			issueRow("b"): rowUpdate("b2", map[string]int{"q2": 1}),
			issueRow("c"): rowUpdate("c1", map[string]int{"q2": 1}),
			issueRow("d"): rowUpdate("d1", map[string]int{"q2": 1}),
		}))

	// 5. c2 goes away and c1 adds q3
	config = NewConfigDrivenUpdater(s, snapshot, zap.NewNop())
	config.DeleteClient("c2")
	_, _, err = config.PutDesiredQueries("c1", []model.QuerySpec{issuesQuery("q3")})
	require.NoError(t, err)
	res, err = config.Flush(ctx, tick())
	require.NoError(t, err)
	snapshot = step(res.Snapshot)

	// 6. q3 is executed and q2 removed at the same state version
	step(executeCycle(t, s, snapshot, "02",
		[]model.ExecutedQuery{{ID: "q3", TransformationHash: "t3"}}, []string{"q2"},
		map[model.RowID]model.RowUpdate{
			issueRow("e"): rowUpdate("e1", map[string]int{"q3": 1}),
		}))

	assert.Equal(t, []model.CVRVersion{
		ver("00", 1), ver("01", 0), ver("01", 1), ver("02", 0), ver("02", 1), ver("02", 2),
	}, []model.CVRVersion{
		history[0].Version, history[1].Version, history[2].Version,
		history[3].Version, history[4].Version, history[5].Version,
	})

	final := history[len(history)-1]
	assert.Equal(t, &clientView{
		Clients: map[string]bool{"c1": true},
		Desires: map[string]map[string]bool{"c1": {"q3": true}},
		Got:     map[string]bool{"q3": true},
		Rows:    map[model.RowID]string{issueRow("e"): "e1"},
	}, persistedView(t, s, final))

	fromScratch := func(target *model.CVRSnapshot) *clientView {
		catchup, err := reader.Catchup(ctx, model.InitialVersion(), target, nil)
		require.NoError(t, err)
		v := newClientView()
		v.apply(t, catchup)
		return v
	}

	// Only the latest state of every entity is kept, so a full catch-up to
	// an older version is only exact for the most recent one
	assert.Equal(t, persistedView(t, s, final), fromScratch(final))

	// A client caught up at any earlier version converges too
	for i, from := range history[:len(history)-1] {
		t.Run(algorithm.VersionString(from.Version), func(t *testing.T) {
			stale := replayTo(t, reader, history[:i+1])
			catchup, err := reader.Catchup(ctx, from.Version, final, nil)
			require.NoError(t, err)
			stale.apply(t, catchup)
			assert.Equal(t, persistedView(t, s, final), stale)
		})
	}
}

// replayTo returns the view of a client that caught up to each snapshot of
// history in turn
func replayTo(t *testing.T, reader *CatchupReader, history []*model.CVRSnapshot) *clientView {
	t.Helper()
	v := newClientView()
	after := model.InitialVersion()
	for _, target := range history {
		catchup, err := reader.Catchup(context.Background(), after, target, nil)
		require.NoError(t, err)
		v.apply(t, catchup)
		after = target.Version
	}
	return v
}

func TestCatchupReader_FollowsLiveUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	reader := NewCatchupReader(s, zap.NewNop())

	// A client that catches up right after every flush sees exactly the
	// persisted state each time
	view := newClientView()
	after := model.InitialVersion()
	check := func(snapshot *model.CVRSnapshot) {
		t.Helper()
		catchup, err := reader.Catchup(ctx, after, snapshot, nil)
		require.NoError(t, err)
		assert.Equal(t, after, catchup.After)
		assert.Equal(t, snapshot.Version, catchup.Target)
		view.apply(t, catchup)
		assert.Equal(t, persistedView(t, s, snapshot), view)
		after = snapshot.Version
	}

	snapshot := desireQueries(t, s, load(t, s, "group-1"), "c1", "q1", "q2")
	check(snapshot)

	snapshot = executeCycle(t, s, snapshot, "01",
		[]model.ExecutedQuery{{ID: "q1", TransformationHash: "t1"}, {ID: "q2", TransformationHash: "t2"}}, nil,
		map[model.RowID]model.RowUpdate{
			issueRow("a"): rowUpdate("a1", map[string]int{"q1": 1}),
			issueRow("b"): rowUpdate("b1", map[string]int{"q1": 1, "q2": 1}),
		})
	check(snapshot)

	config := NewConfigDrivenUpdater(s, snapshot, zap.NewNop())
	config.DeleteDesiredQueries("c1", []string{"q1"})
	res, err := config.Flush(ctx, tick())
	require.NoError(t, err)
	snapshot = res.Snapshot
	check(snapshot)

	snapshot = executeCycle(t, s, snapshot, "02",
		[]model.ExecutedQuery{{ID: "q2", TransformationHash: "t2"}}, nil,
		map[model.RowID]model.RowUpdate{
			issueRow("b"): rowUpdate("b2", map[string]int{"q2": 1}),
		})
	check(snapshot)

	assert.Equal(t, map[model.RowID]string{issueRow("b"): "b2"}, view.Rows)
	assert.Equal(t, map[string]bool{"q2": true}, view.Got)
}

func TestCatchupReader_ExcludesQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	snapshot := desireQueries(t, s, load(t, s, "group-1"), "c1", "q1", "q2")
	snapshot = executeCycle(t, s, snapshot, "01",
		[]model.ExecutedQuery{{ID: "q1", TransformationHash: "t1"}, {ID: "q2", TransformationHash: "t2"}}, nil,
		map[model.RowID]model.RowUpdate{
			issueRow("a"): rowUpdate("a1", map[string]int{"q1": 1}),
			issueRow("b"): rowUpdate("b1", map[string]int{"q1": 1, "q2": 1}),
			issueRow("c"): rowUpdate("c1", map[string]int{"q2": 1}),
		})

	catchup, err := NewCatchupReader(s, zap.NewNop()).Catchup(ctx, model.InitialVersion(), snapshot, []string{"q2"})
	require.NoError(t, err)
	assert.Len(t, catchup.ConfigPatches, 5)
	assert.Equal(t, []model.RowPatchToVersion{
		bareRow(issueRow("a"), "a1", ver("01", 0)),
		bareRow(issueRow("b"), "b1", ver("01", 0)),
	}, collectRows(t, catchup.Rows))
}

func TestCatchupReader_RejectsFutureVersion(t *testing.T) {
	s := newTestStore(t)
	snapshot := desireQueries(t, s, load(t, s, "group-1"), "c1", "q1")

	_, err := NewCatchupReader(s, zap.NewNop()).Catchup(context.Background(), ver("01", 0), snapshot, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
