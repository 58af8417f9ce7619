package pagerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/storage/memory"
)

func sum(ranks map[int64]float64) float64 {
	total := 0.0
	for _, r := range ranks {
		total += r
	}
	return total
}

func TestComputeEmptyGraph(t *testing.T) {
	t.Parallel()

	res := Engine{}.Compute(crawler.LinkGraph{})
	require.Empty(t, res.Ranks)
	require.Zero(t, res.Iterations)
}

func TestComputeConservesMassWithDanglingNodes(t *testing.T) {
	t.Parallel()

	// 4 and 5 have no outbound edges; 5 has no inbound edges either.
	graph := crawler.LinkGraph{
		Nodes: []int64{1, 2, 3, 4, 5},
		Edges: []crawler.Edge{
			{Source: 1, Target: 2},
			{Source: 1, Target: 3},
			{Source: 2, Target: 3},
			{Source: 3, Target: 1},
			{Source: 3, Target: 4},
			{Source: 9, Target: 1}, // unknown source is ignored
		},
	}
	res := Engine{MaxIterations: 100, Tolerance: 1e-10}.Compute(graph)

	require.Len(t, res.Ranks, 5)
	require.InDelta(t, 1.0, sum(res.Ranks), 1e-9)
	require.True(t, res.Converged)
	for id, r := range res.Ranks {
		require.Positive(t, r, "page %d", id)
	}
	require.Greater(t, res.Ranks[3], res.Ranks[5])
	require.Greater(t, res.Ranks[1], res.Ranks[5])
}

func TestComputeSymmetricCycleIsUniform(t *testing.T) {
	t.Parallel()

	graph := crawler.LinkGraph{
		Nodes: []int64{1, 2, 3},
		Edges: []crawler.Edge{{Source: 1, Target: 2}, {Source: 2, Target: 3}, {Source: 3, Target: 1}},
	}
	res := Engine{}.Compute(graph)
	for _, r := range res.Ranks {
		require.InDelta(t, 1.0/3, r, 1e-9)
	}
	require.Equal(t, 1, res.Iterations)
	require.True(t, res.Converged)
}

func TestComputeStopsAtIterationCap(t *testing.T) {
	t.Parallel()

	graph := crawler.LinkGraph{
		Nodes: []int64{1, 2},
		Edges: []crawler.Edge{{Source: 1, Target: 2}},
	}
	res := Engine{MaxIterations: 2, Tolerance: 1e-15}.Compute(graph)
	require.Equal(t, 2, res.Iterations)
	require.False(t, res.Converged)
	require.InDelta(t, 1.0, sum(res.Ranks), 1e-9)
}

func TestRunWritesRanksToStore(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx := context.Background()
	a, err := store.SavePage(ctx, crawler.Page{URL: "https://a.example", Domain: "a.example"})
	require.NoError(t, err)
	b, err := store.SavePage(ctx, crawler.Page{URL: "https://b.example", Domain: "b.example"})
	require.NoError(t, err)
	require.NoError(t, store.SaveLinks(ctx, a, []crawler.Link{{TargetURL: "https://b.example"}}))

	res, err := Engine{Logger: zap.NewNop()}.Run(ctx, store)
	require.NoError(t, err)
	require.Len(t, res.Ranks, 2)

	top, err := store.TopPages(ctx, crawler.SortByPageRank, 2)
	require.NoError(t, err)
	require.Equal(t, b, top[0].ID)
	require.InDelta(t, 1.0, top[0].PageRank+top[1].PageRank, 1e-9)
}

type mockGraphStore struct {
	mock.Mock
}

func (m *mockGraphStore) LinkGraph(ctx context.Context) (crawler.LinkGraph, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.LinkGraph), args.Error(1)
}

func (m *mockGraphStore) UpdatePageRanks(ctx context.Context, ranks map[int64]float64) error {
	args := m.Called(ctx, ranks)
	return args.Error(0)
}

func TestRunPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	loadFail := &mockGraphStore{}
	loadFail.On("LinkGraph", mock.Anything).Return(crawler.LinkGraph{}, errors.New("db down"))
	_, err := Engine{}.Run(context.Background(), loadFail)
	require.ErrorContains(t, err, "load link graph")
	loadFail.AssertExpectations(t)

	writeFail := &mockGraphStore{}
	writeFail.On("LinkGraph", mock.Anything).Return(crawler.LinkGraph{Nodes: []int64{1}}, nil)
	writeFail.On("UpdatePageRanks", mock.Anything, mock.Anything).Return(errors.New("read only"))
	_, err = Engine{}.Run(context.Background(), writeFail)
	require.ErrorContains(t, err, "store pageranks")
	writeFail.AssertExpectations(t)
}
