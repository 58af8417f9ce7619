// Package pagerank computes PageRank over the persisted link graph.
package pagerank

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
	"github.com/shreyas-bk24/anvesha-crawler/internal/metrics"
)

// Defaults for Engine fields left at zero.
const (
	DefaultDamping       = 0.85
	DefaultMaxIterations = 30
	DefaultTolerance     = 1e-4
)

// Engine runs the power iteration.
type Engine struct {
	Damping       float64
	MaxIterations int
	Tolerance     float64
	Logger        *zap.Logger
}

// Result holds computed ranks and how the iteration ended.
type Result struct {
	Ranks      map[int64]float64
	Iterations int
	// Delta is the L1 change of the final iteration.
	Delta     float64
	Converged bool
}

func (e Engine) withDefaults() Engine {
	if e.Damping <= 0 || e.Damping >= 1 {
		e.Damping = DefaultDamping
	}
	if e.MaxIterations <= 0 {
		e.MaxIterations = DefaultMaxIterations
	}
	if e.Tolerance <= 0 {
		e.Tolerance = DefaultTolerance
	}
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	return e
}

// Compute ranks every node of graph. Mass held by nodes without outbound
// edges is spread evenly so ranks keep summing to one.
func (e Engine) Compute(graph crawler.LinkGraph) Result {
	e = e.withDefaults()
	n := len(graph.Nodes)
	if n == 0 {
		return Result{Ranks: map[int64]float64{}, Converged: true}
	}

	index := make(map[int64]int, n)
	for i, id := range graph.Nodes {
		index[id] = i
	}
	outDegree := make([]int, n)
	inbound := make([][]int, n)
	for _, edge := range graph.Edges {
		src, okSrc := index[edge.Source]
		dst, okDst := index[edge.Target]
		if !okSrc || !okDst {
			continue
		}
		outDegree[src]++
		inbound[dst] = append(inbound[dst], src)
	}

	size := float64(n)
	ranks := make([]float64, n)
	for i := range ranks {
		ranks[i] = 1 / size
	}
	next := make([]float64, n)
	base := (1 - e.Damping) / size

	res := Result{}
	for iter := 1; iter <= e.MaxIterations; iter++ {
		dangling := 0.0
		for i, r := range ranks {
			if outDegree[i] == 0 {
				dangling += r
			}
		}
		delta := 0.0
		for i := range next {
			sum := 0.0
			for _, src := range inbound[i] {
				sum += ranks[src] / float64(outDegree[src])
			}
			next[i] = base + e.Damping*(sum+dangling/size)
			delta += math.Abs(next[i] - ranks[i])
		}
		ranks, next = next, ranks
		res.Iterations = iter
		res.Delta = delta
		e.Logger.Debug("pagerank iteration", zap.Int("iteration", iter), zap.Float64("delta", delta))
		if delta < e.Tolerance {
			res.Converged = true
			break
		}
	}

	res.Ranks = make(map[int64]float64, n)
	for i, id := range graph.Nodes {
		res.Ranks[id] = ranks[i]
	}
	return res
}

// Run loads the link graph, computes ranks and writes them back.
func (e Engine) Run(ctx context.Context, store crawler.GraphStore) (Result, error) {
	e = e.withDefaults()
	start := time.Now()
	graph, err := store.LinkGraph(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load link graph: %w", err)
	}
	res := e.Compute(graph)
	if err := store.UpdatePageRanks(ctx, res.Ranks); err != nil {
		return Result{}, fmt.Errorf("store pageranks: %w", err)
	}
	elapsed := time.Since(start)
	metrics.ObservePageRank(res.Iterations, elapsed)
	e.Logger.Info("pagerank complete",
		zap.Int("pages", len(graph.Nodes)),
		zap.Int("edges", len(graph.Edges)),
		zap.Int("iterations", res.Iterations),
		zap.Float64("delta", res.Delta),
		zap.Bool("converged", res.Converged),
		zap.Duration("elapsed", elapsed),
	)
	return res, nil
}
