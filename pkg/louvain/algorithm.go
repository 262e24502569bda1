// Package louvain detects communities by multi-level modularity optimisation
// with a resolution parameter.
package louvain

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/rs/zerolog"
)

// Options controls one Louvain run
type Options struct {
	Resolution    float64 // > 0; higher yields more, smaller communities
	Seed          int64   // node visiting order
	MaxLevels     int
	MaxIterations int     // local-moving sweeps per level
	MinGain       float64 // moves gaining less modularity are ignored
	Progress      bool    // log every tenth sweep at info level
	Logger        zerolog.Logger
}

// DefaultOptions returns resolution 1 with the usual convergence limits
func DefaultOptions() Options {
	return Options{
		Resolution:    1.0,
		MaxLevels:     10,
		MaxIterations: 100,
		MinGain:       1e-7,
		Logger:        zerolog.Nop(),
	}
}

// Level summarises one aggregation level
type Level struct {
	Nodes       int     `json:"nodes"`
	Communities int     `json:"communities"`
	Moves       int     `json:"moves"`
	Modularity  float64 `json:"modularity"`
}

// Result is the community assignment of every node of the input graph
type Result struct {
	Membership []int   `json:"membership"` // node -> community, 0 = largest
	Modularity float64 `json:"modularity"`
	Resolution float64 `json:"resolution"`
	Levels     []Level `json:"levels"`
}

// NumCommunities returns the number of distinct communities in Membership
func (r *Result) NumCommunities() int {
	n := 0
	for _, c := range r.Membership {
		if c+1 > n {
			n = c + 1
		}
	}
	return n
}

// state tracks community membership while nodes are moved
type state struct {
	g    *Graph
	comm []int     // node -> community
	size []int     // nodes per community
	tot  []float64 // summed strength per community
}

func newState(g *Graph) *state {
	n := g.Len()
	s := &state{
		g:    g,
		comm: make([]int, n),
		size: make([]int, n),
		tot:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s.comm[i] = i
		s.size[i] = 1
		s.tot[i] = g.Strength[i]
	}
	return s
}

func (s *state) move(node, to int) {
	from := s.comm[node]
	if from == to {
		return
	}
	k := s.g.Strength[node]
	s.size[from]--
	s.tot[from] -= k
	s.size[to]++
	s.tot[to] += k
	s.comm[node] = to
}

func (s *state) count() int {
	n := 0
	for _, sz := range s.size {
		if sz > 0 {
			n++
		}
	}
	return n
}

// gain is the modularity change, scaled by m, of inserting an isolated node of
// strength k into a community of summed strength tot sharing weight kIn with it.
func gain(k, tot, kIn, resolution, m2 float64) float64 {
	return kIn - resolution*k*tot/m2
}

// Modularity computes Q = sum_c [ in_c/2m - resolution*(tot_c/2m)^2 ] for a
// membership vector with non-negative community ids.
func Modularity(g *Graph, membership []int, resolution float64) float64 {
	if g.Total == 0 {
		return 0
	}
	k := 0
	for _, c := range membership {
		if c+1 > k {
			k = c + 1
		}
	}

	in := make([]float64, k)
	tot := make([]float64, k)
	for node, edges := range g.Edges {
		c := membership[node]
		tot[c] += g.Strength[node]
		for _, e := range edges {
			if membership[e.To] != c {
				continue
			}
			if e.To == node {
				in[c] += 2 * e.Weight
			} else {
				in[c] += e.Weight
			}
		}
	}

	m2 := 2 * g.Total
	q := 0.0
	for c := range tot {
		q += in[c]/m2 - resolution*(tot[c]/m2)*(tot[c]/m2)
	}
	return q
}

// localMove sweeps the nodes in random order, moving each to the neighbouring
// community of highest gain, until a sweep moves nothing. Ties go to the lowest
// community id.
func localMove(ctx context.Context, s *state, opts Options, rng *rand.Rand) (int, error) {
	g := s.g
	m2 := 2 * g.Total
	order := rng.Perm(g.Len())
	links := make([]float64, len(s.size))
	touched := make([]int, 0, 16)

	moves := 0
	for sweep := 0; sweep < opts.MaxIterations; sweep++ {
		if err := ctx.Err(); err != nil {
			return moves, err
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		moved := 0
		for _, node := range order {
			from := s.comm[node]
			k := g.Strength[node]

			touched = append(touched[:0], from)
			for _, e := range g.Edges[node] {
				if e.To == node {
					continue
				}
				c := s.comm[e.To]
				if links[c] == 0 && c != from {
					touched = append(touched, c)
				}
				links[c] += e.Weight
			}

			stay := gain(k, s.tot[from]-k, links[from], opts.Resolution, m2)
			best, bestGain := from, stay
			for _, c := range touched[1:] {
				dq := gain(k, s.tot[c], links[c], opts.Resolution, m2)
				if dq > bestGain || (dq == bestGain && best != from && c < best) {
					best, bestGain = c, dq
				}
			}
			for _, c := range touched {
				links[c] = 0
			}

			if best != from && (bestGain-stay)/g.Total > opts.MinGain {
				s.move(node, best)
				moved++
			}
		}
		moves += moved

		if opts.Progress && sweep%10 == 0 {
			opts.Logger.Info().
				Int("sweep", sweep+1).
				Int("moves", moved).
				Float64("modularity", Modularity(g, s.comm, opts.Resolution)).
				Msg("Local moving progress")
		}
		if moved == 0 {
			break
		}
	}
	return moves, nil
}

// aggregate collapses every community into one node. It returns the new graph
// and, for every node of the current graph, the node it was merged into.
func aggregate(s *state) (*Graph, []int, error) {
	g := s.g
	id := make([]int, len(s.size))
	for i := range id {
		id[i] = -1
	}
	n := 0
	super := make([]int, g.Len())
	for node := range super {
		c := s.comm[node]
		if id[c] < 0 {
			id[c] = n
			n++
		}
		super[node] = id[c]
	}

	members := make([][]int, n)
	for node, c := range super {
		members[c] = append(members[c], node)
	}

	out := NewGraph(n)
	weight := make([]float64, n)
	var touched []int
	for c := 0; c < n; c++ {
		touched = touched[:0]
		for _, node := range members[c] {
			for _, e := range g.Edges[node] {
				d := super[e.To]
				if d < c {
					continue
				}
				if weight[d] == 0 {
					touched = append(touched, d)
				}
				if e.To == node {
					weight[d] += 2 * e.Weight
				} else {
					weight[d] += e.Weight
				}
			}
		}
		sort.Ints(touched)
		for _, d := range touched {
			w := weight[d]
			weight[d] = 0
			if d == c {
				w /= 2 // internal edges were seen from both ends
			}
			if err := out.AddEdge(c, d, w); err != nil {
				return nil, nil, fmt.Errorf("aggregating community %d: %w", c, err)
			}
		}
	}
	return out, super, nil
}

// Run executes multi-level Louvain on g. g is not modified.
func Run(ctx context.Context, g *Graph, opts Options) (*Result, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph: %w", err)
	}
	if opts.Resolution <= 0 {
		return nil, fmt.Errorf("resolution must be positive, got %f", opts.Resolution)
	}
	defaults := DefaultOptions()
	if opts.MaxLevels <= 0 {
		opts.MaxLevels = defaults.MaxLevels
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaults.MaxIterations
	}

	seed := uint64(opts.Seed)
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	membership := make([]int, g.Len())
	for i := range membership {
		membership[i] = i
	}
	res := &Result{Resolution: opts.Resolution}
	if g.Total == 0 {
		res.Membership = membership
		return res, nil
	}

	level := g
	for l := 0; l < opts.MaxLevels; l++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s := newState(level)
		moves, err := localMove(ctx, s, opts, rng)
		if err != nil {
			return nil, err
		}
		k := s.count()
		res.Levels = append(res.Levels, Level{
			Nodes:       level.Len(),
			Communities: k,
			Moves:       moves,
			Modularity:  Modularity(level, s.comm, opts.Resolution),
		})
		if moves == 0 {
			break
		}

		next, super, err := aggregate(s)
		if err != nil {
			return nil, err
		}
		for i := range membership {
			membership[i] = super[membership[i]]
		}
		level = next
		if k == 1 {
			break
		}
	}

	res.Membership = Canonicalize(membership)
	res.Modularity = Modularity(g, res.Membership, opts.Resolution)

	opts.Logger.Debug().
		Int("levels", len(res.Levels)).
		Int("communities", res.NumCommunities()).
		Float64("modularity", res.Modularity).
		Msg("Louvain completed")
	return res, nil
}

// Canonicalize relabels communities 0..k-1 by decreasing size, breaking ties by
// the smallest member index, so equal partitions get equal labels.
func Canonicalize(membership []int) []int {
	size := make(map[int]int)
	first := make(map[int]int)
	for i, c := range membership {
		if _, ok := first[c]; !ok {
			first[c] = i
		}
		size[c]++
	}

	ids := make([]int, 0, len(size))
	for c := range size {
		ids = append(ids, c)
	}
	sort.Slice(ids, func(a, b int) bool {
		if size[ids[a]] != size[ids[b]] {
			return size[ids[a]] > size[ids[b]]
		}
		return first[ids[a]] < first[ids[b]]
	})

	relabel := make(map[int]int, len(ids))
	for newID, c := range ids {
		relabel[c] = newID
	}

	out := make([]int, len(membership))
	for i, c := range membership {
		out[i] = relabel[c]
	}
	return out
}
