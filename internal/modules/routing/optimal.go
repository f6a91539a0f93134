package routing

import (
	"math"
	"math/bits"
	"sort"
	"strings"
	"time"

	"courier-routing/internal/models"
)

// OptimalStrategy solves the time-constrained prize-collecting stop selection
// near-optimally: exact subset dynamic programming for small pools, bounded
// beam search above the exact threshold. Selection is part of the
// optimization; not every stop needs to be visited.
type OptimalStrategy struct {
	now func() time.Time
}

func NewOptimalStrategy() *OptimalStrategy {
	return &OptimalStrategy{now: time.Now}
}

func (o *OptimalStrategy) Name() string { return "optimal" }

func (o *OptimalStrategy) Plan(p *planContext) (*plan, error) {
	if len(p.stops) == 0 {
		return &plan{order: nil, optimal: true}, nil
	}
	if len(p.stops) <= p.cfg.ExactSearchThreshold {
		return o.exact(p)
	}
	return o.beam(p)
}

// result is a complete candidate selection being compared during the search.
type result struct {
	order    []int
	earnings float64
	minutes  float64
	hasBreak bool
	key      string
}

// better ranks complete candidates: a requested break trumps earnings (the
// courier asked for it), then higher earnings, then shorter total time, then
// lexicographic stop-ID path for determinism.
func better(a, b result, breakRequested bool) bool {
	if breakRequested && a.hasBreak != b.hasBreak {
		return a.hasBreak
	}
	if a.earnings != b.earnings {
		return a.earnings > b.earnings
	}
	if a.minutes != b.minutes {
		return a.minutes < b.minutes
	}
	return a.key < b.key
}

func (p *planContext) pathKey(order []int) string {
	ids := make([]string, len(order))
	for i, idx := range order {
		ids[i] = p.stops[idx].ID
	}
	return strings.Join(ids, "|")
}

func (p *planContext) breakIndex() int {
	for i, s := range p.stops {
		if s.Type == models.StopTypeBreak {
			return i
		}
	}
	return -1
}

// exact is Held-Karp over stop subsets: times[mask][last] is the minimum
// elapsed minutes visiting exactly the stops in mask, standing at stops[last].
// A break keeps `last` unchanged since it happens in place. The subset
// maximizing earnings within the budget wins; earnings depend on the mask
// alone, so minimizing time per (mask,last) preserves optimality.
func (o *OptimalStrategy) exact(p *planContext) (*plan, error) {
	n := len(p.stops)
	size := 1 << n
	const inf = math.MaxFloat64

	times := make([]float64, size*n)
	parent := make([]int32, size*n)
	for i := range times {
		times[i] = inf
		parent[i] = -1
	}

	visitedIn := func(mask int) func(int) bool {
		return func(i int) bool { return mask&(1<<i) != 0 }
	}

	// Seed: single stops reachable from the courier's start.
	for i := 0; i < n; i++ {
		leg, ok, err := p.feasible(i, visitedIn(0), 0, p.start)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		times[(1<<i)*n+i] = leg.DurationMinutes + p.stops[i].ServiceMinutes(p.handover)
	}

	for mask := 1; mask < size; mask++ {
		if bits.OnesCount(uint(mask)) >= p.maxStops {
			continue
		}
		for last := 0; last < n; last++ {
			if mask&(1<<last) == 0 {
				continue
			}
			elapsed := times[mask*n+last]
			if elapsed == inf {
				continue
			}
			pos := p.stops[last].Location
			for next := 0; next < n; next++ {
				if mask&(1<<next) != 0 {
					continue
				}
				leg, ok, err := p.feasible(next, visitedIn(mask), elapsed, pos)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				total := elapsed + leg.DurationMinutes + p.stops[next].ServiceMinutes(p.handover)

				// A break does not move the courier: keep `last` as the
				// effective position for subsequent legs.
				newLast := next
				if p.stops[next].Type == models.StopTypeBreak {
					newLast = last
				}
				idx := (mask|1<<next)*n + newLast
				if total < times[idx] {
					times[idx] = total
					parent[idx] = int32(mask*n + last)
				}
			}
		}
	}

	breakIdx := p.breakIndex()
	breakRequested := breakIdx >= 0

	best := result{order: nil, key: ""}
	bestState := -1
	for mask := 0; mask < size; mask++ {
		earnings := 0.0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				earnings += p.stops[i].Earning
			}
		}
		for last := 0; last < n; last++ {
			state := mask*n + last
			if mask != 0 && (mask&(1<<last) == 0 || times[state] == inf) {
				continue
			}
			if mask == 0 {
				continue
			}
			cand := result{
				earnings: earnings,
				minutes:  times[state],
				hasBreak: breakIdx >= 0 && mask&(1<<breakIdx) != 0,
				order:    reconstruct(parent, state, n),
			}
			cand.key = p.pathKey(cand.order)
			if bestState == -1 || better(cand, best, breakRequested) {
				best = cand
				bestState = state
			}
		}
	}
	if bestState == -1 {
		return &plan{order: nil, optimal: true}, nil
	}
	return &plan{order: best.order, optimal: true}, nil
}

// reconstruct walks the parent chain back to the seed state, recovering the
// appended stop at each step from the mask difference.
func reconstruct(parent []int32, state, n int) []int {
	order := make([]int, 0, 8)
	for state >= 0 {
		mask := state / n
		prev := int(parent[state])
		prevMask := 0
		if prev >= 0 {
			prevMask = prev / n
		}
		appended := bits.TrailingZeros(uint(mask ^ prevMask))
		order = append(order, appended)
		state = prev
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// beamState is a partial route in the beam search frontier.
type beamState struct {
	mask     uint64
	last     int // effective position index, -1 before the first stop
	minutes  float64
	earnings float64
	order    []int
	key      string
}

// beam is the branch-and-bound fallback for pools too large for exact DP.
// Partial routes expand breadth-first; at each depth only the highest-bound
// BeamWidth states survive. The bound adds to current earnings the sum of
// the top remaining earnings that could still be appended, so any partial
// route whose bound cannot beat the best complete route is pruned. Node and
// wall-clock budgets guarantee termination with a best-found-so-far result.
func (o *OptimalStrategy) beam(p *planContext) (*plan, error) {
	pool := trimPool(p, 60)
	breakRequested := p.breakIndex() >= 0

	// Earnings sorted descending for the pruning bound.
	sortedEarnings := make([]float64, len(pool))
	for i, idx := range pool {
		sortedEarnings[i] = p.stops[idx].Earning
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sortedEarnings)))
	prefix := make([]float64, len(sortedEarnings)+1)
	for i, e := range sortedEarnings {
		prefix[i+1] = prefix[i] + e
	}
	bound := func(st beamState) float64 {
		room := p.maxStops - len(st.order)
		if room > len(sortedEarnings) {
			room = len(sortedEarnings)
		}
		if room < 0 {
			room = 0
		}
		return st.earnings + prefix[room]
	}

	deadline := o.now().Add(p.cfg.SearchTimeout)
	nodes := 0
	truncated := false

	start := beamState{last: -1}
	best := result{order: nil, key: ""}
	frontier := []beamState{start}

search:
	for len(frontier) > 0 {
		children := make([]beamState, 0, len(frontier)*4)
		for _, st := range frontier {
			if nodes >= p.cfg.NodeBudget || o.now().After(deadline) {
				truncated = true
				break search
			}
			if len(st.order) >= p.maxStops {
				continue
			}
			pos := p.start
			if st.last >= 0 {
				pos = p.stops[pool[st.last]].Location
			}
			visited := func(i int) bool {
				for bi, idx := range pool {
					if idx == i {
						return st.mask&(1<<uint(bi)) != 0
					}
				}
				return false // trimmed out of the pool, never visitable
			}
			for bi, idx := range pool {
				if st.mask&(1<<uint(bi)) != 0 {
					continue
				}
				leg, ok, err := p.feasible(idx, visited, st.minutes, pos)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				nodes++

				child := beamState{
					mask:     st.mask | 1<<uint(bi),
					last:     bi,
					minutes:  st.minutes + leg.DurationMinutes + p.stops[idx].ServiceMinutes(p.handover),
					earnings: st.earnings + p.stops[idx].Earning,
					order:    append(append([]int{}, st.order...), idx),
				}
				if p.stops[idx].Type == models.StopTypeBreak {
					child.last = st.last
				}
				child.key = p.pathKey(child.order)

				cand := result{
					order:    child.order,
					earnings: child.earnings,
					minutes:  child.minutes,
					hasBreak: containsBreak(p, child.order),
					key:      child.key,
				}
				if len(best.order) == 0 || better(cand, best, breakRequested) {
					best = cand
				}
				if bound(child) > best.earnings || breakRequested {
					children = append(children, child)
				}
			}
		}

		sort.Slice(children, func(i, j int) bool {
			bi, bj := bound(children[i]), bound(children[j])
			if bi != bj {
				return bi > bj
			}
			if children[i].earnings != children[j].earnings {
				return children[i].earnings > children[j].earnings
			}
			if children[i].minutes != children[j].minutes {
				return children[i].minutes < children[j].minutes
			}
			return children[i].key < children[j].key
		})
		if len(children) > p.cfg.BeamWidth {
			children = children[:p.cfg.BeamWidth]
		}
		frontier = children
	}

	return &plan{order: best.order, optimal: !truncated}, nil
}

func containsBreak(p *planContext, order []int) bool {
	for _, idx := range order {
		if p.stops[idx].Type == models.StopTypeBreak {
			return true
		}
	}
	return false
}

// trimPool caps the stop pool the beam search considers. Orders are admitted
// by descending earning until the cap, and a delivery is never admitted
// without its paired pickup. Break stops are always kept.
func trimPool(p *planContext, limit int) []int {
	if len(p.stops) <= limit {
		indices := make([]int, len(p.stops))
		for i := range indices {
			indices[i] = i
		}
		return indices
	}

	type orderGroup struct {
		orderID string
		earning float64
		indices []int
	}
	groups := make(map[string]*orderGroup)
	groupOrder := make([]string, 0)
	kept := make([]int, 0, limit)
	for i, s := range p.stops {
		if s.Type == models.StopTypeBreak {
			kept = append(kept, i)
			continue
		}
		g, ok := groups[s.OrderID]
		if !ok {
			g = &orderGroup{orderID: s.OrderID}
			groups[s.OrderID] = g
			groupOrder = append(groupOrder, s.OrderID)
		}
		g.earning += s.Earning
		g.indices = append(g.indices, i)
	}

	sorted := make([]*orderGroup, 0, len(groups))
	for _, id := range groupOrder {
		sorted = append(sorted, groups[id])
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].earning != sorted[j].earning {
			return sorted[i].earning > sorted[j].earning
		}
		return sorted[i].orderID < sorted[j].orderID
	})

	for _, g := range sorted {
		if len(kept)+len(g.indices) > limit {
			break
		}
		kept = append(kept, g.indices...)
	}
	sort.Ints(kept)
	return kept
}
