package routing

// GreedyStrategy is the fast heuristic: nearest-neighbor insertion under the
// time budget. It never backtracks, so a stop skipped for budget reasons is
// gone for the rest of the pass.
type GreedyStrategy struct{}

func NewGreedyStrategy() *GreedyStrategy { return &GreedyStrategy{} }

func (g *GreedyStrategy) Name() string { return "greedy" }

func (g *GreedyStrategy) Plan(p *planContext) (*plan, error) {
	visited := make([]bool, len(p.stops))
	isVisited := func(i int) bool { return visited[i] }

	order := make([]int, 0, p.maxStops)
	pos := p.start
	elapsed := 0.0

	for len(order) < p.maxStops {
		best := -1
		var bestLeg float64
		for i := range p.stops {
			if visited[i] {
				continue
			}
			leg, ok, err := p.feasible(i, isVisited, elapsed, pos)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			if best == -1 || closer(p, i, leg.DurationMinutes, best, bestLeg) {
				best = i
				bestLeg = leg.DurationMinutes
			}
		}
		if best == -1 {
			break
		}

		visited[best] = true
		elapsed += bestLeg + p.stops[best].ServiceMinutes(p.handover)
		pos = p.positionAfter(best, pos)
		order = append(order, best)
	}

	return &plan{order: order, optimal: false}, nil
}

// closer decides whether candidate i beats the current best under the greedy
// ordering: shortest travel time, then higher earning, then earlier deadline,
// then smaller stop ID.
func closer(p *planContext, i int, legI float64, j int, legJ float64) bool {
	if legI != legJ {
		return legI < legJ
	}
	si, sj := p.stops[i], p.stops[j]
	if si.Earning != sj.Earning {
		return si.Earning > sj.Earning
	}
	switch {
	case si.Deadline != nil && sj.Deadline == nil:
		return true
	case si.Deadline == nil && sj.Deadline != nil:
		return false
	case si.Deadline != nil && sj.Deadline != nil && !si.Deadline.Equal(*sj.Deadline):
		return si.Deadline.Before(*sj.Deadline)
	}
	return si.ID < sj.ID
}
