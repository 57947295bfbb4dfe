package pattern

import (
	"fmt"
	"log"
	"sort"

	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// PeerToPeer has no coordinator: every eligible worker contends for each
// ready chunk and a conflict resolution strategy picks the winner.
type PeerToPeer struct {
	cfg     Config
	resolve func(chunk *models.Chunk, candidates []*models.Worker, peers []*models.Worker) *models.Worker
}

// NewPeerToPeer creates the peer-to-peer pattern with the configured
// conflict resolution strategy.
func NewPeerToPeer(cfg Config) (*PeerToPeer, error) {
	p := &PeerToPeer{cfg: cfg}
	switch cfg.Resolution {
	case "priority":
		p.resolve = p.resolveByPriority
	case "auction":
		p.resolve = p.resolveByAuction
	case "voting":
		p.resolve = p.resolveByVoting
	default:
		return nil, fmt.Errorf("unknown conflict resolution %q", cfg.Resolution)
	}
	return p, nil
}

// Name returns "peer-to-peer".
func (p *PeerToPeer) Name() string { return "peer-to-peer" }

// Plan resolves each ready chunk among all eligible peers. The balancer
// is unused here; conflict resolution replaces it.
func (p *PeerToPeer) Plan(g *graph.ChunkGraph, pool *worker.Pool, allow func(string) bool, _ balance.Balancer) (*models.AssignmentPlan, error) {
	plan := &models.AssignmentPlan{Pattern: p.Name()}
	tracker := newCapacityTracker()
	peers := pool.Snapshot()

	for _, chunk := range g.Ready() {
		candidates := eligible(pool, chunk, allow, tracker)
		if len(candidates) == 0 {
			continue
		}
		winner := p.resolve(chunk, candidates, peers)
		if winner == nil {
			continue
		}
		plan.Add(chunk.ID, winner.ID)
		tracker.take(winner.ID)
	}
	return plan, nil
}

// resolveByPriority picks the highest-priority candidate, tie broken by
// worker ID for determinism.
func (p *PeerToPeer) resolveByPriority(_ *models.Chunk, candidates []*models.Worker, _ []*models.Worker) *models.Worker {
	best := candidates[0]
	for _, w := range candidates[1:] {
		if w.Priority > best.Priority || (w.Priority == best.Priority && w.ID < best.ID) {
			best = w
		}
	}
	return best
}

// resolveByAuction has every candidate bid its free capacity; the highest
// bid wins, ties broken by priority then worker ID.
func (p *PeerToPeer) resolveByAuction(_ *models.Chunk, candidates []*models.Worker, _ []*models.Worker) *models.Worker {
	best := candidates[0]
	bestBid := best.Available()
	for _, w := range candidates[1:] {
		bid := w.Available()
		switch {
		case bid > bestBid:
			best, bestBid = w, bid
		case bid == bestBid && w.Priority > best.Priority:
			best = w
		case bid == bestBid && w.Priority == best.Priority && w.ID < best.ID:
			best = w
		}
	}
	return best
}

// resolveByVoting polls every responsive peer for its preferred candidate
// and requires a majority. Degraded and unreachable peers do not respond.
// A failed quorum falls back to priority resolution.
func (p *PeerToPeer) resolveByVoting(chunk *models.Chunk, candidates []*models.Worker, peers []*models.Worker) *models.Worker {
	var voters []*models.Worker
	for _, w := range peers {
		if w.Health == models.WorkerHealthy {
			voters = append(voters, w)
		}
	}
	if len(voters) == 0 {
		log.Printf("[pattern] no responsive peers to vote on chunk %s, falling back to priority", chunk.ID)
		return p.resolveByPriority(chunk, candidates, nil)
	}

	// Each peer votes for the least-loaded candidate, tie broken by ID.
	// Peers share the same view of the pool so votes converge; the quorum
	// check still guards against a split among stale voters.
	tally := make(map[string]int, len(candidates))
	for range voters {
		choice := candidates[0]
		for _, c := range candidates[1:] {
			if c.Load < choice.Load || (c.Load == choice.Load && c.ID < choice.ID) {
				choice = c
			}
		}
		tally[choice.ID]++
	}

	ids := make([]string, 0, len(tally))
	for id := range tally {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if tally[id]*2 > len(voters) {
			for _, c := range candidates {
				if c.ID == id {
					return c
				}
			}
		}
	}

	log.Printf("[pattern] vote on chunk %s reached no majority, falling back to priority", chunk.ID)
	return p.resolveByPriority(chunk, candidates, nil)
}
