package pattern

import (
	"log"
	"sync"
	"time"

	"github.com/chunkflow/chunkflow/internal/balance"
	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// MasterSlave elects the highest-scoring worker as coordinator and
// distributes chunks across the remaining workers. A backup is elected
// alongside the master and promoted when the master stays unreachable
// past the detection timeout.
type MasterSlave struct {
	cfg Config

	mu       sync.Mutex
	masterID string
	backupID string
	// downSince records when the current master was first seen unreachable.
	downSince time.Time
	// now is injectable for tests.
	now func() time.Time
}

// NewMasterSlave creates the master-slave pattern.
func NewMasterSlave(cfg Config) *MasterSlave {
	return &MasterSlave{cfg: cfg, now: time.Now}
}

// Name returns "master-slave".
func (m *MasterSlave) Name() string { return "master-slave" }

// SetClock overrides the pattern's time source, for tests.
func (m *MasterSlave) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Master returns the current master's worker ID, or "" before election.
func (m *MasterSlave) Master() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.masterID
}

// Plan refreshes the election, then assigns ready chunks to slave workers.
// The master only takes chunks when it is the sole reachable worker.
func (m *MasterSlave) Plan(g *graph.ChunkGraph, pool *worker.Pool, allow func(string) bool, lb balance.Balancer) (*models.AssignmentPlan, error) {
	m.refreshElection(pool)

	m.mu.Lock()
	master := m.masterID
	m.mu.Unlock()

	plan := &models.AssignmentPlan{Pattern: m.Name()}
	tracker := newCapacityTracker()

	for _, chunk := range g.Ready() {
		candidates := eligible(pool, chunk, allow, tracker)

		// Slaves first. The master coordinates and only executes when no
		// slave can take the chunk.
		slaves := candidates[:0:0]
		var masterCand *models.Worker
		for _, w := range candidates {
			if w.ID == master {
				masterCand = w
				continue
			}
			slaves = append(slaves, w)
		}
		if len(slaves) == 0 && masterCand != nil {
			slaves = []*models.Worker{masterCand}
		}

		w, err := lb.Pick(chunk, slaves)
		if err != nil {
			continue
		}
		plan.Add(chunk.ID, w.ID)
		tracker.take(w.ID)
	}
	return plan, nil
}

// refreshElection elects or re-elects the master and backup. A master
// that stays unreachable past the detection timeout is replaced by the
// backup; a fresh election fills the backup seat.
func (m *MasterSlave) refreshElection(pool *worker.Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.masterID != "" {
		switch pool.Health(m.masterID) {
		case models.WorkerUnreachable:
			if m.downSince.IsZero() {
				m.downSince = m.now()
				return
			}
			if m.now().Sub(m.downSince) < m.cfg.DetectionTimeout {
				return
			}
			old := m.masterID
			m.masterID = ""
			m.downSince = time.Time{}
			if m.backupID != "" && pool.Health(m.backupID) != models.WorkerUnreachable {
				m.masterID = m.backupID
				m.backupID = ""
				log.Printf("[pattern] master %s unreachable, promoted backup %s", old, m.masterID)
			} else {
				log.Printf("[pattern] master %s unreachable, no backup available", old)
			}
		default:
			m.downSince = time.Time{}
		}
	}

	if m.masterID != "" && m.backupID != "" {
		return
	}
	m.elect(pool)
}

// elect fills empty master/backup seats with the best-scoring reachable
// workers. Caller holds m.mu.
func (m *MasterSlave) elect(pool *worker.Pool) {
	var first, second *models.Worker
	for _, w := range pool.Snapshot() {
		if w.Health == models.WorkerUnreachable {
			continue
		}
		switch {
		case first == nil || w.CapabilityScore() > first.CapabilityScore():
			second = first
			first = w
		case second == nil || w.CapabilityScore() > second.CapabilityScore():
			second = w
		}
	}

	if m.masterID == "" && first != nil {
		m.masterID = first.ID
		log.Printf("[pattern] elected master %s (score %d)", first.ID, first.CapabilityScore())
	}
	if m.backupID == "" {
		for _, cand := range []*models.Worker{first, second} {
			if cand != nil && cand.ID != m.masterID {
				m.backupID = cand.ID
				break
			}
		}
	}
}
