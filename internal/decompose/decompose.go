// Package decompose converts a task description into a validated chunk graph.
package decompose

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/chunkflow/chunkflow/internal/graph"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// Strategy selects how a task description is split into chunks.
type Strategy string

const (
	// StrategyPipeline splits the description into strictly sequential stages.
	StrategyPipeline Strategy = "pipeline"
	// StrategyScatterGather produces mutually independent chunks plus a
	// terminal gather chunk depending on all of them.
	StrategyScatterGather Strategy = "scatter-gather"
	// StrategySplit recursively halves the description until every chunk
	// fits under the size bound.
	StrategySplit Strategy = "split"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyPipeline, StrategyScatterGather, StrategySplit:
		return true
	default:
		return false
	}
}

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(name string) (Strategy, error) {
	s := Strategy(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown decomposition strategy %q", name)
	}
	return s, nil
}

// ErrEmptyTask indicates the task has no description to decompose.
var ErrEmptyTask = errors.New("task has no description")

// ChunkTooLargeError indicates a decomposed unit exceeds the size bound.
type ChunkTooLargeError struct {
	// Unit is the offending description fragment.
	Unit string
	// Effort is the estimated effort of the unit.
	Effort int
	// Max is the configured bound.
	Max int
}

func (e *ChunkTooLargeError) Error() string {
	return fmt.Sprintf("chunk %q exceeds size bound: effort %d > max %d", truncate(e.Unit, 40), e.Effort, e.Max)
}

// Decomposer breaks tasks into dependency-annotated chunk graphs.
// Decompose is a pure function over its inputs: identifiers are derived
// from the parent task ID so repeated runs are reproducible.
type Decomposer struct{}

// New creates a new Decomposer.
func New() *Decomposer {
	return &Decomposer{}
}

// Decompose applies the strategy to the task and returns a validated chunk
// graph. maxChunkSize bounds the estimated effort of each chunk.
func (d *Decomposer) Decompose(task *models.Task, strategy Strategy, maxChunkSize int) (*graph.ChunkGraph, error) {
	if task == nil || strings.TrimSpace(task.Description) == "" {
		return nil, ErrEmptyTask
	}
	if maxChunkSize <= 0 {
		return nil, fmt.Errorf("maxChunkSize must be positive, got %d", maxChunkSize)
	}

	var chunks []*models.Chunk
	var err error

	switch strategy {
	case StrategyPipeline:
		chunks, err = d.pipeline(task, maxChunkSize)
	case StrategyScatterGather:
		chunks, err = d.scatterGather(task, maxChunkSize)
	case StrategySplit:
		chunks, err = d.split(task, maxChunkSize)
	default:
		err = fmt.Errorf("unknown chunking strategy %q", strategy)
	}
	if err != nil {
		return nil, err
	}

	g := graph.New()
	if err := g.Build(chunks); err != nil {
		// Strategies only emit forward edges, so a cycle here is an internal bug.
		return nil, fmt.Errorf("validate chunk graph: %w", err)
	}
	return g, nil
}

// pipeline turns each unit of the description into a stage that depends on
// the previous stage.
func (d *Decomposer) pipeline(task *models.Task, maxChunkSize int) ([]*models.Chunk, error) {
	units := splitUnits(task.Description)

	chunks := make([]*models.Chunk, 0, len(units))
	var prevID string
	for i, unit := range units {
		effort := estimateEffort(unit.text)
		if effort > maxChunkSize {
			return nil, &ChunkTooLargeError{Unit: unit.text, Effort: effort, Max: maxChunkSize}
		}

		c := &models.Chunk{
			ID:          chunkID(task.ID, i),
			TaskID:      task.ID,
			Description: unit.text,
			Effort:      effort,
			Capability:  unit.capability,
			Status:      models.ChunkStatusUnassigned,
		}
		if prevID != "" {
			c.DependsOn = []string{prevID}
		}
		prevID = c.ID
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// scatterGather produces one independent chunk per unit and a final gather
// chunk that depends on all scatter chunks.
func (d *Decomposer) scatterGather(task *models.Task, maxChunkSize int) ([]*models.Chunk, error) {
	units := splitUnits(task.Description)

	chunks := make([]*models.Chunk, 0, len(units)+1)
	scatterIDs := make([]string, 0, len(units))
	for i, unit := range units {
		effort := estimateEffort(unit.text)
		if effort > maxChunkSize {
			return nil, &ChunkTooLargeError{Unit: unit.text, Effort: effort, Max: maxChunkSize}
		}

		c := &models.Chunk{
			ID:          chunkID(task.ID, i),
			TaskID:      task.ID,
			Description: unit.text,
			Effort:      effort,
			Capability:  unit.capability,
			Status:      models.ChunkStatusUnassigned,
		}
		scatterIDs = append(scatterIDs, c.ID)
		chunks = append(chunks, c)
	}

	gather := &models.Chunk{
		ID:          chunkID(task.ID, len(units)),
		TaskID:      task.ID,
		Description: "gather: aggregate scatter results",
		Effort:      1,
		Gather:      true,
		DependsOn:   scatterIDs,
		Status:      models.ChunkStatusUnassigned,
	}
	return append(chunks, gather), nil
}

// split recursively halves the description by words until each piece fits
// under the bound. The resulting chunks are mutually independent.
func (d *Decomposer) split(task *models.Task, maxChunkSize int) ([]*models.Chunk, error) {
	words := strings.Fields(task.Description)

	var pieces []string
	var recurse func(ws []string)
	recurse = func(ws []string) {
		if len(ws) == 0 {
			return
		}
		if len(ws) <= maxChunkSize {
			pieces = append(pieces, strings.Join(ws, " "))
			return
		}
		mid := len(ws) / 2
		recurse(ws[:mid])
		recurse(ws[mid:])
	}
	recurse(words)

	chunks := make([]*models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, &models.Chunk{
			ID:          chunkID(task.ID, i),
			TaskID:      task.ID,
			Description: piece,
			Effort:      estimateEffort(piece),
			Status:      models.ChunkStatusUnassigned,
		})
	}
	return chunks, nil
}

// EstimateComplexity returns the effort estimate for a whole description.
func EstimateComplexity(description string) int {
	return estimateEffort(description)
}

// unit is one decomposed fragment of a description with an optional
// capability tag parsed from a leading "[tag]" marker.
type unit struct {
	text       string
	capability string
}

// splitUnits splits a description into units on newlines and semicolons.
// A unit may carry a capability tag: "[build] compile the service".
func splitUnits(description string) []unit {
	raw := strings.FieldsFunc(description, func(r rune) bool {
		return r == '\n' || r == ';'
	})

	units := make([]unit, 0, len(raw))
	for _, part := range raw {
		text := strings.TrimSpace(part)
		if text == "" {
			continue
		}

		var capability string
		if strings.HasPrefix(text, "[") {
			if end := strings.Index(text, "]"); end > 1 {
				capability = text[1:end]
				text = strings.TrimSpace(text[end+1:])
			}
		}
		if text == "" {
			continue
		}
		units = append(units, unit{text: text, capability: capability})
	}
	return units
}

// estimateEffort scores a fragment by its word count, minimum 1.
func estimateEffort(text string) int {
	n := len(strings.Fields(text))
	if n < 1 {
		return 1
	}
	return n
}

// chunkID derives a deterministic chunk identifier from the parent task ID
// and the chunk's ordinal. Reruns over the same task produce the same IDs.
func chunkID(taskID string, ordinal int) string {
	name := fmt.Sprintf("%s/chunk/%d", taskID, ordinal)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()[:8]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
