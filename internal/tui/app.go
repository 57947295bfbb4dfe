// Package tui provides the terminal dashboard for watching task
// orchestration: chunk progress, worker health and the live event stream.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chunkflow/chunkflow/internal/event"
	"github.com/chunkflow/chunkflow/internal/orchestrator"
	"github.com/chunkflow/chunkflow/internal/worker"
	"github.com/chunkflow/chunkflow/pkg/models"
)

// maxLogLines bounds the event log tail.
const maxLogLines = 12

// EngineEventMsg wraps an engine event for the TUI.
type EngineEventMsg struct {
	Event event.Event
}

// EventsClosedMsg signals the engine event stream has closed.
type EventsClosedMsg struct{}

// tickMsg drives periodic worker snapshot refreshes.
type tickMsg time.Time

// LogEntry is one line in the event log tail.
type LogEntry struct {
	Timestamp time.Time
	Message   string
}

// App is the bubbletea model for the dashboard.
type App struct {
	orch    *orchestrator.Orchestrator
	pool    *worker.Pool
	refresh time.Duration

	taskID  string
	task    *models.Task
	outcome *models.TaskOutcome

	// chunkStates tracks the latest known state per chunk.
	chunkStates map[string]string
	chunkOrder  []string
	workers     []*models.Worker
	logs        []LogEntry

	spin     spinner.Model
	width    int
	height   int
	quitting bool

	headerStyle lipgloss.Style
	panelStyle  lipgloss.Style
	labelStyle  lipgloss.Style
	okStyle     lipgloss.Style
	warnStyle   lipgloss.Style
	failStyle   lipgloss.Style
	dimStyle    lipgloss.Style
}

// New creates the dashboard for one task.
func New(orch *orchestrator.Orchestrator, pool *worker.Pool, taskID string, refresh time.Duration) *App {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return &App{
		orch:        orch,
		pool:        pool,
		refresh:     refresh,
		taskID:      taskID,
		chunkStates: make(map[string]string),
		spin:        sp,

		headerStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		panelStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		labelStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		okStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		warnStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		failStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		dimStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spin.Tick, a.waitForEvent(), a.tick())
}

// waitForEvent bridges the engine event channel into bubbletea messages.
func (a *App) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-a.orch.Events()
		if !ok {
			return EventsClosedMsg{}
		}
		return EngineEventMsg{Event: ev}
	}
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(a.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			a.quitting = true
			return a, tea.Quit
		case "p":
			if a.orch.IsPaused() {
				a.orch.Resume()
			} else {
				a.orch.Pause()
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case EngineEventMsg:
		a.handleEvent(msg.Event)
		return a, a.waitForEvent()

	case EventsClosedMsg:
		return a, nil

	case tickMsg:
		a.workers = a.pool.Snapshot()
		if task, ok := a.orch.Task(a.taskID); ok {
			a.task = task
		}
		if result, ok := a.orch.Result(a.taskID); ok && result != nil {
			a.outcome = result
		}
		return a, a.tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spin, cmd = a.spin.Update(msg)
		return a, cmd
	}
	return a, nil
}

// handleEvent folds one engine event into the dashboard state.
func (a *App) handleEvent(ev event.Event) {
	if ev.TaskID != "" && ev.TaskID != a.taskID {
		return
	}

	switch ev.Type {
	case event.TypeChunkAssigned:
		a.setChunkState(ev.ChunkID, "assigned to "+ev.WorkerID)
	case event.TypeChunkStarted:
		a.setChunkState(ev.ChunkID, "running on "+ev.WorkerID)
	case event.TypeChunkSucceeded:
		a.setChunkState(ev.ChunkID, "succeeded")
	case event.TypeChunkFailed:
		a.setChunkState(ev.ChunkID, "failed")
	case event.TypeChunkRetrying:
		a.setChunkState(ev.ChunkID, fmt.Sprintf("retrying (attempt %d)", ev.Attempt))
	}

	a.logs = append(a.logs, LogEntry{Timestamp: ev.Timestamp, Message: a.describe(ev)})
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}

func (a *App) setChunkState(chunkID, state string) {
	if chunkID == "" {
		return
	}
	if _, known := a.chunkStates[chunkID]; !known {
		a.chunkOrder = append(a.chunkOrder, chunkID)
	}
	a.chunkStates[chunkID] = state
}

func (a *App) describe(ev event.Event) string {
	switch ev.Type {
	case event.TypeTaskSubmitted:
		return fmt.Sprintf("task %s submitted", ev.TaskID)
	case event.TypeTaskDecomposed:
		return fmt.Sprintf("task %s decomposed: %s", ev.TaskID, ev.Message)
	case event.TypeTaskCompleted:
		if ev.Err != nil {
			return fmt.Sprintf("task %s finished with error: %v", ev.TaskID, ev.Err)
		}
		return fmt.Sprintf("task %s finished: %s", ev.TaskID, ev.Message)
	case event.TypeBreakerTransition:
		return fmt.Sprintf("breaker on %s: %s", ev.WorkerID, ev.Message)
	case event.TypeChunkRetrying:
		return fmt.Sprintf("chunk %s retrying on %s: %v", ev.ChunkID, ev.WorkerID, ev.Err)
	default:
		return fmt.Sprintf("chunk %s %s", ev.ChunkID, ev.Type)
	}
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	header := a.renderHeader()
	chunks := a.panelStyle.Render(a.renderChunks())
	workers := a.panelStyle.Render(a.renderWorkers())
	logs := a.panelStyle.Render(a.renderLogs())
	help := a.dimStyle.Render("q quit · p pause/resume")

	return lipgloss.JoinVertical(lipgloss.Left, header, chunks, workers, logs, help)
}

func (a *App) renderHeader() string {
	status := "running"
	if a.task != nil {
		status = string(a.task.Status)
	}

	marker := a.spin.View()
	switch {
	case a.outcome != nil && a.outcome.Status == models.TaskStatusCompleted:
		marker = a.okStyle.Render("✓")
	case a.outcome != nil && a.outcome.Status == models.TaskStatusPartial:
		marker = a.warnStyle.Render("◐")
	case a.outcome != nil:
		marker = a.failStyle.Render("✗")
	case a.orch.IsPaused():
		marker = a.warnStyle.Render("⏸")
		status = "paused"
	}

	return a.headerStyle.Render(fmt.Sprintf("%s task %s · %s", marker, a.taskID, status))
}

func (a *App) renderChunks() string {
	if len(a.chunkOrder) == 0 {
		return a.dimStyle.Render("decomposing...")
	}

	out := a.labelStyle.Render(fmt.Sprintf("chunks (%d)", len(a.chunkOrder))) + "\n"
	for _, id := range a.chunkOrder {
		state := a.chunkStates[id]
		line := fmt.Sprintf("  %s  %s", id, state)
		switch {
		case state == "succeeded":
			line = a.okStyle.Render(line)
		case state == "failed":
			line = a.failStyle.Render(line)
		}
		out += line + "\n"
	}
	return out
}

func (a *App) renderWorkers() string {
	if len(a.workers) == 0 {
		return a.dimStyle.Render("no workers registered")
	}

	out := a.labelStyle.Render(fmt.Sprintf("workers (%d)", len(a.workers))) + "\n"
	for _, w := range a.workers {
		health := string(w.Health)
		line := fmt.Sprintf("  %-12s %d/%d  %s", w.ID, w.Load, w.Capacity, health)
		switch w.Health {
		case models.WorkerHealthy:
			line = a.okStyle.Render(line)
		case models.WorkerDegraded:
			line = a.warnStyle.Render(line)
		default:
			line = a.failStyle.Render(line)
		}
		out += line + "\n"
	}
	return out
}

func (a *App) renderLogs() string {
	if len(a.logs) == 0 {
		return a.dimStyle.Render("waiting for events...")
	}

	out := a.labelStyle.Render("events") + "\n"
	for _, entry := range a.logs {
		out += fmt.Sprintf("  %s %s\n", a.dimStyle.Render(entry.Timestamp.Format("15:04:05")), entry.Message)
	}
	return out
}

// Run starts the dashboard and blocks until the user quits.
func Run(orch *orchestrator.Orchestrator, pool *worker.Pool, taskID string, refresh time.Duration) error {
	app := New(orch, pool, taskID, refresh)
	_, err := tea.NewProgram(app, tea.WithAltScreen()).Run()
	return err
}
