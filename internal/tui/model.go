package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/interpreter"
)

// maxErrors — сколько последних ошибок показывать.
const maxErrors = 5

// Controller — команды управления run.
type Controller interface {
	Pause() error
	Resume() error
	Step() error
	Stop() error
}

type eventMsg interaction.Event

type eventsClosedMsg struct{}

type nodeRow struct {
	id   string
	kind domain.NodeKind
}

// Model — состояние экрана наблюдения за run.
type Model struct {
	workflow string
	rows     []nodeRow
	states   map[string]domain.NodeState
	outputs  map[string]any
	errs     []string

	execution domain.ExecutionState
	running   int
	done      bool
	failed    bool
	quitting  bool
	status    string

	control Controller
	events  <-chan interaction.Event

	keys keyMap
	help help.Model
}

// NewModel создаёт модель для графа g. Узлы показываются в порядке
// объявления, все начинают в WAITING.
func NewModel(g *domain.Graph, control Controller, events <-chan interaction.Event) Model {
	m := Model{
		workflow:  g.Name,
		states:    make(map[string]domain.NodeState, g.Size()),
		outputs:   make(map[string]any),
		execution: domain.ExecutionNone,
		control:   control,
		events:    events,
		keys:      defaultKeys(),
		help:      help.New(),
	}
	for _, node := range g.Nodes() {
		m.rows = append(m.rows, nodeRow{id: node.ID, kind: node.Kind})
		m.states[node.ID] = domain.NodeStateWaiting
	}
	return m
}

// Init реализует tea.Model.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan interaction.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update реализует tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(interaction.Event(msg))
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.done = true
		if m.quitting {
			return m, tea.Quit
		}
		return m, nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.done {
			return m, tea.Quit
		}
		m.quitting = true
		m.command("stop", m.control.Stop)
		return m, nil

	case m.done:
		return m, nil

	case key.Matches(msg, m.keys.Pause):
		m.command("pause", m.control.Pause)
	case key.Matches(msg, m.keys.Resume):
		m.command("resume", m.control.Resume)
	case key.Matches(msg, m.keys.Step):
		m.command("step", m.control.Step)
	}
	return m, nil
}

func (m *Model) command(name string, fn func() error) {
	err := fn()
	switch {
	case err == nil:
		m.status = name + " requested"
	case errors.Is(err, interpreter.ErrInvalidTransition):
		m.status = fmt.Sprintf("cannot %s while %s", name, m.execution)
	default:
		m.status = fmt.Sprintf("%s failed: %v", name, err)
	}
}

// apply обновляет модель по событию. События вложенных run
// учитываются только в списке ошибок.
func (m *Model) apply(ev interaction.Event) {
	if ev.Kind == interaction.EventExecutionError && ev.Error != "" {
		m.addError(ev)
	}
	if ev.Depth > 0 {
		return
	}

	switch ev.Kind {
	case interaction.EventNodeStateChanged:
		if _, ok := m.states[ev.NodeID]; ok {
			m.states[ev.NodeID] = ev.NodeState
		}
		if ev.NodeKind == domain.NodeKindOutput && ev.NodeState == domain.NodeStateFinished {
			m.outputs[ev.NodeID] = ev.Value
		}
	case interaction.EventTaskStarted:
		m.running++
	case interaction.EventTaskEnded:
		if m.running > 0 {
			m.running--
		}
		if ev.Error != "" {
			m.addError(ev)
		}
	case interaction.EventExecutionStateChanged:
		m.execution = ev.ExecutionState
	case interaction.EventExecutionCleanup:
		m.done = true
		m.failed = ev.Failed
	}
}

func (m *Model) addError(ev interaction.Event) {
	line := ev.Error
	if ev.NodeID != "" {
		line = ev.NodeID + ": " + line
	}
	m.errs = append(m.errs, line)
	if len(m.errs) > maxErrors {
		m.errs = m.errs[len(m.errs)-maxErrors:]
	}
}

// View реализует tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Interflow · " + m.workflow))
	b.WriteString("  ")
	b.WriteString(executionStyle(m.execution).Render(string(m.execution)))
	if m.done {
		if m.failed {
			b.WriteString("  " + errorStyle.Render("FAILED"))
		} else {
			b.WriteString("  " + stateStyle(domain.NodeStateFinished).Render("SUCCEEDED"))
		}
	}
	b.WriteString("\n\n")

	width := 4
	for _, row := range m.rows {
		width = max(width, len(row.id))
	}
	fmt.Fprintf(&b, "%s\n", headerStyle.Render(fmt.Sprintf("%-*s  %-16s  %s", width, "NODE", "KIND", "STATE")))
	for _, row := range m.rows {
		state := m.states[row.id]
		fmt.Fprintf(&b, "%-*s  %-16s  %s\n", width, row.id, row.kind, stateStyle(state).Render(string(state)))
	}

	if len(m.outputs) > 0 {
		b.WriteString("\n" + headerStyle.Render("OUTPUTS") + "\n")
		for _, row := range m.rows {
			if v, ok := m.outputs[row.id]; ok {
				fmt.Fprintf(&b, "%-*s  %s\n", width, row.id, valueStyle.Render(fmt.Sprint(v)))
			}
		}
	}

	if len(m.errs) > 0 {
		b.WriteString("\n" + headerStyle.Render("ERRORS") + "\n")
		for _, e := range m.errs {
			b.WriteString(errorStyle.Render(e) + "\n")
		}
	}

	b.WriteString("\n")
	if m.status != "" {
		b.WriteString(mutedStyle.Render(m.status) + "\n")
	}
	if m.done {
		b.WriteString(mutedStyle.Render("run finished, press q to exit") + "\n")
	} else {
		b.WriteString(m.help.View(m.keys) + "\n")
	}
	return b.String()
}

// Done сообщает, завершился ли run.
func (m Model) Done() bool {
	return m.done
}

// NodeState возвращает отображаемое состояние узла.
func (m Model) NodeState(id string) domain.NodeState {
	return m.states[id]
}
