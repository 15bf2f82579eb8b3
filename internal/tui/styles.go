package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/shaiso/Interflow/internal/domain"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#CCCCCC"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))

	stateStyles = map[domain.NodeState]lipgloss.Style{
		domain.NodeStateWaiting:   lipgloss.NewStyle().Foreground(lipgloss.Color("#999999")),
		domain.NodeStateExecuting: lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		domain.NodeStateFinished:  lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")),
		domain.NodeStateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
	}

	executionStyles = map[domain.ExecutionState]lipgloss.Style{
		domain.ExecutionRunning: lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true),
		domain.ExecutionPaused:  lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true),
		domain.ExecutionStep:    lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")),
		domain.ExecutionStopped: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
	}
)

func stateStyle(s domain.NodeState) lipgloss.Style {
	if st, ok := stateStyles[s]; ok {
		return st
	}
	return mutedStyle
}

func executionStyle(s domain.ExecutionState) lipgloss.Style {
	if st, ok := executionStyles[s]; ok {
		return st
	}
	return mutedStyle
}
