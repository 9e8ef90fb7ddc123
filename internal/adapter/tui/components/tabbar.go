// Package components provides reusable Bubble Tea sub-models for the TUI.
package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"quickchat/internal/adapter/tui/theme"
	"quickchat/internal/domain"
)

// Tab is one view selector entry.
type Tab struct {
	Mode  domain.ViewMode
	Label string
	Badge string // short status shown next to the label; empty hides it
}

// TabBarModel shows the views with the active one highlighted. The active tab
// mirrors the view controller's mode; the bar never switches on its own.
type TabBarModel struct {
	Tabs   []Tab
	Active domain.ViewMode
	width  int
}

// NewTabBar creates a tab bar with the given tabs. The first tab is active.
func NewTabBar(tabs []Tab) TabBarModel {
	m := TabBarModel{Tabs: tabs}
	if len(tabs) > 0 {
		m.Active = tabs[0].Mode
	}
	return m
}

// SetWidth updates the available width.
func (m *TabBarModel) SetWidth(w int) {
	m.width = w
}

// SetBadge sets the badge of the tab for mode.
func (m *TabBarModel) SetBadge(mode domain.ViewMode, badge string) {
	for i := range m.Tabs {
		if m.Tabs[i].Mode == mode {
			m.Tabs[i].Badge = badge
		}
	}
}

// View renders the tab bar padded to full width.
func (m TabBarModel) View() string {
	if len(m.Tabs) == 0 {
		return ""
	}
	var parts []string
	for _, t := range m.Tabs {
		label := t.Label
		if t.Badge != "" {
			label += " " + t.Badge
		}
		if t.Mode == m.Active {
			parts = append(parts, theme.TabActive.Render(label))
		} else {
			parts = append(parts, theme.TabNormal.Render(label))
		}
	}
	bar := lipgloss.JoinHorizontal(lipgloss.Center, parts...)

	if remaining := m.width - lipgloss.Width(bar); remaining > 0 {
		bar += theme.TabNormal.UnsetPadding().Render(strings.Repeat(" ", remaining))
	}
	return bar
}
