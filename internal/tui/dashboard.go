// File path: internal/tui/dashboard.go

// Package tui renders the live telemetry dashboard: catalog, queue and
// system rollups, entity and discovery counts, and the in-flight operation
// with its ETA, polled from the daemon's control plane once a second.
package tui

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Snapshot is the subset of /telemetry the dashboard renders.
type Snapshot struct {
	Status struct {
		Version       string  `json:"version"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	} `json:"status"`
	Catalog struct {
		FilesTotal          int            `json:"files_total"`
		FilesByStatus       map[string]int `json:"files_by_status"`
		ChunksTotal         int            `json:"chunks_total"`
		EntitiesTotal       int            `json:"entities_total"`
		EntitiesByType      map[string]int `json:"entities_by_type"`
		PatternsTotal       int            `json:"patterns_total"`
		DiscoveriesByStatus map[string]int `json:"discoveries_by_status"`
	} `json:"catalog"`
	Queue struct {
		Pending        int `json:"pending"`
		Running        int `json:"running"`
		SucceededTotal int `json:"succeeded_total"`
		FailedTotal    int `json:"failed_total"`
	} `json:"queue"`
	System struct {
		CPUPercent     float64 `json:"cpu_percent"`
		MemoryRSSBytes int64   `json:"memory_rss_bytes"`
		GPUAvailable   bool    `json:"gpu_available"`
		GPUName        string  `json:"gpu_name"`
	} `json:"system"`
	Operation *struct {
		Kind       string    `json:"kind"`
		StartedAt  time.Time `json:"started_at"`
		ETASeconds *float64  `json:"eta_seconds"`
		Details    string    `json:"details"`
	} `json:"operation"`
}

type tickMsg time.Time

type snapshotMsg struct {
	snapshot *Snapshot
	err      error
}

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	baseURL string
	client  *http.Client
	spin    spinner.Model

	snapshot *Snapshot
	err      error
	width    int
}

// New builds a dashboard polling the given control-plane base URL.
func New(baseURL string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Model{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 3 * time.Second},
		spin:    sp,
		width:   80,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.fetch, tick())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) fetch() tea.Msg {
	resp, err := m.client.Get(m.baseURL + "/api/v1/telemetry")
	if err != nil {
		return snapshotMsg{err: err}
	}
	defer resp.Body.Close()
	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snapshotMsg{err: err}
	}
	return snapshotMsg{snapshot: &snap}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.fetch, tick())
	case snapshotMsg:
		m.snapshot = msg.snapshot
		m.err = msg.err
		return m, nil
	}
	var cmd tea.Cmd
	m.spin, cmd = m.spin.Update(msg)
	return m, cmd
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

func (m Model) View() string {
	header := titleStyle.Render("Excavator") + dimStyle.Render("  press q to quit")
	if m.err != nil {
		return header + "\n" + errorStyle.Render("daemon unreachable: "+m.err.Error()) + "\n"
	}
	if m.snapshot == nil {
		return header + "\n" + m.spin.View() + " connecting...\n"
	}
	s := m.snapshot

	catalog := boxStyle.Render(fmt.Sprintf(
		"Catalog\nfiles    %d\nchunks   %d\nentities %d\npatterns %d",
		s.Catalog.FilesTotal, s.Catalog.ChunksTotal, s.Catalog.EntitiesTotal, s.Catalog.PatternsTotal,
	))
	queueBox := boxStyle.Render(fmt.Sprintf(
		"Queue\npending   %d\nrunning   %d\nsucceeded %d\nfailed    %d",
		s.Queue.Pending, s.Queue.Running, s.Queue.SucceededTotal, s.Queue.FailedTotal,
	))
	gpu := "unavailable"
	if s.System.GPUAvailable {
		gpu = s.System.GPUName
	}
	system := boxStyle.Render(fmt.Sprintf(
		"System\ncpu %.1f%%\nrss %.1f MB\ngpu %s",
		s.System.CPUPercent, float64(s.System.MemoryRSSBytes)/(1<<20), gpu,
	))

	var opLine string
	if op := s.Operation; op != nil {
		elapsed := time.Since(op.StartedAt).Round(time.Second)
		eta := "?"
		if op.ETASeconds != nil {
			eta = (time.Duration(*op.ETASeconds) * time.Second).Round(time.Second).String()
		}
		opLine = activeStyle.Render(fmt.Sprintf("%s %s [%s] elapsed %s eta %s",
			m.spin.View(), op.Kind, op.Details, elapsed, eta))
	} else {
		opLine = dimStyle.Render("idle")
	}

	entities := renderCounts("Entities", s.Catalog.EntitiesByType)
	discoveries := renderCounts("Discoveries", s.Catalog.DiscoveriesByStatus)

	row := lipgloss.JoinHorizontal(lipgloss.Top, catalog, queueBox, system)
	footer := dimStyle.Render(fmt.Sprintf("v%s up %s", s.Status.Version,
		(time.Duration(s.Status.UptimeSeconds)*time.Second).Round(time.Second)))
	return strings.Join([]string{header, row, entities, discoveries, opLine, footer}, "\n") + "\n"
}

func renderCounts(label string, counts map[string]int) string {
	if len(counts) == 0 {
		return boxStyle.Render(label + "\n" + dimStyle.Render("none"))
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{label}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-12s %d", strings.ToLower(k), counts[k]))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
