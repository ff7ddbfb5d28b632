package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"tradecore/internal/dashboard"
	"tradecore/pkg/tradecore"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	staleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3")) // black on yellow
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// Messages.
type tickMsg time.Time

type snapshotMsg struct {
	snap tradecore.Snapshot
	err  error
}

// Model.
type model struct {
	client   *tradecore.Client
	interval time.Duration
	logger   *slog.Logger

	snap     tradecore.Snapshot
	haveSnap bool
	lastErr  error
	fetching bool

	sortMode      int
	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(client *tradecore.Client, interval time.Duration, logger *slog.Logger) model {
	return model{client: client, interval: interval, logger: logger}
}

func (m model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) fetchCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		snap, err := client.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.fetchCmd(), m.tickCmd())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "s":
			m.sortMode = (m.sortMode + 1) % dashboard.SortModeCount
			if m.ready {
				m.viewport.SetContent(m.renderContent())
			}
			return m, nil
		case "r":
			if m.fetching {
				return m, nil
			}
			m.fetching = true
			return m, m.fetchCmd()
		case "home":
			m.viewport.GotoTop()
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2 // header and footer
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		m.viewport.SetContent(m.renderContent())
		return m, nil

	case tickMsg:
		next := m.tickCmd()
		if m.fetching {
			return m, next
		}
		m.fetching = true
		return m, tea.Batch(m.fetchCmd(), next)

	case snapshotMsg:
		m.fetching = false
		if msg.err != nil {
			if m.lastErr == nil {
				m.logger.Warn("snapshot failed", "addr", m.client.Addr(), "error", msg.err)
			}
			m.lastErr = msg.err
		} else {
			if m.lastErr != nil {
				m.logger.Info("snapshot recovered", "addr", m.client.Addr())
			}
			m.lastErr = nil
			m.snap = msg.snap
			m.haveSnap = true
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var headerBar string
	switch {
	case !m.haveSnap:
		headerBar = staleStyle.Render(dashboard.PadOrTrunc(fmt.Sprintf(" connecting to %s... ", m.client.Addr()), m.width))
	case m.lastErr != nil:
		text := fmt.Sprintf(" STALE since %s    %s ", m.snap.At.Local().Format("15:04:05"), m.lastErr)
		headerBar = staleStyle.Render(dashboard.PadOrTrunc(text, m.width))
	default:
		headerBar = headerStyle.Render(dashboard.PadOrTrunc(dashboard.HeaderText(m.snap, m.sortMode), m.width))
	}

	pct := m.viewport.ScrollPercent() * 100
	footerLeft := " q quit  s sort  r refresh  home top  pgup/dn scroll"
	footerRight := fmt.Sprintf("%.0f%% ", pct)
	gap := m.width - len(footerLeft) - len(footerRight)
	if gap < 0 {
		gap = 0
	}
	footerBar := footerStyle.Render(dashboard.PadOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	if !m.haveSnap {
		if m.lastErr != nil {
			return dimStyle.Render("  waiting for tradecore-trader: "+m.lastErr.Error()) + "\n"
		}
		return dimStyle.Render("  Loading...") + "\n"
	}
	return dashboard.Render(m.snap, m.sortMode, m.width)
}

func main() {
	addr := "localhost:50051"
	if a := os.Getenv("TRADECORE_ADDR"); a != "" {
		addr = a
	}
	addrFlag := flag.String("addr", addr, "status service gRPC address")
	interval := flag.Duration("interval", 5*time.Second, "refresh interval")
	flag.Parse()

	logPath := fmt.Sprintf("/tmp/tradecore-console-%s.log", time.Now().Format("2006-01-02"))
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	logger := slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))

	client, err := tradecore.NewClient(*addrFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()
	logger.Info("console started", "addr", *addrFlag, "interval", *interval)

	p := tea.NewProgram(
		initialModel(client, *interval, logger),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
