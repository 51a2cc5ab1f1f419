package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"

	"github.com/gwillem/vrglove/pkg/calibration"
	"github.com/gwillem/vrglove/pkg/glove"
)

type ViewCommand struct {
	Raw    bool   `long:"raw" description:"Only show raw sensor values"`
	Replay string `long:"replay" description:"Read glove samples from a CSV file instead of the serial port"`
}

func (c *ViewCommand) Execute(args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if c.Replay != "" {
		cfg.Glove.Replay = c.Replay
	}

	src, err := openGlove(cfg)
	if err != nil {
		return err
	}
	defer src.Close()

	m := viewModel{src: src}
	if !c.Raw {
		calib, err := calibration.LoadPrefix(cfg.Calibration.Prefix)
		if err != nil {
			logger.Info("showing raw values only", zap.Error(err))
		} else if mapped, err := glove.NewMapped(src, calib); err != nil {
			return err
		} else {
			m.mapped = mapped
			hand, err := openSim(cfg, logger)
			if err != nil {
				return err
			}
			for i := 0; i < mapped.NumActuators() && i < hand.NumActuators(); i++ {
				m.joints = append(m.joints, hand.ActuatorName(i))
			}
		}
	}

	if _, err := tea.NewProgram(m).Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}
	return nil
}

type viewModel struct {
	src    glove.Source
	mapped *glove.Mapped
	joints []string
	raw    []float64
	ctrl   []float64
	err    error
}

func (m viewModel) Init() tea.Cmd {
	return tick()
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			return m, tea.Quit
		}

	case tickMsg:
		ctx := context.Background()
		if m.mapped != nil {
			m.raw, m.ctrl, m.err = m.mapped.Read(ctx)
		} else {
			m.raw, m.err = m.src.ReadRaw(ctx)
		}
		return m, tick()
	}

	return m, nil
}

func (m viewModel) View() string {
	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	raw := make([][]string, 0, len(m.raw))
	for i, v := range m.raw {
		raw = append(raw, []string{fmt.Sprintf("%d", i), fmt.Sprintf("%.0f", v)})
	}
	tables := []string{table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Sensor", "Raw").
		Rows(raw...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()}

	if m.mapped != nil {
		ctrl := make([][]string, 0, len(m.ctrl))
		for i, v := range m.ctrl {
			name := fmt.Sprintf("%d", i)
			if i < len(m.joints) {
				name = m.joints[i]
			}
			ctrl = append(ctrl, []string{name, fmt.Sprintf("%+.3f", v)})
		}
		tables = append(tables, table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(dimStyle).
			Headers("Actuator", "Command").
			Rows(ctrl...).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			}).
			Render())
	}

	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tables...))
	sb.WriteString("\n\n")
	if m.err != nil {
		sb.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render(m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render("Press q to quit"))
	return sb.String()
}
