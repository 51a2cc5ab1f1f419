package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/gwillem/vrglove/pkg/calibration"
	"github.com/gwillem/vrglove/pkg/config"
	"github.com/gwillem/vrglove/pkg/glove"
	"github.com/gwillem/vrglove/pkg/sim"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type CalibrateCommand struct {
	Poses    string `long:"poses" description:"Reference poses CSV (overrides calibration.poses)"`
	Prefix   string `short:"o" long:"prefix" description:"Output prefix for .calib, .userRange and .handRange"`
	Replay   string `long:"replay" description:"Read glove samples from a CSV file instead of the serial port"`
	Dump     string `long:"dump" description:"Directory for CSV and Matlab dumps of the captured matrices"`
	Samples  int    `long:"samples" description:"Samples per pose (overrides calibration.samples_per_pose)"`
	FromDump string `long:"from-dump" description:"Refit from gloveValues.csv and userRange.csv in this directory instead of the glove"`
}

func (c *CalibrateCommand) Execute(args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if c.Poses != "" {
		cfg.Calibration.Poses = c.Poses
	}
	if c.Prefix != "" {
		cfg.Calibration.Prefix = c.Prefix
	}
	if c.Replay != "" {
		cfg.Glove.Replay = c.Replay
	}
	if c.Dump != "" {
		cfg.Calibration.DumpDir = c.Dump
	}
	if c.Samples > 0 {
		cfg.Calibration.SamplesPerPose = c.Samples
	}

	fmt.Println(headerStyle.Render("vrglove Calibration"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━"))
	fmt.Println()

	poses, err := calibration.LoadPosesFile(cfg.Calibration.Poses)
	if err != nil {
		return err
	}
	fmt.Printf("Loaded %d poses of %d joints from %s\n", poses.NumPoses(), poses.NumJoints(), cfg.Calibration.Poses)

	hand, err := openSim(cfg, logger)
	if err != nil {
		return err
	}
	ranges, err := handRange(hand, poses.NumJoints())
	if err != nil {
		return err
	}
	for i, name := range poses.Joints {
		if i < hand.NumActuators() && name != hand.ActuatorName(i) {
			logger.Warn("pose joint does not match actuator", zap.Int("index", i), zap.String("joint", name), zap.String("actuator", hand.ActuatorName(i)))
		}
	}
	jointPoses, err := calibration.PosesToJoints(poses.Values, ranges)
	if err != nil {
		return err
	}

	groups := cfg.FingerGroups()

	var session *calibration.Session
	if c.FromDump != "" {
		session = calibration.NewSession(cfg.Glove.Sensors, ranges, groups, logger)
		if err := session.LoadCaptured(c.FromDump, jointPoses); err != nil {
			return err
		}
		fmt.Printf("Loaded glove values and ranges from %s\n", c.FromDump)
	} else {
		session, err = captureLive(cfg, poses, hand, ranges, jointPoses, groups, logger)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println("Calibration aborted.")
				return nil
			}
			return err
		}
	}

	// Step 3: fit
	res, err := session.Compute()
	if err != nil {
		return err
	}
	if cfg.Calibration.DumpDir != "" {
		if err := dumpMatrices(cfg.Calibration.DumpDir, res); err != nil {
			return err
		}
		fmt.Printf("Matrices written to %s\n", cfg.Calibration.DumpDir)
	}
	if err := res.Calibration.Save(cfg.Calibration.Prefix); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(renderResiduals(groups, res.Residuals))
	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Calibration complete!"))
	fmt.Printf("Saved %s{%s,%s,%s}\n", cfg.Calibration.Prefix, calibration.SuffixCalib, calibration.SuffixUserRange, calibration.SuffixHandRange)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("vrglove teleoperate --glove"))
	return nil
}

// captureLive records the glove range and every pose from the glove.
func captureLive(cfg *config.Config, poses *calibration.Poses, hand sim.Sim, ranges, jointPoses *mat.Dense, groups []calibration.FingerGroup, logger *zap.Logger) (*calibration.Session, error) {
	src, err := openGlove(cfg)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	for _, g := range groups {
		if err := g.Validate(src.NumSensors(), poses.NumJoints()); err != nil {
			return nil, err
		}
	}

	session := calibration.NewSession(src.NumSensors(), ranges, groups, logger)
	session.Settle = cfg.Calibration.Settle

	// Step 1: range of motion
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Record glove range ━━━"))
	fmt.Println("Open and close the hand, spread and bend every finger and the wrist.")
	fmt.Println()

	final, err := tea.NewProgram(newRangeModel(src, session, cfg.Calibration.Explore)).Run()
	if err != nil {
		return nil, fmt.Errorf("range exploration: %w", err)
	}
	if err := final.(rangeModel).live.err(); err != nil {
		return nil, fmt.Errorf("range exploration: %w", err)
	}

	// Step 2: poses
	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ Capture poses ━━━"))
	fmt.Printf("Hold each pose while %d samples are taken.\n\n", cfg.Calibration.SamplesPerPose)

	prompt := func(pose int) error {
		fmt.Println(renderPose(poses, hand.ActuatorName, pose))
		return waitForUser(fmt.Sprintf("Pose %d of %d: make this pose with the glove", pose+1, poses.NumPoses()))
	}
	if err := session.Capture(context.Background(), src, jointPoses, cfg.Calibration.SamplesPerPose, prompt); err != nil {
		return nil, err
	}
	return session, nil
}

func waitForUser(prompt string) error {
	fmt.Println(prompt)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("").
				Affirmative("Capture").
				Negative("").
				Value(new(bool)),
		),
	)
	return form.Run()
}

func renderPose(poses *calibration.Poses, actuatorName func(int) string, pose int) string {
	rows := make([][]string, 0, poses.NumJoints())
	for j := 0; j < poses.NumJoints(); j++ {
		name := actuatorName(j)
		if j < len(poses.Joints) {
			name = poses.Joints[j]
		}
		rows = append(rows, []string{name, fmt.Sprintf("%+.2f", poses.Values.At(pose, j))})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Joint", "Pose").
		Rows(rows...).
		Render()
}

func renderResiduals(groups []calibration.FingerGroup, residuals map[string]float64) string {
	rows := make([][]string, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, []string{g.Name, fmt.Sprintf("%d", len(g.Sensors)), fmt.Sprintf("%d", len(g.Joints)), fmt.Sprintf("%.4f", residuals[g.Name])})
	}
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Group", "Sensors", "Joints", "RMS").
		Rows(rows...).
		Render()
}

func dumpMatrices(dir string, res *calibration.Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dump dir: %w", err)
	}
	dumps := []struct {
		name string
		m    mat.Matrix
	}{
		{"trueValues", res.TrueValues},
		{"trueValuesN", res.TrueN},
		{"gloveValues", res.GloveValues},
		{"gloveValuesN", res.GloveN},
		{"userRange", res.Calibration.UserRange},
		{"handRange", res.Calibration.HandRange},
		{"calib", res.Calibration.Matrix},
	}
	for _, d := range dumps {
		if err := calibration.WriteCSVFile(filepath.Join(dir, d.name+".csv"), d.m); err != nil {
			return err
		}
		if err := calibration.WriteMatlabFile(dir, d.name, d.m); err != nil {
			return err
		}
	}
	return nil
}

// Range exploration TUI. The session samples the glove in the background;
// the model only renders and stops it.
type rangeModel struct {
	session  *calibration.Session
	live     *liveRange
	explore  tea.Cmd
	cancel   context.CancelFunc
	deadline time.Time
	quitting bool
}

// liveRange is shared with the sampling goroutine.
type liveRange struct {
	mu      sync.Mutex
	current []float64
	done    error
}

func (l *liveRange) set(sample []float64) {
	l.mu.Lock()
	l.current = sample
	l.mu.Unlock()
}

func (l *liveRange) sample() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *liveRange) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

type tickMsg time.Time
type exploreDoneMsg struct{ err error }

const sampleInterval = 20 * time.Millisecond

// waitUntilStopped explores until Enter when no duration is configured.
const waitUntilStopped = 24 * time.Hour

func newRangeModel(src glove.Source, session *calibration.Session, explore time.Duration) rangeModel {
	m := rangeModel{session: session, live: &liveRange{}}
	session.OnSample = m.live.set
	if explore > 0 {
		m.deadline = time.Now().Add(session.Settle + explore)
	} else {
		explore = waitUntilStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.explore = func() tea.Msg {
		err := session.ExploreRanges(ctx, src, explore)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return exploreDoneMsg{err: err}
	}
	return m
}

func tick() tea.Cmd {
	return tea.Tick(sampleInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m rangeModel) Init() tea.Cmd {
	return tea.Batch(m.explore, tick())
}

func (m rangeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			// ExploreRanges returns and reports back
			m.cancel()
		}

	case exploreDoneMsg:
		m.live.mu.Lock()
		m.live.done = msg.err
		m.live.mu.Unlock()
		m.cancel()
		m.quitting = true
		return m, tea.Quit

	case tickMsg:
		return m, tick()
	}

	return m, nil
}

func (m rangeModel) View() string {
	if m.quitting {
		return ""
	}

	var sb strings.Builder

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableSensorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	current := m.live.sample()
	ranges := m.session.Tracker.Ranges()
	n, _ := ranges.Dims()
	spans := make([]float64, n)
	rows := make([][]string, 0, n)
	for i := 0; i < n; i++ {
		lo, hi := ranges.At(i, 0), ranges.At(i, 1)
		cur := "-"
		if i < len(current) {
			cur = fmt.Sprintf("%.0f", current[i])
		}
		if hi < lo {
			rows = append(rows, []string{fmt.Sprintf("%d", i), cur, "-", "-", "0"})
			continue
		}
		spans[i] = hi - lo
		rows = append(rows, []string{
			fmt.Sprintf("%d", i),
			cur,
			fmt.Sprintf("%.0f", lo),
			fmt.Sprintf("%.0f", hi),
			fmt.Sprintf("%.0f", spans[i]),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Sensor", "Current", "Min", "Max", "Range").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableSensorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(spans) && spans[row] > 50 {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	if !m.deadline.IsZero() {
		left := max(time.Until(m.deadline).Round(time.Second), 0)
		sb.WriteString(dimStyle.Render(fmt.Sprintf("%s left, press Enter when done", left)))
	} else {
		sb.WriteString(dimStyle.Render("Press Enter when done"))
	}

	return sb.String()
}
