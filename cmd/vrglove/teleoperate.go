package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/vrglove/pkg/calibration"
	"github.com/gwillem/vrglove/pkg/config"
	"github.com/gwillem/vrglove/pkg/glove"
	"github.com/gwillem/vrglove/pkg/sim"
	"github.com/gwillem/vrglove/pkg/simlog"
	"github.com/gwillem/vrglove/pkg/telemetry"
	"github.com/gwillem/vrglove/pkg/teleop"
	"github.com/gwillem/vrglove/pkg/vr"
)

type TeleoperateCommand struct {
	Hz        int    `long:"hz" description:"Simulation step rate (overrides teleop.hz)"`
	Glove     bool   `long:"glove" description:"Drive the hand from the calibrated glove"`
	Log       string `long:"log" description:"Log every step to <prefix>_<timestamp>.log"`
	Model     string `long:"model" description:"Kinematic model file (default: built-in hand)"`
	Runtime   string `long:"runtime" choice:"mock" choice:"mqtt" description:"VR runtime"`
	Listen    string `long:"listen" description:"Serve telemetry on this address, e.g. :8080"`
	MQTTTopic string `long:"mqtt-topic" description:"Publish telemetry on this MQTT topic"`
}

const (
	headerHeight = 3 // title + status + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Series colors, cycled over the chart lines
var seriesColors = []string{"196", "208", "226", "46", "51", "201", "99"}

const gripperSeries = "gripper"

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// series is one chart line: the mean of some actuators, as percent of range.
type series struct {
	name   string
	joints []int
	color  string
}

// chartSeries plots one line per finger group plus the gripper.
func chartSeries(hand sim.Sim, groups []calibration.FingerGroup) []series {
	var out []series
	for _, g := range groups {
		var joints []int
		for _, j := range g.Joints {
			if j < hand.NumActuators() {
				joints = append(joints, j)
			}
		}
		if len(joints) > 0 {
			out = append(out, series{name: g.Name, joints: joints})
		}
	}
	if id := hand.ActuatorID(teleop.RightGripper); id >= 0 {
		out = append(out, series{name: gripperSeries, joints: []int{id}})
	}
	for i := range out {
		out[i].color = seriesColors[i%len(seriesColors)]
	}
	return out
}

type teleopModel struct {
	ctrl     *teleop.Controller
	chart    *streamlinechart.Model
	series   []series
	ranges   [][2]float64
	state    teleop.State
	width    int      // terminal width
	height   int      // terminal height
	logs     []string // last N log messages
	quitting bool
	lastCtrl []float64 // previous commands, to freeze the chart when idle
}

func (m *teleopModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any command changed since the last state
func (m *teleopModel) hasMovement(ctrl []float64) bool {
	if len(m.lastCtrl) != len(ctrl) {
		return true
	}
	for i, v := range ctrl {
		if v != m.lastCtrl[i] {
			return true
		}
	}
	return false
}

// percent averages the selected commands, each scaled to its range.
func (m *teleopModel) percent(s series, ctrl []float64) float64 {
	var sum float64
	for _, j := range s.joints {
		lo, hi := m.ranges[j][0], m.ranges[j][1]
		if j >= len(ctrl) || hi <= lo {
			continue
		}
		sum += (ctrl[j] - lo) / (hi - lo)
	}
	return 100 * sum / float64(len(s.joints))
}

// Messages from the controller
type stateMsg teleop.State
type logMsg string

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(ctrl *teleop.Controller, hand sim.Sim, groups []calibration.FingerGroup) teleopModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(0, 100),
	)

	lines := chartSeries(hand, groups)
	for _, s := range lines {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color))
		chart.SetDataSetStyles(s.name, runes.ThinLineStyle, style)
	}

	ranges := make([][2]float64, hand.NumActuators())
	for i := range ranges {
		ranges[i][0], ranges[i][1] = hand.CtrlRange(i)
	}

	return teleopModel{
		ctrl:   ctrl,
		chart:  &chart,
		series: lines,
		ranges: ranges,
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "backspace":
			m.ctrl.Reset()
		}

	case stateMsg:
		state := teleop.State(msg)
		if state.Error != nil {
			return m, waitForState(m.ctrl)
		}
		m.state = state
		if state.Ctrl != nil && m.hasMovement(state.Ctrl) {
			for _, s := range m.series {
				m.chart.PushDataSet(s.name, m.percent(s, state.Ctrl))
			}
			m.chart.DrawAll()
			m.lastCtrl = state.Ctrl
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("vrglove Teleoperate"))
	sb.WriteString(fmt.Sprintf(" - %d Hz", m.ctrl.Hz()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n")
	sb.WriteString(renderStatus(m.state))
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(renderLegend(m.series))
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20)).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit, backspace to reset")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func renderStatus(s teleop.State) string {
	parts := []string{
		fmt.Sprintf("t=%.2fs", s.Time),
		fmt.Sprintf("%.0f fps", s.FPS),
		fmt.Sprintf("scale %.2f", s.Scale),
	}
	if s.Tracking {
		parts = append(parts, "tracking")
	}
	for i, h := range s.Hands {
		if !h.Present {
			continue
		}
		hand := fmt.Sprintf("hand %d: %s", i, h.Tool)
		if h.BodyName != "" {
			hand += " " + h.BodyName
		}
		if h.Holding {
			hand += " (holding)"
		}
		if h.Message != "" {
			hand += " " + h.Message
		}
		parts = append(parts, hand)
	}
	return statusStyle.Render(strings.Join(parts, "  "))
}

func renderLegend(lines []series) string {
	var items []string
	for _, s := range lines {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.name)
	}
	return strings.Join(items, "  ")
}

func (c *TeleoperateCommand) apply(cfg *config.Config) {
	if c.Hz > 0 {
		cfg.Teleop.Hz = c.Hz
	}
	if c.Glove {
		cfg.Teleop.UseGlove = true
	}
	if c.Log != "" {
		cfg.Teleop.LogPrefix = c.Log
	}
	if c.Model != "" {
		cfg.Teleop.Model = c.Model
	}
	if c.Runtime != "" {
		cfg.VR.Runtime = c.Runtime
	}
	if c.Listen != "" {
		cfg.Telemetry.Listen = c.Listen
	}
	if c.MQTTTopic != "" {
		cfg.Telemetry.MQTTTopic = c.MQTTTopic
	}
}

func (c *TeleoperateCommand) Execute(args []string) error {
	cfg, logger, err := loadConfig(true)
	if err != nil {
		return err
	}
	defer logger.Sync()
	c.apply(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl, hand, err := buildController(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	done := make(chan error, 1)
	go func() {
		done <- ctrl.Start(ctx)
	}()

	p := tea.NewProgram(initialTeleopModel(ctrl, hand, cfg.FingerGroups()), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run TUI: %w", err)
	}

	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("controller: %w", err)
	}
	return nil
}

// buildController wires the simulator, VR runtime, glove, step log and
// telemetry from cfg. The telemetry hub is served until ctx is done.
func buildController(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*teleop.Controller, sim.Sim, error) {
	hand, err := openSim(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	hand.Reset()

	var runtime vr.Runtime
	switch cfg.VR.Runtime {
	case "mqtt":
		runtime, err = vr.NewBridge(vr.BridgeConfig{
			Broker:   cfg.VR.Broker,
			ClientID: cfg.VR.ClientID,
			Topic:    cfg.VR.Topic,
			Eyes:     vr.DefaultEyeOffsets,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
	default:
		runtime = vr.NewMock()
	}

	tc := teleop.Config{
		Sim:     hand,
		Runtime: runtime,
		Logger:  logger,
		Hz:      cfg.Teleop.Hz,
	}

	// Everything opened so far is closed by the controller, or here on error.
	fail := func(err error) (*teleop.Controller, sim.Sim, error) {
		runtime.Close()
		if tc.Glove != nil {
			tc.Glove.Close()
		}
		if tc.Log != nil {
			tc.Log.Close()
		}
		if tc.Publisher != nil {
			tc.Publisher.Close()
		}
		return nil, nil, err
	}

	if cfg.Teleop.UseGlove {
		calib, err := calibration.LoadPrefix(cfg.Calibration.Prefix)
		if err != nil {
			return fail(fmt.Errorf("load calibration (run 'vrglove calibrate' first): %w", err))
		}
		src, err := openGlove(cfg)
		if err != nil {
			return fail(err)
		}
		mapped, err := glove.NewMapped(src, calib)
		if err != nil {
			src.Close()
			return fail(err)
		}
		tc.Glove = mapped
	}

	if cfg.Teleop.LogPrefix != "" {
		w, err := simlog.Create(cfg.Teleop.LogPrefix, time.Now(), hand.Dims(), hand.Names())
		if err != nil {
			return fail(err)
		}
		tc.Log = w
	}

	var pubs []telemetry.Publisher
	if cfg.Telemetry.Listen != "" {
		hub := telemetry.NewHub(logger)
		go func() {
			if err := hub.ListenAndServe(ctx, cfg.Telemetry.Listen); err != nil {
				logger.Error("telemetry hub stopped", zap.Error(err))
			}
		}()
		pubs = append(pubs, hub)
	}
	if cfg.Telemetry.MQTTTopic != "" {
		pub, err := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker:   cfg.VR.Broker,
			ClientID: cfg.VR.ClientID + "-telemetry",
			Topic:    cfg.Telemetry.MQTTTopic,
		}, logger)
		if err != nil {
			return fail(multierr.Append(err, telemetry.Multi(pubs...).Close()))
		}
		pubs = append(pubs, pub)
	}
	if len(pubs) > 0 {
		tc.Publisher = telemetry.Multi(pubs...)
	}

	ctrl, err := teleop.NewController(tc)
	if err != nil {
		return fail(err)
	}
	return ctrl, hand, nil
}
