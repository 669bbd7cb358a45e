// Package tui implements the interactive approval prompt used when
// agentcore's exec/resume commands run attached to a terminal: an
// arrow-key selection between approve / deny / approve-for-session /
// abort, rendered with bubbletea, falling back to a line-oriented
// y/N/a/q prompt when stdin isn't a terminal.
//
// Grounded on cmd/ui/cli_approver.go's approvalModel in the
// lucas-zan-agent-sea example.
package tui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/codexcore/agentcore/internal/approval"
	"github.com/codexcore/agentcore/internal/protocol"
	"github.com/codexcore/agentcore/internal/sandbox"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// Approver prompts for shell/apply-patch approval decisions, implementing
// toolruntime.AskFunc's shape.
type Approver struct {
	reader *bufio.Reader
}

// NewApprover returns an Approver reading fallback input from stdin.
func NewApprover() *Approver {
	return &Approver{reader: bufio.NewReader(os.Stdin)}
}

// Ask prompts for a decision on spec, using the bubbletea selector when
// stdin is a terminal and a line prompt otherwise.
func (a *Approver) Ask(ctx context.Context, spec protocol.CommandSpec, reason sandbox.AskReason, risk *protocol.ApprovalRisk) (approval.Decision, error) {
	printHeader(spec, reason, risk)

	if term.IsTerminal(int(os.Stdin.Fd())) {
		dec, err := a.interactive(spec)
		if err == nil {
			return dec, nil
		}
		// Interactive program failed (no tty control, piped input mid-run):
		// fall back rather than failing the whole turn.
	}
	return a.lineByLine(spec)
}

func printHeader(spec protocol.CommandSpec, reason sandbox.AskReason, risk *protocol.ApprovalRisk) {
	fmt.Println()
	fmt.Println(titleStyle.Render(fmt.Sprintf("Approval requested (%s)", reason)))
	fmt.Printf("command: %s\n", strings.Join(append([]string{spec.Program}, spec.Args...), " "))
	fmt.Printf("cwd:     %s\n", spec.Cwd)
	if spec.Justification != "" {
		fmt.Printf("reason:  %s\n", spec.Justification)
	}
	if risk != nil {
		fmt.Printf("risk:    %s (%s)\n", risk.RiskLevel, risk.Description)
	}
	fmt.Println()
}

func (a *Approver) interactive(spec protocol.CommandSpec) (approval.Decision, error) {
	model := newApprovalModel()
	p := tea.NewProgram(model)
	final, err := p.Run()
	if err != nil {
		return "", err
	}
	m, ok := final.(approvalModel)
	if !ok || m.cancelled {
		return approval.Abort, nil
	}
	return m.options[m.selected].decision, nil
}

func (a *Approver) lineByLine(spec protocol.CommandSpec) (approval.Decision, error) {
	fmt.Print("approve? [y/N/a=always/q=abort] ")
	line, err := a.reader.ReadString('\n')
	if err != nil {
		return approval.Denied, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return approval.Approved, nil
	case "a", "always":
		return approval.ApprovedForSession, nil
	case "q", "quit", "abort":
		return approval.Abort, nil
	default:
		return approval.Denied, nil
	}
}

type approvalOption struct {
	label    string
	decision approval.Decision
}

type approvalModel struct {
	options   []approvalOption
	selected  int
	cancelled bool
}

func newApprovalModel() approvalModel {
	return approvalModel{
		options: []approvalOption{
			{"Approve once", approval.Approved},
			{"Approve for session", approval.ApprovedForSession},
			{"Deny", approval.Denied},
			{"Abort", approval.Abort},
		},
	}
}

func (m approvalModel) Init() tea.Cmd { return nil }

func (m approvalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch keyMsg.String() {
	case "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit
	case "up", "k":
		m.selected = (m.selected - 1 + len(m.options)) % len(m.options)
	case "down", "j":
		m.selected = (m.selected + 1) % len(m.options)
	case "enter":
		return m, tea.Quit
	}
	return m, nil
}

func (m approvalModel) View() string {
	var b strings.Builder
	for i, opt := range m.options {
		if i == m.selected {
			b.WriteString(cursorStyle.Render("> "+opt.label) + "\n")
		} else {
			b.WriteString(dimStyle.Render("  "+opt.label) + "\n")
		}
	}
	b.WriteString(dimStyle.Render("\n↑/↓ to move, enter to select, q to abort\n"))
	return b.String()
}
