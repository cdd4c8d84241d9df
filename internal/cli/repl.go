// Package cli implements the interactive terminal frontend.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/nuwa-labs/nuwa/internal/agent"
	"github.com/nuwa-labs/nuwa/internal/config"
	"github.com/nuwa-labs/nuwa/internal/session"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
)

// REPL drives the read-eval-print loop over an agent.
type REPL struct {
	agent    *agent.Agent
	sessions *session.Store
	cfg      *config.Config
	logger   *zap.Logger

	in       io.Reader
	out      io.Writer
	stream   bool
	renderer *glamour.TermRenderer
}

// NewREPL wires the loop. sessions may be nil to disable persistence.
func NewREPL(a *agent.Agent, sessions *session.Store, cfg *config.Config, stream bool, logger *zap.Logger) *REPL {
	r := &REPL{
		agent:    a,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		in:       os.Stdin,
		out:      os.Stdout,
		stream:   stream,
	}

	if term.IsTerminal(int(os.Stdout.Fd())) && !stream {
		width := 100
		if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
			width = w - 2
		}
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width),
		)
		if err == nil {
			r.renderer = renderer
		}
	}

	a.OnToolCall = func(name, args string) {
		fmt.Fprintln(r.out, toolStyle.Render(fmt.Sprintf("⚙ 调用工具 %s %s", name, args)))
	}
	a.OnToolResult = func(name, result string) {
		fmt.Fprintln(r.out, toolStyle.Render(fmt.Sprintf("⚙ %s → %s", name, truncateLine(result, 120))))
	}

	return r
}

// Run loops until /quit, EOF or context cancellation.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, titleStyle.Render("女娲 (Nuwa)"))
	fmt.Fprintln(r.out, "输入 /help 查看命令，/quit 退出。")

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		fmt.Fprint(r.out, promptStyle.Render("你> "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if done := r.handleCommand(ctx, input); done {
				return nil
			}
			continue
		}

		r.chat(ctx, input)
	}
}

// RunOnce answers a single message and prints the reply. Used by -m.
func (r *REPL) RunOnce(ctx context.Context, message string) error {
	reply, err := r.agent.Chat(ctx, message)
	if err != nil {
		return err
	}
	r.printReply(reply)
	return nil
}

func (r *REPL) chat(ctx context.Context, input string) {
	if r.stream {
		_, err := r.agent.ChatStream(ctx, input, func(delta string) {
			fmt.Fprint(r.out, delta)
		})
		fmt.Fprintln(r.out)
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render("出错了: "+err.Error()))
		}
		return
	}

	reply, err := r.agent.Chat(ctx, input)
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render("出错了: "+err.Error()))
		return
	}
	r.printReply(reply)
}

func (r *REPL) printReply(reply string) {
	if r.renderer != nil {
		if rendered, err := r.renderer.Render(reply); err == nil {
			fmt.Fprint(r.out, rendered)
			return
		}
	}
	fmt.Fprintln(r.out, reply)
}

// handleCommand executes a slash command. Returns true when the REPL
// should exit.
func (r *REPL) handleCommand(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/quit", "/exit":
		r.saveSession("default")
		fmt.Fprintln(r.out, "再见！")
		return true

	case "/reset":
		r.agent.Reset()
		fmt.Fprintln(r.out, "对话已重置。")

	case "/help":
		r.printHelp()

	case "/provider":
		if len(args) == 0 {
			current := r.agent.Provider()
			if current == "" {
				current = r.cfg.LLM.DefaultProvider
			}
			fmt.Fprintf(r.out, "当前模型提供方: %s\n可用: %s\n", current, strings.Join(r.cfg.AvailableProviders(), ", "))
			break
		}
		name := args[0]
		if _, ok := r.cfg.GetProvider(name); !ok {
			fmt.Fprintln(r.out, errorStyle.Render("未知提供方: "+name))
			break
		}
		r.agent.SetProvider(name)
		fmt.Fprintf(r.out, "已切换到 %s\n", name)

	case "/memory":
		r.cmdMemory(args)

	case "/profile":
		r.cmdProfile()

	case "/history":
		for _, msg := range r.agent.History()[1:] {
			fmt.Fprintf(r.out, "[%s] %s\n", msg.Role, truncateLine(msg.Content, 200))
		}

	case "/save":
		id := "default"
		if len(args) > 0 {
			id = args[0]
		}
		r.saveSession(id)
		fmt.Fprintf(r.out, "会话已保存: %s\n", id)

	case "/sessions":
		if r.sessions == nil {
			fmt.Fprintln(r.out, "会话存储未启用。")
			break
		}
		ids, err := r.sessions.List()
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
			break
		}
		if len(ids) == 0 {
			fmt.Fprintln(r.out, "没有已保存的会话。")
			break
		}
		for _, id := range ids {
			fmt.Fprintln(r.out, "- "+id)
		}

	default:
		fmt.Fprintln(r.out, errorStyle.Render("未知命令: "+cmd))
		r.printHelp()
	}

	return false
}

func (r *REPL) cmdMemory(args []string) {
	mem := r.agent.Memory()
	if mem == nil {
		fmt.Fprintln(r.out, "记忆功能未启用。")
		return
	}

	// /memory add <kind> <content>
	if len(args) >= 3 && args[0] == "add" {
		kind := args[1]
		content := strings.Join(args[2:], " ")
		item, err := mem.Add(kind, content, 0.6)
		if err != nil {
			fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
			return
		}
		fmt.Fprintf(r.out, "已记住 [%s] %s\n", item.Kind, item.Content)
		return
	}

	// /memory del <id>
	if len(args) == 2 && args[0] == "del" {
		if err := mem.Store().Delete(args[1]); err != nil {
			fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
			return
		}
		fmt.Fprintln(r.out, "已删除。")
		return
	}

	items, err := mem.Store().ListAll()
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		return
	}
	if len(items) == 0 {
		fmt.Fprintln(r.out, "还没有任何记忆。")
		return
	}
	for _, item := range items {
		fmt.Fprintf(r.out, "%s [%s] %s (重要性 %.1f)\n", item.ID, item.Kind, item.Content, item.Importance)
	}
}

func (r *REPL) cmdProfile() {
	mem := r.agent.Memory()
	if mem == nil {
		fmt.Fprintln(r.out, "记忆功能未启用。")
		return
	}

	profile, err := mem.GetUserProfile()
	if err != nil {
		fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		return
	}

	printSection := func(title string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintln(r.out, titleStyle.Render(title))
		for _, line := range lines {
			fmt.Fprintln(r.out, "- "+line)
		}
	}

	if len(profile.Info)+len(profile.Preferences)+len(profile.Interests) == 0 {
		fmt.Fprintln(r.out, "还不了解你，多聊聊吧。")
		return
	}
	printSection("基本信息", profile.Info)
	printSection("偏好", profile.Preferences)
	printSection("兴趣", profile.Interests)
}

func (r *REPL) printHelp() {
	fmt.Fprint(r.out, `可用命令:
  /reset              重置当前对话
  /history            查看对话历史
  /memory             查看全部记忆
  /memory add <类型> <内容>  手动添加记忆
  /memory del <ID>    删除一条记忆
  /profile            查看用户画像
  /provider [名称]    查看或切换模型提供方
  /save [名称]        保存当前会话
  /sessions           列出已保存的会话
  /quit               退出
`)
}

func (r *REPL) saveSession(id string) {
	if r.sessions == nil {
		return
	}
	if err := r.sessions.Save(id, r.agent.History()); err != nil {
		r.logger.Warn("failed to save session", zap.Error(err))
	}
}

// RestoreSession loads a saved session into the agent's conversation.
func (r *REPL) RestoreSession(id string) error {
	if r.sessions == nil {
		return nil
	}
	messages, err := r.sessions.Load(id)
	if err != nil {
		return err
	}
	r.agent.Restore(messages)
	return nil
}

func truncateLine(s string, n int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
