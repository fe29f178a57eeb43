package agentcli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-ai/internal/logging"
)

// Launcher spawns the agent binary with argv constructed from resolved
// Settings (spec §6 argv) and hands back a process handle the Supervisor
// drives through its lifecycle.
type Launcher struct {
	// BinaryPath is the agent CLI executable, e.g. "claude".
	BinaryPath string
	logger     *logging.Logger
}

// NewLauncher creates a Launcher invoking binaryPath for every spawn.
func NewLauncher(binaryPath string, logger *logging.Logger) *Launcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Launcher{BinaryPath: binaryPath, logger: logger}
}

var _ core.AgentLauncher = (*Launcher)(nil)

// buildArgs constructs argv per spec §6: -p <prompt> --output-format
// stream-json --verbose --model <model> [--max-turns N]
// [--permission-mode M] [--allowed-tools T1,T2,...]
// [--append-system-prompt S] --cwd <worktree_path>.
func buildArgs(opts core.LaunchOptions) []string {
	args := []string{
		"-p", opts.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--model", opts.Model,
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	args = append(args, "--cwd", opts.WorkDir)
	return args
}

// Launch starts the agent binary with stdout/stderr piped and stdin open
// for nudges, and isolates it into its own process group so the drain
// sequence can signal it as a unit.
func (l *Launcher) Launch(ctx context.Context, opts core.LaunchOptions) (core.AgentProcess, error) {
	// #nosec G204 -- binary path is operator-configured, args are built from resolved Settings
	cmd := exec.CommandContext(ctx, l.BinaryPath, buildArgs(opts)...)
	cmd.Dir = opts.WorkDir
	cmd.Env = append(os.Environ(), "CONDUCTOR_MANAGED=true")
	configureProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting agent process: %w", err)
	}
	l.logger.Info("agentcli: spawned agent process",
		"binary", l.BinaryPath, "pid", cmd.Process.Pid, "work_dir", opts.WorkDir)

	return &process{cmd: cmd, stdout: stdout, stderr: stderr, stdin: stdin}, nil
}

// process implements core.AgentProcess over an *exec.Cmd.
type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	stdin  io.WriteCloser

	mu       sync.Mutex
	stdinErr error
}

var _ core.AgentProcess = (*process)(nil)

func (p *process) Stdout() core.ReadCloser { return p.stdout }
func (p *process) Stderr() core.ReadCloser { return p.stderr }

func (p *process) WriteStdin(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stdinErr != nil {
		return p.stdinErr
	}
	_, err := p.stdin.Write(b)
	return err
}

func (p *process) CloseStdin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stdinErr = fmt.Errorf("stdin closed")
	return p.stdin.Close()
}

func (p *process) Signal(sig core.ProcessSignal) error {
	return signalProcessGroup(p.cmd, sig)
}

func (p *process) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

func (p *process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
