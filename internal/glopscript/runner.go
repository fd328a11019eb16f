// Package glopscript runs an ActScript action's body under the
// interpreter named by its shebang line, with a loopback state server
// exposing the in-flight Transaction's working state to the running
// child. glopscript depends on glopruntime (it implements
// glopruntime.ScriptRunner); glopruntime never imports glopscript.
package glopscript

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/glop/glop/internal/glopruntime"
	"github.com/glop/glop/internal/glopvalue"
	pkgerr "github.com/glop/glop/pkg/errors"
	"github.com/glop/glop/pkg/logger"
	"github.com/glop/glop/pkg/util"
)

// defaultOutputLimit caps each of stdout and stderr, separately, that a
// single script invocation may produce before its overflow is silently
// discarded.
const defaultOutputLimit = 64 * 1024

// Runner executes glop script actions as subprocesses. It implements
// glopruntime.ScriptRunner. The zero value is ready to use; OutputLimit
// of zero falls back to defaultOutputLimit.
type Runner struct {
	// OutputLimit caps stdout and stderr per invocation, each stream
	// separately.
	OutputLimit int

	// tempRoot, if set, parents every invocation's scratch directory.
	// Empty uses the OS default (os.MkdirTemp("", ...)).
	tempRoot string
}

// NewRunner returns a Runner with a dedicated scratch directory root.
func NewRunner() (*Runner, error) {
	root, err := os.MkdirTemp("", "glop_script_")
	if err != nil {
		return nil, pkgerr.Wrap(err, "glopscript.NewRunner", "create scratch root")
	}
	return &Runner{tempRoot: root}, nil
}

// Cleanup removes the Runner's scratch directory root. Call once at
// process shutdown.
func (r *Runner) Cleanup() {
	if r.tempRoot != "" {
		_ = os.RemoveAll(r.tempRoot)
	}
}

// Run implements glopruntime.ScriptRunner: it writes body to a
// scratch file, starts a state server bound to state, spawns shebang
// against the file with a constrained environment, and waits for the
// child to exit. A non-zero exit returns a *pkgerr.ExecError carrying
// (exit_code, stderr); the caller (Transaction.Apply) treats that as
// fatal to the whole transaction.
func (r *Runner) Run(ctx context.Context, shebang, body string, state glopruntime.ScriptState) error {
	interpreter, interpArgs, err := parseShebang(shebang)
	if err != nil {
		return pkgerr.Wrap(err, "glopscript.Run", "parse shebang")
	}

	dir, err := os.MkdirTemp(r.tempRoot, "run_")
	if err != nil {
		return pkgerr.Wrap(err, "glopscript.Run", "mkdir scratch dir")
	}
	defer os.RemoveAll(dir)

	bodyFile := filepath.Join(dir, "body")
	if err := os.WriteFile(bodyFile, []byte(body), 0o700); err != nil {
		return pkgerr.Wrap(err, "glopscript.Run", "write body")
	}

	srv, err := startStateServer(state)
	if err != nil {
		return pkgerr.Wrap(err, "glopscript.Run", "bind state server")
	}
	defer srv.Close()

	runID := uuid.NewString()
	start := time.Now()

	cmd := exec.CommandContext(ctx, interpreter, append(interpArgs, bodyFile)...)
	cmd.Dir = dir
	cmd.Env = r.buildEnv(srv.Addr(), state)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}
	cmd.WaitDelay = 2 * time.Second

	limit := r.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = util.NewLimitedWriter(&stdout, limit)
	cmd.Stderr = util.NewLimitedWriter(&stderr, limit)

	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	logger.Debug("glopscript: invocation completed",
		"run_id", runID,
		logger.FieldExitCode, exitCode,
		logger.FieldDurationMS, duration.Milliseconds(),
		"stdout_len", stdout.Len(),
		"stderr_len", stderr.Len(),
	)

	if exitCode != 0 {
		return &pkgerr.ExecError{ExitCode: exitCode, Stderr: stderr.String()}
	}
	return nil
}

// buildEnv returns the constrained environment exported to the child:
// PATH (so interpreters can resolve nc/jq/etc.), ADDR (the state
// server), every top-level scalar variable, and every scalar field of
// every message consumed this attempt.
func (r *Runner) buildEnv(addr string, state glopruntime.ScriptState) []string {
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"ADDR=" + addr,
	}

	if ctx, ok := state.(envExporter); ok {
		env = append(env, projectVars(ctx.Vars())...)
		env = append(env, projectMsgs(ctx.Msgs())...)
	}
	return env
}

// envExporter is satisfied by *glopruntime.Context. ScriptRunner only
// depends on the narrower glopruntime.ScriptState interface for
// GetVar/SetVar/GetMsg; environment projection additionally needs the
// full working tree and consumed-message map, so we ask for it via
// this optional interface rather than widening ScriptState itself.
type envExporter interface {
	Vars() glopvalue.Object
	Msgs() map[string]glopvalue.Object
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		logger.Debug("glopscript: kill process group failed", "pid", cmd.Process.Pid, logger.FieldError, err)
	}
}

func parseShebang(shebang string) (interpreter string, args []string, err error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(shebang), "#!"))
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty shebang")
	}
	return fields[0], fields[1:], nil
}
