// ABOUTME: Supervisor for the external node executable: locate, spawn, forward logs, stop.
// ABOUTME: Owns the subprocess handle for one start/stop cycle; protocol logic lives in the client.

package node

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultBinaryName is the node executable probed for on PATH and in the
	// well-known install locations.
	DefaultBinaryName = "openpond-node"

	// SettleDelay is the fixed pause after spawning the node before the
	// client dials it. It is not a readiness handshake; real readiness is the
	// Connect stream opening. Kept short and in one place for that reason.
	SettleDelay = time.Second

	// envBinaryOverride points at the node executable, taking precedence over
	// every probe except an explicit StartOptions.BinaryPath.
	envBinaryOverride = "OPENPOND_NODE"

	// envNodeHome tells the node where its support files live. Set to the
	// directory of the resolved binary.
	envNodeHome = "OPENPOND_NODE_HOME"

	protoFileName = "pond.proto"
)

var wellKnownDirs = []string{"/usr/local/bin", "/opt/openpond/bin"}

// Supervisor owns the node subprocess. Create one per client; the handle
// never outlives a start/stop cycle.
type Supervisor struct {
	logger      *slog.Logger
	settleDelay time.Duration

	mu     sync.Mutex
	cmd    *exec.Cmd
	onExit func(error)
}

// NewSupervisor returns a supervisor that logs through the given logger.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		logger:      logger.With("component", "node-proc"),
		settleDelay: SettleDelay,
	}
}

// OnExit registers the abnormal-exit callback. Single slot, last wins.
func (s *Supervisor) OnExit(fn func(error)) {
	s.mu.Lock()
	s.onExit = fn
	s.mu.Unlock()
}

// LocateExecutable resolves the node binary by probing, in order: PATH,
// the OPENPOND_NODE environment override, the directory of the running
// executable, and the well-known install locations. When every probe fails
// the bare default name is returned together with ErrExecutableNotFound so
// a later spawn attempt can surface its own failure.
func LocateExecutable() (string, error) {
	if p, err := exec.LookPath(DefaultBinaryName); err == nil {
		return p, nil
	}

	if p := os.Getenv(envBinaryOverride); p != "" && fileExists(p) {
		return p, nil
	}

	if self, err := os.Executable(); err == nil {
		p := filepath.Join(filepath.Dir(self), DefaultBinaryName)
		if fileExists(p) {
			return p, nil
		}
	}

	dirs := wellKnownDirs
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".openpond", "bin"))
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, DefaultBinaryName)
		if fileExists(p) {
			return p, nil
		}
	}

	return DefaultBinaryName, ErrExecutableNotFound
}

// ResolveProtoPath returns the protocol descriptor path. Explicit
// configuration wins; otherwise parent directories of the working directory
// are walked looking for proto/pond.proto. The walk is best-effort and
// environment-dependent; callers that can supply a path should.
func ResolveProtoPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolving working directory: %w", err)
	}
	for {
		p := filepath.Join(dir, "proto", protoFileName)
		if fileExists(p) {
			return p, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", fmt.Errorf("protocol descriptor %s not found in any parent directory; set ProtoPath", protoFileName)
}

// StartOptions carry the spawn parameters for one node process.
type StartOptions struct {
	BinaryPath string // explicit executable; empty means probe
	ListenPort int
	AgentID    string
	Credential string
}

// Start spawns the node process, attaches line-buffered log forwarding from
// both output streams, and waits the settle delay before returning. A failed
// spawn returns ErrSpawnFailed immediately.
func (s *Supervisor) Start(ctx context.Context, opts StartOptions) error {
	binPath := opts.BinaryPath
	if binPath == "" {
		p, err := LocateExecutable()
		if err != nil {
			s.logger.Warn("node executable not found by any probe, trying bare name",
				"binary", p)
		}
		binPath = p
	}

	args := []string{"--port", strconv.Itoa(opts.ListenPort), "--agent", opts.AgentID}
	if opts.Credential != "" {
		args = append(args, "--key", opts.Credential)
	}

	cmd := exec.Command(binPath, args...)
	cmd.Env = append(os.Environ(), envNodeHome+"="+filepath.Dir(binPath))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: attaching stdout: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("%w: attaching stderr: %v", ErrSpawnFailed, err)
	}

	s.mu.Lock()
	if s.cmd != nil {
		s.mu.Unlock()
		return fmt.Errorf("node process already running")
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", ErrSpawnFailed, binPath, err)
	}
	s.cmd = cmd
	s.mu.Unlock()

	s.logger.Info("node process started",
		"binary", binPath,
		"pid", cmd.Process.Pid,
		"port", opts.ListenPort,
	)

	go s.forwardOutput("stdout", stdout, slog.LevelInfo)
	go s.forwardOutput("stderr", stderr, slog.LevelWarn)
	go s.wait(cmd)

	select {
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case <-time.After(s.settleDelay):
	}
	return nil
}

// Stop sends SIGTERM and releases the handle. It does not wait for exit
// beyond what the operating system provides. Safe to call repeatedly.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cmd := s.cmd
	s.cmd = nil
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("signaling node process", "error", err)
	}
}

// Running reports whether a node process is currently owned.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// wait reaps the process and reports abnormal exits. Deliberate stops are
// detected by the handle having been released first.
func (s *Supervisor) wait(cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	deliberate := s.cmd != cmd
	if !deliberate {
		s.cmd = nil
	}
	onExit := s.onExit
	s.mu.Unlock()

	if deliberate {
		return
	}

	if err != nil {
		var exitErr *exec.ExitError
		code := -1
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		s.logger.Error("node process exited abnormally", "code", code, "error", err)
		if onExit != nil {
			onExit(fmt.Errorf("%w: code %d", ErrProcessExited, code))
		}
		return
	}

	s.logger.Info("node process exited cleanly")
	if onExit != nil {
		onExit(nil)
	}
}

func (s *Supervisor) forwardOutput(stream string, r io.Reader, level slog.Level) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Log(context.Background(), level, "node "+stream, "line", scanner.Text())
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
