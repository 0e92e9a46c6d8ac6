package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"

	"github.com/cursorrunner/cursor-runner/internal/cloudlog"
	"github.com/cursorrunner/cursor-runner/internal/outputparser"
)

// Supervisor runs one Agent CLI invocation at a time per call to Run. A
// single Supervisor value is safe to reuse across concurrent Run calls —
// all mutable state lives in the per-call run struct.
type Supervisor struct {
	cfg    Config
	logger cloudlog.Logger
}

// New builds a Supervisor bound to cfg, logging structured observations to
// logger (never nil in practice — callers pass cloudlog.NewStderrLogger at
// minimum).
func New(cfg Config, logger cloudlog.Logger) *Supervisor {
	if logger == nil {
		logger = cloudlog.NewStderrLogger("supervisor")
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

type chunk struct {
	stream string // "stdout" or "stderr"
	data   []byte
}

// run carries all per-invocation mutable state. It exists so Supervisor
// itself stays reusable and stateless between calls.
type run struct {
	cfg    Config
	logger cloudlog.Logger

	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
	total  int64

	spawnedAt     time.Time
	lastOutputAt  time.Time
	bytesSinceHB  int64
	firstByteSeen bool

	terminated    atomic.Bool
	terminatedKind ErrorKind
	exited        atomic.Bool

	hostKey *hostKeyScanner
}

func (r *run) appendChunk(c chunk) (overflowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminated.Load() && r.terminatedKind == OutputOverflow {
		// Drain only: already failed the output budget, never admit more.
		return false
	}

	if r.total+int64(len(c.data)) > r.cfg.MaxOutputBytes {
		// Do not admit the overflowing bytes (spec §3 invariant).
		return true
	}

	switch c.stream {
	case "stdout":
		r.stdout.Write(c.data)
	case "stderr":
		r.stderr.Write(c.data)
	}
	r.total += int64(len(c.data))
	r.bytesSinceHB += int64(len(c.data))
	r.lastOutputAt = time.Now()
	r.firstByteSeen = true
	return false
}

func (r *run) snapshot() (stdout, stderr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stdout.String(), r.stderr.String()
}

// Run spawns the Agent CLI per req, supervises it to a terminal event, and
// returns either a Result (process exited, any exit code) or a typed Error.
func (s *Supervisor) Run(ctx context.Context, req Request) (*Result, *Error) {
	hardTimeout := req.HardTimeout
	if hardTimeout <= 0 {
		hardTimeout = s.cfg.HardTimeout
	}
	if hardTimeout > s.cfg.MaxHardTimeout {
		hardTimeout = s.cfg.MaxHardTimeout
	}

	if fi, err := os.Stat(req.WorkDir); err != nil || !fi.IsDir() {
		return nil, &Error{Kind: SpawnFailed, Message: fmt.Sprintf("workspace %q does not exist or is not a directory", req.WorkDir)}
	}
	resolvedPath, err := exec.LookPath(s.cfg.CLIPath)
	if err != nil {
		return nil, &Error{Kind: SpawnFailed, Message: fmt.Sprintf("resolving agent CLI path %q: %v", s.cfg.CLIPath, err)}
	}

	usePTY := !req.DisablePTY
	if s.cfg.UsePTY != nil {
		usePTY = usePTY && *s.cfg.UsePTY
	}

	r := &run{cfg: s.cfg, logger: s.logger, spawnedAt: time.Now()}

	cmd := exec.Command(resolvedPath, req.Args...)
	cmd.Dir = req.WorkDir
	cmd.Env = envSlice(req.Env)
	setProcessGroup(cmd)

	chunks := make(chan chunk, 64)
	var wg sync.WaitGroup
	var ptmx *os.File
	var stdinPipe io.WriteCloser

	if usePTY {
		ptmx, err = pty.Start(cmd)
		if err != nil {
			// Fall back to pipes rather than fail outright, matching the
			// spec's "otherwise fall back to pipe-based standard I/O".
			usePTY = false
		}
	}

	if usePTY {
		r.hostKey = newHostKeyScanner(s.cfg.HostKeyPatterns, ptmx, func() {
			s.logger.Info("agent cli host-key prompt auto-answered")
		})
		wg.Add(1)
		go readPTY(ptmx, chunks, r.hostKey, &wg)
	} else {
		stdoutPipe, serr := cmd.StdoutPipe()
		if serr != nil {
			return nil, &Error{Kind: SpawnFailed, Message: fmt.Sprintf("stdout pipe: %v", serr)}
		}
		stderrPipe, serr := cmd.StderrPipe()
		if serr != nil {
			return nil, &Error{Kind: SpawnFailed, Message: fmt.Sprintf("stderr pipe: %v", serr)}
		}
		stdinPipe, serr = cmd.StdinPipe()
		if serr != nil {
			return nil, &Error{Kind: SpawnFailed, Message: fmt.Sprintf("stdin pipe: %v", serr)}
		}

		if serr = cmd.Start(); serr != nil {
			return nil, &Error{Kind: SpawnFailed, Message: serr.Error()}
		}

		wg.Add(2)
		go readStream("stdout", stdoutPipe, chunks, &wg)
		go readStream("stderr", stderrPipe, chunks, &wg)
	}

	s.logger.Info("agent cli spawned",
		"command", resolvedPath, "args", req.Args, "workdir", req.WorkDir, "pty", usePTY)

	if req.StdinPrompt != "" {
		if usePTY {
			_, _ = io.WriteString(ptmx, req.StdinPrompt)
		} else if stdinPipe != nil {
			_, _ = io.WriteString(stdinPipe, req.StdinPrompt)
			_ = stdinPipe.Close()
		}
	} else if !usePTY && stdinPipe != nil {
		_ = stdinPipe.Close()
	}

	exitCh := make(chan error, 1)
	go func() {
		wg.Wait()
		werr := cmd.Wait()
		r.exited.Store(true)
		exitCh <- werr
	}()

	result, runErr := s.supervise(ctx, r, cmd, chunks, exitCh, hardTimeout)

	if ptmx != nil {
		_ = ptmx.Close()
	}

	if runErr != nil {
		return nil, runErr
	}
	return result, nil
}

// supervise is the control loop: it multiplexes timer expirations and
// reader deliveries for a single invocation (spec §5).
func (s *Supervisor) supervise(ctx context.Context, r *run, cmd *exec.Cmd, chunks chan chunk, exitCh chan error, hardTimeout time.Duration) (*Result, *Error) {
	hardTimer := time.NewTimer(hardTimeout)
	defer hardTimer.Stop()

	// ctx.Done() stays permanently readable once closed; without nil-ing
	// it out after the first observation the select loop below would spin
	// re-selecting that case every iteration through the SIGTERM→SIGKILL
	// escalation window instead of blocking on the next real event.
	ctxDoneC := ctx.Done()

	var idleTimer *time.Timer
	var idleTimerC <-chan time.Time

	var heartbeat *time.Ticker
	var heartbeatC <-chan time.Time
	if s.cfg.HeartbeatInterval > 0 {
		heartbeat = time.NewTicker(s.cfg.HeartbeatInterval)
		heartbeatC = heartbeat.C
		defer heartbeat.Stop()
	}

	var escalation *time.Timer
	armEscalation := func() {
		escalation = time.AfterFunc(s.cfg.EscalationDelay, func() {
			if !r.exited.Load() && cmd.Process != nil {
				_ = signalGroup(cmd.Process.Pid, sigKill)
			}
		})
	}

	terminate := func(kind ErrorKind) {
		if r.terminated.Swap(true) {
			return
		}
		r.terminatedKind = kind
		if cmd.Process != nil {
			_ = signalGroup(cmd.Process.Pid, sigTerm)
		}
		armEscalation()
	}

	for {
		select {
		case <-ctxDoneC:
			ctxDoneC = nil
			terminate(Cancelled)

		case <-hardTimer.C:
			terminate(HardTimeout)

		case <-idleTimerC:
			terminate(IdleTimeout)

		case <-heartbeatC:
			s.emitHeartbeat(r, hardTimer, idleTimer)

		case c := <-chunks:
			if overflowed := r.appendChunk(c); overflowed {
				terminate(OutputOverflow)
				continue
			}
			if idleTimer == nil {
				idleTimer = time.NewTimer(s.cfg.IdleTimeout)
				idleTimerC = idleTimer.C
			} else {
				if !idleTimer.Stop() {
					select {
					case <-idleTimerC:
					default:
					}
				}
				idleTimer.Reset(s.cfg.IdleTimeout)
			}

		case werr := <-exitCh:
			if escalation != nil {
				escalation.Stop()
			}
			return s.finalize(r, werr)
		}
	}
}

func (s *Supervisor) emitHeartbeat(r *run, hardTimer *time.Timer, idleTimer *time.Timer) {
	r.mu.Lock()
	elapsed := time.Since(r.spawnedAt)
	var sinceOutput time.Duration
	if r.firstByteSeen {
		sinceOutput = time.Since(r.lastOutputAt)
	}
	bytesSinceHB := r.bytesSinceHB
	r.bytesSinceHB = 0
	idleArmed := idleTimer != nil
	r.mu.Unlock()

	s.logger.Info("agent cli heartbeat",
		"elapsed_seconds", elapsed.Seconds(),
		"since_last_output_seconds", sinceOutput.Seconds(),
		"bytes_since_heartbeat", bytesSinceHB,
		"idle_armed", idleArmed,
	)
}

func (s *Supervisor) finalize(r *run, werr error) (*Result, *Error) {
	stdout, stderr := r.snapshot()

	kind := r.terminatedKind
	wasTerminated := r.terminated.Load()

	if !wasTerminated {
		var exitErr *exec.ExitError
		if werr != nil && !errors.As(werr, &exitErr) {
			s.logger.Error("agent cli exit wait failed", "error", werr.Error())
			return nil, &Error{
				Kind:          AbnormalExit,
				Message:       werr.Error(),
				PartialStdout: stdout,
				PartialStderr: stderr,
			}
		}
		exitCode := 0
		if exitErr != nil {
			exitCode = exitErr.ExitCode()
		}
		s.logger.Info("agent cli exited", "exit_code", exitCode)
		return &Result{
			ExitCode:     exitCode,
			Stdout:       stdout,
			Stderr:       stderr,
			TouchedFiles: outputparser.ExtractTouchedFiles(stdout + "\n" + stderr),
			UsedPTY:      r.hostKey != nil,
		}, nil
	}

	var exitCodePtr *int
	var exitErr *exec.ExitError
	if errors.As(werr, &exitErr) {
		code := exitErr.ExitCode()
		exitCodePtr = &code
	}

	msg := terminationMessage(kind, s.cfg.MaxOutputBytes)
	s.logger.Warn("agent cli terminated", "kind", string(kind), "message", msg)

	return nil, &Error{
		Kind:          kind,
		Message:       msg,
		PartialStdout: stdout,
		PartialStderr: stderr,
		ExitCodeOrNil: exitCodePtr,
	}
}

func terminationMessage(kind ErrorKind, maxOutputBytes int64) string {
	switch kind {
	case HardTimeout:
		return "agent cli exceeded its hard timeout and was terminated"
	case IdleTimeout:
		return "agent cli produced no output within the idle timeout and was terminated"
	case OutputOverflow:
		return fmt.Sprintf("Output size exceeded: accumulated output exceeded the %d byte limit", maxOutputBytes)
	case Cancelled:
		return "agent cli invocation was cancelled"
	default:
		return string(kind)
	}
}

func readStream(name string, r io.Reader, out chan<- chunk, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			out <- chunk{stream: name, data: data}
		}
		if err != nil {
			return
		}
	}
}

func readPTY(ptmx *os.File, out chan<- chunk, scanner *hostKeyScanner, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, 32*1024)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			scanner.Observe(data)
			out <- chunk{stream: "stdout", data: data}
		}
		if err != nil {
			// EIO is the expected signal that the pty slave closed because
			// the child exited; anything else we also just stop on, since
			// there's nothing more useful to do with a broken pty.
			return
		}
	}
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
