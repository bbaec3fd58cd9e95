// Package ptysup implements the PTY supervisor: spawns the configured
// child command on a pseudo-terminal, applies the restart policy on
// exit, and exposes the master fd for the fan-out hub to read and
// write.
package ptysup

import (
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/folkertvanheusden/termcamng/pkg/termerr"
	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

// Config describes the child to spawn and how to supervise it.
type Config struct {
	Command         []string
	Cwd             string
	Width, Height   int
	RestartInterval time.Duration // <0 disables restart
	StderrToStdout  bool
}

// Supervisor owns the running child's PTY master and restart loop.
type Supervisor struct {
	cfg Config
	log *termlog.Logger

	mu     sync.Mutex
	master *os.File
	cmd    *exec.Cmd

	stopped bool
}

func New(cfg Config, log *termlog.Logger) *Supervisor {
	if log == nil {
		log = termlog.Discard()
	}
	return &Supervisor{cfg: cfg, log: log}
}

// Read implements io.Reader against the current PTY master, so a
// Supervisor can be handed directly to hub.Hub.Run. When the child
// exits and the restart policy is active, Read blocks until the
// restart loop installs a fresh master instead of surfacing the dead
// master's EOF, so the hub's reader loop survives a respawn.
func (s *Supervisor) Read(p []byte) (int, error) {
	for {
		s.mu.Lock()
		m := s.master
		stopped := s.stopped
		s.mu.Unlock()
		if stopped || m == nil {
			return 0, os.ErrClosed
		}
		n, err := m.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil {
			continue
		}
		if s.cfg.RestartInterval < 0 {
			return 0, err
		}
		for {
			time.Sleep(100 * time.Millisecond)
			s.mu.Lock()
			nm := s.master
			stopped = s.stopped
			s.mu.Unlock()
			if stopped {
				return 0, os.ErrClosed
			}
			if nm != m {
				break
			}
		}
	}
}

// Write implements io.Writer against the current PTY master, used to
// deliver both parser DSR/DA replies and forwarded viewer keystrokes.
func (s *Supervisor) Write(p []byte) (int, error) {
	s.mu.Lock()
	m := s.master
	s.mu.Unlock()
	if m == nil {
		return 0, os.ErrClosed
	}
	return m.Write(p)
}

// Start spawns the child once; Run should be called afterward in its
// own goroutine to supervise restarts. Returns the child pid.
func (s *Supervisor) Start() (int, error) {
	return s.spawnOnce()
}

func (s *Supervisor) spawnOnce() (int, error) {
	if len(s.cfg.Command) == 0 {
		return 0, termerr.New(termerr.ErrPTYSpawn, "empty command")
	}
	cmd := exec.Command(s.cfg.Command[0], s.cfg.Command[1:]...)
	cmd.Dir = s.cfg.Cwd
	cmd.Env = append(os.Environ(),
		"TERM=ansi",
		"COLUMNS="+itoa(s.cfg.Width),
		"LINES="+itoa(s.cfg.Height),
	)
	master, slave, err := pty.Open()
	if err != nil {
		return 0, termerr.Wrap(termerr.ErrPTYSpawn, "pty.Open", err)
	}
	if err := pty.Setsize(master, &pty.Winsize{Rows: uint16(s.cfg.Height), Cols: uint16(s.cfg.Width)}); err != nil {
		master.Close()
		slave.Close()
		return 0, termerr.Wrap(termerr.ErrPTYSpawn, "pty.Setsize", err)
	}

	cmd.Stdin = slave
	cmd.Stdout = slave
	// stderr only joins the PTY stream when configured to; otherwise it
	// stays on the supervisor's own stderr.
	if s.cfg.StderrToStdout {
		cmd.Stderr = slave
	} else {
		cmd.Stderr = os.Stderr
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		master.Close()
		slave.Close()
		return 0, termerr.Wrap(termerr.ErrPTYSpawn, "start child", err)
	}
	slave.Close()

	s.mu.Lock()
	s.master = master
	s.cmd = cmd
	s.mu.Unlock()

	return cmd.Process.Pid, nil
}

// Run supervises the child: waits for it to exit, and if
// RestartInterval >= 0, sleeps that long and respawns, repeating until
// stop is closed. It returns once the child has exited for good (no
// restart, or stop requested).
func (s *Supervisor) Run(stop <-chan struct{}) {
	for {
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd == nil {
			return
		}

		err := cmd.Wait()
		if err != nil {
			s.log.Infof("ptysup: child exited: %v", err)
		} else {
			s.log.Infof("ptysup: child exited cleanly")
		}

		select {
		case <-stop:
			return
		default:
		}

		if s.cfg.RestartInterval < 0 {
			return
		}

		select {
		case <-stop:
			return
		case <-time.After(s.cfg.RestartInterval):
		}

		if _, err := s.spawnOnce(); err != nil {
			s.log.Errorf("ptysup: restart failed: %v", err)
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			return
		}
	}
}

// Resize applies a new size to the live PTY.
func (s *Supervisor) Resize(width, height int) error {
	s.mu.Lock()
	m := s.master
	s.mu.Unlock()
	if m == nil {
		return nil
	}
	return pty.Setsize(m, &pty.Winsize{Rows: uint16(height), Cols: uint16(width)})
}

// Stop terminates the child gracefully (SIGTERM, escalating to SIGKILL
// after gracefulTimeout) and closes the PTY master.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.stopped = true
	cmd := s.cmd
	master := s.master
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Signal(syscall.SIGTERM)
		const gracefulTimeout = 3 * time.Second
		const checkInterval = 500 * time.Millisecond
		deadline := time.Now().Add(gracefulTimeout)
		for time.Now().Before(deadline) {
			if !processAlive(cmd.Process.Pid) {
				break
			}
			time.Sleep(checkInterval)
		}
		if processAlive(cmd.Process.Pid) {
			_ = cmd.Process.Kill()
		}
	}
	if master != nil {
		_ = master.Close()
	}
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
