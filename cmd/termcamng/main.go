// Command termcamng attaches a child program to a pseudo-terminal,
// interprets its output as ANSI/VT control sequences, and exposes the
// resulting screen as rendered images over HTTP(S) and as interactive
// character sessions over telnet and SSH. This file only wires the
// components together and runs until an OS signal requests shutdown;
// it contains no terminal-emulation logic of its own.
package main

import (
	"fmt"
	"image"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/folkertvanheusden/termcamng/pkg/cellbuf"
	"github.com/folkertvanheusden/termcamng/pkg/config"
	"github.com/folkertvanheusden/termcamng/pkg/encoder"
	"github.com/folkertvanheusden/termcamng/pkg/glyph"
	"github.com/folkertvanheusden/termcamng/pkg/hub"
	"github.com/folkertvanheusden/termcamng/pkg/httpserver"
	"github.com/folkertvanheusden/termcamng/pkg/pamauth"
	"github.com/folkertvanheusden/termcamng/pkg/palette"
	"github.com/folkertvanheusden/termcamng/pkg/parser"
	"github.com/folkertvanheusden/termcamng/pkg/ptysup"
	"github.com/folkertvanheusden/termcamng/pkg/rendergate"
	"github.com/folkertvanheusden/termcamng/pkg/sshsession"
	"github.com/folkertvanheusden/termcamng/pkg/telnet"
	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "termcamng",
		Short:   "terminal-to-image/telnet/ssh camera",
		Version: "0.1.0",
		RunE:    run,
	}
	flags := root.Flags()
	flags.StringVar(&configPath, "config", "termcamng.yaml", "path to YAML config file")
	flags.String("http-addr", "", "HTTP bind address")
	flags.Int("http-port", 0, "HTTP port")
	flags.Int("https-port", 0, "HTTPS port (0 disables)")
	flags.String("https-key", "", "TLS private key path")
	flags.String("https-certificate", "", "TLS certificate path")
	flags.String("https-acme-domain", "", "obtain the HTTPS certificate for this domain via ACME instead of https-key/https-certificate")
	flags.String("telnet-addr", "", "telnet bind address")
	flags.Int("telnet-port", 0, "telnet port (0 disables)")
	flags.String("ssh-addr", "", "ssh bind address")
	flags.Int("ssh-port", 0, "ssh port (0 disables)")
	flags.String("ssh-keys", "", "directory containing ssh_host_rsa_key")
	flags.String("exec-command", "", "child command to spawn")
	flags.String("directory", "", "child working directory")
	flags.Int("restart-interval", 0, "seconds to wait before respawning the child (-1 disables restart)")
	flags.Int("width", 0, "cell buffer width")
	flags.Int("height", 0, "cell buffer height")
	flags.Int("font-height", 0, "font pixel height")
	flags.Int("compression-level", 0, "0..100, PNG zlib / JPEG quality driver")
	flags.Bool("stderr-to-stdout", false, "merge child stderr into its stdout")
	flags.Bool("local-output", false, "mirror the child's output to this process's own stdout")
	flags.Bool("fork", false, "daemonize: detach from the controlling terminal")
	flags.Bool("dumb-telnet", false, "re-send a full screen on every wake instead of incremental bytes")
	flags.Bool("telnet-workarounds", false, "drop null bytes from telnet input")
	flags.Bool("ignore-keypresses", false, "never forward viewer keystrokes to the child")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

const noForkMarker = "TERMCAMNG_NO_FORK"

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: config:", err)
		os.Exit(1)
	}
	cfg.MergeFlags(cmd.Flags())

	// "fork" daemonizes by re-executing ourselves detached; the marker
	// env var prevents an infinite re-exec loop.
	if cfg.Fork && os.Getenv(noForkMarker) == "" {
		return daemonize()
	}

	log, err := termlog.New(cfg.Logging.File,
		termlog.ParseLevel(cfg.Logging.LoglevelScreen),
		termlog.ParseLevel(cfg.Logging.LoglevelFiles))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: logging:", err)
		os.Exit(1)
	}
	defer log.Close()

	buf := cellbuf.New(cfg.Width, cfg.Height)
	gate := rendergate.New()
	p := parser.New(buf, log, gate.Bump)

	faces, err := glyph.LoadFaces(cfg.FontFiles, cfg.FontHeight)
	if err != nil {
		log.Errorf("fatal: font load: %v", err)
		os.Exit(1)
	}
	pal := palette.New()
	rasterizer := glyph.NewRasterizer(faces, pal)

	render := func() *image.RGBA {
		return rasterizer.Render(buf.Snapshot(), gate.BlinkPhase())
	}
	encCache := encoder.New(gate, render, cfg.CompressionLevel, log)

	ptyCfg := ptysup.Config{
		Command:         splitCommand(cfg.ExecCommand),
		Cwd:             cfg.Directory,
		Width:           cfg.Width,
		Height:          cfg.Height,
		RestartInterval: restartDuration(cfg.RestartInterval),
		StderrToStdout:  cfg.StderrToStdout,
	}
	sup := ptysup.New(ptyCfg, log)
	if _, err := sup.Start(); err != nil {
		log.Errorf("fatal: pty spawn: %v", err)
		os.Exit(1)
	}

	stop := make(chan struct{})

	h := hub.New(p, sup, log)
	if cfg.LocalOutput {
		id, drain := h.RegisterNamed("local")
		go func() {
			for {
				chunks, ok := drain()
				if !ok {
					return
				}
				for _, c := range chunks {
					os.Stdout.Write(c)
				}
			}
		}()
		defer h.Unregister(id)

		// When attached to a real terminal, put stdin into raw mode and
		// forward local keystrokes into the PTY too, so the operator's
		// own terminal behaves as one more interactive viewer.
		if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
			if oldState, err := term.MakeRaw(fd); err == nil {
				defer term.Restore(fd, oldState)
				go forwardStdin(sup, stop)
			} else {
				log.Warnf("main: stdin raw mode: %v", err)
			}
		}
	}

	// supDone fires when the child has exited for good (restart
	// disabled, or a respawn failed), which also shuts the process down.
	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(stop)
	}()
	go h.Run(sup, stop)

	maxWaitMs := cfg.MaxWaitMs()
	opts := telnet.Options{
		DumbTelnet:        cfg.DumbTelnet,
		TelnetWorkarounds: cfg.TelnetWorkarounds,
		IgnoreKeypresses:  cfg.IgnoreKeypresses,
	}

	var listeners []net.Listener

	if cfg.HTTPPort != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPPort))
		if err != nil {
			log.Errorf("fatal: http bind: %v", err)
			os.Exit(1)
		}
		listeners = append(listeners, ln)
		srv := httpserver.New(encCache, gate, maxWaitMs, log)
		go srv.Serve(ln)
	}

	if cfg.HTTPSPort != 0 {
		ln, err := httpserver.Listen(fmt.Sprintf("%s:%d", cfg.HTTPAddr, cfg.HTTPSPort),
			httpserver.TLSConfig{
				CertPath: cfg.HTTPSCertificate,
				KeyPath:  cfg.HTTPSKey,
				Domain:   cfg.HTTPSACMEDomain,
			})
		if err != nil {
			log.Errorf("fatal: https bind: %v", err)
			os.Exit(1)
		}
		listeners = append(listeners, ln)
		srv := httpserver.New(encCache, gate, maxWaitMs, log)
		go srv.Serve(ln)
	}

	if cfg.TelnetPort != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.TelnetAddr, cfg.TelnetPort))
		if err != nil {
			log.Errorf("fatal: telnet bind: %v", err)
			os.Exit(1)
		}
		listeners = append(listeners, ln)
		tsrv := telnet.NewServer(buf, h, gate, sup, opts, log)
		go tsrv.Serve(ln, stop)
	}

	if cfg.SSHPort != 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.SSHAddr, cfg.SSHPort))
		if err != nil {
			log.Errorf("fatal: ssh bind: %v", err)
			os.Exit(1)
		}
		keyPath := cfg.SSHKeys + "/ssh_host_rsa_key"
		hostKey, err := os.ReadFile(keyPath)
		if err != nil {
			log.Errorf("fatal: ssh key load: %v", err)
			os.Exit(1)
		}
		checker := sshChecker(log)
		ssrv, err := sshsession.NewServer(buf, h, gate, sup, opts, checker, hostKey, log)
		if err != nil {
			log.Errorf("fatal: ssh server: %v", err)
			os.Exit(1)
		}
		listeners = append(listeners, ln)
		go ssrv.Serve(ln, stop)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-supDone:
	}

	close(stop)
	gate.Stop()
	for _, ln := range listeners {
		ln.Close()
	}
	sup.Stop()
	return nil
}

// sshChecker picks the password checker for the SSH listener. The PAM
// check itself is an external collaborator; until one is wired in, a
// static pair can be supplied through TERMCAMNG_SSH_USER /
// TERMCAMNG_SSH_PASSWORD, and with neither present every login is
// refused.
func sshChecker(log *termlog.Logger) sshsession.PasswordChecker {
	user := os.Getenv("TERMCAMNG_SSH_USER")
	pass := os.Getenv("TERMCAMNG_SSH_PASSWORD")
	if user != "" && pass != "" {
		return pamauth.Static{Username: user, Password: pass}
	}
	log.Warnf("ssh: no password source configured, all logins will be refused")
	return pamauth.DenyAll{}
}

// forwardStdin copies the operator's own raw-mode stdin into the PTY
// until stop is closed or stdin returns an error (e.g. the restored
// terminal on shutdown).
func forwardStdin(w *ptysup.Supervisor, stop <-chan struct{}) {
	buf := make([]byte, 1024)
	for {
		select {
		case <-stop:
			return
		default:
		}
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func splitCommand(cmdline string) []string {
	var parts []string
	cur := ""
	for _, r := range cmdline {
		if r == ' ' {
			if cur != "" {
				parts = append(parts, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		parts = append(parts, cur)
	}
	return parts
}

func restartDuration(seconds int) time.Duration {
	if seconds < 0 {
		return -1
	}
	return time.Duration(seconds) * time.Second
}

func daemonize() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	attr := &os.ProcAttr{
		Env:   append(os.Environ(), noForkMarker+"=1"),
		Files: []*os.File{nil, nil, nil},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	proc, err := os.StartProcess(exe, os.Args, attr)
	if err != nil {
		return err
	}
	_ = proc.Release()
	return nil
}
