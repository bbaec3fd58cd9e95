// Package sshsession implements the SSH viewer: password auth gated by
// a pluggable checker, a single session channel per connection, and
// the same smart/dumb viewer loop telnet uses.
package sshsession

import (
	"io"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/folkertvanheusden/termcamng/pkg/cellbuf"
	"github.com/folkertvanheusden/termcamng/pkg/hub"
	"github.com/folkertvanheusden/termcamng/pkg/rendergate"
	"github.com/folkertvanheusden/termcamng/pkg/telnet"
	"github.com/folkertvanheusden/termcamng/pkg/termlog"
)

// PasswordChecker validates SSH credentials. The real check belongs to
// the host's PAM stack; the server depends on this narrow interface
// rather than a concrete PAM binding.
type PasswordChecker interface {
	CheckPassword(username, password string) bool
}

// Server accepts SSH connections on a listener.
type Server struct {
	buf       *cellbuf.Buffer
	hub       *hub.Hub
	gate      *rendergate.Gate
	ptyOut    io.Writer
	opts      telnet.Options
	passwords PasswordChecker
	sshConfig *ssh.ServerConfig
	log       *termlog.Logger
}

// NewServer parses the host key (conventionally
// <ssh-keys>/ssh_host_rsa_key) and wires password auth through
// checker.
func NewServer(buf *cellbuf.Buffer, h *hub.Hub, gate *rendergate.Gate, ptyOut io.Writer,
	opts telnet.Options, checker PasswordChecker, hostKeyPEM []byte, log *termlog.Logger) (*Server, error) {
	if log == nil {
		log = termlog.Discard()
	}
	signer, err := ssh.ParsePrivateKey(hostKeyPEM)
	if err != nil {
		return nil, err
	}

	s := &Server{buf: buf, hub: h, gate: gate, ptyOut: ptyOut, opts: opts, passwords: checker, log: log}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if !s.passwords.CheckPassword(c.User(), string(password)) {
				return nil, errAuthFailed
			}
			return &ssh.Permissions{Extensions: map[string]string{"username": c.User()}}, nil
		},
	}
	cfg.AddHostKey(signer)
	s.sshConfig = cfg
	return s, nil
}

var errAuthFailed = authError{}

type authError struct{}

func (authError) Error() string { return "password authentication failed" }

// Serve accepts connections on ln until it errors or stop is closed.
func (s *Server) Serve(ln net.Listener, stop <-chan struct{}) error {
	go func() {
		<-stop
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			return err
		}
		go s.handle(conn, stop)
	}
}

func (s *Server) handle(nc net.Conn, stop <-chan struct{}) {
	defer nc.Close()

	sconn, chans, reqs, err := ssh.NewServerConn(nc, s.sshConfig)
	if err != nil {
		s.log.Warnf("sshsession: handshake: %v", err)
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newCh.Accept()
		if err != nil {
			return
		}
		s.handleChannel(channel, requests, stop, sconn.User())
		return // one session channel per connection
	}
}

func (s *Server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request, stop <-chan struct{}, username string) {
	defer channel.Close()

	shellRequested := make(chan struct{}, 1)
	go func() {
		for req := range requests {
			switch req.Type {
			case "shell":
				req.Reply(true, nil)
				select {
				case shellRequested <- struct{}{}:
				default:
				}
			case "pty-req", "window-change":
				req.Reply(true, nil)
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()

	select {
	case <-shellRequested:
	case <-stop:
		return
	}

	// write the initial screen, then reuse the telnet package's viewer
	// loop shapes against this channel, which satisfies io.ReadWriter.
	channel.Write(telnet.InitialScreen(s.buf))

	// the authenticated username forms the per-session viewer id
	id, drain := s.hub.RegisterNamed(username)
	defer s.hub.Unregister(id)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.readLoop(channel)
	}()
	// closing the queue wakes smartLoop out of a blocked drain when the
	// peer disconnects or the process stops
	go func() {
		select {
		case <-done:
		case <-stop:
		}
		s.hub.Unregister(id)
	}()

	if s.opts.DumbTelnet {
		s.dumbLoop(channel, stop, done)
	} else {
		s.smartLoop(channel, drain, stop, done)
	}
}

func (s *Server) smartLoop(w io.Writer, drain func() ([][]byte, bool), stop <-chan struct{}, done <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		default:
		}
		chunks, ok := drain()
		if !ok {
			return
		}
		for _, c := range chunks {
			if _, err := w.Write(c); err != nil {
				return
			}
		}
	}
}

func (s *Server) dumbLoop(w io.Writer, stop <-chan struct{}, done <-chan struct{}) {
	var afterTS int64
	for {
		select {
		case <-stop:
			return
		case <-done:
			return
		default:
		}
		newTS := s.gate.Render(afterTS, 500)
		if s.gate.Stopped() {
			return
		}
		if newTS == afterTS {
			continue
		}
		afterTS = newTS
		if _, err := w.Write(telnet.InitialScreen(s.buf)); err != nil {
			return
		}
	}
}

func (s *Server) readLoop(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 && !s.opts.IgnoreKeypresses && s.ptyOut != nil {
			s.ptyOut.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}
