package device

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/hoststate"
)

const defaultDialTimeout = 15 * time.Second

// SSHDialer opens SSH sessions to devices using the credentials on the host
// record. Host key verification is disabled: devices are reached through the
// management network and regenerate keys on reload.
type SSHDialer struct {
	// DialTimeout bounds the TCP/SSH handshake. Zero means the default.
	DialTimeout time.Duration
}

// Dial connects and authenticates. Authentication failures come back as
// *AuthError so the runner can route the host into the credential-fallback
// pass; everything else is a plain connection error.
func (d *SSHDialer) Dial(ctx context.Context, h *hoststate.Host) (Session, error) {
	timeout := d.DialTimeout
	if timeout == 0 {
		timeout = defaultDialTimeout
	}

	addr := net.JoinHostPort(h.Target(), h.SSHPort())

	cfg := &ssh.ClientConfig{
		User: h.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(h.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = h.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // management network, keys churn on reload
		Timeout:         timeout,
	}

	slog.Info("device_dial", "host", h.Name, "addr", addr)

	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") ||
			strings.Contains(err.Error(), "permission denied") {
			return nil, &AuthError{Host: h.Name, Err: err}
		}
		return nil, errors.Wrapf(err, "ssh handshake with %s", addr)
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshSession{
		host:   h.Name,
		client: ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

type sshSession struct {
	host   string
	client *ssh.Client
}

func (s *sshSession) SendCommand(ctx context.Context, command string) (*Result, error) {
	output, err := s.run(ctx, command)
	if err != nil {
		return nil, &CommandError{Host: s.host, Command: command, Err: err}
	}
	return &Result{Command: command, Output: output}, nil
}

func (s *sshSession) SendConfig(ctx context.Context, commands []string) (*Result, error) {
	script := "configure terminal\n" + strings.Join(commands, "\n") + "\nend\n"
	output, err := s.shell(ctx, script)
	if err != nil {
		return nil, &CommandError{Host: s.host, Command: strings.Join(commands, "; "), Err: err}
	}
	return &Result{Command: strings.Join(commands, "; "), Output: output}, nil
}

func (s *sshSession) SaveConfig(ctx context.Context) error {
	_, err := s.SendCommand(ctx, "write memory")
	return err
}

// TransferFile pushes a local file into device flash over SCP.
func (s *sshSession) TransferFile(ctx context.Context, localPath, remoteName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrap(err, "open local image")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat local image")
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return errors.Wrap(err, "open scp session")
	}
	defer sess.Close()

	stdin, err := sess.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "scp stdin")
	}

	done := make(chan error, 1)
	go func() {
		defer stdin.Close()
		if _, err := fmt.Fprintf(stdin, "C0644 %d %s\n", info.Size(), filepath.Base(remoteName)); err != nil {
			done <- err
			return
		}
		if _, err := io.Copy(stdin, f); err != nil {
			done <- err
			return
		}
		_, err := stdin.Write([]byte{0})
		done <- err
	}()

	slog.Info("device_transfer_start", "host", s.host, "file", remoteName, "size", info.Size())

	if err := s.start(ctx, sess, "scp -t "+remoteName); err != nil {
		return &CommandError{Host: s.host, Command: "scp -t " + remoteName, Err: err}
	}
	if err := <-done; err != nil {
		return &CommandError{Host: s.host, Command: "scp -t " + remoteName, Err: err}
	}

	slog.Info("device_transfer_complete", "host", s.host, "file", remoteName)
	return nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

// run executes a single exec-mode command in its own SSH channel.
func (s *sshSession) run(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "open session")
	}
	defer sess.Close()

	type result struct {
		output []byte
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		ch <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	case r := <-ch:
		return string(r.output), r.err
	}
}

// shell feeds a script to an interactive shell and collects all output.
// Configuration mode only exists inside a shell, not per-exec channels.
func (s *sshSession) shell(ctx context.Context, script string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", errors.Wrap(err, "open session")
	}
	defer sess.Close()

	if err := sess.RequestPty("vt100", 80, 200, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
		return "", errors.Wrap(err, "request pty")
	}

	var out strings.Builder
	sess.Stdin = strings.NewReader(script)
	sess.Stdout = &out
	sess.Stderr = &out

	if err := sess.Shell(); err != nil {
		return "", errors.Wrap(err, "start shell")
	}

	ch := make(chan error, 1)
	go func() { ch <- sess.Wait() }()

	select {
	case <-ctx.Done():
		sess.Close()
		return "", ctx.Err()
	case err := <-ch:
		// Devices drop the shell after stdin EOF without reporting an
		// exit status; that is a normal end of conversation.
		var missing *ssh.ExitMissingError
		if err != nil && !stderrors.As(err, &missing) {
			return out.String(), err
		}
		return out.String(), nil
	}
}

// start runs a command and waits for it, honoring context cancellation.
func (s *sshSession) start(ctx context.Context, sess *ssh.Session, command string) error {
	if err := sess.Start(command); err != nil {
		return err
	}
	ch := make(chan error, 1)
	go func() { ch <- sess.Wait() }()
	select {
	case <-ctx.Done():
		sess.Close()
		return ctx.Err()
	case err := <-ch:
		return err
	}
}
