/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package remotehost

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

const defaultSSHPort = "22"

// defaultDialer is the transport hosts get when none is injected.
// Swappable in tests.
var defaultDialer = NewSSHDialer

// sshDialer opens SSH connections to a single host, authenticating
// with a private key file. Transient connection failures are retried
// with the shared backoff schedule before the last error propagates.
type sshDialer struct {
	hostname string
	username string
	keyFile  string
	logger   zerolog.Logger
}

// NewSSHDialer returns a DialFunc producing independent SSH
// connections to hostname. The hostname may carry an explicit port;
// 22 is assumed otherwise.
func NewSSHDialer(hostname, username, keyFile string, logger zerolog.Logger) DialFunc {
	d := &sshDialer{
		hostname: hostname,
		username: username,
		keyFile:  keyFile,
		logger:   logger.With().Str("host", hostname).Logger(),
	}
	return d.dial
}

func (d *sshDialer) dial(ctx context.Context) (Session, error) {
	key, err := os.ReadFile(d.keyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key %s: %w", d.keyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", d.keyFile, err)
	}

	cfg := &ssh.ClientConfig{
		User:            d.username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // hosts come from trusted operator config
		Timeout:         sshCommandTimeout,
	}

	addr := d.hostname
	if _, _, splitErr := net.SplitHostPort(addr); splitErr != nil {
		addr = net.JoinHostPort(addr, defaultSSHPort)
	}

	var client *ssh.Client
	connect := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		d.logger.Debug().Msg("opening SSH connection")
		c, err := ssh.Dial("tcp", addr, cfg)
		if err != nil {
			if isTransientNetErr(err) {
				d.logger.Warn().Err(err).Msg("transient SSH connection failure, will retry")
				return err
			}
			return backoff.Permanent(err)
		}
		client = c
		return nil
	}
	if err := backoff.Retry(connect, newRetryPolicy()); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return &sshSession{client: client, logger: d.logger}, nil
}

// isTransientNetErr keeps the retry scope narrow: network-level
// failures that tend to clear on their own. Authentication and
// protocol errors fail immediately.
func isTransientNetErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// sshSession is the production Session: one ssh.Client connection,
// one channel per command.
type sshSession struct {
	client *ssh.Client
	logger zerolog.Logger
}

func (s *sshSession) Run(cmd string) (Result, error) {
	var res Result
	op := func() error {
		r, err := s.runOnce(cmd)
		if err != nil {
			if isTransientNetErr(err) {
				s.logger.Warn().Err(err).Str("cmd", cmd).Msg("transient SSH command failure, will retry")
				return err
			}
			return backoff.Permanent(err)
		}
		res = r
		return nil
	}
	if err := backoff.Retry(op, newRetryPolicy()); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (s *sshSession) runOnce(cmd string) (Result, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("open ssh channel: %w", err)
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(cmd); err != nil {
		return Result{}, fmt.Errorf("start %q: %w", cmd, err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case err := <-done:
		res := Result{
			Stdout: strings.TrimSpace(stdout.String()),
			Stderr: strings.TrimSpace(stderr.String()),
		}
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				res.ExitCode = exitErr.ExitStatus()
				return res, nil
			}
			return res, err
		}
		return res, nil
	case <-time.After(sshCommandTimeout):
		_ = sess.Signal(ssh.SIGKILL)
		return Result{}, fmt.Errorf("command %q timed out after %s", cmd, sshCommandTimeout)
	}
}

func (s *sshSession) Hold(cmd string) (HeldCommand, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open ssh channel: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("attach stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("attach stdout: %w", err)
	}
	var stderr bytes.Buffer
	sess.Stderr = &stderr

	if err := sess.Start(cmd); err != nil {
		sess.Close()
		return nil, fmt.Errorf("start %q: %w", cmd, err)
	}

	return &sshHeldCommand{
		sess:   sess,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: &stderr,
	}, nil
}

func (s *sshSession) Close() error {
	return s.client.Close()
}

type sshHeldCommand struct {
	sess   *ssh.Session
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *bytes.Buffer

	waitOnce sync.Once
	waitErr  error

	releaseOnce sync.Once
}

func (h *sshHeldCommand) WriteLine(line string) error {
	if _, err := io.WriteString(h.stdin, line+"\n"); err != nil {
		return err
	}
	return nil
}

func (h *sshHeldCommand) ReadLine() (string, error) {
	line, err := h.stdout.ReadString('\n')
	line = strings.TrimRight(line, "\n")
	if err != nil && line == "" {
		return "", err
	}
	return line, nil
}

func (h *sshHeldCommand) ExitCode() int {
	h.waitOnce.Do(func() { h.waitErr = h.sess.Wait() })
	if h.waitErr == nil {
		return 0
	}
	var exitErr *ssh.ExitError
	if errors.As(h.waitErr, &exitErr) {
		return exitErr.ExitStatus()
	}
	return -1
}

func (h *sshHeldCommand) Stderr() string {
	return strings.TrimSpace(h.stderr.String())
}

func (h *sshHeldCommand) Release() {
	h.releaseOnce.Do(func() {
		// Closing stdin ends the remote cat, which drops the flock.
		_ = h.stdin.Close()
		_ = h.sess.Close()
	})
}
