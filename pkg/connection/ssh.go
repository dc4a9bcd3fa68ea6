package connection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/capstan/capstan/pkg/types"
)

// SSH runs commands over an SSH transport, one session per command
type SSH struct {
	name    string
	root    string
	timeout time.Duration
	client  *ssh.Client
	mu      sync.Mutex
}

// DialSSH opens an SSH connection for the given config
func DialSSH(ctx context.Context, cfg types.ConnectionConfig) (*SSH, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("connection %s: no host configured", cfg.Name)
	}

	auth, err := authMethods(cfg)
	if err != nil {
		return nil, fmt.Errorf("connection %s: %w", cfg.Name, err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // #nosec G106 -- host key pinning is deferred to deployment policy
		Timeout:         15 * time.Second,
	}

	// Honor context cancellation during dial
	d := net.Dialer{Timeout: clientConfig.Timeout}
	netConn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Addr(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, cfg.Addr(), clientConfig)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", cfg.Addr(), err)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second

	return &SSH{
		name:    cfg.Name,
		root:    cfg.Root,
		timeout: timeout,
		client:  ssh.NewClient(sshConn, chans, reqs),
	}, nil
}

// Name returns the connection name
func (s *SSH) Name() string { return s.name }

// Run executes the command in a fresh session
func (s *SSH) Run(ctx context.Context, command string, withOutput bool) (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return "", -1, fmt.Errorf("connection %s: closed", s.name)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return "", -1, fmt.Errorf("new session: %w", err)
	}
	defer sess.Close()

	var buf bytes.Buffer
	if withOutput {
		sess.Stdout = &buf
		sess.Stderr = &buf
	} else {
		sess.Stdout = io.Discard
		sess.Stderr = io.Discard
	}

	if s.root != "" {
		command = fmt.Sprintf("cd %s && %s", s.root, command)
	}

	done := make(chan error, 1)
	if err := sess.Start(command); err != nil {
		return "", -1, fmt.Errorf("start command: %w", err)
	}
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		// Best effort: tear the session down and surface the cancellation
		sess.Signal(ssh.SIGKILL)
		return trimmed(&buf), -1, ctx.Err()
	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return trimmed(&buf), exitErr.ExitStatus(), nil
			}
			return trimmed(&buf), -1, fmt.Errorf("wait command: %w", err)
		}
		return trimmed(&buf), 0, nil
	}
}

// Close tears down the SSH client
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func trimmed(buf *bytes.Buffer) string {
	out := buf.String()
	for len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out
}

func authMethods(cfg types.ConnectionConfig) ([]ssh.AuthMethod, error) {
	if cfg.KeyFile == "" {
		return nil, fmt.Errorf("no key file configured")
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}
