package executor

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/xedro98/Glacier/internal/model"
)

const sshDialTimeout = 10 * time.Second

// SSH runs commands on remote servers over an SSH management channel.
// Connections are cached per server and redialed on failure.
type SSH struct {
	mu      sync.Mutex
	clients map[string]*ssh.Client
}

// Execute runs the command on the remote server, capturing output and exit code.
func (s *SSH) Execute(ctx context.Context, server model.Server, command string) (Result, error) {
	client, err := s.client(server)
	if err != nil {
		return Result{}, fmt.Errorf("connect to %s: %w", server.ID, err)
	}

	session, err := client.NewSession()
	if err != nil {
		// Stale connection; drop it and redial once.
		s.drop(server.ID)
		if client, err = s.client(server); err != nil {
			return Result{}, fmt.Errorf("reconnect to %s: %w", server.ID, err)
		}
		if session, err = client.NewSession(); err != nil {
			return Result{}, fmt.Errorf("open session on %s: %w", server.ID, err)
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{}, ctx.Err()
	case err = <-done:
	}

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*ssh.ExitError); ok {
			res.ExitCode = exitErr.ExitStatus()
			return res, &ExecutionError{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("run on %s: %w", server.ID, err)
	}
	return res, nil
}

func (s *SSH) client(server model.Server) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.clients == nil {
		s.clients = make(map[string]*ssh.Client)
	}
	if c, ok := s.clients[server.ID]; ok {
		return c, nil
	}

	key, err := os.ReadFile(server.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	addr := server.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	cfg := &ssh.ClientConfig{
		User:            server.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         sshDialTimeout,
	}

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, err
	}
	s.clients[server.ID] = client
	return client, nil
}

func (s *SSH) drop(serverID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[serverID]; ok {
		c.Close()
		delete(s.clients, serverID)
	}
}

// Close shuts down all cached SSH connections.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.clients {
		c.Close()
		delete(s.clients, id)
	}
	return nil
}
