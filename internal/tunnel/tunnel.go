// Package tunnel forwards local TCP connections to a private endpoint through
// a bastion host over SSH. The database behind it is only reachable from
// inside the VPC, so migrations run against the tunnel's local address.
package tunnel

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config describes the bastion hop and the private endpoint behind it.
type Config struct {
	BastionAddr    string // host or host:port; port defaults to 22
	User           string // ssh user on the bastion
	PrivateKeyPath string // PEM-encoded private key
	KnownHostsPath string // optional; host key checking is skipped when empty
	RemoteAddr     string // private endpoint, host:port
}

// Tunnel is an open forwarding listener. Connections accepted on Addr() are
// dialed to the remote endpoint through the bastion.
type Tunnel struct {
	listener net.Listener
	client   *ssh.Client
	logger   zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// Open dials the bastion and starts a local listener on a loopback port.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Tunnel, error) {
	if cfg.BastionAddr == "" {
		return nil, fmt.Errorf("bastion address is required")
	}
	if cfg.RemoteAddr == "" {
		return nil, fmt.Errorf("remote address is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("bastion user is required")
	}

	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	bastionAddr := EnsurePort(cfg.BastionAddr, "22")

	logger = logger.With().
		Str("service", "tunnel").
		Str("bastion", bastionAddr).
		Str("remote", cfg.RemoteAddr).
		Logger()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", bastionAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bastion %s: %w", bastionAddr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, bastionAddr, clientConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", bastionAddr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open local listener: %w", err)
	}

	t := &Tunnel{
		listener: listener,
		client:   client,
		logger:   logger,
	}

	go t.serve(cfg.RemoteAddr)

	logger.Info().Str("local", listener.Addr().String()).Msg("tunnel open")

	return t, nil
}

// Addr returns the local host:port clients should connect to.
func (t *Tunnel) Addr() string {
	return t.listener.Addr().String()
}

// Close tears down the listener and the SSH connection.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.listener.Close()
	return t.client.Close()
}

func (t *Tunnel) serve(remoteAddr string) {
	for {
		local, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			t.mu.Unlock()
			if !closed {
				t.logger.Warn().Err(err).Msg("tunnel accept failed")
			}
			return
		}

		go t.forward(local, remoteAddr)
	}
}

func (t *Tunnel) forward(local net.Conn, remoteAddr string) {
	defer local.Close()

	remote, err := t.client.Dial("tcp", remoteAddr)
	if err != nil {
		t.logger.Error().Err(err).Msg("failed to dial remote endpoint through bastion")
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

func buildClientConfig(cfg Config) (*ssh.ClientConfig, error) {
	if cfg.PrivateKeyPath == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	keyData, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key %s: %w", cfg.PrivateKeyPath, err)
	}

	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", cfg.PrivateKeyPath, err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts %s: %w", cfg.KnownHostsPath, err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
	}, nil
}

// EnsurePort appends the default port when addr carries none.
func EnsurePort(addr, defaultPort string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	// IPv6 literals without a port confuse SplitHostPort; wrap them.
	if strings.Count(addr, ":") > 1 && !strings.HasPrefix(addr, "[") {
		return fmt.Sprintf("[%s]:%s", addr, defaultPort)
	}
	return net.JoinHostPort(addr, defaultPort)
}

// ParseBastion splits user@host into its parts, falling back to defaultUser
// when no user is given.
func ParseBastion(s, defaultUser string) (user, addr string) {
	if i := strings.Index(s, "@"); i >= 0 {
		return s[:i], s[i+1:]
	}
	return defaultUser, s
}
