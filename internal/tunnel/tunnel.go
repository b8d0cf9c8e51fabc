// Package tunnel forwards a free local port to a remote database through an
// SSH jump host.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/logger"
)

const (
	defaultSSHPort    = 22
	dialTimeout       = 15 * time.Second
	keepAliveInterval = 30 * time.Second
)

// ErrClosed is reported to the error handler when the tunnel is closed on purpose.
var ErrClosed = errors.New("tunnel closed")

// Tunnel is a live local port forward. It is torn down by its first transport
// error or by Close, whichever happens first; onError runs exactly once in
// the first case.
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	remote   string
	log      *slog.Logger

	onError func(error)

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Open dials the jump host, binds 127.0.0.1:0 and starts forwarding accepted
// connections to remoteHost:remotePort. onError may be nil.
func Open(ctx context.Context, cfg dao.SSHConfig, remoteHost string, remotePort int, onError func(error), log *slog.Logger) (*Tunnel, error) {
	clientCfg, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	port := cfg.Port
	if port == 0 {
		port = defaultSSHPort
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, dao.Connectivity("dial ssh host "+addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, dao.Connectivity("ssh handshake with "+addr, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		client.Close()
		return nil, dao.Connectivity("allocate local tunnel port", err)
	}

	t := &Tunnel{
		client:   client,
		listener: listener,
		remote:   net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)),
		log:      logger.OrDiscard(log).With("ssh_host", addr),
		onError:  onError,
		done:     make(chan struct{}),
	}

	t.wg.Add(3)
	go t.acceptLoop()
	go t.watchClient()
	go t.keepAlive()

	t.log.Debug("SSH tunnel established", "local_port", t.LocalPort(), "remote", t.remote)
	return t, nil
}

// ClientConfig builds the SSH client configuration: key auth when a private
// key is set, password auth otherwise, and a fixed host key when one is known.
func ClientConfig(cfg dao.SSHConfig) (*ssh.ClientConfig, error) {
	if cfg.Host == "" || cfg.Username == "" {
		return nil, dao.Validationf("ssh host and username are required")
	}

	var auth []ssh.AuthMethod
	if cfg.PrivateKey != "" {
		var signer ssh.Signer
		var err error
		if cfg.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(cfg.PrivateKey), []byte(cfg.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
		}
		if err != nil {
			return nil, dao.Validationf("ssh private key: %v", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, dao.Validationf("ssh private key or password is required")
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if cfg.HostKey != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(cfg.HostKey))
		if err != nil {
			return nil, dao.Validationf("ssh host key: %v", err)
		}
		hostKey = ssh.FixedHostKey(pub)
	}

	return &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         dialTimeout,
	}, nil
}

// LocalPort is the forwarded port on 127.0.0.1.
func (t *Tunnel) LocalPort() int {
	return t.listener.Addr().(*net.TCPAddr).Port
}

// LocalHost is always the loopback address.
func (t *Tunnel) LocalHost() string { return "127.0.0.1" }

// Done is closed once the tunnel is torn down.
func (t *Tunnel) Done() <-chan struct{} { return t.done }

// Close tears the tunnel down without invoking the error handler.
func (t *Tunnel) Close() error {
	t.shutdown(ErrClosed)
	t.wg.Wait()
	return nil
}

func (t *Tunnel) fail(err error) {
	t.shutdown(err)
}

func (t *Tunnel) shutdown(cause error) {
	t.closeOnce.Do(func() {
		close(t.done)
		t.listener.Close()
		t.client.Close()
		if errors.Is(cause, ErrClosed) {
			t.log.Debug("SSH tunnel closed", "remote", t.remote)
			return
		}
		t.log.Warn("SSH tunnel failed", "remote", t.remote, "error", cause)
		if t.onError != nil {
			go t.onError(cause)
		}
	})
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.done:
			default:
				t.fail(fmt.Errorf("accept on tunnel port: %w", err))
			}
			return
		}
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer local.Close()
	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		// A failed channel open means the SSH transport is unusable.
		t.fail(fmt.Errorf("open channel to %s: %w", t.remote, err))
		return
	}
	defer remote.Close()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(remote, local)
		remote.Close()
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(local, remote)
		local.Close()
	}()
	wg.Wait()
}

func (t *Tunnel) watchClient() {
	defer t.wg.Done()
	err := t.client.Wait()
	select {
	case <-t.done:
	default:
		if err == nil {
			err = errors.New("ssh connection closed by remote")
		}
		t.fail(err)
	}
}

func (t *Tunnel) keepAlive() {
	defer t.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if _, _, err := t.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.fail(fmt.Errorf("ssh keepalive: %w", err))
				return
			}
		}
	}
}
