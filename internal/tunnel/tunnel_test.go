package tunnel

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/rowpane/rowpane/internal/dao"
)

// sshServer is a minimal in-process SSH server that supports password auth
// and direct-tcpip forwarding.
type sshServer struct {
	listener net.Listener
	hostKey  ssh.Signer

	mu    sync.Mutex
	conns []net.Conn
}

func startSSHServer(t *testing.T) *sshServer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &sshServer{listener: l, hostKey: signer}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "tunnel" && string(pass) == "pw" {
				return nil, nil
			}
			return nil, io.EOF
		},
	}
	cfg.AddHostKey(signer)

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.serve(conn, cfg)
		}
	}()
	t.Cleanup(func() { l.Close() })
	return s
}

func (s *sshServer) serve(conn net.Conn, cfg *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)
	for nc := range chans {
		if nc.ChannelType() != "direct-tcpip" {
			nc.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var payload struct {
			DestAddr string
			DestPort uint32
			OrigAddr string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(nc.ExtraData(), &payload); err != nil {
			nc.Reject(ssh.ConnectionFailed, "bad payload")
			continue
		}
		target, err := net.Dial("tcp", net.JoinHostPort(payload.DestAddr, strconv.Itoa(int(payload.DestPort))))
		if err != nil {
			nc.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			target.Close()
			continue
		}
		go ssh.DiscardRequests(creqs)
		go func() {
			defer ch.Close()
			defer target.Close()
			go io.Copy(target, ch)
			io.Copy(ch, target)
		}()
	}
}

func (s *sshServer) dropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

func (s *sshServer) config() dao.SSHConfig {
	addr := s.listener.Addr().(*net.TCPAddr)
	return dao.SSHConfig{Enabled: true, Host: "127.0.0.1", Port: addr.Port, Username: "tunnel", Password: "pw"}
}

func startEchoServer(t *testing.T) *net.TCPAddr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return l.Addr().(*net.TCPAddr)
}

func roundTrip(t *testing.T, port int, msg string) string {
	t.Helper()
	c, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), 5*time.Second)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = c.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestTunnel_ForwardsTraffic(t *testing.T) {
	srv := startSSHServer(t)
	echo := startEchoServer(t)

	tun, err := Open(context.Background(), srv.config(), "127.0.0.1", echo.Port, nil, nil)
	require.NoError(t, err)
	defer tun.Close()

	assert.Equal(t, "127.0.0.1", tun.LocalHost())
	assert.NotZero(t, tun.LocalPort())
	assert.Equal(t, "hello", roundTrip(t, tun.LocalPort(), "hello"))
	assert.Equal(t, "again", roundTrip(t, tun.LocalPort(), "again"))
}

func TestTunnel_TransportErrorRunsHandlerOnce(t *testing.T) {
	srv := startSSHServer(t)
	echo := startEchoServer(t)

	var calls int
	var mu sync.Mutex
	errCh := make(chan error, 4)
	tun, err := Open(context.Background(), srv.config(), "127.0.0.1", echo.Port, func(err error) {
		mu.Lock()
		calls++
		mu.Unlock()
		errCh <- err
	}, nil)
	require.NoError(t, err)

	srv.dropClients()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("error handler not called after transport failure")
	}
	<-tun.Done()
	require.NoError(t, tun.Close())

	mu.Lock()
	assert.Equal(t, 1, calls)
	mu.Unlock()
}

func TestTunnel_CloseDoesNotRunHandler(t *testing.T) {
	srv := startSSHServer(t)
	echo := startEchoServer(t)

	called := make(chan struct{}, 1)
	tun, err := Open(context.Background(), srv.config(), "127.0.0.1", echo.Port, func(error) { called <- struct{}{} }, nil)
	require.NoError(t, err)
	require.NoError(t, tun.Close())

	select {
	case <-called:
		t.Fatal("error handler called on deliberate close")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTunnel_BadCredentials(t *testing.T) {
	srv := startSSHServer(t)
	cfg := srv.config()
	cfg.Password = "wrong"
	_, err := Open(context.Background(), cfg, "127.0.0.1", 1, nil, nil)
	require.Error(t, err)
	assert.True(t, dao.IsKind(err, dao.KindConnectivity))
}

func TestClientConfig(t *testing.T) {
	_, err := ClientConfig(dao.SSHConfig{Host: "h"})
	assert.True(t, dao.IsKind(err, dao.KindValidation))

	_, err = ClientConfig(dao.SSHConfig{Host: "h", Username: "u"})
	assert.True(t, dao.IsKind(err, dao.KindValidation), "no auth method")

	_, err = ClientConfig(dao.SSHConfig{Host: "h", Username: "u", PrivateKey: "garbage"})
	assert.True(t, dao.IsKind(err, dao.KindValidation))

	cfg, err := ClientConfig(dao.SSHConfig{Host: "h", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "u", cfg.User)
	assert.Len(t, cfg.Auth, 1)
}
