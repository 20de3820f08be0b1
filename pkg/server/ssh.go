package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/ssh"
)

// startSSHServer starts the SSH intake on the configured port. The SSH layer
// only provides the encrypted transport; accounts still authenticate with a
// LOGIN event over the channel, so the handshake accepts any client.
func (s *Server) startSSHServer() error {
	if s.config.SSHPort <= 0 {
		return nil
	}

	hostKey, err := s.loadOrGenerateHostKey()
	if err != nil {
		return fmt.Errorf("failed to load host key: %w", err)
	}

	config := &ssh.ServerConfig{
		NoClientAuth:  true,
		ServerVersion: "SSH-2.0-Parley",
	}
	config.AddHostKey(hostKey)

	addr := fmt.Sprintf(":%d", s.config.SSHPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.sshLis = listener

	log.Printf("SSH intake listening on %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptSSHLoop(listener, config)

	return nil
}

func (s *Server) acceptSSHLoop(listener net.Listener, config *ssh.ServerConfig) {
	defer s.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				log.Printf("SSH accept error: %v", err)
				continue
			}
		}

		go s.handleSSHConnection(conn, config)
	}
}

// handleSSHConnection performs the handshake and feeds each session channel
// into the regular connection intake.
func (s *Server) handleSSHConnection(conn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		debugLog.Printf("SSH handshake failed from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			debugLog.Printf("SSH channel accept failed: %v", err)
			continue
		}
		go handleSSHChannelRequests(requests)

		s.handleConnection(&sshChannelConn{
			channel:    channel,
			sshConn:    sshConn,
			localAddr:  conn.LocalAddr(),
			remoteAddr: conn.RemoteAddr(),
		})
	}

	sshConn.Close()
}

// handleSSHChannelRequests acknowledges the session requests a terminal
// client typically sends and declines the rest.
func handleSSHChannelRequests(requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "shell", "pty-req", "env", "window-change":
			if req.WantReply {
				req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

// sshChannelConn adapts an SSH session channel to net.Conn so the frame
// decoder and session machinery treat it like any other byte stream.
type sshChannelConn struct {
	channel    ssh.Channel
	sshConn    *ssh.ServerConn
	localAddr  net.Addr
	remoteAddr net.Addr
}

func (c *sshChannelConn) Read(p []byte) (int, error)  { return c.channel.Read(p) }
func (c *sshChannelConn) Write(p []byte) (int, error) { return c.channel.Write(p) }

func (c *sshChannelConn) Close() error {
	c.channel.Close()
	return c.sshConn.Close()
}

func (c *sshChannelConn) LocalAddr() net.Addr  { return c.localAddr }
func (c *sshChannelConn) RemoteAddr() net.Addr { return c.remoteAddr }

// SSH channels carry no deadline support
func (c *sshChannelConn) SetDeadline(t time.Time) error      { return nil }
func (c *sshChannelConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *sshChannelConn) SetWriteDeadline(t time.Time) error { return nil }

// loadOrGenerateHostKey loads the host key from disk, generating and saving
// a fresh one on first run.
func (s *Server) loadOrGenerateHostKey() (ssh.Signer, error) {
	keyPath, err := ExpandPath(s.config.SSHHostKeyPath)
	if err != nil {
		return nil, err
	}
	if keyPath == "" {
		return nil, fmt.Errorf("ssh host key path is empty; set [server].ssh_host_key or the PARLEY_SERVER_SSH_HOST_KEY variable")
	}

	keyBytes, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse host key: %w", err)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read host key: %w", err)
	}

	log.Printf("Generating new SSH host key at %s", keyPath)

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	privateKeyPEM := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(privateKeyPEM), 0600); err != nil {
		return nil, fmt.Errorf("failed to write key: %w", err)
	}

	return ssh.NewSignerFromKey(privateKey)
}
