package sshsession

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// fakeSSHD is a minimal in-process SSH server used to drive Session.Run
// against deterministic remote behavior without a real sshd. It accepts
// any password and hands every "exec" request's channel to a caller
// supplied handler instead of actually spawning a shell, which lets tests
// control exactly what the "remote" side says and when.
type fakeSSHD struct {
	port int
}

// execHandler plays the role of the remote shell for one "exec" request.
// killed is closed once the client sends a SIGKILL signal on the channel,
// mirroring what a real sshd would do when Session.Run gives up on a
// command: handlers that want to simulate a hung command should select on
// it instead of blocking forever.
type execHandler func(command string, channel ssh.Channel, killed <-chan struct{})

func startFakeSSHD(t *testing.T, handler execHandler) *fakeSSHD {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("build host key signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return &ssh.Permissions{}, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			nConn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeConn(nConn, cfg, handler)
		}
	}()

	return &fakeSSHD{port: ln.Addr().(*net.TCPAddr).Port}
}

// slowEchoHandler stays silent for delay, then reports whatever bytes (if
// any) it finds waiting on the channel's read side. Used to observe
// whether Session.Run wrote something into a command's stdin without it
// asking for input.
func slowEchoHandler(delay time.Duration) execHandler {
	return func(command string, channel ssh.Channel, killed <-chan struct{}) {
		select {
		case <-killed:
			return
		case <-time.After(delay):
		}
		readCh := make(chan []byte, 1)
		go func() {
			buf := make([]byte, 256)
			n, _ := channel.Read(buf)
			readCh <- buf[:n]
		}()
		var got []byte
		select {
		case got = <-readCh:
		case <-time.After(300 * time.Millisecond):
		case <-killed:
		}
		fmt.Fprintf(channel, "GOT:%q\n", string(got))
	}
}

// promptThenHangHandler writes promptText immediately, as if the remote
// shell were blocking on an interactive prompt, then sits until the
// client either kills the channel or hangFor elapses.
func promptThenHangHandler(promptText string, hangFor time.Duration) execHandler {
	return func(command string, channel ssh.Channel, killed <-chan struct{}) {
		fmt.Fprint(channel, promptText)
		select {
		case <-killed:
		case <-time.After(hangFor):
		}
	}
}

func serveFakeConn(nConn net.Conn, cfg *ssh.ServerConfig, handler execHandler) {
	sConn, chans, reqs, err := ssh.NewServerConn(nConn, cfg)
	if err != nil {
		return
	}
	defer sConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go serveFakeChannel(channel, requests, handler)
	}
}

func serveFakeChannel(channel ssh.Channel, requests <-chan *ssh.Request, handler execHandler) {
	defer channel.Close()
	killed := make(chan struct{})
	var killedClosed bool

	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			_ = ssh.Unmarshal(req.Payload, &payload)
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			go func() {
				handler(payload.Command, channel, killed)
				_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
				channel.Close()
			}()
		case "signal":
			if !killedClosed {
				close(killed)
				killedClosed = true
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}
