//go:build linux

package ws

import (
	"net"
	"testing"
	"time"
)

func TestRegisterConnectionUnwindsOnEpollFailure(t *testing.T) {
	rec := &hookRecorder{}

	s := NewServer(DefaultServerConfig(), Hooks{})
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		t.Fatalf("NewEpoll: %v", err)
	}
	defer s.epoll.Close()

	s.hooks = Hooks{
		Connected:    func(c *Connection) { rec.record("connected") },
		Disconnected: func(c *Connection) { rec.record("disconnected") },
	}

	// A pipe conn carries no file descriptor, so arming epoll fails after the
	// Connected hook already ran. The registration must unwind through the
	// Disconnected hook so presence counters stay balanced.
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := &Connection{ID: "conn-1", Conn: server, Fd: socketFD(server), CreatedAt: time.Now()}
	c.touch()

	if err := s.registerConnection(c); err == nil {
		t.Fatal("expected registration to fail for a conn without a socket fd")
	}

	seq := rec.sequence()
	if len(seq) != 2 || seq[0] != "connected" || seq[1] != "disconnected" {
		t.Fatalf("hook sequence = %v, want [connected disconnected]", seq)
	}
	if s.conns.Count() != 0 {
		t.Errorf("connection left in manager after failed registration")
	}
}
