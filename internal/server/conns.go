package server

import (
	"net"
	"sync"
)

// trackingListener 记录已接受的连接，排空超时后可以强制关闭剩余连接。
type trackingListener struct {
	net.Listener

	mu    sync.Mutex
	conns map[*trackedConn]struct{}
}

func newTrackingListener(ln net.Listener) *trackingListener {
	return &trackingListener{Listener: ln, conns: make(map[*trackedConn]struct{})}
}

func (l *trackingListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	tc := &trackedConn{Conn: conn, owner: l}
	l.mu.Lock()
	l.conns[tc] = struct{}{}
	l.mu.Unlock()
	return tc, nil
}

// closeAll 强制关闭所有仍然打开的连接，返回关闭的数量。
func (l *trackingListener) closeAll() int {
	l.mu.Lock()
	remaining := make([]*trackedConn, 0, len(l.conns))
	for tc := range l.conns {
		remaining = append(remaining, tc)
	}
	l.mu.Unlock()

	for _, tc := range remaining {
		_ = tc.Close()
	}
	return len(remaining)
}

func (l *trackingListener) open() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

type trackedConn struct {
	net.Conn
	owner *trackingListener
	once  sync.Once
}

func (c *trackedConn) Close() error {
	c.once.Do(func() {
		c.owner.mu.Lock()
		delete(c.owner.conns, c)
		c.owner.mu.Unlock()
	})
	return c.Conn.Close()
}
