// Package listener accepts inbound connections, allocates connection ids,
// and spawns an engine task per socket.
package listener

import (
	"context"
	"net"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/riftgate/riftgate/internal/engine"
	"github.com/riftgate/riftgate/internal/metrics"
)

// Listener owns one accept loop. Stopping it does not close connections it
// already accepted.
type Listener struct {
	ID     uint64
	ln     net.Listener
	cancel context.CancelFunc
}

// Start binds addr:port and launches the accept loop.
func Start(id uint64, addr string, port uint16, eng *engine.Engine) (*Listener, error) {
	listen := net.JoinHostPort(addr, strconv.Itoa(int(port)))
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{ID: id, ln: ln, cancel: cancel}
	logrus.WithField("listener", id).Infof("Listening on %s", listen)
	go l.acceptLoop(ctx, eng)
	return l, nil
}

// Addr reports the bound address, useful when port 0 was requested.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Stop aborts the accept loop. Existing connections keep running.
func (l *Listener) Stop() {
	l.cancel()
	_ = l.ln.Close()
}

func (l *Listener) acceptLoop(ctx context.Context, eng *engine.Engine) {
	log := logrus.WithField("listener", l.ID)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Errorf("Accept error: %v", err)
			return
		}

		id := eng.Metrics.NextConnID()
		// Connections outlive their listener: stopping the accept loop must
		// not cancel tasks it already spawned.
		connCtx, connCancel := context.WithCancel(context.Background())
		eng.Metrics.RegisterConn(id, &metrics.ConnHandle{Cancel: connCancel, Conn: conn})
		log.Debugf("Accepted conn %d from %s", id, conn.RemoteAddr())
		go eng.Handle(connCtx, id, conn)
	}
}
