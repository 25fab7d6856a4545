package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

const (
	// readBufSize is the per-direction read buffer.
	readBufSize = 4096
	// chunkSize bounds a single token acquisition and write.
	chunkSize = 1024
)

// forward pumps bytes between the inbound and outbound streams until both
// directions close or either fails. Client→backend counts as bytes sent.
// Bytes still buffered in br are drained before fresh client reads.
func (e *Engine) forward(ctx context.Context, id uint64, br *bufio.Reader, client, backendConn net.Conn) error {
	cm, ok := e.Metrics.ConnMetricsOf(id)
	if !ok {
		return fmt.Errorf("metrics not found for connection %d", id)
	}
	pair, ok := e.Metrics.PairOf(id)
	if !ok {
		return fmt.Errorf("rate limiters not found for connection %d", id)
	}

	var once sync.Once
	var firstErr error
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			// Unblock the opposite direction.
			_ = client.Close()
			_ = backendConn.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pump(ctx, br, backendConn, pair.Send, &cm.BytesSent, &e.Metrics.TotalBytesSent, fail)
	}()
	go func() {
		defer wg.Done()
		pump(ctx, backendConn, client, pair.Recv, &cm.BytesRecv, &e.Metrics.TotalBytesRecv, fail)
	}()
	wg.Wait()

	if firstErr != nil && !errors.Is(firstErr, net.ErrClosed) && !errors.Is(firstErr, context.Canceled) {
		return firstErr
	}
	return nil
}

// pump copies one direction in rate-limited chunks, half-closing the
// destination on source EOF. The limiter is re-fetched per chunk so rate
// updates take effect at the next acquisition.
func pump(ctx context.Context, src io.Reader, dst net.Conn, limiter func() *rate.Limiter, connCounter, globalCounter *atomic.Uint64, fail func(error)) {
	buf := make([]byte, readBufSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			off := 0
			for off < n {
				lim := limiter()
				chunk := chunkSize
				// Clamp to the bucket burst so a small bucket cannot wedge
				// the acquisition.
				if b := lim.Burst(); b > 0 && b < chunk {
					chunk = b
				}
				if rem := n - off; rem < chunk {
					chunk = rem
				}
				if werr := lim.WaitN(ctx, chunk); werr != nil {
					fail(werr)
					return
				}
				if _, werr := dst.Write(buf[off : off+chunk]); werr != nil {
					fail(werr)
					return
				}
				connCounter.Add(uint64(chunk))
				globalCounter.Add(uint64(chunk))
				off += chunk
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				// Half-close: drain finished, let the other direction run.
				closeWrite(dst)
				return
			}
			fail(err)
			return
		}
	}
}
