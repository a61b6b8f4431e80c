package sink

import (
	"context"
	"net"
	"strconv"

	"pgmetrics/logger"
	"pgmetrics/metrics"
)

// Ffwd pushes records to a metrics forwarding agent over UDP, one
// datagram per record. Delivery is best-effort: a failed send is
// logged and dropped, never surfaced to the scheduler.
type Ffwd struct {
	log  *logger.Logger
	addr string
	conn net.Conn
}

// NewFfwd resolves the endpoint once at startup; a bad address is a
// setup failure.
func NewFfwd(log *logger.Logger, host string, port int) (*Ffwd, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Ffwd{log: log, addr: addr, conn: conn}, nil
}

func (f *Ffwd) Deliver(ctx context.Context, records []metrics.Record) error {
	for _, record := range records {
		payload, err := record.Encode()
		if err != nil {
			f.log.Error(ctx, err, "failed to encode record for push", "key", record.Key)
			continue
		}
		f.log.Debug(ctx, "send UDP packet", "addr", f.addr, "payload", string(payload))
		if _, err := f.conn.Write(payload); err != nil {
			f.log.Warn(ctx, "failed to push record, dropping",
				"addr", f.addr, "key", record.Key, "error", err.Error())
		}
	}
	return nil
}

func (f *Ffwd) Close() error {
	return f.conn.Close()
}
