package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const DefaultSubject = "workflow.events"

// NATSTransport subscribes to a subject on a NATS server. The client's own
// reconnect logic is turned off so a lost server surfaces as a stream error
// and the Supervisor decides when to retry.
type NATSTransport struct {
	URL     string
	Subject string
	Name    string
	Timeout time.Duration
}

func NewNATSTransport(url, subject string) *NATSTransport {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSTransport{
		URL:     url,
		Subject: subject,
		Name:    "flowwatch",
		Timeout: 2 * time.Second,
	}
}

func (t *NATSTransport) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &natsStream{
		msgs: make(chan *nats.Msg, 256),
		done: make(chan struct{}),
	}

	opts := []nats.Option{
		nats.Name(t.Name),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			s.fail(fmt.Errorf("nats disconnected: %w", err))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			s.fail(ErrStreamClosed)
		}),
	}
	if t.Timeout > 0 {
		opts = append(opts, nats.Timeout(t.Timeout))
	}

	nc, err := nats.Connect(t.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	sub, err := nc.ChanSubscribe(t.Subject, s.msgs)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.Subject, err)
	}
	s.nc = nc
	s.sub = sub

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

type natsStream struct {
	nc   *nats.Conn
	sub  *nats.Subscription
	msgs chan *nats.Msg

	once sync.Once
	err  error
	done chan struct{}
}

func (s *natsStream) fail(err error) {
	s.once.Do(func() {
		if err == nil {
			err = ErrStreamClosed
		}
		s.err = err
		close(s.done)
	})
}

func (s *natsStream) Recv() ([]byte, error) {
	select {
	case msg := <-s.msgs:
		return msg.Data, nil
	case <-s.done:
		return nil, s.err
	}
}

func (s *natsStream) Close() error {
	s.fail(ErrStreamClosed)
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
