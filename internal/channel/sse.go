package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
)

const maxSSELine = 1 << 20

// SSETransport reads a text/event-stream endpoint. Only data fields are
// delivered; comments, event names and ids are skipped.
type SSETransport struct {
	URL    string
	Client *http.Client
}

func NewSSETransport(url string) *SSETransport {
	return &SSETransport{URL: url, Client: &http.Client{}}
}

func (t *SSETransport) Open(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := t.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open event stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("event stream returned status %d", resp.StatusCode)
	}

	return newSSEStream(resp.Body), nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	once   sync.Once
	closed chan struct{}
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{
		body:   body,
		reader: bufio.NewReaderSize(body, 64*1024),
		closed: make(chan struct{}),
	}
}

// Recv returns the data of the next event. Multi-line data is joined with
// newlines; an event is dispatched at the blank line that ends it. An event
// with a line over maxSSELine is skipped whole and reported as
// ErrEventTooLarge.
func (s *sseStream) Recv() ([]byte, error) {
	var data []string
	oversized := false
	for {
		line, tooLong, err := s.readLine()
		if err != nil {
			return nil, s.streamErr(err)
		}
		if tooLong {
			oversized = true
			continue
		}

		if line == "" {
			if oversized {
				return nil, ErrEventTooLarge
			}
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		if field == "data" {
			data = append(data, strings.TrimPrefix(value, " "))
		}
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxSSELine are read to the end and discarded.
func (s *sseStream) readLine() (string, bool, error) {
	var buf []byte
	tooLong := false
	for {
		frag, more, err := s.reader.ReadLine()
		if err != nil {
			return "", false, err
		}
		if !tooLong {
			if len(buf)+len(frag) > maxSSELine {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, frag...)
			}
		}
		if !more {
			return string(buf), tooLong, nil
		}
	}
}

func (s *sseStream) streamErr(err error) error {
	select {
	case <-s.closed:
		return ErrStreamClosed
	default:
	}
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return err
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.closed)
		err = s.body.Close()
	})
	return err
}
