package remote

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"taskmate-sync/broadcast"
)

var errSubscriptionClosed = errors.New("remote: subscription closed")

// Events carries board events through the API. Publish posts to a board's
// events route and Subscribe reads its server-sent event stream, both with
// the client's bearer token, so the server decides who may speak and listen
// on a board channel.
type Events struct {
	client *Client
	stream *http.Client
}

// Events returns a broadcast transport backed by the API.
func (c *Client) Events() *Events {
	// Streams stay open indefinitely; only the caller's context ends them.
	return &Events{client: c, stream: &http.Client{Transport: c.HTTP.Transport}}
}

func eventsPath(channel string) (string, error) {
	boardID, ok := broadcast.BoardIDFromChannel(channel)
	if !ok {
		return "", fmt.Errorf("remote: unknown channel %q", channel)
	}
	return "/api/boards/" + url.PathEscape(boardID) + "/events", nil
}

// Publish sends payload to the subscribers of channel.
func (e *Events) Publish(ctx context.Context, channel string, payload []byte) error {
	path, err := eventsPath(channel)
	if err != nil {
		return err
	}
	return e.client.do(ctx, http.MethodPost, path, payload, nil)
}

// Subscribe opens one event stream per channel. It returns once every
// stream was acknowledged by the server.
func (e *Events) Subscribe(ctx context.Context, channels ...string) (broadcast.Subscription, error) {
	subCtx, cancel := context.WithCancel(context.Background())
	s := &eventSubscription{
		events:  e,
		ctx:     subCtx,
		cancel:  cancel,
		out:     make(chan broadcast.Message, 64),
		streams: make(map[string]context.CancelFunc),
	}
	go s.closeWhenDone()
	if err := s.Add(ctx, channels...); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// connect opens the stream of channel bound to streamCtx and consumes the
// server's opening comment. If ctx ends before the handshake completes the
// stream is cancelled.
func (e *Events) connect(ctx, streamCtx context.Context, cancelStream context.CancelFunc, channel string) (*bufio.Reader, io.Closer, error) {
	path, err := eventsPath(channel)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, e.client.BaseURL+path, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if e.client.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+e.client.Bearer)
	}
	stop := context.AfterFunc(ctx, cancelStream)

	resp, err := e.stream.Do(req)
	if err != nil {
		stop()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		stop()
		resp.Body.Close()
		return nil, nil, ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		stop()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, nil, &StatusError{Method: http.MethodGet, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if !stop() {
		resp.Body.Close()
		return nil, nil, ctx.Err()
	}
	if err != nil {
		resp.Body.Close()
		return nil, nil, err
	}
	if !strings.HasPrefix(line, ":") {
		resp.Body.Close()
		return nil, nil, fmt.Errorf("remote: unexpected stream preamble %q", strings.TrimSpace(line))
	}
	return reader, resp.Body, nil
}

type eventSubscription struct {
	events *Events
	ctx    context.Context
	cancel context.CancelFunc
	out    chan broadcast.Message

	mu      sync.Mutex
	closed  bool
	streams map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// closeWhenDone closes Messages after the subscription ended and every
// stream reader returned.
func (s *eventSubscription) closeWhenDone() {
	<-s.ctx.Done()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
	close(s.out)
}

func (s *eventSubscription) Add(ctx context.Context, channels ...string) error {
	for _, ch := range channels {
		if err := s.open(ctx, ch); err != nil {
			return err
		}
	}
	return nil
}

func (s *eventSubscription) open(ctx context.Context, channel string) error {
	s.mu.Lock()
	_, exists := s.streams[channel]
	s.mu.Unlock()
	if exists {
		return nil
	}
	streamCtx, cancel := context.WithCancel(s.ctx)
	reader, body, err := s.events.connect(ctx, streamCtx, cancel, channel)
	if err != nil {
		cancel()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		cancel()
		body.Close()
		return errSubscriptionClosed
	}
	if _, exists := s.streams[channel]; exists {
		cancel()
		body.Close()
		return nil
	}
	s.streams[channel] = cancel
	s.wg.Add(1)
	go s.read(streamCtx, channel, reader, body)
	return nil
}

// read forwards the data of every event on the stream. A stream that ends
// on its own ends the whole subscription so the consumer resubscribes.
func (s *eventSubscription) read(ctx context.Context, channel string, r *bufio.Reader, body io.Closer) {
	defer s.wg.Done()
	defer body.Close()
	// Unblock ReadString once the stream is cancelled.
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	var data strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if ctx.Err() == nil {
				s.cancel()
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			msg := broadcast.Message{Channel: channel, Payload: []byte(data.String())}
			data.Reset()
			select {
			case s.out <- msg:
			case <-ctx.Done():
				return
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
}

func (s *eventSubscription) Remove(ctx context.Context, channels ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if cancel, ok := s.streams[ch]; ok {
			cancel()
			delete(s.streams, ch)
		}
	}
	return nil
}

func (s *eventSubscription) Messages() <-chan broadcast.Message { return s.out }

func (s *eventSubscription) Close() error {
	s.cancel()
	return nil
}
