package llm

import (
	"context"
	"io"
	"iter"
	"strings"
	"sync"
)

// Stream is a one-shot sequence of text fragments. Fragments are delivered
// exactly once and in order until the first terminal result, which then
// repeats on every later call. A Stream cannot be restarted.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan streamEvent
	done   chan struct{}

	mu    sync.Mutex
	final error
}

type streamEvent struct {
	content string
	err     error
}

// emitFunc hands one fragment to the consumer. It reports false once the
// stream was cancelled; the producer must then stop.
type emitFunc func(text string) bool

// newStream runs produce on its own goroutine. produce returns nil on normal
// completion. Any error returned after cancellation becomes ErrCancelled.
func newStream(ctx context.Context, produce func(ctx context.Context, emit emitFunc) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan streamEvent, 16),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)

		err := produce(ctx, func(text string) bool {
			if text == "" {
				return ctx.Err() == nil
			}
			select {
			case s.events <- streamEvent{content: text}:
				return true
			case <-ctx.Done():
				return false
			}
		})
		switch {
		case ctx.Err() != nil:
			err = ErrCancelled
		case err == nil:
			err = io.EOF
		}
		select {
		case s.events <- streamEvent{err: err}:
		case <-ctx.Done():
		}
	}()

	return s
}

// failedStream returns a Stream that ends with err without yielding.
func failedStream(ctx context.Context, err error) *Stream {
	return newStream(ctx, func(context.Context, emitFunc) error { return err })
}

// Recv returns the next fragment. At the end of the stream it returns
// io.EOF for normal completion, ErrCancelled after cancellation or Close,
// or the provider failure.
func (s *Stream) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.final != nil {
		return "", s.final
	}
	if s.ctx.Err() != nil {
		return "", s.finish(ErrCancelled)
	}

	select {
	case ev := <-s.events:
		// Cancellation may race with a queued fragment; it always wins.
		if s.ctx.Err() != nil {
			return "", s.finish(ErrCancelled)
		}
		if ev.err != nil {
			return "", s.finish(ev.err)
		}
		return ev.content, nil
	case <-s.ctx.Done():
		return "", s.finish(ErrCancelled)
	}
}

func (s *Stream) finish(err error) error {
	s.final = err
	s.cancel()
	return err
}

// Close cancels the stream and waits until its connection is released.
// Queued fragments are discarded. Once the terminal result has been
// received Close has no further effect.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// Fragments ranges over the stream. Iteration ends after the last fragment
// on normal completion, or with one ("", err) pair on failure or
// cancellation. Breaking out of the loop closes the stream.
func (s *Stream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			text, err := s.Recv()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// Collect drains the stream and returns the accumulated text. On failure
// the text received so far is returned with the error.
func (s *Stream) Collect() (string, error) {
	var b strings.Builder
	for text, err := range s.Fragments() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(text)
	}
	return b.String(), nil
}
