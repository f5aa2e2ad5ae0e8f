// Package stream implements the one-way push channel fed by the event bus.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/bus"
	"github.com/vovakirdan/doubtline/internal/metrics"
	"github.com/vovakirdan/doubtline/internal/proto"
)

const (
	// DefaultKeepAlive keeps idle intermediaries from closing the stream.
	DefaultKeepAlive = 25 * time.Second
	defaultBuffer    = 64
)

// ErrEmptyChannel is returned when Serve is called without a channel name.
var ErrEmptyChannel = errors.New("channel name is required")

// Sink receives frames for one open channel. Implementations need not be
// safe for concurrent use; Serve writes from a single goroutine.
type Sink interface {
	WriteFrame(proto.Frame) error
}

// Options configures a Broker.
type Options struct {
	KeepAlive time.Duration
	Buffer    int
	Clock     clock.Clock
	Logger    *zerolog.Logger
}

// Broker opens push channels against a bus.
type Broker struct {
	bus       *bus.Bus
	keepAlive time.Duration
	buffer    int
	clock     clock.Clock
	log       *zerolog.Logger
	open      atomic.Int64
}

// NewBroker creates a broker publishing frames from b.
func NewBroker(b *bus.Bus, opts Options) *Broker {
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Broker{
		bus:       b,
		keepAlive: opts.KeepAlive,
		buffer:    opts.Buffer,
		clock:     opts.Clock,
		log:       opts.Logger,
	}
}

// Open returns the number of channels currently being served.
func (b *Broker) Open() int {
	return int(b.open.Load())
}

// Serve streams channel to sink until ctx is done or a write fails. The bus
// listener and keep-alive ticker are released before Serve returns.
func (b *Broker) Serve(ctx context.Context, channel string, sink Sink) error {
	if channel == "" {
		return ErrEmptyChannel
	}

	b.open.Add(1)
	metrics.StreamChannels.Inc()
	defer func() {
		b.open.Add(-1)
		metrics.StreamChannels.Dec()
	}()

	hello := proto.Frame{Type: proto.FrameHello, Channel: channel, TS: b.clock.Now().UnixMilli()}
	if err := sink.WriteFrame(hello); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}

	frames := make(chan proto.Frame, b.buffer)
	sub := b.bus.Subscribe(channel, func(name string, ev bus.Event) {
		frame, err := messageFrame(name, ev)
		if err != nil {
			b.log.Warn().Err(err).Str("channel", name).Msg("encode stream payload")
			return
		}
		select {
		case frames <- frame:
		default:
			b.log.Warn().Str("channel", name).Msg("stream subscriber backed up, frame dropped")
		}
	})
	defer sub.Unsubscribe()

	ticker := b.clock.Ticker(b.keepAlive)
	defer ticker.Stop()

	b.log.Debug().Str("channel", channel).Msg("stream opened")
	defer b.log.Debug().Str("channel", channel).Msg("stream closed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-frames:
			if err := sink.WriteFrame(frame); err != nil {
				return fmt.Errorf("write message: %w", err)
			}
		case <-ticker.C:
			if err := sink.WriteFrame(proto.Frame{Type: proto.FrameKeepAlive}); err != nil {
				return fmt.Errorf("write keep-alive: %w", err)
			}
		}
	}
}

func messageFrame(channel string, ev bus.Event) (proto.Frame, error) {
	frame := proto.Frame{Type: proto.FrameMessage, Channel: channel, Kind: ev.Kind.String()}
	payload := ev.Payload()
	if payload == nil {
		return frame, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return frame, err
	}
	frame.Payload = raw
	return frame, nil
}
