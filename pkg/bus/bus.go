package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// MessageBus queues inbound calls and outbound frames between a transport's
// reader, the dispatcher and the transport's single writer. Every blocking
// operation returns false once ctx ends or the bus is closed.
type MessageBus struct {
	inbound  chan MethodCall
	outbound chan Frame

	done      chan struct{}
	closeOnce sync.Once
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan MethodCall, defaultBufferSize),
		outbound: make(chan Frame, defaultBufferSize),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, call MethodCall) bool {
	return send(ctx, mb.done, mb.inbound, call)
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (MethodCall, bool) {
	return receive(ctx, mb.done, mb.inbound)
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, frame Frame) bool {
	return send(ctx, mb.done, mb.outbound, frame)
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (Frame, bool) {
	return receive(ctx, mb.done, mb.outbound)
}

// TryPublishOutbound enqueues without waiting. It reports false when the
// queue is full or the bus is closed.
func (mb *MessageBus) TryPublishOutbound(frame Frame) bool {
	if mb.closed() {
		return false
	}

	select {
	case mb.outbound <- frame:
		return true
	default:
		return false
	}
}

// DrainOutbound returns the frames still queued without blocking. Writers
// call it after Close so results published before shutdown are not lost.
func (mb *MessageBus) DrainOutbound() []Frame {
	var frames []Frame
	for {
		select {
		case frame := <-mb.outbound:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

// Done is closed once the bus is closed.
func (mb *MessageBus) Done() <-chan struct{} {
	return mb.done
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)
	})
}

func (mb *MessageBus) closed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}

// send refuses to enqueue once ctx or done has fired, even if the queue
// still has room.
func send[T any](ctx context.Context, done <-chan struct{}, queue chan<- T, value T) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case queue <- value:
		return true
	}
}

func receive[T any](ctx context.Context, done <-chan struct{}, queue <-chan T) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	select {
	case <-ctx.Done():
		return zero, false
	case <-done:
		return zero, false
	case value := <-queue:
		return value, true
	}
}
