package game

import "sync"

// outbox holds table-wide messages queued by phase transitions. Transitions
// publish while holding e.gate and flush after releasing it, so connection
// writes never run under the gate. Messages go out in publish order.
type outbox struct {
	mu    sync.Mutex
	queue []func()

	// sending is held by whoever is draining the queue.
	sending sync.Mutex
}

func (o *outbox) publish(send func()) {
	o.mu.Lock()
	o.queue = append(o.queue, send)
	o.mu.Unlock()
}

func (o *outbox) pending() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue) > 0
}

// drain sends batches until the queue is empty. The caller holds o.sending.
func (o *outbox) drain() {
	for {
		o.mu.Lock()
		batch := o.queue
		o.queue = nil
		o.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, send := range batch {
			send()
		}
	}
}

// flush sends everything queued so far. When it returns, every message
// published before the call has been written.
func (o *outbox) flush() {
	for {
		o.sending.Lock()
		o.drain()
		o.sending.Unlock()
		// Anything published while we held sending by a caller whose kick
		// found it taken is ours to send.
		if !o.pending() {
			return
		}
	}
}

// kick is flush without waiting: if another goroutine is draining, that
// goroutine picks up what was queued.
func (o *outbox) kick() {
	for o.pending() && o.sending.TryLock() {
		o.drain()
		o.sending.Unlock()
	}
}

// broadcast queues msg for every connection.
func (e *Engine) broadcast(msg any) {
	e.out.publish(func() { e.presence.Broadcast(msg) })
}

// notifyAdmins queues msg for operator connections. Queued behind the
// round's admin_clear_bets, a bet notice can never be wiped by it.
func (e *Engine) notifyAdmins(msg any) {
	e.out.publish(func() { e.presence.NotifyAdmins(msg) })
}
