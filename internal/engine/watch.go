package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/attrstore/internal/ir"
	"github.com/roach88/attrstore/internal/queryir"
)

// WatchRequest opens an entity watch.
type WatchRequest struct {
	Root              queryir.Node
	SendInitialEvents bool
}

// WatchRowsRequest opens a row watch projected onto AttributeTypes.
type WatchRowsRequest struct {
	Root              queryir.Node
	AttributeTypes    []ir.Symbol
	SendInitialEvents bool
}

// SubscriptionState is the lifecycle phase of a watch.
type SubscriptionState int32

const (
	StateInitializing SubscriptionState = iota
	StateStreaming
	StateClosed
)

func (s SubscriptionState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Subscription is an open watch. Events is closed when the watch ends;
// Err then reports why.
//
// Thread-safety: all methods are safe for concurrent use. Events has a
// single consumer.
type Subscription[E any] struct {
	id       string
	startSeq ir.Seq
	events   chan E
	done     chan struct{}
	cancel   context.CancelFunc
	state    atomic.Int32
	closing  atomic.Bool

	mu  sync.Mutex
	err error
}

// ID returns the subscription id.
func (sub *Subscription[E]) ID() string { return sub.id }

// StartSeq returns S0, the seq of the initial snapshot.
func (sub *Subscription[E]) StartSeq() ir.Seq { return sub.startSeq }

// Events returns the event stream.
func (sub *Subscription[E]) Events() <-chan E { return sub.events }

// Done is closed once the watch goroutine has exited.
func (sub *Subscription[E]) Done() <-chan struct{} { return sub.done }

// State returns the current lifecycle phase.
func (sub *Subscription[E]) State() SubscriptionState {
	return SubscriptionState(sub.state.Load())
}

// Err returns nil while the watch runs or after Close. Otherwise it is
// ctx.Err() for a cancelled context, CodeUnavailable after store shutdown,
// or CodeInternal when the log could not be read.
func (sub *Subscription[E]) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

// Close ends the watch and waits for its goroutine to exit. Undelivered
// events are discarded.
func (sub *Subscription[E]) Close() {
	sub.closing.Store(true)
	sub.cancel()
	<-sub.done
}

func (sub *Subscription[E]) setErr(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	sub.err = err
}

// WatchEntities streams Added, Modified and Removed events for entities
// matching req.Root, preceded by an optional initial pass and a Bookmark
// at S0.
func (s *Store) WatchEntities(ctx context.Context, req WatchRequest) (*Subscription[ir.Event], error) {
	if err := s.query.Validate(req.Root); err != nil {
		return nil, err
	}
	return startWatch[ir.Event](ctx, s, req.Root, req.SendInitialEvents, entityEvents{})
}

// WatchEntityRows is WatchEntities with each event projected onto
// req.AttributeTypes. A commit that leaves a matching entity's projected row
// unchanged produces no event.
func (s *Store) WatchEntityRows(ctx context.Context, req WatchRowsRequest) (*Subscription[ir.RowEvent], error) {
	eq := EntityQuery{Root: req.Root, AttributeTypes: req.AttributeTypes}
	if err := s.query.ValidateQuery(eq); err != nil {
		return nil, err
	}
	syms := append([]ir.Symbol(nil), req.AttributeTypes...)
	return startWatch[ir.RowEvent](ctx, s, req.Root, req.SendInitialEvents, rowEvents{syms: syms})
}

// translator shapes entity transitions into stream events. ok is false
// when the transition is invisible to this kind of watch.
type translator[E any] interface {
	added(seq ir.Seq, after *ir.Entity) E
	modified(seq ir.Seq, before, after *ir.Entity) (E, bool)
	removed(seq ir.Seq, before *ir.Entity) E
	bookmark(seq ir.Seq) E
	eventType(E) ir.EventType
}

type entityEvents struct{}

func (entityEvents) added(seq ir.Seq, after *ir.Entity) ir.Event {
	return ir.Event{Type: ir.EventAdded, Seq: seq, Entity: after}
}

func (entityEvents) modified(seq ir.Seq, before, after *ir.Entity) (ir.Event, bool) {
	if before.Attributes.Equal(after.Attributes) {
		return ir.Event{}, false
	}
	return ir.Event{Type: ir.EventModified, Seq: seq, Entity: after}, true
}

func (entityEvents) removed(seq ir.Seq, before *ir.Entity) ir.Event {
	return ir.Event{Type: ir.EventRemoved, Seq: seq, Entity: before}
}

func (entityEvents) bookmark(seq ir.Seq) ir.Event {
	return ir.Event{Type: ir.EventBookmark, Seq: seq}
}

func (entityEvents) eventType(e ir.Event) ir.EventType { return e.Type }

type rowEvents struct {
	syms []ir.Symbol
}

func (r rowEvents) added(seq ir.Seq, after *ir.Entity) ir.RowEvent {
	return ir.RowEvent{Type: ir.EventAdded, Seq: seq, EntityID: after.ID, Row: Project(after, r.syms)}
}

func (r rowEvents) modified(seq ir.Seq, before, after *ir.Entity) (ir.RowEvent, bool) {
	row := Project(after, r.syms)
	if rowsEqual(Project(before, r.syms), row) {
		return ir.RowEvent{}, false
	}
	return ir.RowEvent{Type: ir.EventModified, Seq: seq, EntityID: after.ID, Row: row}, true
}

func (r rowEvents) removed(seq ir.Seq, before *ir.Entity) ir.RowEvent {
	return ir.RowEvent{Type: ir.EventRemoved, Seq: seq, EntityID: before.ID, Row: Project(before, r.syms)}
}

func (rowEvents) bookmark(seq ir.Seq) ir.RowEvent {
	return ir.RowEvent{Type: ir.EventBookmark, Seq: seq}
}

func (rowEvents) eventType(e ir.RowEvent) ir.EventType { return e.Type }

// startWatch pins S0 and starts the subscription goroutine. The root must
// already be validated.
func startWatch[E any](ctx context.Context, s *Store, root queryir.Node, sendInitial bool, tr translator[E]) (*Subscription[E], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if n := s.activeSubs.Add(1); n > int64(s.maxSubscriptions) {
		s.activeSubs.Add(-1)
		s.mu.Unlock()
		return nil, newError(CodeResourceExhausted, "too many watch subscriptions (limit %d)", s.maxSubscriptions)
	}
	s.subsWG.Add(1)
	s.mu.Unlock()

	pin, s0 := s.pins.acquire(s.log.Head)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription[E]{
		id:       s.ids.Generate(),
		startSeq: s0,
		events:   make(chan E, s.queueSize),
		done:     make(chan struct{}),
		cancel:   cancel,
	}

	w := &watcher[E]{
		store:       s,
		sub:         sub,
		ctx:         subCtx,
		match:       s.query.Compile(root),
		tr:          tr,
		pin:         pin,
		cursor:      s0,
		sendInitial: sendInitial,
	}

	s.metrics.subscriptionOpened()
	s.logger.Info("watch opened", "subscription", sub.id, "start_seq", s0, "initial", sendInitial)
	go w.run()
	return sub, nil
}

// watcher is the goroutine state behind one subscription.
type watcher[E any] struct {
	store *Store
	sub   *Subscription[E]
	ctx   context.Context
	match Predicate
	tr    translator[E]
	pin   uint64

	cursor       ir.Seq
	lastBookmark ir.Seq
	sendInitial  bool
}

var errStopped = errors.New("watch stopped")

func (w *watcher[E]) run() {
	s := w.store
	defer func() {
		w.sub.cancel()
		s.pins.release(w.pin)
		s.activeSubs.Add(-1)
		s.metrics.subscriptionClosed()
		s.logger.Info("watch closed", "subscription", w.sub.id, "cursor", w.cursor, "error", w.sub.Err())
		w.sub.state.Store(int32(StateClosed))
		w.discardQueued()
		close(w.sub.events)
		close(w.sub.done)
		s.subsWG.Done()
	}()

	err := w.stream()
	switch {
	case w.sub.closing.Load():
	case errors.Is(err, errStopped):
		if cerr := w.ctx.Err(); cerr != nil && !w.storeDone() {
			w.sub.setErr(cerr)
		} else {
			w.sub.setErr(ErrClosed)
		}
	default:
		w.sub.setErr(err)
	}
}

// discardQueued drops events the consumer has not received yet.
func (w *watcher[E]) discardQueued() {
	for {
		select {
		case <-w.sub.events:
		default:
			return
		}
	}
}

func (w *watcher[E]) storeDone() bool {
	select {
	case <-w.store.done:
		return true
	default:
		return false
	}
}

// stream runs the Initializing and Streaming phases. It returns errStopped
// on cancellation or shutdown.
func (w *watcher[E]) stream() error {
	s := w.store

	if w.sendInitial {
		for _, e := range s.table.snapshot(w.cursor) {
			if !w.match(e) {
				continue
			}
			if !w.send(w.tr.added(w.cursor, e)) {
				return errStopped
			}
		}
	}
	if !w.bookmark() {
		return errStopped
	}
	w.sub.state.Store(int32(StateStreaming))

	ticker := time.NewTicker(s.bookmarkInterval)
	defer ticker.Stop()

	for {
		if w.storeDone() {
			return errStopped
		}
		notify := s.log.Wait()
		recs, err := s.log.Read(w.cursor, s.readBatch)
		if err != nil {
			return newError(CodeInternal, "read mutation log").wrap(err)
		}
		if len(recs) > 0 {
			emitted := false
			for _, rec := range recs {
				ev, ok := w.diff(rec)
				if ok {
					if !w.send(ev) {
						return errStopped
					}
					emitted = true
				}
				w.cursor = rec.Seq
			}
			s.pins.advance(w.pin, w.cursor)
			if emitted && w.cursor == s.log.Head() {
				if !w.bookmark() {
					return errStopped
				}
			}
			continue
		}

		select {
		case <-notify:
		case <-ticker.C:
			if w.cursor > w.lastBookmark && !w.bookmark() {
				return errStopped
			}
		case <-w.ctx.Done():
			return errStopped
		case <-s.done:
			return errStopped
		}
	}
}

// diff classifies one record against the query.
func (w *watcher[E]) diff(rec ir.MutationRecord) (E, bool) {
	var zero E
	before, after := rec.Before, rec.After
	wasMatch := before != nil && w.match(before)
	isMatch := after != nil && w.match(after)

	switch {
	case !wasMatch && isMatch:
		return w.tr.added(rec.Seq, after), true
	case wasMatch && isMatch:
		return w.tr.modified(rec.Seq, before, after)
	case wasMatch && !isMatch:
		return w.tr.removed(rec.Seq, before), true
	default:
		return zero, false
	}
}

func (w *watcher[E]) bookmark() bool {
	if !w.send(w.tr.bookmark(w.cursor)) {
		return false
	}
	w.lastBookmark = w.cursor
	return true
}

// send blocks until ev is queued or the watch is stopped. A full queue
// stalls only this goroutine.
func (w *watcher[E]) send(ev E) bool {
	select {
	case <-w.ctx.Done():
		return false
	case <-w.store.done:
		return false
	default:
	}
	select {
	case w.sub.events <- ev:
		w.store.metrics.delivered(w.tr.eventType(ev))
		return true
	case <-w.ctx.Done():
		return false
	case <-w.store.done:
		return false
	}
}
