package middleware

import (
	"net/http"
	"sync"

	"github.com/ai-nutritionist/backend/errors"
	"github.com/ai-nutritionist/backend/server/metrics"
	"github.com/eapache/queue/v2"
)

// QueueMiddleware admits at most MaxConcurrent requests at a time. Up to
// MaxQueued more wait in FIFO order; anything beyond that is rejected with
// 503. A waiter whose client goes away gives up its place.
type QueueMiddleware struct {
	maxConcurrent int
	maxQueued     int
	metrics       *metrics.Metrics

	mu         sync.Mutex
	waiters    *queue.Queue[*waiter]
	waiting    int
	processing int
}

type waiter struct {
	ready     chan struct{}
	abandoned bool
}

// QueueConfig defines the operational parameters for the queue middleware.
type QueueConfig struct {
	MaxConcurrent int
	MaxQueued     int
	Metrics       *metrics.Metrics
}

// NewQueueMiddleware creates the admission queue.
func NewQueueMiddleware(cfg QueueConfig) *QueueMiddleware {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxQueued < 0 {
		cfg.MaxQueued = 0
	}
	return &QueueMiddleware{
		maxConcurrent: cfg.MaxConcurrent,
		maxQueued:     cfg.MaxQueued,
		metrics:       cfg.Metrics,
		waiters:       queue.New[*waiter](),
	}
}

// Stats returns the number of waiting and processing requests.
func (qm *QueueMiddleware) Stats() (waiting, processing int) {
	qm.mu.Lock()
	defer qm.mu.Unlock()
	return qm.waiting, qm.processing
}

// Handler manages the request lifecycle through the queue.
func (qm *QueueMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w2, admitted, ok := qm.acquire()
		if !ok {
			if qm.metrics != nil {
				qm.metrics.QueueRejected.Inc()
			}
			errors.WriteError(w, errors.NewUnavailableError(GetRequestID(r.Context()), "Server is busy, please retry shortly"))
			return
		}

		if !admitted {
			select {
			case <-w2.ready:
			case <-r.Context().Done():
				if qm.abandon(w2) {
					return
				}
				// The slot was handed over while we were giving up.
				qm.release()
				return
			}
		}
		defer qm.release()

		next.ServeHTTP(w, r)
	})
}

// acquire takes a slot (admitted) or a place in line. ok is false when
// the queue is full.
func (qm *QueueMiddleware) acquire() (w *waiter, admitted, ok bool) {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	if qm.processing < qm.maxConcurrent && qm.waiting == 0 {
		qm.processing++
		return nil, true, true
	}
	if qm.waiting >= qm.maxQueued {
		return nil, false, false
	}

	w = &waiter{ready: make(chan struct{})}
	qm.waiters.Add(w)
	qm.waiting++
	qm.setDepthLocked()
	return w, false, true
}

// release hands the slot to the oldest live waiter or frees it.
func (qm *QueueMiddleware) release() {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	for qm.waiters.Length() > 0 {
		w := qm.waiters.Remove()
		if w.abandoned {
			continue
		}
		qm.waiting--
		qm.setDepthLocked()
		close(w.ready)
		return
	}
	qm.processing--
}

// abandon removes w from line. It returns false when w had already been
// given a slot, which the caller must then release.
func (qm *QueueMiddleware) abandon(w *waiter) bool {
	qm.mu.Lock()
	defer qm.mu.Unlock()

	select {
	case <-w.ready:
		return false
	default:
	}
	w.abandoned = true
	qm.waiting--
	qm.setDepthLocked()
	return true
}

func (qm *QueueMiddleware) setDepthLocked() {
	if qm.metrics != nil {
		qm.metrics.QueueDepth.Set(float64(qm.waiting))
	}
}
