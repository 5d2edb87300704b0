package service

import (
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// OpAddBallot is the metrics name for folding one ballot into the tally.
const OpAddBallot = "add_ballot"

var (
	// ErrQueueFull is reported when a ballot arrives while the queue is at
	// capacity.
	ErrQueueFull = errors.New("ballot queue is full")

	// ErrQueueStopped is reported for ballots submitted after Stop.
	ErrQueueStopped = errors.New("ballot queue is stopped")
)

// BallotQueue feeds ballots into a VoteCountingService from a pool of
// workers, so homomorphic additions run off the caller's goroutine.
type BallotQueue struct {
	counter *VoteCountingService
	metrics *MetricsCollector
	logger  log.Logger

	ballotCh   chan *ballotRequest
	shutdownCh chan struct{}
	workers    int
	wg         sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

type ballotRequest struct {
	ballot   *Ballot
	resultCh chan<- *ProcessingResult
}

// ProcessingResult reports the outcome of one queued ballot.
type ProcessingResult struct {
	BallotID  uuid.UUID
	Err       error
	Duration  time.Duration
	Timestamp int64
}

// NewBallotQueue creates a queue of queueSize pending ballots served by
// workers goroutines. Call Start before submitting.
func NewBallotQueue(counter *VoteCountingService, queueSize, workers int, logger log.Logger) *BallotQueue {
	if logger == nil {
		logger = log.Root()
	}
	return &BallotQueue{
		counter:    counter,
		metrics:    NewMetricsCollector(),
		logger:     logger.With("component", "ballot-queue"),
		ballotCh:   make(chan *ballotRequest, max(queueSize, 1)),
		shutdownCh: make(chan struct{}),
		workers:    max(workers, 1),
	}
}

// Start launches the workers.
func (q *BallotQueue) Start() {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
}

// Stop drains the pending ballots and waits for the workers to exit.
func (q *BallotQueue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	close(q.shutdownCh)
	q.mu.Unlock()

	q.wg.Wait()
}

// Submit queues b without blocking. The returned channel yields exactly one
// result and is then closed.
func (q *BallotQueue) Submit(b *Ballot) <-chan *ProcessingResult {
	resultCh := make(chan *ProcessingResult, 1)
	fail := func(err error) <-chan *ProcessingResult {
		res := &ProcessingResult{Err: err, Timestamp: time.Now().Unix()}
		if b != nil {
			res.BallotID = b.ID
		}
		resultCh <- res
		close(resultCh)
		return resultCh
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return fail(ErrQueueStopped)
	}

	select {
	case q.ballotCh <- &ballotRequest{ballot: b, resultCh: resultCh}:
		return resultCh
	default:
		q.logger.Warn("Ballot queue is full, rejecting ballot")
		return fail(ErrQueueFull)
	}
}

// SubmitBatch queues every ballot and returns their result channels in
// order.
func (q *BallotQueue) SubmitBatch(ballots []*Ballot) []<-chan *ProcessingResult {
	out := make([]<-chan *ProcessingResult, len(ballots))
	for i, b := range ballots {
		out[i] = q.Submit(b)
	}
	return out
}

// Metrics summarizes the time spent adding ballots.
func (q *BallotQueue) Metrics() OperationMetrics {
	return q.metrics.GetMetrics(OpAddBallot)
}

func (q *BallotQueue) worker() {
	defer q.wg.Done()

	for {
		select {
		case req := <-q.ballotCh:
			q.process(req)
		case <-q.shutdownCh:
			// Finish what was accepted before Stop.
			for {
				select {
				case req := <-q.ballotCh:
					q.process(req)
				default:
					return
				}
			}
		}
	}
}

func (q *BallotQueue) process(req *ballotRequest) {
	start := time.Now()
	err := q.metrics.Time(OpAddBallot, func() error {
		return q.counter.AddBallot(req.ballot)
	})

	res := &ProcessingResult{Err: err, Duration: time.Since(start), Timestamp: time.Now().Unix()}
	if req.ballot != nil {
		res.BallotID = req.ballot.ID
	}
	if err != nil {
		q.logger.Debug("Rejected ballot", "id", res.BallotID, "err", err)
	}
	req.resultCh <- res
	close(req.resultCh)
}
