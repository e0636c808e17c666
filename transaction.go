package janode

import (
	"crypto/rand"
	"encoding/binary"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/PedroDosS/janode/logging"
	"github.com/PedroDosS/janode/protocol"
)

// requestOwner marks the objects a transaction can belong to: the
// connection, one of its sessions, or one of their handles. Ownership is
// checked by identity when a transaction settles, so a response misrouted
// to another level can never settle a transaction it does not own.
type requestOwner interface {
	isRequestOwner()
}

// maxTransactionID keeps generated ids within the integer range a peer
// storing them as IEEE-754 doubles can hold exactly.
const maxTransactionID = 1<<53 - 1

var transactionCounter atomic.Uint64

func init() {
	// random seed so concurrent processes against the same server are
	// unlikely to collide; within one process ids are strictly unique
	var seed [8]byte
	if _, err := rand.Read(seed[:]); err == nil {
		transactionCounter.Store(binary.BigEndian.Uint64(seed[:]) % maxTransactionID)
	}
}

// nextTransactionID returns the next id as a decimal string, wrapping to
// zero at the ceiling.
func nextTransactionID() string {
	return strconv.FormatUint(transactionCounter.Add(1)%maxTransactionID, 10)
}

// requestOutcome settles a pending request: a definitive message or an
// error, never both.
type requestOutcome struct {
	msg *protocol.Message
	err error
}

// pendingRequest is one in-flight transaction. Its channel holds exactly
// one outcome; the settled flag under the manager lock guarantees a
// transaction closes at most once even when a timeout races a response.
type pendingRequest struct {
	id      string
	owner   requestOwner
	request string
	ch      chan requestOutcome
	timer   *time.Timer
	settled bool
}

// transactionManager is the single transaction table of a connection,
// shared by the connection and all its sessions and handles.
type transactionManager struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	logger  zerolog.Logger

	debugStop chan struct{}
	stopOnce  sync.Once
}

// newTransactionManager builds the table. With debug enabled the table
// size is logged every 5 seconds, which makes leaked transactions easy to
// spot in long-running processes.
func newTransactionManager(debug bool) *transactionManager {
	tm := &transactionManager{
		pending: make(map[string]*pendingRequest),
		logger:  logging.New("transactions"),
	}
	if debug {
		tm.debugStop = make(chan struct{})
		go tm.debugLoop()
	}
	return tm
}

func (tm *transactionManager) debugLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tm.logger.Info().Int("size", tm.size()).Msg("transaction table size")
		case <-tm.debugStop:
			return
		}
	}
}

// stop ends the debug loop, if any. Idempotent.
func (tm *transactionManager) stop() {
	tm.stopOnce.Do(func() {
		if tm.debugStop != nil {
			close(tm.debugStop)
		}
	})
}

// create registers a new transaction. Returns nil if the id is already
// in use. A timeout > 0 arms a timer that fails the transaction with
// ErrTransactionTimeout.
func (tm *transactionManager) create(id string, owner requestOwner, request string, timeout time.Duration) *pendingRequest {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if _, exists := tm.pending[id]; exists {
		return nil
	}
	pr := &pendingRequest{
		id:      id,
		owner:   owner,
		request: request,
		ch:      make(chan requestOutcome, 1),
	}
	if timeout > 0 {
		pr.timer = time.AfterFunc(timeout, func() {
			tm.closeWithError(id, owner, ErrTransactionTimeout)
		})
	}
	tm.pending[id] = pr
	return pr
}

// ownerOf returns the owner and request verb of a pending transaction.
func (tm *transactionManager) ownerOf(id string) (requestOwner, string, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	pr, ok := tm.pending[id]
	if !ok {
		return nil, "", false
	}
	return pr.owner, pr.request, true
}

// owns reports whether owner holds the pending transaction id.
func (tm *transactionManager) owns(id string, owner requestOwner) bool {
	actual, _, ok := tm.ownerOf(id)
	return ok && actual == owner
}

// closeWithSuccess settles id with msg. No-op if the id is unknown or
// owner does not match the one recorded at creation.
func (tm *transactionManager) closeWithSuccess(id string, owner requestOwner, msg *protocol.Message) {
	tm.settle(id, owner, requestOutcome{msg: msg})
}

// closeWithError settles id with err, same no-op rules.
func (tm *transactionManager) closeWithError(id string, owner requestOwner, err error) {
	tm.settle(id, owner, requestOutcome{err: err})
}

func (tm *transactionManager) settle(id string, owner requestOwner, out requestOutcome) {
	tm.mu.Lock()
	pr, ok := tm.pending[id]
	if !ok || pr.settled || pr.owner != owner {
		tm.mu.Unlock()
		return
	}
	pr.settled = true
	if pr.timer != nil {
		pr.timer.Stop()
	}
	delete(tm.pending, id)
	tm.mu.Unlock()

	pr.ch <- out
}

// closeAllWithError fails every transaction of owner, or every
// transaction when owner is nil.
func (tm *transactionManager) closeAllWithError(owner requestOwner, err error) {
	tm.mu.Lock()
	var victims []*pendingRequest
	for id, pr := range tm.pending {
		if owner != nil && pr.owner != owner {
			continue
		}
		pr.settled = true
		if pr.timer != nil {
			pr.timer.Stop()
		}
		delete(tm.pending, id)
		victims = append(victims, pr)
	}
	tm.mu.Unlock()

	for _, pr := range victims {
		pr.ch <- requestOutcome{err: err}
	}
}

// size returns the number of pending transactions.
func (tm *transactionManager) size() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.pending)
}
