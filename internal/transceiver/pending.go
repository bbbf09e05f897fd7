package transceiver

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aryanduntley/fractaledger-sub002/internal/models"
)

// pendingRegistry holds every transaction the manager has been asked to deliver.
type pendingRegistry struct {
	mu  sync.RWMutex
	txs map[string]*models.PendingTransaction
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{txs: make(map[string]*models.PendingTransaction)}
}

// begin records txid as pending. A transaction already broadcasted, ready or
// confirmed is returned as is with started=false. Failed and timed out ones
// are retried.
func (r *pendingRegistry) begin(txid, txHex string, metadata map[string]any) (models.PendingTransaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.txs[txid]
	if ok && existing.Status == models.TxStatusPending && existing.TimedOut {
		existing.TimedOut = false
		existing.Error = ""
		return *existing, true
	}
	if ok && existing.Status != models.TxStatusFailed {
		return *existing, false
	}
	tx := &models.PendingTransaction{
		Txid:      txid,
		TxHex:     txHex,
		Metadata:  metadata,
		Status:    models.TxStatusPending,
		Timestamp: time.Now().UTC(),
	}
	r.txs[txid] = tx
	return *tx, true
}

// markTimedOut keeps txid pending after a broadcast whose outcome is unknown.
func (r *pendingRegistry) markTimedOut(txid, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx, ok := r.txs[txid]; ok {
		tx.TimedOut = true
		tx.Error = errMsg
	}
}

var allowedTransitions = map[models.TxStatus][]models.TxStatus{
	models.TxStatusPending:     {models.TxStatusReady, models.TxStatusBroadcasted, models.TxStatusFailed},
	models.TxStatusReady:       {models.TxStatusBroadcasted, models.TxStatusFailed},
	models.TxStatusBroadcasted: {models.TxStatusConfirmed, models.TxStatusFailed},
}

func (r *pendingRegistry) transition(txid string, to models.TxStatus, result, errMsg string) (models.PendingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, ok := r.txs[txid]
	if !ok {
		return models.PendingTransaction{}, fmt.Errorf("%w: %s", ErrUnknownTransaction, txid)
	}
	if !canTransition(tx.Status, to) {
		return *tx, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tx.Status, to)
	}
	tx.Status = to
	if result != "" {
		tx.Result = result
	}
	if errMsg != "" {
		tx.Error = errMsg
	}
	return *tx, nil
}

func canTransition(from, to models.TxStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// get returns a copy and marks settled records as reported so they can be pruned.
func (r *pendingRegistry) get(txid string) (models.PendingTransaction, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.txs[txid]
	if !ok {
		return models.PendingTransaction{}, false
	}
	if tx.Status.Settled() {
		tx.Reported = true
	}
	return *tx, true
}

func (r *pendingRegistry) withStatus(status models.TxStatus) []models.PendingTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.PendingTransaction
	for _, tx := range r.txs {
		if tx.Status == status {
			out = append(out, *tx)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// prune drops settled records that have been read, and ready records created
// before readyCutoff. A zero readyCutoff keeps every ready record.
func (r *pendingRegistry) prune(readyCutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for txid, tx := range r.txs {
		expired := tx.Status == models.TxStatusReady && !readyCutoff.IsZero() && tx.Timestamp.Before(readyCutoff)
		if (tx.Status.Settled() && tx.Reported) || expired {
			delete(r.txs, txid)
			removed++
		}
	}
	return removed
}

func (r *pendingRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.txs)
}

func (r *pendingRegistry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = make(map[string]*models.PendingTransaction)
}
