package lstore

import "sync"

// TransactionWorker runs a batch of transactions on its own goroutine and
// reports how many committed once finished, mirroring the Python
// original's thread-backed worker (spec §4.G / original_source
// transaction_worker.py).
type TransactionWorker struct {
	mu           sync.Mutex
	transactions []*Transaction
	stats        []bool

	wg      sync.WaitGroup
	started bool
}

// NewTransactionWorker returns a worker queued with the given
// transactions, if any.
func NewTransactionWorker(transactions ...*Transaction) *TransactionWorker {
	return &TransactionWorker{transactions: append([]*Transaction{}, transactions...)}
}

// AddTransaction appends t to the worker's queue. Safe to call before Run.
func (w *TransactionWorker) AddTransaction(t *Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.transactions = append(w.transactions, t)
}

// Run executes every queued transaction on a background goroutine,
// returning immediately.
func (w *TransactionWorker) Run() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	txns := w.transactions
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		stats := make([]bool, len(txns))
		for i, txn := range txns {
			stats[i] = txn.Run(DefaultRetryLimit)
		}
		w.mu.Lock()
		w.stats = stats
		w.mu.Unlock()
	}()
}

// Join blocks until Run's goroutine has finished.
func (w *TransactionWorker) Join() {
	w.wg.Wait()
}

// Committed returns how many of the worker's transactions committed. Call
// after Join.
func (w *TransactionWorker) Committed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	count := 0
	for _, ok := range w.stats {
		if ok {
			count++
		}
	}
	return count
}
