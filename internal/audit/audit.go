// Package audit provides optional batched logging of denied binds and
// policy-denied searches to a CSV file, adapted from the benchmark tool's
// batched failure logger: same async channel + ticker-flush design, same
// drop-on-backpressure behavior (losing an audit line is always preferable
// to blocking a session on disk I/O), repurposed from benchmark-run
// failures to security-relevant proxy decisions.
package audit

import (
	"encoding/csv"
	"os"
	"sync"
	"time"
)

// Record describes one denied bind or denied search.
type Record struct {
	Timestamp time.Time
	Operation string // bind|search
	DN        string
	Base      string
	Filter    string
	Reason    string
}

// Logger writes Records to a CSV file in batches. A nil *Logger is valid and
// every method on it is a no-op, so callers can leave auditing disabled
// unconditionally rather than branching on whether it was configured.
type Logger struct {
	path   string
	batch  int
	ch     chan Record
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Logger writing to path. When path is empty, returns nil.
func New(path string, batch int) *Logger {
	if path == "" {
		return nil
	}

	if batch <= 0 {
		batch = 64
	}

	l := &Logger{path: path, batch: batch, ch: make(chan Record, batch*4), stopCh: make(chan struct{})}
	l.wg.Add(1)
	go l.run()

	return l
}

// Log queues a record for writing. Never blocks: under backpressure the
// record is dropped rather than stalling the session that produced it.
func (l *Logger) Log(rec Record) {
	if l == nil {
		return
	}

	select {
	case l.ch <- rec:
	default:
	}
}

// Close flushes pending records and stops the writer goroutine.
func (l *Logger) Close() {
	if l == nil {
		return
	}

	close(l.stopCh)
	l.wg.Wait()
}

func (l *Logger) run() {
	defer l.wg.Done()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		<-l.stopCh
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"timestamp", "operation", "dn", "base", "filter", "reason"})
	w.Flush()

	buf := make([]Record, 0, l.batch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		for _, r := range buf {
			_ = w.Write([]string{
				r.Timestamp.Format(time.RFC3339Nano), r.Operation, r.DN, r.Base, r.Filter, r.Reason,
			})
		}
		w.Flush()
		buf = buf[:0]
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			for {
				select {
				case r := <-l.ch:
					buf = append(buf, r)
					if len(buf) >= l.batch {
						flush()
					}
				default:
					flush()
					return
				}
			}
		case r := <-l.ch:
			buf = append(buf, r)
			if len(buf) >= l.batch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
