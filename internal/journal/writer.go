package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"multistrat/internal/schema"
)

var (
	ErrQueueFull      = errors.New("journal queue full")
	ErrClosed         = errors.New("journal writer closed")
	ErrNotStarted     = errors.New("journal writer not started")
	ErrAlreadyStarted = errors.New("journal writer already started")
)

// Writer appends events to a newline-delimited JSON journal from a buffered
// queue. One file per process run; replay walks every file under the
// configured directory in name order.
type Writer struct {
	cfg Config
	ch  chan schema.Event
	wg  sync.WaitGroup
	err atomic.Value

	started uint32
	closed  uint32
}

// NewWriter creates a journal writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	w := &Writer{
		cfg: cfg,
		ch:  make(chan schema.Event, cfg.QueueSize),
	}
	return w, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&w.started, 0, 1) {
		return ErrAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops the writer and flushes any buffered data.
func (w *Writer) Close() error {
	if atomic.CompareAndSwapUint32(&w.closed, 0, 1) {
		close(w.ch)
	}
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Append enqueues an event, blocking while the queue is full.
func (w *Writer) Append(ctx context.Context, e schema.Event) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return ErrClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	select {
	case w.ch <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAppend enqueues an event without blocking.
func (w *Writer) TryAppend(e schema.Event) error {
	if atomic.LoadUint32(&w.closed) != 0 {
		return ErrClosed
	}
	if atomic.LoadUint32(&w.started) == 0 {
		return ErrNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	select {
	case w.ch <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		file        *os.File
		buf         *bufio.Writer
		enc         *json.Encoder
		flushC      <-chan time.Time
		syncC       <-chan time.Time
		flushTicker *time.Ticker
		syncTicker  *time.Ticker
	)

	if w.cfg.FlushInterval > 0 {
		flushTicker = time.NewTicker(w.cfg.FlushInterval)
		flushC = flushTicker.C
	}
	if w.cfg.SyncInterval > 0 {
		syncTicker = time.NewTicker(w.cfg.SyncInterval)
		syncC = syncTicker.C
	}

	defer func() {
		if flushTicker != nil {
			flushTicker.Stop()
		}
		if syncTicker != nil {
			syncTicker.Stop()
		}
		if err := closeFile(file, buf); err != nil && w.Err() == nil {
			w.setErr(err)
		}
	}()

	write := func(e schema.Event) error {
		if file == nil {
			opened, err := w.openFile()
			if err != nil {
				return err
			}
			file = opened
			buf = bufio.NewWriterSize(file, w.cfg.BufferSize)
			enc = json.NewEncoder(buf)
		}
		return enc.Encode(e)
	}

	for {
		select {
		case <-ctx.Done():
			w.drainNonBlocking(write)
			return
		case e, ok := <-w.ch:
			if !ok {
				return
			}
			if err := write(e); err != nil {
				w.setErr(err)
				return
			}
		case <-flushC:
			if buf != nil {
				if err := buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
			}
		case <-syncC:
			if buf != nil {
				if err := buf.Flush(); err != nil {
					w.setErr(err)
					return
				}
				if err := file.Sync(); err != nil {
					w.setErr(err)
					return
				}
			}
		}
	}
}

func (w *Writer) drainNonBlocking(write func(schema.Event) error) {
	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				return
			}
			if err := write(e); err != nil {
				w.setErr(err)
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) openFile() (*os.File, error) {
	ts := time.Now().UTC().Format("20060102-150405")
	for seq := 1; ; seq++ {
		name := fmt.Sprintf("%s-%s-%06d.jsonl", w.cfg.FilePrefix, ts, seq)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return nil, err
		}
		return file, nil
	}
}

func closeFile(file *os.File, buf *bufio.Writer) error {
	if file == nil {
		return nil
	}
	if err := buf.Flush(); err != nil {
		_ = file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func (w *Writer) setErr(err error) {
	if err == nil {
		return
	}
	if w.err.Load() != nil {
		return
	}
	w.err.Store(err)
}
