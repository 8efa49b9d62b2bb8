package r2s3

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      uint64
	Deduped       uint64
	Dropped       uint64
	Uploaded      uint64
	Failed        uint64
	LastSuccess   time.Time
}

type Options struct {
	Prefix      string
	Workers     int
	Queue       int
	MaxAttempts int
	// Backoff returns the delay before retry n (1-based).
	Backoff func(n int) time.Duration
	Logger  *log.Logger
}

// Mirror uploads files from the data dir (snapshots, closed journal files)
// to object storage in the background. The object key is the file's path
// relative to the data dir, under Prefix.
type Mirror struct {
	client  *Client
	dataDir string
	opts    Options

	jobs chan string
	wg   sync.WaitGroup

	mu      sync.Mutex
	pending map[string]bool
	closed  bool

	enqueued    atomic.Uint64
	deduped     atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
}

func NewMirror(client *Client, dataDir string, opts Options) *Mirror {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.Queue <= 0 {
		opts.Queue = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.Backoff == nil {
		opts.Backoff = func(n int) time.Duration { return time.Duration(n*n) * 200 * time.Millisecond }
	}
	opts.Prefix = strings.Trim(strings.ReplaceAll(opts.Prefix, "\\", "/"), "/")

	m := &Mirror{
		client:  client,
		dataDir: dataDir,
		opts:    opts,
		jobs:    make(chan string, opts.Queue),
		pending: map[string]bool{},
	}
	for i := 0; i < opts.Workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
	return m
}

// Enqueue schedules localPath for upload and never blocks. A path already
// waiting in the queue is not queued twice.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.pending[localPath] {
		m.deduped.Add(1)
		return
	}
	select {
	case m.jobs <- localPath:
		m.pending[localPath] = true
		m.enqueued.Add(1)
	default:
		m.dropped.Add(1)
		m.printf("mirror drop %s: queue full", localPath)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	s := Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Enqueued:      m.enqueued.Load(),
		Deduped:       m.deduped.Load(),
		Dropped:       m.dropped.Load(),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
	}
	if ts := m.lastSuccess.Load(); ts > 0 {
		s.LastSuccess = time.Unix(0, ts)
	}
	return s
}

func (m *Mirror) worker() {
	defer m.wg.Done()
	for localPath := range m.jobs {
		m.mu.Lock()
		delete(m.pending, localPath)
		m.mu.Unlock()
		m.upload(localPath)
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.failed.Add(1)
		m.printf("mirror skip %s: %v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.client.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().UnixNano())
			return
		}
		if attempt < m.opts.MaxAttempts {
			time.Sleep(m.opts.Backoff(attempt))
		}
	}
	m.failed.Add(1)
	m.printf("mirror upload %s failed after %d attempts: %v", key, m.opts.MaxAttempts, lastErr)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside data dir %s", absLocal, absBase)
	}
	if m.opts.Prefix != "" {
		rel = path.Join(m.opts.Prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.opts.Logger != nil {
		m.opts.Logger.Printf(format, args...)
	}
}
