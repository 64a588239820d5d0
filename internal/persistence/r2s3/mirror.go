package r2s3

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Uploader is the subset of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	Uploaded      uint64 `json:"uploaded"`
	Failed        uint64 `json:"failed"`
	Dropped       uint64 `json:"dropped"`
	LastSuccessMs int64  `json:"last_success_ms,omitempty"`
}

// Mirror copies state backups to a bucket in the background. Enqueue never
// blocks a save; when the queue is full the new upload is dropped.
type Mirror struct {
	up     Uploader
	prefix string
	log    *zap.Logger

	jobs    chan string
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
	backoff time.Duration

	uploaded    atomic.Uint64
	failed      atomic.Uint64
	dropped     atomic.Uint64
	lastSuccess atomic.Int64
}

func NewMirror(up Uploader, prefix string, workers int, logger *zap.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mirror{
		up:      up,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		log:     logger,
		jobs:    make(chan string, 64),
		backoff: 200 * time.Millisecond,
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It matches the store's backup hook.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.closeMu.RLock()
	defer m.closeMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.jobs <- localPath:
	default:
		m.dropped.Add(1)
		m.log.Warn("backup mirror queue full", zap.String("path", localPath))
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closeMu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.closeMu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		QueueCapacity: cap(m.jobs),
		Uploaded:      m.uploaded.Load(),
		Failed:        m.failed.Load(),
		Dropped:       m.dropped.Load(),
		LastSuccessMs: m.lastSuccess.Load(),
	}
}

func (m *Mirror) objectKey(localPath string) string {
	key := filepath.Base(localPath)
	if m.prefix != "" {
		key = path.Join(m.prefix, key)
	}
	return key
}

func (m *Mirror) upload(localPath string) {
	key := m.objectKey(localPath)
	const attempts = 4
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = m.up.PutFile(ctx, key, localPath)
		cancel()
		if err == nil || errors.Is(err, os.ErrNotExist) {
			break
		}
		if i < attempts {
			time.Sleep(time.Duration(i*i) * m.backoff)
		}
	}
	switch {
	case err == nil:
		m.uploaded.Add(1)
		m.lastSuccess.Store(time.Now().UnixMilli())
		m.log.Debug("backup mirrored", zap.String("key", key))
	case errors.Is(err, os.ErrNotExist):
		// Pruned before the upload ran.
		m.log.Debug("backup gone before mirror", zap.String("path", localPath))
	default:
		m.failed.Add(1)
		m.log.Warn("backup mirror failed", zap.String("key", key), zap.Error(err))
	}
}
