// Package session tracks in-flight chunked uploads and reassembles them
// into complete source files on the local spool directory.
package session

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amillerrr/vod-pipeline/pkg/models"
)

const (
	partPrefix   = "upload-"
	partSuffix   = ".part"
	sourcePrefix = "source-"
)

// SourceFile is the assembled upload handed off to the pipeline. The caller
// owns the file and is responsible for removing it.
type SourceFile struct {
	UploadID string
	Path     string
	FileName string
	Size     int64
}

// Store tracks active upload sessions. Chunk writes for one session may run
// concurrently; finalize and abort take exclusive ownership of the session.
type Store struct {
	spoolDir  string
	chunkSize int64
	log       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	// overridable in tests
	now func() time.Time
}

type session struct {
	id          string
	fileName    string
	totalChunks int
	path        string
	file        *os.File

	// rw is held shared for chunk writes and exclusively by finalize/abort,
	// so a finalize snapshot never races an in-flight write.
	rw     sync.RWMutex
	closed bool

	stateMu       sync.Mutex
	received      []bool
	receivedCount int
	createdAt     time.Time
	lastActivity  time.Time
}

// NewStore creates a session store spooling to spoolDir with the given
// nominal chunk size.
func NewStore(spoolDir string, chunkSize int64, log *slog.Logger) *Store {
	return &Store{
		spoolDir:  spoolDir,
		chunkSize: chunkSize,
		log:       log,
		sessions:  make(map[string]*session),
		now:       time.Now,
	}
}

// ChunkSize returns the nominal chunk size every non-final chunk must use.
func (s *Store) ChunkSize() int64 { return s.chunkSize }

// Begin registers a new chunked upload session. It fails with
// models.ErrSessionConflict if the upload id already has an active session.
func (s *Store) Begin(uploadID string, totalChunks int, fileName string) error {
	if totalChunks < 1 {
		return fmt.Errorf("total chunks must be at least 1, got %d", totalChunks)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[uploadID]; exists {
		return fmt.Errorf("%w: %s", models.ErrSessionConflict, uploadID)
	}

	path := filepath.Join(s.spoolDir, partPrefix+uploadID+partSuffix)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create spool file: %w", err)
	}

	now := s.now()
	s.sessions[uploadID] = &session{
		id:           uploadID,
		fileName:     fileName,
		totalChunks:  totalChunks,
		path:         path,
		file:         file,
		received:     make([]bool, totalChunks),
		createdAt:    now,
		lastActivity: now,
	}

	s.log.Info("Upload session started",
		"uploadId", uploadID,
		"totalChunks", totalChunks,
		"fileName", fileName,
	)
	return nil
}

// ReceiveChunk writes one chunk at its fixed offset. Duplicate delivery for an
// already-received index overwrites in place and is idempotent. Returns the
// number of distinct chunks received so far and the declared total.
func (s *Store) ReceiveChunk(uploadID string, index int, data []byte) (received, total int, err error) {
	s.mu.Lock()
	sess, ok := s.sessions[uploadID]
	s.mu.Unlock()
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", models.ErrSessionNotFound, uploadID)
	}

	if index < 0 || index >= sess.totalChunks {
		return 0, sess.totalChunks, fmt.Errorf("%w: index %d, total %d", models.ErrChunkOutOfRange, index, sess.totalChunks)
	}
	if int64(len(data)) > s.chunkSize {
		return 0, sess.totalChunks, fmt.Errorf("%w: %d bytes", models.ErrChunkTooLarge, len(data))
	}
	if index < sess.totalChunks-1 && int64(len(data)) != s.chunkSize {
		return 0, sess.totalChunks, fmt.Errorf("%w: non-final chunk %d is %d bytes, want %d",
			models.ErrChunkTooLarge, index, len(data), s.chunkSize)
	}

	sess.rw.RLock()
	defer sess.rw.RUnlock()
	if sess.closed {
		return 0, sess.totalChunks, fmt.Errorf("%w: %s", models.ErrSessionNotFound, uploadID)
	}

	offset := int64(index) * s.chunkSize
	if _, err := sess.file.WriteAt(data, offset); err != nil {
		return 0, sess.totalChunks, fmt.Errorf("failed to write chunk %d: %w", index, err)
	}

	sess.stateMu.Lock()
	if !sess.received[index] {
		sess.received[index] = true
		sess.receivedCount++
	}
	sess.lastActivity = s.now()
	received = sess.receivedCount
	sess.stateMu.Unlock()

	return received, sess.totalChunks, nil
}

// IsComplete reports whether every declared chunk index has been received.
func (s *Store) IsComplete(uploadID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[uploadID]
	s.mu.Unlock()
	if !ok {
		return false
	}

	sess.stateMu.Lock()
	defer sess.stateMu.Unlock()
	return sess.receivedCount == sess.totalChunks
}

// Finalize hands exclusive ownership of the assembled file to the caller and
// removes the session from tracking. The spool file is renamed out of the
// sweeper's namespace, not deleted.
func (s *Store) Finalize(uploadID string) (*SourceFile, error) {
	s.mu.Lock()
	sess, ok := s.sessions[uploadID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, uploadID)
	}

	// Exclusive lock waits for all in-flight chunk writes to land.
	sess.rw.Lock()
	defer sess.rw.Unlock()
	if sess.closed {
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, uploadID)
	}

	sess.stateMu.Lock()
	complete := sess.receivedCount == sess.totalChunks
	sess.stateMu.Unlock()
	if !complete {
		return nil, fmt.Errorf("%w: %s", models.ErrIncomplete, uploadID)
	}

	if err := sess.file.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync spool file: %w", err)
	}
	info, err := sess.file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat spool file: %w", err)
	}
	if err := sess.file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close spool file: %w", err)
	}

	finalPath := filepath.Join(s.spoolDir, sourcePrefix+uploadID+filepath.Ext(sess.fileName))
	if err := os.Rename(sess.path, finalPath); err != nil {
		return nil, fmt.Errorf("failed to move assembled file: %w", err)
	}

	sess.closed = true
	s.mu.Lock()
	delete(s.sessions, uploadID)
	s.mu.Unlock()

	s.log.Info("Upload session finalized",
		"uploadId", uploadID,
		"sizeBytes", info.Size(),
	)

	return &SourceFile{
		UploadID: uploadID,
		Path:     finalPath,
		FileName: sess.fileName,
		Size:     info.Size(),
	}, nil
}

// SpoolSingle streams a single-shot upload straight to a source file,
// bypassing chunk bookkeeping.
func (s *Store) SpoolSingle(uploadID, fileName string, r io.Reader) (*SourceFile, error) {
	path := filepath.Join(s.spoolDir, sourcePrefix+uploadID+filepath.Ext(fileName))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}

	written, err := io.Copy(file, r)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to spool upload: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to close spool file: %w", err)
	}

	return &SourceFile{
		UploadID: uploadID,
		Path:     path,
		FileName: fileName,
		Size:     written,
	}, nil
}

// Abort deletes the session's temp file and state. Idempotent.
func (s *Store) Abort(uploadID string) {
	s.mu.Lock()
	sess, ok := s.sessions[uploadID]
	if ok {
		delete(s.sessions, uploadID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.rw.Lock()
	defer sess.rw.Unlock()
	if sess.closed {
		return
	}
	sess.closed = true
	sess.file.Close()
	if err := os.Remove(sess.path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("Failed to remove spool file", "path", sess.path, "error", err)
	}

	s.log.Info("Upload session aborted", "uploadId", uploadID)
}

// SweepStale aborts sessions with no chunk activity for longer than maxAge
// and returns their ids. Staleness is re-verified per session at sweep time,
// so concurrent sweeps and live uploads are safe.
func (s *Store) SweepStale(maxAge time.Duration) []string {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	candidates := make([]*session, 0)
	for _, sess := range s.sessions {
		sess.stateMu.Lock()
		stale := sess.lastActivity.Before(cutoff)
		sess.stateMu.Unlock()
		if stale {
			candidates = append(candidates, sess)
		}
	}
	s.mu.Unlock()

	var swept []string
	for _, sess := range candidates {
		sess.stateMu.Lock()
		stillStale := sess.lastActivity.Before(cutoff)
		sess.stateMu.Unlock()
		if !stillStale {
			continue
		}
		s.Abort(sess.id)
		swept = append(swept, sess.id)
	}
	return swept
}

// SweepOrphans removes spool part-files that have no session record and have
// been idle past maxAge. Source files already handed off are outside the
// part-file namespace and never touched.
func (s *Store) SweepOrphans(maxAge time.Duration) int {
	entries, err := os.ReadDir(s.spoolDir)
	if err != nil {
		s.log.Warn("Failed to read spool directory", "dir", s.spoolDir, "error", err)
		return 0
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) <= len(partPrefix)+len(partSuffix) ||
			name[:len(partPrefix)] != partPrefix || filepath.Ext(name) != partSuffix {
			continue
		}
		uploadID := name[len(partPrefix) : len(name)-len(partSuffix)]

		s.mu.Lock()
		_, tracked := s.sessions[uploadID]
		s.mu.Unlock()
		if tracked {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.spoolDir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("Failed to remove orphan spool file", "path", path, "error", err)
			continue
		}
		removed++
		s.log.Info("Removed orphan spool file", "path", path)
	}
	return removed
}

// ActiveCount returns the number of tracked sessions.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
