package ingest

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Session tracks one chunked upload until all chunks have arrived.
// Sessions live in memory only and do not survive a restart.
type Session struct {
	UploadID string
	Total    int
	Kind     string
	Filename string
	Created  time.Time

	chunks map[int][]byte
}

// Progress reports how far a chunked upload has come.
type Progress struct {
	Received int
	Total    int
	Missing  []int
	Kind     string
}

// SessionStore is the process-wide map of in-flight chunked uploads.
// Structural mutations share one mutex; chunk payloads are owned by
// their session and never shared across upload ids.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// AddChunk records one chunk. The first chunk of an upload id creates
// the session with the declared total and kind. When the last missing
// chunk arrives, AddChunk deletes the session and returns the payload
// assembled in index order; callers dispatch it exactly once.
//
// Invalid input (non-positive total, index outside [0, total), or a
// total that contradicts the existing session) fails without mutating
// any session state.
func (s *SessionStore) AddChunk(uploadID string, index, total int, kind, filename string, data []byte) (Progress, []byte, error) {
	if total <= 0 {
		return Progress{}, nil, fmt.Errorf("total chunks must be positive, got %d", total)
	}
	if index < 0 || index >= total {
		return Progress{}, nil, fmt.Errorf("chunk index %d outside [0, %d)", index, total)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[uploadID]
	if !ok {
		sess = &Session{
			UploadID: uploadID,
			Total:    total,
			Kind:     kind,
			Filename: filename,
			Created:  time.Now(),
			chunks:   make(map[int][]byte),
		}
		s.sessions[uploadID] = sess
	} else if sess.Total != total {
		return Progress{}, nil, fmt.Errorf("total chunks mismatch for upload %q: session has %d, request says %d",
			uploadID, sess.Total, total)
	}

	// Duplicate deliveries of the same index overwrite; identical
	// retries therefore stay idempotent.
	buf := make([]byte, len(data))
	copy(buf, data)
	sess.chunks[index] = buf

	progress := Progress{Received: len(sess.chunks), Total: sess.Total, Kind: sess.Kind}
	if len(sess.chunks) < sess.Total {
		return progress, nil, nil
	}

	assembled := make([]byte, 0, sess.size())
	for i := 0; i < sess.Total; i++ {
		assembled = append(assembled, sess.chunks[i]...)
	}
	delete(s.sessions, uploadID)

	return progress, assembled, nil
}

// Get returns the session's progress, including which indices are
// still missing.
func (s *SessionStore) Get(uploadID string) (Progress, *Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[uploadID]
	if !ok {
		return Progress{}, nil, false
	}

	missing := make([]int, 0, sess.Total-len(sess.chunks))
	for i := 0; i < sess.Total; i++ {
		if _, have := sess.chunks[i]; !have {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)

	return Progress{
		Received: len(sess.chunks),
		Total:    sess.Total,
		Missing:  missing,
		Kind:     sess.Kind,
	}, sess, true
}

// Len returns the number of in-flight sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (sess *Session) size() int {
	n := 0
	for _, c := range sess.chunks {
		n += len(c)
	}
	return n
}
