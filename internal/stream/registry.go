package stream

import (
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/visionguard/visionguard/internal/metrics"
)

var ErrDuplicateStream = errors.New("stream already registered")

// Handle ties a live peer connection to its processor.
type Handle struct {
	StreamID  string
	UserID    string
	ShopID    string
	Location  string
	PC        io.Closer
	Processor *Processor
	CreatedAt time.Time
}

// Registry indexes live streams by stream id and by user. Both indexes are
// updated together under one lock.
type Registry struct {
	mu       sync.Mutex
	byStream map[string]*Handle
	byUser   map[string]map[string]*Handle
}

func NewRegistry() *Registry {
	return &Registry{
		byStream: make(map[string]*Handle),
		byUser:   make(map[string]map[string]*Handle),
	}
}

func (r *Registry) Add(h *Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byStream[h.StreamID]; exists {
		return ErrDuplicateStream
	}
	r.byStream[h.StreamID] = h
	if r.byUser[h.UserID] == nil {
		r.byUser[h.UserID] = make(map[string]*Handle)
	}
	r.byUser[h.UserID][h.StreamID] = h
	metrics.SetActiveStreams(len(r.byStream))
	return nil
}

// Remove deregisters one stream and returns its handle, or nil when the
// stream id is unknown.
func (r *Registry) Remove(streamID string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.byStream[streamID]
	if !ok {
		return nil
	}
	delete(r.byStream, streamID)
	if userStreams := r.byUser[h.UserID]; userStreams != nil {
		delete(userStreams, streamID)
		if len(userStreams) == 0 {
			delete(r.byUser, h.UserID)
		}
	}
	metrics.SetActiveStreams(len(r.byStream))
	return h
}

// RemoveAll deregisters every stream of a user and returns the handles.
func (r *Registry) RemoveAll(userID string) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	userStreams := r.byUser[userID]
	if len(userStreams) == 0 {
		return nil
	}
	handles := make([]*Handle, 0, len(userStreams))
	for id, h := range userStreams {
		delete(r.byStream, id)
		handles = append(handles, h)
	}
	delete(r.byUser, userID)
	metrics.SetActiveStreams(len(r.byStream))
	return handles
}

func (r *Registry) Get(streamID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byStream[streamID]
	return h, ok
}

// List returns a user's handles ordered by creation time.
func (r *Registry) List(userID string) []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]*Handle, 0, len(r.byUser[userID]))
	for _, h := range r.byUser[userID] {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool {
		return handles[i].CreatedAt.Before(handles[j].CreatedAt)
	})
	return handles
}

// Users reports stream counts per active user.
func (r *Registry) Users() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int, len(r.byUser))
	for userID, streams := range r.byUser {
		out[userID] = len(streams)
	}
	return out
}

// All returns every registered handle.
func (r *Registry) All() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	handles := make([]*Handle, 0, len(r.byStream))
	for _, h := range r.byStream {
		handles = append(handles, h)
	}
	return handles
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byStream)
}
