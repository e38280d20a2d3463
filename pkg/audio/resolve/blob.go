package resolve

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// BlobScheme prefixes every URL minted by a [BlobStore].
const BlobScheme = "blob:"

// ErrBlobNotFound is returned when opening a blob URL that was never minted
// or has been released.
var ErrBlobNotFound = errors.New("resolve: blob not found")

type blob struct {
	data        []byte
	contentType string
}

// BlobStore holds in-memory audio under opaque blob:<uuid> URLs. Its Open
// method has the signature of beepplayer.Opener, so a store can be
// registered as the "blob" scheme of a player's opener.
//
// BlobStore is safe for concurrent use.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewBlobStore returns an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

// Put stores data and returns its URL. The data is not copied.
func (s *BlobStore) Put(data []byte, contentType string) string {
	u := BlobScheme + uuid.NewString()
	s.mu.Lock()
	s.blobs[u] = blob{data: data, contentType: contentType}
	s.mu.Unlock()
	return u
}

// Release drops the blob behind rawURL. Unknown URLs are ignored.
func (s *BlobStore) Release(rawURL string) {
	s.mu.Lock()
	delete(s.blobs, rawURL)
	s.mu.Unlock()
}

// Len returns the number of live blobs.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}

// Open returns a reader over the blob behind rawURL and its content type.
func (s *BlobStore) Open(_ context.Context, rawURL string) (io.ReadCloser, string, error) {
	if !strings.HasPrefix(rawURL, BlobScheme) {
		return nil, "", fmt.Errorf("resolve: %q is not a blob url", rawURL)
	}
	s.mu.RLock()
	b, ok := s.blobs[rawURL]
	s.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrBlobNotFound, rawURL)
	}
	return io.NopCloser(bytes.NewReader(b.data)), b.contentType, nil
}
