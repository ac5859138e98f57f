package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// LodeStore is a Store over a Lode storage backend (filesystem or memory).
type LodeStore struct {
	store lode.Store
}

var _ Store = (*LodeStore)(nil)

// NewLodeStore creates a store from a Lode store factory.
func NewLodeStore(factory lode.StoreFactory) (*LodeStore, error) {
	s, err := factory()
	if err != nil {
		return nil, wrap("init", "", err)
	}
	return &LodeStore{store: s}, nil
}

// NewFSStore creates a store rooted at a local directory.
func NewFSStore(root string) (*LodeStore, error) {
	if root == "" {
		return nil, errors.New("blob root directory is required")
	}
	return NewLodeStore(lode.NewFSFactory(root))
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *LodeStore {
	return &LodeStore{store: lode.NewMemory()}
}

// stagedSuffix names the copy a replacement is staged under. Lode paths are
// write-once, so replacing an object means deleting it and writing it again.
// Until the new object is in place, readers get the staged copy.
const stagedSuffix = ".staged"

// GetIfExists implements Store. A missing object whose replacement was
// interrupted is served from its staged copy.
func (s *LodeStore) GetIfExists(ctx context.Context, key string) ([]byte, bool, error) {
	data, ok, err := s.read(ctx, key)
	if err != nil || ok {
		return data, ok, err
	}
	return s.read(ctx, key+stagedSuffix)
}

func (s *LodeStore) read(ctx context.Context, key string) ([]byte, bool, error) {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return nil, false, wrap("get", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	rc, err := s.store.Get(ctx, key)
	if err != nil {
		err = wrap("get", key, err)
		// Deleted between Exists and Get.
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, wrap("get", key, fmt.Errorf("read body: %w", err))
	}
	return data, true, nil
}

// Put implements Store. A write to a free key goes straight to it. A replacement
// is staged first, then the old object is deleted and rewritten, then the
// staged copy is dropped.
func (s *LodeStore) Put(ctx context.Context, key string, data []byte, _ string) error {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return wrap("put", key, err)
	}
	if !ok {
		if err := s.store.Put(ctx, key, bytes.NewReader(data)); err != nil {
			return wrap("put", key, err)
		}
		// Left over from an interrupted replacement.
		return s.remove(ctx, key+stagedSuffix)
	}

	staged := key + stagedSuffix
	if err := s.overwrite(ctx, staged, data); err != nil {
		return wrap("put", staged, err)
	}
	if err := s.overwrite(ctx, key, data); err != nil {
		return wrap("put", key, err)
	}
	return s.Delete(ctx, staged)
}

// overwrite writes data to key, removing what is there.
func (s *LodeStore) overwrite(ctx context.Context, key string, data []byte) error {
	ok, err := s.store.Exists(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		if err := s.store.Delete(ctx, key); err != nil {
			return err
		}
	}
	return s.store.Put(ctx, key, bytes.NewReader(data))
}

// Delete implements Store. A staged copy of key is removed too.
func (s *LodeStore) Delete(ctx context.Context, key string) error {
	if err := s.remove(ctx, key); err != nil {
		return err
	}
	if strings.HasSuffix(key, stagedSuffix) {
		return nil
	}
	return s.remove(ctx, key+stagedSuffix)
}

func (s *LodeStore) remove(ctx context.Context, key string) error {
	err := wrap("delete", key, s.store.Delete(ctx, key))
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
