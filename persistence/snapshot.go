package persistence

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// StoreHandler loads decoded entries of database 0 into a store. Keys
// already expired at load time are skipped. The caller holds the store
// lock while parsing.
type StoreHandler struct {
	store   *storage.Store
	db      int
	Loaded  int
	Skipped int
	Aux     map[string]string
}

// NewStoreHandler returns a handler writing into store
func NewStoreHandler(store *storage.Store) *StoreHandler {
	return &StoreHandler{store: store, Aux: make(map[string]string)}
}

func (h *StoreHandler) OnDatabase(index int) error {
	h.db = index
	return nil
}

func (h *StoreHandler) OnKey(key []byte, value interface{}, expireAt time.Time) error {
	if h.db != 0 {
		h.Skipped++
		return nil
	}
	if !expireAt.IsZero() && !expireAt.After(h.store.Now()) {
		h.Skipped++
		return nil
	}

	v, err := toStoreValue(value)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	v.ExpireAt = expireAt
	h.store.Put(string(key), v)
	h.Loaded++
	return nil
}

func (h *StoreHandler) OnAux(key, value []byte) error {
	h.Aux[string(key)] = string(value)
	return nil
}

func (h *StoreHandler) OnEnd() error {
	return nil
}

func toStoreValue(value interface{}) (*storage.Value, error) {
	switch v := value.(type) {
	case []byte:
		return storage.NewString(v), nil
	case [][]byte:
		return &storage.Value{Type: storage.ValueTypeList, Data: &storage.ListValue{Elements: v}}, nil
	case map[string]struct{}:
		return &storage.Value{Type: storage.ValueTypeSet, Data: &storage.SetValue{Members: v}}, nil
	case map[string][]byte:
		return &storage.Value{Type: storage.ValueTypeHash, Data: &storage.HashValue{Fields: v}}, nil
	case []storage.ZSetMember:
		z := storage.NewZSetValue()
		for _, m := range v {
			z.Add(m.Member, m.Score)
		}
		return &storage.Value{Type: storage.ValueTypeZSet, Data: z}, nil
	case *storage.StreamValue:
		return &storage.Value{Type: storage.ValueTypeStream, Data: v}, nil
	}
	return nil, fmt.Errorf("unsupported decoded value %T", value)
}

// LoadSnapshot decodes an RDB stream into store and returns the number of
// keys loaded. It takes the store lock.
func LoadSnapshot(store *storage.Store, r io.Reader) (int, error) {
	h := NewStoreHandler(store)
	store.Lock()
	defer store.Unlock()
	if err := ParseRDB(r, h); err != nil {
		return h.Loaded, err
	}
	return h.Loaded, nil
}

// Load reads the snapshot file described by cfg into store. A missing file
// is not an error and loads nothing.
func Load(store *storage.Store, cfg Config) (int, error) {
	f, err := os.Open(cfg.Path())
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return LoadSnapshot(store, f)
}
