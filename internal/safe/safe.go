// internal/safe/safe.go
package safe

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"distpatch/shared/utils"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrContentNotFound = errors.New("content not found")
	ErrInvalidHash     = errors.New("invalid content hash")
)

// BlobMeta stores metadata about stored content.
type BlobMeta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Safe is deduplicated, content-addressed blob storage. Snapshot file
// contents and generated patch blobs live here; metadata lives in badger.
type Safe struct {
	root  string
	db    *badger.DB
	cache *lru.Cache[string, []byte]
	comp  *compressor
}

// Options configures Safe behavior.
type Options struct {
	Root        string // root directory for blob files
	CacheSize   int    // number of blobs to cache
	CompressMin int    // minimum blob size in bytes before compressing
}

// New creates a new Safe instance.
func New(db *badger.DB, opts Options) (*Safe, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating root directory: %w", err)
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = 1000
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	if opts.CompressMin == 0 {
		opts.CompressMin = 1024
	}
	comp, err := newCompressor(opts.CompressMin)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	return &Safe{
		root:  opts.Root,
		db:    db,
		cache: cache,
		comp:  comp,
	}, nil
}

// Store saves content and returns its hash. Storing the same content twice
// is a no-op.
func (s *Safe) Store(content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}

	hash := utils.HashContent(content)

	exists, err := s.Exists(hash)
	if err != nil {
		return "", fmt.Errorf("checking existence: %w", err)
	}
	if exists {
		return hash, nil
	}

	stored, compressed := s.comp.compress(content)

	blobPath := s.blobPath(hash)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0755); err != nil {
		return "", fmt.Errorf("creating blob directory: %w", err)
	}
	if err := os.WriteFile(blobPath, stored, 0644); err != nil {
		return "", fmt.Errorf("writing blob file: %w", err)
	}

	meta := BlobMeta{
		Hash:       hash,
		Size:       int64(len(content)),
		Compressed: compressed,
		CreatedAt:  time.Now(),
	}
	if err := s.storeMeta(meta); err != nil {
		os.Remove(blobPath)
		return "", fmt.Errorf("storing metadata: %w", err)
	}

	s.cache.Add(hash, content)
	return hash, nil
}

// Get retrieves content by hash.
func (s *Safe) Get(hash string) ([]byte, error) {
	if !s.isValidHash(hash) {
		return nil, ErrInvalidHash
	}

	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(s.blobPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrContentNotFound
		}
		return nil, fmt.Errorf("reading blob: %w", err)
	}

	if meta.Compressed {
		content, err = s.comp.decompress(content)
		if err != nil {
			return nil, fmt.Errorf("decompressing blob: %w", err)
		}
	}

	if utils.HashContent(content) != hash {
		return nil, fmt.Errorf("blob hash mismatch for %s", utils.ShortHash(hash))
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Exists checks whether content is stored.
func (s *Safe) Exists(hash string) (bool, error) {
	if !s.isValidHash(hash) {
		return false, ErrInvalidHash
	}

	if s.cache.Contains(hash) {
		return true, nil
	}

	_, err := s.getMeta(hash)
	if err == ErrContentNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases compressor resources. The badger handle is owned by the
// caller.
func (s *Safe) Close() {
	s.comp.close()
}

func (s *Safe) blobPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func (s *Safe) isValidHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

func (s *Safe) storeMeta(meta BlobMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(fmt.Sprintf("blob:%s", meta.Hash))
		return txn.Set(key, data)
	})
}

func (s *Safe) getMeta(hash string) (BlobMeta, error) {
	var meta BlobMeta

	err := s.db.View(func(txn *badger.Txn) error {
		key := []byte(fmt.Sprintf("blob:%s", hash))
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrContentNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})

	return meta, err
}
