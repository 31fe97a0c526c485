// Package filestore backs the file_storage/file_to_bytes/bytes_to_file
// builtin handlers. It is a thin domain-specific client sitting behind
// pkg/broker: each storage_id gets its own lazily-constructed, TTL-reaped
// *diskStorage client, keyed by a content hash of (base path, storage id)
// per §4.5. The engine's Value model already carries binary payloads as
// base64 (§3); this package only owns the at-rest layout and metadata
// bookkeeping, not any business quota/billing concern.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/pkg/broker"
	"github.com/smilemakc/mbflow/pkg/models"
)

// FileQuery filters the result of Storage.List.
type FileQuery struct {
	StorageID   string
	AccessScope models.AccessScope
	Tags        []string
	Limit       int
	Offset      int
}

// Storage is the per-storage-id handle handed out by Manager.
type Storage interface {
	Store(ctx context.Context, entry *models.FileEntry, r io.Reader) (*models.FileEntry, error)
	Get(ctx context.Context, fileID string) (*models.FileEntry, io.ReadCloser, error)
	Delete(ctx context.Context, fileID string) error
	List(ctx context.Context, query *FileQuery) ([]*models.FileEntry, error)
	GetMetadata(ctx context.Context, fileID string) (*models.FileEntry, error)
}

// Manager hands out a Storage for a storage_id, constructing it lazily.
type Manager interface {
	GetStorage(storageID string) (Storage, error)
}

// Config configures the manager's on-disk backend.
type Config struct {
	BasePath       string
	MaxFileSize    int64
	AcquireTimeout time.Duration
}

// DefaultConfig mirrors the teacher's file-size default (5 MiB, the same
// ceiling FileStorageResource.NewFileStorageResource grants a free-tier owner).
func DefaultConfig() Config {
	return Config{
		BasePath:       "./data/files",
		MaxFileSize:    5 * 1024 * 1024,
		AcquireTimeout: 5 * time.Second,
	}
}

type diskManager struct {
	cfg    Config
	broker *broker.Broker[*diskStorage]
}

// NewManager creates a Manager whose Storage instances are cached by a
// broker.Broker keyed on (base path, storage id) — lazily constructed,
// idle-TTL reaped (§4.5).
func NewManager(cfg Config) Manager {
	b := broker.New(func(ctx context.Context, params any) (*diskStorage, error) {
		p := params.(diskStorageParams)
		dir := filepath.Join(p.basePath, p.storageID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("filestore: create storage dir: %w", err)
		}
		return &diskStorage{dir: dir, storageID: p.storageID, maxFileSize: p.maxFileSize}, nil
	})
	return &diskManager{cfg: cfg, broker: b}
}

type diskStorageParams struct {
	basePath    string
	storageID   string
	maxFileSize int64
}

func (m *diskManager) GetStorage(storageID string) (Storage, error) {
	params := diskStorageParams{basePath: m.cfg.BasePath, storageID: storageID, maxFileSize: m.cfg.MaxFileSize}
	timeout := m.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return m.broker.Acquire(context.Background(), broker.Key(params), params, timeout)
}

// diskStorage implements Storage over a directory: each file is a pair of
// <id>.bin (content) and <id>.json (FileEntry metadata).
type diskStorage struct {
	mu          sync.Mutex
	dir         string
	storageID   string
	maxFileSize int64
}

// Close satisfies broker.Closer; a diskStorage owns no OS handle beyond
// the directory path itself, so eviction is a no-op.
func (d *diskStorage) Close() error { return nil }

var errNotFound = errors.New("filestore: file not found")

func (d *diskStorage) Store(ctx context.Context, entry *models.FileEntry, r io.Reader) (*models.FileEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("filestore: read content: %w", err)
	}
	if d.maxFileSize > 0 && int64(len(data)) > d.maxFileSize {
		return nil, fmt.Errorf("filestore: file size %d exceeds limit %d", len(data), d.maxFileSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entry.ID = uuid.New().String()
	entry.StorageID = d.storageID
	entry.Size = int64(len(data))
	entry.Checksum = checksum(data)
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	if err := os.WriteFile(d.binPath(entry.ID), data, 0o644); err != nil {
		return nil, fmt.Errorf("filestore: write content: %w", err)
	}
	if err := d.writeMeta(entry); err != nil {
		_ = os.Remove(d.binPath(entry.ID))
		return nil, err
	}
	return entry, nil
}

func (d *diskStorage) Get(ctx context.Context, fileID string) (*models.FileEntry, io.ReadCloser, error) {
	entry, err := d.readMeta(fileID)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(d.binPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errNotFound
		}
		return nil, nil, fmt.Errorf("filestore: open content: %w", err)
	}
	return entry, f, nil
}

func (d *diskStorage) Delete(ctx context.Context, fileID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := os.Stat(d.metaPath(fileID)); os.IsNotExist(err) {
		return errNotFound
	}
	_ = os.Remove(d.binPath(fileID))
	return os.Remove(d.metaPath(fileID))
}

func (d *diskStorage) List(ctx context.Context, query *FileQuery) ([]*models.FileEntry, error) {
	d.mu.Lock()
	entries, err := os.ReadDir(d.dir)
	d.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("filestore: list dir: %w", err)
	}

	var matched []*models.FileEntry
	for _, de := range entries {
		if filepath.Ext(de.Name()) != ".json" {
			continue
		}
		fileID := de.Name()[:len(de.Name())-len(".json")]
		entry, err := d.readMeta(fileID)
		if err != nil {
			continue
		}
		if entry.IsExpired() {
			continue
		}
		if query.AccessScope != "" && entry.AccessScope != query.AccessScope {
			continue
		}
		if len(query.Tags) > 0 && !hasAnyTag(entry.Tags, query.Tags) {
			continue
		}
		matched = append(matched, entry)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	offset := query.Offset
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]
	if query.Limit > 0 && query.Limit < len(matched) {
		matched = matched[:query.Limit]
	}
	return matched, nil
}

func (d *diskStorage) GetMetadata(ctx context.Context, fileID string) (*models.FileEntry, error) {
	return d.readMeta(fileID)
}

func (d *diskStorage) binPath(fileID string) string  { return filepath.Join(d.dir, fileID+".bin") }
func (d *diskStorage) metaPath(fileID string) string { return filepath.Join(d.dir, fileID+".json") }

func (d *diskStorage) writeMeta(entry *models.FileEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("filestore: marshal metadata: %w", err)
	}
	return os.WriteFile(d.metaPath(entry.ID), data, 0o644)
}

func (d *diskStorage) readMeta(fileID string) (*models.FileEntry, error) {
	data, err := os.ReadFile(d.metaPath(fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errNotFound
		}
		return nil, fmt.Errorf("filestore: read metadata: %w", err)
	}
	var entry models.FileEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("filestore: unmarshal metadata: %w", err)
	}
	return &entry, nil
}

func hasAnyTag(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, t := range have {
		set[t] = struct{}{}
	}
	for _, t := range want {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DetectMimeType sniffs content, falling back to octet-stream.
func DetectMimeType(data []byte) string {
	n := len(data)
	if n > 512 {
		n = 512
	}
	return http.DetectContentType(data[:n])
}

// DetectMimeTypeFromFilename maps a file extension to a MIME type using
// the stdlib registry, falling back to octet-stream.
func DetectMimeTypeFromFilename(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
