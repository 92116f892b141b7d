// Package cache stores computed documents for a predication dump so later
// runs over the same file can skip parsing and transformation.
//
// Each cached source has two files in the cache directory:
//
//	<name>.jsonl.zst      zstd-compressed JSON Lines, one document per line
//	<name>.manifest.json  source fingerprint, build parameters and document count
//
// The manifest is written last, so a cache only "exists" once its data file
// is complete. A cache is also bound to the Params it was built with: a
// different semantic-type map, or a strict run meeting a cache that dropped
// invalid rows, is treated as a miss.
package cache

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/efebarandurmaz/semmed/internal/predication"
)

const manifestVersion = "1.1.0"

// ErrNotCached is returned by Read when no valid cache exists for a source.
var ErrNotCached = errors.New("no cache for source")

// Params are the inputs besides the source file that shaped the cached
// documents.
type Params struct {
	// SemanticTypes is the digest of the semantic-type map.
	SemanticTypes string `json:"semantic_types"`
	// SkipInvalidRows is set when invalid rows were dropped instead of
	// failing the run.
	SkipInvalidRows bool `json:"skip_invalid_rows"`
}

// Manifest describes one cached source.
type Manifest struct {
	Version     string      `json:"version"`
	Source      Fingerprint `json:"source"`
	Params      Params      `json:"params"`
	InvalidRows int         `json:"invalid_rows"`
	Documents   int         `json:"documents"`
	CreatedAt   time.Time   `json:"created_at"`
	DataFile    string      `json:"data_file"`
	Compression string      `json:"compression"`
}

// Store is a directory of cached document batches.
type Store struct {
	dir    string
	params Params
	logger *slog.Logger
}

// New creates a Store rooted at dir. The directory is created on first write.
func New(dir string) *Store {
	return &Store{dir: dir, logger: slog.Default()}
}

// WithLogger sets the logger used for cache diagnostics.
func (s *Store) WithLogger(l *slog.Logger) *Store {
	if l != nil {
		s.logger = l
	}
	return s
}

// WithParams sets the parameters new entries are written with and existing
// entries must match.
func (s *Store) WithParams(p Params) *Store {
	s.params = p
	return s
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) dataPath(sourcePath string) string {
	return filepath.Join(s.dir, filepath.Base(sourcePath)+".jsonl.zst")
}

func (s *Store) manifestPath(sourcePath string) string {
	return filepath.Join(s.dir, filepath.Base(sourcePath)+".manifest.json")
}

// LoadManifest returns the manifest for sourcePath, or nil (no error) if
// none has been written.
func (s *Store) LoadManifest(sourcePath string) (*Manifest, error) {
	data, err := os.ReadFile(s.manifestPath(sourcePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &m, nil
}

// Exists reports whether a complete cache matching the current version of
// sourcePath and the store's parameters is present.
func (s *Store) Exists(sourcePath string) bool {
	m, err := s.LoadManifest(sourcePath)
	if err != nil {
		s.logger.Warn("Unreadable cache manifest", "source", sourcePath, "error", err)
		return false
	}
	if m == nil || m.Version != manifestVersion {
		return false
	}
	fp, err := FingerprintFile(sourcePath)
	if err != nil || !fp.Equal(m.Source) {
		return false
	}
	if m.Params.SemanticTypes != s.params.SemanticTypes {
		s.logger.Debug("Cache built with different semantic types", "source", sourcePath)
		return false
	}
	if m.InvalidRows > 0 && !s.params.SkipInvalidRows {
		s.logger.Debug("Cache dropped invalid rows", "source", sourcePath, "invalid_rows", m.InvalidRows)
		return false
	}
	if _, err := os.Stat(s.dataPath(sourcePath)); err != nil {
		return false
	}
	return true
}

// Invalidate removes any cache for sourcePath.
func (s *Store) Invalidate(sourcePath string) error {
	for _, p := range []string{s.manifestPath(sourcePath), s.dataPath(sourcePath)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Write caches docs for sourcePath in one call.
func (s *Store) Write(sourcePath string, docs []predication.Document) error {
	w, err := s.Create(sourcePath)
	if err != nil {
		return err
	}
	if err := w.Write(docs); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

// Read streams the cached documents for sourcePath to fn in batches of at
// most batchSize, in the order they were written.
func (s *Store) Read(ctx context.Context, sourcePath string, batchSize int, fn func([]predication.Document) error) (int, error) {
	if !s.Exists(sourcePath) {
		return 0, ErrNotCached
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	f, err := os.Open(s.dataPath(sourcePath))
	if err != nil {
		return 0, fmt.Errorf("open cache: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("zstd reader: %w", err)
	}
	defer zr.Close()

	dec := json.NewDecoder(bufio.NewReader(zr))
	batch := make([]predication.Document, 0, batchSize)
	total := 0
	for {
		var doc predication.Document
		err := dec.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, fmt.Errorf("decode cached document %d: %w", total+len(batch)+1, err)
		}
		batch = append(batch, doc)
		if len(batch) == batchSize {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			if err := fn(batch); err != nil {
				return total, err
			}
			total += len(batch)
			batch = make([]predication.Document, 0, batchSize)
		}
	}
	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return total, err
		}
		total += len(batch)
	}
	return total, nil
}

// Writer streams documents into a new cache entry. Nothing becomes visible
// until Commit succeeds.
type Writer struct {
	store      *Store
	sourcePath string
	source     Fingerprint
	params     Params
	tmp        *os.File
	zw         *zstd.Encoder
	buf        *bufio.Writer
	enc        *json.Encoder
	count      int
	invalid    int
}

// Create starts a new cache entry for sourcePath. The source is
// fingerprinted now, so a file that changes mid-run is detected later.
func (s *Store) Create(sourcePath string) (*Writer, error) {
	fp, err := FingerprintFile(sourcePath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, filepath.Base(sourcePath)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create cache file: %w", err)
	}
	zw, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	buf := bufio.NewWriterSize(zw, 1<<20)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)

	return &Writer{
		store:      s,
		sourcePath: sourcePath,
		source:     fp,
		params:     s.params,
		tmp:        tmp,
		zw:         zw,
		buf:        buf,
		enc:        enc,
	}, nil
}

// Write appends docs to the entry.
func (w *Writer) Write(docs []predication.Document) error {
	for i := range docs {
		if err := w.enc.Encode(&docs[i]); err != nil {
			return fmt.Errorf("encode document %s: %w", docs[i].ID, err)
		}
	}
	w.count += len(docs)
	return nil
}

// Count returns the number of documents written so far.
func (w *Writer) Count() int { return w.count }

// SetInvalidRows records how many source rows were dropped as invalid.
func (w *Writer) SetInvalidRows(n int) { w.invalid = n }

// Commit flushes the data file, moves it into place and writes the manifest.
func (w *Writer) Commit() error {
	if err := w.buf.Flush(); err != nil {
		w.Abort()
		return fmt.Errorf("flush cache: %w", err)
	}
	if err := w.zw.Close(); err != nil {
		w.Abort()
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := w.tmp.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync cache: %w", err)
	}
	if err := w.tmp.Close(); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("close cache: %w", err)
	}

	manifestPath := w.store.manifestPath(w.sourcePath)
	if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("remove stale manifest: %w", err)
	}

	dataPath := w.store.dataPath(w.sourcePath)
	if err := os.Rename(w.tmp.Name(), dataPath); err != nil {
		os.Remove(w.tmp.Name())
		return fmt.Errorf("install cache: %w", err)
	}

	m := Manifest{
		Version:     manifestVersion,
		Source:      w.source,
		Params:      w.params,
		InvalidRows: w.invalid,
		Documents:   w.count,
		CreatedAt:   time.Now().UTC(),
		DataFile:    filepath.Base(dataPath),
		Compression: "zstd",
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmpManifest := manifestPath + ".tmp"
	if err := os.WriteFile(tmpManifest, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmpManifest, manifestPath); err != nil {
		return fmt.Errorf("install manifest: %w", err)
	}

	w.store.logger.Info("Cache written", "source", w.sourcePath, "documents", w.count, "path", dataPath)
	return nil
}

// Abort discards the entry.
func (w *Writer) Abort() {
	_ = w.zw.Close()
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}
