package algostore

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/boristopalov/slicewise/pkg/core"
)

// DefaultEntry is the entry function bound when an upload declares none.
const DefaultEntry = "run"

const recordPrefix = "algo/"

// Record is the immutable metadata of one uploaded algorithm.
type Record struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Entry    string `json:"entry"`
	Module   string `json:"module"` // module path relative to the record's blob dir
	SHA256   string `json:"sha256"`
}

// Upload is one incoming algorithm submission: a single .lua file or a .zip
// archive, plus the caller-declared metadata.
type Upload struct {
	Filename string
	Content  []byte
	Name     string // display name; defaults to the filename
	Entry    string // entry function; defaults to DefaultEntry
	SHA256   string // optional declared digest of Content
}

// Store keeps algorithm metadata in badger and module sources on disk under
// one directory per record. Records are immutable once stored.
type Store struct {
	db     *badger.DB
	dir    string
	logger *slog.Logger
}

type StoreOption func(*options)

type options struct {
	inMemory bool
	logger   *slog.Logger
}

// WithInMemory keeps badger off disk. Blob files still land under the store
// directory; tests pair this with a temp dir.
func WithInMemory() StoreOption {
	return func(o *options) { o.inMemory = true }
}

func WithLogger(l *slog.Logger) StoreOption {
	return func(o *options) { o.logger = l }
}

// Open creates the store directory if needed and opens the metadata DB.
func Open(dir string, opts ...StoreOption) (*Store, error) {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create algorithm dir: %w", err)
	}

	badgerOpts := badger.DefaultOptions(filepath.Join(dir, "meta")).WithLogger(nil)
	if o.inMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	return &Store{db: db, dir: dir, logger: o.logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores one upload: verifies the declared digest, extracts archives,
// locates the module file and persists the metadata record. The returned
// record is what ListAlgorithms exposes.
func (s *Store) Put(up Upload) (Record, error) {
	if len(up.Content) == 0 {
		return Record{}, fmt.Errorf("file missing")
	}

	name := strings.TrimSpace(up.Name)
	if name == "" {
		name = up.Filename
	}
	entry := strings.TrimSpace(up.Entry)
	if entry == "" {
		entry = DefaultEntry
	}

	sum := sha256.Sum256(up.Content)
	digest := hex.EncodeToString(sum[:])
	if claimed := strings.ToLower(strings.TrimSpace(up.SHA256)); claimed != "" && claimed != digest {
		return Record{}, fmt.Errorf("%w: have %s want %s", core.ErrHashMismatch, digest, claimed)
	}

	u := uuid.New()
	id := hex.EncodeToString(u[:])
	outDir := filepath.Join(s.dir, id)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return Record{}, fmt.Errorf("create record dir: %w", err)
	}

	origPath := filepath.Join(outDir, filepath.Base(up.Filename))
	if err := os.WriteFile(origPath, up.Content, 0o644); err != nil {
		os.RemoveAll(outDir)
		return Record{}, fmt.Errorf("save upload: %w", err)
	}

	var module string
	if strings.HasSuffix(strings.ToLower(up.Filename), ".zip") {
		var err error
		module, entry, err = s.extractArchive(up.Content, outDir, entry)
		if err != nil {
			os.RemoveAll(outDir)
			return Record{}, err
		}
	} else {
		module = filepath.Base(origPath)
	}

	if module == "" {
		os.RemoveAll(outDir)
		return Record{}, fmt.Errorf("no lua file found in upload")
	}

	rec := Record{
		ID:       id,
		Name:     name,
		Language: "lua",
		Entry:    entry,
		Module:   filepath.ToSlash(module),
		SHA256:   digest,
	}
	if err := s.saveRecord(rec); err != nil {
		os.RemoveAll(outDir)
		return Record{}, err
	}

	s.logger.Info("algorithm stored", "id", rec.ID, "name", rec.Name, "module", rec.Module)
	return rec, nil
}

// Get returns the metadata record for an id, or core.ErrNotFound.
func (s *Store) Get(id string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, core.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read record: %w", err)
	}
	return rec, nil
}

// Source returns a record together with its module source bytes.
func (s *Store) Source(id string) (Record, []byte, error) {
	rec, err := s.Get(id)
	if err != nil {
		return Record{}, nil, err
	}
	src, err := os.ReadFile(filepath.Join(s.dir, rec.ID, filepath.FromSlash(rec.Module)))
	if err != nil {
		return Record{}, nil, fmt.Errorf("%w: read module: %v", core.ErrLoad, err)
	}
	return rec, src, nil
}

// List returns all records ordered newest-first by id.
func (s *Store) List() ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(recordPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID > records[j].ID })
	return records, nil
}

func (s *Store) saveRecord(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(recordPrefix+rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store record: %w", err)
	}
	return nil
}

// extractArchive unpacks a zip upload into outDir and decides the module
// file: a manifest.json in the archive may override entry and module,
// otherwise common names are preferred with a fallback to the first .lua
// found.
func (s *Store) extractArchive(content []byte, outDir, entry string) (module, finalEntry string, err error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", "", fmt.Errorf("read archive: %w", err)
	}

	for _, f := range zr.File {
		target := filepath.Join(outDir, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(outDir)+string(os.PathSeparator)) {
			return "", "", fmt.Errorf("archive entry %q escapes target dir", f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return "", "", fmt.Errorf("extract archive: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", "", fmt.Errorf("extract archive: %w", err)
		}
		rc, err := f.Open()
		if err != nil {
			return "", "", fmt.Errorf("extract archive: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", "", fmt.Errorf("extract archive: %w", err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return "", "", fmt.Errorf("extract archive: %w", err)
		}
	}

	finalEntry = entry
	if data, err := os.ReadFile(filepath.Join(outDir, "manifest.json")); err == nil {
		var manifest struct {
			Entry  string `json:"entry"`
			Module string `json:"module"`
		}
		if json.Unmarshal(data, &manifest) == nil {
			if e := strings.TrimSpace(manifest.Entry); e != "" {
				finalEntry = e
			}
			module = manifest.Module
		}
	}
	if module != "" {
		// The manifest is attacker-controlled like the archive entries;
		// the declared module gets the same traversal check.
		target := filepath.Join(outDir, filepath.FromSlash(module))
		if !strings.HasPrefix(target, filepath.Clean(outDir)+string(os.PathSeparator)) {
			return "", "", fmt.Errorf("manifest module %q escapes record dir", module)
		}
	}
	if module == "" {
		module = findMainLua(outDir)
	}
	return module, finalEntry, nil
}

// findMainLua prefers common names and falls back to the first .lua file
// discovered.
func findMainLua(root string) string {
	for _, cand := range []string{"main.lua", "algo.lua", "algorithm.lua"} {
		if _, err := os.Stat(filepath.Join(root, cand)); err == nil {
			return cand
		}
	}
	var found string
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || found != "" || d.IsDir() {
			return err
		}
		if strings.HasSuffix(d.Name(), ".lua") {
			rel, relErr := filepath.Rel(root, path)
			if relErr == nil {
				found = rel
			}
		}
		return nil
	})
	return found
}
