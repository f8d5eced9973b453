package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

const (
	dirPerms  = 0o750
	filePerms = 0o640
)

// FileConfig locates a file store on disk.
type FileConfig struct {
	Dir       string // base directory
	Channel   string // namespace shared by all tables of one firewall instance
	Extension string // filename extension, default "json"
}

type fileStore struct {
	fs    afero.Fs
	paths paths
	log   zerolog.Logger
}

// NewFileStore returns a Store that keeps one file per record under cfg.Dir.
// It does not touch the filesystem; call Initialize before first use.
func NewFileStore(fsys afero.Fs, cfg FileConfig, log zerolog.Logger) (Store, error) {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("file store: base directory cannot be empty")
	}
	if strings.ContainsAny(cfg.Channel, `/\`) {
		return nil, fmt.Errorf("file store: channel %q must not contain path separators", cfg.Channel)
	}
	return &fileStore{
		fs:    fsys,
		paths: newPaths(cfg.Dir, cfg.Channel, cfg.Extension),
		log:   log.With().Str("driver", "file").Logger(),
	}, nil
}

// ---- Bootstrap -------------------------------------------------------------

func (s *fileStore) Initialize() error {
	for _, t := range Tables {
		if err := s.fs.MkdirAll(s.paths.dir(t), dirPerms); err != nil {
			return fmt.Errorf("create %s directory: %w", t, err)
		}
	}
	marker := s.paths.marker()
	if exists, _ := afero.Exists(s.fs, marker); exists {
		return nil
	}
	if err := afero.WriteFile(s.fs, marker, []byte(" "), filePerms); err != nil {
		return fmt.Errorf("write bootstrap marker: %w", err)
	}
	s.log.Debug().Str("marker", marker).Msg("store initialized")
	return nil
}

func (s *fileStore) Ready() bool {
	exists, _ := afero.Exists(s.fs, s.paths.marker())
	return exists
}

// ---- Records ---------------------------------------------------------------

func (s *fileStore) Exists(t TableType, id string) bool {
	if !t.Valid() || id == "" {
		return false
	}
	fi, err := s.fs.Stat(s.paths.file(t, id))
	return err == nil && !fi.IsDir()
}

func (s *fileStore) Fetch(t TableType, id string) Record {
	rec, _ := s.Lookup(t, id)
	return rec
}

func (s *fileStore) Lookup(t TableType, id string) (Record, error) {
	start := time.Now()
	if !t.Valid() {
		observe("fetch", t, "invalid", start)
		return Record{}, ErrInvalidTable
	}
	if id == "" {
		observe("fetch", t, "invalid", start)
		return Record{}, ErrInvalidID
	}

	path := s.paths.file(t, id)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			observe("fetch", t, "miss", start)
			return Record{}, ErrNotFound
		}
		observe("fetch", t, "error", start)
		return Record{}, fmt.Errorf("read %s: %w", path, err)
	}

	rec, err := decode(data)
	if err != nil {
		s.log.Debug().Err(err).Str("path", path).Msg("undecodable record")
		observe("fetch", t, "corrupt", start)
		return Record{}, err
	}
	observe("fetch", t, "hit", start)
	return unwrap(t, rec), nil
}

func (s *fileStore) FetchAll(t TableType) []Entry {
	start := time.Now()
	entries := []Entry{}
	if !t.Valid() {
		observe("fetch_all", t, "invalid", start)
		return entries
	}
	dir := s.paths.dir(t)
	if ok, _ := afero.DirExists(s.fs, dir); !ok {
		observe("fetch_all", t, "miss", start)
		return entries
	}

	files, _ := walkTree(s.fs, dir)
	for _, f := range files {
		name := f.info.Name()
		if !f.regular() || !s.isRecordName(name) {
			continue
		}
		data, err := afero.ReadFile(s.fs, f.path)
		if err != nil {
			// removed by a concurrent writer since the walk
			continue
		}
		rec, err := decode(data)
		if err != nil {
			s.log.Debug().Err(err).Str("path", f.path).Msg("undecodable record")
		}
		id, err := s.paths.idFromName(name)
		if err != nil {
			id = name
		}
		mod := f.info.ModTime()
		entries = append(entries, Entry{
			ID:      id,
			Name:    name,
			Record:  rec,
			ModTime: mod,
			Stamp:   stampFor(t, rec, mod),
		})
	}
	sortEntries(entries)
	observe("fetch_all", t, "ok", start)
	return entries
}

func (s *fileStore) Save(t TableType, id string, data Record) (bool, error) {
	start := time.Now()
	if !t.Valid() || id == "" {
		observe("save", t, "invalid", start)
		return false, nil
	}
	body, err := Encode(envelope(t, id, data))
	if err != nil {
		observe("save", t, "error", start)
		return false, err
	}

	path := s.paths.file(t, id)
	n, err := s.writeAtomic(path, body)
	if err != nil {
		observe("save", t, "error", start)
		return false, fmt.Errorf("save %s/%s: %w", t, id, err)
	}
	s.log.Debug().Str("table", string(t)).Str(t.LogKey(), id).Int("bytes", n).Msg("record saved")
	if n == 0 {
		observe("save", t, "empty", start)
		return false, nil
	}
	observe("save", t, "ok", start)
	return true, nil
}

// writeAtomic writes body to a hidden temp file beside path, stamps its mtime
// and renames it into place, so readers see either the old record or the new
// one. Any failure leaves the previous record untouched.
func (s *fileStore) writeAtomic(path string, body []byte) (int, error) {
	tmp, err := afero.TempFile(s.fs, filepath.Dir(path), ".tmp-")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	n, err := tmp.Write(body)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = s.fs.Chmod(tmpName, filePerms)
	}
	if err == nil {
		// rename keeps the mtime, which FetchAll orders by
		now := time.Now()
		err = s.fs.Chtimes(tmpName, now, now)
	}
	if err == nil {
		err = s.fs.Rename(tmpName, path)
	}
	if err != nil {
		_ = s.fs.Remove(tmpName)
		return 0, err
	}
	return n, nil
}

func (s *fileStore) Delete(t TableType, id string) (bool, error) {
	start := time.Now()
	if !t.Valid() || id == "" {
		observe("delete", t, "invalid", start)
		return false, nil
	}
	path := s.paths.file(t, id)
	if err := s.fs.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			observe("delete", t, "miss", start)
			return false, nil
		}
		observe("delete", t, "error", start)
		return false, fmt.Errorf("delete %s/%s: %w", t, id, err)
	}
	s.log.Debug().Str("table", string(t)).Str(t.LogKey(), id).Msg("record deleted")
	observe("delete", t, "ok", start)
	return true, nil
}

// ---- Rebuild ---------------------------------------------------------------

func (s *fileStore) Rebuild() (bool, error) {
	start := time.Now()
	for _, t := range Tables {
		if err := removeTree(s.fs, s.paths.dir(t)); err != nil {
			s.log.Warn().Err(err).Str("table", string(t)).Msg("rebuild: could not remove table directory")
		}
	}
	if err := s.fs.Remove(s.paths.marker()); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn().Err(err).Msg("rebuild: could not remove bootstrap marker")
	}

	wiped := true
	for _, t := range Tables {
		if ok, _ := afero.DirExists(s.fs, s.paths.dir(t)); ok {
			wiped = false
		}
	}

	err := s.Initialize()
	result := "ok"
	if !wiped {
		result = "partial"
	}
	if err != nil {
		result = "error"
	}
	observeRebuild(result, start)
	s.log.Info().Bool("wiped", wiped).Msg("store rebuilt")
	return wiped, err
}

// ---- Utility ---------------------------------------------------------------

func (s *fileStore) Count(t TableType) int {
	if !t.Valid() {
		return 0
	}
	files, _ := walkTree(s.fs, s.paths.dir(t))
	n := 0
	for _, f := range files {
		if f.regular() && s.isRecordName(f.info.Name()) {
			n++
		}
	}
	return n
}

func (s *fileStore) SizeBytes() (int64, error) {
	var total int64
	for _, t := range Tables {
		files, _ := walkTree(s.fs, s.paths.dir(t))
		for _, f := range files {
			if f.regular() {
				total += f.info.Size()
			}
		}
	}
	return total, nil
}

func (s *fileStore) Close() error {
	return nil
}

// isRecordName filters out in-flight temp files and foreign files.
func (s *fileStore) isRecordName(name string) bool {
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, "."+s.paths.ext)
}
