package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	rccar "github.com/edgeimpulse/rccar-go"

	"github.com/vmihailenco/msgpack/v5"
)

// SessionFileExt is the extension of session files written by FileStore.
const SessionFileExt = ".rcs"

const sessionFileVersion = 1

type sessionFile struct {
	Version int          `msgpack:"version"`
	ID      string       `msgpack:"id"`
	Time    time.Time    `msgpack:"time"`
	Samples []sampleFile `msgpack:"samples"`
}

type sampleFile struct {
	Label  uint8  `msgpack:"label"`
	Width  int    `msgpack:"width"`
	Height int    `msgpack:"height"`
	Pix    []byte `msgpack:"pix"`
}

// FileStore stores each session as a msgpack file in a directory, named after
// the session time.
type FileStore struct {
	Dir string
}

var _ Store = (*FileStore)(nil)
var _ Lister = (*FileStore)(nil)

// NewFileStore returns a store writing to dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("making session dir: %v", err)
	}
	return &FileStore{Dir: dir}, nil
}

// Path returns the file a session stored at t is written to.
func (fs *FileStore) Path(t time.Time) string {
	return filepath.Join(fs.Dir, SessionName(t)+SessionFileExt)
}

// Flush writes the session to a temporary file and renames it into place, so
// a session file is either complete or absent.
func (fs *FileStore) Flush(ctx context.Context, s Session) (rerr error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkSession(s); err != nil {
		return err
	}

	sf := sessionFile{
		Version: sessionFileVersion,
		ID:      s.ID,
		Time:    s.Time,
		Samples: make([]sampleFile, len(s.Samples)),
	}
	for i, smp := range s.Samples {
		b := smp.Image.Bounds()
		sf.Samples[i] = sampleFile{
			Label:  uint8(smp.Label),
			Width:  b.Dx(),
			Height: b.Dy(),
			Pix:    packPixels(smp.Image),
		}
	}
	buf, err := msgpack.Marshal(&sf)
	if err != nil {
		return fmt.Errorf("encoding session: %v", err)
	}

	f, err := os.CreateTemp(fs.Dir, ".session-*")
	if err != nil {
		return fmt.Errorf("creating session file: %v", err)
	}
	defer func() {
		if rerr != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("writing session file: %v", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing session file: %v", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing session file: %v", err)
	}
	if err := os.Rename(f.Name(), fs.Path(s.Time)); err != nil {
		return fmt.Errorf("renaming session file: %v", err)
	}
	return nil
}

// ReadSessionFile reads a session file written by FileStore.
func ReadSessionFile(path string) (Session, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Session{}, err
	}
	var sf sessionFile
	if err := msgpack.Unmarshal(buf, &sf); err != nil {
		return Session{}, fmt.Errorf("decoding session file %s: %v", path, err)
	}
	if sf.Version != sessionFileVersion {
		return Session{}, fmt.Errorf("session file %s has unsupported version %d", path, sf.Version)
	}
	s := Session{
		ID:      sf.ID,
		Time:    sf.Time,
		Samples: make([]Sample, len(sf.Samples)),
	}
	for i, smp := range sf.Samples {
		img, err := unpackPixels(smp.Width, smp.Height, smp.Pix)
		if err != nil {
			return Session{}, fmt.Errorf("session file %s, sample %d: %v", path, i, err)
		}
		l := rccar.Label(smp.Label)
		if !l.Valid() {
			return Session{}, fmt.Errorf("session file %s, sample %d: invalid label %d", path, i, smp.Label)
		}
		s.Samples[i] = Sample{Image: img, Label: l}
	}
	return s, nil
}

// ListSessionFiles returns the session files in dir, oldest first.
func ListSessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var l []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") || filepath.Ext(e.Name()) != SessionFileExt {
			continue
		}
		l = append(l, filepath.Join(dir, e.Name()))
	}
	sort.Strings(l)
	return l, nil
}

// Sessions reads all session files in the store.
func (fs *FileStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	files, err := ListSessionFiles(fs.Dir)
	if err != nil {
		return nil, err
	}
	var l []SessionInfo
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := ReadSessionFile(p)
		if err != nil {
			return nil, err
		}
		l = append(l, SessionInfo{
			ID:     s.ID,
			Name:   strings.TrimSuffix(filepath.Base(p), SessionFileExt),
			Time:   s.Time,
			Counts: s.Counts(),
		})
	}
	return l, nil
}

// LoadSession reads the session with the id, or with the name as returned by
// SessionName.
func (fs *FileStore) LoadSession(ctx context.Context, id string) (Session, error) {
	if _, err := ParseSessionName(id); err == nil {
		return ReadSessionFile(filepath.Join(fs.Dir, id+SessionFileExt))
	}
	files, err := ListSessionFiles(fs.Dir)
	if err != nil {
		return Session{}, err
	}
	for _, p := range files {
		if err := ctx.Err(); err != nil {
			return Session{}, err
		}
		s, err := ReadSessionFile(p)
		if err != nil {
			return Session{}, err
		}
		if s.ID == id {
			return s, nil
		}
	}
	return Session{}, fmt.Errorf("session %q not found", id)
}
