// Package store persists generated tile pyramids and serves tile reads.
//
// Tiles live under {id}/tiles/{zoom}/{col}/{row}.png with south-up (TMS)
// rows, where id is a namespace generated fresh for every pipeline run: two
// runs never share a namespace, so concurrent publishes cannot contend.
// The namespace id only becomes caller-visible after a publish succeeds, so
// an aborted run leaves nothing observable behind.
package store

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/geoanchor/warptile/pyramid"
)

// writeAttempts bounds the per-tile write retries before a publish is
// abandoned.
const writeAttempts = 3

// ErrStorage wraps filesystem failures while publishing or reading tiles.
var ErrStorage = errors.New("tile storage failure")

type ErrInvalidOption struct {
	msg string
}

func (err ErrInvalidOption) Error() string {
	return err.msg
}

// A Store writes pyramids to and reads tiles from a filesystem.
type Store struct {
	fs       afero.Fs
	base     string
	tileSize int
}

type Option func(s *Store) error

// TileSize sets the pixel size of the placeholder served for missing tiles,
// default 256. It should match the published pyramids.
func TileSize(n int) Option {
	return func(s *Store) error {
		if n < 1 {
			return ErrInvalidOption{"tile size must be >=1"}
		}
		s.tileSize = n
		return nil
	}
}

// New creates a store rooted at base on the given filesystem.
func New(fs afero.Fs, base string, options ...Option) (*Store, error) {
	s := &Store{fs: fs, base: base, tileSize: 256}
	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// NewNamespace allocates a fresh globally unique namespace id.
func NewNamespace() string {
	return uuid.NewString()
}

// Publish writes every tile of the pyramid under the given namespace. On any
// failure the partially written namespace is removed again and the error
// returned; the caller must not expose the id in that case.
func (s *Store) Publish(id string, p *pyramid.Pyramid) error {
	for _, tile := range p.Tiles() {
		data, err := pyramid.EncodePNG(tile.Image)
		if err != nil {
			s.discard(id)
			return fmt.Errorf("tile %d/%d/%d: %w", tile.Z, tile.Col, tile.Row, err)
		}
		if err := s.writeTile(id, tile.Z, tile.Col, tile.Row, data); err != nil {
			s.discard(id)
			return fmt.Errorf("tile %d/%d/%d: %w", tile.Z, tile.Col, tile.Row, err)
		}
	}
	return nil
}

func (s *Store) writeTile(id string, z, col, row int, data []byte) error {
	dir := path.Join(s.base, id, "tiles", strconv.Itoa(z), strconv.Itoa(col))
	file := path.Join(dir, strconv.Itoa(row)+".png")
	var err error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if err = s.fs.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		if err = afero.WriteFile(s.fs, file, data, 0o644); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: write %s after %d attempts: %v", ErrStorage, file, writeAttempts, err)
}

func (s *Store) discard(id string) {
	// best effort: the namespace id was never exposed, leftovers are
	// unreachable either way
	_ = s.fs.RemoveAll(path.Join(s.base, id))
}

// ReadTile resolves a public north-up tile address within a namespace and
// returns PNG bytes. Addresses with no stored tile resolve to the shared
// transparent placeholder, never an error: published pyramids are
// intentionally sparse.
func (s *Store) ReadTile(id string, a pyramid.Address) ([]byte, error) {
	if !a.Valid() {
		return pyramid.PlaceholderPNG(s.tileSize), nil
	}
	stored := a.Flip()
	file := path.Join(s.base, id, "tiles",
		strconv.Itoa(stored.Z), strconv.Itoa(stored.Col), strconv.Itoa(stored.Row)+".png")
	data, err := afero.ReadFile(s.fs, file)
	if err != nil {
		if os.IsNotExist(err) {
			return pyramid.PlaceholderPNG(s.tileSize), nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrStorage, file, err)
	}
	return data, nil
}

// Exists reports whether a namespace has been published.
func (s *Store) Exists(id string) (bool, error) {
	ok, err := afero.DirExists(s.fs, path.Join(s.base, id))
	if err != nil {
		return false, fmt.Errorf("stat namespace %s: %w", id, err)
	}
	return ok, nil
}
