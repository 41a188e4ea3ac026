package migrations

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
)

// SourceName is the name the catalog source is registered under when handed
// to migrate.NewWithInstance.
const SourceName = "catalog"

// Source serves a validated catalog to golang-migrate. Entries sharing a
// version are merged into one script per direction.
type Source struct {
	steps []Step
	index map[uint]int
}

var _ source.Driver = (*Source)(nil)

// NewSource validates catalog and returns a source driver over it.
func NewSource(catalog []Migration) (source.Driver, error) {
	steps, err := Plan(catalog)
	if err != nil {
		return nil, err
	}
	index := make(map[uint]int, len(steps))
	for i, s := range steps {
		index[s.Version] = i
	}
	return &Source{steps: steps, index: index}, nil
}

// Open is not supported: the catalog is compiled in, not addressed by URL.
func (s *Source) Open(url string) (source.Driver, error) {
	return nil, errors.New("catalog source cannot be opened by url")
}

func (s *Source) Close() error { return nil }

func (s *Source) First() (uint, error) {
	if len(s.steps) == 0 {
		return 0, notExist("first", 0)
	}
	return s.steps[0].Version, nil
}

func (s *Source) Prev(version uint) (uint, error) {
	i, ok := s.index[version]
	if !ok || i == 0 {
		return 0, notExist("prev", version)
	}
	return s.steps[i-1].Version, nil
}

func (s *Source) Next(version uint) (uint, error) {
	i, ok := s.index[version]
	if !ok || i == len(s.steps)-1 {
		return 0, notExist("next", version)
	}
	return s.steps[i+1].Version, nil
}

func (s *Source) ReadUp(version uint) (io.ReadCloser, string, error) {
	return s.read(version, Up)
}

func (s *Source) ReadDown(version uint) (io.ReadCloser, string, error) {
	return s.read(version, Down)
}

func (s *Source) read(version uint, kind Kind) (io.ReadCloser, string, error) {
	i, ok := s.index[version]
	if !ok {
		return nil, "", notExist("read "+kind.String(), version)
	}
	step := s.steps[i]
	return io.NopCloser(strings.NewReader(step.Script(kind))), step.Identifier(kind), nil
}

// Step returns the grouped step for version.
func (s *Source) Step(version uint) (Step, bool) {
	i, ok := s.index[version]
	if !ok {
		return Step{}, false
	}
	return s.steps[i], true
}

// Steps returns every step in ascending version order.
func (s *Source) Steps() []Step {
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

func notExist(op string, version uint) error {
	return &fs.PathError{Op: op, Path: fmt.Sprintf("%s/%d", SourceName, version), Err: fs.ErrNotExist}
}
