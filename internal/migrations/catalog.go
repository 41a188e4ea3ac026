// Package migrations holds the versioned schema catalog for the finance
// database and exposes it as a golang-migrate source driver.
//
// Shipped entries are immutable: a deployed database records the versions it
// applied, so schema changes are always expressed as a new version.
package migrations

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the direction of a migration step.
type Kind int

const (
	Up Kind = iota + 1
	Down
)

func (k Kind) String() string {
	switch k {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Migration is one entry of the catalog.
type Migration struct {
	Version     uint
	Description string
	Kind        Kind
	SQL         string
}

var ErrInvalidCatalog = errors.New("invalid migration catalog")

var (
	//go:embed sql/0001_create_base_table.up.sql
	createBaseTable string
	//go:embed sql/0001_drop_base_table.down.sql
	dropBaseTable string
	//go:embed sql/0002_add_indexes.up.sql
	addIndexes string
	//go:embed sql/0002_remove_indexes.down.sql
	removeIndexes string
	//go:embed sql/0003_create_categories.up.sql
	createCategories string
	//go:embed sql/0003_drop_categories.down.sql
	dropCategories string
	//go:embed sql/0004_link_categories.up.sql
	linkCategories string
	//go:embed sql/0004_unlink_categories.down.sql
	unlinkCategories string
)

// Catalog returns the shipped migrations in declaration order.
func Catalog() []Migration {
	return []Migration{
		{Version: 1, Description: "create_base_table", Kind: Up, SQL: createBaseTable},
		{Version: 1, Description: "drop_base_table", Kind: Down, SQL: dropBaseTable},
		{Version: 2, Description: "add_indexes", Kind: Up, SQL: addIndexes},
		{Version: 2, Description: "remove_indexes", Kind: Down, SQL: removeIndexes},
		{Version: 3, Description: "create_categories", Kind: Up, SQL: createCategories},
		{Version: 3, Description: "drop_categories", Kind: Down, SQL: dropCategories},
		{Version: 4, Description: "link_categories", Kind: Up, SQL: linkCategories},
		{Version: 4, Description: "unlink_categories", Kind: Down, SQL: unlinkCategories},
	}
}

// Validate checks that every version is positive, has at least one Up and one
// Down step, and that every step has a description and a script.
func Validate(catalog []Migration) error {
	if len(catalog) == 0 {
		return fmt.Errorf("%w: catalog is empty", ErrInvalidCatalog)
	}

	var problems []error
	type key struct {
		version     uint
		kind        Kind
		description string
	}
	seen := make(map[key]bool, len(catalog))
	ups := make(map[uint]int)
	downs := make(map[uint]int)

	for i, m := range catalog {
		if m.Version == 0 {
			problems = append(problems, fmt.Errorf("entry %d: version must be positive", i))
		}
		if strings.TrimSpace(m.Description) == "" {
			problems = append(problems, fmt.Errorf("entry %d (version %d): description is empty", i, m.Version))
		}
		if strings.TrimSpace(m.SQL) == "" {
			problems = append(problems, fmt.Errorf("entry %d (version %d): script is empty", i, m.Version))
		}
		switch m.Kind {
		case Up:
			ups[m.Version]++
		case Down:
			downs[m.Version]++
		default:
			problems = append(problems, fmt.Errorf("entry %d (version %d): unknown kind %s", i, m.Version, m.Kind))
		}
		k := key{m.Version, m.Kind, m.Description}
		if seen[k] {
			problems = append(problems, fmt.Errorf("entry %d: duplicate %s step %q for version %d", i, m.Kind, m.Description, m.Version))
		}
		seen[k] = true
	}

	for _, v := range versionsOf(catalog) {
		if v == 0 {
			continue
		}
		if ups[v] == 0 {
			problems = append(problems, fmt.Errorf("version %d has no up step", v))
		}
		if downs[v] == 0 {
			problems = append(problems, fmt.Errorf("version %d has no down step", v))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCatalog, errors.Join(problems...))
	}
	return nil
}

// Step groups every catalog entry sharing one version.
type Step struct {
	Version uint
	Up      []Migration
	Down    []Migration
}

// Identifier names the step in one direction by joining the descriptions of
// its entries with "+".
func (s Step) Identifier(kind Kind) string {
	entries := s.entries(kind)
	names := make([]string, len(entries))
	for i, m := range entries {
		names[i] = m.Description
	}
	return strings.Join(names, "+")
}

// Script returns the SQL applied for the step in one direction. Up entries run
// in catalog order and Down entries in reverse catalog order.
func (s Step) Script(kind Kind) string {
	var b strings.Builder
	for _, m := range s.entries(kind) {
		sql := strings.TrimSpace(m.SQL)
		if !strings.HasSuffix(sql, ";") {
			sql += ";"
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(sql)
		b.WriteString("\n")
	}
	return b.String()
}

func (s Step) entries(kind Kind) []Migration {
	if kind == Up {
		return s.Up
	}
	reversed := make([]Migration, len(s.Down))
	for i, m := range s.Down {
		reversed[len(s.Down)-1-i] = m
	}
	return reversed
}

// Plan validates the catalog and groups it into steps ordered by version.
func Plan(catalog []Migration) ([]Step, error) {
	if err := Validate(catalog); err != nil {
		return nil, err
	}

	byVersion := make(map[uint]*Step)
	for _, m := range catalog {
		s, ok := byVersion[m.Version]
		if !ok {
			s = &Step{Version: m.Version}
			byVersion[m.Version] = s
		}
		if m.Kind == Up {
			s.Up = append(s.Up, m)
		} else {
			s.Down = append(s.Down, m)
		}
	}

	steps := make([]Step, 0, len(byVersion))
	for _, v := range versionsOf(catalog) {
		steps = append(steps, *byVersion[v])
	}
	return steps, nil
}

// Latest returns the highest version in the catalog, or 0 when it is empty.
func Latest(catalog []Migration) uint {
	versions := versionsOf(catalog)
	if len(versions) == 0 {
		return 0
	}
	return versions[len(versions)-1]
}

func versionsOf(catalog []Migration) []uint {
	seen := make(map[uint]bool)
	var versions []uint
	for _, m := range catalog {
		if !seen[m.Version] {
			seen[m.Version] = true
			versions = append(versions, m.Version)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions
}
