package types

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// Namespace is the textual prefix of an identifier.
type Namespace string

const (
	// Provisional identifiers are issued to submitters who are not on the allow-list.
	Provisional Namespace = "CAN"
	// Confirmed identifiers are permanent.
	Confirmed Namespace = "CVEDB"

	// BlockSize is the number of sequence numbers held by one shard block.
	BlockSize = 1000
)

var (
	ErrInvalidIdentifier = xerrors.New("invalid identifier")
	ErrNotProvisional    = xerrors.New("identifier is not provisional")

	identifierPattern = regexp.MustCompile(`\b(CVEDB|CAN)-\d{4}-\d+\b`)
)

// Identifier is a tagged vulnerability identifier, e.g. CAN-2021-1000001.
type Identifier struct {
	Namespace Namespace
	Year      int
	Seq       int
}

func NewIdentifier(ns Namespace, year, seq int) Identifier {
	return Identifier{Namespace: ns, Year: year, Seq: seq}
}

// ParseIdentifier parses "{PREFIX}-{YEAR}-{SEQ}". The year must have four digits,
// the sequence has no fixed width.
func ParseIdentifier(s string) (Identifier, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Identifier{}, xerrors.Errorf("%q: %w", s, ErrInvalidIdentifier)
	}

	ns := Namespace(parts[0])
	if ns != Provisional && ns != Confirmed {
		return Identifier{}, xerrors.Errorf("%q: unknown prefix: %w", s, ErrInvalidIdentifier)
	}

	if len(parts[1]) != 4 || !isDigits(parts[1]) {
		return Identifier{}, xerrors.Errorf("%q: malformed year: %w", s, ErrInvalidIdentifier)
	}
	year, _ := strconv.Atoi(parts[1])

	if !isDigits(parts[2]) {
		return Identifier{}, xerrors.Errorf("%q: malformed sequence: %w", s, ErrInvalidIdentifier)
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil {
		return Identifier{}, xerrors.Errorf("%q: %v: %w", s, err, ErrInvalidIdentifier)
	}

	return NewIdentifier(ns, year, seq), nil
}

// FindIdentifier returns the first identifier embedded in text, e.g. an issue title.
func FindIdentifier(text string) (Identifier, bool) {
	m := identifierPattern.FindString(text)
	if m == "" {
		return Identifier{}, false
	}
	id, err := ParseIdentifier(m)
	if err != nil {
		return Identifier{}, false
	}
	return id, true
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s-%s", id.Namespace, id.Suffix())
}

// Suffix is the namespace-independent part of the identifier.
func (id Identifier) Suffix() string {
	return fmt.Sprintf("%04d-%d", id.Year, id.Seq)
}

func (id Identifier) IsProvisional() bool {
	return id.Namespace == Provisional
}

// Block returns the shard block index holding the sequence number.
func (id Identifier) Block() int {
	return id.Seq / BlockSize
}

// Promote returns the confirmed form of a provisional identifier.
func (id Identifier) Promote() (Identifier, error) {
	if !id.IsProvisional() {
		return Identifier{}, xerrors.Errorf("%s: %w", id, ErrNotProvisional)
	}
	return NewIdentifier(Confirmed, id.Year, id.Seq), nil
}

// FileName is always derived from the confirmed form: a provisional record and its
// promoted successor live in the same file.
func (id Identifier) FileName() string {
	return NewIdentifier(Confirmed, id.Year, id.Seq).String() + ".json"
}

// RelPath returns the record location relative to the store root,
// e.g. 2021/1000xxx/CVEDB-2021-1000001.json.
func (id Identifier) RelPath() string {
	return filepath.Join(BlockDir(id.Year, id.Block()), id.FileName())
}

// BlockDir returns the directory of a shard block relative to the store root.
func BlockDir(year, block int) string {
	return filepath.Join(fmt.Sprintf("%04d", year), fmt.Sprintf("%dxxx", block))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
