// Package convert turns an intake payload into a stored record: the payload
// itself under the CVEDB namespace and its OSV rendition under the OSV namespace.
package convert

import (
	"fmt"
	"time"

	"golang.org/x/xerrors"
	"k8s.io/utils/clock"

	"github.com/cvedb/cvedb-tools/pkg/osv"
	"github.com/cvedb/cvedb-tools/pkg/types"
)

// Ecosystem is the OSV ecosystem of packages that no strategy overrides.
const Ecosystem = "CVEDB"

// Strategy converts the product-specific part of an entry. Strategies are tried in
// order and the first one whose Match returns true is applied.
type Strategy interface {
	Name() string
	Match(in types.Intake) bool
	// Apply finishes an entry that already carries the common fields and a single
	// affected package.
	Apply(entry *osv.Entry, in types.Intake) error
}

type Converter struct {
	clock      clock.Clock
	strategies []Strategy
	fallback   Strategy
}

type Option func(*Converter)

func WithClock(c clock.Clock) Option {
	return func(conv *Converter) {
		conv.clock = c
	}
}

// WithStrategies registers additional strategies ahead of the built-in ones.
func WithStrategies(s ...Strategy) Option {
	return func(conv *Converter) {
		conv.strategies = append(append([]Strategy{}, s...), conv.strategies...)
	}
}

func New(opts ...Option) Converter {
	conv := Converter{
		clock:      clock.RealClock{},
		strategies: []Strategy{KernelStrategy{}},
		fallback:   DefaultStrategy{},
	}
	for _, opt := range opts {
		opt(&conv)
	}
	return conv
}

// ToInterchange builds the OSV entry for the intake payload.
func (c Converter) ToInterchange(id types.Identifier, in types.Intake) (osv.Entry, error) {
	now := Timestamp(c.clock.Now())
	entry := osv.Entry{
		ID:        id.String(),
		Modified:  now,
		Published: now,
		Summary:   fmt.Sprintf("%s in %s version %s", in.VulnerabilityType, in.ProductName, in.ProductVersion),
		Details:   in.Description,
		Affected: []osv.Affected{
			{
				Package: osv.Package{
					Name:      in.ProductName,
					Ecosystem: Ecosystem,
				},
			},
		},
	}

	s := c.strategy(in)
	if err := s.Apply(&entry, in); err != nil {
		return osv.Entry{}, xerrors.Errorf("%s conversion error (%s): %w", s.Name(), id, err)
	}
	return entry, nil
}

// ToRecord wraps the intake payload and its OSV entry into one record.
func (c Converter) ToRecord(id types.Identifier, in types.Intake) (types.Record, error) {
	entry, err := c.ToInterchange(id, in)
	if err != nil {
		return types.Record{}, err
	}
	return types.Record{
		Intake: in,
		OSV:    entry,
	}, nil
}

func (c Converter) strategy(in types.Intake) Strategy {
	for _, s := range c.strategies {
		if s.Match(in) {
			return s
		}
	}
	return c.fallback
}

// TimestampLayout is RFC 3339 in UTC with exactly six fractional digits.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp formats t in TimestampLayout. Sub-microsecond precision is dropped.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
