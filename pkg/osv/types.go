// Package osv models the subset of the Open Source Vulnerability schema that is
// published in the OSV namespace of every record. Members outside that subset
// (severity, database_specific, credits, ...) are kept in Extra and written back.
// See https://ossf.github.io/osv-schema/
package osv

const (
	RangeTypeGit     = "GIT"
	ReferenceTypeWeb = "WEB"
)

type Entry struct {
	ID        string     `json:"id"`
	Modified  string     `json:"modified"`
	Published string     `json:"published"`
	Aliases   []string   `json:"aliases,omitempty"`
	Summary   string     `json:"summary"`
	Details   string     `json:"details"`
	Affected  []Affected `json:"affected,omitempty"`
	// References is written whenever it is non-nil, even when empty.
	References []Reference `json:"references,omitempty"`

	Extra Extra `json:"-"`
}

type Affected struct {
	Package  Package  `json:"package"`
	Ranges   []Range  `json:"ranges,omitempty"`
	Versions []string `json:"versions,omitempty"`

	Extra Extra `json:"-"`
}

type Package struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
	Purl      string `json:"purl,omitempty"`

	Extra Extra `json:"-"`
}

type Range struct {
	Type   string  `json:"type"`
	Repo   string  `json:"repo,omitempty"`
	Events []Event `json:"events"`

	Extra Extra `json:"-"`
}

// Event holds exactly one marker. The markers are pointers because an empty
// value such as {"limit": ""} is meaningful and must survive encoding.
type Event struct {
	Introduced   *string `json:"introduced,omitempty"`
	Fixed        *string `json:"fixed,omitempty"`
	LastAffected *string `json:"last_affected,omitempty"`
	Limit        *string `json:"limit,omitempty"`
}

type Reference struct {
	Type string `json:"type"`
	URL  string `json:"url"`

	Extra Extra `json:"-"`
}

type (
	entry     Entry
	affected  Affected
	pkg       Package
	rng       Range
	reference Reference
)

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.References == nil {
		return encode(entry(e), e.Extra)
	}
	return encode(struct {
		entry
		References []Reference `json:"references"`
	}{entry(e), e.References}, e.Extra)
}

func (e *Entry) UnmarshalJSON(b []byte) error {
	var v entry
	extra, err := decode(b, &v)
	if err != nil {
		return err
	}
	*e = Entry(v)
	e.Extra = extra
	return nil
}

func (a Affected) MarshalJSON() ([]byte, error) {
	return encode(affected(a), a.Extra)
}

func (a *Affected) UnmarshalJSON(b []byte) error {
	var v affected
	extra, err := decode(b, &v)
	if err != nil {
		return err
	}
	*a = Affected(v)
	a.Extra = extra
	return nil
}

func (p Package) MarshalJSON() ([]byte, error) {
	return encode(pkg(p), p.Extra)
}

func (p *Package) UnmarshalJSON(b []byte) error {
	var v pkg
	extra, err := decode(b, &v)
	if err != nil {
		return err
	}
	*p = Package(v)
	p.Extra = extra
	return nil
}

func (r Range) MarshalJSON() ([]byte, error) {
	return encode(rng(r), r.Extra)
}

func (r *Range) UnmarshalJSON(b []byte) error {
	var v rng
	extra, err := decode(b, &v)
	if err != nil {
		return err
	}
	*r = Range(v)
	r.Extra = extra
	return nil
}

func (r Reference) MarshalJSON() ([]byte, error) {
	return encode(reference(r), r.Extra)
}

func (r *Reference) UnmarshalJSON(b []byte) error {
	var v reference
	extra, err := decode(b, &v)
	if err != nil {
		return err
	}
	*r = Reference(v)
	r.Extra = extra
	return nil
}
