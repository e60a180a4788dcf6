package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/cvedb/cvedb-tools/pkg/osv"
	"github.com/cvedb/cvedb-tools/pkg/utils"
)

const (
	// IntakeNamespace holds the submitted payload as-is.
	IntakeNamespace = "CVEDB"
	// InterchangeNamespace holds the converted OSV entry.
	InterchangeNamespace = "OSV"
)

var NamespaceColor = map[Namespace]func(a ...interface{}) string{
	Provisional: color.New(color.FgYellow).SprintFunc(),
	Confirmed:   color.New(color.FgGreen).SprintFunc(),
}

// ColorizeID renders an identifier for terminal output.
func ColorizeID(id Identifier) string {
	if f, ok := NamespaceColor[id.Namespace]; ok {
		return f(id.String())
	}
	return id.String()
}

// Intake is a vulnerability submission as filed by a reporter.
type Intake struct {
	VendorName         string              `json:"vendor_name"`
	ProductName        string              `json:"product_name"`
	ProductVersion     string              `json:"product_version"`
	VulnerabilityType  string              `json:"vulnerability_type"`
	AffectedComponent  string              `json:"affected_component,omitempty"`
	AttackVector       string              `json:"attack_vector,omitempty"`
	Impact             string              `json:"impact"`
	Credit             string              `json:"credit,omitempty"`
	References         []string            `json:"references"`
	ExtendedReferences []ExtendedReference `json:"extended_references,omitempty"`
	Reporter           string              `json:"reporter"`
	ReporterID         int64               `json:"reporter_id,omitempty"`
	Notes              string              `json:"notes,omitempty"`
	Description        string              `json:"description"`

	// raw is the payload as submitted. It is what gets stored.
	raw json.RawMessage
}

type ExtendedReference struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Note  string `json:"note,omitempty"`
}

type intakeFields Intake

func (in *Intake) UnmarshalJSON(b []byte) error {
	var f intakeFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*in = Intake(f)
	in.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (in Intake) MarshalJSON() ([]byte, error) {
	if len(in.raw) > 0 {
		return in.raw, nil
	}
	return utils.MarshalJSON(intakeFields(in))
}

// Identity renders an account as an allow-list entry.
func Identity(name string, id int64) string {
	return fmt.Sprintf("%s:%d", name, id)
}

// ReporterIdentity returns the reporter as a "name:id" allow-list entry.
func (in Intake) ReporterIdentity() string {
	if in.ReporterID == 0 {
		return in.Reporter
	}
	return Identity(in.Reporter, in.ReporterID)
}

// Record is the stored document: one JSON object keyed by namespace.
// Namespaces this package does not know about are kept in Extra and written back untouched.
type Record struct {
	Intake Intake
	OSV    osv.Entry
	Extra  map[string]json.RawMessage
}

func (r Record) MarshalJSON() ([]byte, error) {
	namespaces := map[string]json.RawMessage{}
	for k, v := range r.Extra {
		namespaces[k] = v
	}

	intake, err := utils.MarshalJSON(r.Intake)
	if err != nil {
		return nil, err
	}
	namespaces[IntakeNamespace] = intake

	entry, err := utils.MarshalJSON(r.OSV)
	if err != nil {
		return nil, err
	}
	namespaces[InterchangeNamespace] = entry

	// map keys are emitted in sorted order
	return utils.MarshalJSON(namespaces)
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var namespaces map[string]json.RawMessage
	if err := json.Unmarshal(b, &namespaces); err != nil {
		return err
	}

	var rec Record
	for k, v := range namespaces {
		switch k {
		case IntakeNamespace:
			if err := json.Unmarshal(v, &rec.Intake); err != nil {
				return fmt.Errorf("%s namespace: %w", k, err)
			}
		case InterchangeNamespace:
			if err := json.Unmarshal(v, &rec.OSV); err != nil {
				return fmt.Errorf("%s namespace: %w", k, err)
			}
		default:
			if rec.Extra == nil {
				rec.Extra = map[string]json.RawMessage{}
			}
			rec.Extra[k] = v
		}
	}
	*r = rec
	return nil
}

// Namespaces returns the namespace keys of the record in sorted order.
func (r Record) Namespaces() []string {
	keys := []string{IntakeNamespace, InterchangeNamespace}
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summary is a one-line description used by the CLI.
func (r Record) Summary() string {
	return strings.SplitN(r.OSV.Summary, "\n", 2)[0]
}
