package types_test

import (
	"encoding/json"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvedb/cvedb-tools/pkg/types"
)

func TestIntake_RoundTrip(t *testing.T) {
	// "cvss" is not a known field and must survive
	input := `{"vendor_name":"test vendor","product_name":"test product","product_version":"test version",` +
		`"vulnerability_type":"test type","impact":"test impact","references":["http://example.com"],` +
		`"reporter":"joshbressers","reporter_id":1692786,"description":"test description","cvss":"7.5"}`

	var in types.Intake
	require.NoError(t, json.Unmarshal([]byte(input), &in))
	assert.Equal(t, "test product", in.ProductName)
	assert.Equal(t, "joshbressers:1692786", in.ReporterIdentity())

	got, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, input, string(got))
}

func TestIntake_ReporterIdentity(t *testing.T) {
	assert.Equal(t, "someone", types.Intake{Reporter: "someone"}.ReporterIdentity())
	assert.Equal(t, "someone:42", types.Intake{Reporter: "someone", ReporterID: 42}.ReporterIdentity())
}

func TestRecord_JSON(t *testing.T) {
	input := `{
		"CVEDB": {"product_name": "foo", "references": []},
		"OSV": {"id": "CAN-2021-1000000", "modified": "2021-06-01T00:00:00Z", "published": "2021-06-01T00:00:00Z",
			"summary": "s", "details": "d"},
		"VENDOR": {"advisory": "VSA-1"}
	}`

	var rec types.Record
	require.NoError(t, json.Unmarshal([]byte(input), &rec))
	assert.Equal(t, "CAN-2021-1000000", rec.OSV.ID)
	assert.Equal(t, "foo", rec.Intake.ProductName)
	assert.Equal(t, []string{"CVEDB", "OSV", "VENDOR"}, rec.Namespaces())

	rec.OSV.ID = "CVEDB-2021-1000000"
	got, err := json.Marshal(rec)
	require.NoError(t, err)

	var namespaces map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(got, &namespaces))
	assert.Len(t, namespaces, 3)
	assert.JSONEq(t, `{"advisory": "VSA-1"}`, string(namespaces["VENDOR"]))
	assert.JSONEq(t, `{"product_name": "foo", "references": []}`, string(namespaces["CVEDB"]))
	assert.Contains(t, string(namespaces["OSV"]), `"id":"CVEDB-2021-1000000"`)
}

func TestRecord_UnmarshalError(t *testing.T) {
	var rec types.Record
	err := json.Unmarshal([]byte(`{"OSV": "not an object"}`), &rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OSV namespace")
}

func TestColorizeID(t *testing.T) {
	noColor := color.NoColor
	t.Cleanup(func() { color.NoColor = noColor })

	id := types.NewIdentifier(types.Provisional, 2021, 1000000)

	color.NoColor = true
	assert.Equal(t, "CAN-2021-1000000", types.ColorizeID(id))

	color.NoColor = false
	assert.Contains(t, types.ColorizeID(id), "CAN-2021-1000000")
	assert.NotEqual(t, types.ColorizeID(id),
		types.ColorizeID(types.NewIdentifier(types.Confirmed, 2021, 1000000)))
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "joshbressers:1692786", types.Identity("joshbressers", 1692786))
}
