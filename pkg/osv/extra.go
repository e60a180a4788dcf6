package osv

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/cvedb/cvedb-tools/pkg/set"
	"github.com/cvedb/cvedb-tools/pkg/utils"
)

// Extra holds the members of an object that have no field in its type. They are
// written after the modelled members, sorted by name, and must not repeat one.
type Extra map[string]json.RawMessage

// decode unmarshals b into v, a pointer to a struct without JSON methods, and
// returns the members v has no field for.
func decode(b []byte, v any) (Extra, error) {
	if err := json.Unmarshal(b, v); err != nil {
		return nil, err
	}
	var members map[string]json.RawMessage
	if err := json.Unmarshal(b, &members); err != nil {
		return nil, err
	}

	known := fieldNames(reflect.TypeOf(v).Elem())
	var extra Extra
	for name, m := range members {
		// encoding/json matches field names case-insensitively
		if known.Contains(strings.ToLower(name)) {
			continue
		}
		if extra == nil {
			extra = Extra{}
		}
		extra[name] = m
	}
	return extra, nil
}

// encode marshals v, which must encode as a JSON object, and appends extra.
func encode(v any, extra Extra) ([]byte, error) {
	b, err := utils.MarshalJSON(v)
	if err != nil || len(extra) == 0 {
		return b, err
	}

	buf := bytes.NewBuffer(bytes.TrimSuffix(b, []byte("}")))
	names := lo.Keys(extra)
	slices.Sort(names)
	for _, name := range names {
		key, err := utils.MarshalJSON(name)
		if err != nil {
			return nil, err
		}
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		buf.Write(key)
		buf.WriteByte(':')
		if m := extra[name]; len(m) > 0 {
			buf.Write(m)
		} else {
			buf.WriteString("null")
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func fieldNames(t reflect.Type) set.Set[string] {
	names := set.New[string]()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || !f.IsExported() {
			continue
		} else if name == "" {
			name = f.Name
		}
		names.Append(strings.ToLower(name))
	}
	return names
}
