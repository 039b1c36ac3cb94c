package schema

import json "github.com/goccy/go-json"

// jsonUnmarshalInt is a small helper so Money's UnmarshalJSON can reuse the
// module-wide goccy/go-json codec without importing it into every schema file.
func jsonUnmarshalInt(data []byte, out *int64) error {
	return json.Unmarshal(data, out)
}
