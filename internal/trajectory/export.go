package trajectory

import (
	"encoding/json"
	"io"
)

// WriteJSONL writes one record per line and returns how many it wrote.
func WriteJSONL(w io.Writer, recs []Record) (int, error) {
	enc := json.NewEncoder(w)
	for i, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return i, err
		}
	}
	return len(recs), nil
}
