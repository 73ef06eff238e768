package elexon

import (
	"bytes"
	"encoding/json"
	"fmt"

	"battery-tracker/pkg/timeseries"
)

// decodeRecords validates the response contract: an object with a "data"
// list of objects, or a bare list of objects when allowBareList is set.
// JSON syntax problems yield *DecodeError; contract violations yield
// *UpstreamFormatError.
func decodeRecords(url string, body []byte, allowBareList bool) ([]timeseries.RawRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, &DecodeError{URL: url, Err: err}
	}
	if dec.More() {
		return nil, &DecodeError{URL: url, Err: fmt.Errorf("trailing data after JSON value")}
	}

	var items []any
	switch v := payload.(type) {
	case map[string]any:
		data, ok := v["data"]
		if !ok {
			return nil, &UpstreamFormatError{URL: url, Reason: "missing data field"}
		}
		list, ok := data.([]any)
		if !ok {
			return nil, &UpstreamFormatError{URL: url, Reason: fmt.Sprintf("data field is %s, want list", kindOf(data))}
		}
		items = list
	case []any:
		if !allowBareList {
			return nil, &UpstreamFormatError{URL: url, Reason: "bare list payload"}
		}
		items = v
	default:
		return nil, &UpstreamFormatError{URL: url, Reason: fmt.Sprintf("payload is %s, want object", kindOf(payload))}
	}

	records := make([]timeseries.RawRecord, 0, len(items))
	for i, item := range items {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, &UpstreamFormatError{URL: url, Reason: fmt.Sprintf("data[%d] is %s, want object", i, kindOf(item))}
		}
		records = append(records, rec)
	}
	return records, nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}
