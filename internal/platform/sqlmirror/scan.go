package sqlmirror

import (
	"encoding/json"
	"strconv"
	"time"

	"crm-approvals/internal/dbexec"
	"crm-approvals/internal/platform"

	"github.com/google/uuid"
)

func newSessionID() string {
	return uuid.NewString()
}

// scanRecords reads rows into nested records shaped like platform query
// results: relationship columns land in a map under the relationship name,
// and a relationship whose columns are all NULL is stored as nil.
func scanRecords(rows dbexec.Rows, outputs []selected) ([]platform.Record, error) {
	records := []platform.Record{}
	for rows.Next() {
		values := make([]any, len(outputs))
		valuePtrs := make([]any, len(outputs))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		rec := platform.Record{}
		for i, out := range outputs {
			place(rec, out.path, convertValue(values[i], out.typ))
		}
		nullEmptyRelationships(rec)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func place(rec map[string]any, path []string, v any) {
	cur := rec
	for _, part := range path[:len(path)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[path[len(path)-1]] = v
}

func nullEmptyRelationships(rec map[string]any) bool {
	empty := true
	for key, v := range rec {
		switch val := v.(type) {
		case map[string]any:
			if nullEmptyRelationships(val) {
				rec[key] = nil
			} else {
				empty = false
			}
		case nil:
		default:
			empty = false
		}
	}
	return empty
}

// convertValue normalises driver values to the JSON-decoded shapes the
// REST backend produces.
func convertValue(v any, fieldType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return convertText(string(val), fieldType)
	case string:
		return convertText(val, fieldType)
	case time.Time:
		if fieldType == platform.TypeDate {
			return val.Format("2006-01-02")
		}
		return val.UTC().Format("2006-01-02T15:04:05.000Z")
	case int64:
		if fieldType == platform.TypeBoolean {
			return val != 0
		}
		return json.Number(strconv.FormatInt(val, 10))
	case float64:
		return json.Number(strconv.FormatFloat(val, 'f', -1, 64))
	case float32:
		return json.Number(strconv.FormatFloat(float64(val), 'f', -1, 32))
	}
	return v
}

func convertText(s, fieldType string) any {
	switch fieldType {
	case platform.TypeDouble, platform.TypeInt, platform.TypeCurrency, platform.TypePercent:
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return json.Number(s)
		}
	case platform.TypeBoolean:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	}
	return s
}
