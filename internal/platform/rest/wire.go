package rest

import (
	"fmt"
	"strings"

	"crm-approvals/internal/platform"
)

// normalizeDescribe lowercases field types; the API reports them in
// lowercase already but mirrors and older versions do not.
func normalizeDescribe(d *platform.ObjectDescribe) *platform.ObjectDescribe {
	for i := range d.Fields {
		d.Fields[i].Type = strings.ToLower(d.Fields[i].Type)
	}
	return d
}

type errorItem struct {
	Message   string   `json:"message"`
	ErrorCode string   `json:"errorCode"`
	Fields    []string `json:"fields,omitempty"`
}

type compositeRequest struct {
	AllOrNone bool             `json:"allOrNone"`
	Records   []map[string]any `json:"records"`
}

type compositeError struct {
	StatusCode string   `json:"statusCode"`
	Message    string   `json:"message"`
	Fields     []string `json:"fields,omitempty"`
}

type compositeResult struct {
	ID      string           `json:"id"`
	Success bool             `json:"success"`
	Errors  []compositeError `json:"errors"`
}

func (r compositeResult) toSaveResult(id string) platform.SaveResult {
	out := platform.SaveResult{ID: r.ID, Success: r.Success}
	if out.ID == "" {
		out.ID = id
	}
	for _, e := range r.Errors {
		msg := e.StatusCode + ": " + e.Message
		if len(e.Fields) > 0 {
			msg = fmt.Sprintf("%s (%s)", msg, strings.Join(e.Fields, ", "))
		}
		out.Errors = append(out.Errors, msg)
	}
	return out
}

func compositeBody(object string, updates []platform.RecordUpdate) compositeRequest {
	req := compositeRequest{Records: make([]map[string]any, 0, len(updates))}
	for _, u := range updates {
		rec := make(map[string]any, len(u.Fields)+2)
		for k, v := range u.Fields {
			rec[k] = v
		}
		rec["attributes"] = map[string]string{"type": object}
		rec["id"] = u.ID
		req.Records = append(req.Records, rec)
	}
	return req
}
