// Package approval turns nested platform rows into flat approval records.
package approval

import (
	"strings"

	"crm-approvals/internal/naming"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
)

// Record is one flattened approval row.
type Record struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	ContributorID      string  `json:"contributorId"`
	ContributorName    string  `json:"contributorName"`
	ContributorEmail   string  `json:"contributorEmail"`
	ObjectiveID        string  `json:"objectiveId"`
	ObjectiveName      string  `json:"objectiveName"`
	ProjectName        string  `json:"projectName"`
	AccountName        string  `json:"accountName"`
	HoursSelfReported  float64 `json:"hoursSelfReported"`
	HoursSystemTracked float64 `json:"hoursSystemTracked"`
	UnitsSelfReported  float64 `json:"unitsSelfReported"`
	UnitsSystemTracked float64 `json:"unitsSystemTracked"`
	PayRate            float64 `json:"payRate"`
	TotalPayment       float64 `json:"totalPayment"`
	VariancePercent    float64 `json:"variancePercent"`
	TransactionDate    string  `json:"transactionDate"`
	Status             string  `json:"status"`
	RejectionReason    string  `json:"rejectionReason,omitempty"`
}

// Variance returns the percentage by which self-reported exceeds
// system-tracked. With nothing tracked any reported amount counts as fully
// unverified (100).
func Variance(selfReported, systemTracked float64) float64 {
	switch {
	case systemTracked > 0:
		return (selfReported - systemTracked) / systemTracked * 100
	case selfReported > 0:
		return 100
	}
	return 0
}

// Flattener projects rows using a SchemaMap.
type Flattener struct {
	namer *naming.Namer
}

// NewFlattener returns a flattener deriving fallback relationship names
// with namer. A nil namer uses naming.Default.
func NewFlattener(namer *naming.Namer) *Flattener {
	if namer == nil {
		namer = naming.Default()
	}
	return &Flattener{namer: namer}
}

var defaultFlattener = NewFlattener(nil)

// Flatten projects row with the default flattener.
func Flatten(row platform.Record, schema *schemamap.SchemaMap) Record {
	return defaultFlattener.Flatten(row, schema)
}

// FlattenAll projects every row.
func (f *Flattener) FlattenAll(rows []platform.Record, schema *schemamap.SchemaMap) []Record {
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i] = f.Flatten(row, schema)
	}
	return out
}

// Flatten projects row. Missing values become "" or 0; names fall back to
// the raw lookup id when no related record can be found.
func (f *Flattener) Flatten(row platform.Record, schema *schemamap.SchemaMap) Record {
	rec := Record{ID: row.ID()}
	if schema == nil {
		return rec
	}
	rec.Name = str(row, schema.NameField)

	rec.HoursSelfReported = num(row, schema.Field(schemamap.RoleHoursSelfReported))
	rec.HoursSystemTracked = num(row, schema.Field(schemamap.RoleHoursSystemTracked))
	rec.UnitsSelfReported = num(row, schema.Field(schemamap.RoleUnitsSelfReported))
	rec.UnitsSystemTracked = num(row, schema.Field(schemamap.RoleUnitsSystemTracked))
	rec.PayRate = num(row, schema.Field(schemamap.RolePayRate))
	rec.TotalPayment = num(row, schema.Field(schemamap.RoleTotalPayment))
	rec.TransactionDate = str(row, schema.Field(schemamap.RoleTransactionDate))
	rec.Status = str(row, schema.Field(schemamap.RoleStatus))
	rec.RejectionReason = str(row, schema.Field(schemamap.RoleRejectionReason))

	if v, ok := lookupFloat(row, schema.Field(schemamap.RoleVariance)); ok {
		rec.VariancePercent = v
	} else {
		rec.VariancePercent = Variance(rec.HoursSelfReported, rec.HoursSystemTracked)
	}

	contributor := schema.Binding(schemamap.RoleContributor)
	rec.ContributorID = str(row, contributor.Field)
	if rel, ok := f.resolve(row, contributor, true); ok {
		rec.ContributorName = rel.Name
		rec.ContributorEmail = rel.Email
	}
	if rec.ContributorName == "" {
		rec.ContributorName = rec.ContributorID
	}

	objective := schema.Binding(schemamap.RoleObjective)
	rec.ObjectiveID = str(row, objective.Field)
	if rel, ok := f.resolve(row, objective, false); ok {
		rec.ObjectiveName = rel.Name
	}
	if rec.ObjectiveName == "" {
		rec.ObjectiveName = rec.ObjectiveID
	}

	if rel, ok := f.resolve(row, schema.Binding(schemamap.RoleProject), false); ok {
		rec.ProjectName = rel.Name
	}
	if rel, ok := f.resolve(row, schema.Binding(schemamap.RoleAccount), false); ok {
		rec.AccountName = rel.Name
	}
	return rec
}

func (f *Flattener) resolve(row platform.Record, b schemamap.FieldBinding, scan bool) (Related, bool) {
	if !b.Bound() {
		return Related{}, false
	}
	if rel, ok := Resolve(row, f.Candidates(b)); ok {
		return rel, true
	}
	if scan {
		return ScanNameEmail(row, b.NameField, maxScanDepth)
	}
	return Related{}, false
}

func str(row platform.Record, path string) string {
	if path == "" {
		return ""
	}
	v, _ := row.Lookup(path)
	return strings.TrimSpace(platform.AsString(v))
}

func num(row platform.Record, path string) float64 {
	v, _ := lookupFloat(row, path)
	return v
}

func lookupFloat(row platform.Record, path string) (float64, bool) {
	if path == "" {
		return 0, false
	}
	v, ok := row.Lookup(path)
	if !ok || v == nil {
		return 0, false
	}
	return platform.AsFloat(v)
}
