package schemamap

import "crm-approvals/internal/platform"

// Role is a fixed semantic slot mapped to a physical field at runtime.
type Role string

const (
	RoleContributor        Role = "contributor"
	RoleObjective          Role = "objective"
	RoleHoursSelfReported  Role = "hours_self_reported"
	RoleHoursSystemTracked Role = "hours_system_tracked"
	RoleUnitsSelfReported  Role = "units_self_reported"
	RoleUnitsSystemTracked Role = "units_system_tracked"
	RoleTransactionDate    Role = "transaction_date"
	RolePayRate            Role = "pay_rate"
	RoleTotalPayment       Role = "total_payment"
	RoleStatus             Role = "status"
	RoleVariance           Role = "variance"
	RoleRejectionReason    Role = "rejection_reason"

	// Hierarchy roles are bound on the objective's ancestors.
	RoleProject Role = "project"
	RoleAccount Role = "account"
)

// DefaultCandidateObjects is the probe order for the target object.
var DefaultCandidateObjects = []string{
	"Approval_Record__c",
	"Approval__c",
	"Time_Approval__c",
	"Timesheet_Entry__c",
	"approval_records",
	"approvals",
}

var (
	numericTypes   = []string{platform.TypeDouble, platform.TypeInt, platform.TypeCurrency, platform.TypePercent}
	dateTypes      = []string{platform.TypeDate, platform.TypeDateTime}
	textTypes      = []string{platform.TypeString, platform.TypePicklist, platform.TypeTextArea}
	referenceTypes = []string{platform.TypeReference}
)

// RoleSpec describes how a role is found on an object.
type RoleSpec struct {
	Role  Role
	Types []string
	Rules []MatchRule
}

// Reference reports whether the role binds a lookup field.
func (s RoleSpec) Reference() bool {
	return len(s.Types) == 1 && s.Types[0] == platform.TypeReference
}

func (s RoleSpec) accepts(fieldType string) bool {
	if len(s.Types) == 0 {
		return true
	}
	for _, t := range s.Types {
		if t == fieldType {
			return true
		}
	}
	return false
}

// DefaultRoleSpecs returns the built-in fallback chains for target-object
// roles.
func DefaultRoleSpecs() []RoleSpec {
	return []RoleSpec{
		{Role: RoleContributor, Types: referenceTypes, Rules: []MatchRule{
			Exact("Contributor__c", "Contributor_Assignment__c", "Worker__c", "Contact__c", "ContactId", "contributor_id"),
			ContainsAll("contributor"),
			ContainsAll("worker"),
			ContainsAll("contact"),
		}},
		{Role: RoleObjective, Types: referenceTypes, Rules: []MatchRule{
			Exact("Objective__c", "Reviewable_Objective__c", "Task__c", "objective_id"),
			ContainsAll("objective"),
			ContainsAll("task"),
		}},
		{Role: RoleHoursSelfReported, Types: numericTypes, Rules: []MatchRule{
			Exact("Hours_Self_Reported__c", "Self_Reported_Hours__c", "Reported_Hours__c"),
			ContainsAll("self", "reported", "hour"),
			ContainsAll("reported", "hour").Excluding("system"),
		}},
		{Role: RoleHoursSystemTracked, Types: numericTypes, Rules: []MatchRule{
			Exact("Hours_System_Tracked__c", "System_Tracked_Hours__c", "Tracked_Hours__c"),
			ContainsAll("system", "hour").Excluding("self"),
			ContainsAll("tracked", "hour").Excluding("self"),
		}},
		{Role: RoleUnitsSelfReported, Types: numericTypes, Rules: []MatchRule{
			Exact("Units_Self_Reported__c", "Self_Reported_Units__c", "Reported_Units__c"),
			ContainsAll("self", "reported", "unit"),
			ContainsAll("reported", "unit").Excluding("system"),
		}},
		{Role: RoleUnitsSystemTracked, Types: numericTypes, Rules: []MatchRule{
			Exact("Units_System_Tracked__c", "System_Tracked_Units__c", "Tracked_Units__c"),
			ContainsAll("system", "unit").Excluding("self"),
			ContainsAll("tracked", "unit").Excluding("self"),
		}},
		{Role: RoleTransactionDate, Types: dateTypes, Rules: []MatchRule{
			Exact("Transaction_Date__c", "Date__c", "Work_Date__c"),
			ContainsAll("transaction", "date"),
			Pattern(`^(work|entry|activity)_?date`),
			ContainsAll("date").Excluding("created", "modified", "approved"),
		}},
		{Role: RolePayRate, Types: numericTypes, Rules: []MatchRule{
			Exact("Pay_Rate__c", "Hourly_Rate__c", "Rate__c"),
			ContainsAll("pay", "rate"),
			ContainsAll("rate").Excluding("tax", "exchange"),
		}},
		{Role: RoleTotalPayment, Types: numericTypes, Rules: []MatchRule{
			Exact("Total_Payment__c", "Payment_Amount__c", "Total_Pay__c"),
			ContainsAll("total", "payment"),
			ContainsAll("payment").Excluding("rate"),
			ContainsAll("total", "pay").Excluding("rate"),
		}},
		{Role: RoleStatus, Types: textTypes, Rules: []MatchRule{
			Exact("Status__c", "Approval_Status__c", "Review_Status__c"),
			ContainsAll("approval", "status"),
			ContainsAll("status"),
		}},
		{Role: RoleVariance, Types: numericTypes, Rules: []MatchRule{
			Exact("Variance__c", "Variance_Percent__c", "Hours_Variance__c"),
			ContainsAll("variance"),
		}},
		{Role: RoleRejectionReason, Types: textTypes, Rules: []MatchRule{
			Exact("Rejection_Reason__c", "Reject_Reason__c"),
			ContainsAll("rejection", "reason"),
			ContainsAll("reject", "comment"),
			ContainsAll("reason"),
		}},
	}
}

// contributorTargetRules find the person lookup on an intermediate
// assignment object.
var contributorTargetRules = []MatchRule{
	Exact("Contributor__c", "Contact__c", "ContactId", "User__c", "Worker__c", "contact_id", "contributor_id"),
	ContainsAll("contributor"),
	ContainsAll("contact"),
	ContainsAll("worker"),
	ContainsAll("user").Excluding("created", "modified", "owner"),
}

var projectRules = []MatchRule{
	Exact("Project__c", "ProjectId", "project_id"),
	ContainsAll("project"),
	ContainsAll("program"),
}

var accountRules = []MatchRule{
	Exact("Account__c", "AccountId", "account_id"),
	ContainsAll("account"),
	ContainsAll("client"),
	ContainsAll("customer"),
}
