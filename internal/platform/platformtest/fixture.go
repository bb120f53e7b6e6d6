package platformtest

import (
	"fmt"

	"crm-approvals/internal/platform"
)

// Object names of the approval org fixture.
const (
	ApprovalObject   = "Approval_Record__c"
	AssignmentObject = "Contributor_Assignment__c"
	ContactObject    = "Contact"
	ObjectiveObject  = "Objective__c"
	ProjectObject    = "Project__c"
	AccountObject    = "Account"
)

func ref(name, label, target, relationship string) platform.Field {
	return platform.Field{Name: name, Label: label, Type: platform.TypeReference, ReferenceTo: []string{target}, RelationshipName: relationship}
}

func scalar(name, label, typ string) platform.Field {
	return platform.Field{Name: name, Label: label, Type: typ}
}

func nameField() platform.Field {
	return platform.Field{Name: "Name", Label: "Name", Type: platform.TypeString, NameField: true}
}

func idField() platform.Field {
	return platform.Field{Name: "Id", Label: "Record ID", Type: platform.TypeID}
}

// ApprovalDescribe is the target object of the fixture. The contributor
// lookup goes through an assignment object.
func ApprovalDescribe() platform.ObjectDescribe {
	return platform.ObjectDescribe{Name: ApprovalObject, Label: "Approval Record", Fields: []platform.Field{
		idField(),
		nameField(),
		ref("Contributor_Assignment__c", "Contributor Assignment", AssignmentObject, "Contributor_Assignment__r"),
		ref("Objective__c", "Objective", ObjectiveObject, "Objective__r"),
		scalar("Hours_Self_Reported__c", "Hours (Self Reported)", platform.TypeDouble),
		scalar("Hours_System_Tracked__c", "Hours (System Tracked)", platform.TypeDouble),
		scalar("Units_Self_Reported__c", "Units (Self Reported)", platform.TypeDouble),
		scalar("Units_System_Tracked__c", "Units (System Tracked)", platform.TypeDouble),
		scalar("Transaction_Date__c", "Transaction Date", platform.TypeDate),
		scalar("Pay_Rate__c", "Pay Rate", platform.TypeCurrency),
		scalar("Total_Payment__c", "Total Payment", platform.TypeCurrency),
		scalar("Status__c", "Status", platform.TypePicklist),
		scalar("Rejection_Reason__c", "Rejection Reason", platform.TypeTextArea),
		scalar("CreatedDate", "Created Date", platform.TypeDateTime),
	}}
}

// NewApprovalOrg returns a platform with the fixture objects described and
// no records.
func NewApprovalOrg() *Platform {
	p := New()
	p.AddObject(ApprovalDescribe())
	p.AddObject(platform.ObjectDescribe{Name: AssignmentObject, Label: "Contributor Assignment", Fields: []platform.Field{
		idField(), nameField(),
		ref("Contact__c", "Contact", ContactObject, "Contact__r"),
	}})
	p.AddObject(platform.ObjectDescribe{Name: ContactObject, Label: "Contact", Fields: []platform.Field{
		idField(), nameField(),
		scalar("Email", "Email", platform.TypeEmail),
	}})
	p.AddObject(platform.ObjectDescribe{Name: ObjectiveObject, Label: "Objective", Fields: []platform.Field{
		idField(), nameField(),
		ref("Project__c", "Project", ProjectObject, "Project__r"),
	}})
	p.AddObject(platform.ObjectDescribe{Name: ProjectObject, Label: "Project", Fields: []platform.Field{
		idField(), nameField(),
		ref("Account__c", "Account", AccountObject, "Account__r"),
	}})
	p.AddObject(platform.ObjectDescribe{Name: AccountObject, Label: "Account", Fields: []platform.Field{
		idField(), nameField(),
	}})
	return p
}

// AddAccount stores an Account.
func (p *Platform) AddAccount(id, name string) {
	p.Insert(AccountObject, platform.Record{"Id": id, "Name": name})
}

// AddProject stores a project under accountID.
func (p *Platform) AddProject(id, name, accountID string) {
	p.Insert(ProjectObject, platform.Record{"Id": id, "Name": name, "Account__c": accountID})
}

// AddObjective stores an objective under projectID.
func (p *Platform) AddObjective(id, name, projectID string) {
	p.Insert(ObjectiveObject, platform.Record{"Id": id, "Name": name, "Project__c": projectID})
}

// AddContributor stores a contact and an assignment pointing at it.
func (p *Platform) AddContributor(assignmentID, contactID, name, email string) {
	p.Insert(ContactObject, platform.Record{"Id": contactID, "Name": name, "Email": email})
	p.Insert(AssignmentObject, platform.Record{"Id": assignmentID, "Name": "CA-" + contactID, "Contact__c": contactID})
}

// Approval describes one approval record to store.
type Approval struct {
	ID           string
	AssignmentID string
	ObjectiveID  string
	Hours        float64
	Tracked      float64
	Units        float64
	UnitsTracked float64
	Date         string
	PayRate      float64
	Payment      float64
	Status       string
}

// AddApproval stores an approval with relationship maps built from the
// stored lookup targets, the way the platform returns them.
func (p *Platform) AddApproval(a Approval) {
	rec := platform.Record{
		"Id":                      a.ID,
		"Name":                    "AR-" + a.ID,
		"Hours_Self_Reported__c":  a.Hours,
		"Hours_System_Tracked__c": a.Tracked,
		"Units_Self_Reported__c":  a.Units,
		"Units_System_Tracked__c": a.UnitsTracked,
		"Pay_Rate__c":             a.PayRate,
		"Total_Payment__c":        a.Payment,
		"Status__c":               a.Status,
		"Transaction_Date__c":     nil,
	}
	if a.Date != "" {
		rec["Transaction_Date__c"] = a.Date
	}
	if a.AssignmentID != "" {
		rec["Contributor_Assignment__c"] = a.AssignmentID
		if assignment := p.find(AssignmentObject, a.AssignmentID); assignment != nil {
			nested := map[string]any{"Name": assignment["Name"], "Contact__c": assignment["Contact__c"]}
			if contact := p.find(ContactObject, platform.AsString(assignment["Contact__c"])); contact != nil {
				nested["Contact__r"] = map[string]any{"Name": contact["Name"], "Email": contact["Email"]}
			}
			rec["Contributor_Assignment__r"] = nested
		}
	}
	if a.ObjectiveID != "" {
		rec["Objective__c"] = a.ObjectiveID
		if objective := p.find(ObjectiveObject, a.ObjectiveID); objective != nil {
			nested := map[string]any{"Name": objective["Name"], "Project__c": objective["Project__c"]}
			if project := p.find(ProjectObject, platform.AsString(objective["Project__c"])); project != nil {
				projectMap := map[string]any{"Name": project["Name"], "Account__c": project["Account__c"]}
				if account := p.find(AccountObject, platform.AsString(project["Account__c"])); account != nil {
					projectMap["Account__r"] = map[string]any{"Name": account["Name"]}
				}
				nested["Project__r"] = projectMap
			}
			rec["Objective__r"] = nested
		}
	}
	p.Insert(ApprovalObject, rec)
}

func (p *Platform) find(objectName, id string) platform.Record {
	if id == "" {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	obj, ok := p.objects[lower(objectName)]
	if !ok {
		return nil
	}
	for _, rec := range obj.records {
		if rec.ID() == id {
			return rec
		}
	}
	return nil
}

// SeedApprovals stores n approvals spread over one account, one project,
// ten objectives and five contributors. Ids sort in insertion order and
// every third record is Approved, the rest Pending.
func (p *Platform) SeedApprovals(n int) {
	p.AddAccount("001A", "Acme")
	p.AddProject("a0P1", "Apollo", "001A")
	for i := 0; i < 10; i++ {
		p.AddObjective(fmt.Sprintf("a0O%02d", i), fmt.Sprintf("Objective %d", i), "a0P1")
	}
	for i := 0; i < 5; i++ {
		p.AddContributor(fmt.Sprintf("a0C%02d", i), fmt.Sprintf("003%02d", i), fmt.Sprintf("Person %d", i), fmt.Sprintf("person%d@example.com", i))
	}
	for i := 0; i < n; i++ {
		status := "Pending"
		if i%3 == 0 {
			status = "Approved"
		}
		p.AddApproval(Approval{
			ID:           fmt.Sprintf("a0R%06d", i),
			AssignmentID: fmt.Sprintf("a0C%02d", i%5),
			ObjectiveID:  fmt.Sprintf("a0O%02d", i%10),
			Hours:        float64(i%8 + 1),
			Tracked:      float64(i%4 + 1),
			Units:        float64(i % 3),
			UnitsTracked: float64(i % 2),
			Date:         fmt.Sprintf("2024-%02d-%02d", i%12+1, i%28+1),
			PayRate:      25,
			Payment:      float64(i%8+1) * 25,
			Status:       status,
		})
	}
}
