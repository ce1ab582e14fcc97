package gateway

// Paths builds document paths scoped to one company.
type Paths struct {
	CompanyID string
}

func (p Paths) company() string {
	return Join("companies", p.CompanyID)
}

// Contacts is the contacts collection.
func (p Paths) Contacts() string {
	return Join(p.company(), "contacts")
}

// Contact is a single contact document.
func (p Paths) Contact(contactID string) string {
	return Join(p.Contacts(), contactID)
}

// Messages is the message collection of one conversation.
func (p Paths) Messages(contactID string) string {
	return Join(p.Contact(contactID), "messages")
}

// PrivateNotes is the private-note collection of one conversation.
func (p Paths) PrivateNotes(contactID string) string {
	return Join(p.Contact(contactID), "privateNotes")
}

// Employees is the employees collection.
func (p Paths) Employees() string {
	return Join(p.company(), "employees")
}

// Employee is a single employee document.
func (p Paths) Employee(employeeID string) string {
	return Join(p.Employees(), employeeID)
}
