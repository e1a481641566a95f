package domain

// ContactKind discriminates the two contact variants owned by the contact
// subsystem.
type ContactKind string

const (
	ContactKindPerson ContactKind = "person"
	ContactKindChurch ContactKind = "church"
)

// Valid reports whether k names a known contact kind.
func (k ContactKind) Valid() bool {
	return k == ContactKindPerson || k == ContactKindChurch
}

// ContactRef is an opaque reference to a contact owned by an external
// subsystem. The core reads the capability set below and never mutates
// contact fields.
type ContactRef interface {
	ContactID() string
	Kind() ContactKind
	DisplayName() string
	OfficeID() string
}

// PersonRef references an individual contact.
type PersonRef struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Office    string `json:"office_id"`
}

func (p PersonRef) ContactID() string { return p.ID }

func (p PersonRef) Kind() ContactKind { return ContactKindPerson }

func (p PersonRef) DisplayName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

func (p PersonRef) OfficeID() string { return p.Office }

// ChurchRef references an organization contact.
type ChurchRef struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Office string `json:"office_id"`
}

func (c ChurchRef) ContactID() string { return c.ID }

func (c ChurchRef) Kind() ContactKind { return ContactKindChurch }

func (c ChurchRef) DisplayName() string { return c.Name }

func (c ChurchRef) OfficeID() string { return c.Office }
