package types

// AttributeKind names one family of user-owned recipe labels.
type AttributeKind string

const (
	KindTag        AttributeKind = "tag"
	KindIngredient AttributeKind = "ingredient"
)

// AttributeKinds lists every supported kind.
var AttributeKinds = []AttributeKind{KindTag, KindIngredient}

// Valid reports whether k is a known kind.
func (k AttributeKind) Valid() bool {
	return k == KindTag || k == KindIngredient
}

// Plural returns the collection name used in URLs and payloads.
func (k AttributeKind) Plural() string {
	return string(k) + "s"
}

// Attribute is a named label owned by one user and attached to any number
// of that user's recipes. Tags and ingredients share this shape; Kind tells
// them apart.
type Attribute struct {
	// ID is the unique identifier within the attribute's kind.
	ID int `json:"id" db:"id"`

	// UserID identifies the owner. (UserID, Name) is unique per kind.
	UserID int `json:"-" db:"user_id"`

	// Name is the label text.
	Name string `json:"name" db:"name"`

	// Kind is not persisted; it is implied by the table the row lives in.
	Kind AttributeKind `json:"-" db:"-"`
}

// AttributeListOptions narrows an attribute listing.
type AttributeListOptions struct {
	// AssignedOnly keeps only attributes linked to at least one recipe.
	AssignedOnly bool
}
