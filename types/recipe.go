package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recipe is a user's recipe with its tag and ingredient associations.
type Recipe struct {
	// ID is the creation-sequence identifier; higher means newer.
	ID int `json:"id" db:"id"`

	// UserID identifies the owner. Fixed at creation.
	UserID int `json:"-" db:"user_id"`

	// Title is the human-readable name of the recipe.
	Title string `json:"title" db:"title"`

	// TimeMinutes is the preparation time estimate in minutes.
	TimeMinutes int `json:"time_minutes" db:"time_minutes"`

	// Price is the estimated cost, two decimal places.
	Price decimal.Decimal `json:"price" db:"price"`

	// Description is free-form text. Optional.
	Description string `json:"description" db:"description"`

	// Link points to an external copy of the recipe. Optional.
	Link string `json:"link" db:"link"`

	// Image is the object storage key of the recipe's image, if any.
	Image string `json:"image,omitempty" db:"image"`

	Tags        []Attribute `json:"tags" db:"-"`
	Ingredients []Attribute `json:"ingredients" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Attributes returns the recipe's associations of the given kind.
func (r Recipe) Attributes(kind AttributeKind) []Attribute {
	if kind == KindIngredient {
		return r.Ingredients
	}
	return r.Tags
}

// SetAttributes replaces the recipe's associations of the given kind.
func (r *Recipe) SetAttributes(kind AttributeKind, attrs []Attribute) {
	if kind == KindIngredient {
		r.Ingredients = attrs
		return
	}
	r.Tags = attrs
}

// RecipeFilter narrows a recipe listing. A nil slice means the filter is
// absent; a recipe must match at least one id of every present filter.
type RecipeFilter struct {
	TagIDs        []int
	IngredientIDs []int
}

// RecipeInput carries user-supplied recipe fields. Nil pointers mean the
// field was not supplied. For Tags and Ingredients a non-nil pointer to an
// empty slice means "clear all".
type RecipeInput struct {
	Title       *string
	TimeMinutes *int
	Price       *decimal.Decimal
	Description *string
	Link        *string
	Tags        *[]string
	Ingredients *[]string
}

// AttributeNames returns the requested names of the given kind, or nil
// when the field was not supplied.
func (in RecipeInput) AttributeNames(kind AttributeKind) *[]string {
	if kind == KindIngredient {
		return in.Ingredients
	}
	return in.Tags
}
