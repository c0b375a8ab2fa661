package types

import "time"

// RecipeEventType names a recipe lifecycle transition.
type RecipeEventType string

const (
	RecipeCreated       RecipeEventType = "recipe.created"
	RecipeUpdated       RecipeEventType = "recipe.updated"
	RecipeDeleted       RecipeEventType = "recipe.deleted"
	RecipeImageUploaded RecipeEventType = "recipe.image_uploaded"
)

// RecipeEvent is published after a recipe change commits.
type RecipeEvent struct {
	Type     RecipeEventType `json:"type"`
	RecipeID int             `json:"recipe_id"`
	UserID   int             `json:"user_id"`
	At       time.Time       `json:"at"`
}
