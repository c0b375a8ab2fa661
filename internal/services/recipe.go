package services

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/recipebook/apiserver/internal/logger"
	"github.com/recipebook/apiserver/internal/storage"
	"github.com/recipebook/apiserver/internal/store"
	"github.com/recipebook/apiserver/types"
	"github.com/shopspring/decimal"
)

const (
	maxTitleLength = 255
	maxLinkLength  = 255
	pricePlaces    = 2
)

// NUMERIC(5,2) holds at most three integer digits.
var maxPrice = decimal.NewFromInt(1000)

// RecipeRepository defines persistence operations for recipes. Reads and
// deletes are scoped by userID; writes go through Tx.
type RecipeRepository interface {
	List(ctx context.Context, userID int, filter types.RecipeFilter) ([]types.Recipe, error)
	Get(ctx context.Context, userID, id int) (types.Recipe, error)
	Delete(ctx context.Context, userID, id int) error
	Tx(ctx context.Context, fn func(w store.RecipeWriter) error) error
}

// RecipeService encapsulates recipe use-cases. Every call takes the
// requesting user's id; recipes of other users behave as missing.
type RecipeService struct {
	repo   RecipeRepository
	images ObjectStore
	events *EventPublisher
	log    *logger.Logger
}

func NewRecipeService(repo RecipeRepository, images ObjectStore, events *EventPublisher, log *logger.Logger) *RecipeService {
	return &RecipeService{
		repo:   repo,
		images: images,
		events: events,
		log:    log,
	}
}

func (s *RecipeService) List(ctx context.Context, userID int, filter types.RecipeFilter) ([]types.Recipe, error) {
	if err := requireOwner(userID); err != nil {
		return nil, s.fail(err)
	}
	recipes, err := s.repo.List(ctx, userID, filter)
	if err != nil {
		return nil, s.fail(err)
	}
	return recipes, nil
}

func (s *RecipeService) Get(ctx context.Context, userID, id int) (types.Recipe, error) {
	if err := requireOwner(userID); err != nil {
		return types.Recipe{}, s.fail(err)
	}
	recipe, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return types.Recipe{}, s.fail(err)
	}
	return recipe, nil
}

// Create stores a new recipe owned by userID together with the tags and
// ingredients named in the input.
func (s *RecipeService) Create(ctx context.Context, userID int, in types.RecipeInput) (types.Recipe, error) {
	if err := requireOwner(userID); err != nil {
		return types.Recipe{}, s.fail(err)
	}
	if err := requireRecipeFields(in); err != nil {
		return types.Recipe{}, err
	}
	in, err := normalizeInput(in)
	if err != nil {
		return types.Recipe{}, err
	}

	recipe := types.Recipe{UserID: userID}
	mergeInput(&recipe, in)

	var created types.Recipe
	err = s.repo.Tx(ctx, func(w store.RecipeWriter) error {
		inserted, err := w.Insert(ctx, recipe)
		if err != nil {
			return err
		}
		inserted.Tags = []types.Attribute{}
		inserted.Ingredients = []types.Attribute{}
		if err := s.reconcileAll(ctx, w, &inserted, in); err != nil {
			return err
		}
		created = inserted
		return nil
	})
	if err != nil {
		return types.Recipe{}, s.fail(err)
	}

	s.events.Publish(ctx, types.RecipeCreated, created)
	return created, nil
}

// Update applies the supplied fields to a recipe. Omitted fields, including
// tags and ingredients, are left untouched.
func (s *RecipeService) Update(ctx context.Context, userID, id int, in types.RecipeInput) (types.Recipe, error) {
	return s.update(ctx, userID, id, in)
}

// Replace overwrites a recipe. Title, time and price are required; an
// omitted description or link is cleared. Omitted tags and ingredients are
// left untouched.
func (s *RecipeService) Replace(ctx context.Context, userID, id int, in types.RecipeInput) (types.Recipe, error) {
	if err := requireRecipeFields(in); err != nil {
		return types.Recipe{}, err
	}
	if in.Description == nil {
		in.Description = new(string)
	}
	if in.Link == nil {
		in.Link = new(string)
	}
	return s.update(ctx, userID, id, in)
}

func (s *RecipeService) update(ctx context.Context, userID, id int, in types.RecipeInput) (types.Recipe, error) {
	if err := requireOwner(userID); err != nil {
		return types.Recipe{}, s.fail(err)
	}
	in, err := normalizeInput(in)
	if err != nil {
		return types.Recipe{}, err
	}

	var updated types.Recipe
	err = s.repo.Tx(ctx, func(w store.RecipeWriter) error {
		current, err := w.GetForUpdate(ctx, userID, id)
		if err != nil {
			return err
		}
		mergeInput(&current, in)
		saved, err := w.Update(ctx, current)
		if err != nil {
			return err
		}
		if err := s.reconcileAll(ctx, w, &saved, in); err != nil {
			return err
		}
		updated = saved
		return nil
	})
	if err != nil {
		return types.Recipe{}, s.fail(err)
	}

	s.events.Publish(ctx, types.RecipeUpdated, updated)
	return updated, nil
}

// Delete removes a recipe and its associations. Tags and ingredients stay.
func (s *RecipeService) Delete(ctx context.Context, userID, id int) error {
	if err := requireOwner(userID); err != nil {
		return s.fail(err)
	}
	recipe, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return s.fail(err)
	}
	if err := s.repo.Delete(ctx, userID, id); err != nil {
		return s.fail(err)
	}

	s.removeImage(ctx, recipe.Image)
	s.events.Publish(ctx, types.RecipeDeleted, recipe)
	return nil
}

// UploadImage validates data as an image, stores it and points the recipe
// at it. The previous image, if any, is removed once the recipe is saved.
func (s *RecipeService) UploadImage(ctx context.Context, userID, id int, data []byte) (types.Recipe, error) {
	if err := requireOwner(userID); err != nil {
		return types.Recipe{}, s.fail(err)
	}
	ext, contentType, err := DetectImage(data)
	if err != nil {
		return types.Recipe{}, err
	}
	if _, err := s.repo.Get(ctx, userID, id); err != nil {
		return types.Recipe{}, s.fail(err)
	}

	key := NewImageKey(ext)
	if err := s.images.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return types.Recipe{}, fmt.Errorf("store image: %w", err)
	}

	var (
		recipe   types.Recipe
		previous string
	)
	err = s.repo.Tx(ctx, func(w store.RecipeWriter) error {
		current, err := w.GetForUpdate(ctx, userID, id)
		if err != nil {
			return err
		}
		if err := w.SetImage(ctx, userID, id, key); err != nil {
			return err
		}
		previous = current.Image
		current.Image = key
		recipe = current
		return nil
	})
	if err != nil {
		s.removeImage(ctx, key)
		return types.Recipe{}, s.fail(err)
	}

	s.removeImage(ctx, previous)
	s.events.Publish(ctx, types.RecipeImageUploaded, recipe)
	return recipe, nil
}

// OpenImage returns a reader for the recipe's image and its content type.
// A recipe without an image, or whose object is gone, is not found.
func (s *RecipeService) OpenImage(ctx context.Context, userID, id int) (io.ReadCloser, string, error) {
	recipe, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, "", err
	}
	if recipe.Image == "" {
		return nil, "", ErrNotFound
	}
	rc, err := s.images.Get(ctx, recipe.Image)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("open image: %w", err)
	}
	return rc, imageContentType(recipe.Image), nil
}

func (s *RecipeService) reconcileAll(ctx context.Context, w store.RecipeWriter, recipe *types.Recipe, in types.RecipeInput) error {
	for _, kind := range types.AttributeKinds {
		names := in.AttributeNames(kind)
		if names == nil {
			continue
		}
		if err := s.reconcile(ctx, w, recipe, kind, *names); err != nil {
			return err
		}
	}
	return nil
}

// reconcile replaces the recipe's associations of kind with the named
// attributes, creating the ones the owner does not have yet.
func (s *RecipeService) reconcile(ctx context.Context, w store.RecipeWriter, recipe *types.Recipe, kind types.AttributeKind, names []string) error {
	known, err := w.FindAttributesByName(ctx, kind, recipe.UserID, names)
	if err != nil {
		return err
	}
	plan, err := PlanAssociations(recipe.UserID, kind, recipe.Attributes(kind), known, names)
	if err != nil {
		return err
	}

	resolved := make([]types.Attribute, 0, len(plan.Keep)+len(plan.Link)+len(plan.Create))
	resolved = append(resolved, plan.Keep...)
	resolved = append(resolved, plan.Link...)
	link := attributeIDs(plan.Link)
	for _, name := range plan.Create {
		attr, err := w.CreateAttribute(ctx, kind, recipe.UserID, name)
		if err != nil {
			return err
		}
		if attr.UserID != recipe.UserID {
			return preconditionf("created %s %d is owned by user %d, not %d", kind, attr.ID, attr.UserID, recipe.UserID)
		}
		resolved = append(resolved, attr)
		link = append(link, attr.ID)
	}

	if err := w.UnlinkAttributes(ctx, kind, recipe.ID, attributeIDs(plan.Drop)); err != nil {
		return err
	}
	if err := w.LinkAttributes(ctx, kind, recipe.ID, link); err != nil {
		return err
	}

	slices.SortFunc(resolved, func(a, b types.Attribute) int { return cmp.Compare(a.ID, b.ID) })
	recipe.SetAttributes(kind, resolved)
	return nil
}

func (s *RecipeService) removeImage(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("failed to delete recipe image")
	}
}

func (s *RecipeService) fail(err error) error {
	err = translate(err)
	if errors.Is(err, ErrPrecondition) {
		s.log.Error().Err(err).Msg("recipe invariant violated")
	}
	return err
}

func requireOwner(userID int) error {
	if userID < 1 {
		return preconditionf("invalid owner %d", userID)
	}
	return nil
}

func requireRecipeFields(in types.RecipeInput) error {
	switch {
	case in.Title == nil:
		return NewValidationError("title", "this field is required")
	case in.TimeMinutes == nil:
		return NewValidationError("time_minutes", "this field is required")
	case in.Price == nil:
		return NewValidationError("price", "this field is required")
	}
	return nil
}

// normalizeInput validates every supplied field and returns a copy with
// trimmed text and normalized attribute names.
func normalizeInput(in types.RecipeInput) (types.RecipeInput, error) {
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return in, NewValidationError("title", "this field may not be blank")
		}
		if utf8.RuneCountInString(title) > maxTitleLength {
			return in, NewValidationError("title", "must be at most 255 characters")
		}
		in.Title = &title
	}
	if in.TimeMinutes != nil {
		switch minutes := *in.TimeMinutes; {
		case minutes < 1:
			return in, NewValidationError("time_minutes", "must be a positive integer")
		case minutes > math.MaxInt32:
			return in, NewValidationError("time_minutes", fmt.Sprintf("must be at most %d", math.MaxInt32))
		}
	}
	if in.Price != nil {
		price := *in.Price
		switch {
		case price.IsNegative():
			return in, NewValidationError("price", "must not be negative")
		case !price.Equal(price.Round(pricePlaces)):
			return in, NewValidationError("price", "must have at most 2 decimal places")
		case price.GreaterThanOrEqual(maxPrice):
			return in, NewValidationError("price", "must have at most 5 digits")
		}
		price = price.Round(pricePlaces)
		in.Price = &price
	}
	if in.Link != nil {
		link := strings.TrimSpace(*in.Link)
		if utf8.RuneCountInString(link) > maxLinkLength {
			return in, NewValidationError("link", "must be at most 255 characters")
		}
		in.Link = &link
	}

	for _, kind := range types.AttributeKinds {
		names := in.AttributeNames(kind)
		if names == nil {
			continue
		}
		normalized, err := NormalizeNames(kind, *names)
		if err != nil {
			return in, err
		}
		if kind == types.KindIngredient {
			in.Ingredients = &normalized
		} else {
			in.Tags = &normalized
		}
	}
	return in, nil
}

func mergeInput(recipe *types.Recipe, in types.RecipeInput) {
	if in.Title != nil {
		recipe.Title = *in.Title
	}
	if in.TimeMinutes != nil {
		recipe.TimeMinutes = *in.TimeMinutes
	}
	if in.Price != nil {
		recipe.Price = *in.Price
	}
	if in.Description != nil {
		recipe.Description = *in.Description
	}
	if in.Link != nil {
		recipe.Link = *in.Link
	}
}
