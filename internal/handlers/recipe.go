package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/recipebook/apiserver/internal/logger"
	"github.com/recipebook/apiserver/internal/services"
	"github.com/recipebook/apiserver/types"
	"github.com/shopspring/decimal"
)

const (
	formFieldImage     = "image"
	maxMultipartMemory = 1 << 20
	// Room for the multipart envelope around a maximal image.
	maxUploadBodyBytes = services.MaxImageBytes + 1<<20
)

// RecipeHandler provides HTTP handlers for recipes.
type RecipeHandler struct {
	recipeService *services.RecipeService
	validator     *requestValidator
}

// NewRecipeHandler constructs a handler with the provided service.
func NewRecipeHandler(recipeService *services.RecipeService) *RecipeHandler {
	return &RecipeHandler{
		recipeService: recipeService,
		validator:     newRequestValidator(),
	}
}

// RecipeRouter registers recipe routes on the given router. Every route
// requires authentication.
func RecipeRouter(r chi.Router, handler *RecipeHandler) {
	r.Get("/", handler.ListRecipes)
	r.Post("/", handler.CreateRecipe)
	r.Route("/{recipeID}", func(r chi.Router) {
		r.Get("/", handler.GetRecipe)
		r.Patch("/", handler.UpdateRecipe)
		r.Put("/", handler.ReplaceRecipe)
		r.Delete("/", handler.DeleteRecipe)
		r.Post("/upload-image", handler.UploadImage)
		r.Get("/image", handler.GetImage)
	})
}

func (h *RecipeHandler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter, err := services.ParseRecipeFilter(query.Get("tags"), query.Get("ingredients"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	recipes, err := h.recipeService.List(r.Context(), userID, filter)
	if err != nil {
		respondError(w, r, err)
		return
	}

	items := make([]RecipeSummary, len(recipes))
	for i, recipe := range recipes {
		items[i] = newRecipeSummary(recipe)
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *RecipeHandler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "recipeID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	recipe, err := h.recipeService.Get(r.Context(), userID, id)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newRecipeDetail(recipe))
}

func (h *RecipeHandler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	in, ok := h.decodeRecipe(w, r)
	if !ok {
		return
	}

	recipe, err := h.recipeService.Create(r.Context(), userID, in)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, newRecipeDetail(recipe))
}

func (h *RecipeHandler) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	h.writeRecipe(w, r, h.recipeService.Update)
}

func (h *RecipeHandler) ReplaceRecipe(w http.ResponseWriter, r *http.Request) {
	h.writeRecipe(w, r, h.recipeService.Replace)
}

type recipeWriteFunc func(ctx context.Context, userID, id int, in types.RecipeInput) (types.Recipe, error)

func (h *RecipeHandler) writeRecipe(w http.ResponseWriter, r *http.Request, write recipeWriteFunc) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "recipeID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	in, ok := h.decodeRecipe(w, r)
	if !ok {
		return
	}

	recipe, err := write(r.Context(), userID, id, in)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newRecipeDetail(recipe))
}

func (h *RecipeHandler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "recipeID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	if err := h.recipeService.Delete(r.Context(), userID, id); err != nil {
		respondError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UploadImage accepts a multipart form with the image in the "image" field.
func (h *RecipeHandler) UploadImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "recipeID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	data, err := readImageForm(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	recipe, err := h.recipeService.UploadImage(r.Context(), userID, id, data)
	if err != nil {
		respondError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ImageResponse{ID: recipe.ID, Image: imageURL(recipe)})
}

// GetImage streams the stored image of a recipe.
func (h *RecipeHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "recipeID")
	if err != nil {
		respondError(w, r, err)
		return
	}

	rc, contentType, err := h.recipeService.OpenImage(r.Context(), userID, id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.FromRequest(r).Warn().Err(err).Int("recipe_id", id).Msg("failed to stream recipe image")
	}
}

func (h *RecipeHandler) decodeRecipe(w http.ResponseWriter, r *http.Request) (types.RecipeInput, bool) {
	var req RecipeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return types.RecipeInput{}, false
	}
	if len(req.nullLists) > 0 {
		fields := make(fieldErrors, len(req.nullLists))
		for _, name := range req.nullLists {
			fields[name] = "this field may not be null"
		}
		respondError(w, r, fields)
		return types.RecipeInput{}, false
	}
	if err := h.validator.Validate(req); err != nil {
		respondError(w, r, err)
		return types.RecipeInput{}, false
	}
	return req.toInput(), true
}

func readImageForm(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodyBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, services.NewValidationError(formFieldImage, "file is larger than 10 MiB")
		}
		return nil, services.NewValidationError(formFieldImage, "expected a multipart form")
	}
	file, _, err := r.FormFile(formFieldImage)
	if err != nil {
		return nil, services.NewValidationError(formFieldImage, "no file was submitted")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, services.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}

// AttributeRef names a tag or ingredient inside a recipe payload.
type AttributeRef struct {
	Name string `json:"name" validate:"required,max=255"`
}

// RecipeRequest is the create/update payload. Absent fields stay nil.
type RecipeRequest struct {
	Title       *string          `json:"title" validate:"omitempty,max=255"`
	TimeMinutes *int             `json:"time_minutes"`
	Price       *decimal.Decimal `json:"price"`
	Description *string          `json:"description"`
	Link        *string          `json:"link" validate:"omitempty,max=255"`
	Tags        *[]AttributeRef  `json:"tags" validate:"omitempty,dive"`
	Ingredients *[]AttributeRef  `json:"ingredients" validate:"omitempty,dive"`

	// nullLists names the attribute lists sent as an explicit null.
	nullLists []string
}

// UnmarshalJSON decodes the payload and records tags or ingredients sent
// as null, which would otherwise look the same as an absent field.
func (req *RecipeRequest) UnmarshalJSON(data []byte) error {
	type plain RecipeRequest
	if err := json.Unmarshal(data, (*plain)(req)); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	req.nullLists = nil
	for key, raw := range fields {
		for _, name := range []string{"tags", "ingredients"} {
			if strings.EqualFold(key, name) && string(raw) == "null" {
				req.nullLists = append(req.nullLists, name)
			}
		}
	}
	return nil
}

func (req RecipeRequest) toInput() types.RecipeInput {
	return types.RecipeInput{
		Title:       req.Title,
		TimeMinutes: req.TimeMinutes,
		Price:       req.Price,
		Description: req.Description,
		Link:        req.Link,
		Tags:        refNames(req.Tags),
		Ingredients: refNames(req.Ingredients),
	}
}

func refNames(refs *[]AttributeRef) *[]string {
	if refs == nil {
		return nil
	}
	names := make([]string, len(*refs))
	for i, ref := range *refs {
		names[i] = ref.Name
	}
	return &names
}

// RecipeSummary is the list representation of a recipe.
type RecipeSummary struct {
	ID          int               `json:"id"`
	Title       string            `json:"title"`
	TimeMinutes int               `json:"time_minutes"`
	Price       string            `json:"price"`
	Link        string            `json:"link"`
	Tags        []types.Attribute `json:"tags"`
	Ingredients []types.Attribute `json:"ingredients"`
}

// RecipeDetail adds the description and image to the summary.
type RecipeDetail struct {
	RecipeSummary
	Description string  `json:"description"`
	Image       *string `json:"image"`
}

type ImageResponse struct {
	ID    int     `json:"id"`
	Image *string `json:"image"`
}

func newRecipeSummary(recipe types.Recipe) RecipeSummary {
	return RecipeSummary{
		ID:          recipe.ID,
		Title:       recipe.Title,
		TimeMinutes: recipe.TimeMinutes,
		Price:       recipe.Price.StringFixed(2),
		Link:        recipe.Link,
		Tags:        nonNil(recipe.Tags),
		Ingredients: nonNil(recipe.Ingredients),
	}
}

func newRecipeDetail(recipe types.Recipe) RecipeDetail {
	return RecipeDetail{
		RecipeSummary: newRecipeSummary(recipe),
		Description:   recipe.Description,
		Image:         imageURL(recipe),
	}
}

// imageURL is where the recipe's image can be fetched, or nil without one.
func imageURL(recipe types.Recipe) *string {
	if recipe.Image == "" {
		return nil
	}
	url := fmt.Sprintf("/api/recipes/%d/image", recipe.ID)
	return &url
}

func nonNil(attrs []types.Attribute) []types.Attribute {
	if attrs == nil {
		return []types.Attribute{}
	}
	return attrs
}
