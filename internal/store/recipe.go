package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/recipebook/apiserver/types"
)

var recipeColumns = []string{
	"r.id", "r.user_id", "r.title", "r.time_minutes", "r.price",
	"r.description", "r.link", "r.image", "r.created_at", "r.updated_at",
}

// RecipeWriter is the set of writes a recipe mutation performs inside one
// transaction: the recipe row itself plus its attribute associations.
type RecipeWriter interface {
	Insert(ctx context.Context, recipe types.Recipe) (types.Recipe, error)
	GetForUpdate(ctx context.Context, userID, id int) (types.Recipe, error)
	Update(ctx context.Context, recipe types.Recipe) (types.Recipe, error)
	SetImage(ctx context.Context, userID, id int, key string) error
	FindAttributesByName(ctx context.Context, kind types.AttributeKind, userID int, names []string) ([]types.Attribute, error)
	CreateAttribute(ctx context.Context, kind types.AttributeKind, userID int, name string) (types.Attribute, error)
	LinkAttributes(ctx context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error
	UnlinkAttributes(ctx context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error
}

// RecipeRepository handles persistence for recipes and their associations.
// Every query is scoped to the owning user.
type RecipeRepository struct {
	db *sql.DB
}

func NewRecipeRepository(db *sql.DB) *RecipeRepository {
	return &RecipeRepository{db: db}
}

// List returns the user's recipes matching filter, newest first. A recipe
// linked to several matching attributes still appears once.
func (r *RecipeRepository) List(ctx context.Context, userID int, filter types.RecipeFilter) ([]types.Recipe, error) {
	qb := psql.Select(recipeColumns...).
		From("recipes r").
		Where(sq.Eq{"r.user_id": userID}).
		OrderBy("r.id DESC")
	if filter.TagIDs != nil {
		qb = qb.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM recipe_tags rt WHERE rt.recipe_id = r.id AND rt.tag_id = ANY(?))",
			pq.Array(int64s(filter.TagIDs)),
		))
	}
	if filter.IngredientIDs != nil {
		qb = qb.Where(sq.Expr(
			"EXISTS (SELECT 1 FROM recipe_ingredients ri WHERE ri.recipe_id = r.id AND ri.ingredient_id = ANY(?))",
			pq.Array(int64s(filter.IngredientIDs)),
		))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipes := make([]types.Recipe, 0)
	for rows.Next() {
		recipe, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, recipe)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := attachAttributes(ctx, r.db, recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

func (r *RecipeRepository) Get(ctx context.Context, userID, id int) (types.Recipe, error) {
	return getRecipe(ctx, r.db, userID, id, false)
}

func (r *RecipeRepository) Delete(ctx context.Context, userID, id int) error {
	const query = `DELETE FROM recipes WHERE id = $1 AND user_id = $2`
	result, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Tx runs fn inside a transaction. fn's error rolls the transaction back.
func (r *RecipeRepository) Tx(ctx context.Context, fn func(w RecipeWriter) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&recipeTx{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type recipeTx struct {
	q Querier
}

func (t *recipeTx) Insert(ctx context.Context, recipe types.Recipe) (types.Recipe, error) {
	now := time.Now()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	const query = `
		INSERT INTO recipes (user_id, title, time_minutes, price, description, link, image, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := t.q.QueryRowContext(
		ctx,
		query,
		recipe.UserID,
		recipe.Title,
		recipe.TimeMinutes,
		recipe.Price,
		recipe.Description,
		recipe.Link,
		recipe.Image,
		recipe.CreatedAt,
		recipe.UpdatedAt,
	).Scan(&recipe.ID); err != nil {
		return types.Recipe{}, err
	}
	return recipe, nil
}

func (t *recipeTx) GetForUpdate(ctx context.Context, userID, id int) (types.Recipe, error) {
	return getRecipe(ctx, t.q, userID, id, true)
}

// Update writes the recipe's scalar fields. user_id is part of the filter,
// never of the SET list.
func (t *recipeTx) Update(ctx context.Context, recipe types.Recipe) (types.Recipe, error) {
	recipe.UpdatedAt = time.Now()

	const query = `
		UPDATE recipes
		SET title = $1,
			time_minutes = $2,
			price = $3,
			description = $4,
			link = $5,
			updated_at = $6
		WHERE id = $7 AND user_id = $8`
	result, err := t.q.ExecContext(
		ctx,
		query,
		recipe.Title,
		recipe.TimeMinutes,
		recipe.Price,
		recipe.Description,
		recipe.Link,
		recipe.UpdatedAt,
		recipe.ID,
		recipe.UserID,
	)
	if err != nil {
		return types.Recipe{}, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.Recipe{}, err
	}
	if affected == 0 {
		return types.Recipe{}, ErrNotFound
	}
	return recipe, nil
}

func (t *recipeTx) SetImage(ctx context.Context, userID, id int, key string) error {
	const query = `UPDATE recipes SET image = $1, updated_at = $2 WHERE id = $3 AND user_id = $4`
	result, err := t.q.ExecContext(ctx, query, key, time.Now(), id, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *recipeTx) FindAttributesByName(ctx context.Context, kind types.AttributeKind, userID int, names []string) ([]types.Attribute, error) {
	return findAttributesByName(ctx, t.q, kind, userID, names)
}

func (t *recipeTx) CreateAttribute(ctx context.Context, kind types.AttributeKind, userID int, name string) (types.Attribute, error) {
	return upsertAttribute(ctx, t.q, kind, userID, name)
}

func (t *recipeTx) LinkAttributes(ctx context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	return linkAttributes(ctx, t.q, kind, recipeID, attrIDs)
}

func (t *recipeTx) UnlinkAttributes(ctx context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	return unlinkAttributes(ctx, t.q, kind, recipeID, attrIDs)
}

func getRecipe(ctx context.Context, q Querier, userID, id int, forUpdate bool) (types.Recipe, error) {
	qb := psql.Select(recipeColumns...).
		From("recipes r").
		Where(sq.Eq{"r.id": id, "r.user_id": userID})
	if forUpdate {
		qb = qb.Suffix("FOR UPDATE")
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return types.Recipe{}, err
	}

	recipe, err := scanRecipe(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Recipe{}, ErrNotFound
		}
		return types.Recipe{}, err
	}

	recipes := []types.Recipe{recipe}
	if err := attachAttributes(ctx, q, recipes); err != nil {
		return types.Recipe{}, err
	}
	return recipes[0], nil
}

func attachAttributes(ctx context.Context, q Querier, recipes []types.Recipe) error {
	if len(recipes) == 0 {
		return nil
	}
	ids := make([]int, len(recipes))
	for i, recipe := range recipes {
		ids[i] = recipe.ID
	}

	for _, kind := range types.AttributeKinds {
		byRecipe, err := loadAttributes(ctx, q, kind, ids)
		if err != nil {
			return err
		}
		for i := range recipes {
			attrs := byRecipe[recipes[i].ID]
			if attrs == nil {
				attrs = []types.Attribute{}
			}
			recipes[i].SetAttributes(kind, attrs)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecipe(row rowScanner) (types.Recipe, error) {
	var recipe types.Recipe
	err := row.Scan(
		&recipe.ID,
		&recipe.UserID,
		&recipe.Title,
		&recipe.TimeMinutes,
		&recipe.Price,
		&recipe.Description,
		&recipe.Link,
		&recipe.Image,
		&recipe.CreatedAt,
		&recipe.UpdatedAt,
	)
	return recipe, err
}
