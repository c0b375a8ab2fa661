package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/recipebook/apiserver/types"
)

// attributeTable describes where one attribute kind and its recipe
// association rows live.
type attributeTable struct {
	table      string
	joinTable  string
	joinColumn string
}

var attributeTables = map[types.AttributeKind]attributeTable{
	types.KindTag: {
		table:      "tags",
		joinTable:  "recipe_tags",
		joinColumn: "tag_id",
	},
	types.KindIngredient: {
		table:      "ingredients",
		joinTable:  "recipe_ingredients",
		joinColumn: "ingredient_id",
	},
}

func tableFor(kind types.AttributeKind) (attributeTable, error) {
	t, ok := attributeTables[kind]
	if !ok {
		return attributeTable{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return t, nil
}

// AttributeRepository handles persistence for tags and ingredients.
// Every query is scoped to the owning user.
type AttributeRepository struct {
	db *sql.DB
}

func NewAttributeRepository(db *sql.DB) *AttributeRepository {
	return &AttributeRepository{db: db}
}

// List returns the user's attributes of kind, ordered by name descending.
func (r *AttributeRepository) List(ctx context.Context, kind types.AttributeKind, userID int, opts types.AttributeListOptions) ([]types.Attribute, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	qb := psql.Select("a.id", "a.user_id", "a.name").
		From(t.table+" a").
		Where(sq.Eq{"a.user_id": userID}).
		OrderBy("a.name DESC", "a.id DESC")
	if opts.AssignedOnly {
		qb = qb.Where(fmt.Sprintf("EXISTS (SELECT 1 FROM %s j WHERE j.%s = a.id)", t.joinTable, t.joinColumn))
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

	return scanAttributes(rows, kind)
}

// Get returns one attribute owned by userID.
func (r *AttributeRepository) Get(ctx context.Context, kind types.AttributeKind, userID, id int) (types.Attribute, error) {
	t, err := tableFor(kind)
	if err != nil {
		return types.Attribute{}, err
	}

	query, args, err := psql.Select("id", "user_id", "name").
		From(t.table).
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return types.Attribute{}, err
	}

	attr := types.Attribute{Kind: kind}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&attr.ID, &attr.UserID, &attr.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Attribute{}, ErrNotFound
		}
		return types.Attribute{}, err
	}
	return attr, nil
}

// Rename changes the name of an attribute owned by userID.
func (r *AttributeRepository) Rename(ctx context.Context, kind types.AttributeKind, userID, id int, name string) (types.Attribute, error) {
	t, err := tableFor(kind)
	if err != nil {
		return types.Attribute{}, err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET name = $1
		WHERE id = $2 AND user_id = $3
		RETURNING id, user_id, name`, t.table)
	attr := types.Attribute{Kind: kind}
	err = r.db.QueryRowContext(ctx, query, name, id, userID).Scan(&attr.ID, &attr.UserID, &attr.Name)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return types.Attribute{}, ErrNotFound
		case isUniqueViolation(err):
			return types.Attribute{}, ErrDuplicate
		}
		return types.Attribute{}, err
	}
	return attr, nil
}

// Delete removes an attribute owned by userID. Association rows go with it;
// recipes are left alone.
func (r *AttributeRepository) Delete(ctx context.Context, kind types.AttributeKind, userID, id int) error {
	t, err := tableFor(kind)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND user_id = $2`, t.table)
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

func findAttributesByName(ctx context.Context, q Querier, kind types.AttributeKind, userID int, names []string) ([]types.Attribute, error) {
	if len(names) == 0 {
		return nil, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select("id", "user_id", "name").
		From(t.table).
		Where(sq.Eq{"user_id": userID, "name": names}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAttributes(rows, kind)
}

// upsertAttribute returns the (userID, name) attribute, creating it when
// missing. Racing creators converge on the same row through the unique key.
func upsertAttribute(ctx context.Context, q Querier, kind types.AttributeKind, userID int, name string) (types.Attribute, error) {
	t, err := tableFor(kind)
	if err != nil {
		return types.Attribute{}, err
	}

	query, args, err := psql.Insert(t.table).
		Columns("user_id", "name").
		Values(userID, name).
		Suffix("ON CONFLICT (user_id, name) DO UPDATE SET name = EXCLUDED.name RETURNING id, user_id, name").
		ToSql()
	if err != nil {
		return types.Attribute{}, err
	}

	attr := types.Attribute{Kind: kind}
	if err := q.QueryRowContext(ctx, query, args...).Scan(&attr.ID, &attr.UserID, &attr.Name); err != nil {
		return types.Attribute{}, err
	}
	return attr, nil
}

func linkAttributes(ctx context.Context, q Querier, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	if len(attrIDs) == 0 {
		return nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return err
	}

	qb := psql.Insert(t.joinTable).Columns("recipe_id", t.joinColumn)
	for _, id := range attrIDs {
		qb = qb.Values(recipeID, id)
	}
	query, args, err := qb.Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

func unlinkAttributes(ctx context.Context, q Querier, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	if len(attrIDs) == 0 {
		return nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return err
	}

	query, args, err := psql.Delete(t.joinTable).
		Where(sq.Eq{"recipe_id": recipeID, t.joinColumn: attrIDs}).
		ToSql()
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, query, args...)
	return err
}

// loadAttributes returns the associations of kind for every recipe in
// recipeIDs, keyed by recipe id.
func loadAttributes(ctx context.Context, q Querier, kind types.AttributeKind, recipeIDs []int) (map[int][]types.Attribute, error) {
	out := make(map[int][]types.Attribute, len(recipeIDs))
	if len(recipeIDs) == 0 {
		return out, nil
	}
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query, args, err := psql.Select("j.recipe_id", "a.id", "a.user_id", "a.name").
		From(t.table + " a").
		Join(fmt.Sprintf("%s j ON j.%s = a.id", t.joinTable, t.joinColumn)).
		Where(sq.Eq{"j.recipe_id": recipeIDs}).
		OrderBy("a.id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var recipeID int
		attr := types.Attribute{Kind: kind}
		if err := rows.Scan(&recipeID, &attr.ID, &attr.UserID, &attr.Name); err != nil {
			return nil, err
		}
		out[recipeID] = append(out[recipeID], attr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanAttributes(rows *sql.Rows, kind types.AttributeKind) ([]types.Attribute, error) {
	attrs := make([]types.Attribute, 0)
	for rows.Next() {
		attr := types.Attribute{Kind: kind}
		if err := rows.Scan(&attr.ID, &attr.UserID, &attr.Name); err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return attrs, nil
}
