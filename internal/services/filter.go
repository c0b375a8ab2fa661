package services

import (
	"strconv"
	"strings"

	"github.com/recipebook/apiserver/types"
)

// ParseIDList parses a comma separated list of positive ids taken from the
// query parameter field. Blank tokens are skipped and repeats collapse. A
// list with no ids at all yields nil, meaning the filter is absent.
func ParseIDList(field, raw string) ([]int, error) {
	var ids []int
	seen := make(map[int]struct{})
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		// Ids are int4 in the database.
		n, err := strconv.ParseInt(token, 10, 32)
		if err != nil || n < 1 {
			return nil, NewValidationError(field, "must be a comma separated list of ids")
		}
		id := int(n)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}

// ParseRecipeFilter builds a recipe filter from the raw tags and
// ingredients query values.
func ParseRecipeFilter(tags, ingredients string) (types.RecipeFilter, error) {
	var (
		filter types.RecipeFilter
		err    error
	)
	if filter.TagIDs, err = ParseIDList(types.KindTag.Plural(), tags); err != nil {
		return types.RecipeFilter{}, err
	}
	if filter.IngredientIDs, err = ParseIDList(types.KindIngredient.Plural(), ingredients); err != nil {
		return types.RecipeFilter{}, err
	}
	return filter, nil
}
