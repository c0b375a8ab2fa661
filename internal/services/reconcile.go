package services

import (
	"strings"
	"unicode/utf8"

	"github.com/recipebook/apiserver/types"
)

const maxAttributeNameLength = 255

// AssociationPlan is the set of writes that turns a recipe's current
// associations of one kind into the requested ones. Applying it never
// deletes attribute rows, only association rows.
type AssociationPlan struct {
	Kind types.AttributeKind

	// Keep holds attributes that are already associated and still requested.
	Keep []types.Attribute

	// Link holds existing attributes of the owner that must be associated.
	Link []types.Attribute

	// Create holds names with no attribute yet, in first-request order.
	Create []string

	// Drop holds associated attributes that are no longer requested.
	Drop []types.Attribute
}

// Changed reports whether applying the plan writes anything.
func (p AssociationPlan) Changed() bool {
	return len(p.Link) > 0 || len(p.Create) > 0 || len(p.Drop) > 0
}

// NormalizeNames trims every name and collapses repeats, keeping the
// first occurrence. Empty and overlong names are rejected.
func NormalizeNames(kind types.AttributeKind, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, NewValidationError(kind.Plural(), "name must not be blank")
		}
		if utf8.RuneCountInString(name) > maxAttributeNameLength {
			return nil, NewValidationError(kind.Plural(), "name must be at most 255 characters")
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}

// PlanAssociations resolves requested names against the recipe's current
// associations and the owner's known attributes of the same kind. Names
// match exactly after trimming. An empty request drops every association.
func PlanAssociations(ownerID int, kind types.AttributeKind, current, known []types.Attribute, requested []string) (AssociationPlan, error) {
	if ownerID < 1 {
		return AssociationPlan{}, preconditionf("invalid owner %d", ownerID)
	}
	if !kind.Valid() {
		return AssociationPlan{}, preconditionf("unknown attribute kind %q", kind)
	}

	names, err := NormalizeNames(kind, requested)
	if err != nil {
		return AssociationPlan{}, err
	}

	byName := make(map[string]types.Attribute, len(current)+len(known))
	associated := make(map[int]bool, len(current))
	for _, attr := range current {
		if attr.UserID != ownerID {
			return AssociationPlan{}, preconditionf("%s %d is owned by user %d, not %d", kind, attr.ID, attr.UserID, ownerID)
		}
		associated[attr.ID] = true
		byName[attr.Name] = attr
	}
	for _, attr := range known {
		if attr.UserID != ownerID {
			return AssociationPlan{}, preconditionf("%s %d is owned by user %d, not %d", kind, attr.ID, attr.UserID, ownerID)
		}
		if _, ok := byName[attr.Name]; !ok {
			byName[attr.Name] = attr
		}
	}

	plan := AssociationPlan{Kind: kind}
	wanted := make(map[int]bool, len(names))
	for _, name := range names {
		attr, ok := byName[name]
		if !ok {
			plan.Create = append(plan.Create, name)
			continue
		}
		if wanted[attr.ID] {
			continue
		}
		wanted[attr.ID] = true
		if associated[attr.ID] {
			plan.Keep = append(plan.Keep, attr)
		} else {
			plan.Link = append(plan.Link, attr)
		}
	}
	for _, attr := range current {
		if !wanted[attr.ID] {
			plan.Drop = append(plan.Drop, attr)
		}
	}
	return plan, nil
}

func attributeIDs(attrs []types.Attribute) []int {
	ids := make([]int, len(attrs))
	for i, attr := range attrs {
		ids[i] = attr.ID
	}
	return ids
}
