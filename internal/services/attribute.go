package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/recipebook/apiserver/types"
)

// AttributeRepository defines persistence operations for tags and
// ingredients. Every call is scoped by userID.
type AttributeRepository interface {
	List(ctx context.Context, kind types.AttributeKind, userID int, opts types.AttributeListOptions) ([]types.Attribute, error)
	Get(ctx context.Context, kind types.AttributeKind, userID, id int) (types.Attribute, error)
	Rename(ctx context.Context, kind types.AttributeKind, userID, id int, name string) (types.Attribute, error)
	Delete(ctx context.Context, kind types.AttributeKind, userID, id int) error
}

// AttributeService encapsulates tag and ingredient use-cases. Attributes
// are created only through recipe writes.
type AttributeService struct {
	repo AttributeRepository
}

func NewAttributeService(repo AttributeRepository) *AttributeService {
	return &AttributeService{repo: repo}
}

func (s *AttributeService) List(ctx context.Context, kind types.AttributeKind, userID int, opts types.AttributeListOptions) ([]types.Attribute, error) {
	if err := requireOwner(userID); err != nil {
		return nil, err
	}
	attrs, err := s.repo.List(ctx, kind, userID, opts)
	if err != nil {
		return nil, translate(err)
	}
	return attrs, nil
}

func (s *AttributeService) Get(ctx context.Context, kind types.AttributeKind, userID, id int) (types.Attribute, error) {
	if err := requireOwner(userID); err != nil {
		return types.Attribute{}, err
	}
	attr, err := s.repo.Get(ctx, kind, userID, id)
	if err != nil {
		return types.Attribute{}, translate(err)
	}
	return attr, nil
}

// Rename changes an attribute's name. Taking a name the owner already uses
// for the same kind is a conflict.
func (s *AttributeService) Rename(ctx context.Context, kind types.AttributeKind, userID, id int, name string) (types.Attribute, error) {
	if err := requireOwner(userID); err != nil {
		return types.Attribute{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Attribute{}, NewValidationError("name", "this field may not be blank")
	}
	if utf8.RuneCountInString(name) > maxAttributeNameLength {
		return types.Attribute{}, NewValidationError("name", "must be at most 255 characters")
	}

	attr, err := s.repo.Rename(ctx, kind, userID, id, name)
	if err != nil {
		return types.Attribute{}, translate(err)
	}
	return attr, nil
}

// Delete removes an attribute and its associations. Recipes stay.
func (s *AttributeService) Delete(ctx context.Context, kind types.AttributeKind, userID, id int) error {
	if err := requireOwner(userID); err != nil {
		return err
	}
	return translate(s.repo.Delete(ctx, kind, userID, id))
}
