package handlers

import (
	"bytes"
	"context"
	"io"
	"slices"
	"sync"

	"github.com/recipebook/apiserver/internal/storage"
	"github.com/recipebook/apiserver/internal/store"
	"github.com/recipebook/apiserver/types"
)

// memStore is an in-memory backend for users, recipes and attributes.
// It serves every repository interface the services need.
type memStore struct {
	mu      sync.Mutex
	nextID  int
	users   map[int]types.User
	recipes map[int]types.Recipe
	attrs   map[types.AttributeKind]map[int]types.Attribute
	links   map[types.AttributeKind]map[[2]int]bool
}

func newMemStore() *memStore {
	s := &memStore{
		users:   map[int]types.User{},
		recipes: map[int]types.Recipe{},
		attrs:   map[types.AttributeKind]map[int]types.Attribute{},
		links:   map[types.AttributeKind]map[[2]int]bool{},
	}
	for _, kind := range types.AttributeKinds {
		s.attrs[kind] = map[int]types.Attribute{}
		s.links[kind] = map[[2]int]bool{}
	}
	return s
}

func (s *memStore) id() int {
	s.nextID++
	return s.nextID
}

// users

type memUsers struct{ s *memStore }

func (u memUsers) GetByID(_ context.Context, id int) (types.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	user, ok := u.s.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (u memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (u memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, existing := range u.s.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrDuplicate
		}
	}
	user.ID = u.s.id()
	u.s.users[user.ID] = user
	return user, nil
}

// recipes

type memRecipes struct{ s *memStore }

func (r memRecipes) withAttributes(recipe types.Recipe) types.Recipe {
	for _, kind := range types.AttributeKinds {
		attrs := []types.Attribute{}
		for key := range r.s.links[kind] {
			if key[0] == recipe.ID {
				attrs = append(attrs, r.s.attrs[kind][key[1]])
			}
		}
		slices.SortFunc(attrs, func(a, b types.Attribute) int { return a.ID - b.ID })
		recipe.SetAttributes(kind, attrs)
	}
	return recipe
}

func (r memRecipes) matches(kind types.AttributeKind, recipeID int, ids []int) bool {
	if ids == nil {
		return true
	}
	for _, id := range ids {
		if r.s.links[kind][[2]int{recipeID, id}] {
			return true
		}
	}
	return false
}

func (r memRecipes) List(_ context.Context, userID int, filter types.RecipeFilter) ([]types.Recipe, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []types.Recipe{}
	for _, recipe := range r.s.recipes {
		if recipe.UserID != userID ||
			!r.matches(types.KindTag, recipe.ID, filter.TagIDs) ||
			!r.matches(types.KindIngredient, recipe.ID, filter.IngredientIDs) {
			continue
		}
		out = append(out, r.withAttributes(recipe))
	}
	slices.SortFunc(out, func(a, b types.Recipe) int { return b.ID - a.ID })
	return out, nil
}

func (r memRecipes) Get(_ context.Context, userID, id int) (types.Recipe, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.get(userID, id)
}

func (r memRecipes) get(userID, id int) (types.Recipe, error) {
	recipe, ok := r.s.recipes[id]
	if !ok || recipe.UserID != userID {
		return types.Recipe{}, store.ErrNotFound
	}
	return r.withAttributes(recipe), nil
}

func (r memRecipes) Delete(_ context.Context, userID, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, err := r.get(userID, id); err != nil {
		return err
	}
	delete(r.s.recipes, id)
	for _, kind := range types.AttributeKinds {
		for key := range r.s.links[kind] {
			if key[0] == id {
				delete(r.s.links[kind], key)
			}
		}
	}
	return nil
}

// Tx runs fn under the store lock. There is no rollback; tests only
// commit through it.
func (r memRecipes) Tx(_ context.Context, fn func(w store.RecipeWriter) error) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return fn(memWriter{r})
}

type memWriter struct{ r memRecipes }

func (w memWriter) Insert(_ context.Context, recipe types.Recipe) (types.Recipe, error) {
	recipe.ID = w.r.s.id()
	w.r.s.recipes[recipe.ID] = recipe
	return recipe, nil
}

func (w memWriter) GetForUpdate(_ context.Context, userID, id int) (types.Recipe, error) {
	return w.r.get(userID, id)
}

func (w memWriter) Update(_ context.Context, recipe types.Recipe) (types.Recipe, error) {
	stored, ok := w.r.s.recipes[recipe.ID]
	if !ok || stored.UserID != recipe.UserID {
		return types.Recipe{}, store.ErrNotFound
	}
	recipe.Image = stored.Image
	w.r.s.recipes[recipe.ID] = recipe
	return recipe, nil
}

func (w memWriter) SetImage(_ context.Context, userID, id int, key string) error {
	stored, ok := w.r.s.recipes[id]
	if !ok || stored.UserID != userID {
		return store.ErrNotFound
	}
	stored.Image = key
	w.r.s.recipes[id] = stored
	return nil
}

func (w memWriter) FindAttributesByName(_ context.Context, kind types.AttributeKind, userID int, names []string) ([]types.Attribute, error) {
	var out []types.Attribute
	for _, attr := range w.r.s.attrs[kind] {
		if attr.UserID == userID && slices.Contains(names, attr.Name) {
			out = append(out, attr)
		}
	}
	slices.SortFunc(out, func(a, b types.Attribute) int { return a.ID - b.ID })
	return out, nil
}

func (w memWriter) CreateAttribute(_ context.Context, kind types.AttributeKind, userID int, name string) (types.Attribute, error) {
	for _, attr := range w.r.s.attrs[kind] {
		if attr.UserID == userID && attr.Name == name {
			return attr, nil
		}
	}
	attr := types.Attribute{ID: w.r.s.id(), UserID: userID, Name: name, Kind: kind}
	w.r.s.attrs[kind][attr.ID] = attr
	return attr, nil
}

func (w memWriter) LinkAttributes(_ context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	for _, id := range attrIDs {
		w.r.s.links[kind][[2]int{recipeID, id}] = true
	}
	return nil
}

func (w memWriter) UnlinkAttributes(_ context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	for _, id := range attrIDs {
		delete(w.r.s.links[kind], [2]int{recipeID, id})
	}
	return nil
}

// attributes

type memAttributes struct{ s *memStore }

func (a memAttributes) List(_ context.Context, kind types.AttributeKind, userID int, opts types.AttributeListOptions) ([]types.Attribute, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	out := []types.Attribute{}
	for _, attr := range a.s.attrs[kind] {
		if attr.UserID != userID {
			continue
		}
		if opts.AssignedOnly && !a.assigned(kind, attr.ID) {
			continue
		}
		out = append(out, attr)
	}
	slices.SortFunc(out, func(x, y types.Attribute) int {
		switch {
		case x.Name > y.Name:
			return -1
		case x.Name < y.Name:
			return 1
		}
		return y.ID - x.ID
	})
	return out, nil
}

func (a memAttributes) assigned(kind types.AttributeKind, id int) bool {
	for key := range a.s.links[kind] {
		if key[1] == id {
			return true
		}
	}
	return false
}

func (a memAttributes) Get(_ context.Context, kind types.AttributeKind, userID, id int) (types.Attribute, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	attr, ok := a.s.attrs[kind][id]
	if !ok || attr.UserID != userID {
		return types.Attribute{}, store.ErrNotFound
	}
	return attr, nil
}

func (a memAttributes) Rename(_ context.Context, kind types.AttributeKind, userID, id int, name string) (types.Attribute, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	attr, ok := a.s.attrs[kind][id]
	if !ok || attr.UserID != userID {
		return types.Attribute{}, store.ErrNotFound
	}
	for _, other := range a.s.attrs[kind] {
		if other.ID != id && other.UserID == userID && other.Name == name {
			return types.Attribute{}, store.ErrDuplicate
		}
	}
	attr.Name = name
	a.s.attrs[kind][id] = attr
	return attr, nil
}

func (a memAttributes) Delete(_ context.Context, kind types.AttributeKind, userID, id int) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	attr, ok := a.s.attrs[kind][id]
	if !ok || attr.UserID != userID {
		return store.ErrNotFound
	}
	delete(a.s.attrs[kind], id)
	for key := range a.s.links[kind] {
		if key[1] == id {
			delete(a.s.links[kind], key)
		}
	}
	return nil
}

// memObjects is an in-memory object store.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}}
}

func (o *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return nil
}

func (o *memObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *memObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}
