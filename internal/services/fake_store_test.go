package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/recipebook/apiserver/internal/storage"
	"github.com/recipebook/apiserver/internal/store"
	"github.com/recipebook/apiserver/types"
)

type linkKey struct {
	recipeID int
	attrID   int
}

// fakeStore is an in-memory RecipeRepository and store.RecipeWriter. Tx
// restores a snapshot when fn fails.
type fakeStore struct {
	nextID  int
	recipes map[int]types.Recipe
	attrs   map[types.AttributeKind]map[int]types.Attribute
	links   map[types.AttributeKind]map[linkKey]bool

	createCalls int
	linkErr     error
}

func newFakeStore() *fakeStore {
	f := &fakeStore{
		recipes: map[int]types.Recipe{},
		attrs:   map[types.AttributeKind]map[int]types.Attribute{},
		links:   map[types.AttributeKind]map[linkKey]bool{},
	}
	for _, kind := range types.AttributeKinds {
		f.attrs[kind] = map[int]types.Attribute{}
		f.links[kind] = map[linkKey]bool{}
	}
	return f
}

func (f *fakeStore) snapshot() *fakeStore {
	c := &fakeStore{
		nextID:  f.nextID,
		recipes: maps.Clone(f.recipes),
		attrs:   map[types.AttributeKind]map[int]types.Attribute{},
		links:   map[types.AttributeKind]map[linkKey]bool{},
	}
	for _, kind := range types.AttributeKinds {
		c.attrs[kind] = maps.Clone(f.attrs[kind])
		c.links[kind] = maps.Clone(f.links[kind])
	}
	return c
}

func (f *fakeStore) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addAttribute(kind types.AttributeKind, userID int, name string) types.Attribute {
	attr := types.Attribute{ID: f.id(), UserID: userID, Name: name, Kind: kind}
	f.attrs[kind][attr.ID] = attr
	return attr
}

func (f *fakeStore) attributeCount(kind types.AttributeKind, userID int) int {
	n := 0
	for _, attr := range f.attrs[kind] {
		if attr.UserID == userID {
			n++
		}
	}
	return n
}

func (f *fakeStore) withAttributes(recipe types.Recipe) types.Recipe {
	for _, kind := range types.AttributeKinds {
		attrs := []types.Attribute{}
		for key := range f.links[kind] {
			if key.recipeID == recipe.ID {
				attrs = append(attrs, f.attrs[kind][key.attrID])
			}
		}
		slices.SortFunc(attrs, func(a, b types.Attribute) int { return a.ID - b.ID })
		recipe.SetAttributes(kind, attrs)
	}
	return recipe
}

func (f *fakeStore) linked(kind types.AttributeKind, recipeID int, ids []int) bool {
	for _, id := range ids {
		if f.links[kind][linkKey{recipeID, id}] {
			return true
		}
	}
	return false
}

func (f *fakeStore) List(_ context.Context, userID int, filter types.RecipeFilter) ([]types.Recipe, error) {
	out := []types.Recipe{}
	for _, recipe := range f.recipes {
		if recipe.UserID != userID {
			continue
		}
		if filter.TagIDs != nil && !f.linked(types.KindTag, recipe.ID, filter.TagIDs) {
			continue
		}
		if filter.IngredientIDs != nil && !f.linked(types.KindIngredient, recipe.ID, filter.IngredientIDs) {
			continue
		}
		out = append(out, f.withAttributes(recipe))
	}
	slices.SortFunc(out, func(a, b types.Recipe) int { return b.ID - a.ID })
	return out, nil
}

func (f *fakeStore) Get(_ context.Context, userID, id int) (types.Recipe, error) {
	recipe, ok := f.recipes[id]
	if !ok || recipe.UserID != userID {
		return types.Recipe{}, store.ErrNotFound
	}
	return f.withAttributes(recipe), nil
}

func (f *fakeStore) Delete(_ context.Context, userID, id int) error {
	recipe, ok := f.recipes[id]
	if !ok || recipe.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.recipes, id)
	for _, kind := range types.AttributeKinds {
		for key := range f.links[kind] {
			if key.recipeID == id {
				delete(f.links[kind], key)
			}
		}
	}
	return nil
}

func (f *fakeStore) Tx(_ context.Context, fn func(w store.RecipeWriter) error) error {
	saved := f.snapshot()
	if err := fn(f); err != nil {
		f.nextID, f.recipes, f.attrs, f.links = saved.nextID, saved.recipes, saved.attrs, saved.links
		return err
	}
	return nil
}

func (f *fakeStore) Insert(_ context.Context, recipe types.Recipe) (types.Recipe, error) {
	recipe.ID = f.id()
	recipe.CreatedAt = time.Now()
	recipe.UpdatedAt = recipe.CreatedAt
	f.recipes[recipe.ID] = recipe
	return recipe, nil
}

func (f *fakeStore) GetForUpdate(ctx context.Context, userID, id int) (types.Recipe, error) {
	return f.Get(ctx, userID, id)
}

func (f *fakeStore) Update(_ context.Context, recipe types.Recipe) (types.Recipe, error) {
	stored, ok := f.recipes[recipe.ID]
	if !ok || stored.UserID != recipe.UserID {
		return types.Recipe{}, store.ErrNotFound
	}
	stored.Title = recipe.Title
	stored.TimeMinutes = recipe.TimeMinutes
	stored.Price = recipe.Price
	stored.Description = recipe.Description
	stored.Link = recipe.Link
	stored.UpdatedAt = time.Now()
	f.recipes[recipe.ID] = stored
	recipe.UpdatedAt = stored.UpdatedAt
	return recipe, nil
}

func (f *fakeStore) SetImage(_ context.Context, userID, id int, key string) error {
	stored, ok := f.recipes[id]
	if !ok || stored.UserID != userID {
		return store.ErrNotFound
	}
	stored.Image = key
	f.recipes[id] = stored
	return nil
}

func (f *fakeStore) FindAttributesByName(_ context.Context, kind types.AttributeKind, userID int, names []string) ([]types.Attribute, error) {
	var out []types.Attribute
	for _, attr := range f.attrs[kind] {
		if attr.UserID == userID && slices.Contains(names, attr.Name) {
			out = append(out, attr)
		}
	}
	slices.SortFunc(out, func(a, b types.Attribute) int { return a.ID - b.ID })
	return out, nil
}

func (f *fakeStore) CreateAttribute(_ context.Context, kind types.AttributeKind, userID int, name string) (types.Attribute, error) {
	f.createCalls++
	for _, attr := range f.attrs[kind] {
		if attr.UserID == userID && attr.Name == name {
			return attr, nil
		}
	}
	return f.addAttribute(kind, userID, name), nil
}

func (f *fakeStore) LinkAttributes(_ context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	if f.linkErr != nil && len(attrIDs) > 0 {
		return f.linkErr
	}
	for _, id := range attrIDs {
		f.links[kind][linkKey{recipeID, id}] = true
	}
	return nil
}

func (f *fakeStore) UnlinkAttributes(_ context.Context, kind types.AttributeKind, recipeID int, attrIDs []int) error {
	for _, id := range attrIDs {
		delete(f.links[kind], linkKey{recipeID, id})
	}
	return nil
}

// fakeAttributeRepo exposes the attribute side of fakeStore.
type fakeAttributeRepo struct {
	f *fakeStore
}

func (r fakeAttributeRepo) List(_ context.Context, kind types.AttributeKind, userID int, opts types.AttributeListOptions) ([]types.Attribute, error) {
	if !kind.Valid() {
		return nil, store.ErrUnknownKind
	}
	out := []types.Attribute{}
	for _, attr := range r.f.attrs[kind] {
		if attr.UserID != userID {
			continue
		}
		if opts.AssignedOnly {
			assigned := false
			for key := range r.f.links[kind] {
				if key.attrID == attr.ID {
					assigned = true
					break
				}
			}
			if !assigned {
				continue
			}
		}
		out = append(out, attr)
	}
	slices.SortFunc(out, func(a, b types.Attribute) int {
		switch {
		case a.Name > b.Name:
			return -1
		case a.Name < b.Name:
			return 1
		}
		return b.ID - a.ID
	})
	return out, nil
}

func (r fakeAttributeRepo) Get(_ context.Context, kind types.AttributeKind, userID, id int) (types.Attribute, error) {
	attr, ok := r.f.attrs[kind][id]
	if !ok || attr.UserID != userID {
		return types.Attribute{}, store.ErrNotFound
	}
	return attr, nil
}

func (r fakeAttributeRepo) Rename(_ context.Context, kind types.AttributeKind, userID, id int, name string) (types.Attribute, error) {
	attr, ok := r.f.attrs[kind][id]
	if !ok || attr.UserID != userID {
		return types.Attribute{}, store.ErrNotFound
	}
	for _, other := range r.f.attrs[kind] {
		if other.ID != id && other.UserID == userID && other.Name == name {
			return types.Attribute{}, store.ErrDuplicate
		}
	}
	attr.Name = name
	r.f.attrs[kind][id] = attr
	return attr, nil
}

func (r fakeAttributeRepo) Delete(_ context.Context, kind types.AttributeKind, userID, id int) error {
	attr, ok := r.f.attrs[kind][id]
	if !ok || attr.UserID != userID {
		return store.ErrNotFound
	}
	delete(r.f.attrs[kind], id)
	for key := range r.f.links[kind] {
		if key.attrID == id {
			delete(r.f.links[kind], key)
		}
	}
	return nil
}

// fakeObjects records object store calls.
type fakeObjects struct {
	objects map[string][]byte
	deleted []string
	putErr  error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (o *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	if o.putErr != nil {
		return o.putErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return err
	}
	o.objects[key] = buf.Bytes()
	return nil
}

func (o *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := o.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *fakeObjects) Delete(_ context.Context, key string) error {
	if _, ok := o.objects[key]; !ok {
		return errors.New("no such object")
	}
	delete(o.objects, key)
	o.deleted = append(o.deleted, key)
	return nil
}

type publishedMessage struct {
	channel string
	data    []byte
	attrs   map[string]string
}

// fakePublisher records published messages.
type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, publishedMessage{channel: channel, data: data, attrs: attrs})
	return "msg-1", nil
}

func (p *fakePublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.attrs["type"]
	}
	return out
}
