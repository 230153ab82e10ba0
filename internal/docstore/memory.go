package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MemoryStore is an in-process Store for tests and local development. It
// encodes documents with the same attributevalue rules as DynamoStore and
// returns query results in insertion order.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	order []string
	items map[string]map[string]types.AttributeValue
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: map[string]*memoryCollection{}}
}

func (m *MemoryStore) collection(name string) *memoryCollection {
	c, ok := m.collections[name]
	if !ok {
		c = &memoryCollection{items: map[string]map[string]types.AttributeValue{}}
		m.collections[name] = c
	}
	return c
}

func (c *memoryCollection) put(id string, item map[string]types.AttributeValue) {
	if _, exists := c.items[id]; !exists {
		c.order = append(c.order, id)
	}
	c.items[id] = item
}

func (c *memoryCollection) remove(id string) {
	if _, exists := c.items[id]; !exists {
		return
	}
	delete(c.items, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Get decodes a document by id.
func (m *MemoryStore) Get(_ context.Context, collection, id string, out any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	item, ok := m.collection(collection).items[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("docstore: decode %s/%s: %w", collection, id, err)
	}
	return nil
}

// Create writes a new document, failing with ErrAlreadyExists on collision.
func (m *MemoryStore) Create(_ context.Context, collection, id string, doc any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	item, err := marshalDocument(id, doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	if _, exists := c.items[id]; exists {
		return ErrAlreadyExists
	}
	c.put(id, item)
	return nil
}

// Put writes a document unconditionally.
func (m *MemoryStore) Put(_ context.Context, collection, id string, doc any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	item, err := marshalDocument(id, doc)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.collection(collection).put(id, item)
	m.mu.Unlock()
	return nil
}

// Update sets top-level fields on an existing document.
func (m *MemoryStore) Update(_ context.Context, collection, id string, fields map[string]any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	encoded := make(map[string]types.AttributeValue, len(fields))
	for field, value := range fields {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return fmt.Errorf("docstore: marshal field %s: %w", field, err)
		}
		encoded[field] = av
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	item, ok := c.items[id]
	if !ok {
		return ErrNotFound
	}
	next := cloneItem(item)
	for field, av := range encoded {
		next[field] = av
	}
	c.items[id] = next
	return nil
}

// InitArray sets field to an empty list unless it already exists.
func (m *MemoryStore) InitArray(_ context.Context, collection, id, field string) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	item, ok := c.items[id]
	if !ok {
		return ErrNotFound
	}
	if _, exists := item[field]; exists {
		return nil
	}
	next := cloneItem(item)
	next[field] = &types.AttributeValueMemberL{Value: []types.AttributeValue{}}
	c.items[id] = next
	return nil
}

// Query returns documents matching every filter, in insertion order.
func (m *MemoryStore) Query(_ context.Context, collection string, filters []Filter, out any) error {
	if collection == "" {
		return errors.New("docstore: collection required")
	}
	m.mu.Lock()
	c := m.collection(collection)
	matches := make([]map[string]types.AttributeValue, 0)
	for _, id := range c.order {
		item := c.items[id]
		if matchesAll(item, filters) {
			matches = append(matches, item)
		}
	}
	m.mu.Unlock()

	if err := attributevalue.UnmarshalListOfMaps(matches, out); err != nil {
		return fmt.Errorf("docstore: decode %s query: %w", collection, err)
	}
	return nil
}

func matchesAll(item map[string]types.AttributeValue, filters []Filter) bool {
	for _, f := range filters {
		s, ok := item[f.Field].(*types.AttributeValueMemberS)
		if !ok || s.Value != f.Value {
			return false
		}
	}
	return true
}

// Union appends value under key unless the key is already present.
func (m *MemoryStore) Union(_ context.Context, collection, id, field, key string, value any) (bool, error) {
	if err := validateID(collection, id); err != nil {
		return false, err
	}
	if key == "" {
		return false, errors.New("docstore: union key required")
	}
	entry, err := unionEntry(key, value)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	item, ok := c.items[id]
	if !ok {
		return false, ErrNotFound
	}
	keysAttr := KeysAttribute(field)
	var keys []string
	if ss, ok := item[keysAttr].(*types.AttributeValueMemberSS); ok {
		keys = ss.Value
	}
	for _, existing := range keys {
		if existing == key {
			return false, nil
		}
	}

	var list []types.AttributeValue
	if l, ok := item[field].(*types.AttributeValueMemberL); ok {
		list = l.Value
	}
	next := cloneItem(item)
	next[field] = &types.AttributeValueMemberL{Value: append(append([]types.AttributeValue{}, list...), &types.AttributeValueMemberM{Value: entry})}
	next[keysAttr] = &types.AttributeValueMemberSS{Value: append(append([]string{}, keys...), key)}
	c.items[id] = next
	return true, nil
}

// Remove deletes the element tagged with key.
func (m *MemoryStore) Remove(_ context.Context, collection, id, field, key string) (bool, error) {
	if err := validateID(collection, id); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.collection(collection)
	item, ok := c.items[id]
	if !ok {
		return false, ErrNotFound
	}
	idx := entryIndex(item[field], key)
	if idx < 0 {
		return false, nil
	}

	list := item[field].(*types.AttributeValueMemberL).Value
	nextList := append(append([]types.AttributeValue{}, list[:idx]...), list[idx+1:]...)
	next := cloneItem(item)
	next[field] = &types.AttributeValueMemberL{Value: nextList}

	keysAttr := KeysAttribute(field)
	if ss, ok := item[keysAttr].(*types.AttributeValueMemberSS); ok {
		remaining := make([]string, 0, len(ss.Value))
		for _, existing := range ss.Value {
			if existing != key {
				remaining = append(remaining, existing)
			}
		}
		if len(remaining) == 0 {
			delete(next, keysAttr)
		} else {
			next[keysAttr] = &types.AttributeValueMemberSS{Value: remaining}
		}
	}
	c.items[id] = next
	return true, nil
}

// Delete removes a document by id.
func (m *MemoryStore) Delete(_ context.Context, collection, id string) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	m.mu.Lock()
	m.collection(collection).remove(id)
	m.mu.Unlock()
	return nil
}

// IDs lists the document ids of a collection in insertion order.
func (m *MemoryStore) IDs(collection string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.collection(collection).order...)
}

// Raw returns a copy of the stored attribute map, for assertions on the
// exact stored shape.
func (m *MemoryStore) Raw(collection, id string) (map[string]types.AttributeValue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.collection(collection).items[id]
	if !ok {
		return nil, false
	}
	return cloneItem(item), true
}

// SortedKeys returns the union keys recorded for a list field.
func (m *MemoryStore) SortedKeys(collection, id, field string) []string {
	item, ok := m.Raw(collection, id)
	if !ok {
		return nil
	}
	ss, ok := item[KeysAttribute(field)].(*types.AttributeValueMemberSS)
	if !ok {
		return nil
	}
	keys := append([]string(nil), ss.Value...)
	sort.Strings(keys)
	return keys
}

func cloneItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	next := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		next[k] = v
	}
	return next
}
