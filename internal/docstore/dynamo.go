package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/healme-core/pkg/logging"
)

const removeRetries = 3

type dynamoAPI interface {
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements Store on DynamoDB, one table per collection.
type DynamoStore struct {
	client  dynamoAPI
	tables  map[string]string
	indexes map[string]map[string]string
	logger  *logging.Logger
}

var _ Store = (*DynamoStore)(nil)

// DynamoOption customizes table and index resolution.
type DynamoOption func(*DynamoStore)

// WithTable maps a collection to a table name. Unmapped collections use the
// collection name as the table name.
func WithTable(collection, table string) DynamoOption {
	return func(s *DynamoStore) {
		if collection != "" && table != "" {
			s.tables[collection] = table
		}
	}
}

// WithIndex routes queries whose first filter is field through a global
// secondary index partitioned on that field.
func WithIndex(collection, field, index string) DynamoOption {
	return func(s *DynamoStore) {
		if collection == "" || field == "" || index == "" {
			return
		}
		if s.indexes[collection] == nil {
			s.indexes[collection] = map[string]string{}
		}
		s.indexes[collection][field] = index
	}
}

// NewDynamoStore builds a store backed by the provided DynamoDB client.
func NewDynamoStore(client dynamoAPI, logger *logging.Logger, opts ...DynamoOption) *DynamoStore {
	if client == nil {
		panic("docstore: dynamodb client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &DynamoStore{
		client:  client,
		tables:  map[string]string{},
		indexes: map[string]map[string]string{},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *DynamoStore) table(collection string) string {
	if t, ok := s.tables[collection]; ok {
		return t
	}
	return collection
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		KeyAttribute: &types.AttributeValueMemberS{Value: id},
	}
}

func isConditionFailure(err error) (*types.ConditionalCheckFailedException, bool) {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return ccf, true
	}
	return nil, false
}

func (s *DynamoStore) getItem(ctx context.Context, collection, id string) (map[string]types.AttributeValue, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table(collection)),
		Key:            itemKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s: %w", collection, id, err)
	}
	if out == nil || out.Item == nil {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

// Get decodes a document by id.
func (s *DynamoStore) Get(ctx context.Context, collection, id string, out any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	item, err := s.getItem(ctx, collection, id)
	if err != nil {
		return err
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return fmt.Errorf("docstore: decode %s/%s: %w", collection, id, err)
	}
	return nil
}

func marshalDocument(id string, doc any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return nil, fmt.Errorf("docstore: marshal document: %w", err)
	}
	item[KeyAttribute] = &types.AttributeValueMemberS{Value: id}
	return item, nil
}

// Create writes a new document, failing with ErrAlreadyExists on collision.
func (s *DynamoStore) Create(ctx context.Context, collection, id string, doc any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	item, err := marshalDocument(id, doc)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(s.table(collection)),
		Item:                     item,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]string{"#id": KeyAttribute},
	})
	if _, ok := isConditionFailure(err); ok {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("docstore: create %s/%s: %w", collection, id, err)
	}
	return nil
}

// Put writes a document unconditionally.
func (s *DynamoStore) Put(ctx context.Context, collection, id string, doc any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	item, err := marshalDocument(id, doc)
	if err != nil {
		return err
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table(collection)),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("docstore: put %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update sets top-level fields on an existing document.
func (s *DynamoStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	names := map[string]string{"#id": KeyAttribute}
	values := map[string]types.AttributeValue{}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	for i, field := range keys {
		av, err := attributevalue.Marshal(fields[field])
		if err != nil {
			return fmt.Errorf("docstore: marshal field %s: %w", field, err)
		}
		name := fmt.Sprintf("#f%d", i)
		value := fmt.Sprintf(":v%d", i)
		names[name] = field
		values[value] = av
		clauses = append(clauses, name+" = "+value)
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table(collection)),
		Key:                       itemKey(id),
		UpdateExpression:          aws.String("SET " + strings.Join(clauses, ", ")),
		ConditionExpression:       aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if _, ok := isConditionFailure(err); ok {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("docstore: update %s/%s: %w", collection, id, err)
	}
	return nil
}

// InitArray is a merge-write that leaves an existing list untouched.
func (s *DynamoStore) InitArray(ctx context.Context, collection, id, field string) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table(collection)),
		Key:                 itemKey(id),
		UpdateExpression:    aws.String("SET #f = if_not_exists(#f, :empty)"),
		ConditionExpression: aws.String("attribute_exists(#id)"),
		ExpressionAttributeNames: map[string]string{
			"#id": KeyAttribute,
			"#f":  field,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		},
	})
	if _, ok := isConditionFailure(err); ok {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("docstore: init %s on %s/%s: %w", field, collection, id, err)
	}
	return nil
}

// Query returns documents matching every filter. When an index is registered
// for the first filter field the table is queried through it, otherwise the
// table is scanned.
func (s *DynamoStore) Query(ctx context.Context, collection string, filters []Filter, out any) error {
	if strings.TrimSpace(collection) == "" {
		return errors.New("docstore: collection required")
	}

	var (
		items []map[string]types.AttributeValue
		err   error
	)
	if index, ok := s.indexFor(collection, filters); ok {
		items, err = s.queryIndex(ctx, collection, index, filters)
	} else {
		items, err = s.scan(ctx, collection, filters)
	}
	if err != nil {
		return err
	}
	if items == nil {
		items = []map[string]types.AttributeValue{}
	}
	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("docstore: decode %s query: %w", collection, err)
	}
	return nil
}

func (s *DynamoStore) indexFor(collection string, filters []Filter) (string, bool) {
	if len(filters) == 0 {
		return "", false
	}
	index, ok := s.indexes[collection][filters[0].Field]
	return index, ok
}

func filterExpression(filters []Filter, names map[string]string, values map[string]types.AttributeValue, offset int) string {
	clauses := make([]string, 0, len(filters))
	for i, f := range filters {
		name := fmt.Sprintf("#q%d", i+offset)
		value := fmt.Sprintf(":q%d", i+offset)
		names[name] = f.Field
		values[value] = &types.AttributeValueMemberS{Value: f.Value}
		clauses = append(clauses, name+" = "+value)
	}
	return strings.Join(clauses, " AND ")
}

func (s *DynamoStore) queryIndex(ctx context.Context, collection, index string, filters []Filter) ([]map[string]types.AttributeValue, error) {
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.table(collection)),
		IndexName:              aws.String(index),
		KeyConditionExpression: aws.String(filterExpression(filters[:1], names, values, 0)),
	}
	if rest := filters[1:]; len(rest) > 0 {
		input.FilterExpression = aws.String(filterExpression(rest, names, values, 1))
	}
	input.ExpressionAttributeNames = names
	input.ExpressionAttributeValues = values

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("docstore: query %s via %s: %w", collection, index, err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func (s *DynamoStore) scan(ctx context.Context, collection string, filters []Filter) ([]map[string]types.AttributeValue, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(s.table(collection)),
		ConsistentRead: aws.Bool(true),
	}
	if len(filters) > 0 {
		names := map[string]string{}
		values := map[string]types.AttributeValue{}
		input.FilterExpression = aws.String(filterExpression(filters, names, values, 0))
		input.ExpressionAttributeNames = names
		input.ExpressionAttributeValues = values
	}

	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("docstore: scan %s: %w", collection, err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func unionEntry(key string, value any) (map[string]types.AttributeValue, error) {
	entry, err := attributevalue.MarshalMap(value)
	if err != nil {
		return nil, fmt.Errorf("docstore: marshal list entry: %w", err)
	}
	entry[entryKeyAttribute] = &types.AttributeValueMemberS{Value: key}
	return entry, nil
}

// Union appends value under key in a single conditional update. The list and
// its key set are written together so a retry never duplicates the element.
func (s *DynamoStore) Union(ctx context.Context, collection, id, field, key string, value any) (bool, error) {
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

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.table(collection)),
		Key:                 itemKey(id),
		UpdateExpression:    aws.String("SET #f = list_append(if_not_exists(#f, :empty), :entry) ADD #k :keyset"),
		ConditionExpression: aws.String("attribute_exists(#id) AND (attribute_not_exists(#k) OR NOT contains(#k, :key))"),
		ExpressionAttributeNames: map[string]string{
			"#id": KeyAttribute,
			"#f":  field,
			"#k":  KeysAttribute(field),
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":empty":  &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
			":entry":  &types.AttributeValueMemberL{Value: []types.AttributeValue{&types.AttributeValueMemberM{Value: entry}}},
			":keyset": &types.AttributeValueMemberSS{Value: []string{key}},
			":key":    &types.AttributeValueMemberS{Value: key},
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if ccf, ok := isConditionFailure(err); ok {
		if ccf.Item == nil {
			return false, ErrNotFound
		}
		s.logger.Debug("union entry already present", "collection", collection, "id", id, "field", field, "key", key)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("docstore: union %s on %s/%s: %w", field, collection, id, err)
	}
	return true, nil
}

// Remove deletes the element tagged with key. The element index is read first
// and guarded by a condition, so a concurrent shift of the list is retried.
func (s *DynamoStore) Remove(ctx context.Context, collection, id, field, key string) (bool, error) {
	if err := validateID(collection, id); err != nil {
		return false, err
	}
	for attempt := 0; attempt < removeRetries; attempt++ {
		item, err := s.getItem(ctx, collection, id)
		if err != nil {
			return false, err
		}
		idx := entryIndex(item[field], key)
		if idx < 0 {
			return false, nil
		}

		path := fmt.Sprintf("#f[%d]", idx)
		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(s.table(collection)),
			Key:                 itemKey(id),
			UpdateExpression:    aws.String("REMOVE " + path + " DELETE #k :keyset"),
			ConditionExpression: aws.String(path + ".#ek = :key"),
			ExpressionAttributeNames: map[string]string{
				"#f":  field,
				"#k":  KeysAttribute(field),
				"#ek": entryKeyAttribute,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":keyset": &types.AttributeValueMemberSS{Value: []string{key}},
				":key":    &types.AttributeValueMemberS{Value: key},
			},
		})
		if _, ok := isConditionFailure(err); ok {
			s.logger.Warn("list shifted during remove, retrying", "collection", collection, "id", id, "field", field, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return false, fmt.Errorf("docstore: remove from %s on %s/%s: %w", field, collection, id, err)
		}
		return true, nil
	}
	return false, fmt.Errorf("docstore: remove from %s on %s/%s: list kept changing", field, collection, id)
}

func entryIndex(list types.AttributeValue, key string) int {
	l, ok := list.(*types.AttributeValueMemberL)
	if !ok {
		return -1
	}
	for i, el := range l.Value {
		m, ok := el.(*types.AttributeValueMemberM)
		if !ok {
			continue
		}
		if s, ok := m.Value[entryKeyAttribute].(*types.AttributeValueMemberS); ok && s.Value == key {
			return i
		}
	}
	return -1
}

// Delete removes a document by id.
func (s *DynamoStore) Delete(ctx context.Context, collection, id string) error {
	if err := validateID(collection, id); err != nil {
		return err
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table(collection)),
		Key:       itemKey(id),
	}); err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", collection, id, err)
	}
	return nil
}
