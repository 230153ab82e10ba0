package docstore

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfman30/healme-core/pkg/logging"
)

func TestDynamoStore_GetNotFound(t *testing.T) {
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{}}
	store := NewDynamoStore(mock, logging.Default())

	var out testProfile
	err := store.Get(context.Background(), "providers", "p1", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if got := aws.ToString(mock.getInputs[0].TableName); got != "providers" {
		t.Fatalf("expected collection name as table, got %s", got)
	}
	if !aws.ToBool(mock.getInputs[0].ConsistentRead) {
		t.Fatal("expected consistent read")
	}
}

func TestDynamoStore_GetDecodesItem(t *testing.T) {
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: "p1"},
		"name":      &types.AttributeValueMemberS{Value: "Dr. X"},
		"specialty": &types.AttributeValueMemberS{Value: "Cardiology"},
	}}}
	store := NewDynamoStore(mock, logging.Default(), WithTable("providers", "healme-providers"))

	var out testProfile
	if err := store.Get(context.Background(), "providers", "p1", &out); err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if out.Name != "Dr. X" || out.Specialty != "Cardiology" {
		t.Fatalf("unexpected decode: %#v", out)
	}
	if got := aws.ToString(mock.getInputs[0].TableName); got != "healme-providers" {
		t.Fatalf("expected mapped table, got %s", got)
	}
}

func TestDynamoStore_CreateMapsConditionFailure(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("exists")}}
	store := NewDynamoStore(mock, logging.Default())

	err := store.Create(context.Background(), "session_handoffs", "h1", map[string]string{"channelId": "healme_x"})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	input := mock.putInputs[0]
	if expr := aws.ToString(input.ConditionExpression); expr != "attribute_not_exists(#id)" {
		t.Fatalf("unexpected condition: %s", expr)
	}
	if id, ok := input.Item["id"].(*types.AttributeValueMemberS); !ok || id.Value != "h1" {
		t.Fatalf("expected id attribute to be set, got %#v", input.Item["id"])
	}
}

func TestDynamoStore_UpdateBuildsSortedSetExpression(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, logging.Default())

	err := store.Update(context.Background(), "requesters", "r1", map[string]any{"gender": "F", "age": 34})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	input := mock.updateInputs[0]
	if expr := aws.ToString(input.UpdateExpression); expr != "SET #f0 = :v0, #f1 = :v1" {
		t.Fatalf("unexpected update expression: %s", expr)
	}
	if input.ExpressionAttributeNames["#f0"] != "age" || input.ExpressionAttributeNames["#f1"] != "gender" {
		t.Fatalf("expected sorted field aliases, got %v", input.ExpressionAttributeNames)
	}
	if _, ok := input.ExpressionAttributeValues[":v0"].(*types.AttributeValueMemberN); !ok {
		t.Fatalf("expected numeric age, got %T", input.ExpressionAttributeValues[":v0"])
	}
}

func TestDynamoStore_UpdateMissingDocument(t *testing.T) {
	mock := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoStore(mock, logging.Default())

	err := store.Update(context.Background(), "requesters", "r1", map[string]any{"age": 34})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDynamoStore_InitArrayUsesIfNotExists(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, logging.Default())

	if err := store.InitArray(context.Background(), "providers", "p1", "commitments"); err != nil {
		t.Fatalf("InitArray returned error: %v", err)
	}
	input := mock.updateInputs[0]
	if expr := aws.ToString(input.UpdateExpression); expr != "SET #f = if_not_exists(#f, :empty)" {
		t.Fatalf("unexpected expression: %s", expr)
	}
	if _, ok := input.ExpressionAttributeValues[":empty"].(*types.AttributeValueMemberL); !ok {
		t.Fatalf("expected empty list value")
	}
}

func TestDynamoStore_UnionWritesListAndKeySet(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoStore(mock, logging.Default())

	added, err := store.Union(context.Background(), "providers", "p1", "commitments", "2025-06-01|10:00", testEntry{Date: "2025-06-01", Slot: "10:00"})
	if err != nil || !added {
		t.Fatalf("expected added, got %v %v", added, err)
	}
	input := mock.updateInputs[0]
	if !strings.Contains(aws.ToString(input.UpdateExpression), "ADD #k :keyset") {
		t.Fatalf("expected key set maintenance, got %s", aws.ToString(input.UpdateExpression))
	}
	if input.ExpressionAttributeNames["#k"] != "commitmentsKeys" {
		t.Fatalf("unexpected key attribute: %v", input.ExpressionAttributeNames)
	}
	entryList := input.ExpressionAttributeValues[":entry"].(*types.AttributeValueMemberL)
	entry := entryList.Value[0].(*types.AttributeValueMemberM)
	if key := entry.Value["entryKey"].(*types.AttributeValueMemberS).Value; key != "2025-06-01|10:00" {
		t.Fatalf("expected tagged entry, got %s", key)
	}
}

func TestDynamoStore_UnionConditionFailure(t *testing.T) {
	ctx := context.Background()

	present := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{
		Item: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "p1"}},
	}}
	added, err := NewDynamoStore(present, logging.Default()).Union(ctx, "providers", "p1", "commitments", "k", testEntry{})
	if err != nil || added {
		t.Fatalf("expected duplicate to be a no-op, got %v %v", added, err)
	}

	missing := &mockDynamo{updateErr: &types.ConditionalCheckFailedException{}}
	_, err = NewDynamoStore(missing, logging.Default()).Union(ctx, "providers", "p1", "commitments", "k", testEntry{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDynamoStore_RemoveTargetsTaggedIndex(t *testing.T) {
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: "r1"},
		"commitments": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"entryKey": &types.AttributeValueMemberS{Value: "a"}}},
			&types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"entryKey": &types.AttributeValueMemberS{Value: "b"}}},
		}},
	}}}
	store := NewDynamoStore(mock, logging.Default())

	removed, err := store.Remove(context.Background(), "requesters", "r1", "commitments", "b")
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}
	input := mock.updateInputs[0]
	if expr := aws.ToString(input.UpdateExpression); expr != "REMOVE #f[1] DELETE #k :keyset" {
		t.Fatalf("unexpected expression: %s", expr)
	}
	if expr := aws.ToString(input.ConditionExpression); expr != "#f[1].#ek = :key" {
		t.Fatalf("unexpected condition: %s", expr)
	}

	removed, err = store.Remove(context.Background(), "requesters", "r1", "commitments", "zzz")
	if err != nil || removed {
		t.Fatalf("expected no-op for unknown key, got %v %v", removed, err)
	}
}

func TestDynamoStore_QueryScansWithFilter(t *testing.T) {
	mock := &mockDynamo{scanOutput: &dynamodb.ScanOutput{Items: []map[string]types.AttributeValue{
		{"id": &types.AttributeValueMemberS{Value: "p1"}, "specialty": &types.AttributeValueMemberS{Value: "Cardiology"}},
	}}}
	store := NewDynamoStore(mock, logging.Default())

	var out []testProfile
	if err := store.Query(context.Background(), "providers", []Filter{Eq("specialty", "Cardiology")}, &out); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(out) != 1 || out[0].ID != "p1" {
		t.Fatalf("unexpected results: %#v", out)
	}
	if expr := aws.ToString(mock.scanInputs[0].FilterExpression); expr != "#q0 = :q0" {
		t.Fatalf("unexpected filter: %s", expr)
	}
	if len(mock.queryInputs) != 0 {
		t.Fatal("expected scan, not query")
	}
}

func TestDynamoStore_QueryUsesIndex(t *testing.T) {
	mock := &mockDynamo{queryOutput: &dynamodb.QueryOutput{}}
	store := NewDynamoStore(mock, logging.Default(), WithIndex("session_handoffs", "providerId", "providerId-index"))

	filters := []Filter{Eq("providerId", "p1"), Eq("date", "2025-06-01"), Eq("slot", "10:00")}
	var out []map[string]any
	if err := store.Query(context.Background(), "session_handoffs", filters, &out); err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	input := mock.queryInputs[0]
	if aws.ToString(input.IndexName) != "providerId-index" {
		t.Fatalf("expected index, got %s", aws.ToString(input.IndexName))
	}
	if aws.ToString(input.KeyConditionExpression) != "#q0 = :q0" {
		t.Fatalf("unexpected key condition: %s", aws.ToString(input.KeyConditionExpression))
	}
	if aws.ToString(input.FilterExpression) != "#q1 = :q1 AND #q2 = :q2" {
		t.Fatalf("unexpected filter: %s", aws.ToString(input.FilterExpression))
	}
}

func TestDynamoStore_DeletePropagatesError(t *testing.T) {
	mock := &mockDynamo{deleteErr: errors.New("dynamo failed")}
	store := NewDynamoStore(mock, logging.Default())

	err := store.Delete(context.Background(), "session_handoffs", "h1")
	if err == nil || !strings.Contains(err.Error(), "dynamo failed") {
		t.Fatalf("expected dynamo error, got %v", err)
	}
}

func TestNewDynamoStorePanicsOnNilClient(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	NewDynamoStore(nil, nil)
}

type mockDynamo struct {
	getInputs    []*dynamodb.GetItemInput
	getOutput    *dynamodb.GetItemOutput
	getErr       error
	putInputs    []*dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	deleteInputs []*dynamodb.DeleteItemInput
	deleteErr    error
	queryInputs  []*dynamodb.QueryInput
	queryOutput  *dynamodb.QueryOutput
	scanInputs   []*dynamodb.ScanInput
	scanOutput   *dynamodb.ScanOutput
}

func (m *mockDynamo) GetItem(_ context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getInputs = append(m.getInputs, input)
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func (m *mockDynamo) PutItem(_ context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInputs = append(m.putInputs, input)
	if m.putErr != nil {
		return nil, m.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) UpdateItem(_ context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) DeleteItem(_ context.Context, input *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.deleteInputs = append(m.deleteInputs, input)
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	return &dynamodb.DeleteItemOutput{}, nil
}

func (m *mockDynamo) Query(_ context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.queryInputs = append(m.queryInputs, input)
	if m.queryOutput == nil {
		return &dynamodb.QueryOutput{}, nil
	}
	return m.queryOutput, nil
}

func (m *mockDynamo) Scan(_ context.Context, input *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.scanInputs = append(m.scanInputs, input)
	if m.scanOutput == nil {
		return &dynamodb.ScanOutput{}, nil
	}
	return m.scanOutput, nil
}
