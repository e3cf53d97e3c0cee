package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/NikhilOO7/llm-bias-analyzer/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	AUDIT_TABLE_NAME = "AuditLogs"
	maxBatchSize     = 25
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	dynamodb.ScanAPIClient
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
}

func NewDynamoDBStore(client DynamoDBAPI, table string) *DynamoDBStore {
	if table == "" {
		table = AUDIT_TABLE_NAME
	}
	return &DynamoDBStore{client: client, table: table}
}

// EnsureTable creates the audit table keyed by id when it does not exist.
func (s *DynamoDBStore) EnsureTable(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("[DynamoDB] describe table %s: %w", s.table, err)
	}

	slog.Info("[DynamoDB] Creating audit table", slog.String("table", s.table))
	_, err = s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("[DynamoDB] create table %s: %w", s.table, err)
	}
	return nil
}

func (s *DynamoDBStore) Insert(ctx context.Context, records ...models.AuditRecord) error {
	for i := 0; i < len(records); i += maxBatchSize {
		select {
		case <-ctx.Done():
			slog.Warn("[DynamoDB] context canceled")
			return ctx.Err()
		default:
		}

		end := i + maxBatchSize
		if end > len(records) {
			end = len(records)
		}

		writeRequests := make([]types.WriteRequest, 0, end-i)
		for _, record := range records[i:end] {
			item, err := attributevalue.MarshalMap(record)
			if err != nil {
				return fmt.Errorf("[DynamoDB] marshal audit record %s: %w", record.ID, err)
			}
			writeRequests = append(writeRequests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}

		if err := s.batchWrite(ctx, writeRequests); err != nil {
			return err
		}
	}

	slog.Debug("[DynamoDB] Stored audit records", slog.Int("count", len(records)))
	return nil
}

func (s *DynamoDBStore) batchWrite(ctx context.Context, writeRequests []types.WriteRequest) error {
	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.table: writeRequests},
	})
	if err != nil {
		return fmt.Errorf("[DynamoDB] Failed to batch write audit records: %w", err)
	}

	retryCount := 0
	backoff := 500 * time.Millisecond
	for len(out.UnprocessedItems) > 0 && retryCount < 3 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2

		slog.Warn("[DynamoDB] Retrying unprocessed audit records...",
			slog.Int("attempt", retryCount+1),
			slog.Int("remaining", len(out.UnprocessedItems[s.table])))

		out, err = s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: out.UnprocessedItems,
		})
		if err != nil {
			return fmt.Errorf("[DynamoDB] Retry error %w", err)
		}
		retryCount++
	}

	if remaining := len(out.UnprocessedItems[s.table]); remaining > 0 {
		slog.Error("[DynamoDB] Some audit records failed after retries",
			slog.Int("remaining", remaining))
		return fmt.Errorf("[DynamoDB] %d audit records were not written", remaining)
	}
	return nil
}

func (s *DynamoDBStore) Find(ctx context.Context, filter models.LogFilter) ([]models.AuditRecord, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.table)}

	if cond, ok := filterCondition(filter); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] build filter expression: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var records []models.AuditRecord
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("[DynamoDB] Scan for audit records failed: %w", err)
		}
		var page []models.AuditRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			slog.Error("[DynamoDB] Unable to unmarshal audit record page", slog.String("error", err.Error()))
			return nil, err
		}
		records = append(records, page...)
	}

	slog.Debug("[DynamoDB] Successfully retrieved audit records", slog.Int("count", len(records)))
	return records, nil
}

// Latest scans the whole table and sorts in memory. The table has no sort
// key, so this is only suitable for demo-sized logs.
func (s *DynamoDBStore) Latest(ctx context.Context, limit int) ([]models.AuditRecord, error) {
	records, err := s.Find(ctx, models.LogFilter{})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(records)
	return truncate(records, limit), nil
}

func (s *DynamoDBStore) Close(ctx context.Context) error {
	return nil
}

func filterCondition(filter models.LogFilter) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	if filter.Model != "" {
		conds = append(conds, expression.Name("model").Equal(expression.Value(filter.Model)))
	}
	if filter.Type != "" {
		conds = append(conds, expression.Name("type").Equal(expression.Value(string(filter.Type))))
	}
	if filter.Sentiment != "" {
		conds = append(conds, expression.Name("sentiment").Equal(expression.Value(filter.Sentiment)))
	}
	if filter.Biased != nil {
		conds = append(conds, expression.Name("biased").Equal(expression.Value(*filter.Biased)))
	}

	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}
