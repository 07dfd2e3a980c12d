package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DynamoDB key constants for the single-table design.
const (
	pkPrefix   = "JOB#"
	skMeta     = "META"
	skDecision = "DECISION#"
)

// StatusIndex is the global secondary index on (status, lastUpdated) that
// serves ordered status queries. The index projects all attributes.
const StatusIndex = "status-lastUpdated-index"

// DynamoStore implements Store using AWS DynamoDB.
type DynamoStore struct {
	client    *dynamodb.Client
	tableName string
}

// Compile-time interface check.
var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
// The client should be initialized from the shared AWS config.
func NewDynamoStore(client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		client:    client,
		tableName: tableName,
	}
}

// jobPK returns the partition key for a product's records.
func jobPK(productID string) string {
	return pkPrefix + productID
}

// mapDynamoErr translates DynamoDB throttling and server faults into
// ErrTransient so callers can skip the row and retry on a later pass.
func mapDynamoErr(err error) error {
	var throughput *types.ProvisionedThroughputExceededException
	var reqLimit *types.RequestLimitExceeded
	var internal *types.InternalServerError
	if errors.As(err, &throughput) || errors.As(err, &reqLimit) || errors.As(err, &internal) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

func (s *DynamoStore) Get(ctx context.Context, productID string) (*Job, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobPK(productID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem job %s: %w", productID, mapDynamoErr(err))
	}
	if result.Item == nil {
		return nil, fmt.Errorf("get job %s: %w", productID, ErrNotFound)
	}

	var job Job
	if err := attributevalue.UnmarshalMap(result.Item, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s: %w", productID, err)
	}
	job.ProductID = productID
	return &job, nil
}

func (s *DynamoStore) Insert(ctx context.Context, job *Job) error {
	if job.LogTimestamp == "" {
		job.LogTimestamp = Now()
	}
	if job.LastUpdated == "" {
		job.LastUpdated = job.LogTimestamp
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ProductID, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: jobPK(job.ProductID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skMeta}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("insert job %s: %w", job.ProductID, ErrAlreadyExists)
		}
		return fmt.Errorf("PutItem job %s: %w", job.ProductID, mapDynamoErr(err))
	}

	log.Debug().
		Str("product_id", job.ProductID).
		Str("status", string(job.Status)).
		Int("references", len(job.ReferenceURIs)).
		Msg("Job inserted")
	return nil
}

// updateExpr collects the pieces of a DynamoDB update expression. Every
// attribute is aliased through ExpressionAttributeNames because "status" is
// a reserved word and uniform aliasing keeps the builder simple.
type updateExpr struct {
	sets      []string
	increment bool
	names     map[string]string
	values    map[string]types.AttributeValue
}

// buildUpdate translates Fields into update expression pieces. lastUpdated
// is always refreshed.
func buildUpdate(f Fields) (*updateExpr, error) {
	e := &updateExpr{
		sets:      []string{"#lu = :lu"},
		increment: f.IncrementAttempts,
		names:     map[string]string{"#lu": "lastUpdated"},
		values: map[string]types.AttributeValue{
			":lu": &types.AttributeValueMemberS{Value: Now()},
		},
	}

	add := func(attr, alias, placeholder string, v interface{}) error {
		av, err := attributevalue.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", attr, err)
		}
		e.sets = append(e.sets, alias+" = "+placeholder)
		e.names[alias] = attr
		e.values[placeholder] = av
		return nil
	}

	if f.Prompt != nil {
		if err := add("prompt", "#p", ":p", *f.Prompt); err != nil {
			return nil, err
		}
	}
	if f.VideoURI != nil {
		if err := add("videoUri", "#v", ":v", *f.VideoURI); err != nil {
			return nil, err
		}
	}
	if f.ReferenceURIs != nil {
		if err := add("referenceUris", "#r", ":r", f.ReferenceURIs); err != nil {
			return nil, err
		}
	}
	if f.Decision != nil {
		if err := add("decision", "#d", ":d", string(*f.Decision)); err != nil {
			return nil, err
		}
	}
	if f.Notes != nil {
		if err := add("notes", "#n", ":n", *f.Notes); err != nil {
			return nil, err
		}
	}
	if f.ModeratorID != nil {
		if err := add("moderatorId", "#m", ":m", *f.ModeratorID); err != nil {
			return nil, err
		}
	}
	if f.LastError != nil {
		if err := add("lastError", "#e", ":e", *f.LastError); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// expression renders the final update expression string, attaching the
// attempts counter ADD clause when requested.
func (e *updateExpr) expression() string {
	expr := "SET " + strings.Join(e.sets, ", ")
	if e.increment {
		expr += " ADD #a :one"
		e.names["#a"] = "attempts"
		e.values[":one"] = &types.AttributeValueMemberN{Value: "1"}
	}
	return expr
}

func (s *DynamoStore) Update(ctx context.Context, productID string, f Fields) error {
	e, err := buildUpdate(f)
	if err != nil {
		return fmt.Errorf("update job %s: %w", productID, err)
	}
	expr := e.expression()

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobPK(productID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  e.names,
		ExpressionAttributeValues: e.values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("update job %s: %w", productID, ErrNotFound)
		}
		return fmt.Errorf("UpdateItem job %s: %w", productID, mapDynamoErr(err))
	}

	log.Debug().Str("product_id", productID).Msg("Job updated")
	return nil
}

func (s *DynamoStore) Transition(ctx context.Context, productID string, from, to Status, f Fields) error {
	if !ValidTransition(from, to) {
		return fmt.Errorf("transition %s -> %s: %w", from, to, ErrInvalidState)
	}

	e, err := buildUpdate(f)
	if err != nil {
		return fmt.Errorf("transition job %s: %w", productID, err)
	}
	e.sets = append(e.sets, "#s = :to")
	e.names["#s"] = "status" // "status" is a DynamoDB reserved word
	e.values[":to"] = &types.AttributeValueMemberS{Value: string(to)}
	e.values[":from"] = &types.AttributeValueMemberS{Value: string(from)}
	expr := e.expression()

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: jobPK(productID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK) AND #s = :from"),
		ExpressionAttributeNames:  e.names,
		ExpressionAttributeValues: e.values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// The guard failed: either the row is gone or another actor
			// changed the status first. One extra read to tell them apart.
			if _, getErr := s.Get(ctx, productID); errors.Is(getErr, ErrNotFound) {
				return fmt.Errorf("transition job %s: %w", productID, ErrNotFound)
			}
			return fmt.Errorf("transition job %s %s -> %s: %w", productID, from, to, ErrInvalidState)
		}
		return fmt.Errorf("UpdateItem job %s: %w", productID, mapDynamoErr(err))
	}

	log.Debug().
		Str("product_id", productID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Job transitioned")
	return nil
}

func (s *DynamoStore) ListByStatus(ctx context.Context, status Status, ascending bool, limit int) ([]*Job, error) {
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		IndexName:              aws.String(StatusIndex),
		KeyConditionExpression: aws.String("#s = :s"),
		ExpressionAttributeNames: map[string]string{
			"#s": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s": &types.AttributeValueMemberS{Value: string(status)},
		},
		ScanIndexForward: aws.Bool(ascending),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}

	var jobs []*Job

	// DynamoDB returns up to 1MB per Query call, so page through.
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query status=%s: %w", status, mapDynamoErr(err))
		}

		for _, item := range result.Items {
			job, err := unmarshalJobItem(item)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to unmarshal job row, skipping")
				continue
			}
			jobs = append(jobs, job)
			if limit > 0 && len(jobs) >= limit {
				return jobs, nil
			}
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return jobs, nil
}

func (s *DynamoStore) List(ctx context.Context) ([]*Job, error) {
	input := &dynamodb.ScanInput{
		TableName:        &s.tableName,
		FilterExpression: aws.String("SK = :meta"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":meta": &types.AttributeValueMemberS{Value: skMeta},
		},
	}

	var jobs []*Job
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Scan jobs: %w", mapDynamoErr(err))
		}

		for _, item := range result.Items {
			job, err := unmarshalJobItem(item)
			if err != nil {
				log.Warn().Err(err).Msg("Failed to unmarshal job row, skipping")
				continue
			}
			jobs = append(jobs, job)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return jobs, nil
}

func (s *DynamoStore) AppendDecision(ctx context.Context, rec *DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp == "" {
		rec.Timestamp = Now()
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal decision %s: %w", rec.ProductID, err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: jobPK(rec.ProductID)}
	item["SK"] = &types.AttributeValueMemberS{Value: skDecision + rec.Timestamp + "#" + rec.ID}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("PutItem decision %s: %w", rec.ProductID, mapDynamoErr(err))
	}

	log.Debug().
		Str("product_id", rec.ProductID).
		Str("decision", string(rec.Decision)).
		Str("moderator", rec.ModeratorID).
		Msg("Decision recorded")
	return nil
}

func (s *DynamoStore) ListDecisions(ctx context.Context, productID string) ([]*DecisionRecord, error) {
	pk := jobPK(productID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :skPrefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":       &types.AttributeValueMemberS{Value: pk},
			":skPrefix": &types.AttributeValueMemberS{Value: skDecision},
		},
	}

	var records []*DecisionRecord
	for {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query decisions %s: %w", productID, mapDynamoErr(err))
		}

		for _, item := range result.Items {
			var rec DecisionRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				log.Warn().Err(err).Str("product_id", productID).Msg("Failed to unmarshal decision record, skipping")
				continue
			}
			rec.ProductID = productID

			// Extract record ID from SK: "DECISION#{timestamp}#{id}".
			if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
				trimmed := strings.TrimPrefix(skAttr.Value, skDecision)
				if parts := strings.SplitN(trimmed, "#", 2); len(parts) == 2 {
					rec.ID = parts[1]
				}
			}

			records = append(records, &rec)
		}

		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	return records, nil
}

// unmarshalJobItem converts a raw job item into a Job, deriving ProductID
// from the partition key.
func unmarshalJobItem(item map[string]types.AttributeValue) (*Job, error) {
	var job Job
	if err := attributevalue.UnmarshalMap(item, &job); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if pkAttr, ok := item["PK"].(*types.AttributeValueMemberS); ok {
		job.ProductID = strings.TrimPrefix(pkAttr.Value, pkPrefix)
	}
	return &job, nil
}
