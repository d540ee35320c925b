package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/crimewatch/crime-ingestion-service/internal/config"
	"github.com/crimewatch/crime-ingestion-service/internal/models"
)

// DynamoDBStorage implements Storage using AWS DynamoDB. UpdateItem with
// if_not_exists(created_at) gives the insert-or-merge semantics; the
// partition key on incident_id guarantees at-most-one item per identity.
type DynamoDBStorage struct {
	client      *dynamodb.DynamoDB
	tableName   string
	sourceTable string
}

// NewDynamoDBStorage creates a new DynamoDB storage instance
func NewDynamoDBStorage(cfg config.StorageConfig) (*DynamoDBStorage, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	storage := &DynamoDBStorage{
		client:      dynamodb.New(sess),
		tableName:   cfg.TableName,
		sourceTable: cfg.TableName + "_sources",
	}

	if err := storage.ensureTable(storage.tableName, "incident_id"); err != nil {
		return nil, fmt.Errorf("failed to ensure incidents table: %w", err)
	}
	if err := storage.ensureTable(storage.sourceTable, "source"); err != nil {
		return nil, fmt.Errorf("failed to ensure sources table: %w", err)
	}

	return storage, nil
}

// ensureTable creates a single-hash-key table if it doesn't exist
func (d *DynamoDBStorage) ensureTable(name, hashKey string) error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
	if err == nil {
		return nil // Table already exists
	}

	input := &dynamodb.CreateTableInput{
		TableName: aws.String(name),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String(hashKey),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String(hashKey),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	}

	if _, err := d.client.CreateTable(input); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(name),
	})
}

// UpsertBatch applies incidents one item at a time. created_at is written
// only on first insert via if_not_exists.
func (d *DynamoDBStorage) UpsertBatch(ctx context.Context, incidents []models.Incident) (models.BatchResult, error) {
	var result models.BatchResult

	for _, inc := range incidents {
		if reason := validateIncident(inc); reason != "" {
			result.Skipped = append(result.Skipped, models.SkippedIncident{Incident: inc, Reason: reason})
			continue
		}

		now := time.Now().UTC().Format(time.RFC3339Nano)
		_, err := d.client.UpdateItemWithContext(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(d.tableName),
			Key: map[string]*dynamodb.AttributeValue{
				"incident_id": {S: aws.String(inc.IncidentID)},
			},
			UpdateExpression: aws.String(
				"SET occurred_at = :o, description = :d, #loc = :l, crime_type = :c, #src = :s, " +
					"updated_at = :now, created_at = if_not_exists(created_at, :now)"),
			ExpressionAttributeNames: map[string]*string{
				"#loc": aws.String("location"),
				"#src": aws.String("source"),
			},
			ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
				":o":   {S: aws.String(inc.OccurredAt.UTC().Format(time.RFC3339Nano))},
				":d":   {S: aws.String(inc.Description)},
				":l":   {S: aws.String(inc.Location)},
				":c":   {S: aws.String(inc.CrimeType)},
				":s":   {S: aws.String(inc.Source)},
				":now": {S: aws.String(now)},
			},
		})
		if err != nil {
			return result, fmt.Errorf("failed to upsert incident %s: %w", inc.IncidentID, err)
		}
		result.Affected++
	}

	return result, nil
}

// dynamoIncident is the stored item shape; timestamps are RFC 3339 strings
type dynamoIncident struct {
	IncidentID  string `dynamodbav:"incident_id"`
	OccurredAt  string `dynamodbav:"occurred_at"`
	Description string `dynamodbav:"description"`
	Location    string `dynamodbav:"location"`
	CrimeType   string `dynamodbav:"crime_type"`
	Source      string `dynamodbav:"source"`
	CreatedAt   string `dynamodbav:"created_at"`
	UpdatedAt   string `dynamodbav:"updated_at"`
}

func (di dynamoIncident) toIncident() models.Incident {
	occurredAt, _ := time.Parse(time.RFC3339Nano, di.OccurredAt)
	createdAt, _ := time.Parse(time.RFC3339Nano, di.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, di.UpdatedAt)
	return models.Incident{
		IncidentID:  di.IncidentID,
		OccurredAt:  occurredAt,
		Description: di.Description,
		Location:    di.Location,
		CrimeType:   di.CrimeType,
		Source:      di.Source,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}
}

// scanIncidents reads every item; acceptable at the table sizes this job
// produces, same trade-off the statistics call makes.
func (d *DynamoDBStorage) scanIncidents(ctx context.Context) ([]models.Incident, error) {
	var incidents []models.Incident
	var unmarshalErr error
	input := &dynamodb.ScanInput{TableName: aws.String(d.tableName)}

	err := d.client.ScanPagesWithContext(ctx, input, func(page *dynamodb.ScanOutput, last bool) bool {
		var items []dynamoIncident
		if unmarshalErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); unmarshalErr != nil {
			return false
		}
		for _, it := range items {
			incidents = append(incidents, it.toIncident())
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan incidents: %w", err)
	}
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal incidents: %w", unmarshalErr)
	}
	return incidents, nil
}

// ListIncidents returns the most recent incidents with pagination
func (d *DynamoDBStorage) ListIncidents(ctx context.Context, limit int, offset int) ([]models.Incident, error) {
	incidents, err := d.scanIncidents(ctx)
	if err != nil {
		return nil, err
	}

	// Newest first
	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].OccurredAt.After(incidents[j].OccurredAt)
	})

	if offset >= len(incidents) {
		return nil, nil
	}
	incidents = incidents[offset:]
	if limit < len(incidents) {
		incidents = incidents[:limit]
	}
	return incidents, nil
}

// Statistics returns total count, per-source counts and the occurred_at range
func (d *DynamoDBStorage) Statistics(ctx context.Context) (models.Statistics, error) {
	stats := models.Statistics{BySource: make(map[string]int)}

	incidents, err := d.scanIncidents(ctx)
	if err != nil {
		return stats, err
	}

	stats.Total = len(incidents)
	for _, inc := range incidents {
		stats.BySource[inc.Source]++
		if stats.DateRange.Min.IsZero() || inc.OccurredAt.Before(stats.DateRange.Min) {
			stats.DateRange.Min = inc.OccurredAt
		}
		if inc.OccurredAt.After(stats.DateRange.Max) {
			stats.DateRange.Max = inc.OccurredAt
		}
	}

	return stats, nil
}

// RecordCycle upserts the single status item for a source, latest write wins
func (d *DynamoDBStorage) RecordCycle(ctx context.Context, source string, status string, recordsCount int) error {
	item, err := dynamodbattribute.MarshalMap(struct {
		Source       string `dynamodbav:"source"`
		LastFetchAt  string `dynamodbav:"last_fetch_at"`
		Status       string `dynamodbav:"status"`
		RecordsCount int    `dynamodbav:"records_count"`
	}{
		Source:       source,
		LastFetchAt:  time.Now().UTC().Format(time.RFC3339Nano),
		Status:       status,
		RecordsCount: recordsCount,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal source status: %w", err)
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.sourceTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to record cycle for %s: %w", source, err)
	}
	return nil
}

// SourceStatuses returns the latest recorded cycle for every source
func (d *DynamoDBStorage) SourceStatuses(ctx context.Context) ([]models.SourceStatus, error) {
	result, err := d.client.ScanWithContext(ctx, &dynamodb.ScanInput{
		TableName: aws.String(d.sourceTable),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan sources: %w", err)
	}

	var items []struct {
		Source       string `dynamodbav:"source"`
		LastFetchAt  string `dynamodbav:"last_fetch_at"`
		Status       string `dynamodbav:"status"`
		RecordsCount int    `dynamodbav:"records_count"`
	}
	if err := dynamodbattribute.UnmarshalListOfMaps(result.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
	}

	statuses := make([]models.SourceStatus, 0, len(items))
	for _, it := range items {
		lastFetch, _ := time.Parse(time.RFC3339Nano, it.LastFetchAt)
		statuses = append(statuses, models.SourceStatus{
			Source:       it.Source,
			LastFetchAt:  lastFetch,
			Status:       it.Status,
			RecordsCount: it.RecordsCount,
		})
	}
	return statuses, nil
}

// Close closes the DynamoDB connection
func (d *DynamoDBStorage) Close() error {
	// DynamoDB client doesn't need explicit closing
	return nil
}
