package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/skycache/weather-api/internal/weather"
)

// cityTimestampIndex is the DynamoDB GSI serving the per-city range query.
const cityTimestampIndex = "city-timestamp-index"

// eventTTLDays controls the DynamoDB ttl attribute stamped on every item,
// mirroring the scheduled retention purge of the local profile.
const eventTTLDays = 30

// eventItem is the DynamoDB shape of an EventRecord.
type eventItem struct {
	EventID        string `dynamodbav:"event_id"`
	City           string `dynamodbav:"city"`
	CityDisplay    string `dynamodbav:"city_display"`
	Status         string `dynamodbav:"status"`
	CacheOutcome   string `dynamodbav:"cache_outcome"`
	Timestamp      string `dynamodbav:"timestamp"`
	TimestampEpoch int64  `dynamodbav:"timestamp_epoch"`
	StoragePath    string `dynamodbav:"storage_path,omitempty"`
	ErrorMessage   string `dynamodbav:"error_message,omitempty"`
	LatencyMS      int64  `dynamodbav:"latency_ms,omitempty"`
	TTL            int64  `dynamodbav:"ttl"`
}

// objectAPI is the slice of the S3 client the backend uses.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, opts ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// tableAPI is the slice of the DynamoDB client the backend uses.
type tableAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Cloud is the S3 + DynamoDB storage backend. Snapshot blobs are objects
// under a key prefix; events are items keyed by event_id with a
// city/timestamp GSI for the range query.
type Cloud struct {
	s3Client  objectAPI
	ddbClient tableAPI
	bucket    string
	prefix    string
	table     string
}

// NewCloud creates a Cloud backend from an already-resolved AWS config.
func NewCloud(cfg aws.Config, bucket, prefix, table string) *Cloud {
	return &Cloud{
		s3Client:  s3.NewFromConfig(cfg),
		ddbClient: dynamodb.NewFromConfig(cfg),
		bucket:    bucket,
		prefix:    prefix,
		table:     table,
	}
}

// StoreSnapshot writes the snapshot payload to
// {prefix}{normalized_city}_{UTC second timestamp}.json. The conditional
// put turns an existing object under the same key into a conflict.
func (c *Cloud) StoreSnapshot(ctx context.Context, city string, snap weather.Snapshot) (string, error) {
	key := fmt.Sprintf("%s%s_%s.json", c.prefix, weather.NormalizeCity(city), snap.Timestamp.UTC().Format(blobTimeFormat))

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return "", fmt.Errorf("%w: s3://%s/%s", weather.ErrStorageConflict, c.bucket, key)
		}
		return "", fmt.Errorf("put snapshot object: %w", err)
	}

	return fmt.Sprintf("s3://%s/%s", c.bucket, key), nil
}

// ReadSnapshot loads a snapshot blob previously written by StoreSnapshot,
// given the bare object key. Inspection helper; not part of the Backend
// contract.
func (c *Cloud) ReadSnapshot(ctx context.Context, key string) (weather.Snapshot, error) {
	out, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("get snapshot object: %w", err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("read snapshot object: %w", err)
	}
	var snap weather.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return weather.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// AppendEvent puts one item into the events table. Items carry a ttl
// attribute so DynamoDB expires them on the same horizon the local profile
// purges on.
func (c *Cloud) AppendEvent(ctx context.Context, rec weather.EventRecord) error {
	item, err := attributevalue.MarshalMap(eventItem{
		EventID:        rec.EventID,
		City:           weather.NormalizeCity(rec.City),
		CityDisplay:    rec.CityDisplay,
		Status:         string(rec.Status),
		CacheOutcome:   string(rec.CacheOutcome),
		Timestamp:      rec.Timestamp.UTC().Format(time.RFC3339Nano),
		TimestampEpoch: rec.TimestampEpoch,
		StoragePath:    rec.StoragePath,
		ErrorMessage:   rec.ErrorMessage,
		LatencyMS:      rec.LatencyMS,
		TTL:            rec.Timestamp.AddDate(0, 0, eventTTLDays).Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal event item: %w", err)
	}

	_, err = c.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// QueryEvents returns matching events, most recent first. A city filter
// uses the city/timestamp GSI; the unfiltered shape falls back to a scan.
func (c *Cloud) QueryEvents(ctx context.Context, f weather.EventFilter) ([]weather.EventRecord, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}

	var items []map[string]ddbtypes.AttributeValue

	if f.City != "" {
		out, err := c.ddbClient.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.table),
			IndexName:              aws.String(cityTimestampIndex),
			KeyConditionExpression: aws.String("city = :city AND timestamp_epoch >= :cutoff"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":city":   &ddbtypes.AttributeValueMemberS{Value: f.City},
				":cutoff": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(sinceEpoch(f.Since), 10)},
			},
			ScanIndexForward: aws.Bool(false), // most recent first
			Limit:            aws.Int32(int32(limit)),
		})
		if err != nil {
			return nil, fmt.Errorf("query events: %w", err)
		}
		items = out.Items
	} else {
		scanned, err := c.scanAll(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.table),
			FilterExpression: aws.String("timestamp_epoch >= :cutoff"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":cutoff": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(sinceEpoch(f.Since), 10)},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scan events: %w", err)
		}
		items = scanned
	}

	var raws []eventItem
	if err := attributevalue.UnmarshalListOfMaps(items, &raws); err != nil {
		return nil, fmt.Errorf("unmarshal event items: %w", err)
	}

	sort.Slice(raws, func(i, j int) bool {
		return raws[i].TimestampEpoch > raws[j].TimestampEpoch
	})
	if len(raws) > limit {
		raws = raws[:limit]
	}

	records := make([]weather.EventRecord, 0, len(raws))
	for _, it := range raws {
		rec := weather.EventRecord{
			EventID:        it.EventID,
			City:           it.City,
			CityDisplay:    it.CityDisplay,
			Status:         weather.EventStatus(it.Status),
			CacheOutcome:   weather.CacheOutcome(it.CacheOutcome),
			TimestampEpoch: it.TimestampEpoch,
			StoragePath:    it.StoragePath,
			ErrorMessage:   it.ErrorMessage,
			LatencyMS:      it.LatencyMS,
		}
		if parsed, perr := time.Parse(time.RFC3339Nano, it.Timestamp); perr == nil {
			rec.Timestamp = parsed
		}
		records = append(records, rec)
	}
	return records, nil
}

// CountByCity returns per-city request counts since the given time,
// highest count first. Aggregation happens client-side; the admin path is
// not latency sensitive.
func (c *Cloud) CountByCity(ctx context.Context, since time.Time) ([]weather.CityCount, error) {
	items, err := c.scanAll(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		FilterExpression:     aws.String("timestamp_epoch >= :cutoff"),
		ProjectionExpression: aws.String("city_display"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":cutoff": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(since.Unix(), 10)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}

	byCity := make(map[string]int64)
	for _, item := range items {
		if v, ok := item["city_display"].(*ddbtypes.AttributeValueMemberS); ok {
			byCity[v.Value]++
		}
	}

	counts := make([]weather.CityCount, 0, len(byCity))
	for city, n := range byCity {
		counts = append(counts, weather.CityCount{City: city, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].City < counts[j].City
	})
	return counts, nil
}

// PurgeEvents deletes events older than before and returns the count.
// DynamoDB has no range delete, so expired keys are scanned and removed in
// batches of 25.
func (c *Cloud) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	items, err := c.scanAll(ctx, &dynamodb.ScanInput{
		TableName:            aws.String(c.table),
		FilterExpression:     aws.String("timestamp_epoch < :cutoff"),
		ProjectionExpression: aws.String("event_id"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":cutoff": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(before.Unix(), 10)},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("scan expired events: %w", err)
	}

	var deleted int64
	for start := 0; start < len(items); start += 25 {
		end := start + 25
		if end > len(items) {
			end = len(items)
		}

		requests := make([]ddbtypes.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			requests = append(requests, ddbtypes.WriteRequest{
				DeleteRequest: &ddbtypes.DeleteRequest{
					Key: map[string]ddbtypes.AttributeValue{"event_id": item["event_id"]},
				},
			})
		}

		_, err := c.ddbClient.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]ddbtypes.WriteRequest{c.table: requests},
		})
		if err != nil {
			return deleted, fmt.Errorf("batch delete events: %w", err)
		}
		deleted += int64(len(requests))
	}
	return deleted, nil
}

// Ping checks bucket and table reachability.
func (c *Cloud) Ping(ctx context.Context) error {
	if _, err := c.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)}); err != nil {
		return fmt.Errorf("%w: %v", weather.ErrStorageUnavailable, err)
	}
	if _, err := c.ddbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.table)}); err != nil {
		return fmt.Errorf("%w: %v", weather.ErrStorageUnavailable, err)
	}
	return nil
}

// scanAll drains every page of a scan. A single Scan response caps at 1MB
// of items, so query, count and purge would silently truncate on large
// tables without the LastEvaluatedKey loop.
func (c *Cloud) scanAll(ctx context.Context, in *dynamodb.ScanInput) ([]map[string]ddbtypes.AttributeValue, error) {
	var items []map[string]ddbtypes.AttributeValue
	for {
		out, err := c.ddbClient.Scan(ctx, in)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func sinceEpoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

var _ weather.Backend = (*Cloud)(nil)
