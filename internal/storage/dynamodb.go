package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/amillerrr/vod-pipeline/pkg/models"
)

// transactLimit is DynamoDB's TransactWriteItems item ceiling.
const transactLimit = 100

// DynamoDBAPI is the slice of the DynamoDB client the publisher needs.
type DynamoDBAPI interface {
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Publisher writes finished video metadata to DynamoDB. Publication is a
// single transaction carrying the video row plus all track rows, so readers
// never observe a half-published video.
type Publisher struct {
	client    DynamoDBAPI
	tableName string
	cdnDomain string
}

func NewPublisher(client DynamoDBAPI, tableName, cdnDomain string) *Publisher {
	return &Publisher{client: client, tableName: tableName, cdnDomain: cdnDomain}
}

// videoItem is the stored shape of the main video row.
type videoItem struct {
	PK     string `dynamodbav:"pk"`
	SK     string `dynamodbav:"sk"`
	GSI1PK string `dynamodbav:"gsi1pk"`
	GSI1SK string `dynamodbav:"gsi1sk"`
	models.VideoRecord
	PublishedAt string `dynamodbav:"published_at"`
}

// PublishVideo writes the record and its subtitle, attachment, chapter, and
// audio-track rows in one TransactWriteItems call.
func (p *Publisher) PublishVideo(ctx context.Context, rec *models.VideoRecord) error {
	ctx, span := tracer.Start(ctx, "publish-video")
	defer span.End()

	now := time.Now().UTC().Format(time.RFC3339)
	pk := fmt.Sprintf("VIDEO#%s", rec.VideoID)

	stored := *rec
	if p.cdnDomain != "" {
		stored.PlaybackURL = fmt.Sprintf("https://%s/%s", p.cdnDomain, rec.ManifestKey)
	}

	items := make([]types.TransactWriteItem, 0, 1+len(rec.Subtitles)+len(rec.Attachments)+len(rec.Chapters)+len(rec.AudioTracks))

	main, err := attributevalue.MarshalMap(videoItem{
		PK:          pk,
		SK:          "METADATA",
		GSI1PK:      "ALL_VIDEOS",
		GSI1SK:      fmt.Sprintf("%s#%s", now, rec.VideoID),
		VideoRecord: stored,
		PublishedAt: now,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal video: %v", models.ErrPublishFailed, err)
	}
	items = append(items, putItem(p.tableName, main, true))

	for _, sub := range rec.Subtitles {
		item, err := marshalRow(pk, fmt.Sprintf("SUBTITLE#%03d", sub.TrackIndex), sub)
		if err != nil {
			return err
		}
		items = append(items, putItem(p.tableName, item, false))
	}
	for i, att := range rec.Attachments {
		item, err := marshalRow(pk, fmt.Sprintf("ATTACHMENT#%03d", i), att)
		if err != nil {
			return err
		}
		items = append(items, putItem(p.tableName, item, false))
	}
	for _, ch := range rec.Chapters {
		item, err := marshalRow(pk, fmt.Sprintf("CHAPTER#%03d", ch.ChapterIndex), ch)
		if err != nil {
			return err
		}
		items = append(items, putItem(p.tableName, item, false))
	}
	for _, track := range rec.AudioTracks {
		item, err := marshalRow(pk, fmt.Sprintf("AUDIO#%03d", track.TrackIndex), track)
		if err != nil {
			return err
		}
		items = append(items, putItem(p.tableName, item, false))
	}

	if len(items) > transactLimit {
		return fmt.Errorf("%w: %d rows exceed the %d-item transaction limit", models.ErrPublishFailed, len(items), transactLimit)
	}

	if _, err := p.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	}); err != nil {
		return fmt.Errorf("%w: %v", models.ErrPublishFailed, err)
	}
	return nil
}

// GetVideo reads the main video row back, mostly for operational inspection.
func (p *Publisher) GetVideo(ctx context.Context, videoID string) (*models.VideoRecord, error) {
	result, err := p.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("VIDEO#%s", videoID)},
			"sk": &types.AttributeValueMemberS{Value: "METADATA"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	if result.Item == nil {
		return nil, models.ErrVideoNotFound
	}

	var item videoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal video: %w", err)
	}
	return &item.VideoRecord, nil
}

func marshalRow(pk, sk string, v any) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s: %v", models.ErrPublishFailed, sk, err)
	}
	item["pk"] = &types.AttributeValueMemberS{Value: pk}
	item["sk"] = &types.AttributeValueMemberS{Value: sk}
	return item, nil
}

func putItem(table string, item map[string]types.AttributeValue, guardNew bool) types.TransactWriteItem {
	put := &types.Put{
		TableName: aws.String(table),
		Item:      item,
	}
	if guardNew {
		put.ConditionExpression = aws.String("attribute_not_exists(pk)")
	}
	return types.TransactWriteItem{Put: put}
}
