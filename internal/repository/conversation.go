package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"dispute-agent/internal/domain"
)

// GetConversation loads the stored context for a session. A session with no
// stored context gets the default one at version 0.
func (c *Client) GetConversation(ctx context.Context, sessionID string) (domain.Conversation, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.Conversation{}, errors.New("repository: GetConversation: session id is required")
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            key(sessionPK(sessionID), skContext),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.NewConversation(sessionID), nil
	}

	raw, err := strAttr(out.Item, "context")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation: %w", err)
	}
	version, err := intAttr(out.Item, "version")
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation decode version: %w", err)
	}

	conv := domain.NewConversation(sessionID)
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: GetConversation decode context: %w", err)
	}
	conv.SessionID = sessionID
	if conv.Stage == "" {
		conv.Stage = domain.StageGreeting
	}
	if conv.DisputeDetails == nil {
		conv.DisputeDetails = map[string]string{}
	}
	conv.Version = version
	return conv, nil
}

// SaveConversation writes conv if the stored version still equals
// conv.Version and returns it with the incremented version. A lost race
// yields domain.ErrConcurrentUpdate.
func (c *Client) SaveConversation(ctx context.Context, conv domain.Conversation) (domain.Conversation, error) {
	if strings.TrimSpace(conv.SessionID) == "" {
		return domain.Conversation{}, errors.New("repository: SaveConversation: session id is required")
	}
	body, err := json.Marshal(conv)
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("repository: SaveConversation encode: %w", err)
	}

	next := conv.Version + 1
	item := key(sessionPK(conv.SessionID), skContext)
	item["context"] = sAttr(string(body))
	item["stage"] = sAttr(string(conv.Stage))
	item["version"] = intValue(int64(next))
	item["updatedAt"] = sAttr(c.now().UTC().Format(time.RFC3339))
	item["ttl"] = intValue(c.ttlValue())

	in := &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	}
	if conv.Version == 0 {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":v": intValue(int64(conv.Version)),
		}
	}

	if _, err := c.api.PutItem(ctx, in); err != nil {
		if isConditionFailed(err) {
			return domain.Conversation{}, domain.ErrConcurrentUpdate
		}
		return domain.Conversation{}, fmt.Errorf("repository: SaveConversation: %w", err)
	}
	conv.Version = next
	return conv, nil
}

// DeleteConversation drops the stored context. Deleting a missing session is
// not an error.
func (c *Client) DeleteConversation(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("repository: DeleteConversation: session id is required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(sessionPK(sessionID), skContext),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteConversation: %w", err)
	}
	return nil
}
