package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

const (
	skContext     = "CONTEXT#"
	skMeta        = "META#"
	skOpenDispute = "OPEN_DISPUTE"
	skUserPrefix  = "USER#"

	entityTransaction = "TRANSACTION"
	entityDispute     = "DISPUTE"

	entityIndex      = "entity-index"
	caseDisputeIndex = "case-dispute-index"

	// attrCaseDisputeID links a case to its dispute. Dispute and marker
	// items carry disputeId, so cases use a separate attribute.
	attrCaseDisputeID = "caseDisputeId"

	casePKPrefix = "CASE#"

	ttlDuration = 30 * 24 * time.Hour // 30-day TTL on conversation state
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client is the single-table store for conversations, transactions,
// disputes and back-office cases.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func sessionPK(sessionID string) string {
	return "SESSION#" + sessionID
}

func transactionPK(transactionID string) string {
	return "TXN#" + transactionID
}

func disputePK(disputeID string) string {
	return "DISPUTE#" + disputeID
}

func casePK(transactionID string) string {
	return casePKPrefix + transactionID
}

func caseSK(userID string) string {
	return skUserPrefix + userID
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}
