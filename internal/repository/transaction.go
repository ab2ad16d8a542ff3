package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"dispute-agent/internal/domain"
)

// GetTransaction returns domain.ErrTransactionNotFound for an unknown id.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	if strings.TrimSpace(transactionID) == "" {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(transactionPK(transactionID), skMeta),
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repository: GetTransaction get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	t, err := itemToTransaction(out.Item)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repository: GetTransaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns the transaction catalogue ordered by date.
func (c *Client) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	items, err := c.queryEntity(ctx, entityTransaction)
	if err != nil {
		return nil, fmt.Errorf("repository: ListTransactions: %w", err)
	}
	txns := make([]domain.Transaction, 0, len(items))
	for _, item := range items {
		t, err := itemToTransaction(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListTransactions unmarshal: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, nil
}

// queryEntity pages through every item of one entity type on the entity index.
func (c *Client) queryEntity(ctx context.Context, entity string) ([]map[string]types.AttributeValue, error) {
	p := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		IndexName:              aws.String(entityIndex),
		KeyConditionExpression: aws.String("entity = :e"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":e": sAttr(entity),
		},
	})
	var items []map[string]types.AttributeValue
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

func itemToTransaction(item map[string]types.AttributeValue) (domain.Transaction, error) {
	id, err := strAttr(item, "transactionId")
	if err != nil {
		return domain.Transaction{}, err
	}
	merchant, err := strAttr(item, "merchant")
	if err != nil {
		return domain.Transaction{}, err
	}
	amount, err := floatAttr(item, "amount")
	if err != nil {
		return domain.Transaction{}, err
	}
	date, err := optStrAttr(item, "date")
	if err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{TransactionID: id, Merchant: merchant, Amount: amount, Date: date}, nil
}
