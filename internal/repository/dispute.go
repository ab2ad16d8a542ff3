package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"dispute-agent/internal/domain"
)

// CreateDispute writes an open dispute together with the transaction's
// OPEN_DISPUTE marker. Both puts are conditional, so a second open dispute
// for the same transaction fails with domain.ErrDuplicateActiveDispute.
func (c *Client) CreateDispute(ctx context.Context, d domain.Dispute) error {
	if d.DisputeID == "" || d.TransactionID == "" {
		return errors.New("repository: CreateDispute: dispute id and transaction id are required")
	}
	if d.Status == "" {
		d.Status = domain.DisputeStatusOpen
	}

	marker := key(transactionPK(d.TransactionID), skOpenDispute)
	marker["disputeId"] = sAttr(d.DisputeID)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                disputeItem(d),
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                marker,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	if err != nil {
		if isTransactionConditionFailed(err) {
			return domain.ErrDuplicateActiveDispute
		}
		return fmt.Errorf("repository: CreateDispute: %w", err)
	}
	return nil
}

// GetDispute returns domain.ErrDisputeNotFound for an unknown id.
func (c *Client) GetDispute(ctx context.Context, disputeID string) (domain.Dispute, error) {
	if strings.TrimSpace(disputeID) == "" {
		return domain.Dispute{}, domain.ErrDisputeNotFound
	}
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key:       key(disputePK(disputeID), skMeta),
	})
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("repository: GetDispute get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Dispute{}, domain.ErrDisputeNotFound
	}
	d, err := itemToDispute(out.Item)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("repository: GetDispute: %w", err)
	}
	return d, nil
}

// ListDisputes returns every dispute, open and closed.
func (c *Client) ListDisputes(ctx context.Context) ([]domain.Dispute, error) {
	items, err := c.queryEntity(ctx, entityDispute)
	if err != nil {
		return nil, fmt.Errorf("repository: ListDisputes: %w", err)
	}
	disputes := make([]domain.Dispute, 0, len(items))
	for _, item := range items {
		d, err := itemToDispute(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListDisputes unmarshal: %w", err)
		}
		disputes = append(disputes, d)
	}
	return disputes, nil
}

// CloseDispute marks an open dispute closed and releases the transaction's
// OPEN_DISPUTE marker so a new dispute may be filed. Closing an already
// closed dispute is a no-op.
func (c *Client) CloseDispute(ctx context.Context, disputeID string) (domain.Dispute, error) {
	d, err := c.GetDispute(ctx, disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if d.Status == domain.DisputeStatusClosed {
		return d, nil
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:           aws.String(c.tableName),
					Key:                 key(disputePK(disputeID), skMeta),
					UpdateExpression:    aws.String("SET #s = :closed"),
					ConditionExpression: aws.String("#s = :open"),
					ExpressionAttributeNames: map[string]string{
						"#s": "status",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":open":   sAttr(string(domain.DisputeStatusOpen)),
						":closed": sAttr(string(domain.DisputeStatusClosed)),
					},
				},
			},
			{
				Delete: &types.Delete{
					TableName:           aws.String(c.tableName),
					Key:                 key(transactionPK(d.TransactionID), skOpenDispute),
					ConditionExpression: aws.String("disputeId = :id"),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":id": sAttr(disputeID),
					},
				},
			},
		},
	})
	if err != nil {
		if isTransactionConditionFailed(err) {
			return domain.Dispute{}, domain.ErrConcurrentUpdate
		}
		return domain.Dispute{}, fmt.Errorf("repository: CloseDispute: %w", err)
	}
	d.Status = domain.DisputeStatusClosed
	return d, nil
}

func disputeItem(d domain.Dispute) map[string]types.AttributeValue {
	item := key(disputePK(d.DisputeID), skMeta)
	item["entity"] = sAttr(entityDispute)
	item["disputeId"] = sAttr(d.DisputeID)
	item["transactionId"] = sAttr(d.TransactionID)
	item["type"] = sAttr(string(d.Type))
	item["status"] = sAttr(string(d.Status))
	item["creationDate"] = sAttr(d.CreationDate)
	item["reason"] = sAttr(d.Reason)
	item["details"] = mapAttr(d.Details)
	item["merchant"] = sAttr(d.Merchant)
	item["amount"] = nAttr(d.Amount)
	return item
}

func itemToDispute(item map[string]types.AttributeValue) (domain.Dispute, error) {
	id, err := strAttr(item, "disputeId")
	if err != nil {
		return domain.Dispute{}, err
	}
	txn, err := strAttr(item, "transactionId")
	if err != nil {
		return domain.Dispute{}, err
	}
	typ, err := strAttr(item, "type")
	if err != nil {
		return domain.Dispute{}, err
	}
	status, err := strAttr(item, "status")
	if err != nil {
		return domain.Dispute{}, err
	}
	details, err := stringMapAttr(item, "details")
	if err != nil {
		return domain.Dispute{}, err
	}
	amount, err := floatAttr(item, "amount")
	if err != nil {
		return domain.Dispute{}, err
	}
	created, _ := optStrAttr(item, "creationDate")
	reason, _ := optStrAttr(item, "reason")
	merchant, _ := optStrAttr(item, "merchant")

	return domain.Dispute{
		DisputeID:     id,
		TransactionID: txn,
		Type:          domain.DisputeType(typ),
		Status:        domain.DisputeStatus(status),
		CreationDate:  created,
		Reason:        reason,
		Details:       details,
		Merchant:      merchant,
		Amount:        amount,
	}, nil
}
