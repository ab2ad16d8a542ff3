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

// LookupCase finds the back-office case for q. A dispute id is looked up on
// the case dispute index first; the transaction id (narrowed by user id when
// given) is the fallback. Ineligible cases come back with scores cleared.
func (c *Client) LookupCase(ctx context.Context, q domain.CaseQuery) (domain.CaseRecord, error) {
	if err := q.Validate(); err != nil {
		return domain.CaseRecord{}, err
	}

	if id := strings.TrimSpace(q.DisputeID); id != "" {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			IndexName:              aws.String(caseDisputeIndex),
			KeyConditionExpression: aws.String(attrCaseDisputeID + " = :d"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d": sAttr(id),
			},
		})
		if err != nil {
			return domain.CaseRecord{}, fmt.Errorf("repository: LookupCase by dispute: %w", err)
		}
		if out != nil {
			if item, ok := firstCase(out.Items); ok {
				return itemToCase(item)
			}
		}
		if strings.TrimSpace(q.TransactionID) == "" {
			return domain.CaseRecord{}, domain.ErrCaseNotFound
		}
	}

	items, err := c.queryCases(ctx, strings.TrimSpace(q.TransactionID), strings.TrimSpace(q.UserID), 1)
	if err != nil {
		return domain.CaseRecord{}, fmt.Errorf("repository: LookupCase by transaction: %w", err)
	}
	item, ok := firstCase(items)
	if !ok {
		return domain.CaseRecord{}, domain.ErrCaseNotFound
	}
	return itemToCase(item)
}

// firstCase skips anything that is not a case item.
func firstCase(items []map[string]types.AttributeValue) (map[string]types.AttributeValue, bool) {
	for _, item := range items {
		pk, err := strAttr(item, "PK")
		if err == nil && strings.HasPrefix(pk, casePKPrefix) {
			return item, true
		}
	}
	return nil, false
}

// LinkDispute records disputeID on every case of the transaction under its
// own attribute, so the case dispute index holds case items only. A
// transaction without a case yields domain.ErrCaseNotFound.
func (c *Client) LinkDispute(ctx context.Context, transactionID, disputeID string) error {
	if strings.TrimSpace(transactionID) == "" || strings.TrimSpace(disputeID) == "" {
		return domain.ErrInvalidQuery
	}
	items, err := c.queryCases(ctx, transactionID, "", 0)
	if err != nil {
		return fmt.Errorf("repository: LinkDispute query: %w", err)
	}
	if len(items) == 0 {
		return domain.ErrCaseNotFound
	}
	for _, item := range items {
		_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:           aws.String(c.tableName),
			Key:                 map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]},
			UpdateExpression:    aws.String("SET " + attrCaseDisputeID + " = :d"),
			ConditionExpression: aws.String("attribute_exists(PK)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":d": sAttr(disputeID),
			},
		})
		if err != nil {
			if isConditionFailed(err) {
				continue
			}
			return fmt.Errorf("repository: LinkDispute update: %w", err)
		}
	}
	return nil
}

// queryCases lists case items of a transaction straight from the table, so a
// link written moments ago is visible. limit 0 means all.
func (c *Client) queryCases(ctx context.Context, transactionID, userID string, limit int32) ([]map[string]types.AttributeValue, error) {
	in := &dynamodb.QueryInput{
		TableName:      aws.String(c.tableName),
		ConsistentRead: aws.Bool(true),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": sAttr(casePK(transactionID)),
		},
	}
	if userID != "" {
		in.KeyConditionExpression = aws.String("PK = :pk AND SK = :sk")
		in.ExpressionAttributeValues[":sk"] = sAttr(caseSK(userID))
	} else {
		in.KeyConditionExpression = aws.String("PK = :pk AND begins_with(SK, :prefix)")
		in.ExpressionAttributeValues[":prefix"] = sAttr(skUserPrefix)
	}
	if limit > 0 {
		in.Limit = aws.Int32(limit)
	}
	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.Items, nil
}

func itemToCase(item map[string]types.AttributeValue) (domain.CaseRecord, error) {
	var (
		rec domain.CaseRecord
		err error
	)
	if rec.TransactionID, err = strAttr(item, "transactionId"); err != nil {
		return domain.CaseRecord{}, fmt.Errorf("repository: decode case: %w", err)
	}
	rec.DisputeID, _ = optStrAttr(item, attrCaseDisputeID)
	rec.UserID, _ = optStrAttr(item, "userId")

	eligibility, err := optStrAttr(item, "eligibility")
	if err != nil {
		return domain.CaseRecord{}, fmt.Errorf("repository: decode case: %w", err)
	}
	rec.Eligibility = domain.ParseEligibility(eligibility)

	scores := []struct {
		name string
		dst  **float64
	}{
		{"buyerFraud", &rec.BuyerFraud},
		{"sellerFraud", &rec.SellerFraud},
		{"collusion", &rec.Collusion},
		{"adjudicationConfidence", &rec.AdjudicationConfidence},
		{"payoutAmount", &rec.PayoutAmount},
	}
	for _, s := range scores {
		if *s.dst, err = optFloatAttr(item, s.name); err != nil {
			return domain.CaseRecord{}, fmt.Errorf("repository: decode case: %w", err)
		}
	}

	_, hasBuyerFlag := item["buyerFraudFlag"]
	_, hasSellerFlag := item["sellerFraudFlag"]
	if hasBuyerFlag || hasSellerFlag {
		flags := &domain.CaseFlags{
			BuyerFlagged:  boolAttr(item, "buyerFraudFlag"),
			SellerFlagged: boolAttr(item, "sellerFraudFlag"),
		}
		if flags.OutcomeConfidence, err = optFloatAttr(item, "outcomeConfidence"); err != nil {
			return domain.CaseRecord{}, fmt.Errorf("repository: decode case: %w", err)
		}
		favor, _ := optStrAttr(item, "favorParty")
		flags.FavorParty = domain.Party(favor)
		rec.Flags = flags
	}

	return rec.Normalize(), nil
}
