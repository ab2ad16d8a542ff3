package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"dispute-agent/internal/domain"
)

func caseAttrs(txn, user, eligibility string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":                     &types.AttributeValueMemberS{Value: casePK(txn)},
		"SK":                     &types.AttributeValueMemberS{Value: caseSK(user)},
		"transactionId":          &types.AttributeValueMemberS{Value: txn},
		"userId":                 &types.AttributeValueMemberS{Value: user},
		"eligibility":            &types.AttributeValueMemberS{Value: eligibility},
		"buyerFraud":             &types.AttributeValueMemberN{Value: "0.1"},
		"sellerFraud":            &types.AttributeValueMemberN{Value: "0.9"},
		"collusion":              &types.AttributeValueMemberS{Value: "0.05"},
		"adjudicationConfidence": &types.AttributeValueMemberN{Value: "0.95"},
		"payoutAmount":           &types.AttributeValueMemberNULL{Value: true},
	}
}

func TestLookupCase_InvalidQuery(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.LookupCase(context.Background(), domain.CaseQuery{UserID: "u1"})
	require.ErrorIs(t, err, domain.ErrInvalidQuery)
	require.Empty(t, db.queryInputs)
}

func TestLookupCase_ByDisputeID(t *testing.T) {
	item := caseAttrs("T1", "u1", "eligible")
	item[attrCaseDisputeID] = &types.AttributeValueMemberS{Value: "DSP1"}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)

	rec, err := c.LookupCase(context.Background(), domain.CaseQuery{DisputeID: "DSP1"})
	require.NoError(t, err)
	require.Equal(t, "DSP1", rec.DisputeID)
	require.Equal(t, "T1", rec.TransactionID)
	require.Equal(t, domain.EligibilityEligible, rec.Eligibility)
	require.InDelta(t, 0.05, *rec.Collusion, 1e-9)
	require.Nil(t, rec.PayoutAmount)
	require.Nil(t, rec.Flags)

	require.Len(t, db.queryInputs, 1)
	in := db.queryInputs[0]
	require.Equal(t, caseDisputeIndex, *in.IndexName)
	require.Equal(t, "caseDisputeId = :d", *in.KeyConditionExpression)
	require.Nil(t, in.Limit)
}

func TestLookupCase_ByDisputeIDSkipsDisputeAndMarkerItems(t *testing.T) {
	d := domain.Dispute{DisputeID: "DSP1", TransactionID: "T1", Type: domain.DisputeTypeINR, Status: domain.DisputeStatusOpen, Amount: 149.99}
	marker := key(transactionPK("T1"), skOpenDispute)
	marker["disputeId"] = sAttr("DSP1")
	caseItem := caseAttrs("T1", "u1", "eligible")
	caseItem["payoutAmount"] = &types.AttributeValueMemberN{Value: "149.99"}
	caseItem[attrCaseDisputeID] = sAttr("DSP1")

	for name, items := range map[string][]map[string]types.AttributeValue{
		"meta first":   {disputeItem(d), marker, caseItem},
		"marker first": {marker, disputeItem(d), caseItem},
	} {
		t.Run(name, func(t *testing.T) {
			db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: items}}}
			c := mustNewClient(t, db)

			rec, err := c.LookupCase(context.Background(), domain.CaseQuery{DisputeID: "DSP1"})
			require.NoError(t, err)
			require.Equal(t, "u1", rec.UserID)
			require.NotNil(t, rec.PayoutAmount)
			require.InDelta(t, 149.99, *rec.PayoutAmount, 1e-9)
		})
	}
}

func TestLookupCase_ByDisputeIDWithoutCaseItem(t *testing.T) {
	d := domain.Dispute{DisputeID: "DSP1", TransactionID: "T1", Type: domain.DisputeTypeINR, Status: domain.DisputeStatusOpen}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{disputeItem(d)}}}}
	c := mustNewClient(t, db)

	_, err := c.LookupCase(context.Background(), domain.CaseQuery{DisputeID: "DSP1"})
	require.ErrorIs(t, err, domain.ErrCaseNotFound)
}

func TestLookupCase_DisputeAndTransactionReadsFreshLink(t *testing.T) {
	item := caseAttrs("T1", "u1", "eligible")
	item[attrCaseDisputeID] = sAttr("DSP1")
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{},
		{Items: []map[string]types.AttributeValue{item}},
	}}
	c := mustNewClient(t, db)

	rec, err := c.LookupCase(context.Background(), domain.CaseQuery{DisputeID: "DSP1", TransactionID: "T1"})
	require.NoError(t, err)
	require.Equal(t, "DSP1", rec.DisputeID)

	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[1].IndexName)
	require.True(t, *db.queryInputs[1].ConsistentRead)
}

func TestLookupCase_DisputeMissFallsBackToTransaction(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{
		{},
		{Items: []map[string]types.AttributeValue{caseAttrs("T1", "u1", "eligible")}},
	}}
	c := mustNewClient(t, db)

	rec, err := c.LookupCase(context.Background(), domain.CaseQuery{DisputeID: "DSP1", TransactionID: "T1"})
	require.NoError(t, err)
	require.Equal(t, "u1", rec.UserID)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[1].IndexName)
}

func TestLookupCase_DisputeMissWithoutTransaction(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	_, err := c.LookupCase(context.Background(), domain.CaseQuery{DisputeID: "DSP404"})
	require.ErrorIs(t, err, domain.ErrCaseNotFound)
}

func TestLookupCase_ByTransactionAndUser(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{caseAttrs("T1", "u7", "eligible")}}}}
	c := mustNewClient(t, db)

	_, err := c.LookupCase(context.Background(), domain.CaseQuery{TransactionID: "T1", UserID: "u7"})
	require.NoError(t, err)

	in := db.queryInputs[0]
	require.Equal(t, "PK = :pk AND SK = :sk", *in.KeyConditionExpression)
	require.Equal(t, "CASE#T1", sOf(t, in.ExpressionAttributeValues, ":pk"))
	require.Equal(t, "USER#u7", sOf(t, in.ExpressionAttributeValues, ":sk"))
	require.Equal(t, int32(1), *in.Limit)
}

func TestLookupCase_ByTransactionOnly(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	_, err := c.LookupCase(context.Background(), domain.CaseQuery{TransactionID: "T1"})
	require.ErrorIs(t, err, domain.ErrCaseNotFound)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
}

func TestLookupCase_IneligibleClearsScores(t *testing.T) {
	item := caseAttrs("T1", "u1", "INELIGIBLE")
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)

	rec, err := c.LookupCase(context.Background(), domain.CaseQuery{TransactionID: "T1"})
	require.NoError(t, err)
	require.Equal(t, domain.EligibilityIneligible, rec.Eligibility)
	require.Nil(t, rec.BuyerFraud)
	require.Nil(t, rec.SellerFraud)
	require.Nil(t, rec.Collusion)
	require.Nil(t, rec.AdjudicationConfidence)
}

func TestLookupCase_DecodesFlags(t *testing.T) {
	item := caseAttrs("T1", "u1", "")
	item["buyerFraudFlag"] = &types.AttributeValueMemberBOOL{Value: false}
	item["sellerFraudFlag"] = &types.AttributeValueMemberBOOL{Value: true}
	item["outcomeConfidence"] = &types.AttributeValueMemberN{Value: "0.9"}
	item["favorParty"] = &types.AttributeValueMemberS{Value: "buyer"}
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}}
	c := mustNewClient(t, db)

	rec, err := c.LookupCase(context.Background(), domain.CaseQuery{TransactionID: "T1"})
	require.NoError(t, err)
	require.Equal(t, domain.EligibilityUnknown, rec.Eligibility)
	require.NotNil(t, rec.Flags)
	require.True(t, rec.Flags.SellerFlagged)
	require.False(t, rec.Flags.BuyerFlagged)
	require.InDelta(t, 0.9, *rec.Flags.OutcomeConfidence, 1e-9)
	require.Equal(t, domain.PartyBuyer, rec.Flags.FavorParty)
}

func TestLookupCase_MalformedScore(t *testing.T) {
	item := caseAttrs("T1", "u1", "eligible")
	item["buyerFraud"] = &types.AttributeValueMemberS{Value: "high"}
	c := mustNewClient(t, &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{item}}}})

	_, err := c.LookupCase(context.Background(), domain.CaseQuery{TransactionID: "T1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "buyerFraud")
}

func TestLookupCase_QueryError(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := c.LookupCase(context.Background(), domain.CaseQuery{DisputeID: "DSP1"})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrCaseNotFound)
}

func TestLinkDispute_UpdatesEveryCase(t *testing.T) {
	db := &fakeDynamo{queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{
		caseAttrs("T1", "u1", "eligible"),
		caseAttrs("T1", "u2", "eligible"),
	}}}}
	c := mustNewClient(t, db)

	require.NoError(t, c.LinkDispute(context.Background(), "T1", "DSP1"))
	require.Len(t, db.updateInputs, 2)
	require.Equal(t, "SET caseDisputeId = :d", *db.updateInputs[0].UpdateExpression)
	require.Equal(t, "DSP1", sOf(t, db.updateInputs[0].ExpressionAttributeValues, ":d"))
	require.Equal(t, "USER#u2", sOf(t, db.updateInputs[1].Key, "SK"))
}

func TestLinkDispute_NoCase(t *testing.T) {
	c := mustNewClient(t, &fakeDynamo{})
	require.ErrorIs(t, c.LinkDispute(context.Background(), "T1", "DSP1"), domain.ErrCaseNotFound)
	require.ErrorIs(t, c.LinkDispute(context.Background(), "", "DSP1"), domain.ErrInvalidQuery)
}

func TestLinkDispute_SkipsVanishedCase(t *testing.T) {
	db := &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{caseAttrs("T1", "u1", "eligible")}}},
		updateErr: &types.ConditionalCheckFailedException{Message: aws.String("gone")},
	}
	c := mustNewClient(t, db)
	require.NoError(t, c.LinkDispute(context.Background(), "T1", "DSP1"))

	db = &fakeDynamo{
		queryOuts: []*dynamodb.QueryOutput{{Items: []map[string]types.AttributeValue{caseAttrs("T1", "u1", "eligible")}}},
		updateErr: errors.New("throttled"),
	}
	c = mustNewClient(t, db)
	require.Error(t, c.LinkDispute(context.Background(), "T1", "DSP1"))
}
