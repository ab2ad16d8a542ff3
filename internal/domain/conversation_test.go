package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func filledConversation() Conversation {
	c := NewConversation("sess-1")
	c.Stage = StageReasonSelection
	c.Intent = IntentFileNewDispute
	c.TransactionID = "TXN001"
	c.DisputeType = DisputeTypeSNAD
	c.Merchant = "Acme Store"
	c.Amount = Ptr(42.5)
	c.DisputeDetails["item_condition"] = "cracked screen"
	return c
}

func TestApply_OnlyTouchesPresentFields(t *testing.T) {
	before := filledConversation()

	after := before.Apply(ContextPatch{DisputeType: Ptr(DisputeTypeINR)})

	require.Equal(t, DisputeTypeINR, after.DisputeType)
	require.Equal(t, "TXN001", after.TransactionID)
	require.Equal(t, "Acme Store", after.Merchant)
	require.Equal(t, 42.5, *after.Amount)
	require.Equal(t, StageReasonSelection, after.Stage)
	require.Equal(t, "cracked screen", after.DisputeDetails["item_condition"])
}

func TestApply_DoesNotMutateReceiver(t *testing.T) {
	before := filledConversation()

	after := before.Apply(ContextPatch{
		Merchant:       Ptr("Other"),
		DisputeDetails: map[string]string{"contacted_seller": "yes"},
	})
	*after.Amount = 1

	require.Equal(t, "Acme Store", before.Merchant)
	require.NotContains(t, before.DisputeDetails, "contacted_seller")
	require.Equal(t, 42.5, *before.Amount)
	require.Equal(t, "yes", after.DisputeDetails["contacted_seller"])
	require.Equal(t, "cracked screen", after.DisputeDetails["item_condition"])
}

func TestApply_ResetThenFields(t *testing.T) {
	before := filledConversation()
	before.Version = 4

	after := before.Apply(ContextPatch{Reset: true, Stage: Ptr(StageTypeSelection)})

	require.Equal(t, "sess-1", after.SessionID)
	require.Equal(t, 4, after.Version)
	require.Equal(t, StageTypeSelection, after.Stage)
	require.Empty(t, after.TransactionID)
	require.Empty(t, after.DisputeDetails)
	require.Nil(t, after.Amount)
}

func TestReset_Idempotent(t *testing.T) {
	c := filledConversation()
	once := c.Reset()
	twice := once.Reset()
	require.Equal(t, once, twice)
	require.Equal(t, NewConversation("sess-1"), once)
}

func TestMerge_LaterWins(t *testing.T) {
	p := ContextPatch{Merchant: Ptr("A"), DisputeDetails: map[string]string{"a": "1"}}
	p = p.Merge(ContextPatch{Merchant: Ptr("B"), DisputeDetails: map[string]string{"b": "2"}})
	require.Equal(t, "B", *p.Merchant)
	require.Equal(t, map[string]string{"a": "1", "b": "2"}, p.DisputeDetails)

	p = p.Merge(ContextPatch{Reset: true})
	require.True(t, p.Reset)
	require.Nil(t, p.Merchant)
}

func TestMissingDetails_InAskingOrder(t *testing.T) {
	c := NewConversation("s")
	c.DisputeType = DisputeTypeUNAUTH
	require.Equal(t, []string{FieldRecognizesMerchant, FieldContactedBank}, c.MissingDetails())

	c.DisputeDetails[FieldRecognizesMerchant] = "no"
	require.Equal(t, []string{FieldContactedBank}, c.MissingDetails())
}

func TestReadyToCreate(t *testing.T) {
	c := filledConversation()
	require.False(t, c.ReadyToCreate())

	c.DisputeReason = "Item is counterfeit"
	require.False(t, c.ReadyToCreate())

	c.DisputeDetails[FieldContactedSeller] = "no"
	require.True(t, c.ReadyToCreate())
}

func TestParseDisputeType(t *testing.T) {
	for in, want := range map[string]DisputeType{
		"INR":                            DisputeTypeINR,
		" snad ":                         DisputeTypeSNAD,
		"Unauthorized Activity (UNAUTH)": DisputeTypeUNAUTH,
	} {
		got, ok := ParseDisputeType(in)
		require.True(t, ok, in)
		require.Equal(t, want, got)
	}
	_, ok := ParseDisputeType("refund please")
	require.False(t, ok)
}

func TestMatchReason(t *testing.T) {
	r, ok := DisputeTypeINR.MatchReason("item never arrived")
	require.True(t, ok)
	require.Equal(t, "Item never arrived", r)

	_, ok = DisputeTypeINR.MatchReason("Item is counterfeit")
	require.False(t, ok)
}

func TestCaseRecordNormalize_IneligibleClearsScores(t *testing.T) {
	r := CaseRecord{
		Eligibility:            EligibilityIneligible,
		BuyerFraud:             Ptr(0.1),
		SellerFraud:            Ptr(0.9),
		Collusion:              Ptr(0.1),
		AdjudicationConfidence: Ptr(0.99),
		PayoutAmount:           Ptr(10.0),
	}.Normalize()
	require.Nil(t, r.BuyerFraud)
	require.Nil(t, r.SellerFraud)
	require.Nil(t, r.Collusion)
	require.Nil(t, r.AdjudicationConfidence)
	require.NotNil(t, r.PayoutAmount)

	require.Equal(t, EligibilityUnknown, CaseRecord{}.Normalize().Eligibility)
}

func TestCaseQueryValidate(t *testing.T) {
	require.ErrorIs(t, CaseQuery{UserID: "u1"}.Validate(), ErrInvalidQuery)
	require.NoError(t, CaseQuery{DisputeID: "DSP1"}.Validate())
	require.NoError(t, CaseQuery{TransactionID: "TXN1"}.Validate())
}
