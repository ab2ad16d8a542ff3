package dialogue

import (
	"fmt"
	"regexp"
	"strings"

	"dispute-agent/internal/domain"
)

var idPattern = regexp.MustCompile(`\(ID:\s*([^)\s]+)\s*\)`)

// FormatTransactionOption renders a selectable transaction.
func FormatTransactionOption(t domain.Transaction) string {
	return fmt.Sprintf("%s - $%.2f (ID: %s)", t.Merchant, t.Amount, t.TransactionID)
}

// FormatDisputeOption renders a selectable dispute.
func FormatDisputeOption(d domain.Dispute) string {
	return fmt.Sprintf("%s - $%.2f (%s) (ID: %s)", d.Merchant, d.Amount, d.Type, d.DisputeID)
}

// ExtractID pulls an identifier out of a selected option ("... (ID: X)") or
// a bare single-token message.
func ExtractID(msg string) string {
	if m := idPattern.FindAllStringSubmatch(msg, -1); len(m) > 0 {
		return m[len(m)-1][1]
	}
	s := strings.TrimSpace(msg)
	if s == "" || strings.ContainsAny(s, " \t\n") {
		return ""
	}
	return s
}

func typeOptions() []string {
	out := make([]string, 0, len(domain.DisputeTypes))
	for _, t := range domain.DisputeTypes {
		out = append(out, t.Label())
	}
	return out
}

func yesNoOptions() []string {
	return []string{"Yes", "No"}
}

func transactionOptions(txns []domain.Transaction) []string {
	out := make([]string, 0, len(txns))
	for _, t := range txns {
		out = append(out, FormatTransactionOption(t))
	}
	return out
}

func disputeOptions(disputes []domain.Dispute) []string {
	out := make([]string, 0, len(disputes))
	for _, d := range disputes {
		out = append(out, FormatDisputeOption(d))
	}
	return out
}
