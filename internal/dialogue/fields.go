package dialogue

import (
	"strings"
	"time"

	"dispute-agent/internal/domain"
)

const maxItemConditionLen = 500

var fieldQuestions = map[string]string{
	domain.FieldExpectedDeliveryDate: "What was the expected delivery date?",
	domain.FieldContactedSeller:      "Have you contacted the seller?",
	domain.FieldItemCondition:        "What's wrong with the item? Please describe the issues.",
	domain.FieldRecognizesMerchant:   "Do you recognize the merchant?",
	domain.FieldContactedBank:        "Have you contacted your bank?",
}

var yesNoFields = map[string]bool{
	domain.FieldContactedSeller:    true,
	domain.FieldRecognizesMerchant: true,
	domain.FieldContactedBank:      true,
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	time.RFC3339,
}

var yesWords = map[string]bool{"yes": true, "y": true, "yeah": true, "yep": true, "true": true, "i have": true, "i did": true}
var noWords = map[string]bool{"no": true, "n": true, "nope": true, "false": true, "not yet": true, "i haven't": true, "i have not": true, "i did not": true}

// NormalizeDetail validates a raw value for a detail field and returns its
// canonical form: yes/no for boolean fields, YYYY-MM-DD for dates.
func NormalizeDetail(field, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	switch {
	case yesNoFields[field]:
		yes, ok := parseYesNo(raw)
		if !ok {
			return "", false
		}
		if yes {
			return "yes", true
		}
		return "no", true
	case field == domain.FieldExpectedDeliveryDate:
		d, ok := parseDate(raw)
		if !ok {
			return "", false
		}
		return d.Format("2006-01-02"), true
	case field == domain.FieldItemCondition:
		if len(raw) > maxItemConditionLen {
			return "", false
		}
		return raw, true
	}
	return "", false
}

func parseYesNo(raw string) (yes, ok bool) {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(raw), ".!"))
	if yesWords[s] {
		return true, true
	}
	if noWords[s] {
		return false, true
	}
	return false, false
}

func parseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return d, true
		}
	}
	return time.Time{}, false
}

func fieldOptions(field string) []string {
	if yesNoFields[field] {
		return yesNoOptions()
	}
	return nil
}

// validDetails keeps only known detail fields of t whose values normalize.
func validDetails(t domain.DisputeType, in map[string]string) map[string]string {
	if len(in) == 0 || !t.Valid() {
		return nil
	}
	out := map[string]string{}
	for _, f := range t.RequiredFields() {
		raw, ok := in[f]
		if !ok {
			continue
		}
		if v, ok := NormalizeDetail(f, raw); ok {
			out[f] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
