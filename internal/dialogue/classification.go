package dialogue

import "dispute-agent/internal/domain"

// ClassificationKind tags the outcome of an intent classifier call.
type ClassificationKind int

const (
	ClassifiedOK ClassificationKind = iota
	ClassifiedMalformed
	ClassifiedUnavailable
)

func (k ClassificationKind) String() string {
	switch k {
	case ClassifiedOK:
		return "ok"
	case ClassifiedMalformed:
		return "malformed"
	case ClassifiedUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// Suggestion is schema-valid classifier output. It is still only a
// suggestion: stage handlers verify every field before using it.
type Suggestion struct {
	Intent   domain.Intent
	Response string
	Options  []string
	Patch    domain.ContextPatch
}

// Classification is the tagged result of classifying one user message.
type Classification struct {
	Kind       ClassificationKind
	Suggestion Suggestion
	Err        error
}

func OK(s Suggestion) Classification {
	return Classification{Kind: ClassifiedOK, Suggestion: s}
}

func Malformed(err error) Classification {
	return Classification{Kind: ClassifiedMalformed, Err: err}
}

func Unavailable(err error) Classification {
	return Classification{Kind: ClassifiedUnavailable, Err: err}
}
