package thumbs

// Kind names the rewriter variant that handled an element.
type Kind string

const (
	KindImage      Kind = "image"
	KindLayout     Kind = "layout"
	KindBackground Kind = "background"
)

// Outcome is the result of one rewrite attempt.
type Outcome string

const (
	OutcomeRewritten   Outcome = "rewritten"
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeBad         Outcome = "bad"
	OutcomePlaceholder Outcome = "placeholder"
	OutcomeZeroSize    Outcome = "zero_size"
	OutcomeExhausted   Outcome = "exhausted"
	OutcomePanic       Outcome = "panic"
)

// Stats receives one call per rewrite attempt.
type Stats interface {
	Observe(kind Kind, outcome Outcome)
}

type nopStats struct{}

func (nopStats) Observe(Kind, Outcome) {}
