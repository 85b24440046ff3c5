package domain

// Query is a membership query posed by the learner.
// The SUT is driven with Prefix followed by Suffix, but only the outputs
// aligned to Suffix are returned to the caller.
type Query struct {
	Prefix Word
	Suffix Word

	output   Word
	answered bool
}

// NewQuery creates an unanswered query.
func NewQuery(prefix, suffix Word) *Query {
	return &Query{Prefix: prefix, Suffix: suffix}
}

// Input returns the full probe word.
func (q *Query) Input() Word {
	return q.Prefix.Concat(q.Suffix)
}

// Answer records the suffix-aligned output.
func (q *Query) Answer(output Word) {
	q.output = output
	q.answered = true
}

// Output returns the recorded answer.
func (q *Query) Output() Word {
	return q.output
}

// Answered reports whether Answer has been called.
func (q *Query) Answered() bool {
	return q.answered
}

// String renders the query as [prefix | suffix / output].
func (q *Query) String() string {
	if !q.answered {
		return "[" + q.Prefix.String() + " | " + q.Suffix.String() + "]"
	}
	return "[" + q.Prefix.String() + " | " + q.Suffix.String() + " / " + q.output.String() + "]"
}
