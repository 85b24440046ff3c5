package cache

import (
	"fmt"

	"github.com/aretw0/mealycache/pkg/domain"
)

// master is one probe dispatched on behalf of every query whose input is a prefix of word.
type master struct {
	word   domain.Word
	query  *domain.Query
	slaves []*domain.Query
}

// newMaster builds a master for word, answering it from the automaton when possible.
// Callers hold o.mu.
func (o *Oracle) newMaster(word domain.Word) *master {
	m := &master{
		word:  word,
		query: domain.NewQuery(domain.Epsilon(), word),
	}
	resp, complete := o.automaton.Lookup(word)
	if complete {
		m.query.Answer(resp)
		return m
	}
	if len(o.errorSyms) == 0 || resp.IsEmpty() {
		return m
	}
	// A path that ends in an error symbol was stored truncated; the remainder is the sink.
	if sink, ok := o.errorSyms[resp.Last()]; ok {
		m.query.Answer(resp.Concat(domain.Repeat(sink, word.Len()-resp.Len())))
	}
	return m
}

// answered reports whether the master needs no dispatch.
func (m *master) answered() bool {
	return m.query.Answered()
}

// output is the full response for word.
func (m *master) output() domain.Word {
	return m.query.Output()
}

// deliver answers every slave from the master's full response.
func (m *master) deliver() {
	out := m.output()
	for _, q := range m.slaves {
		n := q.Prefix.Len() + q.Suffix.Len()
		q.Answer(out.Prefix(n).Suffix(q.Suffix.Len()))
	}
}

// checkAnswer verifies the delegate answered q with an aligned response.
func checkAnswer(q *domain.Query) error {
	if !q.Answered() {
		return fmt.Errorf("%w: delegate left %s unanswered", domain.ErrMalformedObservation, q.Input())
	}
	if q.Output().Len() != q.Input().Len() {
		return fmt.Errorf("%w: delegate answered %s with %s", domain.ErrMalformedObservation, q.Input(), q.Output())
	}
	return nil
}

// mapErrors replaces every output after the first error symbol with that symbol's sink.
// It also returns how many symbols, up to and including the error symbol, are worth storing.
func (o *Oracle) mapErrors(response domain.Word) (mapped domain.Word, keep int) {
	if len(o.errorSyms) == 0 {
		return response, response.Len()
	}
	for i := range response.Len() {
		sink, ok := o.errorSyms[response.At(i)]
		if !ok {
			continue
		}
		mapped = response.Prefix(i + 1).Concat(domain.Repeat(sink, response.Len()-i-1))
		return mapped, i + 1
	}
	return response, response.Len()
}
