package domain

// Observation is one durable (key, response) record.
// ID reflects first-seen order and breaks ties between equal counts.
type Observation struct {
	ID        int64 `json:"id"`
	Key       Word  `json:"key"`
	Response  Word  `json:"response"`
	Count     int64 `json:"count"`
	Synthetic bool  `json:"synthetic"`
}

// Outranks reports whether o beats other in a majority vote:
// higher count first, then earlier first-seen order.
func (o Observation) Outranks(other Observation) bool {
	if o.Count != other.Count {
		return o.Count > other.Count
	}
	return o.ID < other.ID
}

// ExtendsKey reports whether key equals prefix or word-extends it.
func ExtendsKey(key, prefix Word) bool {
	return prefix.IsPrefixOf(key)
}
