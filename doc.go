/*
Package mealycache is a caching layer between an active automata-learning algorithm
and a noisy, stateful system under learning (SUL).

Membership queries flow through three stages:

  - pkg/cache deduplicates a batch, answers what an incremental Mealy automaton already
    knows and sends the rest to the delegate in one call. Contradicting answers are settled
    against a majority-vote observation store.
  - pkg/sul drives one SUT per delegate, optionally gating every input through the
    pkg/bypass classifier so branches known to be dead are answered without the SUT.
  - pkg/ports.ObservationStore keeps every accepted observation durably. Memory, SQLite,
    Badger and Redis backends are provided.

# Usage

	store, err := sqlite.Open(ctx, "observations.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	stack, err := mealycache.New(alphabet, []ports.SUL{driver},
		mealycache.WithStore(store),
		mealycache.WithAutoRebuild(true),
	)
	if err != nil {
		log.Fatal(err)
	}

	out, err := stack.AnswerQuery(ctx, domain.Epsilon(), domain.ParseWord("SYN ACK"))

A conflict that the store's majority sides with is repaired in the store and surfaces as
domain.ErrCacheInvalidated; call Rebuild, or enable WithAutoRebuild.
*/
package mealycache
