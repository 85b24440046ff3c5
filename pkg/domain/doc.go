/*
Package domain contains the core value types of the cache layer.

It is kept pure and free of I/O, following Hexagonal Architecture principles:
stores, SUT drivers and learners plug in through the interfaces in package ports.

# Key Entities

  - Symbol / Word: atomic tokens and immutable sequences of them. Word.Key is the
    canonical space-joined form used as a durable store key.
  - Alphabet: the fixed, ordered input symbol set. Its order drives batch sorting.
  - Query: a (prefix, suffix) membership query whose answer is aligned to the suffix.
  - Observation: a durable (key, response, count, synthetic) record.
  - ConflictError / ConsistencyError: the recoverable and fatal outcomes of
    contradicting observations.
*/
package domain
