/*
Package ports defines the driven ports (interfaces) for the cache layer.

These interfaces decouple the caching core from external implementations, allowing
it to work with various durable stores, SUT drivers, and lock services.

# Key Interfaces

  - Oracle: answers batches of membership queries (the learner-facing contract, and the delegate's).
  - SUL: the protocol driver that exchanges symbols with the system under test.
  - ObservationStore: durable majority-vote store of (word, response) counts.
  - DistributedLocker: provides distributed locking for store repairs across replicas.
*/
package ports
