/*
Package cache implements the query cache that sits between a learning algorithm
and its delegate oracle.

An Oracle sorts each batch so prefix-related queries are adjacent, answers what
it can from an incrementally built Mealy automaton, and dispatches one master
query per group of overlapping queries. Answers coming back from the delegate
are checked against the automaton; contradictions are settled by majority vote
in the durable observation store, with a bounded number of fresh probes.
*/
package cache
