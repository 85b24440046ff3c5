/*
Package session serializes repairs of the durable observation store.

Several batches, or several learner processes sharing one store, may detect a
conflict under the same prefix at the same time. The Manager hands out
ref-counted per-prefix locks, optionally backed by a distributed locker, so a
prune of one prefix never interleaves with another prune of the same prefix.
*/
package session
