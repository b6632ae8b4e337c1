package sharding

// ShardId is the opaque, comparable identifier of one shard (spec.md
// §3). A plain string keeps the identifier type uniform across the
// package's generic parameters without requiring callers to thread a
// type parameter of their own through ShardSet.
type ShardId string
