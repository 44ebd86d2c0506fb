// Package memory manages long-term memory: facts and preferences about a
// user that persist across sessions.
//
// Records are produced by an extraction step over recent conversation
// content, consolidated against near-duplicates instead of inserted blindly,
// retrieved under a blended relevance/recency/importance score, and pruned
// once their confidence decays below a configured floor.
//
// Architecture:
//   - Store: vector storage backend (in-memory for tests, chromem for local,
//     pgvector-style backends for production)
//   - Embedder: text-to-vector conversion (mock for tests, ONNX for local,
//     API embedders for production)
//   - Extractor: distills memory-worthy statements from conversation windows
//   - Manager: orchestrates generation, consolidation, retrieval, and pruning
//
// Retrieval is the only hot-path operation. An unavailable backend surfaces
// as a transient error so the caller can proceed without memories: memory is
// an enhancement, not a correctness dependency of the agent's ability to
// respond.
package memory
