// Package graphstore defines the graph-store contract of spec.md §4.6 and
// a `memstore` adapter satisfying it in-process, for tests and for
// operators without a graph database. A Cypher-speaking store (e.g.
// Neo4j) is an out-of-scope external collaborator per spec.md §1's
// Non-goals: only the interface and the in-memory adapter live here.
package graphstore

import "context"

// Store is the minimal interface the graph builder needs: idempotent
// MERGE-by-id for nodes and edges, grounded on the MERGE-by-id pattern a
// Cypher-speaking backend would use, plus a transactional Batch for
// spec.md §4.6's "a batch of relationships is applied atomically or not
// at all" requirement.
type Store interface {
	MergeNode(ctx context.Context, id, kind string, props map[string]any) error
	MergeEdge(ctx context.Context, hash, sourceID, targetID, relType string, props map[string]any) error
	// RemoveNode deletes a node and any edge touching it, the sweep
	// phase's precondition for safely deleting the relational row
	// (spec.md §4.7's transactional-ordering invariant).
	RemoveNode(ctx context.Context, id string) error
	Batch(ctx context.Context, fn func(Store) error) error
}

// Node is a graph node as held by memstore.
type Node struct {
	ID    string
	Kind  string
	Props map[string]any
}

// Edge is a graph edge as held by memstore, identified by its
// relationship hash rather than source/target/type, so a corrected
// re-merge of the same relationship (e.g. after reconciliation
// redelivery) replaces rather than duplicates it.
type Edge struct {
	Hash     string
	SourceID string
	TargetID string
	Type     string
	Props    map[string]any
}

// memstore is an in-memory Store, suitable for tests and for running the
// pipeline without a real graph database attached.
type memstore struct {
	nodes map[string]Node
	edges map[string]Edge
}

// MemStore is the concrete in-memory Store type, exposing inspection
// methods (Node, Edge, NodeCount, EdgeCount) beyond the Store interface
// for tests.
type MemStore = *memstore

// NewMemStore constructs an empty in-memory graph store.
func NewMemStore() MemStore {
	return &memstore{
		nodes: make(map[string]Node),
		edges: make(map[string]Edge),
	}
}

func (m *memstore) MergeNode(ctx context.Context, id, kind string, props map[string]any) error {
	m.nodes[id] = Node{ID: id, Kind: kind, Props: props}
	return nil
}

func (m *memstore) MergeEdge(ctx context.Context, hash, sourceID, targetID, relType string, props map[string]any) error {
	m.edges[hash] = Edge{Hash: hash, SourceID: sourceID, TargetID: targetID, Type: relType, Props: props}
	return nil
}

func (m *memstore) RemoveNode(ctx context.Context, id string) error {
	delete(m.nodes, id)
	for hash, e := range m.edges {
		if e.SourceID == id || e.TargetID == id {
			delete(m.edges, hash)
		}
	}
	return nil
}

// Batch applies fn directly against the same store and forwards its
// error. memstore does not roll back: writes fn made before returning an
// error stay in place.
func (m *memstore) Batch(ctx context.Context, fn func(Store) error) error {
	return fn(m)
}

// NodeCount and EdgeCount expose memstore's size for tests.
func (m *memstore) NodeCount() int { return len(m.nodes) }
func (m *memstore) EdgeCount() int { return len(m.edges) }

// Node looks up a merged node by id, for tests asserting graph-builder
// behavior.
func (m *memstore) Node(id string) (Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// Edge looks up a merged edge by relationship hash, for tests asserting
// graph-builder behavior.
func (m *memstore) Edge(hash string) (Edge, bool) {
	e, ok := m.edges[hash]
	return e, ok
}
