package graphstore

import (
	"context"
	"errors"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestGraphStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "GraphStore Suite")
}

var _ = Describe("MemStore", func() {
	var (
		store MemStore
		ctx   context.Context
	)

	BeforeEach(func() {
		store = NewMemStore()
		ctx = context.Background()
	})

	It("merges a node idempotently by id", func() {
		Expect(store.MergeNode(ctx, "poi-1", "function", map[string]any{"name": "foo"})).To(Succeed())
		Expect(store.MergeNode(ctx, "poi-1", "function", map[string]any{"name": "foo-renamed"})).To(Succeed())

		n, ok := store.Node("poi-1")
		Expect(ok).To(BeTrue())
		Expect(n.Props["name"]).To(Equal("foo-renamed"))
		Expect(store.NodeCount()).To(Equal(1))
	})

	It("merges an edge idempotently by relationship hash", func() {
		Expect(store.MergeEdge(ctx, "hash-1", "poi-1", "poi-2", "CALLS", map[string]any{"confidence": 0.9})).To(Succeed())
		Expect(store.MergeEdge(ctx, "hash-1", "poi-1", "poi-2", "CALLS", map[string]any{"confidence": 0.95})).To(Succeed())

		e, ok := store.Edge("hash-1")
		Expect(ok).To(BeTrue())
		Expect(e.Props["confidence"]).To(Equal(0.95))
		Expect(store.EdgeCount()).To(Equal(1))
	})

	It("removes a node and every edge touching it", func() {
		Expect(store.MergeNode(ctx, "poi-1", "function", nil)).To(Succeed())
		Expect(store.MergeNode(ctx, "poi-2", "function", nil)).To(Succeed())
		Expect(store.MergeEdge(ctx, "hash-1", "poi-1", "poi-2", "CALLS", nil)).To(Succeed())

		Expect(store.RemoveNode(ctx, "poi-1")).To(Succeed())

		_, ok := store.Node("poi-1")
		Expect(ok).To(BeFalse())
		_, ok = store.Edge("hash-1")
		Expect(ok).To(BeFalse())
		_, ok = store.Node("poi-2")
		Expect(ok).To(BeTrue())
	})

	It("rolls nothing back but forwards an error from a batch function", func() {
		sentinel := errors.New("boom")
		err := store.Batch(ctx, func(s Store) error {
			if err := s.MergeNode(ctx, "poi-1", "function", nil); err != nil {
				return err
			}
			return sentinel
		})
		Expect(err).To(Equal(sentinel))
	})
})
