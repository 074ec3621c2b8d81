package graphbuilder

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/korrelate/triangulate/internal/graphstore"
	"github.com/korrelate/triangulate/internal/store"
)

func TestGraphBuilder(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Graph Builder Suite")
}

var relCols = []string{"relationship_hash", "run_id", "source_poi_id", "target_poi_id", "type", "final_confidence", "evidence_count", "status", "consolidated_payload", "updated_at"}
var poiCols = []string{"id", "file_id", "name", "type", "start_line", "end_line", "hash"}

var _ = Describe("Worker", func() {
	var (
		mockDB    *sql.DB
		mock      sqlmock.Sqlmock
		relations *store.RelationshipRepository
		pois      *store.POIRepository
		graph     graphstore.MemStore
		ctx       context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		relations = store.NewRelationshipRepository(mockDB)
		pois = store.NewPOIRepository(mockDB)
		graph = graphstore.NewMemStore()
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	// BR-TRI-110: every validated relationship's endpoints become merged
	// nodes and its hash becomes a merged edge (spec.md §4.6).
	It("ingests validated relationships in pages until a page comes back empty", func() {
		w := NewWorker(relations, pois, graph, 1, zap.NewNop())

		page1 := sqlmock.NewRows(relCols).
			AddRow("hash-a", "run-1", "p1", "p2", "CALLS", 0.9, 3, store.RelationshipValidated, []byte(`{}`), time.Now())
		mock.ExpectQuery(`SELECT relationship_hash, run_id, source_poi_id, target_poi_id, type`).
			WithArgs("run-1", store.RelationshipValidated, "", 1).
			WillReturnRows(page1)
		mock.ExpectQuery(`SELECT id, file_id, name, type, start_line, end_line, hash FROM pois WHERE id = \$1`).
			WithArgs("p1").
			WillReturnRows(sqlmock.NewRows(poiCols).AddRow("p1", "file-1", "foo", "function", 1, 5, "h1"))
		mock.ExpectQuery(`SELECT id, file_id, name, type, start_line, end_line, hash FROM pois WHERE id = \$1`).
			WithArgs("p2").
			WillReturnRows(sqlmock.NewRows(poiCols).AddRow("p2", "file-2", "bar", "function", 10, 15, "h2"))

		page2 := sqlmock.NewRows(relCols)
		mock.ExpectQuery(`SELECT relationship_hash, run_id, source_poi_id, target_poi_id, type`).
			WithArgs("run-1", store.RelationshipValidated, "hash-a", 1).
			WillReturnRows(page2)

		n, err := w.Process(ctx, "run-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(mock.ExpectationsWereMet()).To(Succeed())

		_, ok := graph.Node("p1")
		Expect(ok).To(BeTrue())
		_, ok = graph.Edge("hash-a")
		Expect(ok).To(BeTrue())
	})

	It("returns immediately when there are no validated relationships", func() {
		w := NewWorker(relations, pois, graph, 100, zap.NewNop())

		mock.ExpectQuery(`SELECT relationship_hash, run_id, source_poi_id, target_poi_id, type`).
			WithArgs("run-empty", store.RelationshipValidated, "", 100).
			WillReturnRows(sqlmock.NewRows(relCols))

		n, err := w.Process(ctx, "run-empty")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(0))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
