package selfclean

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/korrelate/triangulate/internal/graphstore"
	"github.com/korrelate/triangulate/internal/store"
)

func TestSelfClean(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Self-Clean Reconciler Suite")
}

var fileCols = []string{"id", "run_id", "path", "checksum", "language", "status"}
var poiCols2 = []string{"id", "file_id", "name", "type", "start_line", "end_line", "hash"}

var _ = Describe("Reconciler", func() {
	var (
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		files  *store.FilesRepository
		pois   *store.POIRepository
		graph  graphstore.MemStore
		r      *Reconciler
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		files = store.NewFilesRepository(mockDB)
		pois = store.NewPOIRepository(mockDB)
		graph = graphstore.NewMemStore()
		r = NewReconciler(files, pois, graph, zap.NewNop())
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	// BR-TRI-120: files whose path no longer exists on disk are flagged
	// PENDING_DELETION; the graph store is untouched (spec.md §4.7 "Mark").
	It("flags vanished files as pending deletion without touching the graph store", func() {
		r.stat = func(path string) error {
			if path == "gone.go" {
				return os.ErrNotExist
			}
			return nil
		}

		rows := sqlmock.NewRows(fileCols).
			AddRow("file-1", "run-1", "gone.go", "c1", "go", store.FileStatusActive).
			AddRow("file-2", "run-1", "still-here.go", "c2", "go", store.FileStatusActive)
		mock.ExpectQuery(`SELECT id, run_id, path, checksum, language, status`).
			WithArgs("run-1", store.FileStatusActive).
			WillReturnRows(rows)
		mock.ExpectExec(`UPDATE files SET status`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := r.Mark(ctx, "run-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(int64(1)))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
		Expect(graph.NodeCount()).To(Equal(0))
	})

	It("does nothing when every active file is still present", func() {
		r.stat = func(path string) error { return nil }

		rows := sqlmock.NewRows(fileCols).
			AddRow("file-1", "run-1", "a.go", "c1", "go", store.FileStatusActive)
		mock.ExpectQuery(`SELECT id, run_id, path, checksum, language, status`).
			WithArgs("run-1", store.FileStatusActive).
			WillReturnRows(rows)

		n, err := r.Mark(ctx, "run-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(int64(0)))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	// BR-TRI-121: sweep removes graph nodes before the relational row, and
	// only deletes the row once the graph removal succeeded.
	It("removes graph nodes and then the relational rows during sweep", func() {
		Expect(graph.MergeNode(ctx, "file-1", "file", nil)).To(Succeed())
		Expect(graph.MergeNode(ctx, "poi-1", "function", nil)).To(Succeed())

		pendingRows := sqlmock.NewRows(fileCols).
			AddRow("file-1", "run-1", "gone.go", "c1", "go", store.FileStatusPendingDeletion)
		mock.ExpectQuery(`SELECT id, run_id, path, checksum, language, status`).
			WithArgs("run-1", store.FileStatusPendingDeletion).
			WillReturnRows(pendingRows)

		mock.ExpectQuery(`SELECT id, file_id, name, type, start_line, end_line, hash FROM pois WHERE file_id = \$1`).
			WithArgs("file-1").
			WillReturnRows(sqlmock.NewRows(poiCols2).AddRow("poi-1", "file-1", "foo", "function", 1, 2, "h1"))

		mock.ExpectExec(`DELETE FROM pois WHERE file_id = \$1`).
			WithArgs("file-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(`DELETE FROM files WHERE id = \$1`).
			WithArgs("file-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		n, err := r.Sweep(ctx, "run-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(mock.ExpectationsWereMet()).To(Succeed())

		_, ok := graph.Node("file-1")
		Expect(ok).To(BeFalse())
		_, ok = graph.Node("poi-1")
		Expect(ok).To(BeFalse())
	})

	// BR-TRI-122: a file whose relational delete fails stays pending
	// deletion rather than being silently skipped.
	It("leaves a file pending deletion when the relational delete fails", func() {
		pendingRows := sqlmock.NewRows(fileCols).
			AddRow("file-1", "run-1", "gone.go", "c1", "go", store.FileStatusPendingDeletion)
		mock.ExpectQuery(`SELECT id, run_id, path, checksum, language, status`).
			WithArgs("run-1", store.FileStatusPendingDeletion).
			WillReturnRows(pendingRows)
		mock.ExpectQuery(`SELECT id, file_id, name, type, start_line, end_line, hash FROM pois WHERE file_id = \$1`).
			WithArgs("file-1").
			WillReturnRows(sqlmock.NewRows(poiCols2))
		mock.ExpectExec(`DELETE FROM pois WHERE file_id = \$1`).
			WithArgs("file-1").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec(`DELETE FROM files WHERE id = \$1`).
			WithArgs("file-1").
			WillReturnError(sql.ErrConnDone)

		n, err := r.Sweep(ctx, "run-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(0))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})
})
