package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestFilesRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Files Repository Suite")
}

var _ = Describe("FilesRepository", func() {
	var (
		repo   *FilesRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		repo = NewFilesRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Upsert", func() {
		It("records a discovered file as active", func() {
			f := File{ID: "file-1", RunID: "run-1", Path: "a.go", Checksum: "abc", Language: "go"}

			mock.ExpectExec(`INSERT INTO files`).
				WithArgs(f.ID, f.RunID, f.Path, f.Checksum, f.Language, FileStatusActive).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.Upsert(ctx, f)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	// BR-TRI-040: the mark phase flags every active file not rediscovered
	// by the current walk as pending_deletion.
	Describe("MarkPendingDeletion", func() {
		It("flags files absent from the current walk's seen set", func() {
			mock.ExpectExec(`UPDATE files SET status = \$1`).
				WithArgs(FileStatusPendingDeletion, "run-1", FileStatusActive, `{"file-1","file-2"}`).
				WillReturnResult(sqlmock.NewResult(0, 2))

			n, err := repo.MarkPendingDeletion(ctx, "run-1", []string{"file-1", "file-2"})
			Expect(err).ToNot(HaveOccurred())
			Expect(n).To(Equal(int64(2)))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("ListPendingDeletion", func() {
		It("returns the sweep phase's work list", func() {
			rows := sqlmock.NewRows([]string{"id", "run_id", "path", "checksum", "language", "status"}).
				AddRow("file-3", "run-1", "old.go", "xyz", "go", FileStatusPendingDeletion)

			mock.ExpectQuery(`SELECT id, run_id, path, checksum, language, status`).
				WithArgs("run-1", FileStatusPendingDeletion).
				WillReturnRows(rows)

			got, err := repo.ListPendingDeletion(ctx, "run-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(got[0].ID).To(Equal("file-3"))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Delete", func() {
		It("returns a not-found error when the row is already gone", func() {
			mock.ExpectExec(`DELETE FROM files WHERE id = \$1`).
				WithArgs("file-3").
				WillReturnResult(sqlmock.NewResult(0, 0))

			err := repo.Delete(ctx, "file-3")
			Expect(err).To(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
