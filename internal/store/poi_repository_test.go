package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPOIRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "POI Repository Suite")
}

var _ = Describe("POIRepository", func() {
	var (
		repo   *POIRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
		p      POI
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		repo = NewPOIRepository(mockDB)
		ctx = context.Background()

		p = POI{ID: "poi-1", FileID: "file-1", Name: "DoThing", Type: "function", StartLine: 10, EndLine: 20, Hash: "h1"}
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Upsert", func() {
		It("inserts or refreshes the POI by its deterministic id", func() {
			mock.ExpectExec(`INSERT INTO pois`).
				WithArgs(p.ID, p.FileID, p.Name, p.Type, p.StartLine, p.EndLine, p.Hash).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.Upsert(ctx, p)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Get", func() {
		It("returns a not-found error for an unknown id", func() {
			mock.ExpectQuery(`SELECT id, file_id, name, type, start_line, end_line, hash`).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			_, err := repo.Get(ctx, "missing")
			Expect(err).To(HaveOccurred())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("ListByFile", func() {
		It("returns every POI extracted from the file", func() {
			rows := sqlmock.NewRows([]string{"id", "file_id", "name", "type", "start_line", "end_line", "hash"}).
				AddRow(p.ID, p.FileID, p.Name, p.Type, p.StartLine, p.EndLine, p.Hash)

			mock.ExpectQuery(`SELECT id, file_id, name, type, start_line, end_line, hash FROM pois WHERE file_id`).
				WithArgs(p.FileID).
				WillReturnRows(rows)

			got, err := repo.ListByFile(ctx, p.FileID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(HaveLen(1))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("DeleteByFile", func() {
		It("removes every POI belonging to the file", func() {
			mock.ExpectExec(`DELETE FROM pois WHERE file_id = \$1`).
				WithArgs(p.FileID).
				WillReturnResult(sqlmock.NewResult(0, 4))

			Expect(repo.DeleteByFile(ctx, p.FileID)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
