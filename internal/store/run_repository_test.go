package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRunRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Run Repository Suite")
}

var _ = Describe("RunRepository", func() {
	var (
		repo   *RunRepository
		mockDB *sql.DB
		mock   sqlmock.Sqlmock
		ctx    context.Context
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		repo = NewRunRepository(mockDB)
		ctx = context.Background()
	})

	AfterEach(func() {
		mockDB.Close()
	})

	Describe("Create", func() {
		It("inserts a new run in the running state", func() {
			mock.ExpectExec(`INSERT INTO runs`).
				WithArgs("run-1", "/repo", RunStatusRunning, 42).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.Create(ctx, "run-1", "/repo", 42)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("IncrementCompleted", func() {
		It("bumps the completed job counter", func() {
			mock.ExpectExec(`UPDATE runs SET completed_jobs = completed_jobs \+ 1`).
				WithArgs("run-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.IncrementCompleted(ctx, "run-1")).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("IncrementDeadLetter", func() {
		It("bumps the dead letter job counter", func() {
			mock.ExpectExec(`UPDATE runs SET dead_letter_jobs = dead_letter_jobs \+ 1`).
				WithArgs("run-1").
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.IncrementDeadLetter(ctx, "run-1")).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	// BR-TRI-050: a run with at least one dead-lettered job still finalizes,
	// but as completed-with-dead-letters rather than completed.
	Describe("Finalize", func() {
		It("transitions to completed-with-dead-letters", func() {
			mock.ExpectExec(`UPDATE runs SET status = \$2`).
				WithArgs("run-1", RunStatusCompletedWithDeadLetters).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(repo.Finalize(ctx, "run-1", RunStatusCompletedWithDeadLetters)).To(Succeed())
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("Get", func() {
		It("returns the run with its counters", func() {
			rows := sqlmock.NewRows([]string{"id", "root_path", "status", "total_jobs", "completed_jobs", "dead_letter_jobs", "created_at", "updated_at"}).
				AddRow("run-1", "/repo", RunStatusRunning, 42, 10, 1, time.Now(), time.Now())

			mock.ExpectQuery(`SELECT id, root_path, status, total_jobs, completed_jobs, dead_letter_jobs`).
				WithArgs("run-1").
				WillReturnRows(rows)

			got, err := repo.Get(ctx, "run-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.TotalJobs).To(Equal(42))
			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
