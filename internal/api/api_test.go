package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
	"github.com/korrelate/triangulate/internal/queue"
	"github.com/korrelate/triangulate/internal/store"
	"github.com/korrelate/triangulate/internal/telemetry/metrics"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Operator API Suite")
}

var runCols = []string{"id", "root_path", "status", "total_jobs", "completed_jobs", "dead_letter_jobs", "created_at", "updated_at"}

type fakeStarter struct {
	runID string
	err   error
}

func (f *fakeStarter) Start(ctx context.Context, rootPath string) (string, error) {
	return f.runID, f.err
}

var _ = Describe("Server", func() {
	var (
		mockDB   *sql.DB
		mock     sqlmock.Sqlmock
		runs     *store.RunRepository
		mr       *miniredis.Miniredis
		q        *queue.Queue
		starter  *fakeStarter
		server   *Server
		router   http.Handler
	)

	BeforeEach(func() {
		var err error
		mockDB, mock, err = sqlmock.New(sqlmock.MonitorPingsOption(true))
		Expect(err).ToNot(HaveOccurred())
		runs = store.NewRunRepository(mockDB)

		mr, err = miniredis.Run()
		Expect(err).ToNot(HaveOccurred())
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		q = queue.New(rdb, 3, 10*time.Millisecond, time.Minute)

		starter = &fakeStarter{runID: "run-new"}
		m := metrics.NewWithRegistry("triangulate_test", prometheus.NewRegistry())
		server = NewServer(runs, q, starter, m, zap.NewNop())
		router = server.NewRouter([]string{"*"})
	})

	AfterEach(func() {
		mockDB.Close()
		mr.Close()
	})

	It("reports healthy on /healthz", func() {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	// BR-TRI-140: POST /runs starts a new run and returns its id.
	It("starts a run on POST /runs", func() {
		body, _ := json.Marshal(map[string]string{"root_path": "/repo"})
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusCreated))
		var resp createRunResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.RunID).To(Equal("run-new"))
	})

	It("rejects POST /runs with no root_path", func() {
		body, _ := json.Marshal(map[string]string{"root_path": ""})
		req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	// BR-TRI-141: GET /runs/{runId} returns status and counters.
	It("returns run status on GET /runs/{runId}", func() {
		now := time.Now()
		rows := sqlmock.NewRows(runCols).
			AddRow("run-1", "/repo", store.RunStatusRunning, 10, 4, 1, now, now)
		mock.ExpectQuery(`SELECT id, root_path, status, total_jobs, completed_jobs, dead_letter_jobs`).
			WithArgs("run-1").
			WillReturnRows(rows)

		req := httptest.NewRequest(http.MethodGet, "/runs/run-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp runResponse
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Status).To(Equal(string(store.RunStatusRunning)))
		Expect(resp.TotalJobs).To(Equal(10))
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("returns 404 for an unknown run", func() {
		mock.ExpectQuery(`SELECT id, root_path, status, total_jobs, completed_jobs, dead_letter_jobs`).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	// BR-TRI-142: GET /runs/{runId}/failed-jobs walks every queue's
	// dead-letter set and returns only this run's jobs.
	It("returns only this run's dead-lettered jobs", func() {
		now := time.Now()
		mock.ExpectQuery(`SELECT id, root_path, status, total_jobs, completed_jobs, dead_letter_jobs`).
			WithArgs("run-1").
			WillReturnRows(sqlmock.NewRows(runCols).AddRow("run-1", "/repo", store.RunStatusRunning, 2, 0, 1, now, now))

		ctx := context.Background()
		job1, err := q.Enqueue(ctx, queue.NewJobOptions{RunID: "run-1", Queue: queue.QueueFileAnalysis, Type: queue.JobTypeFileAnalysis, MaxAttempts: 1})
		Expect(err).ToNot(HaveOccurred())
		deliveredJob, err := q.Dequeue(ctx, queue.QueueFileAnalysis)
		Expect(err).ToNot(HaveOccurred())
		Expect(deliveredJob.ID).To(Equal(job1.ID))
		Expect(q.Fail(ctx, deliveredJob, pipelineerrors.NewInvariantViolationError("boom"))).To(Succeed())

		_, err = q.Enqueue(ctx, queue.NewJobOptions{RunID: "run-other", Queue: queue.QueueFileAnalysis, Type: queue.JobTypeFileAnalysis, MaxAttempts: 1})
		Expect(err).ToNot(HaveOccurred())
		otherJob, err := q.Dequeue(ctx, queue.QueueFileAnalysis)
		Expect(err).ToNot(HaveOccurred())
		Expect(q.Fail(ctx, otherJob, pipelineerrors.NewInvariantViolationError("boom"))).To(Succeed())

		req := httptest.NewRequest(http.MethodGet, "/runs/run-1/failed-jobs", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp []failedJob
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp).To(HaveLen(1))
		Expect(resp[0].ID).To(Equal(job1.ID))
	})
})
