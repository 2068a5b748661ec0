package worker

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/kerf/internal/metrics"
	"github.com/DukeRupert/kerf/internal/repository"
)

var jobColumns = []string{
	"id", "job_type", "payload", "status", "priority", "attempts", "max_attempts",
	"scheduled_at", "started_at", "completed_at", "error_message", "created_at",
}

func query(name string) string {
	return regexp.QuoteMeta("-- name: " + name + " ")
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = time.Hour
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func newTestWorker(t *testing.T, cfg Config) (*Worker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	w, err := New(db, repository.New(db), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return w, mock
}

type funcHandler struct {
	jobType string
	handle  func(ctx context.Context, payload []byte) error
}

func (h funcHandler) Type() string { return h.jobType }

func (h funcHandler) Handle(ctx context.Context, payload []byte) error {
	return h.handle(ctx, payload)
}

func noopHandler(jobType string) funcHandler {
	return funcHandler{jobType: jobType, handle: func(context.Context, []byte) error { return nil }}
}

func expectClaim(mock sqlmock.Sqlmock, id uuid.UUID, jobType string, payload []byte, attempts int) {
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(query("DequeueJob")).
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			id.String(), jobType, payload, "pending", 20, attempts, 5, now, nil, nil, nil, now,
		))
	mock.ExpectExec(query("UpdateJobStarted")).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func counterValue(t *testing.T, jobType, status string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.JobsTotal.WithLabelValues(jobType, status).Write(&m))
	return m.GetCounter().GetValue()
}

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no goroutines", mutate: func(c *Config) { c.Concurrency = 0 }, wantErr: "concurrency"},
		{name: "too many goroutines", mutate: func(c *Config) { c.Concurrency = 33 }, wantErr: "concurrency"},
		{name: "busy polling", mutate: func(c *Config) { c.PollInterval = 10 * time.Millisecond }, wantErr: "poll interval"},
		{name: "stale threshold inside job timeout", mutate: func(c *Config) { c.StaleJobThreshold = c.JobTimeout }, wantErr: "stale job threshold"},
		{name: "unknown required type", mutate: func(c *Config) { c.RequiredJobTypes = []string{"generate_report"} }, wantErr: `"generate_report"`},
		{name: "archive jobs required", mutate: func(c *Config) {
			c.RequiredJobTypes = append(c.RequiredJobTypes, JobTypeArchiveWebhookEvent)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			cfg.RequiredJobTypes = append([]string(nil), valid.RequiredJobTypes...)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	err := Config{}.Validate()
	require.Error(t, err)
	for _, want := range []string{"concurrency", "poll interval", "job timeout", "shutdown timeout"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload[BillingEmailPayload]([]byte(`{"kind":"trial_ending","event_id":"evt_1","user_id":"u1"}`))
	require.NoError(t, err)
	assert.Equal(t, BillingEmailTrialEnding, p.Kind)
	assert.Equal(t, "evt_1", p.EventID)

	_, err = DecodePayload[ArchiveWebhookEventPayload]([]byte(`{"event_id":`))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	wrapped := errors.Join(errors.New("send failed"), NewPermanentError(errors.New("no customer")))

	assert.True(t, IsPermanent(NewPermanentError(context.Canceled)))
	assert.True(t, IsPermanent(wrapped))
	assert.True(t, errors.Is(NewPermanentError(context.Canceled), context.Canceled))
	assert.False(t, IsPermanent(context.Canceled))
	assert.False(t, IsPermanent(nil))
}

func TestWorker_Register(t *testing.T) {
	w, _ := newTestWorker(t, testConfig())

	require.NoError(t, w.Register(noopHandler(JobTypeBillingEmail)))
	require.NoError(t, w.Register(noopHandler(JobTypeArchiveWebhookEvent)))

	err := w.Register(noopHandler(JobTypeBillingEmail))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")

	err = w.Register(noopHandler("analyze_inspection"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown job type")
}

func TestWorker_StartRequiresHandlers(t *testing.T) {
	cfg := testConfig()
	cfg.RequiredJobTypes = []string{JobTypeBillingEmail, JobTypeArchiveWebhookEvent}
	w, mock := newTestWorker(t, cfg)
	require.NoError(t, w.Register(noopHandler(JobTypeBillingEmail)))

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobTypeArchiveWebhookEvent)
	// Nothing touched the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_ProcessNext(t *testing.T) {
	payload, err := json.Marshal(BillingEmailPayload{Kind: BillingEmailPaymentFailed, EventID: "evt_fail", UserID: "u1"})
	require.NoError(t, err)

	tests := []struct {
		name          string
		jobType       string
		handleErr     error
		wantPermanent bool
		wantStatus    string
	}{
		{name: "success", jobType: JobTypeBillingEmail, wantStatus: "completed"},
		{name: "retryable failure", jobType: JobTypeBillingEmail, handleErr: errors.New("smtp: 421 try again"), wantStatus: "failed"},
		{name: "permanent failure", jobType: JobTypeBillingEmail, handleErr: NewPermanentError(errors.New("no customer")), wantPermanent: true, wantStatus: "failed"},
		{name: "no handler registered", jobType: JobTypeArchiveWebhookEvent, wantPermanent: true, wantStatus: "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, mock := newTestWorker(t, testConfig())
			var got BillingEmailPayload
			require.NoError(t, w.Register(funcHandler{jobType: JobTypeBillingEmail, handle: func(ctx context.Context, p []byte) error {
				_, hasDeadline := ctx.Deadline()
				assert.True(t, hasDeadline, "handler should run under the job timeout")
				got, _ = DecodePayload[BillingEmailPayload](p)
				return tt.handleErr
			}}))

			id := uuid.New()
			expectClaim(mock, id, tt.jobType, payload, 0)
			if tt.wantStatus == "completed" {
				mock.ExpectExec(query("UpdateJobCompleted")).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
			} else {
				mock.ExpectExec(query("UpdateJobFailed")).
					WithArgs(tt.wantPermanent, sqlmock.AnyArg(), id).
					WillReturnResult(sqlmock.NewResult(0, 1))
			}
			before := counterValue(t, tt.jobType, tt.wantStatus)

			err := w.processNext(context.Background(), w.logger)
			if tt.wantStatus == "completed" {
				require.NoError(t, err)
				assert.Equal(t, BillingEmailPaymentFailed, got.Kind)
				assert.Equal(t, "evt_fail", got.EventID)
			} else {
				require.Error(t, err)
			}
			assert.Equal(t, before+1, counterValue(t, tt.jobType, tt.wantStatus))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestWorker_ProcessNextRecordsRetry(t *testing.T) {
	w, mock := newTestWorker(t, testConfig())
	require.NoError(t, w.Register(noopHandler(JobTypeArchiveWebhookEvent)))

	id := uuid.New()
	expectClaim(mock, id, JobTypeArchiveWebhookEvent, []byte(`{"event_id":"evt_1"}`), 2)
	mock.ExpectExec(query("UpdateJobCompleted")).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))

	var before dto.Metric
	require.NoError(t, metrics.JobRetriesTotal.WithLabelValues(JobTypeArchiveWebhookEvent).Write(&before))

	require.NoError(t, w.processNext(context.Background(), w.logger))

	var after dto.Metric
	require.NoError(t, metrics.JobRetriesTotal.WithLabelValues(JobTypeArchiveWebhookEvent).Write(&after))
	assert.Equal(t, before.GetCounter().GetValue()+1, after.GetCounter().GetValue())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_ProcessNextEmptyQueue(t *testing.T) {
	w, mock := newTestWorker(t, testConfig())
	mock.ExpectBegin()
	mock.ExpectQuery(query("DequeueJob")).WillReturnRows(sqlmock.NewRows(jobColumns))
	mock.ExpectRollback()

	err := w.processNext(context.Background(), w.logger)
	assert.True(t, errors.Is(err, sql.ErrNoRows), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorker_StopIsIdempotent(t *testing.T) {
	w, mock := newTestWorker(t, testConfig())
	require.NoError(t, w.Register(noopHandler(JobTypeBillingEmail)))

	mock.ExpectExec(query("RecoverStaleJobs")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(query("DequeueJob")).WillReturnRows(sqlmock.NewRows(jobColumns))
	mock.ExpectRollback()

	require.NoError(t, w.Start(context.Background()))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestWorker_ExitsWhenContextDone(t *testing.T) {
	w, mock := newTestWorker(t, testConfig())
	require.NoError(t, w.Register(noopHandler(JobTypeBillingEmail)))

	mock.ExpectExec(query("RecoverStaleJobs")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectBegin()
	mock.ExpectQuery(query("DequeueJob")).WillReturnRows(sqlmock.NewRows(jobColumns))
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("worker goroutines did not exit after cancel")
	}
}

func TestWorker_DrainsQueueWithoutWaiting(t *testing.T) {
	// PollInterval is an hour, so both jobs only run if the loop re-polls
	// immediately after a job completes.
	w, mock := newTestWorker(t, testConfig())
	var handled atomic.Int32
	require.NoError(t, w.Register(funcHandler{jobType: JobTypeBillingEmail, handle: func(context.Context, []byte) error {
		handled.Add(1)
		return nil
	}}))

	mock.ExpectExec(query("RecoverStaleJobs")).WillReturnResult(sqlmock.NewResult(0, 0))
	for range 2 {
		id := uuid.New()
		expectClaim(mock, id, JobTypeBillingEmail, []byte(`{"kind":"trial_ending"}`), 0)
		mock.ExpectExec(query("UpdateJobCompleted")).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectBegin()
	mock.ExpectQuery(query("DequeueJob")).WillReturnRows(sqlmock.NewRows(jobColumns))
	mock.ExpectRollback()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.Eventually(t, func() bool { return handled.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return mock.ExpectationsWereMet() == nil }, 2*time.Second, 10*time.Millisecond)
	w.Stop()
}

// jsonArg matches a JSON job payload against want.
type jsonArg struct {
	t    *testing.T
	want map[string]any
}

func (a jsonArg) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	for k, want := range a.want {
		if got[k] != want {
			a.t.Logf("payload %s = %v, want %v", k, got[k], want)
			return false
		}
	}
	return true
}

func TestEnqueueBillingEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(query("EnqueueJob")).
		WithArgs(JobTypeBillingEmail,
			jsonArg{t: t, want: map[string]any{"kind": "payment_failed", "event_id": "evt_fail", "stripe_customer_id": "cus_1", "currency": "usd"}},
			PriorityHigh, 5, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			uuid.New().String(), JobTypeBillingEmail, []byte(`{}`), "pending", PriorityHigh, 0, 5, time.Now(), nil, nil, nil, time.Now(),
		))

	job, err := EnqueueBillingEmail(context.Background(), repository.New(db), BillingEmailPayload{
		Kind:             BillingEmailPaymentFailed,
		EventID:          "evt_fail",
		StripeCustomerID: "cus_1",
		AmountDue:        1900,
		Currency:         "usd",
	})
	require.NoError(t, err)
	assert.Equal(t, JobTypeBillingEmail, job.JobType)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueArchiveWebhookEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(query("EnqueueJob")).
		WithArgs(JobTypeArchiveWebhookEvent, jsonArg{t: t, want: map[string]any{"event_id": "evt_9"}},
			PriorityLow, 3, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(jobColumns).AddRow(
			uuid.New().String(), JobTypeArchiveWebhookEvent, []byte(`{}`), "pending", PriorityLow, 0, 3, time.Now(), nil, nil, nil, time.Now(),
		))

	_, err = EnqueueArchiveWebhookEvent(context.Background(), repository.New(db), "evt_9")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueJob_RejectsUnencodablePayload(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = EnqueueJob(context.Background(), repository.New(db), JobTypeBillingEmail, map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "marshal payload"))
}
