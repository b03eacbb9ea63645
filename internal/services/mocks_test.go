package services_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/receiptflow/internal/models"
	"github.com/stretchr/testify/mock"
)

// --- Mocks ---

// MockAnalyzer is a mock for ExpenseAnalyzer.
type MockAnalyzer struct {
	mock.Mock
}

func (m *MockAnalyzer) AnalyzeExpense(ctx context.Context, gcsURI, mimeType string) (*models.ExpenseAnalysis, error) {
	args := m.Called(ctx, gcsURI, mimeType)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	//nolint:errcheck // type assertion failures in mocks are acceptable
	return ret.(*models.ExpenseAnalysis), args.Error(1)
}

// MockDeadLetters is a mock for DeadLetterStore.
type MockDeadLetters struct {
	mock.Mock
}

func (m *MockDeadLetters) Record(ctx context.Context, bucket, key string, cause error) (bool, error) {
	args := m.Called(ctx, bucket, key, cause)
	return args.Bool(0), args.Error(1)
}

func (m *MockDeadLetters) Resolve(ctx context.Context, bucket, key string) error {
	args := m.Called(ctx, bucket, key)
	return args.Error(0)
}

// MockRetryScheduler is a mock for RetryScheduler.
type MockRetryScheduler struct {
	mock.Mock
}

func (m *MockRetryScheduler) ScheduleRetry(ctx context.Context, records []models.UploadRecord) (string, error) {
	args := m.Called(ctx, records)
	return args.String(0), args.Error(1)
}

// MockSigner is a mock for URLSigner.
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) SignedPutURL(bucket, key, contentType string, ttl time.Duration) (string, error) {
	args := m.Called(bucket, key, contentType, ttl)
	return args.String(0), args.Error(1)
}

// MockPinger is a mock for Pinger.
type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// --- Fakes ---

type listPage struct {
	keys []string
	next string
}

// fakeStore is an in-memory bucket. Pages are keyed by the page token that
// requests them.
type fakeStore struct {
	mu        sync.Mutex
	pages     map[string]listPage
	listErr   error
	existing  map[string]bool
	probeErrs map[string]error
	probeWait time.Duration
	blockOn   map[string]bool
	writes    map[string][]byte
	writeErrs map[string]error
	prefixes  []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		pages:     map[string]listPage{},
		existing:  map[string]bool{},
		probeErrs: map[string]error{},
		blockOn:   map[string]bool{},
		writes:    map[string][]byte{},
		writeErrs: map[string]error{},
	}
}

func (s *fakeStore) ListPage(_ context.Context, _, prefix, pageToken string, _ int) ([]string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefixes = append(s.prefixes, prefix)
	if s.listErr != nil {
		return nil, "", s.listErr
	}
	p := s.pages[pageToken]
	return p.keys, p.next, nil
}

func (s *fakeStore) Exists(ctx context.Context, _, key string) (bool, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	s.mu.Lock()
	block := s.blockOn[key]
	err := s.probeErrs[key]
	exists := s.existing[key]
	wait := s.probeWait
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if wait > 0 {
		time.Sleep(wait)
	}
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *fakeStore) WriteObject(_ context.Context, _, key, _ string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeErrs[key]; err != nil {
		return err
	}
	s.writes[key] = append([]byte(nil), body...)
	return nil
}

func (s *fakeStore) written(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.writes[key]
	return b, ok
}
