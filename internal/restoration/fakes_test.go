package restoration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/photo-restore/internal/credits"
	"github.com/cuongbtq/photo-restore/internal/domain"
	"github.com/cuongbtq/photo-restore/internal/notify"
	"github.com/cuongbtq/photo-restore/internal/prompt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memRepo struct {
	mu       sync.Mutex
	images   map[string]domain.Image
	attempts map[string]domain.RestoredImage

	createAttemptsErr error
	completeErr       error

	// hooks run outside the lock
	beforeDelete  func()
	afterComplete func(attemptID string)
}

func newMemRepo() *memRepo {
	return &memRepo{
		images:   map[string]domain.Image{},
		attempts: map[string]domain.RestoredImage{},
	}
}

func (r *memRepo) CreateImage(_ context.Context, image *domain.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[image.ID] = *image
	return nil
}

func (r *memRepo) GetImage(_ context.Context, imageID string) (*domain.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[imageID]
	if !ok {
		return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, imageID)
	}
	return &img, nil
}

func (r *memRepo) ListImages(_ context.Context, userID string) ([]domain.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Image
	for _, img := range r.images {
		if img.UserID == userID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *memRepo) DeleteImage(_ context.Context, imageID string) ([]string, error) {
	if r.beforeDelete != nil {
		r.beforeDelete()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.images[imageID]; !ok {
		return nil, fmt.Errorf("%w: image %s", domain.ErrNotFound, imageID)
	}
	delete(r.images, imageID)
	var keys []string
	for id, a := range r.attempts {
		if a.ImageID == imageID {
			if a.BlobKey != nil {
				keys = append(keys, *a.BlobKey)
			}
			delete(r.attempts, id)
		}
	}
	return keys, nil
}

func (r *memRepo) CreateAttempts(_ context.Context, attempts []domain.RestoredImage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createAttemptsErr != nil {
		return r.createAttemptsErr
	}
	for _, a := range attempts {
		r.attempts[a.ID] = a
	}
	return nil
}

func (r *memRepo) MarkAttemptCompleted(_ context.Context, attemptID, blobKey string) error {
	r.mu.Lock()
	if r.completeErr != nil {
		r.mu.Unlock()
		return r.completeErr
	}
	a, ok := r.attempts[attemptID]
	if !ok || a.Status != domain.AttemptStatusPending {
		r.mu.Unlock()
		return fmt.Errorf("attempt %s is no longer pending", attemptID)
	}
	a.Status = domain.AttemptStatusCompleted
	a.BlobKey = &blobKey
	r.attempts[attemptID] = a
	r.mu.Unlock()

	if r.afterComplete != nil {
		r.afterComplete(attemptID)
	}
	return nil
}

func (r *memRepo) MarkAttemptFailed(_ context.Context, attemptID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.attempts[attemptID]; ok && a.Status == domain.AttemptStatusPending {
		a.Status = domain.AttemptStatusFailed
		r.attempts[attemptID] = a
	}
	return nil
}

func (r *memRepo) FailPendingAttempts(_ context.Context, runID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.attempts {
		if a.RunID != nil && *a.RunID == runID && a.Status == domain.AttemptStatusPending {
			a.Status = domain.AttemptStatusFailed
			r.attempts[id] = a
			n++
		}
	}
	return n, nil
}

func (r *memRepo) ListAttemptsByImage(ctx context.Context, imageID string) ([]domain.RestoredImage, error) {
	return r.ListAttemptsByImages(ctx, []string{imageID})
}

func (r *memRepo) ListAttemptsByImages(_ context.Context, imageIDs []string) ([]domain.RestoredImage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := map[string]bool{}
	for _, id := range imageIDs {
		want[id] = true
	}
	var out []domain.RestoredImage
	for _, a := range r.attempts {
		if want[a.ImageID] {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memRepo) attemptsOfRun(runID string) []domain.RestoredImage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RestoredImage
	for _, a := range r.attempts {
		if a.RunID != nil && *a.RunID == runID {
			out = append(out, a)
		}
	}
	return out
}

type object struct {
	data        []byte
	contentType string
}

type memObjectStore struct {
	mu      sync.Mutex
	objects map[string]object
	deleted []string

	downloadErr error
	uploadErr   error
	deleteErr   error
	signErr     error
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: map[string]object{}}
}

func (s *memObjectStore) SignedUploadURL(_ context.Context, key, contentType string) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return "https://blob.test/" + key + "?op=put&ct=" + contentType, nil
}

func (s *memObjectStore) SignedDownloadURL(_ context.Context, key string, expiresIn time.Duration) (string, error) {
	if s.signErr != nil {
		return "", s.signErr
	}
	return fmt.Sprintf("https://blob.test/%s?op=get&exp=%d", key, int(expiresIn.Seconds())), nil
}

func (s *memObjectStore) Upload(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	s.objects[key] = object{data: data, contentType: contentType}
	return nil
}

func (s *memObjectStore) Download(_ context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloadErr != nil {
		return nil, "", s.downloadErr
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", errors.New("no such key")
	}
	return obj.data, obj.contentType, nil
}

func (s *memObjectStore) DeleteMany(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, k := range keys {
		delete(s.objects, k)
		s.deleted = append(s.deleted, k)
	}
	return nil
}

func (s *memObjectStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

type fakeInvoker struct {
	mu    sync.Mutex
	calls int
	fn    func(doc prompt.Document) ([]byte, error)
}

func (f *fakeInvoker) Restore(_ context.Context, image []byte, _ string, doc prompt.Document, _ domain.Resolution) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn != nil {
		return f.fn(doc)
	}
	return append([]byte("restored:"), image...), nil
}

type fakeLedger struct {
	mu           sync.Mutex
	balances     map[string]int64
	consumptions []credits.ConsumeParams
	balanceErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int64{}}
}

func (l *fakeLedger) GetBalance(_ context.Context, userID string) (*credits.Balance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceErr != nil {
		return nil, l.balanceErr
	}
	return &credits.Balance{Balance: l.balances[userID]}, nil
}

func (l *fakeLedger) Consume(_ context.Context, p credits.ConsumeParams) (*credits.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[p.UserID] < p.Amount {
		return nil, fmt.Errorf("%w: balance %d", domain.ErrInsufficientCredits, l.balances[p.UserID])
	}
	l.balances[p.UserID] -= p.Amount
	l.consumptions = append(l.consumptions, p)
	return &credits.Result{Balance: l.balances[p.UserID]}, nil
}

func (l *fakeLedger) balance(userID string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

type recordingNotifier struct {
	mu       sync.Mutex
	failures []notify.Failure
	err      error
}

func (n *recordingNotifier) NotifyFailure(_ context.Context, f notify.Failure) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, f)
	return n.err
}

type fakeTrigger struct {
	mu       sync.Mutex
	payloads []domain.RestorePayload
	err      error
}

func (t *fakeTrigger) Trigger(_ context.Context, _ string, taskName string, payload any) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return "", t.err
	}
	if taskName != domain.TaskRestoreImage {
		return "", fmt.Errorf("unexpected task %s", taskName)
	}
	t.payloads = append(t.payloads, payload.(domain.RestorePayload))
	return fmt.Sprintf("run-%d", len(t.payloads)), nil
}

type fakeRuns struct {
	runs map[string]*domain.Run
}

func (f *fakeRuns) GetRunStatus(_ context.Context, runID string) (*domain.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%w: run %s", domain.ErrNotFound, runID)
	}
	return run, nil
}
