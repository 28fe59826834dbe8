package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type fakeDrive struct {
	mu            sync.Mutex
	folders       []map[string]string
	listCalls     int32
	createFolders int32
	uploads       int32
	failUploads   int32
	failStatus    int
	lastQuery     string
	lastUpload    string
	listGate      chan struct{}
}

func (f *fakeDrive) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/files"):
			atomic.AddInt32(&f.listCalls, 1)
			if f.listGate != nil {
				select {
				case <-f.listGate:
				case <-r.Context().Done():
					return
				}
			}
			f.mu.Lock()
			f.lastQuery = r.URL.Query().Get("q")
			files := append([]map[string]string(nil), f.folders...)
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"files": files})

		case r.Method == http.MethodPost && (strings.Contains(r.URL.Path, "/upload/") || r.URL.Query().Get("uploadType") != ""):
			n := atomic.AddInt32(&f.uploads, 1)
			body, _ := io.ReadAll(r.Body)
			if n <= atomic.LoadInt32(&f.failUploads) {
				w.WriteHeader(f.failStatus)
				_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": f.failStatus, "message": "try later"}})
				return
			}
			f.mu.Lock()
			f.lastUpload = string(body)
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "file-1"})

		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files"):
			atomic.AddInt32(&f.createFolders, 1)
			var meta map[string]any
			_ = json.NewDecoder(r.Body).Decode(&meta)
			if meta["mimeType"] != folderMimeType {
				t.Errorf("expected folder mime type, got %v", meta["mimeType"])
			}
			f.mu.Lock()
			f.folders = append(f.folders, map[string]string{"id": "folder-new", "name": meta["name"].(string)})
			f.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{"id": "folder-new"})

		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.String())
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func newTestDrive(t *testing.T, fake *fakeDrive) *Drive {
	t.Helper()

	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/drive/v3/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("drive.NewService failed: %v", err)
	}

	d := NewDriveWithService(svc, "parent-1")
	d.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}
	return d
}

func TestFolderName(t *testing.T) {
	if got := FolderName("ana@example.com"); got != "DNA_Analysis_ana_at_example.com" {
		t.Fatalf("unexpected folder name %q", got)
	}
}

func TestFileName(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 4, 5, 123_000_000, time.UTC)
	got := FileName("sess-1", 3, now)
	want := "audio_session_sess-1_q3_2026-03-01T10-04-05-123Z.mp3"
	if got != want {
		t.Fatalf("FileName = %q, want %q", got, want)
	}
}

func TestResolveUserFolderCreatesWhenMissing(t *testing.T) {
	fake := &fakeDrive{}
	d := newTestDrive(t, fake)

	id, err := d.ResolveUserFolder(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("ResolveUserFolder failed: %v", err)
	}
	if id != "folder-new" {
		t.Fatalf("expected created folder id, got %q", id)
	}
	if fake.createFolders != 1 {
		t.Fatalf("expected one folder creation, got %d", fake.createFolders)
	}
	if !strings.Contains(fake.lastQuery, "name='DNA_Analysis_ana_at_example.com'") ||
		!strings.Contains(fake.lastQuery, "'parent-1' in parents") ||
		!strings.Contains(fake.lastQuery, "trashed=false") {
		t.Fatalf("unexpected folder query %q", fake.lastQuery)
	}

	again, err := d.ResolveUserFolder(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("second ResolveUserFolder failed: %v", err)
	}
	if again != id {
		t.Fatalf("expected cached id %q, got %q", id, again)
	}
	if fake.listCalls != 1 {
		t.Fatalf("expected cached lookup, got %d list calls", fake.listCalls)
	}
}

func TestResolveUserFolderPicksSmallestID(t *testing.T) {
	fake := &fakeDrive{folders: []map[string]string{
		{"id": "zzz", "name": "DNA_Analysis_ana_at_example.com"},
		{"id": "aaa", "name": "DNA_Analysis_ana_at_example.com"},
		{"id": "mmm", "name": "DNA_Analysis_ana_at_example.com"},
	}}
	d := newTestDrive(t, fake)

	id, err := d.ResolveUserFolder(context.Background(), "ana@example.com")
	if err != nil {
		t.Fatalf("ResolveUserFolder failed: %v", err)
	}
	if id != "aaa" {
		t.Fatalf("expected smallest id aaa, got %q", id)
	}
	if fake.createFolders != 0 {
		t.Fatalf("expected no folder creation, got %d", fake.createFolders)
	}
}

func TestResolveUserFolderConcurrentFirstUse(t *testing.T) {
	fake := &fakeDrive{}
	d := newTestDrive(t, fake)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := d.ResolveUserFolder(context.Background(), "ana@example.com")
			if err != nil {
				t.Errorf("ResolveUserFolder failed: %v", err)
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected one folder id, got %v", ids)
		}
	}
	if fake.createFolders != 1 {
		t.Fatalf("expected exactly one folder creation, got %d", fake.createFolders)
	}
}

func TestResolveUserFolderRejectsEmptyEmail(t *testing.T) {
	d := newTestDrive(t, &fakeDrive{})
	if _, err := d.ResolveUserFolder(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestUpload(t *testing.T) {
	fake := &fakeDrive{}
	d := newTestDrive(t, fake)

	id, err := d.Upload(context.Background(), []byte("mp3-bytes"), "answer.mp3", "folder-1")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id != "file-1" {
		t.Fatalf("expected file-1, got %q", id)
	}
	if !strings.Contains(fake.lastUpload, "mp3-bytes") || !strings.Contains(fake.lastUpload, "folder-1") {
		t.Fatalf("upload body missing content or parent: %q", fake.lastUpload)
	}
}

func TestUploadRetriesTransientErrors(t *testing.T) {
	fake := &fakeDrive{failUploads: 2, failStatus: http.StatusServiceUnavailable}
	d := newTestDrive(t, fake)

	var slept []time.Duration
	d.after = func(dur time.Duration) <-chan time.Time {
		slept = append(slept, dur)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	id, err := d.Upload(context.Background(), []byte("mp3"), "answer.mp3", "folder-1")
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if id != "file-1" {
		t.Fatalf("expected file-1, got %q", id)
	}
	if fake.uploads != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.uploads)
	}
	if len(slept) != 2 || slept[0] != 500*time.Millisecond || slept[1] != 2*time.Second {
		t.Fatalf("unexpected backoff %v", slept)
	}
}

func TestUploadGivesUpAfterRetries(t *testing.T) {
	fake := &fakeDrive{failUploads: 10, failStatus: http.StatusTooManyRequests}
	d := newTestDrive(t, fake)

	if _, err := d.Upload(context.Background(), []byte("mp3"), "answer.mp3", "folder-1"); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if fake.uploads != 3 {
		t.Fatalf("expected 3 attempts, got %d", fake.uploads)
	}
}

func TestUploadDoesNotRetryClientErrors(t *testing.T) {
	fake := &fakeDrive{failUploads: 10, failStatus: http.StatusForbidden}
	d := newTestDrive(t, fake)

	if _, err := d.Upload(context.Background(), []byte("mp3"), "answer.mp3", "folder-1"); err == nil {
		t.Fatal("expected error for forbidden upload")
	}
	if fake.uploads != 1 {
		t.Fatalf("expected a single attempt, got %d", fake.uploads)
	}
}

func TestNewDriveRequiresParent(t *testing.T) {
	if _, err := NewDrive(context.Background(), Options{}); err == nil {
		t.Fatal("expected error without parent folder")
	}
}

func TestResolveUserFolderSurvivesCancelledCaller(t *testing.T) {
	fake := &fakeDrive{listGate: make(chan struct{})}
	d := newTestDrive(t, fake)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := d.ResolveUserFolder(ctxA, "ana@example.com")
		errA <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&fake.listCalls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	type result struct {
		id  string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		id, err := d.ResolveUserFolder(context.Background(), "ana@example.com")
		resB <- result{id, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancelled caller to see context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(fake.listGate)
	select {
	case res := <-resB:
		if res.err != nil {
			t.Fatalf("healthy caller failed: %v", res.err)
		}
		if res.id != "folder-new" {
			t.Fatalf("expected folder-new, got %q", res.id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("healthy caller did not return")
	}
	if got := atomic.LoadInt32(&fake.createFolders); got != 1 {
		t.Fatalf("expected one folder creation, got %d", got)
	}
}

func TestUploadStopsWaitingWhenCancelled(t *testing.T) {
	fake := &fakeDrive{failUploads: 10, failStatus: http.StatusServiceUnavailable}
	d := newTestDrive(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.Upload(ctx, []byte("mp3"), "answer.mp3", "folder-1")
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upload kept waiting after cancellation")
	}
	if got := atomic.LoadInt32(&fake.uploads); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestUploadMissingFolderEvictsCache(t *testing.T) {
	fake := &fakeDrive{failStatus: http.StatusNotFound}
	d := newTestDrive(t, fake)
	ctx := context.Background()

	id, err := d.ResolveUserFolder(ctx, "ana@example.com")
	if err != nil {
		t.Fatalf("ResolveUserFolder failed: %v", err)
	}

	atomic.StoreInt32(&fake.failUploads, 10)
	if _, err := d.Upload(ctx, []byte("mp3"), "answer.mp3", id); err == nil {
		t.Fatal("expected error for missing folder")
	}
	if got := atomic.LoadInt32(&fake.uploads); got != 1 {
		t.Fatalf("expected no retry on 404, got %d attempts", got)
	}

	if _, err := d.ResolveUserFolder(ctx, "ana@example.com"); err != nil {
		t.Fatalf("second ResolveUserFolder failed: %v", err)
	}
	if got := atomic.LoadInt32(&fake.listCalls); got != 2 {
		t.Fatalf("expected folder lookup after eviction, got %d list calls", got)
	}
}
