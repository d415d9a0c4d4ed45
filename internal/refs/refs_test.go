package refs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type mapFetcher map[string][]byte

func (m mapFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if b, ok := m[url]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

type recordingUploader struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (u *recordingUploader) Upload(_ context.Context, data []byte) string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.calls == nil {
		u.calls = map[string]int{}
	}
	u.calls[string(data)]++
	if u.fail[string(data)] {
		return ""
	}
	return "https://new/" + string(data)
}

func TestPool_SwapIsWholesale(t *testing.T) {
	p := NewPool([]string{"a", "b"})
	before := p.Current()

	prev := p.Swap(&Snapshot{URLs: []string{"c", "d"}})
	if prev != before {
		t.Error("Swap() should return the previous snapshot")
	}
	if before.URLs[0] != "a" {
		t.Error("previous snapshot must not change")
	}
	if got := p.URLs(); got[0] != "c" || got[1] != "d" {
		t.Errorf("URLs() = %v", got)
	}
}

func TestNewPool_CopiesInput(t *testing.T) {
	in := []string{"a"}
	p := NewPool(in)
	in[0] = "mutated"
	if p.URLs()[0] != "a" {
		t.Error("NewPool() should copy its input")
	}
}

func TestRefresh_DownloadsMissingAndUploads(t *testing.T) {
	dir := t.TempDir()
	p := NewPool([]string{"u0", "u1", "u2"})
	fetcher := mapFetcher{"u0": []byte("img0"), "u1": []byte("img1"), "u2": []byte("img2")}
	up := &recordingUploader{}

	r := NewRefresher(p, dir, fetcher, up)
	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	want := []string{"https://new/img0", "https://new/img1", "https://new/img2"}
	for i, w := range want {
		if snap.URLs[i] != w {
			t.Errorf("URLs[%d] = %q, want %q", i, snap.URLs[i], w)
		}
	}
	if p.Current() != snap {
		t.Error("Refresh() should swap in the new snapshot")
	}
	for i := range want {
		if _, err := os.Stat(r.LocalPath(i)); err != nil {
			t.Errorf("local copy %d missing: %v", i, err)
		}
	}
}

func TestRefresh_FailuresKeepPreviousURL(t *testing.T) {
	dir := t.TempDir()
	p := NewPool([]string{"u0", "u1", "u2"})
	// u1 cannot be downloaded and has no local copy; img2 fails to upload.
	fetcher := mapFetcher{"u0": []byte("img0"), "u2": []byte("img2")}
	up := &recordingUploader{fail: map[string]bool{"img2": true}}

	r := NewRefresher(p, dir, fetcher, up)
	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	want := []string{"https://new/img0", "u1", "u2"}
	for i, w := range want {
		if snap.URLs[i] != w {
			t.Errorf("URLs[%d] = %q, want %q", i, snap.URLs[i], w)
		}
	}
}

type ctxCheckingUploader struct {
	recordingUploader
	mu        sync.Mutex
	cancelled int
}

func (u *ctxCheckingUploader) Upload(ctx context.Context, data []byte) string {
	u.mu.Lock()
	if ctx.Err() != nil {
		u.cancelled++
	}
	u.mu.Unlock()
	return u.recordingUploader.Upload(ctx, data)
}

func TestRefresh_FailureDoesNotCancelSiblings(t *testing.T) {
	dir := t.TempDir()
	p := NewPool([]string{"u0", "u1", "u2", "u3"})
	fetcher := mapFetcher{"u0": []byte("img0"), "u1": []byte("img1"), "u2": []byte("img2"), "u3": []byte("img3")}
	up := &ctxCheckingUploader{recordingUploader: recordingUploader{fail: map[string]bool{"img0": true}}}

	r := NewRefresher(p, dir, fetcher, up)
	snap, err := r.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if up.cancelled != 0 {
		t.Errorf("%d uploads saw a cancelled context", up.cancelled)
	}
	want := []string{"u0", "https://new/img1", "https://new/img2", "https://new/img3"}
	for i, w := range want {
		if snap.URLs[i] != w {
			t.Errorf("URLs[%d] = %q, want %q", i, snap.URLs[i], w)
		}
	}
}

func TestEnsureLocal_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ref_0.png"), []byte("local"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewPool([]string{"u0"})
	up := &recordingUploader{}
	r := NewRefresher(p, dir, mapFetcher{"u0": []byte("remote")}, up)

	snap, _ := r.Refresh(context.Background())
	if snap.URLs[0] != "https://new/local" {
		t.Errorf("URLs[0] = %q, want the existing local copy re-uploaded", snap.URLs[0])
	}
	if up.calls["remote"] != 0 {
		t.Error("existing local copy should not be replaced")
	}
}

func TestSchedule_InvalidSpec(t *testing.T) {
	r := NewRefresher(NewPool(nil), t.TempDir(), mapFetcher{}, &recordingUploader{})
	if _, err := r.Schedule(context.Background(), "not a cron spec"); err == nil {
		t.Error("Schedule() should reject an invalid spec")
	}
	c, err := r.Schedule(context.Background(), "")
	if err != nil {
		t.Fatalf("Schedule(default) error = %v", err)
	}
	if len(c.Entries()) != 1 {
		t.Errorf("entries = %d, want 1", len(c.Entries()))
	}
	c.Stop()
}
