package watermark

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func headServer(t *testing.T, lastModified, etag string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		if lastModified != "" {
			w.Header().Set("Last-Modified", lastModified)
		}
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDetectFirstProbeIsChange(t *testing.T) {
	srv := headServer(t, "Wed, 01 Jan 2025 00:00:00 GMT", "")
	d := NewDetector(time.Second)

	changed, wm := d.Detect(context.Background(), srv.URL, Watermark{})
	if !changed {
		t.Fatal("expected changed=true with no stored watermark")
	}
	if wm.LastModified != "Wed, 01 Jan 2025 00:00:00 GMT" {
		t.Errorf("unexpected LastModified %q", wm.LastModified)
	}
	if wm.CheckedAt.IsZero() {
		t.Error("expected CheckedAt to be set")
	}
}

func TestDetectUnchanged(t *testing.T) {
	srv := headServer(t, "Wed, 01 Jan 2025 00:00:00 GMT", `"v1"`)
	d := NewDetector(time.Second)

	stored := Watermark{LastModified: "Wed, 01 Jan 2025 00:00:00 GMT", ETag: `"v1"`}
	changed, _ := d.Detect(context.Background(), srv.URL, stored)
	if changed {
		t.Fatal("expected changed=false when indicators match")
	}
}

func TestDetectETagChange(t *testing.T) {
	srv := headServer(t, "Wed, 01 Jan 2025 00:00:00 GMT", `"v2"`)
	d := NewDetector(time.Second)

	stored := Watermark{LastModified: "Wed, 01 Jan 2025 00:00:00 GMT", ETag: `"v1"`}
	changed, wm := d.Detect(context.Background(), srv.URL, stored)
	if !changed {
		t.Fatal("expected changed=true on etag change")
	}
	if wm.ETag != `"v2"` {
		t.Errorf("expected new etag, got %q", wm.ETag)
	}
}

func TestDetectNoIndicators(t *testing.T) {
	srv := headServer(t, "", "")
	d := NewDetector(time.Second)

	changed, wm := d.Detect(context.Background(), srv.URL, Watermark{})
	if !changed {
		t.Fatal("expected changed=true without conditional headers")
	}
	if !wm.Empty() {
		t.Errorf("expected empty watermark, got %+v", wm)
	}
}

func TestDetectUnreachableKeepsStored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	d := NewDetector(time.Second)
	stored := Watermark{LastModified: "old", ETag: "tag"}
	changed, wm := d.Detect(context.Background(), url, stored)
	if !changed {
		t.Fatal("expected changed=true for an unreachable origin")
	}
	if wm != stored {
		t.Errorf("expected stored watermark back, got %+v", wm)
	}
}

func TestDetectServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"x"`)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDetector(time.Second)
	stored := Watermark{ETag: `"x"`}
	changed, wm := d.Detect(context.Background(), srv.URL, stored)
	if !changed {
		t.Fatal("expected changed=true on server error")
	}
	if wm != stored {
		t.Errorf("expected stored watermark back, got %+v", wm)
	}
}

func TestDetectTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewDetector(20 * time.Millisecond)
	changed, _ := d.Detect(context.Background(), srv.URL, Watermark{ETag: "x"})
	if !changed {
		t.Fatal("expected changed=true on timeout")
	}
}
