package statusapi

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/viewsync/frame"
	"github.com/hazyhaar/viewsync/pipeline"
)

func newTestServer(t *testing.T) (*httptest.Server, *pipeline.Pipeline) {
	t.Helper()
	p, err := pipeline.New(pipeline.Config{KeepAlive: time.Minute})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("pipeline.Start: %v", err)
	}
	t.Cleanup(p.Stop)

	srv := httptest.NewServer(NewRouter(p, nil))
	t.Cleanup(srv.Close)
	return srv, p
}

func get(t *testing.T, url string) (int, []byte) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(res.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res.StatusCode, buf.Bytes()
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := get(t, srv.URL+"/healthz")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	if out["status"] != "ok" {
		t.Errorf("status = %q, want ok", out["status"])
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t)

	status, body := get(t, srv.URL+"/stats")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	var st pipeline.Stats
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("unmarshal %q: %v", body, err)
	}
	if st.Buffer.Buffered != 0 {
		t.Errorf("Buffered = %d, want 0", st.Buffer.Buffered)
	}
}

func TestLatestFrame(t *testing.T) {
	srv, p := newTestServer(t)

	status, _ := get(t, srv.URL+"/frames/latest")
	if status != http.StatusNotFound {
		t.Fatalf("empty buffer status = %d, want 404", status)
	}

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	img.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	p.AddFrame(frame.Raw{Pixels: buf.Bytes(), CapturedAt: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, body := get(t, srv.URL+"/frames/latest")
		if status == http.StatusOK {
			var f frame.Frame
			if err := json.Unmarshal(body, &f); err != nil {
				t.Fatalf("unmarshal %q: %v", body, err)
			}
			if f.ID != 1 {
				t.Errorf("frame ID = %d, want 1", f.ID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("frame never became available")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
