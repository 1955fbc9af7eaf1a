package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/coverbridge/gaoding"
)

func reply(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "ok", "data": data})
}

// fakeTable serves app1/tbl1 with two records and records attachments.
func fakeTable(t *testing.T) (*httptest.Server, func() map[string]string) {
	var mu sync.Mutex
	updated := map[string]string{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"code": 0, "tenant_access_token": "t-1", "expire": 7200})
	})
	mux.HandleFunc("GET /open-apis/bitable/v1/apps/app1/tables/tbl1/records", func(w http.ResponseWriter, _ *http.Request) {
		reply(w, map[string]any{"has_more": false, "total": 2, "items": []map[string]any{
			{"record_id": "rec1", "fields": map[string]any{"封面主文案": "一", "封面副文案": "甲"}},
			{"record_id": "rec2", "fields": map[string]any{"封面主文案": "二"}},
		}})
	})
	mux.HandleFunc("POST /open-apis/drive/v1/medias/upload_all", func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		reply(w, map[string]any{"file_token": "box_" + r.FormValue("file_name")})
	})
	mux.HandleFunc("PUT /open-apis/bitable/v1/apps/app1/tables/tbl1/records/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Fields map[string][]map[string]string `json:"fields"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		for _, v := range body.Fields {
			updated[r.PathValue("id")] = v[0]["file_token"]
		}
		mu.Unlock()
		reply(w, map[string]any{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, func() map[string]string {
		mu.Lock()
		defer mu.Unlock()
		out := map[string]string{}
		for k, v := range updated {
			out[k] = v
		}
		return out
	}
}

func writeZip(t *testing.T, names ...string) string {
	t.Helper()
	var img bytes.Buffer
	png.Encode(&img, image.NewGray(image.Rect(0, 0, 1, 1)))

	path := filepath.Join(t.TempDir(), "covers.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, n := range names {
		w, _ := zw.Create(n)
		w.Write(img.Bytes())
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func tableFlags(url string) []string {
	return []string{"--base-url", url, "--app-id", "cli_1", "--app-secret", "s", "--app-token", "app1", "--table-id", "tbl1"}
}

func TestParse(t *testing.T) {
	path := writeZip(t, "10.png", "2.png", "readme.md", "1.png")
	out, err := execute(t, "parse", path)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, out)
	}
	i1, i2, i10 := strings.Index(out, " 1.png"), strings.Index(out, " 2.png"), strings.Index(out, " 10.png")
	if !(i1 >= 0 && i1 < i2 && i2 < i10) {
		t.Errorf("order wrong:\n%s", out)
	}
	if !strings.Contains(out, "3 images") || strings.Contains(out, "readme") {
		t.Errorf("output:\n%s", out)
	}
}

func TestParse_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.zip")
	os.WriteFile(path, []byte("nope"), 0o644)
	if _, err := execute(t, "parse", path); err == nil {
		t.Fatal("expected error")
	}
}

func TestExport(t *testing.T) {
	srv, _ := fakeTable(t)
	dest := filepath.Join(t.TempDir(), "out.zip")
	out, err := execute(t, append([]string{"export", "-o", dest}, tableFlags(srv.URL)...)...)
	if err != nil {
		t.Fatalf("export: %v\n%s", err, out)
	}
	if !strings.Contains(out, "2 rows") {
		t.Errorf("output: %s", out)
	}
	zr, err := zip.OpenReader(dest)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || zr.File[0].Name != gaoding.WorkbookFileName {
		t.Errorf("entries = %v", zr.File)
	}
}

func TestExport_MissingCredentials(t *testing.T) {
	for _, k := range []string{"FEISHU_APP_ID", "FEISHU_APP_SECRET", "FEISHU_APP_TOKEN", "FEISHU_TABLE_ID"} {
		t.Setenv(k, "")
	}
	_, err := execute(t, "export", "-o", filepath.Join(t.TempDir(), "x.zip"))
	if err == nil || !strings.Contains(err.Error(), "--app-id") {
		t.Fatalf("err = %v", err)
	}
}

func TestUpload_DryRun(t *testing.T) {
	srv, updated := fakeTable(t)
	path := writeZip(t, "p2.png", "p1.png", "p3.png")
	out, err := execute(t, append([]string{"upload", "--dry-run", path}, tableFlags(srv.URL)...)...)
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	for _, want := range []string{"3 images, 2 records, 2 to upload", "warning:", "p1.png\t→ rec1", "p2.png\t→ rec2"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if len(updated()) != 0 {
		t.Error("dry run must not upload")
	}
}

func TestUpload(t *testing.T) {
	srv, updated := fakeTable(t)
	path := writeZip(t, "2.png", "1.png")
	out, err := execute(t, append([]string{"upload", "--batch-size", "1", path}, tableFlags(srv.URL)...)...)
	if err != nil {
		t.Fatalf("upload: %v\n%s", err, out)
	}
	if !strings.Contains(out, "batch 2/2") || !strings.Contains(out, "done: 2 ok, 0 failed") {
		t.Errorf("output:\n%s", out)
	}
	got := updated()
	if got["rec1"] != "box_1.png" || got["rec2"] != "box_2.png" {
		t.Errorf("updated = %v", got)
	}
}
