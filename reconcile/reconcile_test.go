package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/imagezip"
)

// fakeRemote records calls and fails on demand.
type fakeRemote struct {
	mu         sync.Mutex
	uploads    []string
	updates    map[string]map[string]any
	failUpload map[string]bool // by file name
	failUpdate map[string]bool // by record id
	onUpload   func(n int)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		updates:    map[string]map[string]any{},
		failUpload: map[string]bool{},
		failUpdate: map[string]bool{},
	}
}

func (f *fakeRemote) UploadImage(_ context.Context, _ []byte, name string) (string, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, name)
	n := len(f.uploads)
	f.mu.Unlock()
	if f.onUpload != nil {
		f.onUpload(n)
	}
	if f.failUpload[name] {
		return "", errors.New("quota exceeded")
	}
	return "tok-" + name, nil
}

func (f *fakeRemote) UpdateRecord(_ context.Context, id string, fields map[string]any) error {
	if f.failUpdate[id] {
		return errors.New("RecordIdNotFound")
	}
	f.mu.Lock()
	f.updates[id] = fields
	f.mu.Unlock()
	return nil
}

func images(n int) []imagezip.Image {
	out := make([]imagezip.Image, n)
	for i := range out {
		out[i] = imagezip.Image{Name: fmt.Sprintf("out/image_%d.png", i+1), Data: []byte{byte(i)}}
	}
	return out
}

func covers(n int) []feishu.Cover {
	out := make([]feishu.Cover, n)
	for i := range out {
		out[i] = feishu.Cover{RecordID: fmt.Sprintf("rec%d", i+1)}
	}
	return out
}

func items(n int) []Item {
	it, _ := Pair(images(n), covers(n))
	return it
}

func TestPair(t *testing.T) {
	// WHAT: 5 images and 3 records pair the first 3, positionally.
	// WHY: surplus images are ignored, never spread onto other records.
	got, mismatch := Pair(images(5), covers(3))
	if !mismatch {
		t.Error("mismatch not reported")
	}
	want := []Item{
		{RecordID: "rec1", Image: []byte{0}, FileName: "image_1.png"},
		{RecordID: "rec2", Image: []byte{1}, FileName: "image_2.png"},
		{RecordID: "rec3", Image: []byte{2}, FileName: "image_3.png"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestPair_Equal(t *testing.T) {
	got, mismatch := Pair(images(2), covers(2))
	if mismatch || len(got) != 2 {
		t.Fatalf("len=%d mismatch=%v", len(got), mismatch)
	}
	got, mismatch = Pair(nil, covers(2))
	if !mismatch || len(got) != 0 {
		t.Fatalf("no images: len=%d mismatch=%v", len(got), mismatch)
	}
}

func TestBatches(t *testing.T) {
	b := Batches(items(12), 5)
	var sizes []int
	for _, x := range b {
		sizes = append(sizes, len(x))
	}
	if diff := cmp.Diff([]int{5, 5, 2}, sizes); diff != "" {
		t.Errorf("sizes (-want +got):\n%s", diff)
	}
	if b[2][1].RecordID != "rec12" {
		t.Errorf("last item = %s", b[2][1].RecordID)
	}
	if len(Batches(nil, 5)) != 0 {
		t.Error("no items should yield no batches")
	}
}

func TestSummary(t *testing.T) {
	var s Summary
	s.Add(ItemResult{RecordID: "a", Success: true})
	s.Add(ItemResult{RecordID: "b", Error: "x"})
	var o Summary
	o.Add(ItemResult{RecordID: "c", Success: true})
	o.Add(ItemResult{RecordID: "d", Error: "y"})
	s.Merge(o)
	if s.Total != 4 || s.Success != 2 || s.Failed != 2 {
		t.Errorf("summary = %d/%d/%d, want 4/2/2", s.Total, s.Success, s.Failed)
	}
	if s.Results[3].RecordID != "d" {
		t.Errorf("results order = %+v", s.Results)
	}
}

func TestUploadOne(t *testing.T) {
	remote := newFakeRemote()
	u := NewUploader(remote, Config{})
	res := u.UploadOne(context.Background(), Item{RecordID: "rec1", Image: []byte("x"), FileName: "a.png"})
	if !res.Success || res.Error != "" {
		t.Fatalf("res = %+v", res)
	}
	want := map[string]any{"封面图片": []map[string]string{{"file_token": "tok-a.png"}}}
	if diff := cmp.Diff(want, remote.updates["rec1"]); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
}

func TestUploadOne_CustomField(t *testing.T) {
	remote := newFakeRemote()
	u := NewUploader(remote, Config{ImageField: "成品图"})
	u.UploadOne(context.Background(), Item{RecordID: "rec1", FileName: "a.png"})
	if _, ok := remote.updates["rec1"]["成品图"]; !ok {
		t.Errorf("updates = %+v", remote.updates)
	}
}

func TestUploadOne_Failures(t *testing.T) {
	remote := newFakeRemote()
	remote.failUpload["bad.png"] = true
	remote.failUpdate["recGone"] = true
	u := NewUploader(remote, Config{})

	res := u.UploadOne(context.Background(), Item{RecordID: "rec1", FileName: "bad.png"})
	if res.Success || res.Error == "" {
		t.Errorf("upload failure = %+v", res)
	}
	if _, ok := remote.updates["rec1"]; ok {
		t.Error("record updated after failed upload")
	}

	res = u.UploadOne(context.Background(), Item{RecordID: "recGone", FileName: "ok.png"})
	if res.Success || res.Error == "" {
		t.Errorf("update failure = %+v", res)
	}
}

func TestRun_Aggregate(t *testing.T) {
	// WHAT: per-item failures are counted, never abort the run.
	remote := newFakeRemote()
	remote.failUpload["image_2.png"] = true
	remote.failUpdate["rec4"] = true
	u := NewUploader(remote, Config{})

	s := u.Run(context.Background(), items(4))
	if s.Total != 4 || s.Success != 2 || s.Failed != 2 {
		t.Fatalf("summary = %d/%d/%d, want 4/2/2", s.Total, s.Success, s.Failed)
	}
	var ok []string
	for _, r := range s.Results {
		if r.Success {
			ok = append(ok, r.RecordID)
		}
	}
	if diff := cmp.Diff([]string{"rec1", "rec3"}, ok); diff != "" {
		t.Errorf("succeeded (-want +got):\n%s", diff)
	}
}

func TestRun_Empty(t *testing.T) {
	s := NewUploader(newFakeRemote(), Config{}).Run(context.Background(), nil)
	if s.Total != 0 || s.Results == nil {
		t.Fatalf("summary = %+v", s)
	}
}

func TestStream_Progress(t *testing.T) {
	u := NewUploader(newFakeRemote(), Config{})
	var got []Progress
	for p := range u.Stream(context.Background(), items(12)) {
		got = append(got, p)
	}
	if len(got) != 3 {
		t.Fatalf("progress events = %d, want 3", len(got))
	}
	var completed []int
	for _, p := range got {
		completed = append(completed, p.Completed)
		if p.Batches != 3 || p.Total != 12 {
			t.Errorf("progress = %+v", p)
		}
	}
	if diff := cmp.Diff([]int{5, 10, 12}, completed); diff != "" {
		t.Errorf("completed (-want +got):\n%s", diff)
	}
	if got[2].Summary.Total != 2 || got[2].Cumulative.Total != 12 {
		t.Errorf("last = %+v", got[2])
	}
	if len(got[0].Cumulative.Results) != 5 {
		t.Error("earlier progress snapshot was mutated by later batches")
	}
}

func TestStream_ConsumerBreak(t *testing.T) {
	remote := newFakeRemote()
	u := NewUploader(remote, Config{})
	for p := range u.Stream(context.Background(), items(12)) {
		if p.Batch == 1 {
			break
		}
	}
	if len(remote.uploads) != 5 {
		t.Errorf("uploads = %d, want 5 (one batch)", len(remote.uploads))
	}
}

func TestStream_CancelBetweenBatches(t *testing.T) {
	// WHAT: cancelling mid-batch lets that batch finish, then stops.
	// WHY: a half-written batch would leave the UI counts out of step.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	remote := newFakeRemote()
	remote.onUpload = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	u := NewUploader(remote, Config{})

	var events int
	for range u.Stream(ctx, items(12)) {
		events++
	}
	if events != 1 {
		t.Errorf("events = %d, want 1", events)
	}
	if len(remote.uploads) != 5 {
		t.Errorf("uploads = %d, want 5", len(remote.uploads))
	}
}

func TestStream_CustomBatchSize(t *testing.T) {
	u := NewUploader(newFakeRemote(), Config{BatchSize: 2})
	n := 0
	for range u.Stream(context.Background(), items(5)) {
		n++
	}
	if n != 3 {
		t.Errorf("batches = %d, want 3", n)
	}
}
