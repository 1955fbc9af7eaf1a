// Package reconcile pairs parsed images with Bitable records by position and
// writes each image back to its record in small sequential batches.
//
// Pairing is purely positional: the i-th image (in page order) goes to the
// i-th record (in server order). A count mismatch is reported but never
// blocks the run; the surplus on either side is ignored.
package reconcile

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/horosafe"
	"github.com/hazyhaar/coverbridge/imagezip"
)

// BatchSize is the number of items uploaded per batch.
const BatchSize = 5

// Item is one image bound to the record it will be attached to.
type Item struct {
	RecordID string `json:"recordId"`
	Image    []byte `json:"-"`
	FileName string `json:"fileName"`
}

// ItemResult is the outcome of one item. Error is empty on success.
type ItemResult struct {
	RecordID string `json:"recordId"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// Summary aggregates item results. Total == Success + Failed.
type Summary struct {
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Results []ItemResult `json:"results"`
}

// Add records one result.
func (s *Summary) Add(r ItemResult) {
	s.Total++
	if r.Success {
		s.Success++
	} else {
		s.Failed++
	}
	s.Results = append(s.Results, r)
}

// Merge folds another summary into s.
func (s *Summary) Merge(o Summary) {
	s.Total += o.Total
	s.Success += o.Success
	s.Failed += o.Failed
	s.Results = append(s.Results, o.Results...)
}

// Pair binds images to records positionally. mismatch reports that the two
// sides had different lengths; only min(len) items are produced.
func Pair(images []imagezip.Image, covers []feishu.Cover) (items []Item, mismatch bool) {
	n := min(len(images), len(covers))
	items = make([]Item, n)
	for i := range n {
		items[i] = Item{
			RecordID: covers[i].RecordID,
			Image:    images[i].Data,
			FileName: horosafe.BaseName(images[i].Name),
		}
	}
	return items, len(images) != len(covers)
}

// Plan is Pair with the mismatch logged.
func Plan(logger *slog.Logger, images []imagezip.Image, covers []feishu.Cover) ([]Item, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	items, mismatch := Pair(images, covers)
	if mismatch {
		logger.Warn("reconcile: image and record counts differ",
			"images", len(images), "records", len(covers), "paired", len(items))
	}
	return items, mismatch
}

// Batches splits items into consecutive chunks of at most size items.
func Batches(items []Item, size int) [][]Item {
	if size <= 0 {
		size = BatchSize
	}
	var out [][]Item
	for start := 0; start < len(items); start += size {
		out = append(out, items[start:min(start+size, len(items))])
	}
	return out
}

// Remote is the subset of the table client the uploader needs.
type Remote interface {
	UploadImage(ctx context.Context, data []byte, fileName string) (string, error)
	UpdateRecord(ctx context.Context, recordID string, fields map[string]any) error
}

// Config configures an Uploader.
type Config struct {
	// ImageField is the attachment field written. Default: feishu.DefaultImageField.
	ImageField string

	// BatchSize defaults to BatchSize.
	BatchSize int

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.ImageField == "" {
		c.ImageField = feishu.DefaultImageField
	}
	if c.BatchSize <= 0 {
		c.BatchSize = BatchSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Uploader writes items to the remote table.
type Uploader struct {
	remote Remote
	cfg    Config
	logger *slog.Logger
}

// NewUploader creates an Uploader.
func NewUploader(remote Remote, cfg Config) *Uploader {
	cfg.defaults()
	return &Uploader{remote: remote, cfg: cfg, logger: cfg.Logger}
}

// UploadOne uploads the image and replaces the record's image field with it.
// The first failing step is reported; nothing is retried.
func (u *Uploader) UploadOne(ctx context.Context, item Item) ItemResult {
	res := ItemResult{RecordID: item.RecordID}
	token, err := u.remote.UploadImage(ctx, item.Image, item.FileName)
	if err != nil {
		res.Error = fmt.Sprintf("upload %s: %v", item.FileName, err)
		return res
	}
	fields := map[string]any{u.cfg.ImageField: feishu.AttachmentValue(token)}
	if err := u.remote.UpdateRecord(ctx, item.RecordID, fields); err != nil {
		res.Error = fmt.Sprintf("update %s: %v", item.RecordID, err)
		return res
	}
	res.Success = true
	return res
}

// UploadBatch uploads items one after another.
func (u *Uploader) UploadBatch(ctx context.Context, items []Item) Summary {
	s := Summary{Results: make([]ItemResult, 0, len(items))}
	for _, it := range items {
		s.Add(u.UploadOne(ctx, it))
	}
	return s
}

// Progress is emitted after each batch.
type Progress struct {
	Batch      int     `json:"batch"` // 1-based
	Batches    int     `json:"batches"`
	Completed  int     `json:"completed"` // items processed so far
	Total      int     `json:"total"`
	Summary    Summary `json:"summary"` // this batch only
	Cumulative Summary `json:"cumulative"`
}

// Stream uploads items batch by batch and yields one Progress per finished
// batch. Cancellation is honoured between batches only: a started batch
// always completes. Stopping the iteration stops further batches.
func (u *Uploader) Stream(ctx context.Context, items []Item) iter.Seq[Progress] {
	return func(yield func(Progress) bool) {
		batches := Batches(items, u.cfg.BatchSize)
		batchCtx := context.WithoutCancel(ctx)
		var cum Summary
		for i, b := range batches {
			if err := ctx.Err(); err != nil {
				u.logger.Info("reconcile: cancelled between batches",
					"batch", i+1, "batches", len(batches), "error", err)
				return
			}
			s := u.UploadBatch(batchCtx, b)
			cum.Merge(s)
			u.logger.Debug("reconcile: batch done",
				"batch", i+1, "batches", len(batches), "success", s.Success, "failed", s.Failed)
			p := Progress{
				Batch:      i + 1,
				Batches:    len(batches),
				Completed:  cum.Total,
				Total:      len(items),
				Summary:    s,
				Cumulative: snapshot(cum),
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Run drains Stream and returns the aggregate.
func (u *Uploader) Run(ctx context.Context, items []Item) Summary {
	var last Summary
	for p := range u.Stream(ctx, items) {
		last = p.Cumulative
	}
	if last.Results == nil {
		last.Results = []ItemResult{}
	}
	u.logger.Info("reconcile: run done", "total", last.Total, "success", last.Success, "failed", last.Failed)
	return last
}

// snapshot copies the results slice so a yielded Progress is not aliased by
// later appends.
func snapshot(s Summary) Summary {
	s.Results = append([]ItemResult(nil), s.Results...)
	return s
}
