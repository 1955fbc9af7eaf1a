package server

import (
	"context"
	"fmt"
	"iter"

	"github.com/hazyhaar/coverbridge/feishu"
	"github.com/hazyhaar/coverbridge/gaoding"
	"github.com/hazyhaar/coverbridge/imagezip"
	"github.com/hazyhaar/coverbridge/observability"
	"github.com/hazyhaar/coverbridge/reconcile"
	"github.com/hazyhaar/coverbridge/store"
)

// Records lists every record of the user's table as covers, in server order.
func (s *Server) Records(ctx context.Context, userID string) ([]feishu.Cover, error) {
	_, cl, err := s.userClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	recs, err := cl.ListAllRecords(ctx)
	if err != nil {
		return nil, err
	}
	return feishu.ExtractCovers(recs), nil
}

// ExportResult is a rendered export archive.
type ExportResult struct {
	FileName string `json:"fileName"`
	Data     []byte `json:"-"`
	Rows     int    `json:"rows"`
	TaskID   string `json:"taskId,omitempty"`
}

// Export renders the user's records into the Gaoding import archive and
// records the run as a task.
func (s *Server) Export(ctx context.Context, userID string) (*ExportResult, error) {
	task, err := s.cfg.Store.CreateTask(ctx, userID, observability.EventExport, 0)
	if err != nil {
		return nil, err
	}
	s.setTask(ctx, task.ID, store.TaskExporting, 0, nil)

	res, err := s.export(ctx, userID)
	s.logEvent(ctx, observability.BusinessEvent{
		EventType:  observability.EventExport,
		EntityType: "task",
		EntityID:   task.ID,
		UserID:     userID,
		Action:     "export_archive",
		Details:    exportDetails(res, err),
		Success:    err == nil,
	})
	if err != nil {
		s.setTask(ctx, task.ID, store.TaskFailed, 0, err)
		return nil, err
	}
	s.setTask(ctx, task.ID, store.TaskCompleted, res.Rows, nil)
	res.TaskID = task.ID
	return res, nil
}

func (s *Server) export(ctx context.Context, userID string) (*ExportResult, error) {
	covers, err := s.Records(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows := gaoding.RowsFromCovers(covers)
	data, err := s.codec().BuildExportArchive(rows, gaoding.CoverHeaders)
	if err != nil {
		return nil, err
	}
	return &ExportResult{
		FileName: gaoding.ExportFileName(s.cfg.Now()),
		Data:     data,
		Rows:     len(rows),
	}, nil
}

func exportDetails(res *ExportResult, err error) map[string]any {
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"rows": res.Rows, "bytes": len(res.Data), "file": res.FileName}
}

// ParseArchive extracts the images of a ZIP in page order.
func (s *Server) ParseArchive(data []byte) ([]imagezip.Image, error) {
	return s.parser.Parse(data)
}

// UploadItems uploads one batch of pre-paired items to the user's table.
func (s *Server) UploadItems(ctx context.Context, userID string, items []reconcile.Item) (reconcile.Summary, error) {
	fc, cl, err := s.userClient(ctx, userID)
	if err != nil {
		return reconcile.Summary{}, err
	}
	up := reconcile.NewUploader(cl, reconcile.Config{
		ImageField: fc.ImageField(),
		BatchSize:  s.cfg.BatchSize,
		Logger:     s.logger,
	})
	sum := up.UploadBatch(ctx, items)
	s.logEvent(ctx, observability.BusinessEvent{
		EventType: observability.EventUploadBatch,
		UserID:    userID,
		Action:    "upload_images",
		Details:   map[string]int{"total": sum.Total, "success": sum.Success, "failed": sum.Failed},
		Success:   sum.Failed == 0,
	})
	return sum, nil
}

// ImportPlan describes an import before the first batch runs.
type ImportPlan struct {
	TaskID   string `json:"taskId"`
	Images   int    `json:"images"`
	Records  int    `json:"records"`
	Paired   int    `json:"paired"`
	Mismatch bool   `json:"mismatch"`
}

// Import is a prepared import run.
type Import struct {
	Plan ImportPlan

	s      *Server
	userID string
	items  []reconcile.Item
	up     *reconcile.Uploader
}

// PrepareImport parses the archive, fetches the records and pairs them.
// The returned Import has not uploaded anything yet.
func (s *Server) PrepareImport(ctx context.Context, userID string, archive []byte) (*Import, error) {
	fc, cl, err := s.userClient(ctx, userID)
	if err != nil {
		return nil, err
	}
	images, err := s.parser.Parse(archive)
	if err != nil {
		return nil, err
	}
	recs, err := cl.ListAllRecords(ctx)
	if err != nil {
		return nil, err
	}
	covers := feishu.ExtractCovers(recs)
	items, mismatch := reconcile.Plan(s.logger, images, covers)

	task, err := s.cfg.Store.CreateTask(ctx, userID, observability.EventImport, len(items))
	if err != nil {
		return nil, err
	}
	return &Import{
		Plan: ImportPlan{
			TaskID:   task.ID,
			Images:   len(images),
			Records:  len(covers),
			Paired:   len(items),
			Mismatch: mismatch,
		},
		s:      s,
		userID: userID,
		items:  items,
		up: reconcile.NewUploader(cl, reconcile.Config{
			ImageField: fc.ImageField(),
			BatchSize:  s.cfg.BatchSize,
			Logger:     s.logger,
		}),
	}, nil
}

// Progress runs the batches, keeping the task row current. The task ends
// completed when every batch ran, failed when the run was cut short.
func (im *Import) Progress(ctx context.Context) iter.Seq[reconcile.Progress] {
	return func(yield func(reconcile.Progress) bool) {
		s, taskID := im.s, im.Plan.TaskID
		s.setTask(ctx, taskID, store.TaskUploading, 0, nil)

		var last reconcile.Progress
		stopped := false
		for p := range im.up.Stream(ctx, im.items) {
			last = p
			s.setTask(ctx, taskID, store.TaskUploading, p.Completed, nil)
			if !yield(p) {
				stopped = true
				break
			}
		}

		var runErr error
		switch {
		case stopped && last.Completed < len(im.items):
			runErr = fmt.Errorf("import stopped after %d of %d items", last.Completed, len(im.items))
		case ctx.Err() != nil && last.Completed < len(im.items):
			runErr = fmt.Errorf("import cancelled after %d of %d items: %w", last.Completed, len(im.items), ctx.Err())
		}
		if runErr != nil {
			s.setTask(ctx, taskID, store.TaskFailed, last.Completed, runErr)
		} else {
			s.setTask(ctx, taskID, store.TaskCompleted, last.Completed, nil)
		}
		sum := last.Cumulative
		s.logEvent(ctx, observability.BusinessEvent{
			EventType:  observability.EventImport,
			EntityType: "task",
			EntityID:   taskID,
			UserID:     im.userID,
			Action:     "import_archive",
			Details: map[string]any{
				"images": im.Plan.Images, "records": im.Plan.Records,
				"success": sum.Success, "failed": sum.Failed, "mismatch": im.Plan.Mismatch,
			},
			Success: runErr == nil && sum.Failed == 0,
		})
	}
}

// userClient loads the user's credentials and builds a client for them.
func (s *Server) userClient(ctx context.Context, userID string) (*store.FeishuConfig, *feishu.Client, error) {
	fc, err := s.cfg.Store.GetConfig(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	cl, err := s.client(fc)
	if err != nil {
		return nil, nil, err
	}
	return fc, cl, nil
}

// setTask records task progress. Failures are logged; the run goes on.
func (s *Server) setTask(ctx context.Context, id string, status store.TaskStatus, processed int, cause error) {
	u := store.TaskUpdate{Status: status, ProcessedRecords: &processed}
	if cause != nil {
		msg := cause.Error()
		u.ErrorMessage = &msg
	}
	if err := s.cfg.Store.UpdateTaskStatus(context.WithoutCancel(ctx), id, u); err != nil {
		s.logger.Warn("server: task update failed", "task_id", id, "status", status, "error", err)
	}
}
