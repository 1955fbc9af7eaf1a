package server

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/coverbridge/auth"
	"github.com/hazyhaar/coverbridge/observability"
	"github.com/hazyhaar/coverbridge/reconcile"
	"github.com/hazyhaar/coverbridge/shield"
	"github.com/hazyhaar/coverbridge/store"
)

// --- auth ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	u, err := s.cfg.Store.Authenticate(r.Context(), req.Username, req.Password)
	s.logEvent(r.Context(), observability.BusinessEvent{
		EventType:  observability.EventLogin,
		EntityType: "user",
		EntityID:   req.Username,
		Action:     "login",
		Success:    err == nil,
	})
	if err != nil {
		if errors.Is(err, store.ErrBadCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "用户名或密码错误"})
			return
		}
		fail(w, r, err)
		return
	}
	token, err := auth.GenerateToken(s.cfg.SessionSecret, claimsFor(u), auth.DefaultExpiry)
	if err != nil {
		fail(w, r, err)
		return
	}
	auth.SetTokenCookie(w, token, s.cfg.SecureCookies)
	writeJSON(w, http.StatusOK, map[string]any{"user": u, "token": token})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	auth.ClearTokenCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c := auth.GetClaims(r.Context())
	if c == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	u, err := s.cfg.Store.GetUser(r.Context(), c.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- feishu config ---

type configReq struct {
	AppID          string `json:"appId"`
	AppSecret      string `json:"appSecret"`
	AppToken       string `json:"appToken"`
	TableID        string `json:"tableId"`
	ImageFieldName string `json:"imageFieldName"`
}

func (c configReq) empty() bool {
	return c.AppID == "" && c.AppSecret == "" && c.AppToken == "" && c.TableID == ""
}

// resolve turns a request into a config, taking the stored secret when the
// browser sends back the masked placeholder.
func (s *Server) resolve(r *http.Request, userID string, req configReq) (*store.FeishuConfig, error) {
	fc := &store.FeishuConfig{
		UserID:         userID,
		AppID:          strings.TrimSpace(req.AppID),
		AppSecret:      strings.TrimSpace(req.AppSecret),
		AppToken:       strings.TrimSpace(req.AppToken),
		TableID:        strings.TrimSpace(req.TableID),
		ImageFieldName: strings.TrimSpace(req.ImageFieldName),
	}
	if fc.AppSecret == store.MaskedSecret {
		saved, err := s.cfg.Store.GetConfig(r.Context(), userID)
		if err != nil {
			return nil, err
		}
		fc.AppSecret = saved.AppSecret
	}
	return fc, nil
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	fc, err := s.cfg.Store.GetConfig(r.Context(), sessionUser(r))
	if errors.Is(err, store.ErrConfigMissing) {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fc.Masked())
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req configReq
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	userID := sessionUser(r)
	fc, err := s.resolve(r, userID, req)
	if err == nil {
		err = s.cfg.Store.UpsertConfig(r.Context(), fc)
	}
	s.logEvent(r.Context(), observability.BusinessEvent{
		EventType:  observability.EventConfigSaved,
		EntityType: "feishu_config",
		EntityID:   userID,
		UserID:     userID,
		Action:     "save",
		Success:    err == nil,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleDeleteConfig forgets the user's table credentials. Deleting a
// missing config succeeds.
func (s *Server) handleDeleteConfig(w http.ResponseWriter, r *http.Request) {
	userID := sessionUser(r)
	err := s.cfg.Store.DeleteConfig(r.Context(), userID)
	s.logEvent(r.Context(), observability.BusinessEvent{
		EventType:  observability.EventConfigDeleted,
		EntityType: "feishu_config",
		EntityID:   userID,
		UserID:     userID,
		Action:     "delete",
		Success:    err == nil,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type fieldInfo struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// handleTestConfig checks credentials by listing the table's fields. The
// body may carry unsaved credentials; an empty body tests the saved ones.
func (s *Server) handleTestConfig(w http.ResponseWriter, r *http.Request) {
	var req configReq
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
			fail(w, r, err)
			return
		}
	}
	userID := sessionUser(r)

	var fc *store.FeishuConfig
	var err error
	if req.empty() {
		fc, err = s.cfg.Store.GetConfig(r.Context(), userID)
	} else {
		fc, err = s.resolve(r, userID, req)
		if err == nil {
			err = fc.Validate()
		}
	}
	if err != nil {
		fail(w, r, err)
		return
	}

	fields, err := s.testConnection(r, fc)
	s.logEvent(r.Context(), observability.BusinessEvent{
		EventType:  observability.EventConfigTested,
		EntityType: "feishu_config",
		EntityID:   userID,
		UserID:     userID,
		Action:     "test",
		Details:    map[string]int{"fields": len(fields)},
		Success:    err == nil,
	})
	if err != nil {
		writeError(w, statusOf(err), fmt.Errorf("连接失败: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": fmt.Sprintf("连接成功，表格共有 %d 个字段", len(fields)),
		"fields":  fields,
	})
}

func (s *Server) testConnection(r *http.Request, fc *store.FeishuConfig) ([]fieldInfo, error) {
	cl, err := s.client(fc)
	if err != nil {
		return nil, err
	}
	if _, err := cl.TenantAccessToken(r.Context()); err != nil {
		return nil, err
	}
	fields, err := cl.ListFields(r.Context())
	if err != nil {
		return nil, err
	}
	out := make([]fieldInfo, 0, len(fields))
	for _, f := range fields {
		out = append(out, fieldInfo{Name: f.FieldName, Type: f.Type})
	}
	return out, nil
}

// --- records, export, archives ---

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	covers, err := s.Records(r.Context(), sessionUser(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"total": len(covers), "records": covers})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.Export(r.Context(), sessionUser(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", attachment(res.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.Header().Set("X-Task-Id", res.TaskID)
	w.WriteHeader(http.StatusOK)
	w.Write(res.Data)
}

type imageOut struct {
	Name   string `json:"name"`
	Data   string `json:"data"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

func (s *Server) handleParseZip(w http.ResponseWriter, r *http.Request) {
	archive, err := readArchive(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	images, err := s.ParseArchive(archive)
	if err != nil {
		writeError(w, statusOf(err), fmt.Errorf("解析 ZIP 失败: %v", err))
		return
	}
	out := make([]imageOut, 0, len(images))
	for _, img := range images {
		out = append(out, imageOut{
			Name:   img.Name,
			Data:   base64.StdEncoding.EncodeToString(img.Data),
			Format: img.Format,
			Width:  img.Width,
			Height: img.Height,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(out), "images": out})
}

// readArchive takes a raw application/zip body or a JSON {zipData} body.
func readArchive(r *http.Request) ([]byte, error) {
	if ct := r.Header.Get("Content-Type"); strings.HasPrefix(ct, "application/zip") ||
		strings.HasPrefix(ct, "application/octet-stream") {
		return io.ReadAll(r.Body)
	}
	var req struct {
		ZipData string `json:"zipData"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	if req.ZipData == "" {
		return nil, fmt.Errorf("%w: zipData required", errBadRequest)
	}
	return decodeBase64("zipData", req.ZipData)
}

func (s *Server) handleUploadImages(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Images []struct {
			RecordID  string `json:"recordId"`
			ImageData string `json:"imageData"`
			FileName  string `json:"fileName"`
		} `json:"images"`
	}
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	items := make([]reconcile.Item, 0, len(req.Images))
	for i, img := range req.Images {
		data, err := decodeBase64(fmt.Sprintf("images[%d].imageData", i), img.ImageData)
		if err != nil {
			fail(w, r, err)
			return
		}
		items = append(items, reconcile.Item{RecordID: img.RecordID, Image: data, FileName: img.FileName})
	}
	sum, err := s.UploadItems(r.Context(), sessionUser(r), items)
	if err != nil {
		fail(w, r, err)
		return
	}
	if sum.Results == nil {
		sum.Results = []reconcile.ItemResult{}
	}
	writeJSON(w, http.StatusOK, sum)
}

// handleImport runs the whole pipeline and streams one JSON line per step:
// a "plan" line, one "progress" line per batch, then a "done" line. A client
// disconnect stops the run after the current batch.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	archive, err := readArchive(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	userID := sessionUser(r)
	im, err := s.PrepareImport(r.Context(), userID, archive)
	if err != nil {
		fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Task-Id", im.Plan.TaskID)
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	enc := newLineWriter(w, rc)

	enc.write(map[string]any{"type": "plan", "plan": im.Plan})

	var last reconcile.Summary
	for p := range im.Progress(r.Context()) {
		last = p.Cumulative
		if err := enc.write(map[string]any{"type": "progress", "progress": p}); err != nil {
			shield.GetLogger(r.Context()).Warn("import: client gone", "task_id", im.Plan.TaskID, "error", err)
			return
		}
	}
	if last.Results == nil {
		last.Results = []reconcile.ItemResult{}
	}
	done := map[string]any{
		"type":     "done",
		"taskId":   im.Plan.TaskID,
		"summary":  last,
		"mismatch": im.Plan.Mismatch,
	}
	if im.Plan.Mismatch {
		done["warning"] = mismatchWarning(im.Plan)
	}
	enc.write(done)
}

func mismatchWarning(p ImportPlan) string {
	return fmt.Sprintf("图片数量(%d)与记录数量(%d)不一致，已按顺序处理前 %d 条", p.Images, p.Records, p.Paired)
}

// --- tasks ---

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.cfg.Store.ListTasks(r.Context(), sessionUser(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	if tasks == nil {
		tasks = []*store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind         string `json:"kind"`
		TotalRecords int    `json:"totalRecords"`
	}
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	t, err := s.cfg.Store.CreateTask(r.Context(), sessionUser(r), req.Kind, req.TotalRecords)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// ownTask returns the task when it belongs to the caller. Other users'
// tasks are reported as missing.
func (s *Server) ownTask(r *http.Request) (*store.Task, error) {
	t, err := s.cfg.Store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if t.UserID != sessionUser(r) {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.ownTask(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.ownTask(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var u store.TaskUpdate
	if err := decodeJSON(r, &u); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.cfg.Store.UpdateTaskStatus(r.Context(), t.ID, u); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- events ---

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Events == nil {
		writeJSON(w, http.StatusOK, []observability.StoredEvent{})
		return
	}
	events, err := s.cfg.Events.Recent(r.Context(), sessionUser(r), queryInt(r, "limit", 50))
	if err != nil {
		fail(w, r, err)
		return
	}
	if events == nil {
		events = []observability.StoredEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}
