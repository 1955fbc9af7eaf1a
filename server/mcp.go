package server

import (
	"context"
	"encoding/base64"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/coverbridge/kit"
)

// RegisterMCP registers the coverbridge tools on an MCP server. Tool calls act
// as Config.MCPUserID.
func (s *Server) RegisterMCP(srv *mcp.Server) {
	s.registerRecordsTool(srv)
	s.registerParseZipTool(srv)
	s.registerExportTool(srv)
}

// bindMCP makes every tool call act as the configured MCP user.
func (s *Server) bindMCP(ctx context.Context) context.Context {
	return kit.WithUser(ctx, s.cfg.MCPUserID, "")
}

// --- records ---

type recordsReq struct {
	Limit int `json:"limit"`
}

type recordOut struct {
	RecordID  string `json:"recordId"`
	MainTitle string `json:"mainTitle"`
	SubTitle  string `json:"subTitle"`
}

func (s *Server) registerRecordsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "coverbridge_records",
		Description: "List the cover texts (main and sub title) of every record in the configured Feishu table, in table order.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Return at most this many records (0 = all)"},
		}),
	}

	kit.AddTool(srv, tool, s.bindMCP, func(ctx context.Context, r *recordsReq) (any, error) {
		covers, err := s.Records(ctx, kit.UserID(ctx))
		if err != nil {
			return nil, err
		}
		total := len(covers)
		if r.Limit > 0 && r.Limit < len(covers) {
			covers = covers[:r.Limit]
		}
		out := make([]recordOut, 0, len(covers))
		for _, c := range covers {
			out = append(out, recordOut{RecordID: c.RecordID, MainTitle: c.MainTitle, SubTitle: c.SubTitle})
		}
		return map[string]any{"total": total, "records": out}, nil
	}, kit.RequireUser)
}

// --- parse_zip ---

type parseZipReq struct {
	ZipBase64 string `json:"zip_base64"`
}

type imageInfo struct {
	Name   string `json:"name"`
	Format string `json:"format,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Bytes  int    `json:"bytes"`
}

func (s *Server) registerParseZipTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "coverbridge_parse_zip",
		Description: "List the images of a ZIP archive in the order they would be attached to table records.",
		InputSchema: kit.ObjectSchema(map[string]any{
			"zip_base64": map[string]any{"type": "string", "description": "Base64-encoded ZIP archive"},
		}, "zip_base64"),
	}

	kit.AddTool(srv, tool, nil, func(_ context.Context, r *parseZipReq) (any, error) {
		data, err := decodeBase64("zip_base64", r.ZipBase64)
		if err != nil {
			return nil, err
		}
		images, err := s.ParseArchive(data)
		if err != nil {
			return nil, err
		}
		out := make([]imageInfo, 0, len(images))
		for _, img := range images {
			out = append(out, imageInfo{
				Name: img.Name, Format: img.Format,
				Width: img.Width, Height: img.Height, Bytes: len(img.Data),
			})
		}
		return map[string]any{"count": len(out), "images": out}, nil
	})
}

// --- export ---

type exportReq struct{}

func (s *Server) registerExportTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "coverbridge_export",
		Description: "Render every table record into the Gaoding batch-design import archive. Returns the archive base64-encoded.",
		InputSchema: kit.ObjectSchema(map[string]any{}),
	}

	kit.AddTool(srv, tool, s.bindMCP, func(ctx context.Context, _ *exportReq) (any, error) {
		res, err := s.Export(ctx, kit.UserID(ctx))
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"fileName":   res.FileName,
			"rows":       res.Rows,
			"taskId":     res.TaskID,
			"zip_base64": base64.StdEncoding.EncodeToString(res.Data),
		}, nil
	}, kit.RequireUser)
}
