package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/horosheet/filerec"
	"github.com/hazyhaar/horosheet/kit"
)

// RegisterMCP registers the workbook tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerQueryTool(srv)
	s.registerSchemaTool(srv)
	s.registerListTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	sc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		sc["required"] = required
	}
	return sc
}

// resolveCompleted is the MCP-side analog of completedRecord.
func (s *Service) resolveCompleted(ctx context.Context, fileID string) (*filerec.Record, error) {
	if fileID == "" {
		return nil, fmt.Errorf("file_id is required")
	}
	rec, err := s.records.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("workbook %s not found", fileID)
	}
	if rec.State != filerec.StateCompleted {
		return nil, fmt.Errorf("workbook %s is %s", fileID, rec.State)
	}
	return rec, nil
}

// --- sheet_query ---

type sheetQueryReq struct {
	FileID string `json:"file_id"`
	SQL    string `json:"sql"`
}

func (s *Service) registerQueryTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sheet_query",
		Description: "Execute a read-only SQL SELECT against an ingested workbook. Tables live under the source_db alias.",
		InputSchema: inputSchema(map[string]any{
			"file_id": map[string]any{"type": "string", "description": "Workbook file ID"},
			"sql":     map[string]any{"type": "string", "description": "SELECT statement"},
		}, []string{"file_id", "sql"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*sheetQueryReq)
		rec, err := s.resolveCompleted(ctx, r.FileID)
		if err != nil {
			return nil, err
		}
		engine, cleanup, err := s.openEngine(ctx, rec.Hash)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		return engine.Execute(ctx, r.SQL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r sheetQueryReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- sheet_schema ---

type sheetSchemaReq struct {
	FileID string `json:"file_id"`
}

func (s *Service) registerSchemaTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sheet_schema",
		Description: "Return the table metadata and column descriptions of an ingested workbook.",
		InputSchema: inputSchema(map[string]any{
			"file_id": map[string]any{"type": "string", "description": "Workbook file ID"},
		}, []string{"file_id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*sheetSchemaReq)
		rec, err := s.resolveCompleted(ctx, r.FileID)
		if err != nil {
			return nil, err
		}
		return s.loadMetadata(ctx, rec.Hash)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r sheetSchemaReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- sheet_list ---

type sheetListReq struct{}

func (s *Service) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sheet_list",
		Description: "List ingested workbooks with their lifecycle state.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		records, err := s.records.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"workbooks": records}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: &sheetListReq{}}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
