// Package mcp exposes chargeback usage, budgets and failed records to MCP
// clients over stdio JSON-RPC.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/chargeback/pkg/models"
)

// UsageQuerier reads recorded usage.
type UsageQuerier interface {
	Summary(ctx context.Context, appKey string) ([]models.UsageSummary, error)
	QueryByKey(ctx context.Context, appKey string, since time.Time) ([]models.StoredUsage, error)
}

// BudgetReporter reports budget status for an app key.
type BudgetReporter interface {
	Status(ctx context.Context, appKey string) ([]models.BudgetStatus, error)
}

// FailureQuerier reads the dead-letter store.
type FailureQuerier interface {
	Query(ctx context.Context, opts models.FailedQueryOpts) ([]models.FailedRecord, error)
	Stats(ctx context.Context) ([]models.FailureStat, error)
}

// Server is a minimal MCP server. Budgets and failures may be nil, in which
// case their tools answer that the feature is not configured.
type Server struct {
	usage    UsageQuerier
	budgets  BudgetReporter
	failures FailureQuerier
	version  string
	logger   *zap.Logger
}

// New creates a Server.
func New(usage UsageQuerier, budgets BudgetReporter, failures FailureQuerier, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		usage:    usage,
		budgets:  budgets,
		failures: failures,
		version:  version,
		logger:   logger,
	}
}

// Run serves newline-delimited requests from r until r is exhausted or ctx
// is done.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(w, Response{
				JSONRPC: "2.0",
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if resp := s.dispatch(ctx, &req); resp != nil {
			s.write(w, *resp)
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case "initialize":
		return s.reply(req, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "chargeback", Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})
	case "notifications/initialized":
		return nil
	case "tools/list":
		return s.reply(req, ToolsListResult{Tools: toolDefinitions()})
	case "tools/call":
		var params ToolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return &Response{
				JSONRPC: "2.0",
				ID:      req.ID,
				Error:   &RPCError{Code: CodeInvalidParams, Message: "invalid params"},
			}
		}
		return s.reply(req, s.callTool(ctx, params))
	}
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Error:   &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method: %s", req.Method)},
	}
}

func (s *Server) reply(req *Request, result any) *Response {
	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) callTool(ctx context.Context, params ToolCallParams) ToolCallResult {
	t, ok := findTool(params.Name)
	if !ok {
		return errorResult(fmt.Sprintf("unknown tool: %s", params.Name))
	}
	s.logger.Debug("tool call", zap.String("tool", params.Name))
	return t.handle(ctx, s, params.Arguments)
}

func (s *Server) write(w io.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal mcp response", zap.Error(err))
		return
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		s.logger.Error("write mcp response", zap.Error(err))
	}
}
