package mcpserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ceyewan/fpdmcp/clog"
	"github.com/ceyewan/fpdmcp/idgen"
	"github.com/ceyewan/fpdmcp/metrics"
	"github.com/ceyewan/fpdmcp/xerrors"
)

// toolBucketKey 所有工具共享一个令牌桶
const toolBucketKey = "mcp"

// handlerFunc 工具业务函数，args 为原始 JSON 参数
type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

func schema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func integer(desc string, def int) map[string]any {
	return map[string]any{"type": "integer", "description": desc, "default": def}
}

func boolean(desc string, def bool) map[string]any {
	return map[string]any{"type": "boolean", "description": desc, "default": def}
}

// addTool 注册工具，统一处理限流、关联 ID、错误归一与指标
func (s *Server) addTool(name, desc string, input map[string]any, h handlerFunc) {
	tool := &mcp.Tool{Name: name, Description: desc, InputSchema: input}
	s.mcp.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		requestID := idgen.RequestID()
		ctx = clog.WithRequestID(ctx, requestID)

		out, xerr := s.call(ctx, name, req.Params.Arguments, h)

		outcome := OutcomeSuccess
		labels := []metrics.Label{metrics.L(LabelTool, name)}
		if xerr != nil {
			outcome = OutcomeError
			if xerr.RequestID == "" {
				xerr.WithRequestID(requestID)
			}
			s.logger.WarnContext(ctx, "tool call failed",
				clog.String("tool", name),
				clog.String("kind", string(xerr.Kind)),
				clog.String("message", xerr.Message),
				clog.Error(xerr.Cause))
		} else {
			s.logger.InfoContext(ctx, "tool call succeeded",
				clog.String("tool", name), clog.Duration("elapsed", time.Since(start)))
		}
		s.calls.Inc(ctx, append(labels, metrics.L(LabelOutcome, outcome))...)
		s.duration.Record(ctx, time.Since(start).Seconds(), labels...)

		if xerr != nil {
			return errorResult(xerr), nil
		}
		return textResult(out)
	})
}

func (s *Server) call(ctx context.Context, name string, args json.RawMessage, h handlerFunc) (any, *xerrors.Error) {
	if s.deps.Tools != nil {
		if ok, wait := s.deps.Tools.Allow(toolBucketKey); !ok {
			return nil, xerrors.E(xerrors.KindRateLimit,
				"Rate limit exceeded for %s. Please retry after %.1f seconds.", name, wait.Seconds()).
				WithRetryAfter(wait)
		}
	}
	return xerrors.Guard(ctx, func(ctx context.Context) (any, error) {
		return h(ctx, args)
	})
}

// decodeArgs 解析工具参数，缺省参数视为空对象
func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return xerrors.E(xerrors.KindValidation, "invalid arguments: %v", err).WithCause(err)
	}
	return nil
}

func textResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(xerrors.E(xerrors.KindInternal, "internal error").WithCause(err)), nil
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(e *xerrors.Error) *mcp.CallToolResult {
	data, _ := json.Marshal(e.Payload())
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: true,
	}
}

// validation 返回校验错误，便于在业务函数中直接 return
func validation(format string, args ...any) error {
	return xerrors.E(xerrors.KindValidation, format, args...)
}
