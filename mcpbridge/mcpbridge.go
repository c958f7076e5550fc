// Package mcpbridge registers viewsync operations as MCP tools so an agent
// runtime can pull frames and issue actions over the Model Context
// Protocol. It only transports frames and actions; deciding what to do
// with them stays on the agent side.
package mcpbridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/viewsync/frame"
	"github.com/hazyhaar/viewsync/pipeline"
)

// RegisterMCP registers all viewsync tools on an MCP server.
func RegisterMCP(srv *mcp.Server, p *pipeline.Pipeline) {
	registerLatestFrame(srv, p)
	registerWaitStable(srv, p)
	registerAct(srv, p)
	registerStats(srv, p)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// addTool wires a handler with JSON marshalling of the response, matching
// the transport contract of the other hazyhaar MCP surfaces.
func addTool(srv *mcp.Server, tool *mcp.Tool, handler func(ctx context.Context, args json.RawMessage) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := handler(ctx, req.Params.Arguments)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

type frameView struct {
	ID           int64   `json:"id"`
	CapturedAt   string  `json:"captured_at"`
	Changed      bool    `json:"changed"`
	DeltaPercent float64 `json:"delta_percent"`
	KeepAlive    bool    `json:"keep_alive,omitempty"`
	Pixels       string  `json:"pixels,omitempty"` // base64, when requested
}

func viewOf(f *frame.Frame, withPixels bool) *frameView {
	if f == nil {
		return nil
	}
	v := &frameView{
		ID:           f.ID,
		CapturedAt:   f.CapturedAt.Format(time.RFC3339Nano),
		Changed:      f.Changed,
		DeltaPercent: f.DeltaPercent,
		KeepAlive:    f.KeepAlive,
	}
	if withPixels {
		v.Pixels = base64.StdEncoding.EncodeToString(f.Pixels)
	}
	return v
}

func registerLatestFrame(srv *mcp.Server, p *pipeline.Pipeline) {
	tool := &mcp.Tool{
		Name:        "viewsync_latest_frame",
		Description: "Return the most recent frame of the observed surface, optionally with the encoded image payload.",
		InputSchema: inputSchema(map[string]any{
			"include_pixels": map[string]any{"type": "boolean", "description": "Include the base64 image payload"},
		}, nil),
	}

	addTool(srv, tool, func(_ context.Context, args json.RawMessage) (any, error) {
		var r struct {
			IncludePixels bool `json:"include_pixels"`
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &r); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		f := p.LatestFrame()
		if f == nil {
			return nil, frame.ErrNoFrame
		}
		return viewOf(f, r.IncludePixels), nil
	})
}

func registerWaitStable(srv *mcp.Server, p *pipeline.Pipeline) {
	tool := &mcp.Tool{
		Name:        "viewsync_wait_stable",
		Description: "Wait until the surface shows no significant change for the given duration, then return the latest frame.",
		InputSchema: inputSchema(map[string]any{
			"duration_ms": map[string]any{"type": "integer", "description": "Required quiet period in milliseconds"},
			"timeout_ms":  map[string]any{"type": "integer", "description": "Overall wait cap in milliseconds"},
		}, nil),
	}

	addTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		r := struct {
			DurationMs int64 `json:"duration_ms"`
			TimeoutMs  int64 `json:"timeout_ms"`
		}{DurationMs: 500, TimeoutMs: 5000}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &r); err != nil {
				return nil, fmt.Errorf("invalid arguments: %w", err)
			}
		}
		f, err := p.WaitForStableFrame(ctx,
			time.Duration(r.DurationMs)*time.Millisecond,
			time.Duration(r.TimeoutMs)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return viewOf(f, false), nil
	})
}

func registerAct(srv *mcp.Server, p *pipeline.Pipeline) {
	tool := &mcp.Tool{
		Name:        "viewsync_act",
		Description: "Perform an input action (click, type, scroll, drag, key, wait) and return the before/after frame correlation.",
		InputSchema: inputSchema(map[string]any{
			"kind":        map[string]any{"type": "string", "description": "click | type | scroll | drag | key | wait | screenshot"},
			"x":           map[string]any{"type": "number"},
			"y":           map[string]any{"type": "number"},
			"to_x":        map[string]any{"type": "number"},
			"to_y":        map[string]any{"type": "number"},
			"text":        map[string]any{"type": "string"},
			"duration_ms": map[string]any{"type": "integer"},
		}, []string{"kind"}),
	}

	addTool(srv, tool, func(ctx context.Context, args json.RawMessage) (any, error) {
		var r struct {
			Kind       string  `json:"kind"`
			X          float64 `json:"x"`
			Y          float64 `json:"y"`
			ToX        float64 `json:"to_x"`
			ToY        float64 `json:"to_y"`
			Text       string  `json:"text"`
			DurationMs int64   `json:"duration_ms"`
		}
		if err := json.Unmarshal(args, &r); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}

		out, err := p.RegisterAction(ctx, frame.Action{
			Kind:     frame.Kind(r.Kind),
			X:        r.X,
			Y:        r.Y,
			ToX:      r.ToX,
			ToY:      r.ToY,
			Text:     r.Text,
			Duration: time.Duration(r.DurationMs) * time.Millisecond,
		})
		if err != nil {
			return nil, err
		}

		resp := map[string]any{
			"before":        viewOf(out.Before, false),
			"after":         viewOf(out.After, false),
			"caused_change": out.CausedChange,
			"latency_ms":    out.Latency.Milliseconds(),
			"timed_out":     out.TimedOut,
		}
		if out.Err != nil {
			resp["error"] = out.Err.Error()
		}
		return resp, nil
	})
}

func registerStats(srv *mcp.Server, p *pipeline.Pipeline) {
	tool := &mcp.Tool{
		Name:        "viewsync_stats",
		Description: "Return pipeline throughput and buffer statistics.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	addTool(srv, tool, func(_ context.Context, _ json.RawMessage) (any, error) {
		return p.Stats(), nil
	})
}
