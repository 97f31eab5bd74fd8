// Package mcpserver exposes tendency queries and session submission as MCP
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/db"
	"github.com/muffinbran/pitch-tendency-analyzer/internal/tendency"
)

// Service is the subset of *tendency.Service the tools call.
type Service interface {
	Submit(ctx context.Context, p tendency.SessionPayload) (tendency.Ack, error)
	Tendencies(ctx context.Context, filter db.InstrumentFilter) ([]tendency.Summary, error)
	Instruments(ctx context.Context) ([]tendency.Instrument, error)
}

// New builds an MCP server with the pitchtend tools registered.
func New(svc Service, version string) *server.MCPServer {
	s := server.NewMCPServer("pitchtend", version, server.WithToolCapabilities(false))
	h := &handlers{svc: svc}

	s.AddTool(mcp.NewTool("get_tendencies",
		mcp.WithDescription("Per-note pitch tendencies: the sample-weighted mean deviation in cents for every note, sorted by instrument then most sharp first. Positive cents are sharp, negative are flat."),
		mcp.WithNumber("instrument_id", mcp.Description("Only include this instrument. Omit for all instruments.")),
	), h.getTendencies)

	s.AddTool(mcp.NewTool("list_instruments",
		mcp.WithDescription("Instruments with stored tuning sessions and how many sessions each has."),
	), h.listInstruments)

	s.AddTool(mcp.NewTool("submit_session",
		mcp.WithDescription("Store one tuning session. The session is rejected if its id was already submitted."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Unique session id")),
		mcp.WithString("instrument", mcp.Description("Instrument name, e.g. Violin")),
		mcp.WithNumber("instrument_id", mcp.Required(), mcp.Description("Numeric instrument id")),
		mcp.WithString("notes_json", mcp.Required(), mcp.Description(`JSON array of {"note_string","mean_cents","count"} objects`)),
	), h.submitSession)

	return s
}

// Serve runs s on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

type handlers struct {
	svc Service
}

func (h *handlers) getTendencies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := db.AllInstruments()
	if raw, ok := req.GetArguments()["instrument_id"]; ok && raw != nil {
		id, err := integerArg("instrument_id", raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter = db.ForInstrument(id)
	}

	rows, err := h.svc.Tendencies(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rows)
}

func (h *handlers) listInstruments(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instruments, err := h.svc.Instruments(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if instruments == nil {
		instruments = []tendency.Instrument{}
	}
	return jsonResult(instruments)
}

func (h *handlers) submitSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	sessionID, _ := args["session_id"].(string)
	instrument, _ := args["instrument"].(string)

	p := tendency.SessionPayload{SessionID: sessionID, Instrument: instrument}
	if raw, ok := args["instrument_id"]; ok && raw != nil {
		id, err := integerArg("instrument_id", raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		p.InstrumentID = &id
	}

	if notes, ok := args["notes_json"].(string); ok {
		if err := json.Unmarshal([]byte(notes), &p.Notes); err != nil {
			return mcp.NewToolResultError("notes_json: " + err.Error()), nil
		}
	}

	ack, err := h.svc.Submit(ctx, p)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ack)
}

// integerArg accepts whole JSON numbers. Arguments decoded from JSON arrive as
// float64.
func integerArg(name string, v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("%s must be an integer, got %v", name, n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case json.Number:
		return n.Int64()
	}
	return 0, fmt.Errorf("%s must be a number, got %T", name, v)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
