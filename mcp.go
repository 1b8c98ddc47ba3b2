package main

import (
	"context"
	"fmt"
	"strings"

	_ "embed"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// The MCP scan tool refuses ranges wider than this many 64 KB blocks.
const mcpMaxScanBlocks = 0x100

func runMCP(e *Engine, cfg Config) error {
	s := server.NewMCPServer(
		"MC Poker",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	docTool := mcp.NewTool("mc_describe-sysex",
		mcp.WithDescription("Returns a description of the Roland MC-707/MC-101 SysEx parameter protocol and address map."),
	)
	s.AddTool(docTool, docToolHandler)

	resolveTool := mcp.NewTool("mc_resolve-address",
		mcp.WithDescription("Returns the base address of the tone of a track and clip. Omit clip (or pass 0) for the track sound."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number (1-8).")),
		mcp.WithNumber("clip", mcp.Description("Clip number (1-16), 0 for the track sound.")),
	)
	s.AddTool(resolveTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		track, err := request.RequireInt("track")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		clip := request.GetInt("clip", TrackSound)
		return mcp.NewToolResultText(fmt.Sprintf("%08X", Resolve(track, clip))), nil
	})

	readTool := mcp.NewTool("mc_read-param",
		mcp.WithDescription("Reads a parameter value with an RQ1 request."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Absolute address in hex, e.g. 30000018.")),
		mcp.WithNumber("size", mcp.Description("Value size in bytes: 1, 2 or 4 (default 1).")),
	)
	s.AddTool(readTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Info("[mcp] handling read request")

		address, err := requireAddress(request, "address")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		size := request.GetInt("size", 1)

		v, ok, err := e.ReadParam(address, size)
		if err != nil {
			return nil, errors.Wrap(err, "read param")
		}
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("no value at %08X", address)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("%d", v)), nil
	})

	writeTool := mcp.NewTool("mc_write-param",
		mcp.WithDescription("Writes a parameter value with a DT1 message. The device does not acknowledge writes."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Absolute address in hex, e.g. 30000018.")),
		mcp.WithNumber("value", mcp.Required(), mcp.Description("Value to write.")),
		mcp.WithNumber("size", mcp.Description("Value size in bytes: 1, 2 or 4 (default 1).")),
	)
	s.AddTool(writeTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Info("[mcp] handling write request")

		address, err := requireAddress(request, "address")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := request.RequireInt("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if value < 0 {
			return mcp.NewToolResultError("value must not be negative"), nil
		}
		size := request.GetInt("size", 1)

		if err := e.WriteParam(address, uint32(value), size); err != nil {
			if errors.Is(err, ErrUnsupportedSize) {
				return mcp.NewToolResultError(err.Error()), nil
			}
			return nil, errors.Wrap(err, "write param")
		}
		return mcp.NewToolResultText("Value sent."), nil
	})

	adjustTool := mcp.NewTool("mc_adjust-param",
		mcp.WithDescription("Reads, adjusts by step and writes back a tone parameter, clamped to its range. param is coarse-tune or partial-wave."),
		mcp.WithString("param", mcp.Required(), mcp.Description("coarse-tune or partial-wave.")),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number (1-8).")),
		mcp.WithNumber("clip", mcp.Description("Clip number (1-16), 0 for the track sound.")),
		mcp.WithNumber("partial", mcp.Description("Partial (1-4) for partial-wave, default 1.")),
		mcp.WithNumber("step", mcp.Required(), mcp.Description("Signed adjustment.")),
	)
	s.AddTool(adjustTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Info("[mcp] handling adjust request")

		name, err := request.RequireString("param")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		track, err := request.RequireInt("track")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		step, err := request.RequireInt("step")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var p Param
		switch name {
		case "coarse-tune":
			p = CoarseTune
		case "partial-wave":
			p = PartialWave(request.GetInt("partial", 1))
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown param %q", name)), nil
		}

		base := Resolve(track, request.GetInt("clip", TrackSound))
		v, err := RMW(e, base, p, step)
		if errors.Is(err, ErrReadFailed) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(fmt.Sprintf("%s is now %d", p.Name, v)), nil
	})

	scanTool := mcp.NewTool("mc_scan",
		mcp.WithDescription("Samples the start of every 64 KB block in [start, end) and returns the non-empty responses as CSV rows."),
		mcp.WithString("start", mcp.Required(), mcp.Description("Start address in hex.")),
		mcp.WithString("end", mcp.Required(), mcp.Description("End address in hex (exclusive).")),
	)
	s.AddTool(scanTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log.Info("[mcp] handling scan request")

		start, err := requireAddress(request, "start")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		end, err := requireAddress(request, "end")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if end < start || (end>>16)-(start>>16) > mcpMaxScanBlocks {
			return mcp.NewToolResultError(fmt.Sprintf("range must cover at most %d blocks", mcpMaxScanBlocks)), nil
		}

		sink := &sliceSink{}
		if _, err := Scan(ctx, e, start, end, cfg.Scan, sink); err != nil {
			return nil, errors.Wrap(err, "scan")
		}

		var sb strings.Builder
		for _, row := range sink.rows {
			sb.WriteString(strings.Join(row.Record(), ","))
			sb.WriteString("\n")
		}
		if sb.Len() == 0 {
			return mcp.NewToolResultText("No responses."), nil
		}
		return mcp.NewToolResultText(sb.String()), nil
	})

	playTool := mcp.NewTool("mc_play",
		mcp.WithDescription("Auditions the selected tone of a track: plays the test note, or a phrase such as \"C4 E4 G4 r C5\"."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number (1-8), used as the MIDI channel.")),
		mcp.WithString("phrase", mcp.Description("Steps separated by spaces; r is a rest. Omit for the test note.")),
	)
	s.AddTool(playTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		track, err := request.RequireInt("track")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		phrase := request.GetString("phrase", "")
		if phrase == "" {
			if err := e.PlayNote(track, TestNote); err != nil {
				return nil, err
			}
			return mcp.NewToolResultText("Test note played."), nil
		}
		steps, err := ParsePhrase(phrase)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := e.PlayPhrase(track, steps, phraseNote); err != nil {
			return nil, errors.Wrap(err, "play phrase")
		}
		return mcp.NewToolResultText(fmt.Sprintf("Played %d steps.", len(steps))), nil
	})

	identityTool := mcp.NewTool("mc_identity-request",
		mcp.WithDescription("Sends the universal identity request SysEx."),
	)
	s.AddTool(identityTool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := e.SendIdentityRequest(); err != nil {
			return nil, err
		}
		return mcp.NewToolResultText("Identity request sent."), nil
	})

	log.Println("Starting MC Poker MCP server...")

	return server.ServeStdio(s)
}

func requireAddress(request mcp.CallToolRequest, key string) (uint32, error) {
	s, err := request.RequireString(key)
	if err != nil {
		return 0, err
	}
	a, err := ParseAddress(s)
	if err != nil {
		return 0, err
	}
	return uint32(a), nil
}

//go:embed sysex.md
var sysexDoc string

func docToolHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	log.Println("[mcp] handling SysEx documentation request")

	return mcp.NewToolResultText(sysexDoc), nil
}
