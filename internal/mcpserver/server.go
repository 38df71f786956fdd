// Package mcpserver exposes the structure interpreter as MCP tools so
// agents can lay out a project skeleton from tree text.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/structra/api"
	"github.com/agentic-research/structra/internal/journal"
	"github.com/agentic-research/structra/internal/logging"
	"github.com/agentic-research/structra/internal/materialize"
	"github.com/agentic-research/structra/internal/structure"
)

const (
	ToolMaterialize = "materialize_structure"
	ToolParse       = "parse_structure"
)

// Handler holds the settings every tool call shares.
type Handler struct {
	// Base is the directory structures are created in when a call does
	// not name one.
	Base     string
	Logger   *logging.Logger
	Journal  *journal.Writer
	DirMode  os.FileMode
	FileMode os.FileMode
}

// New builds an MCP server with the structra tools registered.
func New(version string, h *Handler) *server.MCPServer {
	s := server.NewMCPServer("structra", version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool(ToolMaterialize,
		mcp.WithDescription("Create the directories and empty files described by an indented or tree(1)-style listing. "+
			"The first line is the root directory. Existing files are never modified."),
		mcp.WithString("structure", mcp.Required(), mcp.Description("Structure text, one entry per line")),
		mcp.WithString("base_dir", mcp.Description("Directory the root is created in")),
		mcp.WithBoolean("dry_run", mcp.Description("Report what would be created without touching disk")),
	), h.Materialize)

	s.AddTool(mcp.NewTool(ToolParse,
		mcp.WithDescription("Classify structure text into entries (depth, kind, name) without creating anything."),
		mcp.WithString("structure", mcp.Required(), mcp.Description("Structure text, one entry per line")),
	), h.Parse)

	return s
}

// Serve runs the server over stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (h *Handler) Materialize(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("structure")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	dryRun := req.GetBool("dry_run", false)
	base := req.GetString("base_dir", h.Base)

	var fs billy.Filesystem
	if dryRun {
		fs = memfs.New()
		if base != "" {
			abs, err := filepath.Abs(base)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			// Report the paths a real call would create.
			fs = chroot.New(fs, abs)
		}
	} else {
		if base == "" {
			return mcp.NewToolResultError("base_dir is required"), nil
		}
		abs, err := filepath.Abs(base)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("create base: %v", err)), nil
		}
		fs = osfs.New(abs)
	}

	var outcomes []api.Outcome
	sinks := []materialize.Sink{
		h.Logger.Named("mcp"),
		materialize.SinkFunc(func(o api.Outcome) { outcomes = append(outcomes, o) }),
	}
	var run *journal.Run
	if h.Journal != nil && !dryRun {
		if run, err = h.Journal.StartRun("mcp", ToolMaterialize); err == nil {
			sinks = append(sinks, run)
		} else {
			h.Logger.Warn("journal: %v", err)
			run = nil
		}
	}

	opts := []materialize.Option{materialize.WithSink(materialize.Sinks(sinks...))}
	if h.DirMode != 0 {
		opts = append(opts, materialize.WithDirMode(h.DirMode))
	}
	if h.FileMode != 0 {
		opts = append(opts, materialize.WithFileMode(h.FileMode))
	}
	res, err := materialize.New(fs, opts...).Materialize(strings.NewReader(text))
	if run != nil {
		if ferr := run.Finish(res, err); ferr != nil {
			h.Logger.Warn("journal: %v", ferr)
		}
	}
	if errors.Is(err, structure.ErrNoRoot) {
		return mcp.NewToolResultError("structure is empty"), nil
	}
	if err != nil && res == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	if dryRun {
		b.WriteString("dry run, nothing written\n")
	}
	for _, o := range outcomes {
		b.WriteString(o.String())
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d created, %d existed, %d failed\n", res.Created, res.Existed, res.Failed)
	if err != nil {
		fmt.Fprintf(&b, "error: %v\n", err)
		return mcp.NewToolResultError(b.String()), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (h *Handler) Parse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("structure")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	r := structure.NewReader(strings.NewReader(text))
	root, err := r.Root()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries := []any{}
	for {
		e, ok := r.Next()
		if !ok {
			break
		}
		entries = append(entries, map[string]any{
			"line":  int64(e.Line),
			"depth": int64(e.Depth),
			"kind":  e.Kind.String(),
			"name":  e.Name,
		})
	}
	if err := r.Err(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	doc := map[string]any{"root": root, "entries": entries}
	return mcp.NewToolResultText(oj.JSON(doc, &ojg.Options{Indent: 2, Sort: true})), nil
}
