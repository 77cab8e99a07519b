// Command canvasctl inspects and exports canvases from the configured store
// without running the server.
//
//	canvasctl list
//	canvasctl export -id canvas-123 -format png -out brief.png
//	canvasctl export -format md -copy
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"kno-canvas/internal/canvas"
	"kno-canvas/internal/config"
	"kno-canvas/internal/db"
	"kno-canvas/internal/export"
	"kno-canvas/internal/models"
)

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	faintStyle    = lipgloss.NewStyle().Faint(true)
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: canvasctl <list|export> [flags]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "list":
		err = runList(os.Stdout)
	case "export":
		err = runExport(os.Args[2:], os.Stdout)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "canvasctl:", err)
		os.Exit(1)
	}
}

// openRegistry loads the document lists read-only. The persistence writer
// is never started, so nothing is written back.
func openRegistry(ctx context.Context) (*canvas.Registry, *canvas.Persistence, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	logger := zap.NewNop()
	backend, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	p := canvas.NewPersistence(backend.Blobs, logger)
	registry := canvas.NewRegistry(p, logger)
	if err := registry.Load(ctx); err != nil {
		backend.Close()
		return nil, nil, nil, err
	}
	return registry, p, func() { backend.Close() }, nil
}

func runList(w io.Writer) error {
	ctx := context.Background()
	registry, _, closeFn, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	printDocuments(w, "Canvases", registry.List(), registry.Selected())
	if trash := registry.Trash(); len(trash) > 0 {
		fmt.Fprintln(w)
		printDocuments(w, "Trash", trash, "")
	}
	return nil
}

func printDocuments(w io.Writer, heading string, docs []models.CanvasDocument, selected string) {
	fmt.Fprintln(w, headerStyle.Render(heading))
	if len(docs) == 0 {
		fmt.Fprintln(w, faintStyle.Render("  (none)"))
		return
	}
	for _, doc := range docs {
		line := fmt.Sprintf("  %-28s %-32s %3d nodes  %s", doc.ID, doc.Title, doc.NodeCount,
			doc.LastModified.Local().Format("2006-01-02 15:04"))
		if doc.ID == selected {
			line = selectedStyle.Render("* " + line[2:])
		}
		fmt.Fprintln(w, line)
	}
}

func runExport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	id := fs.String("id", "", "canvas id (default: the selected canvas)")
	format := fs.String("format", "md", "md or png")
	out := fs.String("out", "", "output file (default: stdout)")
	copyOut := fs.Bool("copy", false, "copy the markdown brief to the clipboard")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format != "md" && *format != "png" {
		return fmt.Errorf("unknown format %q", *format)
	}
	if *copyOut && *format != "md" {
		return fmt.Errorf("-copy only works with -format md")
	}

	ctx := context.Background()
	registry, p, closeFn, err := openRegistry(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	docID := *id
	if docID == "" {
		docID = registry.Selected()
	}
	doc, ok := registry.Get(docID)
	if !ok {
		return fmt.Errorf("%w: %q", canvas.ErrDocumentNotFound, docID)
	}
	state := models.CanvasState{Viewport: canvas.DefaultViewport()}
	if _, err := p.Load(ctx, canvas.StateKey(docID), &state); err != nil {
		return err
	}
	snap, _ := canvas.Sanitize(canvas.Snapshot{Nodes: state.Nodes, Edges: state.Edges})

	var w io.Writer = stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if *format == "png" {
		return export.PNG(w, snap.Nodes, snap.Edges)
	}
	brief := export.Markdown(doc.Title, snap.Nodes, time.Now())
	if *copyOut {
		if err := clipboard.WriteAll(brief); err != nil {
			return fmt.Errorf("failed to copy brief: %w", err)
		}
		fmt.Fprintln(os.Stderr, "copied", export.Filename(doc.Title, "md"), "to the clipboard")
		if *out == "" {
			return nil
		}
	}
	_, err = io.WriteString(w, brief)
	return err
}
