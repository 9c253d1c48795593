package spool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"go.uber.org/zap"

	"github.com/HerbHall/printfleet/internal/inventory"
	"github.com/HerbHall/printfleet/internal/testutil"
	"github.com/HerbHall/printfleet/pkg/models"
)

// buildPDF returns a minimal PDF with pages of the given size. Odd pages
// inherit their MediaBox from the page tree; even pages carry their own
// MediaBox and a CropBox.
func buildPDF(pages int, width, height float64) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 %g %g] /Resources << >> >>",
		strings.Join(kids, " "), pages, width, height))
	for i := 1; i <= pages; i++ {
		if i%2 == 1 {
			obj("<< /Type /Page /Parent 2 0 R >>")
			continue
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /CropBox [10 10 %g %g] >>",
			width, height, width-10, height-10))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// pageBox is the effective geometry of one page.
type pageBox struct {
	Width, Height float64
	Crop          []float64
}

// readBoxes parses data and returns each page's own MediaBox and CropBox.
func readBoxes(t *testing.T, data []byte) []pageBox {
	t.Helper()
	ctx, err := api.ReadContext(bytes.NewReader(data), NewPageNormalizer().config())
	if err != nil {
		t.Fatalf("ReadContext: %v", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		t.Fatalf("EnsurePageCount: %v", err)
	}
	boxes := make([]pageBox, 0, ctx.PageCount)
	for i := 1; i <= ctx.PageCount; i++ {
		d, _, _, err := ctx.PageDict(i, false)
		if err != nil {
			t.Fatalf("PageDict(%d): %v", i, err)
		}
		media, ok := d["MediaBox"].(types.Array)
		if !ok || len(media) != 4 {
			t.Fatalf("page %d: MediaBox = %v", i, d["MediaBox"])
		}
		b := pageBox{
			Width:  number(t, media[2]) - number(t, media[0]),
			Height: number(t, media[3]) - number(t, media[1]),
		}
		if crop, ok := d["CropBox"].(types.Array); ok {
			for _, o := range crop {
				b.Crop = append(b.Crop, number(t, o))
			}
		}
		boxes = append(boxes, b)
	}
	return boxes
}

func number(t *testing.T, o types.Object) float64 {
	t.Helper()
	switch v := o.(type) {
	case types.Float:
		return v.Value()
	case types.Integer:
		return float64(v.Value())
	}
	t.Fatalf("not a number: %v", o)
	return 0
}

// fakeDevices resolves devices from a map.
type fakeDevices map[string]models.Device

func (f fakeDevices) GetByID(_ context.Context, id string) (*models.Device, error) {
	d, ok := f[id]
	if !ok {
		return nil, inventory.ErrNotFound
	}
	return &d, nil
}

// fakeConverter writes output as the converted document, or fails with err.
type fakeConverter struct {
	mu     sync.Mutex
	output []byte
	err    error
	calls  int
	outDir string
}

func (c *fakeConverter) Convert(_ context.Context, src, outDir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.outDir = outDir
	if c.err != nil {
		return "", c.err
	}
	out := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".pdf")
	return out, os.WriteFile(out, c.output, 0o600)
}

func (c *fakeConverter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakePrinter is a raw-print listener that records every connection's bytes.
type fakePrinter struct {
	ln   net.Listener
	mu   sync.Mutex
	jobs [][]byte
	done chan struct{}
}

func newFakePrinter(t *testing.T) *fakePrinter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	p := &fakePrinter{ln: ln, done: make(chan struct{}, 16)}
	go p.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *fakePrinter) serve() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			data, _ := io.ReadAll(conn)
			p.mu.Lock()
			p.jobs = append(p.jobs, data)
			p.mu.Unlock()
			p.done <- struct{}{}
		}()
	}
}

func (p *fakePrinter) port() int {
	return p.ln.Addr().(*net.TCPAddr).Port
}

// received waits for n jobs and returns everything received so far.
func (p *fakePrinter) received(t *testing.T, n int) [][]byte {
	t.Helper()
	for range n {
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			t.Fatalf("printer received fewer than %d jobs", n)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.jobs...)
}

func (p *fakePrinter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// closedPort returns a localhost port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// pipelineHarness wires a pipeline to fakes and a local printer.
type pipelineHarness struct {
	pipeline  *Pipeline
	devices   fakeDevices
	converter *fakeConverter
	printer   *fakePrinter
	bus       *testutil.MockBus
	workDir   string
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	h := &pipelineHarness{
		devices:   fakeDevices{},
		converter: &fakeConverter{output: buildPDF(1, 612, 792)},
		printer:   newFakePrinter(t),
		bus:       testutil.NewMockBus(),
		workDir:   t.TempDir(),
	}
	transport := NewRawTransport(h.printer.port(), time.Second, 5*time.Second)
	h.pipeline = NewPipeline(h.devices, h.converter, NewPageNormalizer(), transport, h.bus, h.workDir, zap.NewNop())
	return h
}

// addPrinter registers a printer at localhost in the given state.
func (h *pipelineHarness) addPrinter(id string, state models.ConnectivityState) {
	d := testutil.NewDevice(
		testutil.WithName(id),
		testutil.WithAddress("127.0.0.1"),
		testutil.WithState(state),
	)
	d.ID = id
	h.devices[id] = d
}

// upload writes data to a file outside the work directory.
func upload(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return path
}

// assertEmptyDir fails when dir still holds entries.
func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("%s not cleaned up: %v", dir, names)
	}
}
