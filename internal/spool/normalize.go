package spool

import (
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// A4 page size in PDF points.
const (
	PageWidth  = 595.28
	PageHeight = 841.89
)

func init() {
	// pdfcpu would otherwise install a configuration directory under the
	// user's home on first use.
	api.DisableConfigDir()
}

// PageNormalizer rewrites the page geometry of PDF documents.
type PageNormalizer struct {
	Width, Height float64
}

// NewPageNormalizer returns a normalizer targeting A4.
func NewPageNormalizer() *PageNormalizer {
	return &PageNormalizer{Width: PageWidth, Height: PageHeight}
}

func (n *PageNormalizer) config() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Normalize reads the PDF from r, sets every page's MediaBox to the target
// size, drops any CropBox and writes the result to w. It returns the page
// count.
func (n *PageNormalizer) Normalize(r io.ReadSeeker, w io.Writer) (int, error) {
	ctx, err := api.ReadContext(r, n.config())
	if err != nil {
		return 0, fmt.Errorf("read pdf: %w", err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return 0, fmt.Errorf("validate pdf: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}

	box := types.NewRectangle(0, 0, n.Width, n.Height)
	for i := 1; i <= ctx.PageCount; i++ {
		d, _, inh, err := ctx.PageDict(i, false)
		if err != nil {
			return 0, fmt.Errorf("page %d: %w", i, err)
		}
		if d == nil {
			return 0, fmt.Errorf("page %d: missing page dictionary", i)
		}
		d.Update("MediaBox", box.Array())
		d.Delete("CropBox")
		if inh != nil && inh.CropBox != nil {
			// An inherited CropBox would still clip the page.
			d.Update("CropBox", box.Array())
		}
	}

	if err := api.WriteContext(ctx, w); err != nil {
		return 0, fmt.Errorf("write pdf: %w", err)
	}
	return ctx.PageCount, nil
}

// NormalizeFile normalizes src into a new file in dir and returns its path.
func (n *PageNormalizer) NormalizeFile(src, dir string) (path string, pages int, err error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, err
	}
	defer in.Close()

	out, err := os.CreateTemp(dir, "normalized-*.pdf")
	if err != nil {
		return "", 0, err
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(out.Name())
		}
	}()

	pages, err = n.Normalize(in, out)
	return out.Name(), pages, err
}
