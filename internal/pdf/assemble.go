// Package pdf turns a sequence of page images into a single PDF document.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Square page in PDF points. Generated images are square, so a relative
// scale of 1 fills the page edge to edge with no margin.
const pageImportSpec = "dim:595 595, pos:c, sc:1 rel"

// Assemble writes one page per image, in the order given, and returns the
// finished document. The returned bytes are fully flushed; nothing is
// buffered behind a pending writer.
func Assemble(images [][]byte) ([]byte, error) {
	if len(images) == 0 {
		return nil, errors.New("pdf: no images to assemble")
	}

	imp, err := api.Import(pageImportSpec, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("pdf: parse import spec: %w", err)
	}

	readers := make([]io.Reader, len(images))
	for i, img := range images {
		readers[i] = bytes.NewReader(img)
	}

	var buf bytes.Buffer
	if err := api.ImportImages(nil, &buf, readers, imp, configuration()); err != nil {
		return nil, fmt.Errorf("pdf: import images: %w", err)
	}
	return buf.Bytes(), nil
}

// PageCount reports the number of pages in an assembled document.
func PageCount(document []byte) (int, error) {
	count, err := api.PageCount(bytes.NewReader(document), configuration())
	if err != nil {
		return 0, fmt.Errorf("pdf: page count: %w", err)
	}
	return count, nil
}

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
