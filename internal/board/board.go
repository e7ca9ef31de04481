// Package board tiles user-submitted character reference images into a
// single contact-sheet PNG used as an auxiliary visual reference.
package board

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	xdraw "golang.org/x/image/draw"
)

const (
	// CellSize is the square side of one grid cell in pixels.
	CellSize = 256
	// Padding separates cells and frames the canvas.
	Padding = 16
	// MaxColumns caps the grid width.
	MaxColumns = 3
)

// Compose decodes the given images best-effort, cover-fits each into a
// square cell and lays the cells into a grid of at most MaxColumns columns.
// Inputs that fail to decode are silently excluded. Returns nil when no
// input decodes; otherwise a PNG-encoded contact sheet.
func Compose(images [][]byte) []byte {
	var decoded []image.Image
	for _, data := range images {
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			continue
		}
		decoded = append(decoded, img)
	}
	if len(decoded) == 0 {
		return nil
	}

	columns := len(decoded)
	if columns > MaxColumns {
		columns = MaxColumns
	}
	rows := (len(decoded) + columns - 1) / columns

	width := columns*CellSize + (columns+1)*Padding
	height := rows*CellSize + (rows+1)*Padding
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)

	for i, img := range decoded {
		col := i % columns
		row := i / columns
		x := Padding + col*(CellSize+Padding)
		y := Padding + row*(CellSize+Padding)
		cell := image.Rect(x, y, x+CellSize, y+CellSize)
		xdraw.CatmullRom.Scale(canvas, cell, img, centerSquare(img.Bounds()), xdraw.Over, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil
	}
	return buf.Bytes()
}

// centerSquare returns the largest centered square within b, so scaling it
// into a square cell crops to fill instead of letterboxing.
func centerSquare(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	side := w
	if h < side {
		side = h
	}
	x0 := b.Min.X + (w-side)/2
	y0 := b.Min.Y + (h-side)/2
	return image.Rect(x0, y0, x0+side, y0+side)
}
