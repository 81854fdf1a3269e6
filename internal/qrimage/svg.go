package qrimage

import (
	"bytes"
	"fmt"
)

// renderSVG emits a vector rendering of the QR module bitmap. One <rect>
// per dark module, scaled by the viewBox so the artifact renders crisply at
// any display size.
func renderSVG(bitmap [][]bool, sizePx int) []byte {
	modules := len(bitmap)
	var buf bytes.Buffer

	fmt.Fprintf(&buf, `<?xml version="1.0" encoding="UTF-8"?>`+"\n")
	fmt.Fprintf(&buf,
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`+"\n",
		sizePx, sizePx, modules, modules)
	buf.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>` + "\n")

	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&buf, `<rect x="%d" y="%d" width="1" height="1" fill="#000000"/>`+"\n", x, y)
			}
		}
	}
	buf.WriteString("</svg>\n")
	return buf.Bytes()
}
