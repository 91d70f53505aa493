// Package qr renders share codes that point at a poll's page.
package qr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"

	"github.com/skip2/go-qrcode"

	"github.com/sujalbistaa/pollwave/internal/apperr"
)

// Output formats.
const (
	FormatPNG = "png"
	FormatSVG = "svg"
)

const (
	DefaultWidth  = 300
	DefaultMargin = 2
	MinWidth      = 32
	MaxWidth      = 2048
	MaxMargin     = 20
)

// Options controls how a code is drawn. Width is the output width in
// pixels and Margin the quiet zone in modules.
type Options struct {
	Format string
	Width  int
	Margin int
	Dark   string
	Light  string
}

// DefaultOptions matches what the share dialog requests.
func DefaultOptions() Options {
	return Options{Format: FormatPNG, Width: DefaultWidth, Margin: DefaultMargin, Dark: "#000000", Light: "#FFFFFF"}
}

// PollURL is the page a poll's code points at.
func PollURL(appURL, pollID string) string {
	return strings.TrimRight(appURL, "/") + "/polls/" + pollID
}

// Render encodes content and returns the image bytes and content type.
func Render(content string, o Options) ([]byte, string, error) {
	dark, light, err := o.validate()
	if err != nil {
		return nil, "", err
	}

	code, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode qr code: %w", err)
	}
	code.DisableBorder = true
	grid := withMargin(code.Bitmap(), o.Margin)
	if o.Width < len(grid) {
		return nil, "", apperr.Validation(map[string]string{
			"width": fmt.Sprintf("must be at least %d to fit every module", len(grid)),
		})
	}

	switch o.Format {
	case FormatSVG:
		return renderSVG(grid, o.Width, o.Dark, o.Light), "image/svg+xml", nil
	default:
		b, err := renderPNG(grid, o.Width, dark, light)
		if err != nil {
			return nil, "", err
		}
		return b, "image/png", nil
	}
}

func (o Options) validate() (dark, light color.NRGBA, err error) {
	fields := map[string]string{}
	if o.Format != FormatPNG && o.Format != FormatSVG {
		fields["format"] = "must be png or svg"
	}
	if o.Width < MinWidth || o.Width > MaxWidth {
		fields["width"] = fmt.Sprintf("must be between %d and %d", MinWidth, MaxWidth)
	}
	if o.Margin < 0 || o.Margin > MaxMargin {
		fields["margin"] = fmt.Sprintf("must be between 0 and %d", MaxMargin)
	}
	if dark, err = ParseHexColor(o.Dark); err != nil {
		fields["dark"] = "must be a hex color"
	}
	if light, err = ParseHexColor(o.Light); err != nil {
		fields["light"] = "must be a hex color"
	}
	if len(fields) > 0 {
		return dark, light, apperr.Validation(fields)
	}
	return dark, light, nil
}

// withMargin surrounds the module grid with a light quiet zone.
func withMargin(bits [][]bool, margin int) [][]bool {
	n := len(bits) + 2*margin
	out := make([][]bool, n)
	for y := range out {
		out[y] = make([]bool, n)
	}
	for y, row := range bits {
		copy(out[y+margin][margin:], row)
	}
	return out
}

func renderPNG(grid [][]bool, width int, dark, light color.NRGBA) ([]byte, error) {
	n := len(grid)
	img := image.NewPaletted(image.Rect(0, 0, width, width), color.Palette{light, dark})
	for py := 0; py < width; py++ {
		row := grid[py*n/width]
		for px := 0; px < width; px++ {
			if row[px*n/width] {
				img.SetColorIndex(px, py, 1)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func renderSVG(grid [][]bool, width int, dark, light string) []byte {
	n := len(grid)
	var path strings.Builder
	for y, row := range grid {
		for x := 0; x < n; {
			if !row[x] {
				x++
				continue
			}
			start := x
			for x < n && row[x] {
				x++
			}
			fmt.Fprintf(&path, "M%d %dh%dv1h-%dz", start, y, x-start, x-start)
		}
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, width, width, n, n)
	fmt.Fprintf(&b, `<path fill="%s" d="M0 0h%dv%dH0z"/>`, light, n, n)
	fmt.Fprintf(&b, `<path fill="%s" d="%s"/>`, dark, path.String())
	b.WriteString("</svg>\n")
	return b.Bytes()
}

// ParseHexColor accepts #RGB, #RRGGBB and #RRGGBBAA.
func ParseHexColor(s string) (color.NRGBA, error) {
	hex, ok := strings.CutPrefix(s, "#")
	if !ok {
		return color.NRGBA{}, fmt.Errorf("color %q must start with #", s)
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("color %q has the wrong length", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("color %q is not hex: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
