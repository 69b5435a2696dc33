package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// toPNG renders a receipt upload as a single PNG. PDFs render their first
// page, HEIC and other raster formats are re-encoded and PNGs pass through.
func toPNG(data []byte, contentType string) ([]byte, error) {
	switch mediaType(data, contentType) {
	case "image/png":
		return data, nil
	case "application/pdf":
		img, err := renderFirstPage(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return encodePNG(img)
	case "image/heic":
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return encodePNG(img)
	default:
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("unsupported image format (want JPEG, PNG, GIF, HEIC or PDF): %w", err)
		}
		return encodePNG(img)
	}
}

// mediaType settles on a media type from the declared content type, falling
// back to sniffing the bytes when the declaration is missing or generic.
func mediaType(data []byte, contentType string) string {
	if isHEIC(data) {
		return "image/heic"
	}

	declared := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(declared, ";"); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	switch {
	case strings.Contains(declared, "heic"), strings.Contains(declared, "heif"):
		return "image/heic"
	case declared != "" && declared != "application/octet-stream":
		return declared
	}

	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	return sniffed
}

// isHEIC checks for an ftyp box with a HEIC family brand
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func renderFirstPage(pdf []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
