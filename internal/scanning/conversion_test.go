package scanning

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("toPNG", func() {
	var img *image.RGBA

	BeforeEach(func() {
		img = image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(1, 1, color.White)
	})

	It("passes PNG data through", func() {
		var buf bytes.Buffer
		Expect(png.Encode(&buf, img)).To(Succeed())

		out, err := toPNG(buf.Bytes(), "image/png")
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(buf.Bytes()))
	})

	It("re-encodes JPEG data", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, img, nil)).To(Succeed())

		out, err := toPNG(buf.Bytes(), "")
		Expect(err).NotTo(HaveOccurred())
		_, format, err := image.Decode(bytes.NewReader(out))
		Expect(err).NotTo(HaveOccurred())
		Expect(format).To(Equal("png"))
	})

	It("returns an error for data that is not an image", func() {
		_, err := toPNG([]byte("not an image"), "image/jpeg")
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})
})

var _ = Describe("mediaType", func() {
	It("detects HEIC by its ftyp box", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic0000")...)
		Expect(mediaType(data, "application/octet-stream")).To(Equal("image/heic"))
	})

	It("drops content type parameters", func() {
		Expect(mediaType([]byte("%PDF-1.4"), "application/pdf; name=r.pdf")).To(Equal("application/pdf"))
	})

	It("sniffs a missing content type", func() {
		Expect(mediaType([]byte("%PDF-1.4\n"), "")).To(Equal("application/pdf"))
	})
})
