package receipt

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			name      string
			savedName string
			err       error
		)

		BeforeEach(func() {
			name = "scan_receipt.jpg"
		})

		JustBeforeEach(func() {
			savedName, err = storage.Save(ctx, name, []byte("test file content"), "image/jpeg")
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the name", func() {
				Expect(savedName).To(Equal(name))
			})

			It("should save the file to disk", func() {
				Expect(filepath.Join(tmpDir, name)).To(BeAnExistingFile())
			})
		})

		When("the name escapes the storage directory", func() {
			BeforeEach(func() {
				name = "../outside.jpg"
			})

			It("returns an error", func() {
				Expect(err).To(MatchError(ContainSubstring("invalid file name")))
				Expect(filepath.Join(tmpDir, "..", "outside.jpg")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			name string
			data []byte
			err  error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(ctx, name)
		})

		When("file exists", func() {
			BeforeEach(func() {
				name = "scan_receipt.jpg"
				_, saveErr := storage.Save(ctx, name, []byte("test file content"), "image/jpeg")
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the file data", func() {
				Expect(string(data)).To(Equal("test file content"))
			})
		})

		When("file does not exist", func() {
			BeforeEach(func() {
				name = "nonexistent.jpg"
			})

			It("returns ErrFileNotFound", func() {
				Expect(errors.Is(err, ErrFileNotFound)).To(BeTrue())
			})
		})
	})

	Describe("Delete", func() {
		var (
			name string
			err  error
		)

		JustBeforeEach(func() {
			err = storage.Delete(ctx, name)
		})

		When("file exists", func() {
			BeforeEach(func() {
				name = "scan_receipt.jpg"
				_, saveErr := storage.Save(ctx, name, []byte("test content"), "")
				Expect(saveErr).NotTo(HaveOccurred())
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should remove the file from disk", func() {
				Expect(filepath.Join(tmpDir, name)).NotTo(BeAnExistingFile())
			})
		})

		When("file does not exist", func() {
			BeforeEach(func() {
				name = "nonexistent.jpg"
			})

			It("returns ErrFileNotFound", func() {
				Expect(errors.Is(err, ErrFileNotFound)).To(BeTrue())
			})
		})
	})

	Describe("NewLocalStorage", func() {
		It("creates a missing directory", func() {
			path := filepath.Join(GinkgoT().TempDir(), "receipts")
			_, err := NewLocalStorage(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(BeADirectory())
		})
	})
})
