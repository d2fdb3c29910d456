// Package pdf turns scanned PDF files into numbered page images.
//
// Scanned PDFs carry one raster image per page. The images are pulled out
// with pdfcpu and written as page_NNN.png so the rest of folio can treat a
// PDF upload like a set of page images.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	_ "golang.org/x/image/tiff"

	"github.com/MeKo-Tech/folio/internal/utils"
)

// ErrNoPageImages is returned when none of the selected pages carries an image.
var ErrNoPageImages = errors.New("pdf: no page images found")

// Options controls page extraction.
type Options struct {
	// PageRange selects pages, e.g. "1-3,7". Empty means all pages.
	PageRange string
	// FirstNumber is the number given to the first written page. Defaults to 1.
	FirstNumber int
	// Credentials opens password protected files.
	Credentials *Credentials
}

// Page is one page image written by ExtractPageImages.
type Page struct {
	Number     int    `json:"num"`
	SourcePage int    `json:"source_page"`
	Filename   string `json:"filename"`
	Path       string `json:"-"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// ExtractPageImages writes the largest image of every selected page to
// outDir as page_NNN.png. Pages are numbered consecutively starting at
// opts.FirstNumber; pages without images are skipped.
func ExtractPageImages(ctx context.Context, filename, outDir string, opts Options) ([]Page, error) {
	pageNumbers, err := parsePageRange(opts.PageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", opts.PageRange, err)
	}
	first := opts.FirstNumber
	if first <= 0 {
		first = 1
	}

	tempDir, err := os.MkdirTemp("", "folio-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	// pdfcpu names extracted images <input base>_<page>_<image>.<ext>.
	source := filepath.Join(tempDir, "page.pdf")
	if err := copyFile(filename, source); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}
	imagesDir := filepath.Join(tempDir, "images")
	if err := os.Mkdir(imagesDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	var pageStrings []string
	for _, n := range pageNumbers {
		pageStrings = append(pageStrings, strconv.Itoa(n))
	}

	if err := api.ExtractImagesFile(source, imagesDir, pageStrings, opts.Credentials.configuration()); err != nil {
		if IsPasswordError(err) {
			return nil, fmt.Errorf("%w: %w", ErrPasswordRequired, err)
		}
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byPage, err := collectExtractedImages(imagesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	if len(byPage) == 0 {
		return nil, ErrNoPageImages
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	sources := make([]int, 0, len(byPage))
	for n := range byPage {
		sources = append(sources, n)
	}
	sort.Ints(sources)

	pages := make([]Page, 0, len(sources))
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return pages, err
		}
		img := largestImage(byPage[src])
		p := Page{
			Number:     first + i,
			SourcePage: src,
			Width:      img.Bounds().Dx(),
			Height:     img.Bounds().Dy(),
		}
		p.Filename = utils.PageFilename(p.Number, ".png")
		p.Path = filepath.Join(outDir, p.Filename)
		if err := utils.SavePNG(p.Path, img); err != nil {
			return pages, fmt.Errorf("page %d: %w", src, err)
		}
		if len(byPage[src]) > 1 {
			slog.Debug("pdf page has several images, kept the largest",
				"page", src, "images", len(byPage[src]))
		}
		pages = append(pages, p)
	}
	slog.Debug("extracted pdf pages", "file", filepath.Base(filename), "pages", len(pages))
	return pages, nil
}

// PageCount returns the number of pages in a PDF file.
func PageCount(filename string) (int, error) {
	n, err := api.PageCountFile(filename)
	if err != nil {
		return 0, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	return n, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // G304: user-provided PDF path
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) //nolint:gosec // G304: path inside our temp dir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// largestImage picks the image with the largest pixel area; on a scanned
// page that is the page raster.
func largestImage(imgs []image.Image) image.Image {
	var best image.Image
	bestArea := -1
	for _, img := range imgs {
		b := img.Bounds()
		if a := b.Dx() * b.Dy(); a > bestArea {
			best, bestArea = img, a
		}
	}
	return best
}

func loadImageFile(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: files written by pdfcpu into our temp dir
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	return img, err
}

// collectExtractedImages walks the given directory and groups images by page number.
// It expects filenames of the form page_<num>_<image>.<ext>.
func collectExtractedImages(dir string) (map[int][]image.Image, error) {
	result := make(map[int][]image.Image)

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		pageNum, err := parsePageFromFilename(info.Name())
		if err != nil {
			return nil
		}

		img, err := loadImageFile(path)
		if err != nil {
			slog.Debug("skipping unreadable pdf image", "file", info.Name(), "error", err)
			return nil
		}
		result[pageNum] = append(result[pageNum], img)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// parsePageFromFilename extracts the page number from a pdfcpu image filename
// such as page_3_Im0.png, page_03_Im1.jpg or page_3.png.
func parsePageFromFilename(filename string) (int, error) {
	rest, ok := strings.CutPrefix(filename, "page_")
	if !ok {
		return 0, errors.New("not a page file")
	}
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 || end == -1 {
		return 0, errors.New("invalid filename format")
	}
	pageNum, err := strconv.Atoi(rest[:end])
	if err != nil || pageNum < 1 {
		return 0, errors.New("invalid page number")
	}
	return pageNum, nil
}

// parsePageRange parses a page range string like "1-5" or "1,3,5".
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, tokenPages...)
	}
	return pages, nil
}

// parseRangeToken parses either a single page token (e.g., "3") or a range token (e.g., "1-5").
func parseRangeToken(part string) ([]int, error) {
	if strings.Contains(part, "-") {
		rangeParts := strings.Split(part, "-")
		if len(rangeParts) != 2 {
			return nil, fmt.Errorf("invalid range format: %s", part)
		}
		start, err := strconv.Atoi(strings.TrimSpace(rangeParts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", rangeParts[0])
		}
		end, err := strconv.Atoi(strings.TrimSpace(rangeParts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", rangeParts[1])
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := strconv.Atoi(part)
	if err != nil {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	if page < 1 {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}
