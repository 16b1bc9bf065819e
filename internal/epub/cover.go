// Package epub reads the cover image out of an EPUB container.
//
// The designated cover (EPUB 3 "cover-image" manifest property or the
// EPUB 2 <meta name="cover"> pointer) wins. Without one, the first portrait
// image (height > width) is taken, which skips banners and publisher logos;
// failing that, the first image of any shape.
package epub

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/spf13/afero"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrNoImages means the container holds no images at all.
	ErrNoImages = errors.New("epub contains no images")
	// ErrNotEPUB means the file is not a zip container.
	ErrNotEPUB = errors.New("not an epub container")
)

// maxImageSize bounds how much of a single image entry is read.
const maxImageSize = 32 << 20

// Cover is an extracted cover image.
type Cover struct {
	Data      []byte
	MediaType string
	Ext       string // without the dot
	Width     int
	Height    int
	Source    string // entry name inside the container
}

type container struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type manifestItem struct {
	ID         string `xml:"id,attr"`
	Href       string `xml:"href,attr"`
	MediaType  string `xml:"media-type,attr"`
	Properties string `xml:"properties,attr"`
}

type packageDoc struct {
	Metas []struct {
		Name    string `xml:"name,attr"`
		Content string `xml:"content,attr"`
	} `xml:"metadata>meta"`
	Items []manifestItem `xml:"manifest>item"`
}

// ExtractCoverFile opens path on fs and extracts its cover.
func ExtractCoverFile(fs afero.Fs, p string) (*Cover, error) {
	f, err := fs.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return ExtractCover(f, info.Size())
}

// ExtractCover extracts the cover image from an EPUB of the given size.
func ExtractCover(r io.ReaderAt, size int64) (*Cover, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEPUB, err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	candidates, designated := imageCandidates(zr, files)
	if len(candidates) == 0 {
		return nil, ErrNoImages
	}

	if designated != "" {
		if cover, err := load(files[designated]); err == nil {
			return cover, nil
		}
	}

	var first *Cover
	for _, name := range candidates {
		cover, err := load(files[name])
		if err != nil {
			continue
		}
		if cover.Height > cover.Width {
			return cover, nil
		}
		if first == nil {
			first = cover
		}
	}
	if first != nil {
		return first, nil
	}
	return nil, ErrNoImages
}

// imageCandidates lists image entries in manifest order and the entry of
// the designated cover, if the package document names one. Containers
// without a readable package document fall back to zip order.
func imageCandidates(zr *zip.Reader, files map[string]*zip.File) ([]string, string) {
	pkg, opfPath, err := readPackage(files)
	if err != nil {
		var names []string
		for _, f := range zr.File {
			if isImageName(f.Name) {
				names = append(names, f.Name)
			}
		}
		return names, ""
	}

	base := path.Dir(opfPath)
	resolve := func(href string) string {
		if unescaped, err := url.PathUnescape(href); err == nil {
			href = unescaped
		}
		return path.Clean(path.Join(base, href))
	}

	var coverID string
	for _, m := range pkg.Metas {
		if m.Name == "cover" {
			coverID = m.Content
		}
	}

	var (
		names      []string
		designated string
	)
	for _, item := range pkg.Items {
		if !strings.HasPrefix(item.MediaType, "image/") {
			continue
		}
		name := resolve(item.Href)
		if _, ok := files[name]; !ok {
			continue
		}
		names = append(names, name)
		if designated == "" && (hasProperty(item.Properties, "cover-image") || (coverID != "" && item.ID == coverID)) {
			designated = name
		}
	}
	return names, designated
}

func readPackage(files map[string]*zip.File) (*packageDoc, string, error) {
	cf, ok := files["META-INF/container.xml"]
	if !ok {
		return nil, "", errors.New("missing container.xml")
	}
	var c container
	if err := decodeXML(cf, &c); err != nil {
		return nil, "", err
	}
	if len(c.Rootfiles) == 0 {
		return nil, "", errors.New("no rootfile")
	}

	opfPath := c.Rootfiles[0].FullPath
	of, ok := files[opfPath]
	if !ok {
		return nil, "", fmt.Errorf("missing package document %s", opfPath)
	}
	var pkg packageDoc
	if err := decodeXML(of, &pkg); err != nil {
		return nil, "", err
	}
	return &pkg, opfPath, nil
}

func decodeXML(f *zip.File, v any) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return xml.NewDecoder(rc).Decode(v)
}

func hasProperty(props, want string) bool {
	for _, p := range strings.Fields(props) {
		if p == want {
			return true
		}
	}
	return false
}

func isImageName(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return true
	}
	return false
}

// load reads and measures one image entry.
func load(f *zip.File) (*Cover, error) {
	if f == nil {
		return nil, errors.New("missing entry")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxImageSize))
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Name, err)
	}

	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return &Cover{
		Data:      data,
		MediaType: "image/" + format,
		Ext:       ext,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Source:    f.Name,
	}, nil
}
