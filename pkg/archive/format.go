package archive

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// Format is the archive family handed to Extract.
// Tar covers plain, gzip and zstd compressed tarballs.
type Format int

const (
	FormatUnknown Format = iota
	Zip
	Tar
)

func (f Format) String() string {
	switch f {
	case Zip:
		return "zip"
	case Tar:
		return "tar"
	default:
		return "unknown"
	}
}

// ParseFormat parses "zip" or "tar".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "zip":
		return Zip, nil
	case "tar":
		return Tar, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extensions returns the file extensions that can be extracted for the
// given format.
func Extensions(f Format) []string {
	switch f {
	case Zip:
		return []string{".zip"}
	case Tar:
		return []string{".tar.gz", ".tgz", ".tar.zst", ".tar"}
	default:
		return nil
	}
}

// SupportedExtensions returns a list of all file extensions that the archive module can extract.
func SupportedExtensions() []string {
	return append(Extensions(Zip), Extensions(Tar)...)
}

// PreferredFormat returns the archive format favoured on the given
// operating system when a release offers both.
func PreferredFormat(goos string) Format {
	switch goos {
	case "windows", "darwin":
		return Zip
	default:
		return Tar
	}
}

// FormatFromName guesses the format from a file name or URL path.
func FormatFromName(name string) Format {
	name = strings.ToLower(name)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	for _, f := range []Format{Zip, Tar} {
		for _, ext := range Extensions(f) {
			if strings.HasSuffix(name, ext) {
				return f
			}
		}
	}
	return FormatUnknown
}

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicGzip     = []byte{0x1f, 0x8b}
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicBzip2    = []byte("BZh")
	magicXz       = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
)

// Sniff identifies the format from the first bytes of an archive.
func Sniff(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicZipEmpty):
		return Zip
	case bytes.HasPrefix(head, magicGzip), bytes.HasPrefix(head, magicZstd):
		return Tar
	case len(head) >= 262 && string(head[257:262]) == "ustar":
		return Tar
	}
	return FormatUnknown
}

// DetectFormat resolves the format of the archive at path, trusting its
// content over hint (usually the download URL). A content/name mismatch
// resolves to the content.
func DetectFormat(path, hint string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return FormatUnknown, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FormatUnknown, fmt.Errorf("read archive header: %w", err)
	}
	head = head[:n]

	if format := Sniff(head); format != FormatUnknown {
		return format, nil
	}
	if bytes.HasPrefix(head, magicBzip2) || bytes.HasPrefix(head, magicXz) {
		return FormatUnknown, fmt.Errorf("%w: bzip2 and xz are not supported", ErrUnsupportedFormat)
	}
	if format := FormatFromName(hint); format != FormatUnknown {
		return format, nil
	}
	return FormatUnknown, fmt.Errorf("%w: cannot identify %s", ErrUnsupportedFormat, hint)
}
