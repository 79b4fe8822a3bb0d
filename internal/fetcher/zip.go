package fetcher

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
)

// maxMemberBytes caps how much of one archive member is read into memory.
const maxMemberBytes = 64 << 20

// ArchiveMember is one file read out of a zip archive.
type ArchiveMember struct {
	Name string
	Data []byte
}

// FirstMember returns the first regular file in the zip data whose
// extension is one of exts (any file when exts is empty). Directories,
// dot-files and macOS resource forks are skipped. Brokers commonly mail
// sheets zipped together with cover notes, so non-matching files are
// ignored rather than treated as errors.
func FirstMember(data []byte, exts ...string) (*ArchiveMember, error) {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	for _, f := range r.File {
		base := path.Base(f.Name)
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(base, ".") {
			continue
		}
		if len(exts) > 0 && !slices.Contains(exts, strings.ToLower(path.Ext(base))) {
			continue
		}
		b, err := readMember(f)
		if err != nil {
			return nil, err
		}
		return &ArchiveMember{Name: base, Data: b}, nil
	}
	return nil, eris.Errorf("zip: no file matching %v", exts)
}

func readMember(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxMemberBytes {
		return nil, eris.Errorf("zip: %s is %d bytes, limit is %d", f.Name, f.UncompressedSize64, maxMemberBytes)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	// The header size can lie; the limit reader is what bounds memory.
	b, err := io.ReadAll(io.LimitReader(rc, maxMemberBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read %s", f.Name)
	}
	if len(b) > maxMemberBytes {
		return nil, eris.Errorf("zip: %s exceeds %d bytes", f.Name, maxMemberBytes)
	}
	return b, nil
}
