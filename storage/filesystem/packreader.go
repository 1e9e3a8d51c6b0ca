package filesystem

import (
	"bytes"
	"io"
	"os"
	"path/filepath"

	"github.com/edsrzf/mmap-go"
	"github.com/go-git/go-billy/v5"
)

// packData provides the io.ReaderAt over a pack file. Packs that live on a
// real filesystem are memory mapped; anything else (in-memory filesystems,
// chroots without a disk root) is read into memory.
type packData struct {
	reader io.ReaderAt
	mmap   mmap.MMap
	file   *os.File
}

func (p *packData) ReaderAt() io.ReaderAt { return p.reader }

// Close releases the mapping or the buffer.
func (p *packData) Close() error {
	if p.mmap != nil {
		_ = p.mmap.Unmap()
		p.mmap = nil
	}

	if p.file != nil {
		err := p.file.Close()
		p.file = nil
		return err
	}

	return nil
}

// openPackData opens the pack at path (relative to fs) for random access.
func openPackData(fs billy.Filesystem, path string) (*packData, error) {
	if root := fs.Root(); root != "" {
		if f, err := os.Open(filepath.Join(root, filepath.FromSlash(path))); err == nil {
			if m, merr := mmap.Map(f, mmap.RDONLY, 0); merr == nil {
				return &packData{reader: bytes.NewReader(m), mmap: m, file: f}, nil
			}

			// fall back to plain file reads when the mapping fails
			return &packData{reader: f, file: f}, nil
		}
	}

	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	return &packData{reader: bytes.NewReader(data)}, nil
}
