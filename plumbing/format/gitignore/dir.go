package gitignore

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/go-git/go-billy/v5"
)

const (
	commentPrefix   = "#"
	eol             = "\n"
	gitignoreFile   = ".gitignore"
	infoExcludeFile = "info/exclude"
)

// readIgnoreFile reads a specific git ignore file.
func readIgnoreFile(fs billy.Filesystem, path []string, ignoreFile string) (ps []Pattern, err error) {
	f, err := fs.Open(fs.Join(append(path, ignoreFile)...))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	for _, s := range strings.Split(string(normalizeEOL(data)), eol) {
		if !strings.HasPrefix(s, commentPrefix) && len(strings.TrimSpace(s)) > 0 {
			ps = append(ps, ParsePattern(s, path))
		}
	}

	return
}

func normalizeEOL(data []byte) []byte {
	return bytes.ReplaceAll(data, []byte("\r\n"), []byte(eol))
}

// ReadPatterns reads the .gitignore file of the directory at path and of
// every directory below it (skipping .git) and returns their patterns,
// farthest first. It does not read info/exclude or the global excludes
// file; the caller appends those in priority order (global excludes,
// info/exclude, then this result).
//
// The result is in the ascending order of priority (last higher).
func ReadPatterns(fs billy.Filesystem, path []string) (ps []Pattern, err error) {
	ps, _ = readIgnoreFile(fs, path, gitignoreFile)

	var fis []os.FileInfo
	fis, err = fs.ReadDir(fs.Join(path...))
	if err != nil {
		return
	}

	for _, fi := range fis {
		if fi.IsDir() && fi.Name() != ".git" {
			var subps []Pattern
			subps, err = ReadPatterns(fs, append(append([]string(nil), path...), fi.Name()))
			if err != nil {
				return
			}

			if len(subps) > 0 {
				ps = append(ps, subps...)
			}
		}
	}

	return
}

// ReadInfoExclude reads the repository-scoped exclude file from the git
// directory.
func ReadInfoExclude(gitdirFS billy.Filesystem) ([]Pattern, error) {
	return readIgnoreFile(gitdirFS, nil, infoExcludeFile)
}

// ReadGlobalPatterns reads the excludes file configured for the user, when
// one is set.
func ReadGlobalPatterns(fs billy.Filesystem, excludesFile string) ([]Pattern, error) {
	if excludesFile == "" {
		return nil, nil
	}

	return readIgnoreFile(fs, nil, excludesFile)
}
