package filesystem

import (
	"bytes"
	"os"

	"github.com/go-vcs/gitstore/config"
	"github.com/go-vcs/gitstore/storage/filesystem/dotgit"
)

// ConfigStorage implements storage.ConfigStorer over the .git config file.
type ConfigStorage struct {
	dir *dotgit.DotGit
}

// Config reads and decodes the config file. A missing file yields the
// defaults.
func (c ConfigStorage) Config() (*config.Config, error) {
	cfg := config.NewConfig()

	data, err := c.dir.ReadFile(c.dir.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, err
	}

	if err := cfg.Decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetConfig validates and writes the config file.
func (c ConfigStorage) SetConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	buf := bytes.NewBuffer(nil)
	if err := cfg.Encode(buf); err != nil {
		return err
	}

	return c.dir.WriteFile(c.dir.ConfigPath(), buf.Bytes())
}
