// Package config loads the optional TOML settings file of cvedb-bot. Command line
// flags take precedence over anything read here.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/samber/oops"
	"golang.org/x/xerrors"

	"github.com/cvedb/cvedb-tools/pkg/cvedb"
	"github.com/cvedb/cvedb-tools/pkg/gitrepo"
	"github.com/cvedb/cvedb-tools/pkg/utils"
)

type Config struct {
	// Repo is the GitHub repository, "owner/name", holding both the issues and the records.
	Repo     string `toml:"repo"`
	RepoURL  string `toml:"repo_url"`
	Checkout string `toml:"checkout"`
	CacheDir string `toml:"cache_dir"`

	Username    string `toml:"username"`
	Token       string `toml:"token"`
	AuthorName  string `toml:"author_name"`
	AuthorEmail string `toml:"author_email"`

	DryRun bool `toml:"dry_run"`
	Debug  bool `toml:"debug"`
}

// Load decodes the file at path. Keys that do not map to a setting are an error.
func Load(path string) (Config, error) {
	eb := oops.With("file_path", path)

	var conf Config
	md, err := toml.DecodeFile(path, &conf)
	if err != nil {
		return Config{}, eb.Wrapf(err, "config decode error")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, eb.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return conf, nil
}

// WithDefaults fills what was left empty.
func (c Config) WithDefaults() Config {
	if c.CacheDir == "" {
		c.CacheDir = utils.CacheDir()
	}
	if c.RepoURL == "" && c.Repo != "" {
		c.RepoURL = fmt.Sprintf("https://github.com/%s.git", c.Repo)
	}
	return c
}

// Session returns the settings of a record store session.
func (c Config) Session() (cvedb.Config, error) {
	if c.RepoURL == "" && c.Checkout == "" {
		return cvedb.Config{}, xerrors.New("a repository or a checkout must be configured")
	}
	return cvedb.Config{
		RepoURL:  c.RepoURL,
		Checkout: c.Checkout,
		CacheDir: c.CacheDir,
		Git: gitrepo.Options{
			DryRun:      c.DryRun,
			Username:    c.Username,
			Token:       c.Token,
			AuthorName:  c.AuthorName,
			AuthorEmail: c.AuthorEmail,
		},
	}, nil
}
