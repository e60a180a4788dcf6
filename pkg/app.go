package pkg

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli"
	"golang.org/x/xerrors"

	"github.com/cvedb/cvedb-tools/pkg/bot"
	"github.com/cvedb/cvedb-tools/pkg/config"
	"github.com/cvedb/cvedb-tools/pkg/cvedb"
	"github.com/cvedb/cvedb-tools/pkg/github"
	"github.com/cvedb/cvedb-tools/pkg/log"
	"github.com/cvedb/cvedb-tools/pkg/override"
	"github.com/cvedb/cvedb-tools/pkg/store"
	"github.com/cvedb/cvedb-tools/pkg/types"
	"github.com/cvedb/cvedb-tools/pkg/utils"
)

type AppConfig struct {
	Out io.Writer
	// SessionOptions are passed to every session the commands open.
	SessionOptions []cvedb.Option
}

func (ac AppConfig) NewApp(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "cvedb-bot"
	app.Version = version
	app.Usage = "CVEDB identifier allocation and record maintenance"
	if ac.Out != nil {
		app.Writer = ac.Out
	}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   "config",
			Usage:  "TOML settings file",
			EnvVar: "CVEDB_CONFIG",
		},
		cli.StringFlag{
			Name:   "repo",
			Usage:  "GitHub repository (owner/name) holding the issues and the records",
			EnvVar: "GH_REPO",
		},
		cli.StringFlag{
			Name:   "repo-url",
			Usage:  "clone URL of the record repository (default: derived from --repo)",
			EnvVar: "CVEDB_REPO_URL",
		},
		cli.StringFlag{
			Name:   "checkout",
			Usage:  "use an existing checkout instead of cloning",
			EnvVar: "CVEDB_CHECKOUT",
		},
		cli.StringFlag{
			Name:   "cache-dir",
			Usage:  "cache directory path",
			Value:  utils.CacheDir(),
			EnvVar: "CVEDB_CACHE_DIR",
		},
		cli.StringFlag{
			Name:   "username",
			Usage:  "user name for pushing to the record repository",
			EnvVar: "GH_USERNAME",
		},
		cli.StringFlag{
			Name:   "token",
			Usage:  "GitHub token",
			EnvVar: "GITHUB_TOKEN",
		},
		cli.BoolFlag{
			Name:   "dry-run",
			Usage:  "write and stage records without committing or pushing",
			EnvVar: "CVEDB_DRY_RUN",
		},
		cli.BoolFlag{
			Name:  "debug",
			Usage: "debug logging",
		},
	}
	app.Before = func(c *cli.Context) error {
		log.InitLogger(os.Stderr, c.GlobalBool("debug"))
		return nil
	}

	app.Commands = []cli.Command{
		{
			Name:   "run",
			Usage:  "assign identifiers to new issues and promote approved ones",
			Action: ac.run,
		},
		{
			Name:   "add",
			Usage:  "add a record from an intake JSON file",
			Action: ac.add,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "file",
					Usage: "intake JSON file, - for stdin",
				},
				cli.StringFlag{
					Name:  "origin",
					Usage: "where the submission came from",
					Value: "cli",
				},
			},
		},
		{
			Name:      "promote",
			Usage:     "promote a provisional identifier",
			ArgsUsage: "CAN-ID",
			Action:    ac.promote,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "approver",
					Usage: "approver identity (name:id)",
				},
				cli.StringFlag{
					Name:  "origin",
					Usage: "where the approval came from",
					Value: "cli",
				},
			},
		},
		{
			Name:      "show",
			Usage:     "print a record",
			ArgsUsage: "ID",
			Action:    ac.show,
		},
		{
			Name:   "list",
			Usage:  "list all records",
			Action: ac.list,
		},
		{
			Name:   "apply-overrides",
			Usage:  "apply the record overrides in a directory",
			Action: ac.applyOverrides,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "dir",
					Usage: "directory holding config.yaml and the diffs",
					Value: "overrides",
				},
			},
		},
	}

	return app
}

// loadConfig merges the settings file with the global flags. Flags win.
func loadConfig(c *cli.Context) (config.Config, error) {
	var conf config.Config
	if path := c.GlobalString("config"); path != "" {
		var err error
		if conf, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	fromFlag := func(name string, dst *string) {
		if c.GlobalIsSet(name) || *dst == "" {
			*dst = c.GlobalString(name)
		}
	}
	fromFlag("repo", &conf.Repo)
	fromFlag("repo-url", &conf.RepoURL)
	fromFlag("checkout", &conf.Checkout)
	fromFlag("cache-dir", &conf.CacheDir)
	fromFlag("username", &conf.Username)
	fromFlag("token", &conf.Token)
	if c.GlobalIsSet("dry-run") {
		conf.DryRun = c.GlobalBool("dry-run")
	}
	if conf.Debug {
		log.InitLogger(os.Stderr, true)
	}
	return conf.WithDefaults(), nil
}

func (ac AppConfig) openSession(ctx context.Context, c *cli.Context) (*cvedb.Session, error) {
	conf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	sc, err := conf.Session()
	if err != nil {
		return nil, err
	}
	return cvedb.Open(ctx, sc, ac.SessionOptions...)
}

func (ac AppConfig) run(c *cli.Context) error {
	ctx := context.Background()
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	owner, repo, err := github.ParseRepo(conf.Repo)
	if err != nil {
		return err
	}
	sc, err := conf.Session()
	if err != nil {
		return err
	}

	client := github.NewClient(ctx, owner, repo, conf.Token)
	b := bot.New(client, func(ctx context.Context) (bot.Registry, error) {
		s, err := cvedb.Open(ctx, sc, ac.SessionOptions...)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	res, err := b.Run(ctx)
	if err != nil {
		return xerrors.Errorf("bot run error: %w", err)
	}
	log.Info("Run finished", log.Int("added", len(res.Added)), log.Int("promoted", len(res.Promoted)),
		log.Int("skipped", res.Skipped))
	return nil
}

func (ac AppConfig) add(c *cli.Context) error {
	path := c.String("file")
	if path == "" {
		return xerrors.New("--file is required")
	}

	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return xerrors.Errorf("intake open error: %w", err)
		}
		defer f.Close()
		r = f
	}
	var intake types.Intake
	if err := json.NewDecoder(r).Decode(&intake); err != nil {
		return xerrors.Errorf("intake decode error: %w", err)
	}

	ctx := context.Background()
	s, err := ac.openSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.Add(ctx, intake, c.String("origin"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, types.ColorizeID(id))
	return nil
}

func (ac AppConfig) promote(c *cli.Context) error {
	id, err := types.ParseIdentifier(c.Args().First())
	if err != nil {
		return err
	}
	approver := c.String("approver")
	if approver == "" {
		return xerrors.New("--approver is required")
	}

	ctx := context.Background()
	s, err := ac.openSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	confirmed, err := s.Promote(ctx, id, approver, c.String("origin"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s -> %s\n", types.ColorizeID(id), types.ColorizeID(confirmed))
	return nil
}

func (ac AppConfig) show(c *cli.Context) error {
	id, err := types.ParseIdentifier(c.Args().First())
	if err != nil {
		return err
	}

	s, err := ac.openSession(context.Background(), c)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	b, err := store.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(b)
	return err
}

func (ac AppConfig) list(c *cli.Context) error {
	s, err := ac.openSession(context.Background(), c)
	if err != nil {
		return err
	}
	defer s.Close()

	ids, err := s.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		rec, err := s.Get(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", types.ColorizeID(id), rec.Summary())
	}
	return nil
}

func (ac AppConfig) applyOverrides(c *cli.Context) error {
	patches, err := override.Load(c.String("dir"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := ac.openSession(ctx, c)
	if err != nil {
		return err
	}
	defer s.Close()

	patched, err := s.ApplyOverrides(ctx, patches)
	if err != nil {
		return err
	}
	for _, id := range patched {
		fmt.Fprintln(c.App.Writer, types.ColorizeID(id))
	}
	return nil
}
