package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/memory"
	"github.com/Makepad-fr/tada/internal/backend/sqlite"
	"github.com/Makepad-fr/tada/internal/server"
	"github.com/Makepad-fr/tada/internal/ui"
)

func (a *app) serveCommand() *cobra.Command {
	var inMemory bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the collection server the remote backend talks to",
		Args:  exactArgs(0, "serve [--listen addr] [--db path] [--token token]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.startLogger(false); err != nil {
				return err
			}

			var svc backend.Service
			if inMemory {
				m := memory.New(a.log.Named("memory"))
				a.onClose(m.Close)
				svc = m
			} else {
				if err := os.MkdirAll(filepath.Dir(a.cfg.Server.DB), 0o700); err != nil {
					return errs.Wrap(err)
				}
				db, err := sqlite.Open(ctx, a.log.Named("sqlite"), a.cfg.Server.DB)
				if err != nil {
					return err
				}
				a.onClose(db.Close)
				svc = db
			}

			ui.Info("serving on " + a.cfg.Server.Listen)
			srv := server.New(a.log.Named("server"), svc, server.Config{
				Listen:  a.cfg.Server.Listen,
				Token:   a.cfg.Server.Token,
				AnonKey: a.cfg.Server.AnonKey,
			})
			return srv.Run(ctx)
		},
	}
	flags := cmd.Flags()
	flags.String("listen", "127.0.0.1:8787", "address to listen on")
	flags.String("db", "", "sqlite database (default <data-dir>/server.db)")
	flags.String("token", "", "bearer token clients must send (empty accepts any)")
	flags.String("anon-key", "", "apikey clients must send (empty accepts any)")
	flags.BoolVar(&inMemory, "memory", false, "keep the collections in memory only")
	for key, flag := range map[string]string{
		"server.listen":   "listen",
		"server.db":       "db",
		"server.token":    "token",
		"server.anon_key": "anon-key",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	return cmd
}
