package cli

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/errs"

	"github.com/Makepad-fr/tada/internal/auth"
	"github.com/Makepad-fr/tada/internal/backend"
	"github.com/Makepad-fr/tada/internal/backend/memory"
	"github.com/Makepad-fr/tada/internal/backend/remote"
	"github.com/Makepad-fr/tada/internal/backend/sqlite"
	"github.com/Makepad-fr/tada/internal/config"
	"github.com/Makepad-fr/tada/internal/local"
	"github.com/Makepad-fr/tada/internal/store"
	"github.com/Makepad-fr/tada/internal/store/boltstore"
	"github.com/Makepad-fr/tada/internal/store/jsonstore"
	"github.com/Makepad-fr/tada/internal/todosync"
)

// service opens the configured backend. It is closed when the command ends.
func (a *app) service(ctx context.Context) (backend.Service, error) {
	switch a.cfg.Backend {
	case config.BackendLocal:
		kv, err := a.openKV()
		if err != nil {
			return nil, err
		}
		svc := local.New(a.log.Named("local"), kv)
		a.onClose(svc.Close)
		return svc, nil

	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(a.cfg.Server.DB), 0o700); err != nil {
			return nil, errs.Wrap(err)
		}
		svc, err := sqlite.Open(ctx, a.log.Named("sqlite"), a.cfg.Server.DB)
		if err != nil {
			return nil, err
		}
		a.onClose(svc.Close)
		return svc, nil

	case config.BackendMemory:
		svc := memory.New(a.log.Named("memory"))
		a.onClose(svc.Close)
		return svc, nil

	case config.BackendRemote:
		token, err := a.ensureAuth()
		if err != nil {
			return nil, err
		}
		return remote.New(a.log.Named("remote"), remote.Config{
			URL:     a.cfg.Remote.URL,
			AnonKey: a.cfg.Remote.AnonKey,
			Token:   token,
		})

	default:
		return nil, UsageError.New("unknown backend %q", a.cfg.Backend)
	}
}

func (a *app) openKV() (store.KV, error) {
	switch a.cfg.KV {
	case config.KVBolt:
		if err := os.MkdirAll(a.cfg.DataDir, 0o700); err != nil {
			return nil, errs.Wrap(err)
		}
		return boltstore.New(a.log.Named("bolt"), filepath.Join(a.cfg.DataDir, "todos.bolt"))
	default:
		return jsonstore.Open(a.cfg.DataDir)
	}
}

// ensureAuth returns the saved token, or an error telling the user how to
// log in.
func (a *app) ensureAuth() (string, error) {
	ti, err := auth.New(a.cfg.DataDir).Token()
	if err != nil {
		return "", err
	}
	if ti == nil || ti.Token == "" {
		return "", auth.Error.New("not logged in: run `todo auth login <token>` or set %s", auth.EnvToken)
	}
	if ti.Expired(time.Now()) {
		return "", auth.Error.New("token expired at %s: run `todo auth login <token>`", ti.ExpiresAt.Format(time.RFC3339))
	}
	return ti.Token, nil
}

// session mounts the configured collection. Load failures are returned
// because the one-shot commands cannot work without the list.
func (a *app) session(ctx context.Context) (*todosync.Session, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}
	s, err := todosync.Mount(ctx, a.log.Named("session"), svc, todosync.Options{Collection: a.cfg.Collection})
	if err != nil {
		return nil, err
	}
	a.onClose(s.Close)
	if err := s.LoadErr(); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *app) host(ctx context.Context) (*todosync.Host, error) {
	svc, err := a.service(ctx)
	if err != nil {
		return nil, err
	}
	return todosync.NewHost(a.log.Named("session"), svc, todosync.Options{Collection: a.cfg.Collection}), nil
}
