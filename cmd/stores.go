package cmd

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/qqrelay/internal/config"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
	"github.com/nextlevelbuilder/qqrelay/internal/store/file"
	"github.com/nextlevelbuilder/qqrelay/internal/store/pg"
	"github.com/nextlevelbuilder/qqrelay/internal/store/redisstore"
	"github.com/nextlevelbuilder/qqrelay/internal/store/sqlite"
)

// openBindingStore opens the backend selected by cfg.Driver.
func openBindingStore(ctx context.Context, cfg config.StoreConfig) (store.BindingStore, error) {
	switch cfg.Driver {
	case "file":
		return file.NewBindingStore(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "postgres":
		db, err := pg.OpenDB(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		s, err := pg.NewBindingStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return s, nil
	case "redis":
		return redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
