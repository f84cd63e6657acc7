package admin

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dmitrijs2005/availwatch/internal/cryptox"
	"github.com/dmitrijs2005/availwatch/internal/logging"
	"github.com/dmitrijs2005/availwatch/internal/server"
	"github.com/dmitrijs2005/availwatch/internal/server/archive"
	"github.com/dmitrijs2005/availwatch/internal/server/config"
	"github.com/dmitrijs2005/availwatch/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
)

// Run connects to the database named in cfg and serves the console on
// in and out.
func Run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	if err != nil {
		return err
	}

	db, err := server.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()

	key, err := cryptox.KeyFromSecret(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	vault, err := cryptox.NewVault(key)
	if err != nil {
		return err
	}

	archiver, err := archive.New(ctx, cfg)
	if err != nil {
		return err
	}

	rm := repomanager.NewPostgresRepositoryManager()
	subs := services.NewSubscriptionService(db, rm, vault, logger)
	pruner := services.NewRetentionService(db, rm, cfg, archiver, logger)

	ciphertexts := func(ctx context.Context) ([]string, error) {
		ps, err := rm.Profiles(db).ListAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}
		cts := make([]string, 0, len(ps))
		for _, p := range ps {
			cts = append(cts, p.EncryptedTarget)
		}
		return cts, nil
	}

	fmt.Fprintln(out, "availwatch operator console (type 'help' for commands)")
	NewConsole(subs, pruner, ciphertexts, out).Run(ctx, in)
	return nil
}
