// Package admin implements the operator console: reviewing flagged
// profiles, administrative deletes, on-demand retention, checking a
// candidate encryption key against stored ciphertexts and generating keys.
package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmitrijs2005/availwatch/internal/common"
	"github.com/dmitrijs2005/availwatch/internal/cryptox"
	"github.com/dmitrijs2005/availwatch/internal/server/services"
	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type Profiles interface {
	ListFlagged(ctx context.Context) ([]*services.ProfileView, error)
	Unflag(ctx context.Context, id string) error
	AdminDelete(ctx context.Context, id string) error
}

type Pruner interface {
	Run(ctx context.Context) (services.RetentionReport, error)
}

// CiphertextLister returns every stored encrypted target.
type CiphertextLister func(ctx context.Context) ([]string, error)

type Console struct {
	profiles    Profiles
	pruner      Pruner
	ciphertexts CiphertextLister
	out         io.Writer
}

func NewConsole(profiles Profiles, pruner Pruner, ciphertexts CiphertextLister, out io.Writer) *Console {
	return &Console{profiles: profiles, pruner: pruner, ciphertexts: ciphertexts, out: out}
}

// Run reads commands from in until EOF, "exit" or "quit". Command errors
// are printed and do not end the session.
func (c *Console) Run(ctx context.Context, in io.Reader) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "availwatch-admin> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		cmd, args := parts[0], parts[1:]
		if cmd == "exit" || cmd == "quit" {
			fmt.Fprintln(c.out, "Bye!")
			return
		}
		if err := c.Exec(ctx, cmd, args); err != nil {
			fmt.Fprintln(c.out, "error:", err)
		}
	}
}

// Exec runs a single command.
func (c *Console) Exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Fprintln(c.out, "Available commands: flagged, unflag <id>, delete <id>, prune, keycheck, genkey, exit")
		return nil
	case "flagged":
		return c.listFlagged(ctx)
	case "unflag":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		if err := c.profiles.Unflag(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "unflagged", id)
		return nil
	case "delete":
		id, err := oneArg(cmd, args)
		if err != nil {
			return err
		}
		if err := c.profiles.AdminDelete(ctx, id); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "deleted", id)
		return nil
	case "prune":
		r, err := c.pruner.Run(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "cutoff %s: archived %d, pruned %d, challenges deleted %d\n",
			r.Cutoff.Format("2006-01-02 15:04:05 MST"), r.Archived, r.Pruned, r.ChallengesDeleted)
		return nil
	case "keycheck":
		return c.keyCheck(ctx)
	case "genkey":
		fmt.Fprintln(c.out, "New encryption key (set as ENCRYPTION_KEY for a fresh deployment):")
		fmt.Fprintln(c.out, cryptox.GenerateKey())
		return nil
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

func (c *Console) listFlagged(ctx context.Context) error {
	views, err := c.profiles.ListFlagged(ctx)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(c.out, "no flagged profiles")
		return nil
	}
	for _, v := range views {
		fmt.Fprintf(c.out, "%s  owner=%s  channel=%s  reason=%q\n", v.ID, v.Owner, v.ChannelKind, v.FlagReason)
	}
	return nil
}

// keyCheck reports how many stored targets a candidate key can decrypt.
func (c *Console) keyCheck(ctx context.Context) error {
	fmt.Fprint(c.out, "Enter candidate key: ")
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(c.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	key, err := cryptox.KeyFromSecret(string(secret))
	if err != nil {
		return err
	}
	vault, err := cryptox.NewVault(key)
	if err != nil {
		return err
	}

	cts, err := c.ciphertexts(ctx)
	if err != nil {
		return err
	}
	ok := 0
	for _, ct := range cts {
		if _, err := vault.Decrypt(ct); err == nil {
			ok++
		}
	}
	fmt.Fprintf(c.out, "key decrypts %d of %d stored targets\n", ok, len(cts))
	return nil
}

func oneArg(cmd string, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: %s <id>", cmd)
	}
	return args[0], nil
}
