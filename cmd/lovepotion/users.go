package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/config"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/userfile"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

const usersUsage = `usage: lovepotion users <command>

  ls                                 list users
  add [--actor NAME] [--disabled] ID NAME  add a user
  rm [--actor NAME] ID               remove a user
  import [--actor NAME] FILE         add users from an <id>:<name> text file

Changes are written to the audit log under --actor (default $USER).
`

// runUsers manages the SQLite user directory.
func runUsers(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usersUsage)
		return errors.New("users: missing command")
	}
	if cfg.DBPath == "" {
		return errors.New("users: --db-path is required")
	}

	// Seeding here would re-add users an operator is trying to remove.
	cfg.Users, cfg.UserFile = nil, ""
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd := &usersCmd{admin: st.admin, audit: st.audit, clock: clock.Real(), logger: logger, out: out}
	return cmd.run(ctx, args)
}

// usersCmd runs one users subcommand. Every change is audited.
type usersCmd struct {
	admin  store.UserAdmin
	audit  store.AuditLog
	clock  clock.Clock
	logger *slog.Logger
	out    io.Writer
}

func (c *usersCmd) flags(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet("users "+name, pflag.ContinueOnError)
	fs.SetOutput(c.out)
	actor := fs.String("actor", os.Getenv("USER"), "operator recorded in the audit log")
	return fs, actor
}

func (c *usersCmd) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "ls", "list":
		users, err := c.admin.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			state := ""
			if !u.Enabled {
				state = " (disabled)"
			}
			fmt.Fprintf(c.out, "%s\t%s%s\n", u.ID, u.Name, state)
		}
		return nil

	case "add":
		fs, actor := c.flags("add")
		disabled := fs.Bool("disabled", false, "add the user without door access")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() < 2 {
			return errors.New("users add: want ID NAME")
		}
		u := types.User{ID: fs.Arg(0), Name: strings.Join(fs.Args()[1:], " "), Enabled: !*disabled}
		if err := c.admin.AddUser(ctx, u); err != nil {
			return err
		}
		c.record(ctx, types.ActionAddUser, *actor, u.ID, u.Name)
		fmt.Fprintf(c.out, "added %s\n", u.Name)
		return nil

	case "rm", "remove":
		fs, actor := c.flags("rm")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("users rm: want ID")
		}
		id := fs.Arg(0)
		name := c.nameOf(ctx, id)
		if err := c.admin.RemoveUser(ctx, id); err != nil {
			return err
		}
		c.record(ctx, types.ActionRemoveUser, *actor, id, name)
		fmt.Fprintf(c.out, "removed %s\n", id)
		return nil

	case "import":
		fs, actor := c.flags("import")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("users import: want FILE")
		}
		users, err := userfile.Load(config.ExpandHome(fs.Arg(0)))
		if err != nil {
			return err
		}
		var added, skipped int
		for _, u := range users {
			switch err := c.admin.AddUser(ctx, u); {
			case err == nil:
				added++
				c.record(ctx, types.ActionAddUser, *actor, u.ID, u.Name)
			case errors.Is(err, store.ErrUserExists):
				skipped++
			default:
				return err
			}
		}
		fmt.Fprintf(c.out, "imported %d users, %d already present\n", added, skipped)
		return nil

	default:
		fmt.Fprint(c.out, usersUsage)
		return fmt.Errorf("users: unknown command %q", args[0])
	}
}

// nameOf returns the name on file for id, or "" when it is unknown.
func (c *usersCmd) nameOf(ctx context.Context, id string) string {
	norm, _ := wiegand.NormalizeID(id)
	users, err := c.admin.ListUsers(ctx)
	if err != nil {
		return ""
	}
	for _, u := range users {
		if u.ID == norm {
			return u.Name
		}
	}
	return ""
}

// record is best effort: the change has already been made.
func (c *usersCmd) record(ctx context.Context, action, actor, id, name string) {
	rec := types.NewAuditRecord(c.clock.Now(), action)
	if norm, ok := wiegand.NormalizeID(id); ok {
		id = norm
	}
	rec.CredentialID = types.Ptr(id)
	if name != "" {
		rec.Principal = types.Ptr(name)
	}
	if actor = strings.TrimSpace(actor); actor != "" {
		rec.Actor = types.Ptr(actor)
	}
	if err := c.audit.Append(ctx, rec); err != nil {
		c.logger.Warn("audit append", "action", action, "id", id, "err", err)
	}
}
