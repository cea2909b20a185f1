package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/wal-rus/lovepotion/internal/config"
	"github.com/wal-rus/lovepotion/internal/db"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/logfile"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/memory"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/sqlite"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store/userfile"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
)

// memoryAuditCap bounds the in-memory audit log when no database is used.
const memoryAuditCap = 1000

type stores struct {
	users  store.UserDirectory
	admin  store.UserAdmin
	audit  store.MultiAuditLog
	reader store.AuditReader
	prune  store.AuditPruneStore

	db     *sql.DB
	writer *db.Worker
}

func (s *stores) Close() {
	if s.writer != nil {
		s.writer.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// openStores builds the user directory and audit sinks. An empty DB path
// keeps everything in memory.
func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (*stores, error) {
	seed, err := seedUsers(cfg)
	if err != nil {
		return nil, err
	}

	s := &stores{}
	if cfg.DBPath == "" {
		users := memory.NewUserDirectory(seed)
		audit := memory.NewAuditLog(memoryAuditCap)
		s.users, s.admin = users, users
		s.audit = store.MultiAuditLog{audit}
		s.reader, s.prune = audit, audit
		logger.Info("stores ready", "backend", "memory", "users", len(seed))
	} else {
		conn, err := db.Open(ctx, db.Config{Path: config.ExpandHome(cfg.DBPath), Env: cfg.Env})
		if err != nil {
			return nil, err
		}
		s.db = conn
		s.writer = db.NewWorker(conn)

		if err := db.SeedUsers(ctx, conn, toSeed(seed)); err != nil {
			s.Close()
			return nil, err
		}

		users := sqlite.NewUserStore(conn, s.writer)
		audit := sqlite.NewAuditLog(conn, s.writer)
		s.users, s.admin = users, users
		s.audit = store.MultiAuditLog{audit}
		s.reader, s.prune = audit, audit
		logger.Info("stores ready", "backend", "sqlite", "path", cfg.DBPath, "seeded", len(seed))
	}

	if cfg.AuditLogFile != "" {
		lf, err := logfile.Open(config.ExpandHome(cfg.AuditLogFile), logfile.DefaultMaxLines, time.Local)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.audit = append(s.audit, lf)
	}
	return s, nil
}

// seedUsers merges the user file and the configured id:name list. The
// list wins for ids present in both.
func seedUsers(cfg config.Config) ([]types.User, error) {
	var out []types.User
	if cfg.UserFile != "" {
		fromFile, err := userfile.Load(config.ExpandHome(cfg.UserFile))
		if err != nil {
			return nil, err
		}
		out = append(out, fromFile...)
	}
	listed, err := config.ParseUserList(cfg.Users)
	if err != nil {
		return nil, fmt.Errorf("seed users: %w", err)
	}
	return append(out, listed...), nil
}

func toSeed(users []types.User) []db.SeedUser {
	out := make([]db.SeedUser, 0, len(users))
	for _, u := range users {
		out = append(out, db.SeedUser{ID: u.ID, Name: u.Name})
	}
	return out
}
