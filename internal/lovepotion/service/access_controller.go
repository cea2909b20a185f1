package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/wal-rus/lovepotion/internal/clock"
	"github.com/wal-rus/lovepotion/internal/lovepotion/store"
	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

const DefaultOpenTime = 3 * time.Second

var (
	// ErrLookupFailed wraps a user directory error. The credential is
	// treated as unauthorized.
	ErrLookupFailed = errors.New("user lookup failed")

	ErrInvalidActor = errors.New("actor is required")
)

// Actuator is the door side of the controller.
type Actuator interface {
	Unlock(ctx context.Context, d time.Duration) error
	Beep(ctx context.Context, d time.Duration) error
	Unlocked() bool
}

// Announcer sends a short text to whoever is listening. Implementations
// must not block the caller on the network.
type Announcer interface {
	Send(msg string)
}

type ControllerConfig struct {
	OpenTime time.Duration
	// DenyBeep is the sounder pulse after an unauthorized read. 0 disables.
	DenyBeep time.Duration
	// RejectWhileUnlocked drops reads while the door is open.
	RejectWhileUnlocked bool
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{OpenTime: DefaultOpenTime, RejectWhileUnlocked: true}
}

type ControllerDependencies struct {
	Config    ControllerConfig
	Users     store.UserDirectory
	Audit     store.AuditLog // optional
	Actuator  Actuator
	Announcer Announcer // optional
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Decision is the outcome of one tag read.
type Decision struct {
	ID         string
	Busy       bool
	Authorized bool
	Principal  string
	Reason     string
}

// AccessController turns tag reads into door openings.
type AccessController struct {
	cfg       ControllerConfig
	users     store.UserDirectory
	audit     store.AuditLog
	actuator  Actuator
	announcer Announcer
	clock     clock.Clock
	logger    *slog.Logger

	mu               sync.Mutex
	lastUnauthorized string
}

func NewAccessController(deps ControllerDependencies) *AccessController {
	if deps.Config.OpenTime <= 0 {
		deps.Config.OpenTime = DefaultOpenTime
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &AccessController{
		cfg:       deps.Config,
		users:     deps.Users,
		audit:     deps.Audit,
		actuator:  deps.Actuator,
		announcer: deps.Announcer,
		clock:     deps.Clock,
		logger:    deps.Logger.With("component", "access"),
	}
}

// OnCredential handles a decoded credential.
func (c *AccessController) OnCredential(ctx context.Context, cred wiegand.Credential) Decision {
	return c.HandleTag(ctx, cred.ID())
}

// HandleTag decides one tag read. Calls must not overlap; the hardware
// delivers tags from a single goroutine.
func (c *AccessController) HandleTag(ctx context.Context, rawID string) Decision {
	id, valid := wiegand.NormalizeID(rawID)

	if c.cfg.RejectWhileUnlocked && c.actuator.Unlocked() {
		// The door is open, so a pending rejection is no longer worth
		// enrolling from.
		c.ClearLastUnauthorized()
		c.logger.Debug("reader busy; tag dropped", "id", rawID)
		return Decision{ID: id, Busy: true}
	}

	d := Decision{ID: id}
	switch {
	case !valid:
		d.ID = strings.TrimSpace(rawID)
		d.Reason = types.ReasonInvalidID
		c.logger.Debug("tag id rejected", "id", rawID)
	default:
		res, err := c.users.Authorize(ctx, id)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrLookupFailed, err)
			c.logger.Error("authorize", "id", id, "err", err)
			d.Reason = types.ReasonLookupFailed
			break
		}
		d.Authorized = res.Authorized
		d.Principal = res.Principal
		if res.Authorized {
			d.Reason = types.ReasonCardAllowed
		} else {
			d.Reason = types.ReasonCardNotAllowed
		}
	}

	rec := types.NewAuditRecord(c.clock.Now(), types.ActionRFID)
	rec.CredentialID = types.Ptr(d.ID)
	rec.Authorized = types.Ptr(d.Authorized)
	if d.Principal != "" {
		rec.Principal = types.Ptr(d.Principal)
	}
	rec.Reason = d.Reason
	c.appendAudit(ctx, rec)

	c.logger.Info("tag seen", "id", d.ID, "authorized", d.Authorized, "name", d.Principal, "reason", d.Reason)

	if !d.Authorized {
		c.mu.Lock()
		c.lastUnauthorized = d.ID
		c.mu.Unlock()

		if c.cfg.DenyBeep > 0 {
			if err := c.actuator.Beep(ctx, c.cfg.DenyBeep); err != nil {
				c.logger.Warn("deny beep", "err", err)
			}
		}
		return d
	}

	c.ClearLastUnauthorized()
	if err := c.actuator.Unlock(ctx, c.cfg.OpenTime); err != nil {
		c.logger.Error("unlock", "id", d.ID, "err", err)
		return d
	}
	c.announce(fmt.Sprintf("%s goes there", d.Principal))
	return d
}

// RemoteOpen opens the door for an operator without a credential.
func (c *AccessController) RemoteOpen(ctx context.Context, actor string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}

	rec := types.NewAuditRecord(c.clock.Now(), types.ActionRemoteOpen)
	rec.Actor = types.Ptr(actor)
	rec.Reason = types.ReasonRemoteOpen

	// The record reflects whether the actuator took the request.
	err := c.actuator.Unlock(ctx, c.cfg.OpenTime)
	if err != nil {
		rec.Reason = types.ReasonUnlockFailed
	}
	c.appendAudit(ctx, rec)
	if err != nil {
		c.logger.Error("remote open", "user", actor, "err", err)
		return fmt.Errorf("remote open: %w", err)
	}

	c.logger.Info("remote open", "user", actor)
	c.announce(fmt.Sprintf("website user %s goes there", actor))
	return nil
}

// LastUnauthorized returns the most recent rejected id, if any.
func (c *AccessController) LastUnauthorized() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUnauthorized, c.lastUnauthorized != ""
}

func (c *AccessController) ClearLastUnauthorized() {
	c.mu.Lock()
	c.lastUnauthorized = ""
	c.mu.Unlock()
}

// Unlocked reports whether the door is open or about to be.
func (c *AccessController) Unlocked() bool { return c.actuator.Unlocked() }

// appendAudit is best effort: a failed write never blocks the decision.
func (c *AccessController) appendAudit(ctx context.Context, rec types.AuditRecord) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Append(ctx, rec); err != nil {
		c.logger.Warn("audit append", "action", rec.Action, "err", err)
	}
}

func (c *AccessController) announce(msg string) {
	if c.announcer == nil {
		return
	}
	c.announcer.Send(msg)
}
