package match

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/AshkanYarmoradi/go-huddle"
)

// Command types.
const (
	CmdPlanMatch        = "PlanMatch"
	CmdRegisterPlayer   = "RegisterPlayer"
	CmdCancelMatch      = "CancelMatch"
	CmdChangePlayground = "ChangePlayground"
	CmdEnterResult      = "EnterResult"
)

// ResourceKind names match resources for authorization.
const ResourceKind = "match"

// PlanMatchCommand plans a new match. An empty MatchID is generated.
type PlanMatchCommand struct {
	MatchID     string
	GroupID     string
	Start       time.Time
	Playground  *Playground
	PlayerCount PlayerCount
}

// CommandType implements huddle.Command.
func (PlanMatchCommand) CommandType() string { return CmdPlanMatch }

// AggregateID returns the match to create, or "" to generate one.
func (c PlanMatchCommand) AggregateID() string { return c.MatchID }

// Validate requires a group and a start time.
func (c PlanMatchCommand) Validate() error {
	if c.GroupID == "" {
		return huddle.NewValidationError(CmdPlanMatch, "groupId", "is required")
	}
	if c.Start.IsZero() {
		return huddle.NewValidationError(CmdPlanMatch, "start", "is required")
	}
	return nil
}

// RegisterPlayerCommand changes a user's registration in a match.
type RegisterPlayerCommand struct {
	MatchID string
	UserID  string
	Status  PlayerStatus
	Guests  int
}

// CommandType implements huddle.Command.
func (RegisterPlayerCommand) CommandType() string { return CmdRegisterPlayer }

// AggregateID returns the target match.
func (c RegisterPlayerCommand) AggregateID() string { return c.MatchID }

// Validate requires a match, a user and a known status.
func (c RegisterPlayerCommand) Validate() error {
	if c.MatchID == "" {
		return huddle.NewValidationError(CmdRegisterPlayer, "matchId", "is required")
	}
	if c.UserID == "" {
		return huddle.NewValidationError(CmdRegisterPlayer, "userId", "is required")
	}
	if !c.Status.Valid() {
		return huddle.NewValidationError(CmdRegisterPlayer, "status", "unknown status "+string(c.Status))
	}
	return nil
}

// CancelMatchCommand cancels a match.
type CancelMatchCommand struct {
	MatchID string
}

// CommandType implements huddle.Command.
func (CancelMatchCommand) CommandType() string { return CmdCancelMatch }

// AggregateID returns the target match.
func (c CancelMatchCommand) AggregateID() string { return c.MatchID }

// Validate requires a match ID.
func (c CancelMatchCommand) Validate() error {
	if c.MatchID == "" {
		return huddle.NewValidationError(CmdCancelMatch, "matchId", "is required")
	}
	return nil
}

// ChangePlaygroundCommand replaces the playground of a match.
type ChangePlaygroundCommand struct {
	MatchID    string
	Playground Playground
}

// CommandType implements huddle.Command.
func (ChangePlaygroundCommand) CommandType() string { return CmdChangePlayground }

// AggregateID returns the target match.
func (c ChangePlaygroundCommand) AggregateID() string { return c.MatchID }

// Validate requires a match ID and a playground name.
func (c ChangePlaygroundCommand) Validate() error {
	if c.MatchID == "" {
		return huddle.NewValidationError(CmdChangePlayground, "matchId", "is required")
	}
	if c.Playground.Name == "" {
		return huddle.NewValidationError(CmdChangePlayground, "playground.name", "is required")
	}
	return nil
}

// EnterResultCommand records the result of a played match.
type EnterResultCommand struct {
	MatchID      string
	Participants []Participant
}

// CommandType implements huddle.Command.
func (EnterResultCommand) CommandType() string { return CmdEnterResult }

// AggregateID returns the target match.
func (c EnterResultCommand) AggregateID() string { return c.MatchID }

// Validate requires a match ID. Participants are checked by the match.
func (c EnterResultCommand) Validate() error {
	if c.MatchID == "" {
		return huddle.NewValidationError(CmdEnterResult, "matchId", "is required")
	}
	return nil
}

// CoachChecker answers whether a user is an active coach of a group.
type CoachChecker interface {
	IsActiveCoach(ctx context.Context, userID, groupID string) (bool, error)
}

// CoachCheckerFunc adapts a function to CoachChecker.
type CoachCheckerFunc func(ctx context.Context, userID, groupID string) (bool, error)

// IsActiveCoach implements CoachChecker.
func (f CoachCheckerFunc) IsActiveCoach(ctx context.Context, userID, groupID string) (bool, error) {
	return f(ctx, userID, groupID)
}

// CoachAuthorizer allows only active coaches of the resource's group.
func CoachAuthorizer(checker CoachChecker) huddle.Authorizer {
	return huddle.AuthorizerFunc(func(ctx context.Context, who huddle.Identity, what huddle.Resource) error {
		ok, err := checker.IsActiveCoach(ctx, who.UserID, what.GroupID)
		if err != nil {
			return err
		}
		if !ok {
			return &huddle.UnauthorizedError{UserID: who.UserID, Resource: what, Reason: "not an active coach of group " + what.GroupID}
		}
		return nil
	})
}

// Handlers runs match commands against a repository. Every handler checks the
// caller against the Authorizer before touching the aggregate; users may change
// their own registration without it.
type Handlers struct {
	repo  *huddle.Repository
	authz huddle.Authorizer
	opts  []Option
	newID func() string
}

// NewHandlers creates match command handlers. Options are passed to every
// Match the handlers create.
func NewHandlers(repo *huddle.Repository, authz huddle.Authorizer, opts ...Option) *Handlers {
	if authz == nil {
		authz = huddle.AllowAll
	}
	return &Handlers{repo: repo, authz: authz, opts: opts, newID: uuid.NewString}
}

// Register adds all match handlers to the bus.
func (h *Handlers) Register(bus *huddle.CommandBus) {
	bus.Register(huddle.NewGenericHandler(h.planMatch))
	bus.Register(huddle.NewAggregateHandler(huddle.AggregateHandlerConfig[RegisterPlayerCommand, *Match]{
		Repository: h.repo,
		Factory:    h.newMatch,
		Executor: func(ctx context.Context, m *Match, cmd RegisterPlayerCommand) error {
			if who, ok := huddle.IdentityFromContext(ctx); ok && who.UserID == cmd.UserID {
				return m.AddRegistration(cmd.UserID, cmd.Status, cmd.Guests)
			}
			if err := h.guard(ctx, m); err != nil {
				return err
			}
			return m.AddRegistration(cmd.UserID, cmd.Status, cmd.Guests)
		},
	}))
	bus.Register(huddle.NewAggregateHandler(huddle.AggregateHandlerConfig[CancelMatchCommand, *Match]{
		Repository: h.repo,
		Factory:    h.newMatch,
		Executor: func(ctx context.Context, m *Match, _ CancelMatchCommand) error {
			if err := h.guard(ctx, m); err != nil {
				return err
			}
			return m.CancelMatch()
		},
	}))
	bus.Register(huddle.NewAggregateHandler(huddle.AggregateHandlerConfig[ChangePlaygroundCommand, *Match]{
		Repository: h.repo,
		Factory:    h.newMatch,
		Executor: func(ctx context.Context, m *Match, cmd ChangePlaygroundCommand) error {
			if err := h.guard(ctx, m); err != nil {
				return err
			}
			return m.ChangePlayground(cmd.Playground)
		},
	}))
	bus.Register(huddle.NewAggregateHandler(huddle.AggregateHandlerConfig[EnterResultCommand, *Match]{
		Repository: h.repo,
		Factory:    h.newMatch,
		Executor: func(ctx context.Context, m *Match, cmd EnterResultCommand) error {
			if err := h.guard(ctx, m); err != nil {
				return err
			}
			return m.EnterResult(cmd.Participants)
		},
	}))
}

func (h *Handlers) newMatch(id string) *Match {
	return New(id, h.opts...)
}

func (h *Handlers) guard(ctx context.Context, m *Match) error {
	return huddle.Guard(ctx, h.authz, huddle.Resource{Kind: ResourceKind, ID: m.AggregateID(), GroupID: m.GroupID()})
}

func (h *Handlers) planMatch(ctx context.Context, cmd PlanMatchCommand) (huddle.CommandResult, error) {
	fail := func(err error) (huddle.CommandResult, error) {
		return huddle.NewErrorResult(err), err
	}

	if err := huddle.Guard(ctx, h.authz, huddle.Resource{Kind: ResourceKind, ID: cmd.MatchID, GroupID: cmd.GroupID}); err != nil {
		return fail(err)
	}

	id := cmd.MatchID
	if id == "" {
		id = h.newID()
	} else {
		exists, err := h.repo.Exists(ctx, id)
		if err != nil {
			return fail(err)
		}
		if exists {
			return fail(ErrMatchAlreadyPlanned)
		}
	}

	m := h.newMatch(id)
	if err := m.PlanMatch(cmd.GroupID, cmd.Start, cmd.Playground, cmd.PlayerCount); err != nil {
		return fail(err)
	}
	if err := h.repo.Save(ctx, m, huddle.WithSaveMetadata(huddle.MetadataFromContext(ctx))); err != nil {
		return fail(err)
	}
	return huddle.NewSuccessResult(m.AggregateID(), m.Version()), nil
}
