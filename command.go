package huddle

// Command asks for one change, such as planning a match or registering a
// player. Validate checks only the command's own fields; rules that need
// aggregate state belong to the aggregate.
type Command interface {
	CommandType() string
	Validate() error
}

// AggregateCommand targets one aggregate. An empty AggregateID asks the
// handler to create a new aggregate.
type AggregateCommand interface {
	Command
	AggregateID() string
}

// CommandResult reports what a dispatched command did.
type CommandResult struct {
	Success     bool
	AggregateID string

	// Version is the aggregate version after the command was saved.
	Version int64

	// Events counts the events the command raised. Zero means the command
	// was accepted but changed nothing, like repeating a registration.
	Events int

	Error error
}

// NewSuccessResult reports a command that left aggregateID at version.
func NewSuccessResult(aggregateID string, version int64) CommandResult {
	return CommandResult{Success: true, AggregateID: aggregateID, Version: version}
}

// NewErrorResult reports a failed command.
func NewErrorResult(err error) CommandResult {
	return CommandResult{Error: err}
}

// IsSuccess reports whether the command succeeded.
func (r CommandResult) IsSuccess() bool {
	return r.Success && r.Error == nil
}

// IsError reports whether the command failed.
func (r CommandResult) IsError() bool {
	return !r.IsSuccess()
}
