package types

import (
	"errors"
	"strings"
)

// Command is one toolchain invocation. Args[0] is the program.
type Command struct {
	Args []string `json:"args" yaml:"args" toml:"args"`
	// FailOnOutput marks commands that signal problems by printing rather
	// than by exit status, such as `gofmt -l`.
	FailOnOutput bool `json:"fail_on_output,omitempty" yaml:"fail_on_output,omitempty" toml:"fail_on_output"`
}

func NewCommand(args ...string) Command {
	return Command{Args: args}
}

func (c Command) Validate() error {
	if len(c.Args) == 0 || c.Args[0] == "" {
		return errors.New("command has no program")
	}
	return nil
}

func (c Command) String() string {
	return strings.Join(c.Args, " ")
}
