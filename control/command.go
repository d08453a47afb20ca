package control

import (
	"fmt"
	"strconv"
	"strings"
)

// CommandKind is a shell command understood by the controller shell.
type CommandKind int

const (
	CmdEmpty CommandKind = iota
	CmdHelp
	CmdQuit
	CmdPrint
	CmdKill
	CmdExec
	CmdGoto
	CmdHigh
	CmdLow
)

// Command is one parsed shell line.
type Command struct {
	Kind   CommandKind
	TaskID int32
	Name   string
}

// Request returns the control request for the command, or false for
// commands handled by the shell itself.
func (c Command) Request() (Request, bool) {
	switch c.Kind {
	case CmdPrint:
		return Request{Op: OpPrintTasks}, true
	case CmdKill:
		return Request{Op: OpKillTask, TaskID: c.TaskID}, true
	case CmdExec:
		return Request{Op: OpExecTask, Name: c.Name}, true
	case CmdGoto:
		return Request{Op: OpGotoTask, TaskID: c.TaskID}, true
	case CmdHigh:
		return Request{Op: OpHighTask, TaskID: c.TaskID}, true
	case CmdLow:
		return Request{Op: OpLowTask, TaskID: c.TaskID}, true
	default:
		return Request{}, false
	}
}

// ShellHelp lists the commands accepted by ParseCommand.
const ShellHelp = `Commands:
  p            print the task list
  k <id>       kill the task with the given id
  e <program>  run ./<program> as a new task
  g <id>       switch to the task with the given id (not supported)
  h <id>       raise the task's priority (not supported)
  l <id>       lower the task's priority (not supported)
  h, ?         show this help
  q            quit the shell
`

// ParseCommand parses one shell line.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{Kind: CmdEmpty}, nil
	}

	verb, args := fields[0], fields[1:]
	switch verb {
	case "?":
		return Command{Kind: CmdHelp}, noArgs(verb, args)
	case "q":
		return Command{Kind: CmdQuit}, noArgs(verb, args)
	case "p":
		return Command{Kind: CmdPrint}, noArgs(verb, args)
	case "h":
		if len(args) == 0 {
			return Command{Kind: CmdHelp}, nil
		}
		return idCommand(verb, args, CmdHigh)
	case "k":
		return idCommand(verb, args, CmdKill)
	case "g":
		return idCommand(verb, args, CmdGoto)
	case "l":
		return idCommand(verb, args, CmdLow)
	case "e":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("usage: e <program>")
		}
		if !ValidName(args[0]) {
			return Command{}, fmt.Errorf("%w: %q", ErrNameTooLong, args[0])
		}
		return Command{Kind: CmdExec, Name: args[0]}, nil
	default:
		return Command{}, fmt.Errorf("unknown command %q, type h for help", verb)
	}
}

func noArgs(verb string, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("usage: %s takes no arguments", verb)
	}
	return nil
}

func idCommand(verb string, args []string, kind CommandKind) (Command, error) {
	if len(args) != 1 {
		return Command{}, fmt.Errorf("usage: %s <id>", verb)
	}
	id, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return Command{}, fmt.Errorf("invalid task id %q", args[0])
	}
	return Command{Kind: kind, TaskID: int32(id)}, nil
}
