// Command procsh is the interactive controller shell. procsched launches it
// as a controller task with the request and return descriptors as arguments.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Swind/go-proc-scheduler/control"
)

var (
	promptFlag string

	rootCmd = &cobra.Command{
		Use:           "procsh <request-fd> <return-fd>",
		Short:         "Controller shell for procsched",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqFile, err := openFD(args[0], "request")
			if err != nil {
				return err
			}
			defer reqFile.Close()
			retFile, err := openFD(args[1], "return")
			if err != nil {
				return err
			}
			defer retFile.Close()

			client := control.NewClient(retFile, reqFile)
			return runShell(client, os.Stdin, os.Stdout, promptFlag)
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&promptFlag, "prompt", "procsh> ", "prompt printed before each command")
}

func openFD(arg, name string) (*os.File, error) {
	fd, err := strconv.Atoi(arg)
	if err != nil || fd < 0 {
		return nil, fmt.Errorf("invalid %s descriptor %q", name, arg)
	}
	f := os.NewFile(uintptr(fd), name)
	if f == nil {
		return nil, fmt.Errorf("invalid %s descriptor %d", name, fd)
	}
	return f, nil
}

// runShell reads commands from in until q or end of input. Request errors are
// printed and the shell keeps going; a broken channel ends it.
func runShell(client *control.Client, in io.Reader, out io.Writer, prompt string) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		cmd, err := control.ParseCommand(scanner.Text())
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}

		switch cmd.Kind {
		case control.CmdEmpty:
			continue
		case control.CmdHelp:
			fmt.Fprint(out, control.ShellHelp)
			continue
		case control.CmdQuit:
			return nil
		}

		if err := sendCommand(client, cmd, out); err != nil {
			return err
		}
	}
}

// sendCommand sends one scheduler command and prints a failed status. Only a
// broken channel is returned as an error.
func sendCommand(client *control.Client, cmd control.Command, out io.Writer) error {
	req, ok := cmd.Request()
	if !ok {
		fmt.Fprintf(out, "command %d is handled by the shell, not the scheduler\n", cmd.Kind)
		return nil
	}
	status, err := client.Do(req)
	if err != nil {
		if errors.Is(err, control.ErrChannelBroken) {
			return fmt.Errorf("scheduler went away: %w", err)
		}
		fmt.Fprintln(out, err)
		return nil
	}
	if status != control.StatusOK {
		fmt.Fprintf(out, "%s failed: %s (%d)\n", req.Op, status, int32(status))
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "procsh: %v\n", err)
		os.Exit(1)
	}
}
