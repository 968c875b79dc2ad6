// Command jute is a terminal client for Jupyter kernels: it can list
// installed kernel specs, launch one as a local subprocess, and drive a
// simple read-eval-print loop against it.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"jute/environment"
	"jute/kernel"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	sub := os.Args[1]
	switch sub {
	case "-h", "--help", "help":
		usage()
	case "kernels":
		os.Exit(kernelsCommand(os.Args[2:]))
	case "run":
		os.Exit(runCommand(os.Args[2:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", sub)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  jute <command> [arguments]\n")
	fmt.Fprintf(os.Stderr, "\nCommands:\n")
	fmt.Fprintf(os.Stderr, "  kernels                  list installed kernel specs\n")
	fmt.Fprintf(os.Stderr, "  run <display_name>       launch a kernel and start a REPL against it\n")
}

// findSpecByDisplayName returns the first kernel spec in found whose
// display name matches exactly.
func findSpecByDisplayName(found []environment.FoundKernel, displayName string) (environment.KernelSpec, bool) {
	for _, k := range found {
		if k.Spec.DisplayName == displayName {
			return k.Spec, true
		}
	}
	return environment.KernelSpec{}, false
}

func kernelsCommand(args []string) int {
	found := environment.ListKernels("")
	if len(found) == 0 {
		fmt.Println("no kernel specs found")
		return 0
	}
	sort.Slice(found, func(i, j int) bool {
		return found[i].Spec.DisplayName < found[j].Spec.DisplayName
	})
	for _, k := range found {
		fmt.Printf("%-24s %s\n", k.Spec.DisplayName, k.Path)
	}
	return 0
}

func runCommand(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: jute run <display_name>")
		return 2
	}
	displayName := args[0]

	found := environment.ListKernels("")
	spec, ok := findSpecByDisplayName(found, displayName)
	if !ok {
		fmt.Fprintf(os.Stderr, "no kernel spec named %q\n", displayName)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	local, err := kernel.StartLocalKernel(ctx, spec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start kernel: %v\n", err)
		return 1
	}
	defer local.Kill()

	conn := local.Connection

	info, err := kernel.KernelInfo(ctx, conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel_info_request failed: %v\n", err)
		return 1
	}
	fmt.Printf("connected to %s (%s)\n", info.Implementation, info.LanguageInfo.Name)

	return repl(ctx, conn)
}

// repl is a minimal read-eval-print loop: it reads one line of code at a
// time and prints the cell's streamed events. On a real terminal it uses a
// raw-mode line editor with history; otherwise it falls back to
// bufio.Scanner for piped or redirected stdin.
func repl(ctx context.Context, conn *kernel.Connection) int {
	if tty, ok := newTTYInput(os.Stdin, os.Stdout); ok {
		defer tty.Close()
		for {
			line, ok := tty.readLine(">>> ")
			if !ok {
				return 0
			}
			if line == "" {
				continue
			}
			runLine(ctx, conn, line)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(">>> ")
		if !scanner.Scan() {
			return 0
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		runLine(ctx, conn, line)
	}
}

func runLine(ctx context.Context, conn *kernel.Connection, line string) {
	events, err := kernel.RunCell(ctx, conn, line)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run_cell: %v\n", err)
		return
	}
	for ev := range events {
		printCellEvent(ev)
	}
}

func printCellEvent(ev kernel.CellEvent) {
	switch ev.Kind {
	case kernel.CellStdout:
		fmt.Print(ev.Stream.Text)
	case kernel.CellStderr:
		fmt.Fprint(os.Stderr, ev.Stream.Text)
	case kernel.CellExecuteResult:
		if text, ok := ev.ExecuteResult.Data["text/plain"]; ok {
			fmt.Printf("Out[%d]: %s\n", ev.ExecuteResult.ExecutionCount, text)
		}
	case kernel.CellDisplayData:
		if text, ok := ev.DisplayData.Data["text/plain"]; ok {
			fmt.Println(string(text))
		}
	case kernel.CellError:
		fmt.Fprintf(os.Stderr, "%s: %s\n", ev.Error.EName, ev.Error.EValue)
	case kernel.CellDisconnected:
		fmt.Fprintln(os.Stderr, "kernel disconnected")
	}
}
