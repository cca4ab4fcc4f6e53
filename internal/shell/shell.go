// Package shell implements the interactive operator REPL (§6): a single
// readline-backed prompt exposing status/start/stop/restart/reread/
// update/shutdown/help, with tab completion over the fixed command set
// and SIGHUP/SIGQUIT handling layered on top of line editing.
package shell

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/taskmaster/taskmaster/internal/supervisor"
)

var commands = []string{"status", "start", "stop", "restart", "reread", "update", "shutdown", "help"}

const usageTemplate = `%[1]s: %[1]s requires a process name
    %[1]s <name>          Operate on one process
    %[1]s <name> <name>   Operate on multiple processes or groups
    %[1]s all             Operate on all processes
`

const helpText = `Available commands:
  - status [<name1> <name2> ...] | all
  - start [<name1> <name2> ...] | all
  - stop [<name1> <name2> ...] | all
  - restart [<name1> <name2> ...] | all
  - reread
  - update
  - shutdown
  - help
`

// commandCompleter implements readline.AutoCompleter over the fixed verb
// set (the shell never completes process names, only commands).
type commandCompleter struct{}

func (commandCompleter) Do(line []rune, pos int) (newLine [][]rune, length int) {
	word := string(line[:pos])
	var matches [][]rune
	for _, c := range commands {
		if strings.HasPrefix(c, word) {
			matches = append(matches, []rune(c[len(word):]))
		}
	}
	return matches, len(word)
}

// Run drives the REPL until shutdown is requested (by the "shutdown"
// command or Ctrl-D/SIGQUIT), at which point it calls sup.Shutdown and
// returns.
func Run(sup *supervisor.Supervisor) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "taskmaster > ",
		AutoComplete:    commandCompleter{},
		HistoryLimit:    1000,
		InterruptPrompt: "^C",
		EOFPrompt:       "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmaster: readline: %v\n", err)
		return
	}
	defer rl.Close()

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	sigquit := make(chan os.Signal, 1)
	signal.Notify(sigquit, syscall.SIGQUIT)
	go func() {
		for range sighup {
			fmt.Println("\n[!] SIGHUP received -> rereading config")
			doReread(sup)
			rl.Refresh()
		}
	}()
	go func() {
		<-sigquit
		rl.Close()
	}()

	// A SIGINT received while shutdown() is blocked waiting on children
	// (i.e. outside rl.Readline(), where readline's own InterruptPrompt
	// already handles Ctrl-C) closes shutdownCancel, which
	// Supervisor.Shutdown polls so it can return immediately and abandon
	// its waiting list (§4.3/§8).
	shutdownCancel := make(chan struct{})
	var closeShutdownCancel sync.Once
	var shuttingDown atomic.Bool
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, syscall.SIGINT)
	go func() {
		for range sigint {
			if shuttingDown.Load() {
				closeShutdownCancel.Do(func() { close(shutdownCancel) })
			}
		}
	}()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil { // io.EOF, or rl.Close() from SIGQUIT
			fmt.Println("\n[!] Caught Ctrl+D or SIGQUIT -> shutting down...")
			shuttingDown.Store(true)
			shutdown(sup, shutdownCancel)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		command, params := fields[0], fields[1:]

		switch command {
		case "help":
			fmt.Print(helpText)

		case "status", "start", "stop", "restart":
			if len(params) == 0 {
				fmt.Printf(usageTemplate, command)
				continue
			}
			dispatch(sup, command, params)

		case "reread":
			doReread(sup)

		case "update":
			sup.Update()

		case "shutdown":
			fmt.Println("Shutting down...")
			shuttingDown.Store(true)
			shutdown(sup, shutdownCancel)
			return

		default:
			fmt.Printf("Unknown command: %s\n", command)
		}
	}
}

func dispatch(sup *supervisor.Supervisor, command string, params []string) {
	all := containsAll(params)
	switch command {
	case "status":
		sup.Status(params, all)
	case "start":
		sup.Start(params, all)
	case "stop":
		sup.Stop(params, all)
	case "restart":
		sup.Restart(params, all)
	}
}

func containsAll(params []string) bool {
	for _, p := range params {
		if p == "all" {
			return true
		}
	}
	return false
}

func doReread(sup *supervisor.Supervisor) {
	added, changed, removed, err := sup.Reread()
	if err != nil {
		fmt.Printf("reread: %v\n", err)
		return
	}
	for _, name := range added {
		fmt.Printf("%s: available\n", name)
	}
	for _, name := range changed {
		fmt.Printf("%s: changed\n", name)
	}
	if len(added) == 0 && len(changed) == 0 && len(removed) == 0 {
		fmt.Println("No config updates to processes")
	}
}

func shutdown(sup *supervisor.Supervisor, cancel <-chan struct{}) {
	sup.Shutdown(cancel)
}
