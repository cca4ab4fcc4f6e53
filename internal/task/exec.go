package task

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/taskmaster/taskmaster/internal/config"
)

// signalFor maps the fixed signal-name set of §3 to the syscall value the
// supervisor actually sends.
func signalFor(name string) unix.Signal {
	switch name {
	case config.SigTERM:
		return unix.SIGTERM
	case config.SigINT:
		return unix.SIGINT
	case config.SigHUP:
		return unix.SIGHUP
	case config.SigKILL:
		return unix.SIGKILL
	case config.SigUSR1:
		return unix.SIGUSR1
	case config.SigUSR2:
		return unix.SIGUSR2
	case config.SigQUIT:
		return unix.SIGQUIT
	default:
		return unix.SIGTERM
	}
}

// shellQuote wraps a single argv word in single quotes the way a shell
// expects, escaping any embedded single quote.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// buildShellCommand assembles the "umask NNN; exec argv..." line run under
// /bin/sh -c. Routing the spawn through a shell that applies umask and
// then exec's into the real binary is how main.go (in the copied teacher)
// already decouples a spawned command from the supervisor's own process
// image; it is also the only practical way to apply a umask to the child
// alone, since Go's runtime does not support a preexec hook between fork
// and exec the way subprocess.Popen's preexec_fn does.
func buildShellCommand(umask string, argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return fmt.Sprintf("umask %s; exec %s", umask, strings.Join(quoted, " "))
}

// envSlice flattens a merged env map into the KEY=VALUE slice os/exec wants.
func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func containsInt(list []int, v int) bool {
	for _, c := range list {
		if c == v {
			return true
		}
	}
	return false
}
