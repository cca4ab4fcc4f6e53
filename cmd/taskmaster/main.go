// Command taskmaster boots the supervisor from a YAML config, starts the
// tick-driven monitor loop in the background, and hands the terminal to
// the interactive operator shell (§4.3, §6).
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/taskmaster/taskmaster/internal/logx"
	"github.com/taskmaster/taskmaster/internal/shell"
	"github.com/taskmaster/taskmaster/internal/supervisor"
	"github.com/taskmaster/taskmaster/internal/task"
)

func main() {
	configPath := flag.StringP("config", "c", "taskmaster.yaml", "Path to the program config file")
	logPath := flag.String("log-file", logx.DefaultPath, "Path to the supervisor log file")
	flag.Parse()

	log, err := logx.New(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "taskmaster: logging: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	sup := supervisor.New(task.SystemClock{}, log)
	if err := sup.LoadConfig(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "taskmaster: %v\n", err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	go sup.Supervise(stop)

	shell.Run(sup)
	close(stop)
}
