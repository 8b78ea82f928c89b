// Command taskwatch follows one generation task on a running server until it
// finishes, printing each status change.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/makeasinger/mediagen/internal/config"
	"github.com/makeasinger/mediagen/internal/logging"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/poller"
)

func main() {
	var (
		baseURL        string
		token          string
		cancelOnSignal bool
		maxErrors      int
	)

	cfg, err := config.Load()
	if err != nil {
		exitWithError(fmt.Errorf("load config: %w", err))
	}

	flag.StringVar(&baseURL, "url", cfg.Poller.BaseURL, "server base URL")
	flag.StringVar(&token, "token", cfg.Poller.Token, "bearer token")
	flag.BoolVar(&cancelOnSignal, "cancel", false, "cancel the task on the server when interrupted")
	flag.IntVar(&maxErrors, "max-errors", poller.DefaultMaxErrors, "consecutive transient failures before giving up")
	flag.Parse()

	if flag.NArg() != 1 {
		exitWithError(errors.New("usage: taskwatch [flags] <task-id>"))
	}
	taskID := flag.Arg(0)

	log := logging.New(cfg.Server.Env, cfg.Server.LogLevel)
	fetcher := poller.NewHTTPFetcher(baseURL, token, nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	first, err := fetcher.Status(ctx, taskID)
	if err != nil {
		exitWithError(err)
	}
	printStatus(first)

	tracker := poller.NewTracker(poller.New(fetcher, poller.WithMaxErrors(maxErrors), poller.WithLogger(log)))

	type outcome struct {
		res *poller.Result
		err error
	}
	done := make(chan outcome, 1)
	last := first.Status
	tracker.Start(context.Background(), taskID, first.Type.Category(), func(st *model.TaskStatusResponse) {
		if st.Status != last {
			last = st.Status
			printStatus(st)
		}
	}, func(res *poller.Result, err error) {
		done <- outcome{res, err}
	})

	select {
	case out := <-done:
		if out.err != nil {
			exitWithError(out.err)
		}
		report(out.res)
	case <-ctx.Done():
		if !cancelOnSignal {
			tracker.Stop(taskID)
			fmt.Println("stopped watching; the task keeps running on the server")
			return
		}
		cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tracker.Cancel(cctx, taskID); err != nil {
			exitWithError(fmt.Errorf("cancel: %w", err))
		}
		fmt.Println("task cancelled")
	}
}

func printStatus(st *model.TaskStatusResponse) {
	fmt.Printf("%s  %-10s %3d%%\n", time.Now().Format(time.TimeOnly), st.Status, st.Progress)
}

func report(res *poller.Result) {
	switch {
	case res.LocalTimeout:
		fmt.Println(res.ErrorMessage)
		os.Exit(2)
	case res.Status == model.TaskStatusCompleted:
		fmt.Println(res.URL)
	default:
		fmt.Printf("%s: %s\n", res.Status, res.ErrorMessage)
		os.Exit(1)
	}
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "taskwatch: %v\n", err)
	os.Exit(1)
}
