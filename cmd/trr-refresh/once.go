package main

import (
	"context"
	"fmt"
	"io"

	"github.com/therealityreport/trr-app-sub006/internal/console"
	"github.com/therealityreport/trr-app-sub006/internal/runstore"
	"github.com/therealityreport/trr-app-sub006/internal/service"
)

// runOnce executes one profile for one target, printing phase changes as
// they happen. Cancelling ctx cancels the run.
func runOnce(ctx context.Context, svc *service.Service, flags cliFlags, stdout io.Writer) error {
	id, err := svc.Start(context.WithoutCancel(ctx), flags.Profile, flags.Target)
	if err != nil {
		return err
	}

	ch, unsubscribe, err := svc.Store().Subscribe(id)
	if err != nil {
		return err
	}
	defer unsubscribe()

	r := console.New(flags.Plain)
	follower := console.NewFollower(r)
	fmt.Fprintf(stdout, "Refreshing %s %s\n", flags.Profile, flags.Target)

	done := ctx.Done()
follow:
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				break follow
			}
			for _, line := range follower.Lines(snap) {
				fmt.Fprintln(stdout, line)
			}
		case <-done:
			_ = svc.Cancel(id)
			done = nil
		}
	}

	rec, err := svc.Wait(context.Background(), id)
	if err != nil {
		return err
	}
	if board := r.RenderBoard(rec.Rows); board != "" {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, board)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, r.RenderSummary(rec))

	if rec.State != runstore.StateSucceeded {
		return fmt.Errorf("run %s %s", rec.ID, rec.State)
	}
	return nil
}
