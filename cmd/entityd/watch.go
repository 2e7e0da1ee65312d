package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/virtworld/entityd/internal/events"
	"github.com/virtworld/entityd/internal/id"
)

var (
	watchRoomSite   uint32
	watchRoomEntity uint64
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to every movement event, plus emits in one room, and print them as they happen",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		application, err := newApp(cfg)
		if err != nil {
			return err
		}
		application.start()
		defer application.stop()

		print := func(e events.Event) {
			switch e.Type {
			case events.TypeMovement:
				fmt.Printf("movement: %s moved %s -> %s\n", e.Movement.Who, e.Movement.From, e.Movement.To)
			case events.TypeEmit:
				fmt.Printf("emit: %s in %s: %s\n", e.Emit.Source, e.Emit.Target, e.Emit.Text)
			}
		}

		if _, err := application.registry.Add(events.TypeMovement, events.MovementParams{WatchAll: true}, print, 0); err != nil {
			return err
		}
		// Emit subscriptions can never be a complete wildcard, so this
		// only watches a single room given via --room-site/--room-entity;
		// without one, emits are simply not shown.
		if watchRoomEntity != 0 {
			room := id.New(watchRoomSite, watchRoomEntity)
			if _, err := application.registry.Add(events.TypeEmit, events.EmitParams{Target: room}, print, 0); err != nil {
				return err
			}
		}

		fmt.Println("watching for movement (and, with --room-entity, emit) events. Press Ctrl+C to stop.")
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		return nil
	},
}

func init() {
	watchCmd.Flags().Uint32Var(&watchRoomSite, "room-site", 0, "site of the room to watch emits in")
	watchCmd.Flags().Uint64Var(&watchRoomEntity, "room-entity", 0, "entity number of the room to watch emits in (0 = don't watch emits)")
}
