package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virtworld/entityd/internal/id"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [site] [entity]",
	Short: "Schedule an entity for deletion on the next commit tick",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var site uint32
		var entityNum uint64
		if _, err := fmt.Sscanf(args[0], "%d", &site); err != nil {
			return fmt.Errorf("invalid site %q: %w", args[0], err)
		}
		if _, err := fmt.Sscanf(args[1], "%d", &entityNum); err != nil {
			return fmt.Errorf("invalid entity %q: %w", args[1], err)
		}
		ident := id.New(site, entityNum)

		application, err := newApp(cfg)
		if err != nil {
			return err
		}
		application.start()
		defer application.stop()

		if _, ok, err := application.cache.Get(ident); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("entity %s does not exist", ident)
		}
		application.cache.Release(ident)

		batchID := application.updateMgr.Delete(ident)
		application.updateMgr.Flush()
		fmt.Printf("deleted %s (batch %d)\n", ident, batchID)
		return nil
	},
}
