package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

var createCmd = &cobra.Command{
	Use:   "create [kind] [name]",
	Short: "Create a new entity in a site and print its identifier",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		site, _ := cmd.Flags().GetUint32("site")
		ownerSite, _ := cmd.Flags().GetUint32("owner-site")
		ownerEntity, _ := cmd.Flags().GetUint64("owner-entity")

		kind, err := parseKind(args[0])
		if err != nil {
			return err
		}

		application, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer application.stop()

		owner := id.New(ownerSite, ownerEntity)
		e, err := application.cache.NewEntity(kind, site, owner, args[1])
		if err != nil {
			return fmt.Errorf("create entity: %w", err)
		}

		fmt.Printf("created %s %s as %s\n", kind, args[1], e.ID())
		return nil
	},
}

func init() {
	createCmd.Flags().Uint32("site", 1, "site to create the entity in")
	createCmd.Flags().Uint32("owner-site", 0, "owner identifier's site (0 = no owner)")
	createCmd.Flags().Uint64("owner-entity", 0, "owner identifier's entity number")
}

var kindsByName = map[string]entity.Kind{
	"region":     entity.KindRegion,
	"room":       entity.KindRoom,
	"player":     entity.KindPlayer,
	"guest":      entity.KindGuest,
	"thing":      entity.KindThing,
	"puppet":     entity.KindPuppet,
	"vehicle":    entity.KindVehicle,
	"group":      entity.KindGroup,
	"capability": entity.KindCapability,
	"program":    entity.KindProgram,
	"action":     entity.KindAction,
	"exit":       entity.KindExit,
	"command":    entity.KindCommand,
}

func parseKind(s string) (entity.Kind, error) {
	if k, ok := kindsByName[strings.ToLower(s)]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("unknown entity kind %q", s)
}
