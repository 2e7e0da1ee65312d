package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/virtworld/entityd/internal/entity"
	"github.com/virtworld/entityd/internal/id"
)

// siteManifestEntry is one entity's listing entry in the dump-site
// --format=yaml manifest output.
type siteManifestEntry struct {
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
}

var dumpSiteCmd = &cobra.Command{
	Use:   "dump-site [site]",
	Short: "List every entity in a site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		var site uint32
		if _, err := fmt.Sscanf(args[0], "%d", &site); err != nil {
			return fmt.Errorf("invalid site %q: %w", args[0], err)
		}
		format, _ := cmd.Flags().GetString("format")

		application, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer application.stop()

		ids, err := application.store.ListSite(site)
		if err != nil {
			return err
		}

		switch format {
		case "yaml":
			return dumpSiteYAML(application, ids)
		default:
			return dumpSiteText(application, ids)
		}
	},
}

func init() {
	dumpSiteCmd.Flags().String("format", "text", "output format: text or yaml")
}

func dumpSiteText(application *app, ids []id.Identifier) error {
	for _, ident := range ids {
		kind, _, err := application.store.EntityTypeOf(ident)
		if err != nil {
			return err
		}
		fmt.Printf("%s\t%s\n", ident, kind)
	}
	return nil
}

func dumpSiteYAML(application *app, ids []id.Identifier) error {
	entries := make([]siteManifestEntry, 0, len(ids))
	for _, ident := range ids {
		kind, _, err := application.store.EntityTypeOf(ident)
		if err != nil {
			return err
		}
		entries = append(entries, siteManifestEntry{ID: ident.String(), Kind: kindName(kind)})
	}
	out, err := yaml.Marshal(entries)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func kindName(k entity.Kind) string {
	for name, candidate := range kindsByName {
		if candidate == k {
			return name
		}
	}
	return k.String()
}
