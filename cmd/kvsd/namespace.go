package main

import (
	"fmt"

	"github.com/nskv/kvsd/pkg/engine"
	"github.com/spf13/cobra"
)

var namespaceCmd = &cobra.Command{
	Use:     "namespace",
	Aliases: []string{"ns"},
	Short:   "Manage namespaces in the content store at --data-dir",
}

var namespaceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a namespace rooted at an empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		owner, _ := cmd.Flags().GetString("owner")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer eng.Shutdown()

		if err := eng.NamespaceCreate(name, owner, 0); err != nil {
			return fmt.Errorf("create namespace %s: %w", name, err)
		}
		fmt.Printf("namespace created: %s (owner=%s)\n", name, owner)
		return nil
	},
}

var namespaceRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a namespace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer eng.Shutdown()

		if err := eng.NamespaceRemove(name); err != nil {
			return fmt.Errorf("remove namespace %s: %w", name, err)
		}
		fmt.Printf("namespace removed: %s\n", name)
		return nil
	},
}

var namespaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List namespaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
		defer eng.Shutdown()

		namespaces := eng.NamespaceList()
		if len(namespaces) == 0 {
			fmt.Println("No namespaces found")
			return nil
		}

		fmt.Printf("%-20s %-20s %s\n", "NAMESPACE", "OWNER", "FLAGS")
		for _, ns := range namespaces {
			fmt.Printf("%-20s %-20s %d\n", ns.Namespace, ns.Owner, ns.Flags)
		}
		return nil
	},
}

func init() {
	namespaceCreateCmd.Flags().String("owner", "root", "Owner userid for the new namespace")

	namespaceCmd.AddCommand(namespaceCreateCmd)
	namespaceCmd.AddCommand(namespaceRemoveCmd)
	namespaceCmd.AddCommand(namespaceListCmd)
}
