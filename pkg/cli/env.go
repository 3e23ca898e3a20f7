package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlowell/clinops/pkg/envfile"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Read and edit the local env file",
}

var envGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print one value from the env file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := envfile.Load(cfg.EnvFile)
		if err != nil {
			return err
		}
		value, ok := doc.Get(args[0])
		if !ok {
			return fmt.Errorf("%s is not set in %s", args[0], cfg.EnvFile)
		}
		fmt.Println(value)
		return nil
	},
}

var envSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a value, preserving comments and ordering",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := envfile.Load(cfg.EnvFile)
		if err != nil {
			return err
		}
		doc.Set(args[0], args[1])
		if err := doc.Save(cfg.EnvFile); err != nil {
			return err
		}
		log.Info("updated env file", "key", args[0], "file", cfg.EnvFile)
		return nil
	},
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keys in the env file, values elided",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := envfile.Load(cfg.EnvFile)
		if err != nil {
			return err
		}
		for _, key := range doc.SortedKeys() {
			fmt.Println(key)
		}
		return nil
	},
}

var envUnsetCmd = &cobra.Command{
	Use:   "unset KEY",
	Short: "Remove a key from the env file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := envfile.Load(cfg.EnvFile)
		if err != nil {
			return err
		}
		if !doc.Unset(args[0]) {
			return fmt.Errorf("%s is not set in %s", args[0], cfg.EnvFile)
		}
		if err := doc.Save(cfg.EnvFile); err != nil {
			return err
		}
		log.Info("removed key from env file", "key", args[0], "file", cfg.EnvFile)
		return nil
	},
}

func init() {
	envCmd.AddCommand(envGetCmd, envListCmd, envSetCmd, envUnsetCmd)
	rootCmd.AddCommand(envCmd)
}
