package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/keywatch/internal/secrets"
)

var sealRemove bool

var sealCmd = &cobra.Command{
	Use:   "seal <config-file>",
	Short: "Encrypt a config file with the master key",
	Long: `Encrypt a configuration file holding credentials. The sealed copy is
written next to it with a .enc suffix and can be passed to --config; the
master key is read from ` + secrets.MasterKeyEnv + `.

Example:
  KEYWATCH_MASTER_KEY=... keywatch seal configs/keywatch.yaml --remove`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if secrets.IsSealed(path) {
			return fmt.Errorf("%s is already sealed", path)
		}

		plaintext, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		// Refuse to seal something LoadConfig cannot read back.
		probe, err := os.CreateTemp("", "keywatch-*.yaml")
		if err != nil {
			return err
		}
		defer os.Remove(probe.Name())
		if _, err := probe.Write(plaintext); err != nil {
			probe.Close()
			return err
		}
		probe.Close()
		if _, err := LoadConfig(probe.Name()); err != nil {
			return err
		}

		out, err := secrets.WriteFile(path, plaintext, secrets.MasterKey())
		if err != nil {
			return err
		}
		fmt.Printf("Sealed config written to %s\n", out)

		if sealRemove {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove plaintext config: %w", err)
			}
			fmt.Printf("Removed %s\n", path)
		}
		return nil
	},
}

func init() {
	sealCmd.Flags().BoolVar(&sealRemove, "remove", false, "delete the plaintext file after sealing")
	rootCmd.AddCommand(sealCmd)
}
