package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "fleetup",
	Short: "Fleet firmware distribution for campus network devices",
	Long:  `Distributes IOS/IOS-XE firmware images across a device fleet: staged transfer with flash cleanup, stack propagation, checksum verification, boot statement and reload management.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("inventory-dir", "inventory", "Inventory directory (hosts/groups/defaults/images YAML)")
	rootCmd.PersistentFlags().String("reports-dir", "reports", "Directory for JSON failure reports")
	rootCmd.PersistentFlags().String("image-folder", "images", "Local firmware image folder")
	rootCmd.PersistentFlags().String("sqlite-path", ".artifacts/hoststate.db", "SQLite database path")
	rootCmd.PersistentFlags().String("fsm-db-path", ".artifacts/fsm.db", "FSM BoltDB path")
	rootCmd.PersistentFlags().String("s3-bucket", "campus-netops-firmware", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().Int("concurrency", 10, "Hosts worked on at once")
	rootCmd.PersistentFlags().String("domain", "", "DNS domain appended to bare device names")
	rootCmd.PersistentFlags().Bool("skip-dns-check", false, "Skip DNS hostname verification")

	viper.BindPFlag("inventory-dir", rootCmd.PersistentFlags().Lookup("inventory-dir"))
	viper.BindPFlag("reports-dir", rootCmd.PersistentFlags().Lookup("reports-dir"))
	viper.BindPFlag("image-folder", rootCmd.PersistentFlags().Lookup("image-folder"))
	viper.BindPFlag("sqlite-path", rootCmd.PersistentFlags().Lookup("sqlite-path"))
	viper.BindPFlag("fsm-db-path", rootCmd.PersistentFlags().Lookup("fsm-db-path"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("concurrency", rootCmd.PersistentFlags().Lookup("concurrency"))
	viper.BindPFlag("domain", rootCmd.PersistentFlags().Lookup("domain"))
	viper.BindPFlag("skip-dns-check", rootCmd.PersistentFlags().Lookup("skip-dns-check"))
}
