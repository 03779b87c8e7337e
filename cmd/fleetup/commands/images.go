package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/campus-netops/fleetup/internal/config"
	"github.com/campus-netops/fleetup/pkg/errors"
	"github.com/campus-netops/fleetup/pkg/storage"
)

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "Manage the local firmware image folder",
}

var imagesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Download the target images from S3 and verify their checksums",
	RunE:  runImagesSync,
}

var imagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the firmware images available in S3",
	RunE:  runImagesList,
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.AddCommand(imagesSyncCmd)
	imagesCmd.AddCommand(imagesListCmd)
}

func runImagesSync(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}
	if err := ensureDirectories(cfg); err != nil {
		return err
	}

	byGroup, err := loadImageDescriptors(cfg)
	if err != nil {
		return err
	}

	// The same image may serve several groups; sync each file once.
	images := make(map[string]string)
	for _, desc := range byGroup {
		images[desc.Image] = desc.MD5
	}
	if len(images) == 0 {
		fmt.Println("No images configured")
		return nil
	}

	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	if err := client.Sync(ctx, cfg.ImageFolder, images); err != nil {
		return errors.Wrap(err, "image sync failed")
	}

	fmt.Printf("%d images in sync under %s\n", len(images), cfg.ImageFolder)
	return nil
}

func runImagesList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "config load failed")
	}

	client, err := storage.NewClient(ctx, cfg.S3Bucket, cfg.S3Region)
	if err != nil {
		return errors.Wrap(err, "S3 client failed")
	}

	keys, err := client.ListObjects(ctx, "")
	if err != nil {
		return errors.Wrap(err, "list failed")
	}

	if len(keys) == 0 {
		fmt.Println("No images found")
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}
