package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/mwantia/imghost/pkg/backup"
	"github.com/mwantia/imghost/pkg/db/models"
	"github.com/mwantia/imghost/pkg/db/store"
	"github.com/mwantia/imghost/pkg/reconcile"
	"github.com/spf13/cobra"
)

func NewImagesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage indexed images",
		Long:  "List, remove, migrate and back up images directly against the configured database and storage.",
	}

	cmd.AddCommand(NewImagesListCommand())
	cmd.AddCommand(NewImagesRemoveCommand())
	cmd.AddCommand(NewImagesMigrateCommand())
	cmd.AddCommand(NewImagesPruneCommand())
	cmd.AddCommand(NewImagesStatsCommand())
	cmd.AddCommand(NewImagesExportCommand())
	cmd.AddCommand(NewImagesImportCommand())
	cmd.AddCommand(NewImagesBackupCommand())

	return cmd
}

func storageArg(value string) (models.Storage, error) {
	if value == "" || value == "all" {
		return "", nil
	}
	return models.ParseStorage(value)
}

func NewImagesListCommand() *cobra.Command {
	var humanReadable bool
	var longFormat bool
	var limit int
	var storageFlag string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List images",
		Long:  "List indexed images merged with unindexed local files, newest first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := storageArg(storageFlag)
			if err != nil {
				return err
			}

			svc, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.Close()

			images, err := svc.reconciler.List(cmd.Context(), svc.baseURL(), limit, filter)
			if err != nil {
				return err
			}

			return printImages(cmd.OutOrStdout(), images, humanReadable, longFormat)
		},
	}

	cmd.Flags().BoolVarP(&humanReadable, "human", "H", false, "Enable human-readable format")
	cmd.Flags().BoolVarP(&longFormat, "long", "l", false, "Display long format")
	cmd.Flags().IntVarP(&limit, "limit", "n", reconcile.DefaultListLimit, "Maximum number of images, 0 lists all")
	cmd.Flags().StringVarP(&storageFlag, "storage", "s", "", "Only list images on 'local' or 'remote'")

	return cmd
}

func printImages(w io.Writer, images []models.Image, humanReadable, longFormat bool) error {
	if !longFormat {
		for _, image := range images {
			fmt.Fprintln(w, image.Path)
		}
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, image := range images {
		size := fmt.Sprintf("%d", image.FileSize)
		uploaded := image.UploadTime.Local().Format("2006-01-02 15:04:05")
		if humanReadable {
			size = humanize.Bytes(uint64(image.FileSize))
			uploaded = humanize.Time(image.UploadTime)
		}

		indexed := "indexed"
		if image.ID == 0 {
			indexed = "orphan"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", image.Storage, indexed, size, uploaded, image.Path, image.URL)
	}
	return tw.Flush()
}

func NewImagesRemoveCommand() *cobra.Command {
	var storageFlag string

	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Remove images",
		Long:  "Removes images from their backend and from the index. Paths that are not indexed are removed from --storage.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			svc, err := openServices(ctx, true)
			if err != nil {
				return err
			}
			defer svc.Close()

			targets := make([]reconcile.Target, 0, len(args))
			for _, path := range args {
				target := reconcile.Target{Storage: storageFlag, Path: path}
				if image, err := svc.store.FindByPath(ctx, path); err == nil {
					target.Storage = string(image.Storage)
				} else if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				targets = append(targets, target)
			}

			result, err := svc.reconciler.Delete(ctx, targets)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d of %d images (%d skipped, %d backend failures, %d empty directories pruned)\n",
				result.Removed, result.Requested, result.Skipped, result.BackendFailures, result.PrunedDirs)
			for _, failure := range result.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", failure)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&storageFlag, "storage", "s", string(models.StorageLocal), "Backend of paths that are not indexed")

	return cmd
}

func NewImagesMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Index unindexed local files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.reconciler.Migrate(cmd.Context(), svc.baseURL())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %d files, %d errors\n", result.Migrated, result.Errors)
			return result.Err()
		},
	}
}

func NewImagesPruneCommand() *cobra.Command {
	var includeRemote bool

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove index rows whose file no longer exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.reconciler.PruneMissing(cmd.Context(), includeRemote)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d rows, removed %d, %d errors\n", result.Checked, result.Removed, result.Errors)
			return result.Err()
		},
	}

	cmd.Flags().BoolVar(&includeRemote, "remote", false, "Also check rows on remote storage")

	return cmd
}

func NewImagesStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Aliases: []string{"status"},
		Short:   "Show storage statistics and index status",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.Close()

			stats, err := svc.reconciler.Stats(cmd.Context())
			if err != nil {
				return err
			}
			status, err := svc.reconciler.Status(cmd.Context())
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{
				"stats":  stats,
				"status": status,
			})
		},
	}
}

func NewImagesExportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Export every index row as JSON",
		Long:  "Writes all index rows as JSON to the file, or to stdout when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.Close()

			images, err := svc.store.ExportAll(cmd.Context())
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return backup.Encode(cmd.OutOrStdout(), images)
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			if err := backup.Encode(f, images); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}
}

func NewImagesImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import index rows from a JSON export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			images, err := backup.Decode(f)
			if err != nil {
				return err
			}

			svc, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.Close()

			result, err := svc.store.BulkImport(cmd.Context(), images)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d, skipped %d, %d errors\n", result.Imported, result.Skipped, result.Errors)
			for _, failure := range result.Failures {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", failure)
			}
			return nil
		},
	}
}

func NewImagesBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Write a backup file into the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := openServices(cmd.Context(), true)
			if err != nil {
				return err
			}
			defer svc.Close()

			name, count, err := svc.archive.Write(cmd.Context(), svc.store)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d records to %s/%s\n", count, svc.archive.Dir(), name)
			return nil
		},
	}
}
