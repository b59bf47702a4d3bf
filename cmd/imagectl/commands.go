package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/config"
)

// NewIngestCommand creates the ingest command
func NewIngestCommand() *cobra.Command {
	var title, description, owner, contentType string
	var tags []string
	var async bool

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Ingest an image file",
		Long:  `Store the original, generate every configured rendition and print the resulting record.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if contentType == "" {
				contentType = http.DetectContentType(data)
			}

			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				image, err := rt.Service.Ingest(ctx, simpleimage.IngestRequest{
					Data:        data,
					ContentType: contentType,
					Title:       title,
					Description: description,
					Tags:        tags,
					UploadedBy:  owner,
					Async:       async,
				})
				if image != nil {
					if perr := printJSON(cmd.OutOrStdout(), image); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "image title")
	cmd.Flags().StringVar(&description, "description", "", "image description")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma separated tags")
	cmd.Flags().StringVar(&owner, "owner", "imagectl", "uploader identity")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type (detected when empty)")
	cmd.Flags().BoolVar(&async, "async", false, "return once the record exists")

	return cmd
}

// NewGetCommand creates the get command
func NewGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <image-id>",
		Short: "Show an image record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := simpleimage.ParseImageID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				image, err := rt.Service.GetImage(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), image)
			})
		},
	}
}

// NewStatusCommand creates the status command
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <image-id>",
		Short: "Print the processing status of an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := simpleimage.ParseImageID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				status, err := rt.Service.GetStatus(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

// NewURLCommand creates the url command
func NewURLCommand() *cobra.Command {
	var size int
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "url <image-id>",
		Short: "Resolve a URL for the original or a rendition",
		Long: `Without --size a signed URL for the original is printed, valid for --ttl.
With --size the public URL of that rendition is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := simpleimage.ParseImageID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				resolved, err := rt.Service.ResolveURL(ctx, simpleimage.URLRequest{ImageID: id, Size: size, TTL: ttl})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), resolved)
			})
		},
	}

	cmd.Flags().IntVar(&size, "size", 0, "rendition size, 0 for the original")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "signed URL lifetime, 0 for the default")

	return cmd
}

// NewSearchCommand creates the search command
func NewSearchCommand() *cobra.Command {
	var req simpleimage.SearchRequest
	var sortBy, owner string
	var statuses []string

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search completed images, or list an owner's images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SortBy = simpleimage.SortField(sortBy)
			for _, s := range statuses {
				req.Statuses = append(req.Statuses, simpleimage.ImageStatus(strings.ToUpper(s)))
			}

			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				var page *simpleimage.Page
				var err error
				if owner != "" {
					page, err = rt.Service.ListOwnedImages(ctx, owner, req)
				} else {
					page, err = rt.Service.SearchImages(ctx, req)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), page)
			})
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "title substring")
	cmd.Flags().StringVar(&req.ContentType, "content-type", "", "exact content type")
	cmd.Flags().StringVar(&req.Tag, "tag", "", "tag")
	cmd.Flags().StringVar(&sortBy, "sort-by", "", "created_at, updated_at, title or file_size_bytes")
	cmd.Flags().BoolVar(&req.SortDesc, "desc", false, "sort descending")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&req.Offset, "offset", 0, "page offset")
	cmd.Flags().StringVar(&owner, "owner", "", "list this uploader's images in any status")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter for --owner")

	return cmd
}

// NewStatsCommand creates the stats command
func NewStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print size statistics over completed images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				stats, err := rt.Service.Statistics(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), stats)
			})
		},
	}
}

// NewDeleteCommand creates the delete command
func NewDeleteCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <image-id>...",
		Short: "Delete images with their originals and renditions",
		Long: `Delete images in one batch. The report lists every image whose objects
could not all be removed; rerunning the command retries them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uuid.UUID, 0, len(args))
			for _, arg := range args {
				id, err := simpleimage.ParseImageID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				report, err := rt.Service.DeleteImages(ctx, ids, simpleimage.DeleteOptions{Force: force})
				var partial *simpleimage.PartialFailureError
				if err != nil && !errors.As(err, &partial) {
					return err
				}
				if perr := printJSON(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "also delete images still processing")

	return cmd
}

// NewVersionsCommand creates the versions command
func NewVersionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <image-id>",
		Short: "List stored versions of an original",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := simpleimage.ParseImageID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				versions, err := rt.Service.ListVersions(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), versions)
			})
		},
	}
}

// NewRestoreCommand creates the restore command
func NewRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <image-id> <version-id>",
		Short: "Restore an earlier version of an original and regenerate renditions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := simpleimage.ParseImageID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *config.Runtime) error {
				image, err := rt.Service.RestoreVersion(ctx, id, args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), image)
			})
		},
	}
}

// NewEnvCommand creates the env command
func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Describe the environment variables read by the service",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			config.Usage(cmd.OutOrStdout())
		},
	}
}
