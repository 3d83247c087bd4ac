package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"musicdiscovery/searchcore/internal/domain"
	"musicdiscovery/searchcore/internal/ranking"
)

func newSearchCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search every configured source and print ranked results",
		Example: `  musicsearch search "Bjork Homogenic" --format FLAC --min-seeders 5
  musicsearch search "Kind of Blue" --json --limit 3`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filters := domain.Filters{
				Format:     lo.Must(cmd.Flags().GetString("format")),
				MinSeeders: lo.Must(cmd.Flags().GetInt("min-seeders")),
			}
			if filters.MinSeeders < 0 {
				return fmt.Errorf("--min-seeders must not be negative")
			}
			limit := lo.Must(cmd.Flags().GetInt("limit"))
			timeout := lo.Must(cmd.Flags().GetDuration("timeout"))

			runtime, err := opts.runtime(cmd)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			response, err := runtime.Searcher.SearchDetailed(ctx, strings.Join(args, " "), filters)
			if err != nil {
				return err
			}
			if limit > 0 && len(response.Items) > limit {
				response.Items = response.Items[:limit]
			}

			out := cmd.OutOrStdout()
			if lo.Must(cmd.Flags().GetBool("json")) {
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(response)
			}
			return writeResultTable(out, response, lo.Must(cmd.Flags().GetBool("magnets")))
		},
	}
	cmd.Flags().StringP("format", "f", "", "Only keep results in this audio format (FLAC, MP3, ...)")
	cmd.Flags().IntP("min-seeders", "s", 0, "Only keep results with at least this many seeders")
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of results to print (0 = all)")
	cmd.Flags().BoolP("json", "j", false, "Print the full response as JSON")
	cmd.Flags().BoolP("magnets", "m", false, "Include magnet locators in table output")
	cmd.Flags().Duration("timeout", 30*time.Second, "Give up on the whole search after this long")
	return cmd
}

func writeResultTable(w io.Writer, response domain.SearchResponse, withMagnets bool) error {
	if len(response.Items) == 0 {
		if response.Healthy == 0 {
			_, err := fmt.Fprintln(w, "No source was available; try again later.")
			return err
		}
		_, err := fmt.Fprintln(w, "No results.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := "#\tSCORE\tFORMAT\tBITRATE\tSEEDERS\tSIZE\tSOURCE\tTITLE"
	if withMagnets {
		header += "\tMAGNET"
	}
	fmt.Fprintln(tw, header)
	for i, item := range response.Items {
		row := strings.Join([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(ranking.QualityScore(item), 'f', 0, 64),
			item.Format().OrElse("-"),
			item.Bitrate().OrElse("-"),
			strconv.Itoa(item.Seeders()),
			formatSize(item.SizeBytes()),
			item.SourceName(),
			item.Title(),
		}, "\t")
		if withMagnets {
			row += "\t" + item.Locator()
		}
		fmt.Fprintln(tw, row)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	skipped := lo.FilterMap(response.Providers, func(status domain.ProviderStatus, _ int) (string, bool) {
		return status.Name, status.Skipped
	})
	if len(skipped) > 0 {
		if _, err := fmt.Fprintf(w, "\nSkipped unavailable sources: %s\n", strings.Join(skipped, ", ")); err != nil {
			return err
		}
	}
	failed := lo.FilterMap(response.Providers, func(status domain.ProviderStatus, _ int) (string, bool) {
		return status.Name, status.Failed
	})
	if len(failed) > 0 {
		_, err := fmt.Fprintf(w, "Sources that failed this time: %s\n", strings.Join(failed, ", "))
		return err
	}
	return nil
}

func formatSize(sizeBytes int64) string {
	if sizeBytes <= 0 {
		return "-"
	}
	const unit = 1024
	if sizeBytes < unit {
		return strconv.FormatInt(sizeBytes, 10) + " B"
	}
	value := float64(sizeBytes)
	suffixes := []string{"KiB", "MiB", "GiB", "TiB"}
	index := -1
	for value >= unit && index < len(suffixes)-1 {
		value /= unit
		index++
	}
	return strconv.FormatFloat(value, 'f', 1, 64) + " " + suffixes[index]
}
