package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fetchrace/internal/config"
	"fetchrace/internal/race"
)

var errExhausted = errors.New("all downloads failed")

func newGetCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Race the sources and save the first artifact that arrives",
		Example: `  fetchrace get --artifact app.tar.gz \
    --source https://mirror-a.example.com/pub \
    --source s3://releases?region=eu-west-1 \
    --retries 3 -o app.tar.gz`,
		Args: cobra.NoArgs,
		PreRunE: bindOnRun(v, map[string]string{
			"artifact":          "artifact",
			"sources":           "source",
			"race.retry_budget": "retries",
			"race.strategy":     "strategy",
			"fetch.timeout":     "timeout",
			"include":           "include",
			"output":            "output",
		}),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGet(cmd, v)
		},
	}
	f := cmd.Flags()
	f.String("artifact", "", "artifact name to fetch from every source")
	f.StringSlice("source", nil, "source URL (repeatable); replaces the sources in --config")
	f.Int("retries", config.DefaultRetryBudget, "retries per source after its first failure")
	f.String("strategy", "", "completion strategy: events or select")
	f.String("timeout", "", "per-fetch timeout, e.g. 30s (0s disables)")
	f.String("include", "", "only race sources matching this glob, e.g. 'https://*'")
	f.StringP("output", "o", "", "where to write the artifact; '-' for stdout (default: artifact base name)")
	return cmd
}

func runGet(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, v)
	if err != nil {
		return err
	}
	defer a.Close(closeWait)

	if a.Settings().Artifact == "" {
		return usageError("no artifact name: set --artifact or artifact in the config")
	}

	res, err := a.Get(ctx, v.GetString("include"))
	if errors.Is(err, config.ErrNoSources) {
		return &exitError{code: ExitInvalidArgs, err: err}
	}
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	fmt.Fprintln(stderr, res.Report.Summary())
	if !res.Outcome.Succeeded() {
		for _, line := range res.Report.Lines() {
			fmt.Fprintln(stderr, "  "+line)
		}
		fmt.Fprintln(stderr, "All downloads failed!")
		return &exitError{code: ExitExhausted, err: errExhausted}
	}

	art := res.Outcome.Artifact
	dest := v.GetString("output")
	if dest == "" {
		dest = path.Base(art.Name)
	}
	if err := writeArtifact(cmd.OutOrStdout(), dest, art); err != nil {
		return err
	}
	if dest != "-" {
		fmt.Fprintf(stderr, "%s downloaded from %s -> %s\n", art.Name, art.Source, dest)
	}
	for _, k := range art.MetaKeys() {
		fmt.Fprintf(stderr, "  %s=%s\n", k, art.Meta[k])
	}
	return nil
}

// writeArtifact writes to dest via a temp file and rename so a partial file
// never carries the final name. "-" writes to stdout.
func writeArtifact(stdout io.Writer, dest string, art race.Artifact) error {
	if dest == "-" {
		_, err := stdout.Write(art.Data)
		return err
	}
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(art.Data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
