package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tendant/simple-resize-pipeline/internal/logging"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
	"github.com/tendant/simple-resize-pipeline/internal/storage"
	"github.com/tendant/simple-resize-pipeline/internal/template"
	"github.com/tendant/simple-resize-pipeline/internal/upload"
	"github.com/tendant/simple-resize-pipeline/pkg/pipeline"
	"golang.org/x/sync/errgroup"
)

// DefaultNameTemplate names written variants after the source file and the variant size.
const DefaultNameTemplate = ":name-:width-:height-q:quality"

// paramName is the source file name without extension
const paramName = "name"

// CLI flags
var (
	sizeFlags       []string
	diffFlag        float64
	formatFlag      string
	outFlag         string
	nameFlag        string
	uploadURLFlag   string
	overwriteFlag   bool
	concurrencyFlag int
	timeoutFlag     time.Duration
	logLevelFlag    string
)

var rootCmd = &cobra.Command{
	Use:   "resize-cli [flags] <image>...",
	Short: "Resize images into size variants",
	Long: `resize-cli decodes every image once and writes one variant per --size.
A size is "${width}x${height}q${quality}" with either axis optional. Sizes that
would shrink the image by less than --diff are skipped.

Examples:
  resize-cli --size 800xq80 --size 200x200q70 photo.jpg
  resize-cli -s 1200xq85 --format image/png --out ./thumbs *.png
  resize-cli -s 400xq80 --upload-url "https://bucket.example.com/img/:width/:height" photo.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMain,
}

func init() {
	rootCmd.Flags().StringArrayVarP(&sizeFlags, "size", "s", nil, `Variant size "${width}x${height}q${quality}" (repeatable)`)
	rootCmd.Flags().Float64Var(&diffFlag, "diff", pipeline.DefaultMinDifference, "Minimum fractional shrink worth producing")
	rootCmd.Flags().StringVarP(&formatFlag, "format", "f", pipeline.ContentTypeJPEG, "Output content type (image/jpeg or image/png)")
	rootCmd.Flags().StringVarP(&outFlag, "out", "o", ".", "Output directory")
	rootCmd.Flags().StringVar(&nameFlag, "name", DefaultNameTemplate, "Output file name template (:name, :width, :height, :quality)")
	rootCmd.Flags().StringVar(&uploadURLFlag, "upload-url", "", "Also upload every variant to this URL template (http(s):// or s3://)")
	rootCmd.Flags().BoolVar(&overwriteFlag, "overwrite", false, "Replace existing output files")
	rootCmd.Flags().IntVarP(&concurrencyFlag, "concurrency", "c", 3, "Images resized at the same time")
	rootCmd.Flags().DurationVar(&timeoutFlag, "timeout", 30*time.Second, "Timeout per upload")
	rootCmd.Flags().StringVar(&logLevelFlag, "log-level", "warn", "Log level (debug, info, warn, error)")
	_ = rootCmd.MarkFlagRequired("size")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runMain is the main execution logic called by Cobra.
func runMain(cmd *cobra.Command, args []string) error {
	logging.Init(logLevelFlag, "console")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if uploadURLFlag != "" && len(args) > 1 {
		return errors.New("--upload-url takes a single image")
	}

	job, err := newJob(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	results := make([][]fileResult, len(args))
	for i, path := range args {
		g.Go(func() error {
			r, err := job.resizeFile(ctx, path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			results[i] = r
			return nil
		})
	}
	err = g.Wait()

	out := cmd.OutOrStdout()
	for _, rs := range results {
		for _, r := range rs {
			fmt.Fprintln(out, r)
		}
	}
	return err
}

// job is one CLI invocation: the parsed flags and the shared resize gate.
type job struct {
	specs         []pipeline.SizeSpec
	codec         *resize.ImagingCodec
	minDifference float64
	resizer       *resize.Resizer
	out           *storage.FilesystemStorage
	nameTemplate  string
	overwrite     bool
	uploadURL     string
	dispatcher    *upload.Dispatcher
}

func newJob(ctx context.Context) (*job, error) {
	specs, err := resize.ParseSizes("flags", "size", sizeFlags)
	if err != nil {
		return nil, err
	}
	codec, err := resize.OutputCodec("flags", "format", formatFlag)
	if err != nil {
		return nil, err
	}
	if concurrencyFlag < 1 {
		return nil, fmt.Errorf("--concurrency must be at least 1, got %d", concurrencyFlag)
	}
	out, err := storage.NewFilesystemStorage(outFlag)
	if err != nil {
		return nil, err
	}

	j := &job{
		specs:         specs,
		codec:         codec,
		minDifference: diffFlag,
		resizer:       resize.NewResizer(resize.NewGate(concurrencyFlag)),
		out:           out,
		nameTemplate:  nameFlag,
		overwrite:     overwriteFlag,
		uploadURL:     uploadURLFlag,
	}

	if uploadURLFlag != "" {
		transport := upload.NewSchemeRouter().Handle(upload.NewHTTPTransport(timeoutFlag), "http", "https")
		if strings.HasPrefix(uploadURLFlag, "s3://") {
			s3Transport, err := upload.NewS3TransportFromEnv(ctx)
			if err != nil {
				return nil, err
			}
			transport.Handle(s3Transport, "s3")
		}
		j.dispatcher = upload.NewDispatcher(transport, upload.WithTimeout(timeoutFlag))
	}
	return j, nil
}

// fileResult is one written variant.
type fileResult struct {
	source string
	key    string
	result pipeline.ResizeResult
}

func (r fileResult) String() string {
	return fmt.Sprintf("%s\t%dx%d q%d\t%d bytes\t%s", r.source, r.result.Width, r.result.Height, r.result.Quality, r.result.Size, r.key)
}

// resizeFile writes every produced variant of path and uploads them when
// an upload template is set. Sizes not worth producing are left out.
func (j *job) resizeFile(ctx context.Context, path string) ([]fileResult, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	batch, err := j.resizer.Open(ctx, j.codec, data, j.specs, j.minDifference)
	if err != nil {
		return nil, err
	}
	defer batch.Close()

	if n := batch.Skipped(); n > 0 {
		log.Info().Str("source", path).Int("skipped", n).Msg("Sizes not worth producing")
	}

	var produced []resize.Outcome
	for outcome, err := range batch.Outcomes() {
		if err != nil {
			return nil, err
		}
		produced = append(produced, outcome)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	written := make(map[string]bool)
	var results []fileResult
	for _, outcome := range produced {
		key := j.fileName(stem, outcome)
		if written[key] {
			continue
		}
		written[key] = true

		if _, err := j.out.Put(ctx, key, bytes.NewReader(outcome.Payload), j.overwrite); err != nil {
			return results, err
		}
		log.Debug().Str("source", path).Str("key", key).Int("size", outcome.Size).Msg("Variant written")
		results = append(results, fileResult{source: path, key: key, result: outcome.Result()})
	}

	if j.dispatcher != nil {
		session := j.dispatcher.Start(ctx, stem, j.uploadURL, j.codec.ContentType())
		for _, outcome := range produced {
			session.Submit(outcome)
		}
		if _, err := session.Wait(); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (j *job) fileName(stem string, outcome resize.Outcome) string {
	params := pipeline.UploadParameters(outcome.Width, outcome.Height, outcome.Quality)
	params[paramName] = stem
	name := template.Substitute(j.nameTemplate, params, pipeline.FormatParameter, template.WithLiteralMatch())
	return storage.VariantFileName(name, j.codec.ContentType())
}

func readFile(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
