package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/faceid/internal/identity"
)

var enrollDirCmd = &cobra.Command{
	Use:   "enroll-dir <directory>",
	Short: "Enroll every image in a directory",
	Long: `Enroll every image (jpg, jpeg, png, gif, bmp, webp) found under a directory.

Images whose face is already enrolled are reported as duplicates, not errors.
With --out, a CSV of path,status,face_id,detail is written for every image.

Examples:
  # Enroll a folder with the default concurrency
  faceidctl enroll-dir ./faces

  # Record the assigned face_ids
  faceidctl enroll-dir ./faces --out enrolled.csv`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollDir,
}

func init() {
	rootCmd.AddCommand(enrollDirCmd)

	enrollDirCmd.Flags().Int("concurrency", 2, "Number of parallel workers")
	enrollDirCmd.Flags().Int("limit", 0, "Limit number of images to process (0 = no limit)")
	enrollDirCmd.Flags().String("out", "", "Write per-image results to this CSV file")
}

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true, ".webp": true,
}

// collectImages returns image files under root in lexical order.
func collectImages(root string, limit int) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if imageExts[strings.ToLower(filepath.Ext(path))] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

type enrollResult struct {
	Path   string
	Status string // enrolled, duplicate, no_face, error
	FaceID string
	Detail string
}

func classify(path, faceID string, err error) enrollResult {
	r := enrollResult{Path: path, FaceID: faceID, Status: "enrolled"}
	if err == nil {
		return r
	}
	r.Detail = describe(err)
	switch identity.Outcome(err) {
	case "duplicate":
		r.Status = "duplicate"
	case "no_face":
		r.Status = "no_face"
	default:
		r.Status = "error"
	}
	return r
}

func writeResults(path string, results []enrollResult) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write([]string{"path", "status", "face_id", "detail"})
	for _, r := range results {
		_ = w.Write([]string{r.Path, r.Status, r.FaceID, r.Detail})
	}
	w.Flush()
	return w.Error()
}

func runEnrollDir(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	limit := mustGetInt(cmd, "limit")
	outPath := mustGetString(cmd, "out")
	if concurrency < 1 {
		concurrency = 1
	}

	paths, err := collectImages(args[0], limit)
	if err != nil {
		return fmt.Errorf("scan %s: %w", args[0], err)
	}
	if len(paths) == 0 {
		fmt.Println("No images found")
		return nil
	}

	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Images to enroll: %d\n\n", len(paths))

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	results := make([]enrollResult, len(paths))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer bar.Add(1)

			image, err := os.ReadFile(path)
			if err != nil {
				results[i] = enrollResult{Path: path, Status: "error", Detail: err.Error()}
				return
			}
			faceID, err := a.Engine.Enroll(ctx, image)
			results[i] = classify(path, faceID, err)
		}(i, path)
	}

	wg.Wait()
	fmt.Println()

	counts := map[string]int{}
	for _, r := range results {
		counts[r.Status]++
	}
	fmt.Printf("\nCompleted: %d enrolled, %d duplicates, %d without a face, %d errors\n",
		counts["enrolled"], counts["duplicate"], counts["no_face"], counts["error"])

	if outPath != "" {
		if err := writeResults(outPath, results); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
		fmt.Printf("Results written to %s\n", outPath)
	}
	return nil
}
