package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/geoanchor/warptile"
	"github.com/geoanchor/warptile/gcp"
	"github.com/geoanchor/warptile/pyramid"
	"github.com/geoanchor/warptile/raster"
	"github.com/geoanchor/warptile/store"
)

var (
	verbose   bool
	imagePath string
	pointPath string
	outDir    string
	zoomSpec  string
	tileSize  int
	kernel    string
	workers   int
	outFile   string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "warptile",
	Short: "georeference scanned maps and slice them into web map tiles",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg = zap.NewDevelopmentConfig()
		}
		var err error
		if logger, err = cfg.Build(); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "warp an image through its control points and publish a tile pyramid",
	RunE: func(cmd *cobra.Command, args []string) error {
		zMin, zMax, err := parseZoomSpec(viper.GetString("zoom"))
		if err != nil {
			return err
		}
		k, err := parseKernel(viper.GetString("kernel"))
		if err != nil {
			return err
		}

		pointsData, err := os.ReadFile(pointPath)
		if err != nil {
			return fmt.Errorf("read points %s: %w", pointPath, err)
		}
		points, err := gcp.ParsePayload(pointsData)
		if err != nil {
			return err
		}

		img, err := os.Open(imagePath)
		if err != nil {
			return fmt.Errorf("open image %s: %w", imagePath, err)
		}
		defer img.Close()

		st, err := store.New(afero.NewOsFs(), outDir, store.TileSize(viper.GetInt("tile-size")))
		if err != nil {
			return err
		}
		opts := []warptile.Option{
			warptile.Logger(logger),
			warptile.ZoomRange(zMin, zMax),
			warptile.TileSize(viper.GetInt("tile-size")),
			warptile.Kernel(k),
		}
		if n := viper.GetInt("workers"); n > 0 {
			opts = append(opts, warptile.Workers(n))
		}
		pipeline, err := warptile.New(st, opts...)
		if err != nil {
			return err
		}

		res, err := pipeline.Run(cmd.Context(), img, points)
		if err != nil {
			logger.Error("pipeline failed",
				zap.String("class", warptile.Classify(err).String()), zap.Error(err))
			return err
		}
		fmt.Println(res.ID)
		return nil
	},
}

var tileCmd = &cobra.Command{
	Use:   "tile <dir> <id> <zoom> <col> <row>",
	Short: "read one tile by its north-up address, placeholder when absent",
	Args:  cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		z, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("zoom %q: %w", args[2], err)
		}
		col, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("col %q: %w", args[3], err)
		}
		row, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("row %q: %w", args[4], err)
		}

		st, err := store.New(afero.NewOsFs(), args[0], store.TileSize(viper.GetInt("tile-size")))
		if err != nil {
			return err
		}
		data, err := st.ReadTile(args[1], pyramid.Address{Z: z, Col: col, Row: row})
		if err != nil {
			return err
		}
		if outFile == "" || outFile == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		return os.WriteFile(outFile, data, 0o644)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "print the decoded band layout of an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open %s: %w", args[0], err)
		}
		defer f.Close()
		ras, err := raster.Decode(f)
		if err != nil {
			return err
		}
		fmt.Printf("%dx%d %d band(s) layout=%s", ras.Width, ras.Height, ras.Bands, ras.Layout())
		if ras.Palette != nil {
			fmt.Printf(" palette=%d", len(ras.Palette))
		}
		fmt.Println()
		return nil
	},
}

func parseZoomSpec(spec string) (int, int, error) {
	lo, hi, found := strings.Cut(spec, "-")
	if !found {
		z, err := strconv.Atoi(spec)
		if err != nil {
			return 0, 0, fmt.Errorf("zoom %q: expected z or zmin-zmax", spec)
		}
		return z, z, nil
	}
	zMin, err := strconv.Atoi(lo)
	if err != nil {
		return 0, 0, fmt.Errorf("zoom %q: %w", spec, err)
	}
	zMax, err := strconv.Atoi(hi)
	if err != nil {
		return 0, 0, fmt.Errorf("zoom %q: %w", spec, err)
	}
	return zMin, zMax, nil
}

func parseKernel(name string) (raster.Kernel, error) {
	switch name {
	case "bilinear", "":
		return raster.KernelBilinear, nil
	case "nearest":
		return raster.KernelNearest, nil
	}
	return 0, fmt.Errorf("unknown kernel %q (bilinear or nearest)", name)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().IntVar(&tileSize, "tile-size", 256, "tile edge length in pixels")
	rootCmd.AddCommand(generateCmd, tileCmd, inspectCmd)

	generateCmd.Flags().StringVarP(&imagePath, "image", "i", "", "source image file")
	_ = generateCmd.MarkFlagRequired("image")
	generateCmd.Flags().StringVarP(&pointPath, "points", "p", "", "control points json file")
	_ = generateCmd.MarkFlagRequired("points")
	generateCmd.Flags().StringVarP(&outDir, "out", "o", "tiles", "tile output directory")
	generateCmd.Flags().StringVar(&zoomSpec, "zoom", "9-16", "zoom range, e.g. 9-16")
	generateCmd.Flags().StringVar(&kernel, "kernel", "bilinear", "resampling kernel (bilinear, nearest)")
	generateCmd.Flags().IntVar(&workers, "workers", 0, "worker goroutines (0 = NumCPU)")

	tileCmd.Flags().StringVarP(&outFile, "out", "o", "-", "output file, - for stdout")

	viper.SetEnvPrefix("warptile")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	_ = viper.BindPFlag("zoom", generateCmd.Flags().Lookup("zoom"))
	_ = viper.BindPFlag("kernel", generateCmd.Flags().Lookup("kernel"))
	_ = viper.BindPFlag("workers", generateCmd.Flags().Lookup("workers"))
	_ = viper.BindPFlag("tile-size", rootCmd.PersistentFlags().Lookup("tile-size"))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
