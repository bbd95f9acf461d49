package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"krishi/internal/assistant"
	"krishi/internal/config"
	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/logging"
	"krishi/internal/market"
	"krishi/internal/server"
)

// CLI holds the state shared by every subcommand.
type CLI struct {
	configPath string
	verbose    bool
	noColor    bool

	in  io.Reader
	out io.Writer

	config    config.Config
	container *Container
	printer   *printer
	closed    bool

	// build is replaced in tests.
	build func(config.Config) (*Container, error)
}

// NewRootCommand wires the krishi command tree.
func NewRootCommand() *cobra.Command {
	cli := &CLI{in: os.Stdin, out: os.Stdout, build: buildContainer}
	return cli.rootCommand()
}

func (cli *CLI) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "krishi",
		Version:       version,
		Short:         "Farming assistant: crop advice, diagnosis, mandi prices and weather",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			return cli.initialize()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return cli.shutdown()
		},
	}
	root.PersistentFlags().StringVarP(&cli.configPath, "config", "c", "", "config file (default ./krishi.yaml or $HOME/.krishi/krishi.yaml)")
	root.PersistentFlags().BoolVarP(&cli.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().BoolVar(&cli.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		cli.serveCommand(),
		cli.chatCommand(),
		cli.diagnoseCommand(),
		cli.marketCommand(),
		cli.weatherCommand(),
		cli.locationCommand(),
	)
	return root
}

func (cli *CLI) initialize() error {
	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	cli.config = cfg

	level := cfg.Logging.Level
	if cli.verbose {
		level = "debug"
	}
	logging.Configure(logging.Config{Level: level, Format: cfg.Logging.Format, Output: os.Stderr})

	styled := !cli.noColor && cli.out == os.Stdout && isTTY()
	color.NoColor = !styled
	cli.printer = newPrinter(cli.out, styled)

	container, err := cli.build(cfg)
	if err != nil {
		return err
	}
	cli.container = container
	return nil
}

// shutdown releases the container once. It runs after every successful
// command so the session file reflects what the command changed.
func (cli *CLI) shutdown() error {
	if cli.container == nil || cli.closed {
		return nil
	}
	cli.closed = true
	timeout := cli.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return cli.container.Close(ctx)
}

// signalContext is cancelled by Ctrl-C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func (cli *CLI) serveCommand() *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			srv := server.New(cli.container.ServerConfig(debug), cli.container.ServerDeps())
			runErr := srv.Run(ctx)
			if err := cli.shutdown(); err != nil {
				logging.NewComponentLogger("serve").Warn("shutdown incomplete: %v", err)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "gin debug mode")
	return cmd
}

func (cli *CLI) chatCommand() *cobra.Command {
	var language string
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask the assistant; without a message, read questions from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if len(args) > 0 {
				return cli.sendChat(ctx, strings.Join(args, " "), language)
			}
			return cli.chatLoop(ctx, language)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "reply language (default English)")
	return cmd
}

func (cli *CLI) sendChat(ctx context.Context, message, language string) error {
	reply, err := cli.container.Chat.Send(ctx, assistant.ChatRequest{Message: message, Language: language})
	if err != nil {
		return err
	}
	cli.printer.chatReply(reply)
	return nil
}

// chatLoop answers one question per line. A failed question is reported and
// the loop continues; only cancellation ends it early.
func (cli *CLI) chatLoop(ctx context.Context, language string) error {
	reader, err := newLineReader(cli.in, cli.out, cyan("> "))
	if err != nil {
		return err
	}
	defer reader.Close()

	for {
		line, err := reader.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		message := strings.TrimSpace(line)
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" {
			return nil
		}
		if err := cli.sendChat(ctx, message, language); err != nil {
			if krishierrors.KindOf(err) == krishierrors.KindCancelled || ctx.Err() != nil {
				return err
			}
			cli.printer.failure(err)
		}
	}
}

func (cli *CLI) diagnoseCommand() *cobra.Command {
	var (
		crop     string
		noAdvice bool
	)
	cmd := &cobra.Command{
		Use:   "diagnose <image>",
		Short: "Identify a plant disease from a leaf photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cli.container.Diagnosis == nil {
				return fmt.Errorf("%w: classifier.base_url is not configured", krishierrors.ErrServiceUnavailable)
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("%w: %v", krishierrors.ErrInvalidInput, err)
			}
			defer f.Close()

			result, err := cli.container.Diagnosis.Diagnose(ctx, assistant.DiagnosisRequest{
				Filename:   args[0],
				Image:      f,
				CropName:   crop,
				WithAdvice: !noAdvice,
			})
			if result.Prediction.Label != "" {
				cli.printer.diagnosis(result)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&crop, "crop", "", "crop name, overriding the classifier's guess")
	cmd.Flags().BoolVar(&noAdvice, "no-advice", false, "skip the treatment advice")
	return cmd
}

type locationFlags struct {
	lat, lon float64
	place    string
}

func (l *locationFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&l.lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&l.lon, "lon", 0, "longitude")
	cmd.Flags().StringVar(&l.place, "place", "", "place name to geocode instead of --lat/--lon")
}

func (cli *CLI) resolve(ctx context.Context, cmd *cobra.Command, l locationFlags) (geo.Point, error) {
	if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lon") {
		return geo.Point{Lat: l.lat, Lon: l.lon}, nil
	}
	if strings.TrimSpace(l.place) != "" {
		return cli.container.Geocoder.Forward(ctx, l.place)
	}
	return cli.container.Session.Origin(), nil
}

func (cli *CLI) marketCommand() *cobra.Command {
	var (
		query  market.Query
		sortBy string
		loc    locationFlags
	)
	cmd := &cobra.Command{
		Use:   "market",
		Short: "List mandi prices by price or by distance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			records, err := cli.container.Market.Fetch(ctx, query)
			if err != nil {
				return err
			}
			switch sortBy {
			case "price":
				cli.printer.marketByPrice(market.ByModalPrice(records))
				return nil
			case "distance":
				origin, err := cli.resolve(ctx, cmd, loc)
				if err != nil {
					return err
				}
				ranked := market.ByDistance(ctx, records, origin, cli.container.Geocoder, cli.config.Geocode.LocateLimit)
				cli.printer.marketByDistance(ranked)
				return nil
			}
			return fmt.Errorf("%w: --sort must be price or distance", krishierrors.ErrInvalidInput)
		},
	}
	cmd.Flags().StringVar(&query.State, "state", "", "state filter")
	cmd.Flags().StringVar(&query.District, "district", "", "district filter")
	cmd.Flags().StringVar(&query.Commodity, "commodity", "", "commodity filter")
	cmd.Flags().IntVar(&query.Limit, "limit", 0, "records to fetch")
	cmd.Flags().StringVar(&sortBy, "sort", "price", "price or distance")
	loc.register(cmd)
	return cmd
}

func (cli *CLI) weatherCommand() *cobra.Command {
	var loc locationFlags
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Show current conditions and the forecast",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			origin, err := cli.resolve(ctx, cmd, loc)
			if err != nil {
				return err
			}
			if !origin.Valid() {
				return fmt.Errorf("%w: pass --lat and --lon or --place, or run krishi location set", krishierrors.ErrInvalidInput)
			}
			snapshot, err := cli.container.Weather.Snapshot(ctx, origin)
			if err != nil {
				return err
			}
			cli.printer.weather(snapshot)
			return nil
		},
	}
	loc.register(cmd)
	return cmd
}

func (cli *CLI) locationCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Show the saved location",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			loc, ok := cli.container.Session.Location()
			if !ok {
				fmt.Fprintln(cli.out, gray("No location saved."))
				return nil
			}
			cli.printer.location(loc)
			return nil
		},
	}

	var loc locationFlags
	set := &cobra.Command{
		Use:   "set",
		Short: "Save a location for weather, market and shop lookups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			if !cmd.Flags().Changed("lat") && !cmd.Flags().Changed("lon") && strings.TrimSpace(loc.place) == "" {
				return fmt.Errorf("%w: pass --lat and --lon or --place", krishierrors.ErrInvalidInput)
			}
			point, err := cli.resolve(ctx, cmd, loc)
			if err != nil {
				return err
			}
			if !point.Valid() {
				return fmt.Errorf("%w: coordinates out of range", krishierrors.ErrInvalidInput)
			}
			place := strings.TrimSpace(loc.place)
			if place == "" && cli.container.Geocoder != nil {
				if resolved, err := cli.container.Geocoder.Reverse(ctx, point); err == nil {
					place = resolved.Name()
				} else {
					logging.NewComponentLogger("location").Debug("reverse geocode failed: %v", err)
				}
			}
			cli.printer.location(cli.container.Session.SetLocation(point, place))
			return nil
		},
	}
	loc.register(set)
	cmd.AddCommand(set)
	return cmd
}

// run executes the command tree and returns the process exit code.
func run(ctx context.Context, cmd *cobra.Command, errOut io.Writer) int {
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if errors.Is(err, context.Canceled) {
		return 130
	}
	if krishierrors.KindOf(err) == krishierrors.KindUnknown {
		fmt.Fprintf(errOut, "%s %v\n", red("Error:"), err)
		return 1
	}
	p := &printer{out: errOut}
	p.failure(err)
	return 1
}
