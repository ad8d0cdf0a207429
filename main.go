// tvfeed is the example CLI over the streaming client: one-shot historical
// and batch retrieval, symbol search, and a live event stream, with an
// optional status/metrics HTTP endpoint for dashboards.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tvfeed/batch"
	"tvfeed/bootstrap"
	"tvfeed/client"
	"tvfeed/command"
	"tvfeed/discovery"
	"tvfeed/event"
	"tvfeed/historical"
	"tvfeed/models"
	"tvfeed/transport"
)

var (
	flagServer     string
	flagAuthToken  string
	flagStatusAddr string
	flagVerbose    bool
	flagInterval   string
	flagBars       int
	flagTimeout    time.Duration
	flagExchange   string

	log zerolog.Logger
)

func main() {
	root := &cobra.Command{
		Use:   "tvfeed",
		Short: "TradingView streaming data-feed client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup()
		},
	}
	root.PersistentFlags().StringVar(&flagServer, "server", string(transport.DefaultHost), "streaming host: data|prodata|widgetdata|mobile-data")
	root.PersistentFlags().StringVar(&flagAuthToken, "auth-token", "", "auth token (defaults to TVFEED_AUTH_TOKEN or anonymous)")
	root.PersistentFlags().StringVar(&flagStatusAddr, "status-addr", "", "expose /healthz and /metrics on this address")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	historicalCmd := &cobra.Command{
		Use:   "historical EXCHANGE:SYMBOL",
		Short: "Fetch historical bars for one symbol",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistorical,
	}
	historicalCmd.Flags().StringVar(&flagInterval, "interval", "1D", "bar interval")
	historicalCmd.Flags().IntVar(&flagBars, "bars", models.DefaultBarCount, "bar count")
	historicalCmd.Flags().DurationVar(&flagTimeout, "timeout", historical.DefaultDeadline, "overall deadline")

	batchCmd := &cobra.Command{
		Use:   "batch EXCHANGE:SYMBOL [EXCHANGE:SYMBOL...]",
		Short: "Fetch historical bars for many symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().StringVar(&flagInterval, "interval", "1D", "bar interval")
	batchCmd.Flags().DurationVar(&flagTimeout, "timeout", batch.DefaultDeadline, "overall deadline")

	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search symbols",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().StringVar(&flagExchange, "exchange", "", "restrict to one exchange")

	streamCmd := &cobra.Command{
		Use:   "stream EXCHANGE:SYMBOL",
		Short: "Stream live chart data and quotes until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE:  runStream,
	}
	streamCmd.Flags().StringVar(&flagInterval, "interval", "1", "bar interval")

	root.AddCommand(historicalCmd, batchCmd, searchCmd, streamCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup runs the bootstrap hook chain: env, logger, status server.
func setup() error {
	bootstrap.Clear()
	bootstrap.Register("Env", bootstrap.PriorityInfrastructure, func(*bootstrap.Context) error {
		_ = godotenv.Load()
		return nil
	})
	bootstrap.Register("Logger", bootstrap.PriorityInfrastructure, func(*bootstrap.Context) error {
		level := zerolog.InfoLevel
		if flagVerbose {
			level = zerolog.DebugLevel
		}
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
		return nil
	})
	bootstrap.Register("StatusServer", bootstrap.PriorityBackground, func(*bootstrap.Context) error {
		gin.SetMode(gin.ReleaseMode)
		router := gin.New()
		router.GET("/healthz", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		go func() {
			if err := router.Run(flagStatusAddr); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
		log.Info().Str("addr", flagStatusAddr).Msg("status server listening")
		return nil
	}).When(func(*bootstrap.Context) bool { return flagStatusAddr != "" })

	return bootstrap.Run(bootstrap.NewContext(log))
}

func authToken() string {
	if flagAuthToken != "" {
		return flagAuthToken
	}
	if tok := os.Getenv("TVFEED_AUTH_TOKEN"); tok != "" {
		return tok
	}
	return client.DefaultAuthToken
}

func splitSymbol(arg string) (exchange, symbol string, err error) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected EXCHANGE:SYMBOL, got %q", arg)
	}
	return parts[0], parts[1], nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runHistorical(cmd *cobra.Command, args []string) error {
	exchange, symbol, err := splitSymbol(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	chartOpts := models.NewChartOptions(symbol, exchange, models.Interval(flagInterval))
	chartOpts.BarCount = flagBars

	start := time.Now()
	info, bars, err := historical.Fetch(ctx, authToken(), chartOpts, historical.Options{
		Server:   transport.Host(flagServer),
		Deadline: flagTimeout,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s bars in %s\n", info.ID, humanize.Comma(int64(len(bars))), time.Since(start).Round(time.Millisecond))
	if len(bars) > 0 {
		first := time.Unix(int64(bars[0].Timestamp()), 0).UTC()
		last := time.Unix(int64(bars[len(bars)-1].Timestamp()), 0).UTC()
		fmt.Printf("range: %s .. %s (%s)\n", first.Format("2006-01-02"), last.Format("2006-01-02"), humanize.RelTime(first, last, "", ""))
	}
	for _, b := range bars {
		fmt.Printf("%d,%g,%g,%g,%g,%g\n", int64(b.Timestamp()), b.Open(), b.High(), b.Low(), b.Close(), b.Volume())
	}
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	symbols := make([]batch.Symbol, 0, len(args))
	for _, arg := range args {
		exchange, symbol, err := splitSymbol(arg)
		if err != nil {
			return err
		}
		symbols = append(symbols, batch.Symbol{Symbol: symbol, Exchange: exchange})
	}
	ctx, cancel := signalContext()
	defer cancel()

	start := time.Now()
	results, err := batch.Fetch(ctx, authToken(), symbols, batch.Options{
		Server:   transport.Host(flagServer),
		Interval: models.Interval(flagInterval),
		Deadline: flagTimeout,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	var total int
	for key, r := range results {
		total += len(r.Bars)
		fmt.Printf("%s: %s bars\n", key, humanize.Comma(int64(len(r.Bars))))
	}
	fmt.Printf("total: %s bars across %d symbols in %s\n",
		humanize.Comma(int64(total)), len(results), time.Since(start).Round(time.Millisecond))
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	results, err := discovery.New(log).SearchSymbols(ctx, args[0], flagExchange)
	if err != nil {
		return err
	}
	for _, r := range results {
		fmt.Printf("%s:%s\t%s\t%s\n", r.Exchange, r.Symbol, r.Type, r.Description)
	}
	fmt.Printf("%s matches\n", humanize.Comma(int64(len(results))))
	return nil
}

func runStream(cmd *cobra.Command, args []string) error {
	exchange, symbol, err := splitSymbol(args[0])
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	c, err := client.New(ctx, client.Config{
		Server:    transport.Host(flagServer),
		AuthToken: authToken(),
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	if _, _, err := c.SetMarket(models.NewChartOptions(symbol, exchange, models.Interval(flagInterval))); err != nil {
		return err
	}
	qs, err := c.CreateQuoteSession()
	if err != nil {
		return err
	}
	c.Enqueue(command.Command{Kind: command.KindAddSymbols, Session: qs, Symbols: []string{exchange + ":" + symbol}})

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-c.Events():
			if !ok {
				return nil
			}
			switch e.Kind {
			case event.KindChartData:
				for _, b := range e.Bars {
					fmt.Printf("bar %s t=%d o=%g h=%g l=%g c=%g v=%g\n",
						e.SeriesInfo.Options.Symbol, int64(b.Timestamp()), b.Open(), b.High(), b.Low(), b.Close(), b.Volume())
				}
			case event.KindQuoteData:
				if e.Quote.Price != nil {
					sym := ""
					if e.Quote.Symbol != nil {
						sym = *e.Quote.Symbol
					}
					fmt.Printf("quote %s lp=%g\n", sym, *e.Quote.Price)
				}
			case event.KindSymbolInfo:
				fmt.Printf("symbol %s (%s) %s\n", e.Symbol.ID, e.Symbol.MarketType, e.Symbol.Description)
			case event.KindError:
				log.Warn().Err(e.Err).Str("kind", e.ErrKind.String()).Msg("stream error")
			}
		}
	}
}
