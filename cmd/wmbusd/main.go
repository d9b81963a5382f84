package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"gitlab.com/d21d3q/wmbusd/internal/config"
	"gitlab.com/d21d3q/wmbusd/internal/dispatch"
	"gitlab.com/d21d3q/wmbusd/internal/meter"
	"gitlab.com/d21d3q/wmbusd/internal/sink"
	"gitlab.com/d21d3q/wmbusd/pkg/wmbusd"
)

var rootCmd = &cobra.Command{
	Use:   "wmbusd",
	Short: "Decode and route Wireless M-Bus telegrams",
	Long:  "wmbusd decodes Wireless M-Bus telegrams and routes readings from configured meters to output sinks.",
}

var (
	keyHex     string
	configPath string
	inputPath  string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [hex]",
	Short: "Decode a single telegram, or run an interactive loop",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := wmbusd.AnalyzeOptions{KeyHex: keyHex}
		ctx := cmd.Context()
		if len(args) == 0 {
			return runInteractive(ctx, opts)
		}
		return runAnalyze(ctx, opts, args[0])
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Route telegrams from stdin or a file to configured meters",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runListen(cmd.Context())
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <hex1> <hex2>",
	Short: "Compare two telegrams field by field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompare(cmd.Context(), args[0], args[1])
	},
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Scan telegrams and report the meters seen on air",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDiscover(cmd.Context())
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded 16-byte AES key (32 hex chars)")
	compareCmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded 16-byte AES key (32 hex chars)")
	listenCmd.Flags().StringVar(&configPath, "config", "wmbusd.yaml", "configuration file")
	listenCmd.Flags().StringVar(&inputPath, "input", "", "hex telegram file, one per line (default stdin)")
	discoverCmd.Flags().StringVar(&inputPath, "input", "", "hex telegram file, one per line (default stdin)")
	rootCmd.AddCommand(analyzeCmd, listenCmd, compareCmd, discoverCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func runInteractive(ctx context.Context, opts wmbusd.AnalyzeOptions) error {
	scanner := bufio.NewScanner(os.Stdin)
	logrus.Info("wmbusd analyze mode. Paste a hex telegram and press Enter (Ctrl+D to exit).")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runAnalyze(ctx, opts, line); err != nil {
			logrus.WithError(err).Error("failed to decode telegram")
		}
	}
	return scanner.Err()
}

func runAnalyze(ctx context.Context, opts wmbusd.AnalyzeOptions, hexStr string) error {
	result, err := wmbusd.AnalyzeHexWithOptions(ctx, hexStr, opts)
	if err != nil {
		return err
	}
	fmt.Println(result.String())
	if result.Reading == nil && len(result.Candidates) > 0 {
		for _, c := range result.Candidates {
			logrus.WithField("driver", c.Driver).WithField("exact", c.Exact).Info("candidate")
		}
	}
	return nil
}

func runCompare(ctx context.Context, firstHex, secondHex string) error {
	cmp, err := wmbusd.CompareHex(ctx, firstHex, secondHex, wmbusd.AnalyzeOptions{KeyHex: keyHex})
	if err != nil {
		return err
	}
	blob, err := json.MarshalIndent(cmp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(blob))
	return nil
}

func runDiscover(ctx context.Context) error {
	d := dispatch.New(nil)
	disc := d.EnableDiscovery()

	in := io.Reader(os.Stdin)
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := decodeHexLine(line)
		if err != nil {
			logrus.WithError(err).Warn("skipping invalid hex line")
			continue
		}
		// Every telegram is unmatched here; other errors mean the
		// header itself was unusable.
		if _, _, err := d.ProcessTelegram(ctx, raw); err != nil && !errors.Is(err, dispatch.ErrUnknownMeter) {
			logrus.WithError(err).Warn("telegram dropped")
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	blob, err := json.MarshalIndent(disc.Meters(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(blob))

	suggested := disc.Suggested()
	if len(suggested) == 0 {
		return nil
	}
	meters := make([]config.Meter, 0, len(suggested))
	for _, id := range suggested {
		meters = append(meters, config.Meter{Name: id.Name, ID: id.ID, Driver: id.Driver})
	}
	out, err := yaml.Marshal(map[string]any{"meters": meters})
	if err != nil {
		return err
	}
	fmt.Printf("# suggested configuration\n%s", out)
	return nil
}

func runListen(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	d := dispatch.New(nil)
	for _, mc := range cfg.Meters {
		identity := meter.Identity{Name: mc.Name, ID: mc.ID, Driver: mc.Driver}
		if mc.Key != "" {
			if identity.Key, err = config.ParseKeyHex(mc.Key); err != nil {
				return fmt.Errorf("meter %q: %w", mc.Name, err)
			}
		}
		if _, err := d.AddMeter(identity); err != nil {
			return err
		}
	}
	logrus.WithField("meters", len(cfg.Meters)).Info("dispatcher ready")

	sinks, err := buildSinks(cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	in := io.Reader(os.Stdin)
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		raw, err := decodeHexLine(line)
		if err != nil {
			logrus.WithError(err).Warn("skipping invalid hex line")
			continue
		}
		if cfg.LogTelegrams {
			logrus.WithField("telegram", line).Info("telegram received")
		}
		m, reading, err := d.ProcessTelegram(ctx, raw)
		if err != nil {
			logrus.WithError(err).Warn("telegram dropped")
			continue
		}
		if err := sinks.Publish(ctx, m.Identity(), reading); err != nil {
			logrus.WithError(err).Error("sink publish failed")
		}
	}
	return scanner.Err()
}

func buildSinks(cfg *config.Config) (sink.Fanout, error) {
	renderer := sink.Renderer{
		Format:    cfg.Format,
		Fields:    cfg.Fields,
		Separator: cfg.Separator,
	}
	sinks := sink.Fanout{sink.NewWriterSink(os.Stdout, renderer)}
	if mf := cfg.MeterFiles; mf != nil {
		fs, err := sink.NewFileSink(mf.Dir, mf.Action == "append", mf.Naming, mf.Timestamp, renderer)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fs)
	}
	if cfg.Shell != "" {
		sinks = append(sinks, sink.NewShellSink(cfg.Shell))
	}
	if mq := cfg.MQTT; mq != nil {
		ms, err := sink.NewMQTTSink(sink.MQTTOptions{
			Broker:   mq.Broker,
			ClientID: mq.ClientID,
			Username: mq.Username,
			Password: mq.Password,
			Prefix:   mq.Prefix,
			QoS:      mq.QoS,
			Retain:   mq.Retain,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ms)
	}
	return sinks, nil
}

func decodeHexLine(line string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '|', '_':
			return -1
		}
		return r
	}, line)
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("odd hex digit count")
	}
	return hex.DecodeString(clean)
}
