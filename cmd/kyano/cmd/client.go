package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/app"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/config"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/conn"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/transport"
	"github.com/snldzo7/kyano-dashboard-project-sub001/internal/wire"
)

// clientFlags are shared by every client command.
type clientFlags struct {
	url         string
	transport   string
	codec       string
	mode        string
	openTimeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "server URL (default: client.url)")
	cmd.Flags().StringVar(&f.transport, "transport", "", "transport: ws, nats, stdio, inproc (default: client.transport)")
	cmd.Flags().StringVar(&f.codec, "codec", "", "frame codec: json or proto (default: client.codec)")
	cmd.Flags().DurationVar(&f.openTimeout, "open-timeout", 10*time.Second, "how long to wait for the link to open")
}

var (
	clientOpts clientFlags

	emitCount    int
	emitInterval time.Duration
	sendTimeout  time.Duration
)

func registerMode(cmd *cobra.Command) {
	cmd.Flags().StringVar(&clientOpts.mode, "mode", "", "delivery mode: ordered, drop or latest (default: wire.mode)")
}

var emitCmd = &cobra.Command{
	Use:   "emit <wire> [json]",
	Short: "Emit a value on a stream wire",
	Long: `Emit a value on a stream wire. The value is parsed as JSON; anything that
is not valid JSON is sent as a string.

Example:
  kyano emit mouse '{"x":100,"y":200}'
  kyano emit temp 21.5 --count 10 --interval 100ms`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runEmit,
}

var sendCmd = &cobra.Command{
	Use:   "send <wire> [json]",
	Short: "Send a request on a discrete wire and print the reply",
	Long: `Send a request on a discrete wire and print the reply as JSON.

Example:
  kyano send clock
  kyano send calc '{"a":6,"b":7}' --timeout 2s`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

var signalCmd = &cobra.Command{
	Use:   "signal <wire> <json>",
	Short: "Set the value of a signal wire",
	Args:  cobra.ExactArgs(2),
	RunE:  runSignal,
}

var watchCmd = &cobra.Command{
	Use:   "watch <wire>",
	Short: "Print every value of a signal wire",
	Long: `Print the current value of a signal wire and every later update, one
JSON document per line, until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var listenCmd = &cobra.Command{
	Use:   "listen <wire>...",
	Short: "Print emissions on stream wires",
	Long: `Print emissions on one or more stream wires, one JSON document per line,
until interrupted. Sequence gaps are reported when the command exits.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runListen,
}

func init() {
	for _, c := range []*cobra.Command{emitCmd, sendCmd, signalCmd, watchCmd, listenCmd} {
		clientOpts.register(c)
	}
	emitCmd.Flags().IntVar(&emitCount, "count", 1, "number of emissions")
	emitCmd.Flags().DurationVar(&emitInterval, "interval", 0, "pause between emissions")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 0, "reply timeout (default: wire.timeout_ms)")
	registerMode(watchCmd)
	registerMode(listenCmd)
}

// dial loads the configuration and opens a client connection.
func dial(ctx context.Context, f clientFlags) (*conn.Connection, io.Closer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logFile := setupLogging(cfg)

	application, err := app.New(cfg, version)
	if err != nil {
		logFile.Close()
		return nil, nil, err
	}
	call := config.Options{Transport: f.transport, Codec: f.codec}
	if f.mode != "" {
		mode, err := wire.ParseMode(f.mode)
		if err != nil {
			logFile.Close()
			return nil, nil, err
		}
		call.Mode = &mode
	}
	c, err := application.Dial(ctx, f.url, call)
	if err != nil {
		logFile.Close()
		return nil, nil, err
	}

	openCtx, cancel := context.WithTimeout(ctx, f.openTimeout)
	defer cancel()
	if err := waitOpen(openCtx, c.Transport()); err != nil {
		c.Close()
		logFile.Close()
		return nil, nil, err
	}
	return c, logFile, nil
}

// waitOpen blocks until a stateful transport reports StateOpen.
func waitOpen(ctx context.Context, tr transport.Transport) error {
	st, ok := tr.(transport.Stateful)
	if !ok {
		return nil
	}
	opened := make(chan struct{}, 1)
	st.OnStateChange(func(_, to transport.State) {
		if to == transport.StateOpen {
			select {
			case opened <- struct{}{}:
			default:
			}
		}
	})
	if st.State() == transport.StateOpen {
		return nil
	}
	select {
	case <-opened:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s link did not open: %w", tr.Info().Name, ctx.Err())
	}
}

// flush waits for published traffic to leave the process when the
// transport supports it.
func flush(tr transport.Transport) {
	if f, ok := tr.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			log.Warn().Err(err).Msg("flush failed")
		}
	}
}

// parsePayload decodes a JSON argument. Text that is not JSON is taken as
// a string; no argument means nil.
func parsePayload(args []string) any {
	if len(args) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(args[0]), &v); err != nil {
		return args[0]
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runEmit(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	c, logFile, err := dial(ctx, clientOpts)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer c.Close()

	s, err := c.Stream(wire.ID(args[0]))
	if err != nil {
		return err
	}
	data := parsePayload(args[1:])
	for i := 0; i < emitCount; i++ {
		if i > 0 && emitInterval > 0 {
			select {
			case <-time.After(emitInterval):
			case <-ctx.Done():
				return nil
			}
		}
		s.Emit(data)
	}
	flush(c.Transport())
	log.Debug().Str("wire", args[0]).Int("count", emitCount).Msg("emitted")
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	c, logFile, err := dial(ctx, clientOpts)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer c.Close()

	var call []config.Options
	if sendTimeout > 0 {
		call = append(call, config.Options{Timeout: sendTimeout})
	}
	d, err := c.Discrete(wire.ID(args[0]), call...)
	if err != nil {
		return err
	}
	reply, err := d.Request(ctx, parsePayload(args[1:]))
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", args[0], err)
	}
	return printJSON(cmd.OutOrStdout(), reply)
}

func runSignal(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	c, logFile, err := dial(ctx, clientOpts)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer c.Close()

	s, err := c.Signal(wire.ID(args[0]), nil)
	if err != nil {
		return err
	}
	s.Signal(parsePayload(args[1:]))
	flush(c.Transport())
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	c, logFile, err := dial(ctx, clientOpts)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer c.Close()

	s, err := c.Signal(wire.ID(args[0]), nil)
	if err != nil {
		return err
	}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-watchCtx.Done():
		}
	}()

	out := cmd.OutOrStdout()
	for v := range s.Chan(watchCtx) {
		if err := printJSON(out, v); err != nil {
			log.Warn().Err(err).Msg("failed to print value")
		}
	}
	return nil
}

func runListen(cmd *cobra.Command, args []string) error {
	ctx, stop := interruptContext()
	defer stop()

	c, logFile, err := dial(ctx, clientOpts)
	if err != nil {
		return err
	}
	defer logFile.Close()
	defer c.Close()

	listenCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.Done():
			cancel()
		case <-listenCtx.Done():
		}
	}()

	type line struct {
		Wire     wire.ID `json:"wire"`
		Sequence int64   `json:"sequence"`
		Data     any     `json:"data"`
	}
	lines := make(chan line)
	var wg sync.WaitGroup
	for _, name := range args {
		id := wire.ID(name)
		s, err := c.Stream(id)
		if err != nil {
			return err
		}
		ch := s.Chan(listenCtx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range ch {
				select {
				case lines <- line{Wire: id, Sequence: e.Seq, Data: e.Data}:
				case <-listenCtx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(lines)
	}()

	out := cmd.OutOrStdout()
	for l := range lines {
		if err := printJSON(out, l); err != nil {
			log.Warn().Err(err).Msg("failed to print emission")
		}
	}

	for _, name := range args {
		stats := c.GapStats(wire.ID(name))
		if stats.Gaps > 0 {
			log.Warn().
				Str("wire", name).
				Int64("gaps", stats.Gaps).
				Int64("missed", stats.Missed).
				Msg("sequence gaps detected")
		}
	}
	return nil
}
