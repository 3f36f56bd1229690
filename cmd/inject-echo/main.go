// Command inject-echo injects one request into a built-in echo handler and
// prints the captured response as JSON.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dqx0.com/go/inject"
)

type flags struct {
	method      string
	url         string
	headers     []string
	data        string
	requestFile string
	stream      bool
	raw         bool
	sim         inject.Simulate
}

func getConsoleWriter(out io.Writer) zerolog.ConsoleWriter {
	writer := zerolog.ConsoleWriter{Out: out}
	writer.TimeFormat = "15:04:05.000"
	writer.PartsOrder = []string{
		zerolog.TimestampFieldName,
		"req",
		zerolog.LevelFieldName,
		zerolog.MessageFieldName,
	}
	return writer
}

func setupLogging(cfg *Config) {
	if cfg.Log.JSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			return eris.ToJSON(err, true)
		}
	} else {
		log.Logger = log.Output(getConsoleWriter(os.Stderr))
		zerolog.ErrorStackMarshaler = func(err error) interface{} {
			return eris.ToString(err, true)
		}
	}
	zerolog.SetGlobalLevel(cfg.LogLevel())
}

func newRootCmd() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "inject-echo",
		Short: "Inject a request into an echo handler and print the response",
		Long: `inject-echo builds a request from flags or from a raw HTTP/1.1 request
file, runs it through an in-process echo handler and prints the captured
status, headers, trailers and body. Defaults come from INJECT_* environment
variables and inject.toml.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, loader := Loader()
			if err := loader.Load(); err != nil {
				return eris.Wrap(err, "failed to load config")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogging(cfg)

			ro, err := f.requestOptions(cmd, cfg)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return run(ctx, cmd.OutOrStdout(), cfg, ro, inject.Options{
				Stream:   f.stream,
				Raw:      f.raw,
				Simulate: f.sim,
			})
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.method, "method", "X", "", "request method (overrides request.method)")
	fl.StringVarP(&f.url, "url", "u", "", "request URL or path (overrides request.url)")
	fl.StringArrayVarP(&f.headers, "header", "H", nil, `request header "Name: value", repeatable`)
	fl.StringVarP(&f.data, "data", "d", "", "request body")
	fl.StringVarP(&f.requestFile, "request", "r", "", `raw HTTP/1.1 request file ("-" for stdin)`)
	fl.BoolVar(&f.stream, "stream", false, "print the body as it is written")
	fl.BoolVar(&f.raw, "raw", false, "keep the body framing undecoded")
	fl.BoolVar(&f.sim.Split, "simulate-split", false, "deliver the request body in two reads")
	fl.BoolVar(&f.sim.Error, "simulate-error", false, "fail request body reads after the payload")
	fl.BoolVar(&f.sim.Close, "simulate-close", false, "cancel the request context once the body is read")
	return cmd
}

func (f *flags) requestOptions(cmd *cobra.Command, cfg *Config) (inject.RequestOptions, error) {
	if f.requestFile != "" {
		var in io.Reader = cmd.InOrStdin()
		if f.requestFile != "-" {
			file, err := os.Open(f.requestFile)
			if err != nil {
				return inject.RequestOptions{}, eris.Wrapf(err, "failed to open %s", f.requestFile)
			}
			defer file.Close()
			in = file
		}
		return inject.ReadRequest(in)
	}

	ro := inject.RequestOptions{
		Method:    cfg.Request.Method,
		URL:       cfg.Request.URL,
		Authority: cfg.Request.Authority,
		Headers:   map[string]string{},
	}
	if cmd.Flags().Changed("method") {
		ro.Method = f.method
	}
	if cmd.Flags().Changed("url") {
		ro.URL = f.url
	}
	for _, h := range f.headers {
		i := strings.IndexByte(h, ':')
		if i <= 0 {
			return inject.RequestOptions{}, eris.Errorf("invalid header %q (want \"Name: value\")", h)
		}
		ro.Headers[strings.TrimSpace(h[:i])] = strings.TrimSpace(h[i+1:])
	}
	if cmd.Flags().Changed("data") {
		ro.Payload = f.data
	}
	return ro, nil
}

func run(ctx context.Context, out io.Writer, cfg *Config, ro inject.RequestOptions, opts inject.Options) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	res, err := inject.Do(ctx, echoHandler(), ro, opts)
	if err != nil {
		return err
	}
	if res.Err != nil {
		log.Error().Err(res.Err).Msg("handler failed")
	}

	if res.Stream != nil {
		defer res.Stream.Close()
		log.Info().Int("status", res.StatusCode).Str("message", res.StatusMessage).Msg("response head")
		if _, err := io.Copy(out, res.Stream); err != nil {
			return eris.Wrap(err, "failed to copy stream")
		}
		fmt.Fprintln(out)
		log.Info().Interface("trailers", res.Stream.Trailers()).Bool("truncated", res.Stream.Truncated()).Msg("response end")
		return nil
	}

	b, err := sonic.ConfigStd.MarshalIndent(res, "", "  ")
	if err != nil {
		return eris.Wrap(err, "failed to encode result")
	}
	_, err = fmt.Fprintln(out, string(b))
	return err
}

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}
