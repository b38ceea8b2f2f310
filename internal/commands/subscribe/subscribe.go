// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package subscribe implements the subscribe and topics commands.
package subscribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/trclient/internal/cli/format"
	"github.com/tombee/trclient/internal/commands/shared"
	"github.com/tombee/trclient/internal/jq"
	"github.com/tombee/trclient/internal/log"
	"github.com/tombee/trclient/internal/metrics"
	"github.com/tombee/trclient/internal/topic"
	trerrors "github.com/tombee/trclient/pkg/errors"
	"github.com/tombee/trclient/pkg/trclient"
)

// payloadBuffer is how many payloads may wait for the printer before the
// read loop blocks.
const payloadBuffer = 64

type options struct {
	creds       shared.CredentialFlags
	once        bool
	count       int
	filter      string
	format      string
	metricsAddr string
}

// NewCommand creates the subscribe command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "subscribe <topic> [args...]",
		Short: "Stream a topic to stdout",
		Long: `Log in, subscribe to a topic and print every payload until interrupted.

Arguments are positional per topic (see 'trclient topics'), or a single JSON
object used as the raw params for any topic. Topics that answer a single
request, such as neonSearch, stop after the first payload.`,
		Example: `  # Live quotes for Apple on Lang & Schwarz
  trclient subscribe ticker US0378331005 LSX

  # Raw params and a jq filter
  trclient subscribe ticker '{"id":"US0378331005.LSX"}' --filter '.bid.price'

  # One portfolio snapshot, metrics on :9090
  trclient subscribe compactPortfolio --once --metrics-addr :9090`,
		Args:        cobra.MinimumNArgs(1),
		Annotations: map[string]string{shared.GroupAnnotation: shared.GroupStreaming},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, opts)
		},
	}

	opts.creds.Register(cmd.Flags())
	cmd.Flags().BoolVar(&opts.once, "once", false, "Stop after the first payload")
	cmd.Flags().IntVar(&opts.count, "count", 0, "Stop after this many payloads (0 = unlimited)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "jq expression applied to each payload")
	cmd.Flags().StringVar(&opts.format, "format", "", "Output format: raw, compact or pretty (default: pretty on a terminal)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default: metrics.addr)")

	return cmd
}

func run(cmd *cobra.Command, args []string, opts options) error {
	out := cmd.OutOrStdout()

	name := args[0]
	params, err := topic.Resolve(name, args[1:])
	if err != nil {
		var nf *trerrors.NotFoundError
		if errors.As(err, &nf) {
			return shared.NewUsageError(fmt.Sprintf("unknown topic %q", name),
				errors.New("run 'trclient topics' or pass params as a JSON object"))
		}
		return err
	}
	if d, err := topic.Lookup(name); err == nil && d.Once {
		opts.once = true
	}
	if opts.count < 0 {
		return shared.NewUsageError("--count must not be negative", nil)
	}

	mode, err := format.ParseMode(opts.format, format.IsTTY(out))
	if err != nil {
		return shared.NewUsageError("invalid --format", err)
	}

	var filter *jq.Filter
	if opts.filter != "" {
		filter, err = jq.Compile(opts.filter, jq.DefaultTimeout, jq.DefaultMaxInputSize)
		if err != nil {
			return shared.NewUsageError("invalid --filter", err)
		}
	}

	rt, err := shared.LoadRuntime(out, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(cmd.Context()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := opts.metricsAddr
	if addr == "" {
		addr = rt.Config.Metrics.Addr
	}
	if addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				rt.Logger.Error("metrics server failed", log.Error(err))
			}
		}()
	}

	c, err := rt.Login(ctx, opts.creds)
	if err != nil {
		return err
	}
	defer c.Close(context.WithoutCancel(ctx))

	done := make(chan struct{})
	defer close(done)
	payloads := make(chan *string, payloadBuffer)
	deliver := func(payload *string) {
		select {
		case payloads <- payload:
		case <-done:
		}
	}

	var id int64
	if opts.once {
		id = c.SubscribeOnce(name, params, deliver)
	} else {
		id = c.Subscribe(name, params, deliver)
	}
	if id == trclient.InvalidID {
		return shared.NewUsageError("subscription rejected", errors.New("params must be a JSON object"))
	}
	defer c.Unsubscribe(id)

	p := printer{out: out, errOut: cmd.ErrOrStderr(), mode: mode, filter: filter}
	limit := opts.count
	if opts.once {
		limit = 1
	}

	received := 0
	for {
		select {
		case <-ctx.Done():
			if !shared.GetQuiet() {
				fmt.Fprintln(cmd.ErrOrStderr(), shared.RenderWarn(fmt.Sprintf("interrupted after %d payloads", received)))
			}
			return nil
		case payload := <-payloads:
			if err := p.print(ctx, payload); err != nil {
				rt.Logger.Warn("failed to print payload", log.Error(err))
			}
			received++
			if limit > 0 && received >= limit {
				return nil
			}
		}
	}
}

type printer struct {
	out    io.Writer
	errOut io.Writer
	mode   format.Mode
	filter *jq.Filter
}

func (p printer) print(ctx context.Context, payload *string) error {
	if p.filter == nil || payload == nil {
		s, err := format.Payload(payload, p.mode)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(p.out, s)
		return err
	}

	values, err := p.filter.Apply(ctx, *payload)
	if err != nil {
		return err
	}
	for _, v := range values {
		s, err := format.Value(v, p.mode)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(p.out, s); err != nil {
			return err
		}
	}
	return nil
}
