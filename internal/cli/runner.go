package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/stepflow/internal/logging"
	"github.com/aretw0/stepflow/internal/presentation/tui"
	"github.com/aretw0/stepflow/internal/runtime"
	"github.com/aretw0/stepflow/pkg/domain"
	"github.com/aretw0/stepflow/pkg/session"
)

const helpText = `Commands:
  next | <enter>   move to the next step
  back             return to the step you came from
  forward          redo a step you went back from
  jump <step>      go to a step directly
  done             mark the last step done
  submit           send the flow to the backend
  action <name>    run an action of the current step
  quit             leave, the instance can be resumed later
Anything else answers the current step: an option number or value,
key=value pairs for structured steps, or free text.`

// Runner drives one flow instance from a line-oriented terminal.
type Runner struct {
	manager *session.Manager
	in      *bufio.Scanner
	out     io.Writer
	render  func(string) (string, error)
	delay   time.Duration
	logger  *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRenderer sets the markdown renderer. Without one, markdown is printed as is.
func WithRenderer(render func(string) (string, error)) RunnerOption {
	return func(r *Runner) {
		r.render = render
	}
}

// WithAutoAdvanceDelay sets how long a chosen option stays on screen before auto-advancing.
func WithAutoAdvanceDelay(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.delay = d
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner creates a Runner reading commands from in and writing to out.
func NewRunner(mgr *session.Manager, in io.Reader, out io.Writer, opts ...RunnerOption) *Runner {
	r := &Runner{
		manager: mgr,
		in:      bufio.NewScanner(in),
		out:     out,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type view struct {
	state    *domain.State
	step     domain.Step
	path     []string
	complete bool
}

func (r *Runner) view(ctx context.Context, instanceID string) (view, error) {
	var v view
	_, err := r.manager.Do(ctx, instanceID, func(_ context.Context, c *runtime.Controller) error {
		v.state = c.Snapshot()
		v.step = c.CurrentStep()
		v.path = c.Path()
		v.complete = c.IsComplete()
		return nil
	})
	return v, err
}

// Run prompts for the current step until the instance is submitted, the user quits or
// input ends. The last known state is returned.
func (r *Runner) Run(ctx context.Context, instanceID string) (*domain.State, error) {
	shown := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		v, err := r.view(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if v.state.Status == domain.StatusSubmitted {
			printSystemMessage(r.out, "Submitted.")
			if len(v.state.Result) > 0 {
				fmt.Fprintf(r.out, "%s\n", v.state.Result)
			}
			return v.state, nil
		}

		if v.step.ID != shown {
			r.show(v)
			shown = v.step.ID
		}

		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			fmt.Fprintln(r.out)
			if err := r.in.Err(); err != nil {
				return v.state, err
			}
			return v.state, io.EOF
		}
		line := strings.TrimSpace(r.in.Text())

		quit, err := r.handle(ctx, instanceID, v, line)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return v.state, ctxErr
			}
			if session.IsNotFound(err) {
				return v.state, err
			}
			r.report(err)
			shown = ""
		}
		if quit {
			printSystemMessage(r.out, "Instance '%s' saved at step '%s'.", instanceID, v.step.ID)
			return v.state, nil
		}
	}
}

func (r *Runner) show(v view) {
	fmt.Fprintln(r.out, tui.Progress(v.path, v.step.ID, v.state.Visited()))
	md := tui.StepMarkdown(v.step)
	if r.render != nil {
		if out, err := r.render(md); err == nil {
			md = out
		} else {
			r.logger.Debug("markdown render failed", "error", err)
		}
	}
	fmt.Fprintln(r.out, md)
	if v.complete {
		printSystemMessage(r.out, "All steps answered. Type 'submit' to finish.")
	}
}

func (r *Runner) handle(ctx context.Context, id string, v view, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(cmd) {
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(r.out, helpText)
		return false, nil
	case "", "next":
		return false, r.do(ctx, id, (*runtime.Controller).Advance)
	case "back":
		return false, r.do(ctx, id, (*runtime.Controller).Retreat)
	case "forward":
		return false, r.do(ctx, id, (*runtime.Controller).Forward)
	case "done":
		return false, r.do(ctx, id, (*runtime.Controller).MarkDone)
	case "jump":
		if arg == "" {
			return false, errors.New("usage: jump <step>")
		}
		return false, r.do(ctx, id, func(c *runtime.Controller, ctx context.Context) error {
			return c.JumpTo(ctx, arg)
		})
	case "submit":
		_, _, err := r.manager.Submit(ctx, id)
		return false, err
	case "action":
		if arg == "" {
			return false, errors.New("usage: action <name>")
		}
		result, _, err := r.manager.RunAction(ctx, id, arg)
		if err == nil {
			printSystemMessage(r.out, "%s: %s", arg, result)
		}
		return false, err
	}
	return false, r.answer(ctx, id, v.step, line)
}

func (r *Runner) do(ctx context.Context, id string, fn func(*runtime.Controller, context.Context) error) error {
	_, err := r.manager.Do(ctx, id, func(ctx context.Context, c *runtime.Controller) error {
		return fn(c, ctx)
	})
	return err
}

func (r *Runner) answer(ctx context.Context, id string, step domain.Step, line string) error {
	if len(step.Options) > 0 {
		value, ok := matchOption(step.Options, line)
		if !ok {
			return fmt.Errorf("'%s' is not an option of step '%s'", line, step.ID)
		}
		if step.AutoAdvance {
			printSystemMessage(r.out, "%s", value)
			if err := r.wait(ctx); err != nil {
				return err
			}
		}
		return r.do(ctx, id, func(c *runtime.Controller, ctx context.Context) error {
			if err := c.Choose(ctx, step.ID, value); err != nil {
				return err
			}
			if c.CurrentStep().ID != step.ID {
				return nil
			}
			return c.Advance(ctx)
		})
	}

	var value any = line
	if len(step.Fields) > 0 {
		value = parseFields(line)
	}
	return r.do(ctx, id, func(c *runtime.Controller, ctx context.Context) error {
		if err := c.RecordAnswer(step.ID, value); err != nil {
			return err
		}
		return c.Advance(ctx)
	})
}

func (r *Runner) wait(ctx context.Context) error {
	if r.delay <= 0 {
		return nil
	}
	t := time.NewTimer(r.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) report(err error) {
	var vErr *domain.ValidationError
	var rErr *domain.RemoteError
	switch {
	case errors.As(err, &vErr) && len(vErr.Steps) > 0:
		fmt.Fprintf(r.out, "! Still to answer: %s\n", strings.Join(vErr.Steps, ", "))
	case errors.As(err, &vErr):
		fmt.Fprintf(r.out, "! Missing: %s\n", strings.Join(vErr.Fields, ", "))
	case errors.As(err, &rErr):
		fmt.Fprintf(r.out, "! %s\n", rErr.Error())
	default:
		fmt.Fprintf(r.out, "! %v\n", err)
	}
	r.logger.Debug("command rejected", "error", err)
}

// matchOption accepts a 1-based option number or the option value itself.
func matchOption(options []string, input string) (string, bool) {
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(options) {
			return options[n-1], true
		}
		return "", false
	}
	for _, opt := range options {
		if strings.EqualFold(opt, input) {
			return opt, true
		}
	}
	return "", false
}

// parseFields reads "key=value" pairs separated by spaces or commas.
func parseFields(line string) map[string]any {
	out := make(map[string]any)
	tokens := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == ',' })
	for _, tok := range tokens {
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = coerce(v)
	}
	return out
}

func coerce(s string) any {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
