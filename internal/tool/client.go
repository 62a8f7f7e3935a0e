package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/kballard/go-shellquote"

	"offsite-go/internal/offsite"
)

// ExitNotTracked is the tool's exit code for a dataset it does not know.
const ExitNotTracked = 3

const (
	// DefaultRetryAttempts is how many times a read-only query runs before giving up.
	DefaultRetryAttempts = 3

	// DefaultRetryDelay is the wait before the first retry. It doubles on each retry.
	DefaultRetryDelay = 500 * time.Millisecond

	maxRetryDelay = 5 * time.Second
)

// Client implements offsite.ToolClient by running the replication binary.
// Read-only queries are retried with backoff; mutations run once.
type Client struct {
	binary        string
	runner        Runner
	logger        offsite.Logger
	clock         clock.Clock
	retryAttempts int
	retryDelay    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets the attempts and initial delay for read-only queries.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.retryAttempts = attempts
		}
		if delay > 0 {
			c.retryDelay = delay
		}
	}
}

// WithClock sets the clock used between retries.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// NewClient creates a Client for binary.
func NewClient(binary string, runner Runner, logger offsite.Logger, opts ...Option) *Client {
	if runner == nil {
		runner = ExecRunner{}
	}
	if logger == nil {
		logger = offsite.NewNopLogger()
	}
	c := &Client{
		binary:        binary,
		runner:        runner,
		logger:        logger,
		clock:         clock.WallClock,
		retryAttempts: DefaultRetryAttempts,
		retryDelay:    DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// exec runs one command and maps a non-zero exit to an error.
func (c *Client) exec(ctx context.Context, op, dataset string, args ...string) ([]byte, error) {
	c.logger.Debug("running replication tool", "command", shellquote.Join(append([]string{c.binary}, args...)...))

	res, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil {
		return nil, fmt.Errorf("running replication tool %s: %w", op, err)
	}

	switch res.ExitCode {
	case 0:
		return res.Stdout, nil
	case ExitNotTracked:
		return nil, fmt.Errorf("%s %s: %w", op, dataset, offsite.ErrNotTracked)
	default:
		return nil, &offsite.ToolError{
			Op:      op,
			Dataset: dataset,
			Code:    res.ExitCode,
			Output:  strings.TrimSpace(string(res.Stderr)),
		}
	}
}

// query runs a read-only command with retries and decodes its JSON output into v.
func (c *Client) query(ctx context.Context, op, dataset string, v any, args ...string) error {
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			lastErr = c.decode(ctx, op, dataset, v, args...)
			return lastErr
		},
		IsFatalError: func(err error) bool {
			return errors.Is(err, offsite.ErrNotTracked) || ctx.Err() != nil
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Warn("replication tool query failed", "op", op, "dataset", dataset, "attempt", attempt, "error", err)
		},
		Attempts:    c.retryAttempts,
		Delay:       c.retryDelay,
		MaxDelay:    maxRetryDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       c.clock,
		Stop:        ctx.Done(),
	})
	switch {
	case err == nil:
		return nil
	case retry.IsAttemptsExceeded(err), retry.IsDurationExceeded(err), retry.IsRetryStopped(err):
		if last := retry.LastError(err); last != nil {
			return last
		}
		return err
	case lastErr != nil:
		// Fatal errors come back traced; hand the caller the tool's own error.
		return lastErr
	default:
		return err
	}
}

// decode runs one read-only command and decodes its JSON output into v.
func (c *Client) decode(ctx context.Context, op, dataset string, v any, args ...string) error {
	out, err := c.exec(ctx, op, dataset, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(out, v); err != nil {
		return fmt.Errorf("decoding %s output: %w", op, err)
	}
	return nil
}

func (c *Client) AddDataset(ctx context.Context, dataset string) error {
	_, err := c.exec(ctx, "add", dataset, "add", dataset)
	return err
}

func (c *Client) AddDatasetToTarget(ctx context.Context, dataset, target string) error {
	_, err := c.exec(ctx, "add", dataset, "add", dataset, "--target", target)
	return err
}

func (c *Client) Mirror(ctx context.Context, dataset string, epoch int64) error {
	_, err := c.exec(ctx, "mirror", dataset, "mirror", offsite.SnapshotName(dataset, epoch))
	return err
}

func (c *Client) RemoteDestroy(ctx context.Context, snapshot string, reason offsite.DestroyReason) error {
	dataset, _, _ := strings.Cut(snapshot, "@")
	_, err := c.exec(ctx, "remote destroy", dataset, "remote", "destroy", snapshot, "--reason", string(reason))
	return err
}

func (c *Client) ListSnapshots(ctx context.Context, dataset string) (*offsite.SnapshotListing, error) {
	var listing offsite.SnapshotListing
	if err := c.query(ctx, "list snapshots", dataset, &listing, "list", "snapshots", dataset, "--json"); err != nil {
		return nil, err
	}
	return &listing, nil
}

func (c *Client) listPoints(ctx context.Context, kind, dataset string) ([]int64, error) {
	points := []int64{}
	if err := c.query(ctx, "list "+kind, dataset, &points, "list", kind, dataset, "--json"); err != nil {
		return nil, err
	}
	return points, nil
}

func (c *Client) GetRemotePoints(ctx context.Context, dataset string) ([]int64, error) {
	return c.listPoints(ctx, "remote", dataset)
}

func (c *Client) GetCriticalPoints(ctx context.Context, dataset string) ([]int64, error) {
	return c.listPoints(ctx, "critical", dataset)
}

func (c *Client) GetRemotePending(ctx context.Context, dataset string) ([]int64, error) {
	return c.listPoints(ctx, "pending", dataset)
}

func (c *Client) GetLocalPoints(ctx context.Context, dataset string) ([]int64, error) {
	return c.listPoints(ctx, "local", dataset)
}

func (c *Client) GetRemoteUsed(ctx context.Context, dataset string) (int64, error) {
	var out struct {
		Used int64 `json:"used"`
	}
	if err := c.query(ctx, "remote used", dataset, &out, "remote", "used", dataset, "--json"); err != nil {
		return 0, err
	}
	return out.Used, nil
}

func (c *Client) GetJobs(ctx context.Context) (map[string]offsite.Job, error) {
	jobs := map[string]offsite.Job{}
	if err := c.query(ctx, "jobs", "", &jobs, "jobs", "--json"); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) GetActions(ctx context.Context) ([]offsite.Action, error) {
	actions := []offsite.Action{}
	if err := c.query(ctx, "actions", "", &actions, "actions", "--json"); err != nil {
		return nil, err
	}
	return actions, nil
}

func (c *Client) setPause(ctx context.Context, verb, axis, dataset string) error {
	args := []string{verb, axis}
	if dataset != "" {
		args = append(args, dataset)
	}
	_, err := c.exec(ctx, verb+" "+axis, dataset, args...)
	return err
}

func (c *Client) PauseZfs(ctx context.Context, dataset string) error {
	return c.setPause(ctx, "pause", "zfs", dataset)
}

func (c *Client) ResumeZfs(ctx context.Context, dataset string) error {
	return c.setPause(ctx, "resume", "zfs", dataset)
}

func (c *Client) PauseTransfer(ctx context.Context, dataset string) error {
	return c.setPause(ctx, "pause", "transfer", dataset)
}

func (c *Client) ResumeTransfer(ctx context.Context, dataset string) error {
	return c.setPause(ctx, "resume", "transfer", dataset)
}

func (c *Client) PauseDeviceZfs(ctx context.Context) error {
	return c.setPause(ctx, "pause", "zfs", "")
}

func (c *Client) ResumeDeviceZfs(ctx context.Context) error {
	return c.setPause(ctx, "resume", "zfs", "")
}

func (c *Client) PauseDeviceTransfer(ctx context.Context) error {
	return c.setPause(ctx, "pause", "transfer", "")
}

func (c *Client) ResumeDeviceTransfer(ctx context.Context) error {
	return c.setPause(ctx, "resume", "transfer", "")
}

func (c *Client) GetDatasetOptions(ctx context.Context, dataset string) (offsite.Options, error) {
	var opts offsite.Options
	err := c.query(ctx, "options", dataset, &opts, "options", dataset, "--json")
	return opts, err
}

func (c *Client) GetGlobalOptions(ctx context.Context) (offsite.Options, error) {
	var opts offsite.Options
	err := c.query(ctx, "options", "", &opts, "options", "--json")
	return opts, err
}

func (c *Client) Halt(ctx context.Context, dataset string) error {
	_, err := c.exec(ctx, "halt", dataset, "halt", dataset)
	return err
}

func (c *Client) Refresh(ctx context.Context, dataset string) error {
	_, err := c.exec(ctx, "refresh", dataset, "refresh", dataset)
	return err
}

func (c *Client) RefreshAll(ctx context.Context) error {
	_, err := c.exec(ctx, "refresh", "", "refresh")
	return err
}

func (c *Client) SetMaxSyncs(ctx context.Context, n int) error {
	_, err := c.exec(ctx, "config maxSyncs", "", "config", "maxSyncs", strconv.Itoa(n))
	return err
}

func (c *Client) GetMaxSyncs(ctx context.Context) (int, error) {
	var out struct {
		MaxSyncs int `json:"maxSyncs"`
	}
	if err := c.query(ctx, "config maxSyncs", "", &out, "config", "maxSyncs", "--json"); err != nil {
		return 0, err
	}
	return out.MaxSyncs, nil
}

// Compile-time check
var _ offsite.ToolClient = (*Client)(nil)
