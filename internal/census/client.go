// Package census fetches American Community Survey 5-year estimates at
// block-group level from the Census Data API.
//
// A state-wide request is split into chunks of (county, variable group),
// fetched concurrently, and merged back into one record per block group.
package census

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/geoid"
	"github.com/sells-group/census-viz/internal/model"
	"github.com/sells-group/census-viz/internal/resilience"
)

// DefaultBaseURL is the Census Data API root.
const DefaultBaseURL = "https://api.census.gov/data"

// DefaultYears is the range of ACS 5-year releases with block-group data.
var DefaultYears = model.YearRange{Min: 2013, Max: 2023}

// Options configures a Client. Zero values take defaults.
type Options struct {
	BaseURL string
	APIKey  string
	Years   model.YearRange

	// MaxVariablesPerRequest bounds the get= list. The API allows 50
	// including NAME. Default: 45.
	MaxVariablesPerRequest int
	// Concurrency bounds in-flight chunk requests. Default: 4.
	Concurrency int
	// MaxFailedChunks is how many chunks may exhaust their retries before
	// the fetch fails. Default: 5.
	MaxFailedChunks int
	// RequestsPerSecond is the starting rate of the adaptive limiter.
	// Default: 10.
	RequestsPerSecond float64
	// BreakerThreshold is the number of consecutive failed requests after
	// which remaining chunks fail fast. Default: 5. Negative disables.
	BreakerThreshold int

	Retry      resilience.Policy
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Years == (model.YearRange{}) {
		o.Years = DefaultYears
	}
	if o.MaxVariablesPerRequest <= 0 {
		o.MaxVariablesPerRequest = 45
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxFailedChunks < 0 {
		o.MaxFailedChunks = 0
	} else if o.MaxFailedChunks == 0 {
		o.MaxFailedChunks = 5
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 10
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = 5
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultPolicy()
	}
	if o.Retry.OnRetry == nil {
		o.Retry.OnRetry = resilience.LogRetries("census", "request")
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return o
}

// Client fetches ACS statistics.
type Client struct {
	opts    Options
	limiter *AdaptiveLimiter
	breaker *resilience.Breaker
}

// New creates a Client.
func New(opts Options) *Client {
	opts = opts.withDefaults()
	breaker := resilience.NewBreaker(opts.BreakerThreshold, 30*time.Second)
	breaker.OnStateChange(func(from, to resilience.BreakerState) {
		zap.L().Warn("census: circuit breaker state changed",
			zap.String("component", "census"),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	})
	return &Client{
		opts:    opts,
		limiter: NewAdaptiveLimiter(opts.RequestsPerSecond, int(opts.RequestsPerSecond)),
		breaker: breaker,
	}
}

// County is one county of a state.
type County struct {
	Code string // 3 digits
	Name string
}

// FailedChunk is a chunk whose retries ran out.
type FailedChunk struct {
	County    string
	Variables []string
	Err       error
}

// Result is the outcome of Fetch.
type Result struct {
	Records []model.StatRecord
	// Counties is the number of counties requested.
	Counties int
	// Chunks is the number of chunk requests made.
	Chunks       int
	FailedChunks []FailedChunk
	// Incomplete counts block groups dropped because a chunk carrying some
	// of their variables failed.
	Incomplete int
	// Skipped counts rows with an unusable geography.
	Skipped int
}

// Partial reports whether any chunk failed.
func (r *Result) Partial() bool {
	return len(r.FailedChunks) > 0
}

type chunk struct {
	seq    int
	county string
	vars   []string
}

// Fetch returns one record per block group in the state, carrying every
// requested variable. Record order is not meaningful.
func (c *Client) Fetch(ctx context.Context, state string, year int, variables []string) (*Result, error) {
	if err := c.Validate(state, year); err != nil {
		return nil, err
	}
	vars := normalizeVariables(variables)
	if len(vars) == 0 {
		return nil, eris.New("census: no variables requested")
	}

	log := zap.L().With(
		zap.String("component", "census"),
		zap.String("state", state),
		zap.Int("year", year),
	)

	counties, err := c.Counties(ctx, state, year)
	if err != nil {
		return nil, c.finish(ctx, err)
	}

	var chunks []chunk
	for _, county := range counties {
		for _, group := range chunkVariables(vars, c.opts.MaxVariablesPerRequest) {
			chunks = append(chunks, chunk{seq: len(chunks), county: county.Code, vars: group})
		}
	}
	log.Info("fetching block-group statistics",
		zap.Int("counties", len(counties)),
		zap.Int("variables", len(vars)),
		zap.Int("chunks", len(chunks)),
	)

	acc := newAccumulator(vars)
	var (
		mu     sync.Mutex
		failed []chunk
		errs   = make(map[int]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, ch := range chunks {
		g.Go(func() error {
			t, err := c.fetchChunk(gctx, state, year, ch)
			if err == nil {
				acc.merge(t, ch.vars)
				return nil
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			// Deliberate rejections (bad key, unknown variable) will not
			// improve on another chunk.
			if !exhausted(err) {
				return err
			}
			log.Warn("statistics chunk failed",
				zap.String("county", ch.county),
				zap.Strings("variables", ch.vars),
				zap.Stringer("breaker", c.breaker.State()),
				zap.Error(err),
			)
			mu.Lock()
			defer mu.Unlock()
			failed = append(failed, ch)
			errs[ch.seq] = err
			if len(failed) > c.opts.MaxFailedChunks {
				return c.tooManyFailures(failed, errs, len(chunks))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, c.finish(ctx, err)
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].seq < failed[j].seq })
	if len(chunks) > 0 && len(failed) == len(chunks) {
		return nil, c.finish(ctx, c.tooManyFailures(failed, errs, len(chunks)))
	}

	records, incomplete := acc.records()
	res := &Result{
		Records:    records,
		Counties:   len(counties),
		Chunks:     len(chunks),
		Incomplete: incomplete,
		Skipped:    acc.skipped,
	}
	for _, ch := range failed {
		res.FailedChunks = append(res.FailedChunks, FailedChunk{County: ch.county, Variables: ch.vars, Err: errs[ch.seq]})
	}

	log.Info("fetched block-group statistics",
		zap.Int("records", len(records)),
		zap.Int("failed_chunks", len(failed)),
		zap.Int("incomplete", incomplete),
		zap.Int("skipped", acc.skipped),
	)
	return res, nil
}

// Counties lists the counties of state for the ACS release year.
func (c *Client) Counties(ctx context.Context, state string, year int) ([]County, error) {
	if err := c.Validate(state, year); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("get", "NAME")
	q.Set("for", "county:*")
	q.Set("in", "state:"+state)

	t, err := c.query(ctx, year, q)
	if err != nil {
		return nil, c.finish(ctx, err)
	}
	ci, ok := t.col("county")
	ni, okName := t.col("NAME")
	if len(t.rows) > 0 && (!ok || !okName) {
		return nil, failure.New(failure.APIRequestError, "county list missing county or NAME column")
	}

	out := make([]County, 0, len(t.rows))
	for _, row := range t.rows {
		out = append(out, County{Code: row[ci], Name: row[ni]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// Validate checks the request and the API key without touching the network.
func (c *Client) Validate(state string, year int) error {
	if _, err := model.CheckState(state); err != nil {
		return err
	}
	if err := c.opts.Years.CheckYear(year); err != nil {
		return err
	}
	if strings.TrimSpace(c.opts.APIKey) == "" {
		return failure.New(failure.MissingCredential, "census API key not configured (CENSUS_API_KEY)")
	}
	return nil
}

func (c *Client) fetchChunk(ctx context.Context, state string, year int, ch chunk) (*table, error) {
	q := url.Values{}
	q.Set("get", "NAME,"+strings.Join(ch.vars, ","))
	q.Set("for", "block group:*")
	q.Set("in", fmt.Sprintf("state:%s county:%s", state, ch.county))
	return c.query(ctx, year, q)
}

// query runs one API request through the breaker, the retry policy and the
// rate limiter.
func (c *Client) query(ctx context.Context, year int, q url.Values) (*table, error) {
	q.Set("key", c.opts.APIKey)
	// The API documents %20 rather than + for spaces.
	rawURL := fmt.Sprintf("%s/%d/acs/acs5?%s", c.opts.BaseURL, year, strings.ReplaceAll(q.Encode(), "+", "%20"))

	var t *table
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		t, err = resilience.DoVal(ctx, c.opts.Retry, func(ctx context.Context) (*table, error) {
			return c.get(ctx, rawURL)
		})
		return err
	})
	return t, err
}

func (c *Client) get(ctx context.Context, rawURL string) (*table, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, failure.Wrap(failure.FetchTimeout, err, "statistics fetch timed out waiting for the rate limiter")
		}
		return nil, eris.Wrap(err, "census: rate limiter wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: create request")
	}
	req.Header.Set("User-Agent", "census-viz/1.0")

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "census: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNoContent:
		c.limiter.OnSuccess()
		return &table{}, nil
	case resp.StatusCode == http.StatusOK:
		t, err := decodeTable(ctx, resp.Body)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, resilience.NewTransientError(eris.Wrap(err, "census: truncated response"), resp.StatusCode)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, failure.Wrap(failure.APIRequestError, err, "malformed response body")
		}
		c.limiter.OnSuccess()
		return t, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.limiter.OnRateLimit()
		return nil, resilience.FromResponse(resp, eris.New("census: rate limited (429)"))
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.FromResponse(resp, eris.Errorf("census: server error %d", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, failure.HTTP(resp.StatusCode, string(body), "census API rejected request")
	}
}

// finish classifies a fatal error: deadline into FetchTimeout, anything not
// yet classified into ApiRequestError.
func (c *Client) finish(ctx context.Context, err error) error {
	if failure.Is(err, failure.FetchTimeout) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure.Wrap(failure.FetchTimeout, err, "statistics fetch timed out")
	}
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "census: fetch cancelled")
	}
	if _, ok := failure.KindOf(err); ok {
		return err
	}
	fe := &failure.Error{Kind: failure.APIRequestError, Msg: "statistics request failed", Err: err}
	var te *resilience.TransientError
	if errors.As(err, &te) {
		fe.StatusCode = te.StatusCode
	}
	return fe
}

func (c *Client) tooManyFailures(failed []chunk, errs map[int]error, total int) error {
	first := failed[0]
	for _, ch := range failed[1:] {
		if ch.seq < first.seq {
			first = ch
		}
	}
	err := c.finish(context.Background(), errs[first.seq])
	kind, _ := failure.KindOf(err)
	return failure.Wrap(kind, err, "%d of %d statistics chunks failed (first: county %s)", len(failed), total, first.county)
}

func exhausted(err error) bool {
	var ex *resilience.ExhaustedError
	return errors.As(err, &ex) || errors.Is(err, resilience.ErrBreakerOpen)
}

type partial struct {
	name   string
	values model.Values
}

// accumulator merges chunk rows by block group.
type accumulator struct {
	want []string

	mu      sync.Mutex
	rows    map[geoid.ID]*partial
	skipped int
}

func newAccumulator(want []string) *accumulator {
	return &accumulator{want: want, rows: make(map[geoid.ID]*partial)}
}

func (a *accumulator) merge(t *table, vars []string) {
	si, okS := t.col("state")
	ci, okC := t.col("county")
	ti, okT := t.col("tract")
	bi, okB := t.col("block group")
	ni, okN := t.col("NAME")

	a.mu.Lock()
	defer a.mu.Unlock()
	if !okS || !okC || !okT || !okB {
		a.skipped += len(t.rows)
		return
	}
	for _, row := range t.rows {
		id, err := geoid.New(row[si], row[ci], row[ti], row[bi])
		if err != nil {
			a.skipped++
			continue
		}
		p, ok := a.rows[id]
		if !ok {
			p = &partial{values: make(model.Values, len(a.want))}
			a.rows[id] = p
		}
		if okN && p.name == "" {
			p.name = row[ni]
		}
		for _, v := range vars {
			if i, ok := t.col(v); ok {
				p.values[v] = parseValue(row[i])
			}
		}
	}
}

// records returns the complete records and the number of incomplete ones.
func (a *accumulator) records() ([]model.StatRecord, int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]model.StatRecord, 0, len(a.rows))
	incomplete := 0
	for id, p := range a.rows {
		if len(p.values) != len(a.want) {
			incomplete++
			continue
		}
		out = append(out, model.StatRecord{ID: id, Name: p.name, Values: p.values})
	}
	return out, incomplete
}
