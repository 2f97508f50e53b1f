// README: Bench checks for environment, schema, HTTP order flow, dispatch races, and load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/infra"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	issuer *infra.JWTIssuer
	db     *pgxpool.Pool
	redis  *redis.Client
	runID  string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	issuer, err := infra.NewJWTIssuer(cfg.JWTSecret, time.Hour)
	if err != nil {
		return nil, fmt.Errorf("jwt issuer: %w", err)
	}
	return &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		issuer: issuer,
		runID:  fmt.Sprintf("b%d", time.Now().Unix()),
	}, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency.Round(time.Microsecond))
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres ping", Run: pingPostgres},
		{Name: "Env: Redis ping", Run: pingRedis},
		{Name: "Schema: tables exist", Run: tablesExist},
		{Name: "HTTP: health", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/health", "", nil, http.StatusOK)
		}},
		{Name: "HTTP: unauthenticated order list", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/orders/active", "", nil, http.StatusUnauthorized)
		}},
		{Name: "Order: create", Run: func(ctx context.Context, r *Runner) Result {
			client := r.user("create")
			if res := r.ensureUser(ctx, client); res.Status != statusPass {
				return res
			}
			return r.expect(ctx, http.MethodPost, "/api/orders", r.token(client, "client"),
				map[string]any{"type": "taxi", "clientId": client, "from": "Station", "to": "Airport"}, http.StatusCreated)
		}},
		{Name: "Order: unknown type rejected", Run: func(ctx context.Context, r *Runner) Result {
			client := r.user("badtype")
			if res := r.ensureUser(ctx, client); res.Status != statusPass {
				return res
			}
			return r.expect(ctx, http.MethodPost, "/api/orders", r.token(client, "client"),
				map[string]any{"type": "plane", "clientId": client, "from": "A", "to": "B"}, http.StatusBadRequest)
		}},
		{Name: "Dispatch: concurrent accept has one winner", Run: concurrentAccept},
		{Name: "Guard: sixth order within a minute is throttled", Run: orderRateLimit},
		{Name: "Perf: active orders under load", Run: perfLoad},
	}
}

func pingPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

func pingRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: statusSkip, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	start := time.Now()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	return Result{Status: statusPass, Latency: time.Since(start)}
}

var createTableRe = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS\s+([a-z_]+)`)

func extractTables(sql string) []string {
	var out []string
	for _, m := range createTableRe.FindAllStringSubmatch(sql, -1) {
		out = append(out, m[1])
	}
	return out
}

func tablesExist(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "dsn not configured"}
	}
	raw, err := os.ReadFile(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	tables := extractTables(string(raw))
	if len(tables) == 0 {
		return Result{Status: statusFail, Note: "no tables found in migration"}
	}
	var missing []string
	for _, t := range tables {
		var name *string
		if err := r.db.QueryRow(ctx, `SELECT to_regclass($1)::text`, "public."+t).Scan(&name); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
		if name == nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("missing %v", missing)}
	}
	return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	client := r.user("race-client")
	if res := r.ensureUser(ctx, client); res.Status != statusPass {
		return res
	}
	drivers := make([]string, r.cfg.Concurrency)
	for i := range drivers {
		drivers[i] = r.user(fmt.Sprintf("race-driver-%d", i))
		if err := r.seedDriver(ctx, drivers[i]); err != nil {
			return Result{Status: statusFail, Note: err.Error()}
		}
	}

	var created struct {
		ID string `json:"id"`
	}
	code, body, _, err := r.call(ctx, http.MethodPost, "/api/orders", r.token(client, "client"),
		map[string]any{"type": "taxi", "clientId": client, "from": "A", "to": "B"})
	if err != nil || code != http.StatusCreated {
		return Result{Status: statusFail, Note: fmt.Sprintf("create: %d %v", code, err)}
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}

	var wins, conflicts int32
	var wg sync.WaitGroup
	start := time.Now()
	for _, d := range drivers {
		wg.Add(1)
		go func(d string) {
			defer wg.Done()
			code, _, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+created.ID+"/accept", r.token(d, "driver"), nil)
			if err != nil {
				return
			}
			switch code {
			case http.StatusOK:
				atomic.AddInt32(&wins, 1)
			case http.StatusBadRequest, http.StatusConflict:
				atomic.AddInt32(&conflicts, 1)
			}
		}(d)
	}
	wg.Wait()
	note := fmt.Sprintf("wins=%d rejected=%d of %d", wins, conflicts, len(drivers))
	if wins != 1 {
		return Result{Status: statusFail, Latency: time.Since(start), Note: note}
	}
	return Result{Status: statusPass, Latency: time.Since(start), Note: note}
}

func orderRateLimit(ctx context.Context, r *Runner) Result {
	client := r.user("limited")
	if res := r.ensureUser(ctx, client); res.Status != statusPass {
		return res
	}
	tok := r.token(client, "client")
	order := map[string]any{"type": "taxi", "clientId": client, "from": "A", "to": "B"}
	for i := 0; i < 5; i++ {
		code, body, _, err := r.call(ctx, http.MethodPost, "/api/orders", tok, order)
		if err != nil || code != http.StatusCreated {
			return Result{Status: statusFail, Note: fmt.Sprintf("order %d: %d %v", i+1, code, err)}
		}
		var o struct {
			ID string `json:"id"`
		}
		_ = json.Unmarshal(body, &o)
		// Free the active-order slot so only the per-minute limit applies.
		if code, _, _, err := r.call(ctx, http.MethodPost, "/api/orders/"+o.ID+"/cancel", tok, nil); err != nil || code != http.StatusOK {
			return Result{Status: statusFail, Note: fmt.Sprintf("cancel %d: %d %v", i+1, code, err)}
		}
	}
	return r.expect(ctx, http.MethodPost, "/api/orders", tok, order, http.StatusTooManyRequests)
}

func perfLoad(ctx context.Context, r *Runner) Result {
	viewer := r.user("viewer")
	if res := r.ensureUser(ctx, viewer); res.Status != statusPass {
		return res
	}
	tok := r.token(viewer, "client")
	deadline := time.Now().Add(r.cfg.Duration)

	var mu sync.Mutex
	var latencies []time.Duration
	var errs int64
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(deadline) && ctx.Err() == nil {
				code, _, lat, err := r.call(ctx, http.MethodGet, "/api/orders/active", tok, nil)
				if err != nil || code != http.StatusOK {
					atomic.AddInt64(&errs, 1)
					continue
				}
				mu.Lock()
				latencies = append(latencies, lat)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(latencies) == 0 {
		return Result{Status: statusFail, Note: fmt.Sprintf("no successful requests, errors=%d", errs)}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p95 := latencies[len(latencies)*95/100]
	rps := float64(len(latencies)) / r.cfg.Duration.Seconds()
	return Result{
		Status:  statusPass,
		Latency: p95,
		Note:    fmt.Sprintf("p95 over %d requests, %.0f req/s, errors=%d", len(latencies), rps, errs),
	}
}

func (r *Runner) user(name string) string {
	return r.runID + "-" + name
}

// internalAuth marks a call that should carry the service token instead of a session.
const internalAuth = "\x00internal"

func (r *Runner) adminToken() string {
	if r.cfg.InternalToken != "" {
		return internalAuth
	}
	return r.token(r.user("admin"), "admin")
}

func (r *Runner) token(uid, role string) string {
	tok, err := r.issuer.Issue(uid, role)
	if err != nil {
		return ""
	}
	return tok
}

// ensureUser creates the profile; an existing profile counts as success.
func (r *Runner) ensureUser(ctx context.Context, uid string) Result {
	code, _, lat, err := r.call(ctx, http.MethodPost, "/api/users", r.token(uid, "client"),
		map[string]any{"id": uid, "name": "Bench " + uid})
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != http.StatusCreated && code != http.StatusOK && code != http.StatusConflict {
		return Result{Status: statusFail, Latency: lat, Note: fmt.Sprintf("create user: status %d", code)}
	}
	return Result{Status: statusPass, Latency: lat}
}

func (r *Runner) seedDriver(ctx context.Context, uid string) error {
	if res := r.ensureUser(ctx, uid); res.Status != statusPass {
		return fmt.Errorf("seed %s: %s", uid, res.Note)
	}
	code, body, _, err := r.call(ctx, http.MethodPost, "/api/admin/generate-code", r.adminToken(), nil)
	if err != nil || code != http.StatusCreated {
		return fmt.Errorf("generate code: %d %v", code, err)
	}
	var issued struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &issued); err != nil {
		return err
	}
	code, _, _, err = r.call(ctx, http.MethodPost, "/api/users/register-driver", r.token(uid, "client"),
		map[string]any{"userId": uid, "code": issued.Code, "name": "Driver " + uid, "phone": "+70000000000"})
	if err != nil || code != http.StatusOK {
		return fmt.Errorf("register driver %s: %d %v", uid, code, err)
	}
	return nil
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	code, raw, lat, err := r.call(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}
	}
	if code != want {
		return Result{Status: statusFail, Latency: lat, Note: fmt.Sprintf("status %d want %d: %s", code, want, truncate(raw, 120))}
	}
	return Result{Status: statusPass, Latency: lat}
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, time.Duration, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, rd)
	if err != nil {
		return 0, nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case token == internalAuth:
		req.Header.Set(middleware.InternalTokenHeader, r.cfg.InternalToken)
	case token != "":
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, raw, time.Since(start), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
