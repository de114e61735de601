package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bitwar/backend/go/internal/v1/logging"
	"github.com/bitwar/backend/go/internal/v1/metrics"
	"github.com/bitwar/backend/go/internal/v1/types"
)

// Execution limits applied to every submission run.
const (
	cpuTimeLimitSeconds = 5
	memoryLimitKB       = 128000
)

// CaseResult is the graded outcome of one test case.
type CaseResult struct {
	TestCaseID int64  `json:"test_case_id"`
	Input      string `json:"input"`
	Expected   string `json:"expected"`
	Actual     string `json:"actual,omitempty"`
	Error      string `json:"error,omitempty"`
	Passed     bool   `json:"passed"`
}

// Verdict aggregates the results of running a submission against every
// test case of a question.
type Verdict struct {
	AllPassed bool         `json:"all_passed"`
	Results   []CaseResult `json:"results"`
}

// Client talks to a Judge0-compatible API. Calls go through a circuit
// breaker so a dead judge fails fast instead of stalling every submission.
type Client struct {
	baseURL string
	httpc   *http.Client
	cb      *gobreaker.CircuitBreaker
}

// NewClient creates a judge client. timeout bounds each submission request,
// including the synchronous wait for execution.
func NewClient(baseURL string, timeout time.Duration) *Client {
	st := gobreaker.Settings{
		Name:        "judge",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("judge").Set(stateVal)
		},
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

type submissionRequest struct {
	SourceCode   string  `json:"source_code"`
	LanguageID   int     `json:"language_id"`
	Stdin        string  `json:"stdin"`
	CPUTimeLimit float64 `json:"cpu_time_limit"`
	MemoryLimit  int     `json:"memory_limit"`
}

type submissionResponse struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	CompileOutput string `json:"compile_output"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Verify wraps the submitted code in the language harness and runs it once
// per test case. Compile and runtime failures are recorded per case; a
// transport failure or an unexpected judge response aborts the whole run.
func (c *Client) Verify(ctx context.Context, code, language string, tests []types.TestCase) (*Verdict, error) {
	languageID, ok := languageIDs[language]
	if !ok {
		return nil, &Error{Kind: KindUnsupportedLanguage, Detail: fmt.Sprintf("unsupported language: %s", language)}
	}

	wrapped, err := wrapUserCode(code, language)
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{AllPassed: true}
	for _, tc := range tests {
		res, err := c.runCase(ctx, wrapped, languageID, tc)
		if err != nil {
			logging.Error(ctx, "Judge0 request failed",
				zap.Int64("test_case_id", tc.ID),
				zap.String("language", language),
				zap.Error(err))
			return nil, err
		}
		if !res.Passed {
			verdict.AllPassed = false
		}
		verdict.Results = append(verdict.Results, res)
	}
	return verdict, nil
}

func (c *Client) runCase(ctx context.Context, wrapped string, languageID int, tc types.TestCase) (CaseResult, error) {
	res := CaseResult{
		TestCaseID: tc.ID,
		Input:      tc.InputData,
		Expected:   tc.ExpectedOutput,
	}

	payload := submissionRequest{
		SourceCode:   wrapped,
		LanguageID:   languageID,
		Stdin:        NormalizeInput(tc.InputData),
		CPUTimeLimit: cpuTimeLimitSeconds,
		MemoryLimit:  memoryLimitKB,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return res, &Error{Kind: KindBadSubmission, Detail: "could not encode submission", Err: err}
	}

	timer := prometheus.NewTimer(metrics.JudgeRequestDuration)
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.postSubmission(ctx, body)
	})
	timer.ObserveDuration()

	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
			metrics.CircuitBreakerFailures.WithLabelValues("judge").Inc()
			metrics.JudgeRequests.WithLabelValues("breaker_open").Inc()
			return res, &Error{Kind: KindTransport, Detail: "code judging is temporarily unavailable", Err: err}
		case isTimeout(err):
			metrics.JudgeRequests.WithLabelValues("timeout").Inc()
			return res, &Error{Kind: KindTimeout, Detail: "judge request timed out", Err: err}
		default:
			var se *statusError
			if errors.As(err, &se) {
				metrics.JudgeRequests.WithLabelValues("bad_status").Inc()
				return res, &Error{Kind: KindTransport, Detail: se.Error(), Err: err}
			}
			metrics.JudgeRequests.WithLabelValues("error").Inc()
			return res, &Error{Kind: KindTransport, Detail: "judge request failed", Err: err}
		}
	}
	metrics.JudgeRequests.WithLabelValues("success").Inc()

	resp := out.(*submissionResponse)
	errText := resp.Stderr
	if errText == "" {
		errText = resp.CompileOutput
	}
	if errText != "" {
		res.Error = strings.TrimSpace(errText)
		return res, nil
	}

	res.Actual = strings.TrimSpace(resp.Stdout)
	res.Passed = CompareOutputs(tc.ExpectedOutput, res.Actual)
	return res, nil
}

func (c *Client) postSubmission(ctx context.Context, body []byte) (*submissionResponse, error) {
	url := c.baseURL + "/submissions?base64_encoded=false&wait=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusCreated {
		io.Copy(io.Discard, httpResp.Body)
		return nil, &statusError{code: httpResp.StatusCode}
	}

	var resp submissionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode judge response: %w", err)
	}
	return &resp, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("judge returned status %d", e.code) }

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Ping checks that the judge answers HTTP at all. It bypasses the circuit
// breaker so readiness probes never consume breaker budget.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/languages", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}
