package exit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"autoclose/internal/logger"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

const defaultProcessTimeout = 10 * time.Second

// resultSchema 约束外部进程 stdout 的 JSON 结构。
const resultSchema = `{
  "type": "object",
  "required": ["should_exit"],
  "properties": {
    "should_exit": {"type": "boolean"},
    "reason": {"type": "string"},
    "exit_time": {"type": "integer", "minimum": 0},
    "exit_price": {"type": "number", "exclusiveMinimum": 0},
    "pair_exit_price": {"type": "number", "minimum": 0},
    "current_price": {"type": "number", "minimum": 0}
  },
  "if": {"properties": {"should_exit": {"const": true}}},
  "then": {"required": ["exit_time", "exit_price"]}
}`

// ProcessEvaluator 以子进程方式调用外部策略：请求 JSON 写入 stdin，结果 JSON 从 stdout 读取。
type ProcessEvaluator struct {
	command []string
	timeout time.Duration
	schema  *jsonschema.Schema
}

func NewProcessEvaluator(command []string, timeout time.Duration) (*ProcessEvaluator, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, fmt.Errorf("strategy exit command cannot be empty")
	}
	if timeout <= 0 {
		timeout = defaultProcessTimeout
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("exit_result.json", strings.NewReader(resultSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("exit_result.json")
	if err != nil {
		return nil, fmt.Errorf("compile exit result schema: %w", err)
	}
	return &ProcessEvaluator{
		command: append([]string(nil), command...),
		timeout: timeout,
		schema:  schema,
	}, nil
}

func (p *ProcessEvaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(callCtx, p.command[0], p.command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	start := time.Now()
	if err := cmd.Run(); err != nil {
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("strategy exit %s timed out after %s: %w", req.StrategyName, p.timeout, callCtx.Err())
		}
		return nil, fmt.Errorf("strategy exit %s failed: %w (stderr=%s)", req.StrategyName, err, strings.TrimSpace(stderr.String()))
	}
	logger.With("trade_id", req.TradeID, "strategy", req.StrategyName).
		Debugf("[exit] process evaluated in %s", time.Since(start).Round(time.Millisecond))
	if logger.ExchangeDumpEnabled() {
		logger.LogExchange([]string{req.StrategyName, req.TradeID}, string(payload), stdout.String())
	}
	return p.parse(stdout.Bytes())
}

// parse 接受整段 stdout 为 JSON，或取最后一行非空输出（允许脚本先打印日志）。
func (p *ProcessEvaluator) parse(out []byte) (*Result, error) {
	raw := bytes.TrimSpace(out)
	if !gjson.ValidBytes(raw) {
		lines := bytes.Split(raw, []byte("\n"))
		raw = bytes.TrimSpace(lines[len(lines)-1])
	}
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: stdout is not JSON", ErrMalformedResult)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	if err := p.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResult, err)
	}
	parsed := gjson.ParseBytes(raw)
	current := parsed.Get("current_price").Float()
	if !parsed.Get("should_exit").Bool() {
		if current > 0 {
			return &Result{CurrentPrice: current}, nil
		}
		return nil, nil
	}
	reason := strings.TrimSpace(parsed.Get("reason").String())
	if reason == "" {
		reason = "strategy_exit"
	}
	return &Result{
		ShouldExit:    true,
		Reason:        reason,
		ExitTime:      parsed.Get("exit_time").Int(),
		ExitPrice:     parsed.Get("exit_price").Float(),
		PairExitPrice: parsed.Get("pair_exit_price").Float(),
		CurrentPrice:  current,
	}, nil
}
