package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lyeka/agentic-bt/internal/frame"
)

// DefaultTimeout bounds one compute invocation end to end.
const DefaultTimeout = 500 * time.Millisecond

// PositionView is the account position snapshot visible to sandbox code.
type PositionView struct {
	Size     int
	AvgPrice float64
}

// AccountView is the account snapshot bound into the namespace as account,
// cash, equity, and positions.
type AccountView struct {
	Cash      float64
	Equity    float64
	Positions map[string]PositionView
}

// Request is one compute invocation: the code, the visible market window,
// optional additional symbol windows, and the account snapshot.
type Request struct {
	Code    string
	Primary *frame.Frame
	Extra   map[string]*frame.Frame
	Account AccountView
	Timeout time.Duration
}

// Run executes agent-submitted code and always returns a payload map, never
// an error: success as {"result": ...} with _meta and captured stdout, and
// failure as {"error", "remediation", "traceback"}.
//
// The code is first tried as a single expression. If that does not parse it
// runs as a statement module whose trailing expression, or the variable
// named result, becomes the output.
func Run(ctx context.Context, req Request) (payload map[string]interface{}) {
	if req.Primary == nil {
		req.Primary = frame.New("", nil)
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			payload = errorPayload(req.Code, errAt(CatRuntime, 0, "internal interpreter failure: %v", r))
		}
	}()

	globals := NewScope(nil)
	installBuiltins(globals)
	installHelpers(globals)
	installNamespace(globals, req)
	ev := NewEvaluator(ctx, globals)

	select {
	case <-ctx.Done():
		return timeoutPayload()
	default:
	}

	value, runErr := evalProgram(ev, req.Code)
	if runErr != nil {
		if re, ok := runErr.(*RuntimeError); ok && re.Category == CatTimeout {
			return timeoutPayload()
		}
		return errorPayload(req.Code, runErr)
	}

	payload = map[string]interface{}{
		"result": Normalize(value),
	}
	if out := ev.Stdout(); out != "" {
		payload["_stdout"] = capString(out)
	}
	payload["_meta"] = map[string]interface{}{
		"df_rows": req.Primary.Len(),
		"columns": req.Primary.Columns(),
	}
	return payload
}

// installNamespace binds the market window, account snapshot, and preloaded
// modules into the global scope.
func installNamespace(g *Scope, req Request) {
	f := req.Primary
	g.Set("df", FrameValue(f))
	for _, col := range []string{"open", "high", "low", "close", "volume"} {
		if s, ok := f.Column(col); ok {
			g.Set(col, SeriesValue(s))
		} else {
			g.Set(col, SeriesValue(frame.NewSeries(col, nil)))
		}
	}
	if f.Len() > 0 {
		g.Set("date", TimeValue(f.Bars()[f.Len()-1].Datetime))
	} else {
		g.Set("date", NoneValue())
	}

	positions := DictOf()
	for _, sym := range sortedKeys(req.Account.Positions) {
		pos := req.Account.Positions[sym]
		entry := DictOf()
		entry.Dict.SetStr("size", IntValue(pos.Size))
		entry.Dict.SetStr("avg_price", FloatValue(pos.AvgPrice))
		positions.Dict.SetStr(sym, entry)
	}
	account := DictOf()
	account.Dict.SetStr("cash", FloatValue(req.Account.Cash))
	account.Dict.SetStr("equity", FloatValue(req.Account.Equity))
	account.Dict.SetStr("positions", positions)
	g.Set("account", account)
	g.Set("cash", FloatValue(req.Account.Cash))
	g.Set("equity", FloatValue(req.Account.Equity))
	g.Set("positions", positions)

	if len(req.Extra) > 0 {
		dfs := DictOf()
		for _, sym := range sortedKeys(req.Extra) {
			dfs.Dict.SetStr(sym, FrameValue(req.Extra[sym]))
		}
		g.Set("dfs", dfs)
	}

	g.Set("math", mathModule())
	g.Set("np", npModule())
	g.Set("pd", pdModule())
	g.Set("ta", taModule())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// evalProgram applies the REPL protocol to the submitted code.
func evalProgram(ev *Evaluator, code string) (Value, error) {
	if expr, err := ParseExpression(code); err == nil {
		return ev.EvalExpr(expr)
	}

	module, err := ParseModule(code)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			return NoneValue(), errAt(CatSyntax, pe.Line, "%s", pe.Message)
		}
		return NoneValue(), errAt(CatSyntax, 0, "%s", err.Error())
	}

	body := module.Body
	if len(body) == 0 {
		return NoneValue(), errNoOutput{"写一个表达式（如 ta.rsi(close,14)）或赋值给 result。"}
	}
	var trailing Expr
	if es, ok := body[len(body)-1].(*ExprStmt); ok {
		trailing = es.Value
		body = body[:len(body)-1]
	}

	for _, stmt := range body {
		if err := ev.execStmt(stmt, ev.Globals()); err != nil {
			return NoneValue(), translateSignal(err)
		}
	}

	// An explicit result variable wins; the trailing expression is then
	// never evaluated.
	if ev.Globals().Has("result") {
		res, _ := ev.Globals().Get("result")
		return res, nil
	}
	if trailing != nil {
		v, err := ev.EvalExpr(trailing)
		if err != nil {
			return NoneValue(), translateSignal(err)
		}
		return v, nil
	}
	return NoneValue(), errNoOutput{"设置 result=... 或让最后一行成为表达式。"}
}

// translateSignal maps loop and return signals that escaped to the top
// level onto syntax errors.
func translateSignal(err error) error {
	switch sig := err.(type) {
	case returnSignal:
		return errAt(CatSyntax, sig.line, "'return' outside function")
	case breakSignal:
		return errAt(CatSyntax, sig.line, "'break' outside loop")
	case continueSignal:
		return errAt(CatSyntax, sig.line, "'continue' not properly in loop")
	}
	return err
}

// errNoOutput marks a program that never produced a value. The remediation
// differs between an empty submission and statements that set nothing.
type errNoOutput struct{ remediation string }

func (errNoOutput) Error() string { return "未产生输出" }

// ────────────────────────────────────────────────────────────────────
// Failure payloads
// ────────────────────────────────────────────────────────────────────

func timeoutPayload() map[string]interface{} {
	return map[string]interface{}{
		"error":       "计算超时，请简化代码或减少数据量",
		"remediation": "避免 while/for 纯 Python 大循环；优先用 pandas/numpy 向量化与 rolling。",
	}
}

func errorPayload(code string, err error) map[string]interface{} {
	if no, ok := err.(errNoOutput); ok {
		return map[string]interface{}{
			"error":       "未产生输出",
			"remediation": no.remediation,
		}
	}

	re, ok := err.(*RuntimeError)
	if !ok {
		re = errAt(CatRuntime, 0, "%s", err.Error())
	}
	return map[string]interface{}{
		"error":       re.Error(),
		"remediation": remediationFor(re),
		"traceback":   traceback(code, re),
	}
}

// remediationFor picks the recovery hint for an exception category. The
// hints double as documentation of the namespace for the model.
func remediationFor(re *RuntimeError) string {
	switch re.Category {
	case CatImport:
		return "沙箱仅允许导入 pandas/numpy/pandas_ta/math；且已预注入为 pd/np/ta/math，通常不需要 import。"
	case CatName:
		return "可用变量: df, open, high, low, close, volume, date, account, cash, equity, positions, pd, np, ta, math。" +
			"helpers: latest, prev, crossover, crossunder, above, below, bbands, macd, tail, nz。" +
			"compute 不是指标菜单：需要新指标直接用 Python/Series 运算实现。"
	case CatKey:
		return "df 列为 date/open/high/low/close/volume（小写）。可用 df.columns 查看。"
	case CatIndex:
		return "检查数据长度: len(df)。避免固定负索引；可用 min(n, len(df)) 或 tail(close, n)。"
	case CatZeroDiv:
		return "检查除数是否为 0；可用 nz(x, default) 处理空值/NaN。"
	case CatValue:
		if strings.Contains(re.Message, "unpack") {
			return "ta.macd()/ta.bbands() 返回 DataFrame，不能直接解包；请用 helper macd()/bbands()，或直接返回 DataFrame 让系统摘要。"
		}
	}
	return "检查变量名/索引/返回值；建议返回标量或小 dict。"
}

// traceback synthesises the last frames of a Python-style traceback: the
// location, the offending source line, and the exception itself.
func traceback(code string, re *RuntimeError) []string {
	lines := []string{
		fmt.Sprintf("  File \"<sandbox>\", line %d, in <module>", re.LineNo),
	}
	if src := sourceLine(code, re.LineNo); src != "" {
		lines = append(lines, "    "+src)
	}
	lines = append(lines, re.Error())
	return lines
}

func sourceLine(code string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(code, "\n")
	if n > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[n-1])
}
