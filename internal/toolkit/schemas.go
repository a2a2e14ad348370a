package toolkit

import "github.com/lyeka/agentic-bt/internal/llm"

// remediation holds the static hint attached to failed tool calls, keyed by
// tool name. The model reads these to self-correct on the next round.
var remediation = map[string]string{
	"market_observe": "检查 symbol 是否在本次回测的数据集内。",
	"market_history": "提供正整数 bars；symbol 可省略（默认主资产）。",
	"indicator_calc": "核对指标名称与周期，可用: RSI/SMA/EMA/ATR/MACD/BBANDS。",
	"account_status": "账户查询不需要任何参数。",
	"trade_execute":  "核对 action/quantity/order_type 的组合；限价单需给 price。",
	"order_query":    "挂单查询不需要任何参数。",
	"order_cancel":   "先用 order_query 获取有效的 order_id。",
	"memory_log":     "提供非空的 content 文本。",
	"memory_note":    "提供 key 与非空的 content 文本。",
	"memory_recall":  "提供检索关键词，例如 query=\"回撤\"。",
	"compute":        "检查代码语法；优先用 ta.* 与向量化表达式，避免大循环。",
}

// schemas is the fixed tool surface exposed to the model. Names, enums and
// required fields are part of the contract with the prompts and the trace
// analyzer; do not reorder or rename casually.
var schemas = []llm.Tool{
	{
		Name:        "market_observe",
		Description: "获取当前 bar 的市场行情",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"symbol": llm.StringProp("指定查询的股票代码（默认主资产）"),
		}),
	},
	{
		Name:        "market_history",
		Description: "获取最近 N 根 K 线的 OHLCV 数据",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"bars":   llm.IntProp("返回的 K 线数量"),
			"symbol": llm.StringProp("股票代码（默认主资产）"),
		}, "bars"),
	},
	{
		Name:        "indicator_calc",
		Description: "计算技术指标",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"name":   llm.StringProp("指标名称，如 RSI、SMA、EMA"),
			"period": llm.IntPropDefault("计算周期", 14),
			"symbol": llm.StringProp("股票代码（默认主资产）"),
		}, "name"),
	},
	{
		Name:        "account_status",
		Description: "查询当前账户持仓和资金状态",
		Parameters:  llm.ObjectSchema("", map[string]*llm.JSONSchema{}),
	},
	{
		Name:        "trade_execute",
		Description: "执行交易操作",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"action":   llm.EnumProp("交易动作", "buy", "sell", "close", "hold"),
			"symbol":   llm.StringProp("股票代码"),
			"quantity": llm.IntProp("数量（close 时可省略）"),
			"order_type": {
				Type:        "string",
				Enum:        []string{"market", "limit", "stop"},
				Default:     "market",
				Description: "订单类型：market/limit/stop",
			},
			"price":       llm.NumberProp("限价（limit）或止损触发价（stop）"),
			"valid_bars":  llm.IntProp("订单有效 bar 数，省略则永久有效"),
			"stop_loss":   llm.NumberProp("止损价（自动创建 Bracket，与 take_profit 配合）"),
			"take_profit": llm.NumberProp("止盈价（自动创建 Bracket，与 stop_loss 配合）"),
		}, "action"),
	},
	{
		Name:        "order_query",
		Description: "查询当前所有待执行的挂单列表",
		Parameters:  llm.ObjectSchema("", map[string]*llm.JSONSchema{}),
	},
	{
		Name:        "order_cancel",
		Description: "取消指定的挂单",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"order_id": llm.StringProp("要取消的订单 ID"),
		}, "order_id"),
	},
	{
		Name:        "memory_log",
		Description: "在当日日志中追加一条记录",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"content": llm.StringProp("日志内容"),
		}, "content"),
	},
	{
		Name:        "memory_note",
		Description: "创建或更新主题笔记",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"key":     llm.StringProp("笔记键"),
			"content": llm.StringProp("笔记内容"),
		}, "key", "content"),
	},
	{
		Name:        "memory_recall",
		Description: "按关键词检索记忆",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"query": llm.StringProp("检索关键词"),
		}, "query"),
	},
	{
		Name: "compute",
		Description: "Python 沙箱计算。预加载: df(OHLCV)、open/high/low/close/volume/date、" +
			"account、pd/np/ta/math；多资产经 dfs[symbol] 访问。" +
			"Helpers: latest/prev/crossover/crossunder/above/below/bbands/macd/tail/nz。",
		Parameters: llm.ObjectSchema("", map[string]*llm.JSONSchema{
			"code":   llm.StringProp("Python 代码"),
			"symbol": llm.StringProp("股票代码（默认主资产）"),
		}, "code"),
	},
}

// Schemas returns the fixed tool list sent with every LLM call.
func (t *Toolkit) Schemas() []llm.Tool {
	return schemas
}
