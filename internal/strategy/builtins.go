package strategy

import "github.com/lyeka/agentic-bt/pkg/models"

// ─────────────────────────────────────────────────────────────
// Built-in strategy prompts
// ─────────────────────────────────────────────────────────────

const promptRSI = `RSI 均值回归策略。
规则：
1. RSI < 50 且无持仓时：买入，仓位不超过账户净值的 90%
2. RSI > 55 且有持仓时：平仓
3. 其他情况：观望`

const promptBracketATR = `均线交叉 + ATR 动态风控策略。
规则：
1. 计算 SMA(10) 和 SMA(30)，判断趋势方向
2. SMA10 > SMA30（金叉）且无持仓：买入，用 ATR 设定止损止盈
   - stop_loss = 当前价 - 2×ATR
   - take_profit = 当前价 + 3×ATR
   - 每笔交易必须带 bracket 保护（传 stop_loss 和 take_profit 参数）
3. SMA10 < SMA30（死叉）且有持仓：平仓
4. 其他情况：观望`

const promptBollingerLimit = `布林带 + 限价单策略。
规则：
1. 计算 BBANDS(20)，获取上轨和下轨
2. 价格接近下轨且无持仓：在下轨挂限价买单（order_type=limit, valid_bars=3）
3. 价格接近上轨且有持仓：平仓
4. 每轮决策前用 order_query 检查挂单，用 order_cancel 清理过期或不需要的挂单
5. 其他情况：观望
管理好挂单生命周期是你的核心能力。`

const promptAdaptiveMemory = `记忆驱动自适应策略。
核心机制：
1. 每次决策前：用 memory_recall('performance') 回顾历史胜率
2. 用 RSI 做基础信号（RSI<45 买入，RSI>55 卖出）
3. 仓位大小由历史胜率决定：
   - 胜率 > 50%：正常仓位（90%）
   - 胜率 ≤ 50%：减半仓位（45%）
4. 每次交易后：用 memory_note('performance', ...) 更新累计胜率
从过去的成功和失败中学习，动态调整策略。`

const promptMultiAsset = `多资产轮动策略，管理 AAPL 和 GOOGL。
规则：
1. 分别查询两个资产的 RSI（用 symbol 参数）
2. 持有 RSI 最低（最超卖）的资产，单票仓位不超过 40%
3. 当持有资产不再是最超卖时，轮换到更超卖的资产
4. 全部资产 RSI > 55 时清仓
分析两个资产的相对强弱，在它们之间动态配置资金。`

const promptFreePlay = `你是一位天生的赌徒型交易员。你热爱风险，享受每一次下注的快感。
对你来说，空仓就是最大的风险——错过行情比亏损更让你难受。

看 2-3 个指标就够了，别磨叽，快点出手。

每次你必须交易，可以做多或者做空，也可以做T

你的信条：市场奖励行动者，惩罚犹豫者。
唯一目标：赚钱。大胆交易，享受过程。`

const promptReflective = `反思型交易风格。你的核心能力是从经验中学习。

每次决策前：
1. 用 memory_recall 回顾过去的交易记录和反思笔记
2. 分析哪些决策是正确的，哪些是错误的
3. 基于历史教训做出当前决策

每次交易后：
1. 用 memory_note 记录本次决策的理由和市场状态
2. 用 memory_log 写下对本次决策的反思

你的交易风格应该随着经验积累而进化。早期可以大胆试探，后期应该越来越精准。`

const promptQuantCompute = `量化研究风格，优先使用 compute 工具做分析。

决策流程：
1. 用 compute 一次性计算关键指标（RSI、均线、ATR 等）
2. 根据指标值决策
3. 用 trade_execute 执行交易

compute 示例：
  rsi = latest(ta.rsi(df.close, 14))
  sma20 = latest(df.close.rolling(20).mean())
  atr = latest(ta.atr(df.high, df.low, df.close, 14))
  upper, mid, lower = bbands(df.close, 20, 2)
  macd_val, signal, hist = macd(df.close)
  cross = crossover(df.close.rolling(10).mean(), df.close.rolling(30).mean())
  qty = max(1, int(equity * 0.02 / atr)) if atr else 0
  result = {'rsi': rsi, 'sma20': sma20, 'bb_upper': upper, 'cross': cross, 'qty': qty}

注意：bbands()/macd() 数据不足时返回 (None, None, None)，需判空。
简洁高效：2-4 个指标足以做出好决策。`

// builtins returns the built-in definitions in display order.
func builtins() []Definition {
	return []Definition{
		{
			Name:             "rsi",
			Description:      "RSI 均值回归 — 市价单 + 单指标",
			Prompt:           promptRSI,
			Regime:           "mean_reverting",
			Seed:             42,
			Bars:             60,
			DecisionStartBar: 14,
			MaxRounds:        DefaultMaxRounds,
			Symbol:           DefaultSymbol,
			Features:         []string{"市价单", "单指标", "memory_log"},
			Script:           "rsi",
		},
		{
			Name:             "bracket_atr",
			Description:      "均线交叉 + Bracket 动态风控",
			Prompt:           promptBracketATR,
			Regime:           "trending",
			Seed:             100,
			Bars:             80,
			DecisionStartBar: 30,
			MaxRounds:        DefaultMaxRounds,
			Symbol:           DefaultSymbol,
			Features:         []string{"Bracket订单", "多指标融合", "动态止损止盈"},
			Script:           "bracket_atr",
		},
		{
			Name:             "bollinger_limit",
			Description:      "布林带 + 限价单生命周期",
			Prompt:           promptBollingerLimit,
			Regime:           "volatile",
			Seed:             200,
			Bars:             80,
			DecisionStartBar: 20,
			MaxRounds:        DefaultMaxRounds,
			Symbol:           DefaultSymbol,
			Features:         []string{"限价单", "order_query", "order_cancel", "valid_bars"},
			Script:           "bollinger_limit",
		},
		{
			Name:             "adaptive_memory",
			Description:      "记忆驱动自适应策略",
			Prompt:           promptAdaptiveMemory,
			Regime:           "mean_reverting",
			Seed:             300,
			Bars:             100,
			DecisionStartBar: 14,
			MaxRounds:        DefaultMaxRounds,
			Symbol:           DefaultSymbol,
			Features:         []string{"memory_note", "memory_recall", "自适应仓位"},
			Script:           "adaptive_memory",
		},
		{
			Name:             "multi_asset",
			Description:      "多资产轮动 + 保守风控",
			Prompt:           promptMultiAsset,
			Regime:           "bull_bear",
			Seed:             400,
			Bars:             80,
			DecisionStartBar: 14,
			MaxRounds:        DefaultMaxRounds,
			Symbol:           "AAPL",
			Risk:             models.RiskConfig{MaxPositionPct: 0.45, MaxOpenPositions: 2},
			Features:         []string{"多资产", "风控配置", "轮动"},
			ExtraSymbols:     []ExtraSymbol{{Symbol: "GOOGL", Seed: 401}},
			Script:           "multi_asset",
		},
		{
			Name:             "free_play",
			Description:      "AI 自由交易员 — 全工具链自由探索",
			Prompt:           promptFreePlay,
			Regime:           "random",
			Seed:             42,
			Bars:             60,
			DecisionStartBar: DefaultDecisionStartBar,
			MaxRounds:        25,
			Symbol:           DefaultSymbol,
			Features:         []string{"全工具链", "AI自由度最高"},
		},
		{
			Name:             "reflective",
			Description:      "反思型交易员 — 记忆系统深度使用",
			Prompt:           promptReflective,
			Regime:           "random",
			Seed:             42,
			Bars:             80,
			DecisionStartBar: DefaultDecisionStartBar,
			MaxRounds:        25,
			Symbol:           DefaultSymbol,
			Features:         []string{"记忆系统深度", "自我反思"},
		},
		{
			Name:             "quant_compute",
			Description:      "compute 量化研究员 — 纯沙箱计算驱动",
			Prompt:           promptQuantCompute,
			Regime:           "trending",
			Seed:             500,
			Bars:             80,
			DecisionStartBar: 30,
			MaxRounds:        DefaultMaxRounds,
			Symbol:           DefaultSymbol,
			Features:         []string{"compute沙箱", "自定义指标", "ATR仓位", "市场状态识别", "helper函数"},
			Script:           "quant_compute",
		},
	}
}
