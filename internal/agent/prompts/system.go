// Package prompts contains the system prompts handed to the decision agent.
// The framework prompt defines the trader role and tool discipline; the
// strategy playbook is injected per run.
package prompts

import "strings"

// StrategyPlaceholder marks where a custom system prompt wants the strategy
// playbook substituted.
const StrategyPlaceholder = "{strategy}"

// Framework is the built-in system prompt. It is combined with the run's
// strategy playbook, wrapped in <strategy> tags, when no custom prompt is set.
const Framework = `你是一名系统化交易员，在一个逐 bar 推进的回测环境中做决策。

## 交易环境
- 每根 bar 你会收到最新行情、账户状态和近期事件的快照，数据已是最新，无需重复获取。
- 订单在下一根 bar 撮合：市价单按开盘价成交，限价/止损单按触发条件成交。
- 风控由引擎强制执行，被拒绝的订单会返回原因，请根据原因调整而不是重复提交。

## 工具使用
- indicator_calc 查常用指标；复杂分析用 compute 沙箱，一次算完多个量。
- 交易必须通过 trade_execute 提交；不交易时提交 action=hold。
- 值得记住的结论用 memory_log / memory_note 写入，后续可用 memory_recall 找回。

## 决策要求
- 每轮决策最终给出明确动作：buy / sell / close / hold。
- 决策理由要引用具体数据（指标值、价格、持仓），不要空泛描述。
- 严格执行下面 <strategy> 中的策略，不要临场发明规则。`

// Build resolves the system prompt for a run. A custom prompt containing
// the {strategy} placeholder gets the playbook substituted in; a custom
// prompt without it is used verbatim; an empty custom prompt falls back to
// the framework prompt with the playbook appended in <strategy> tags.
func Build(custom, playbook string) string {
	if custom != "" {
		if strings.Contains(custom, StrategyPlaceholder) {
			return strings.ReplaceAll(custom, StrategyPlaceholder, playbook)
		}
		return custom
	}
	return Framework + "\n\n<strategy>\n" + playbook + "\n</strategy>"
}
