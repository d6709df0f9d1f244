package trace

import "strings"

// ModelPrice 每百万 token 的美元单价
type ModelPrice struct {
	PromptUSD     float64
	CompletionUSD float64
}

// 常用模型价格表，未命中时按前缀匹配，仍未命中用保守默认值
var modelPrices = map[string]ModelPrice{
	"gpt-4o":        {PromptUSD: 2.50, CompletionUSD: 10.00},
	"gpt-4o-mini":   {PromptUSD: 0.15, CompletionUSD: 0.60},
	"gpt-4-turbo":   {PromptUSD: 10.00, CompletionUSD: 30.00},
	"gpt-3.5-turbo": {PromptUSD: 0.50, CompletionUSD: 1.50},
	"o3-mini":       {PromptUSD: 1.10, CompletionUSD: 4.40},
}

var defaultPrice = ModelPrice{PromptUSD: 2.50, CompletionUSD: 10.00}

// 前缀匹配顺序，长前缀优先，保证 gpt-4o-mini-2024 命中 mini 价格
var pricePrefixes = []string{"gpt-4o-mini", "gpt-4-turbo", "gpt-3.5-turbo", "o3-mini", "gpt-4o"}

// PriceFor 查询模型单价
func PriceFor(model string) ModelPrice {
	if p, ok := modelPrices[model]; ok {
		return p
	}
	for _, prefix := range pricePrefixes {
		if strings.HasPrefix(model, prefix) {
			return modelPrices[prefix]
		}
	}
	return defaultPrice
}

// EstimateCost 根据 token 用量估算一次调用的美元成本
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p := PriceFor(model)
	return float64(promptTokens)/1e6*p.PromptUSD + float64(completionTokens)/1e6*p.CompletionUSD
}
