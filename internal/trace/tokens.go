package trace

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingMu    sync.Mutex
	encodingCache = map[string]*tiktoken.Tiktoken{}
)

// EstimateTokens 用 tiktoken 估算文本的 token 数
// 模型调用方未上报用量时的兜底，未知模型回退到 cl100k_base
func EstimateTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := encodingFor(model)
	if enc == nil {
		// 编码表不可用时按 4 字符 1 token 粗估
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

func encodingFor(model string) *tiktoken.Tiktoken {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	encodingCache[model] = enc
	return enc
}
