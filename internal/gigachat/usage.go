package gigachat

import "sync/atomic"

// Usage is a token-count triple as reported by the API's usage block.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Sub returns the delta u - prev. Used with ledger snapshots to attribute
// the cost of one operation to its owning document.
func (u Usage) Sub(prev Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens - prev.PromptTokens,
		CompletionTokens: u.CompletionTokens - prev.CompletionTokens,
		TotalTokens:      u.TotalTokens - prev.TotalTokens,
	}
}

// Add returns the sum u + d.
func (u Usage) Add(d Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + d.PromptTokens,
		CompletionTokens: u.CompletionTokens + d.CompletionTokens,
		TotalTokens:      u.TotalTokens + d.TotalTokens,
	}
}

// UsageLedger accumulates token usage across all calls made through one
// client. It is handed to the client at construction so ownership is
// explicit; concurrent jobs share it safely.
type UsageLedger struct {
	prompt     atomic.Int64
	completion atomic.Int64
	total      atomic.Int64
}

func NewUsageLedger() *UsageLedger {
	return &UsageLedger{}
}

func (l *UsageLedger) Record(u Usage) {
	l.prompt.Add(u.PromptTokens)
	l.completion.Add(u.CompletionTokens)
	l.total.Add(u.TotalTokens)
}

func (l *UsageLedger) Snapshot() Usage {
	return Usage{
		PromptTokens:     l.prompt.Load(),
		CompletionTokens: l.completion.Load(),
		TotalTokens:      l.total.Load(),
	}
}
