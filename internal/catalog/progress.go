package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Step identifies where in the chunk pipeline a running job currently is.
type Step string

const (
	StepQueued       Step = "queued"
	StepDownloading  Step = "downloading"
	StepChunking     Step = "chunking"
	StepTranscribing Step = "transcribing"
	StepCombining    Step = "combining"
	StepSaving       Step = "saving"
	StepCancelled    Step = "cancelled"
)

// ChunkText records one successfully transcribed chunk.
type ChunkText struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// ChunkError records the most recent failure for one chunk.
type ChunkError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// Progress is the durable per-job state the chunk pipeline checkpoints after
// every chunk. It is the only state shared between the orchestrator and the
// worker process; no in-memory job state survives a restart.
//
// Chunk results are stored as arrays of indexed records rather than maps so
// the JSON encoding keeps integer indices explicit.
type Progress struct {
	Step      Step         `json:"step"`
	Current   int          `json:"current,omitempty"`
	Total     int          `json:"total,omitempty"`
	Message   string       `json:"message,omitempty"`
	Completed []ChunkText  `json:"completed,omitempty"`
	Failed    []ChunkError `json:"failed,omitempty"`
}

// NewProgress returns a progress record at the given step.
func NewProgress(step Step, message string) *Progress {
	return &Progress{Step: step, Message: message}
}

// SetStep updates the step and message, and the chunk counters when both are
// non-negative.
func (p *Progress) SetStep(step Step, message string, current, total int) {
	p.Step = step
	p.Message = message
	if current >= 0 {
		p.Current = current
	}
	if total >= 0 {
		p.Total = total
	}
}

// CompletedText returns the stored transcript for a chunk index.
func (p *Progress) CompletedText(index int) (string, bool) {
	for _, c := range p.Completed {
		if c.Index == index {
			return c.Text, true
		}
	}
	return "", false
}

// HasFailed reports whether a prior run recorded a failure for the index.
func (p *Progress) HasFailed(index int) bool {
	for _, f := range p.Failed {
		if f.Index == index {
			return true
		}
	}
	return false
}

// SetCompleted records a chunk transcript. A retried index moves from the
// failed set to the completed set; the two sets stay disjoint.
func (p *Progress) SetCompleted(index int, text string) {
	for i := range p.Completed {
		if p.Completed[i].Index == index {
			p.Completed[i].Text = text
			p.removeFailed(index)
			return
		}
	}
	p.Completed = append(p.Completed, ChunkText{Index: index, Text: text})
	sort.Slice(p.Completed, func(i, j int) bool { return p.Completed[i].Index < p.Completed[j].Index })
	p.removeFailed(index)
}

// SetChunkError records the latest error for a chunk index. Indices already
// completed are never marked failed.
func (p *Progress) SetChunkError(index int, message string) {
	if _, ok := p.CompletedText(index); ok {
		return
	}
	for i := range p.Failed {
		if p.Failed[i].Index == index {
			p.Failed[i].Error = message
			return
		}
	}
	p.Failed = append(p.Failed, ChunkError{Index: index, Error: message})
	sort.Slice(p.Failed, func(i, j int) bool { return p.Failed[i].Index < p.Failed[j].Index })
}

func (p *Progress) removeFailed(index int) {
	for i := range p.Failed {
		if p.Failed[i].Index == index {
			p.Failed = append(p.Failed[:i], p.Failed[i+1:]...)
			return
		}
	}
}

// AssembleTranscript joins completed chunk texts in index order. Indices that
// never completed are omitted. The second return lists the missing indices in
// [0, total).
func (p *Progress) AssembleTranscript(total int) (string, []int) {
	parts := make([]string, 0, len(p.Completed))
	have := make(map[int]struct{}, len(p.Completed))
	for _, c := range p.Completed {
		if text := strings.TrimSpace(c.Text); text != "" {
			parts = append(parts, text)
		}
		have[c.Index] = struct{}{}
	}
	var missing []int
	for i := 0; i < total; i++ {
		if _, ok := have[i]; !ok {
			missing = append(missing, i)
		}
	}
	return strings.Join(parts, " "), missing
}

// ParseProgress decodes a persisted progress record. Empty input yields nil.
func ParseProgress(raw string) (*Progress, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var p Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	return &p, nil
}

// JSON encodes the progress record for persistence.
func (p *Progress) JSON() (string, error) {
	if p == nil {
		return "", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal progress: %w", err)
	}
	return string(data), nil
}
