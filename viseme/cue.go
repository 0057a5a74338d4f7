package viseme

import (
	"encoding/json"
	"fmt"
)

// RawCue 工具原生输出的一条口型提示，时间相对于当前波形文件
type RawCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value string  `json:"value"`
}

// MouthCue 翻译后的口型提示，时间相对于整个会话
type MouthCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value int     `json:"value"`
}

// Result 单个音频块的提取结果
type Result struct {
	MouthCues []MouthCue `json:"mouthCues"`
	Metadata  Metadata   `json:"metadata"`
}

// Metadata carries the tool-reported duration plus every other metadata
// field the tool emitted, passed through verbatim.
type Metadata struct {
	Duration float64
	Extra    map[string]json.RawMessage
}

// MarshalJSON 将 Extra 字段与 duration 合并输出
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	d, err := json.Marshal(m.Duration)
	if err != nil {
		return nil, err
	}
	out["duration"] = d
	return json.Marshal(out)
}

// UnmarshalJSON 拆出 duration，其余字段保留在 Extra 中
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Duration = 0
	if d, ok := raw["duration"]; ok {
		if err := json.Unmarshal(d, &m.Duration); err != nil {
			return fmt.Errorf("metadata.duration: %w", err)
		}
		delete(raw, "duration")
	}
	if len(raw) > 0 {
		m.Extra = raw
	} else {
		m.Extra = nil
	}
	return nil
}

// Translate converts tool-native cues into viseme cues and shifts both
// bounds by offset seconds. The first unknown symbol fails the whole batch.
func Translate(raw []RawCue, offset float64) ([]MouthCue, error) {
	cues := make([]MouthCue, 0, len(raw))
	for _, rc := range raw {
		id, err := ShapeToID(rc.Value)
		if err != nil {
			return nil, err
		}
		cues = append(cues, MouthCue{
			Start: rc.Start + offset,
			End:   rc.End + offset,
			Value: id,
		})
	}
	return cues, nil
}

// Last returns the final cue of the result, if any.
func (r *Result) Last() (MouthCue, bool) {
	if r == nil || len(r.MouthCues) == 0 {
		return MouthCue{}, false
	}
	return r.MouthCues[len(r.MouthCues)-1], true
}
