package signal

import (
	"fmt"
	"strings"
	"time"

	"sigtrack/internal/pkg/convert"
	"sigtrack/internal/pkg/jsonutil"

	"github.com/tidwall/gjson"
)

// ParseOptions 控制上游载荷到 Draft 的转换。
type ParseOptions struct {
	// NormalizeWeights 为 true 时，总和不为 1 的权重按比例缩放；否则交给 New 拒绝。
	NormalizeWeights bool
	Schema           *Schema
	// 载荷未给出时的兜底值
	Timeframe   string
	OwnerID     int64
	GeneratedAt time.Time
}

// ParsePayload 把上游生成器的松散 JSON（可能包在 ``` 代码块里）转换成严格的 Draft。
// 返回的错误均包装 ErrInvalidSignalShape。
func ParsePayload(raw []byte, opts ParseOptions) (Draft, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return Draft{}, shapeErr("payload 为空")
	}
	if !gjson.Valid(text) {
		obj, ok := jsonutil.ExtractObject(text)
		if !ok || !gjson.Valid(obj) {
			return Draft{}, shapeErr("payload 不是有效 JSON")
		}
		text = obj
	}
	doc := gjson.Parse(text)
	if !doc.IsObject() {
		return Draft{}, shapeErr("payload 根节点必须是对象")
	}
	if err := opts.Schema.Validate(text); err != nil {
		return Draft{}, shapeErr("schema: %v", err)
	}

	d := Draft{
		Symbol:      doc.Get("symbol").String(),
		Timeframe:   firstString(doc, "timeframe", "interval"),
		OwnerID:     opts.OwnerID,
		PlanID:      firstString(doc, "plan_id", "id"),
		GeneratedAt: opts.GeneratedAt,
	}
	if d.Timeframe == "" {
		d.Timeframe = opts.Timeframe
	}
	if uid := doc.Get("owner_id"); uid.Exists() && d.OwnerID == 0 {
		d.OwnerID = uid.Int()
	}

	overall := doc.Get("overall_signal")
	rawType := firstString(doc, "signal_type", "signal", "action")
	if overall.IsObject() {
		if s := firstString(overall, "signal", "signal_type"); s != "" {
			rawType = s
		}
	}
	t, ok := ParseType(rawType)
	if !ok {
		return Draft{}, shapeErr("signal_type %q 不支持", rawType)
	}
	d.Type = t

	conf := doc.Get("confidence")
	if overall.IsObject() && overall.Get("confidence").Exists() {
		conf = overall.Get("confidence")
	}
	d.Confidence = normalizeConfidence(number(conf))

	d.Note = firstString(doc, "note", "reason")
	if overall.IsObject() && d.Note == "" {
		d.Note = overall.Get("reason").String()
	}

	if ts := doc.Get("generated_at"); ts.Exists() && d.GeneratedAt.IsZero() {
		at, err := parseTime(ts)
		if err != nil {
			return Draft{}, shapeErr("generated_at: %v", err)
		}
		d.GeneratedAt = at
	}
	if ts := doc.Get("expires_at"); ts.Exists() && ts.Type != gjson.Null {
		at, err := parseTime(ts)
		if err != nil {
			return Draft{}, shapeErr("expires_at: %v", err)
		}
		d.ExpiresAt = &at
	}

	if !t.IsDirectional() {
		if err := finiteDraft(d); err != nil {
			return Draft{}, err
		}
		return d, nil
	}

	d.Entries = parseEntries(doc.Get("entries"), opts.NormalizeWeights)
	doc.Get("take_profits").ForEach(func(_, v gjson.Result) bool {
		d.TakeProfits = append(d.TakeProfits, TakeProfit{
			Price:       levelOf(v),
			RewardRatio: number(v.Get("reward_ratio")),
		})
		return true
	})
	sl := doc.Get("stop_loss")
	if sl.IsObject() {
		d.StopLoss = levelOf(sl)
	} else {
		d.StopLoss = number(sl)
	}
	if err := finiteDraft(d); err != nil {
		return Draft{}, err
	}
	return d, nil
}

func parseEntries(node gjson.Result, normalize bool) []Entry {
	var (
		out       []Entry
		hasWeight bool
	)
	node.ForEach(func(_, v gjson.Result) bool {
		w := v.Get("weight")
		if w.Exists() {
			hasWeight = true
		}
		out = append(out, Entry{Price: levelOf(v), Weight: number(w)})
		return true
	})
	if len(out) == 0 {
		return out
	}
	weights := make([]float64, len(out))
	for i, e := range out {
		weights[i] = e.Weight
	}
	// 没有任何权重时平均分配；权重总和偏离 1 时只在允许归一化时处理
	if !hasWeight || (normalize && !convert.Within(convert.Float(convert.Sum(weights...)), 1, weightTolerance)) {
		return NormalizeWeights(out)
	}
	return out
}

func levelOf(v gjson.Result) float64 {
	if p := v.Get("price"); p.Exists() {
		return number(p)
	}
	return number(v.Get("level"))
}

// finiteDraft 拦截 "NaN"、"Inf" 这类能被解析成数字的字符串。
func finiteDraft(d Draft) error {
	return checkFinite(Signal{Confidence: d.Confidence, Entries: d.Entries, TakeProfits: d.TakeProfits, StopLoss: d.StopLoss})
}

// number 同时接受数字与数字字符串。
func number(v gjson.Result) float64 {
	switch v.Type {
	case gjson.Number:
		return v.Float()
	case gjson.String:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v.Str), "%"))
		return gjson.Parse(s).Float()
	default:
		return 0
	}
}

// normalizeConfidence 把 85 这类百分数转换成 0.85。
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		return convert.Float(convert.Dec(c).Div(convert.Dec(100)))
	}
	return c
}

func firstString(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(v.Get(k).String()); s != "" {
			return s
		}
	}
	return ""
}

func parseTime(v gjson.Result) (time.Time, error) {
	if v.Type == gjson.Number {
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(v.String()))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", v.String())
	}
	return at.UTC(), nil
}
