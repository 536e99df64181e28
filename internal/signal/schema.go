package signal

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchema 只约束上游交易计划的骨架，字段细节由 ParsePayload 做强类型校验。
const payloadSchema = `{
  "type": "object",
  "required": ["symbol"],
  "properties": {
    "symbol": {"type": "string", "minLength": 1},
    "timeframe": {"type": "string"},
    "signal_type": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "overall_signal": {
      "type": "object",
      "properties": {
        "signal": {"type": "string"},
        "confidence": {"type": "number", "minimum": 0, "maximum": 100},
        "reason": {"type": "string"}
      }
    },
    "entries": {
      "type": "array",
      "items": {
        "type": "object",
        "anyOf": [{"required": ["level"]}, {"required": ["price"]}],
        "properties": {
          "level": {"type": "number", "exclusiveMinimum": 0},
          "price": {"type": "number", "exclusiveMinimum": 0},
          "weight": {"type": "number", "minimum": 0}
        }
      }
    },
    "take_profits": {
      "type": "array",
      "items": {
        "type": "object",
        "anyOf": [{"required": ["level"]}, {"required": ["price"]}],
        "properties": {
          "level": {"type": "number", "exclusiveMinimum": 0},
          "price": {"type": "number", "exclusiveMinimum": 0},
          "reward_ratio": {"type": "number"}
        }
      }
    },
    "stop_loss": {
      "anyOf": [
        {"type": "number", "exclusiveMinimum": 0},
        {"type": "object", "anyOf": [{"required": ["level"]}, {"required": ["price"]}]}
      ]
    }
  }
}`

// Schema 是编译后的载荷 JSON schema。
type Schema struct {
	compiled *jsonschema.Schema
}

// DefaultSchema 返回内置 schema。
func DefaultSchema() (*Schema, error) {
	return compileSchema(payloadSchema)
}

// LoadSchema 从文件读取自定义 schema；path 为空时使用内置 schema。
func LoadSchema(path string) (*Schema, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultSchema()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read payload schema failed: %w", err)
	}
	return compileSchema(string(raw))
}

func compileSchema(raw string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("payload.json", strings.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load payload schema failed: %w", err)
	}
	compiled, err := compiler.Compile("payload.json")
	if err != nil {
		return nil, fmt.Errorf("compile payload schema failed: %w", err)
	}
	return &Schema{compiled: compiled}, nil
}

// Validate 校验已解析的 JSON 文档；数字字符串先转换为数字。
func (s *Schema) Validate(raw string) error {
	if s == nil || s.compiled == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return err
	}
	return s.compiled.Validate(sanitizeNumbers(doc))
}

// sanitizeNumbers 递归将字符串形式的数字转为 float64，兼容模型输出 "3000" 而非 3000 的情况。
func sanitizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeNumbers(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeNumbers(child)
		}
		return out
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
		return val
	default:
		return val
	}
}
