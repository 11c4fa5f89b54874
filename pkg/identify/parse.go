package identify

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/menta2k/coin-id/pkg/consensus"
	"github.com/menta2k/coin-id/pkg/types"
)

var (
	// ErrNoJSON means the response contained no {...} object at all.
	ErrNoJSON = errors.New("no json object in model response")
	// ErrMalformedJSON means an object was found but could not be decoded.
	ErrMalformedJSON = errors.New("malformed json in model response")
	// ErrEmptyRecord means the object decoded but carried no values.
	ErrEmptyRecord = errors.New("empty json object in model response")
)

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reAfterComment = regexp.MustCompile(`(?m)([,{\[])[ \t]*//[^\n]*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// keyAliases maps the German field names used by earlier prompts onto the schema.
var keyAliases = map[string]string{
	"bestimmung":       types.FieldSummary,
	"land":             types.FieldCountry,
	"nennwert":         types.FieldDenomination,
	"nominal":          types.FieldDenomination,
	"herrscher":        types.FieldRuler,
	"jahr":             types.FieldYear,
	"motiv":            types.FieldMotif,
	"fein_details":     types.FieldDetails,
	"legende":          types.FieldLegend,
	"inschriften":      types.FieldLegend,
	"handels_keywords": types.FieldKeywords,
	"analyse":          types.FieldReasoning,
}

// ParseStructured extracts the JSON object between the first '{' and the last
// '}' of a model response. Missing or broken JSON is reported through the
// package errors; callers treat both as an ordinary unusable attempt.
func ParseStructured(raw string) (consensus.Record, error) {
	obj, ok := outermostObject(raw)
	if !ok {
		return nil, ErrNoJSON
	}

	fields := map[string]any{}
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		// Retry once with fences, comments and trailing commas stripped.
		cleaned, ok := outermostObject(sanitizeModelJSON(raw))
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
		}
		fields = map[string]any{}
		if err2 := json.Unmarshal([]byte(cleaned), &fields); err2 != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err2)
		}
	}

	rec := consensus.Record{}
	for k, v := range fields {
		key := normalizeKey(k)
		val := stringify(v)
		if key == "" || val == "" {
			continue
		}
		rec[key] = val
	}
	if len(rec) == 0 {
		return nil, ErrEmptyRecord
	}
	return rec, nil
}

func outermostObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

// sanitizeModelJSON removes code fences, comments, and trailing commas.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reAfterComment.ReplaceAllString(raw, "$1")
	raw = reTrailing.ReplaceAllString(raw, "$1")
	return strings.TrimSpace(raw)
}

func normalizeKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, " ", "_")
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}
