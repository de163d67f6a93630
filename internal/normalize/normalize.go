// Package normalize extracts an (emotion, confidence) pair from the
// inference service's response, which has no stable contract.
package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	apperrors "github.com/moodsync/platform/internal/errors"
)

// DefaultConfidence is used by the heuristic matcher when no confidence is found.
const DefaultConfidence = 0.8

// Match is a raw extraction result. Confidence may be a fraction, a
// percentage, NaN or out of range; calibration deals with that.
type Match struct {
	Emotion    string
	Confidence float64
}

// Matcher recognizes one response shape.
type Matcher struct {
	Name  string
	Match func(doc gjson.Result) (Match, bool)
}

// DefaultMatchers returns the known shapes in priority order.
func DefaultMatchers() []Matcher {
	return []Matcher{
		{Name: "primary_emotion", Match: nestedShape("primary_emotion")},
		{Name: "flat", Match: flatShape},
		{Name: "result", Match: nestedShape("result")},
		{Name: "array", Match: arrayShape},
		{Name: "heuristic", Match: heuristicShape},
	}
}

// Normalizer applies matchers in order and returns the first match.
type Normalizer struct {
	matchers []Matcher
}

// New creates a normalizer. With no matchers the default shapes are used.
func New(matchers ...Matcher) *Normalizer {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Normalizer{matchers: matchers}
}

// Normalize parses raw and extracts the first matching shape.
func (n *Normalizer) Normalize(raw []byte) (Match, error) {
	m, _, err := n.NormalizeShape(raw)
	return m, err
}

// NormalizeShape is Normalize that also reports which matcher fired.
func (n *Normalizer) NormalizeShape(raw []byte) (Match, string, error) {
	if !gjson.ValidBytes(raw) {
		return Match{}, "", apperrors.New(apperrors.CodeInvalidJSON, "response is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	for _, m := range n.matchers {
		if res, ok := m.Match(doc); ok {
			return res, m.Name, nil
		}
	}
	return Match{}, "", apperrors.New(apperrors.CodeNoEmotionField, "no emotion found in response")
}

// nestedShape matches { <key>: { emotion, confidence } }.
func nestedShape(key string) func(gjson.Result) (Match, bool) {
	return func(doc gjson.Result) (Match, bool) {
		return emotionPair(field(doc, key))
	}
}

// flatShape matches { emotion, confidence }.
func flatShape(doc gjson.Result) (Match, bool) {
	return emotionPair(doc)
}

// arrayShape matches [ { emotion, confidence }, ... ].
func arrayShape(doc gjson.Result) (Match, bool) {
	if !doc.IsArray() {
		return Match{}, false
	}
	items := doc.Array()
	if len(items) == 0 {
		return Match{}, false
	}
	return emotionPair(items[0])
}

func emotionPair(obj gjson.Result) (Match, bool) {
	emotion, ok := emotionText(field(obj, "emotion"))
	if !ok {
		return Match{}, false
	}
	return Match{Emotion: emotion, Confidence: orZero(field(obj, "confidence"))}, true
}

// heuristicShape takes the first key mentioning emotion or mood.
func heuristicShape(doc gjson.Result) (Match, bool) {
	keys, values := entries(doc)
	emotionKey, ok := firstKey(keys, "emotion", "mood")
	if !ok {
		return Match{}, false
	}
	val := values[emotionKey]
	if !truthy(val) {
		return Match{}, false
	}

	switch {
	case val.Type == gjson.String:
		conf := DefaultConfidence
		if confKey, ok := firstKey(keys, "confidence", "score"); ok {
			conf = toFloat(values[confKey])
		}
		return Match{Emotion: val.Str, Confidence: conf}, true
	case val.IsObject():
		emotion, ok := emotionText(field(val, "emotion"))
		if !ok {
			if emotion, ok = emotionText(field(val, "name")); !ok {
				return Match{}, false
			}
		}
		conf := DefaultConfidence
		if c := field(val, "confidence"); truthy(c) {
			conf = toFloat(c)
		} else if s := field(val, "score"); truthy(s) {
			conf = toFloat(s)
		}
		return Match{Emotion: emotion, Confidence: conf}, true
	default:
		return Match{}, false
	}
}

// field returns obj[key]; the last duplicate wins, as in a JSON.parse'd object.
func field(obj gjson.Result, key string) gjson.Result {
	var out gjson.Result
	if !obj.IsObject() {
		return out
	}
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.Str == key {
			out = v
		}
		return true
	})
	return out
}

// entries returns object keys in first-seen order, with last-seen values.
func entries(obj gjson.Result) ([]string, map[string]gjson.Result) {
	values := make(map[string]gjson.Result)
	if !obj.IsObject() {
		return nil, values
	}
	var keys []string
	obj.ForEach(func(k, v gjson.Result) bool {
		if _, seen := values[k.Str]; !seen {
			keys = append(keys, k.Str)
		}
		values[k.Str] = v
		return true
	})
	return keys, values
}

func firstKey(keys []string, needles ...string) (string, bool) {
	for _, k := range keys {
		lower := strings.ToLower(k)
		for _, n := range needles {
			if strings.Contains(lower, n) {
				return k, true
			}
		}
	}
	return "", false
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.True:
		return true
	case gjson.JSON:
		return true
	default:
		return false
	}
}

// emotionText accepts non-empty strings, non-zero numbers and true.
func emotionText(r gjson.Result) (string, bool) {
	if !truthy(r) {
		return "", false
	}
	switch r.Type {
	case gjson.String:
		return r.Str, true
	case gjson.Number:
		return strconv.FormatFloat(r.Num, 'f', -1, 64), true
	case gjson.True:
		return "true", true
	default:
		return "", false
	}
}

func orZero(r gjson.Result) float64 {
	if !truthy(r) {
		return 0
	}
	return toFloat(r)
}

func toFloat(r gjson.Result) float64 {
	switch r.Type {
	case gjson.Number:
		return r.Num
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case gjson.True:
		return 1
	case gjson.False, gjson.Null:
		return 0
	default:
		return math.NaN()
	}
}
