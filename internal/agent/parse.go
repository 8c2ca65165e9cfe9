package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// responseError describes a malformed model reply. Its text is fed back
// to the model as a system record so the next heartbeat can repair it.
type responseError struct{ msg string }

func (e *responseError) Error() string { return e.msg }

func responseErrorf(format string, a ...any) error {
	return &responseError{msg: fmt.Sprintf(format, a...)}
}

const regenerateHint = "Output exactly one well-formed JSON object with the top-level keys 'emotions', 'thoughts' and 'function_call' and try again."

// emotion is one (label, intensity) pair surfaced to the client.
type emotion struct {
	Label     string
	Intensity float64
}

// response is a validated model reply. FunctionCall is left untyped;
// the dispatcher owns its shape checks.
type response struct {
	Emotions     []emotion
	Thoughts     []string
	FunctionCall any
}

// parseResponse decodes the model's raw output into a response,
// enforcing the reply contract: a single JSON object with exactly the
// keys emotions, thoughts and function_call.
func parseResponse(raw string) (*response, error) {
	val, err := decodeStrict(raw)
	if err != nil {
		return nil, responseErrorf("Your last output was not a single well-formed JSON object (%s). %s", err, regenerateHint)
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return nil, responseErrorf("Your last output was not a single well-formed JSON object (the top-level JSON value must be an object). %s", regenerateHint)
	}

	for _, key := range sortedObjKeys(obj) {
		switch key {
		case "emotions", "thoughts", "function_call":
		default:
			return nil, responseErrorf("'%s' is not a valid top-level key ('emotions', 'thoughts' and 'function_call' are the only valid top-level keys)", key)
		}
	}
	for _, key := range []string{"emotions", "thoughts", "function_call"} {
		if _, ok := obj[key]; !ok {
			return nil, responseErrorf("The '%s' top-level key is missing from your output", key)
		}
	}

	emotions, err := parseEmotions(obj["emotions"])
	if err != nil {
		return nil, err
	}
	thoughts, err := parseThoughts(obj["thoughts"])
	if err != nil {
		return nil, err
	}
	return &response{Emotions: emotions, Thoughts: thoughts, FunctionCall: obj["function_call"]}, nil
}

var errBadEmotions = &responseError{msg: "'emotions' must be a list of [emotion, intensity] pairs, where emotion is a string and intensity is a number between 1 and 10"}

func parseEmotions(v any) ([]emotion, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, errBadEmotions
	}
	out := make([]emotion, 0, len(items))
	for _, it := range items {
		pair, ok := it.([]any)
		if !ok || len(pair) != 2 {
			return nil, errBadEmotions
		}
		label, ok := pair[0].(string)
		if !ok {
			return nil, errBadEmotions
		}
		intensity, ok := pair[1].(float64)
		if !ok || intensity < 1 || intensity > 10 {
			return nil, errBadEmotions
		}
		out = append(out, emotion{Label: label, Intensity: intensity})
	}
	return out, nil
}

func parseThoughts(v any) ([]string, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, responseErrorf("'thoughts' must be a list of strings")
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		s, ok := it.(string)
		if !ok {
			return nil, responseErrorf("'thoughts' must be a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// decodeStrict parses exactly one JSON value, rejecting duplicate
// object keys and trailing data. encoding/json silently keeps the last
// duplicate, which would let the model smuggle two function calls into
// one reply.
func decodeStrict(raw string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	val, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after the JSON value")
	}
	return val, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		obj := map[string]any{}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key := keyTok.(string)
			if _, dup := obj[key]; dup {
				return nil, fmt.Errorf("duplicate key '%s'", key)
			}
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			obj[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}

func sortedObjKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
