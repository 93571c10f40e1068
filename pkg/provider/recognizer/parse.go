package recognizer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/meetscribe/pkg/session"
)

// Response variants understood by [Parse], in the order they are tried.
const (
	VariantOperation = "operation"
	VariantEnvelope  = "envelope"
	VariantArray     = "array"
	VariantSDKTuple  = "sdk-tuple"
)

// variant extracts the raw result array from one response shape. ok is false
// when the payload does not have that shape.
type variant struct {
	name    string
	extract func(data []byte) (results json.RawMessage, ok bool, err error)
}

var variants = []variant{
	{VariantOperation, extractOperation},
	{VariantEnvelope, extractEnvelope},
	{VariantArray, extractArray},
	{VariantSDKTuple, extractSDKTuple},
}

// Parse decodes a recognition response in any of the supported shapes:
//
//   - operation: {"name": ..., "done": true, "response": {"results": [...]}}
//   - envelope:  {"results": [...]}
//   - array:     [{"alternatives": [...]}, ...]
//   - sdk-tuple: [{"results": [...]}, {metadata}]
//
// It returns the parsed result and the name of the matching variant. A payload
// matching none of them yields [ErrUnrecognizedResponse]. An operation that
// finished with an error yields [ErrOperationFailed].
func Parse(data []byte) (*Result, string, error) {
	for _, v := range variants {
		raw, ok, err := v.extract(data)
		if err != nil {
			return nil, v.name, err
		}
		if !ok {
			continue
		}
		res, err := buildResult(raw)
		if err != nil {
			return nil, v.name, fmt.Errorf("recognizer: decode %s results: %w", v.name, err)
		}
		return res, v.name, nil
	}
	return nil, "", ErrUnrecognizedResponse
}

// ---- variants ---------------------------------------------------------------

type operationJSON struct {
	Name     *string         `json:"name"`
	Done     *bool           `json:"done"`
	Response json.RawMessage `json:"response"`
	Error    *OperationError `json:"error"`
}

// OperationError is the error payload of a failed long-running operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("code %d: %s", e.Code, e.Message)
}

func extractOperation(data []byte) (json.RawMessage, bool, error) {
	if !isObject(data) {
		return nil, false, nil
	}
	var op operationJSON
	if err := json.Unmarshal(data, &op); err != nil || op.Name == nil || op.Done == nil {
		return nil, false, nil
	}
	if !*op.Done {
		return nil, false, fmt.Errorf("recognizer: operation %s is not done", *op.Name)
	}
	if op.Error != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrOperationFailed, op.Error)
	}
	if len(op.Response) == 0 {
		return emptyResults, true, nil
	}
	raw, ok, err := extractEnvelope(op.Response)
	if err != nil || !ok {
		return nil, false, err
	}
	return raw, true, nil
}

// extractEnvelope accepts any object without operation fields. A response with
// no speech carries no "results" key at all, only billing metadata.
func extractEnvelope(data []byte) (json.RawMessage, bool, error) {
	if !isObject(data) {
		return nil, false, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, nil
	}
	if _, hasDone := env["done"]; hasDone {
		return nil, false, nil
	}
	results, ok := env["results"]
	if !ok || isNull(results) {
		if len(env) == 0 || env["@type"] != nil || env["totalBilledTime"] != nil {
			return emptyResults, true, nil
		}
		return nil, false, nil
	}
	if !isArray(results) {
		return nil, false, nil
	}
	return results, true, nil
}

func extractArray(data []byte) (json.RawMessage, bool, error) {
	elems, ok := arrayElems(data)
	if !ok {
		return nil, false, nil
	}
	if len(elems) == 0 {
		return emptyResults, true, nil
	}
	if !hasKey(elems[0], "alternatives") {
		return nil, false, nil
	}
	return bytes.TrimSpace(data), true, nil
}

func extractSDKTuple(data []byte) (json.RawMessage, bool, error) {
	elems, ok := arrayElems(data)
	if !ok || len(elems) == 0 || !hasKey(elems[0], "results") {
		return nil, false, nil
	}
	return extractEnvelope(elems[0])
}

var emptyResults = json.RawMessage("[]")

func isObject(data []byte) bool {
	d := bytes.TrimSpace(data)
	return len(d) > 0 && d[0] == '{'
}

func isArray(data []byte) bool {
	d := bytes.TrimSpace(data)
	return len(d) > 0 && d[0] == '['
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}

func arrayElems(data []byte) ([]json.RawMessage, bool) {
	if !isArray(data) {
		return nil, false
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, false
	}
	return elems, true
}

func hasKey(data []byte, key string) bool {
	if !isObject(data) {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// ---- result decoding --------------------------------------------------------

type resultJSON struct {
	Alternatives []alternativeJSON `json:"alternatives"`
}

type alternativeJSON struct {
	Transcript string     `json:"transcript"`
	Confidence float64    `json:"confidence"`
	Words      []wordJSON `json:"words"`
}

type wordJSON struct {
	Word         string `json:"word"`
	StartTime    offset `json:"startTime"`
	EndTime      offset `json:"endTime"`
	SpeakerTag   int    `json:"speakerTag"`
	SpeakerLabel string `json:"speakerLabel"`
}

func buildResult(raw json.RawMessage) (*Result, error) {
	var results []resultJSON
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, err
	}

	var (
		texts []string
		words []session.Word
	)
	for _, r := range results {
		if len(r.Alternatives) == 0 {
			continue
		}
		alt := r.Alternatives[0]
		if t := strings.TrimSpace(alt.Transcript); t != "" {
			texts = append(texts, t)
		}
		for _, w := range alt.Words {
			tag := w.SpeakerTag
			if tag == 0 && w.SpeakerLabel != "" {
				tag, _ = strconv.Atoi(w.SpeakerLabel)
			}
			words = append(words, session.Word{
				Text:       w.Word,
				Start:      time.Duration(w.StartTime),
				End:        time.Duration(w.EndTime),
				SpeakerTag: tag,
			})
		}
	}

	return &Result{
		Text:  strings.TrimSpace(strings.Join(texts, " ")),
		Words: words,
		Raw:   append(json.RawMessage(nil), raw...),
	}, nil
}

// offset is a time offset encoded either as a duration string ("1.500s") or
// as a {"seconds": "1", "nanos": 500000000} object.
type offset time.Duration

func (o *offset) UnmarshalJSON(data []byte) error {
	d := bytes.TrimSpace(data)
	if len(d) == 0 || isNull(d) {
		return nil
	}
	if d[0] == '"' {
		var s string
		if err := json.Unmarshal(d, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse offset %q: %w", s, err)
		}
		*o = offset(v)
		return nil
	}
	var obj struct {
		Seconds json.Number `json:"seconds"`
		Nanos   int64       `json:"nanos"`
	}
	if err := json.Unmarshal(d, &obj); err != nil {
		return fmt.Errorf("parse offset %s: %w", d, err)
	}
	var secs int64
	if obj.Seconds != "" {
		n, err := obj.Seconds.Int64()
		if err != nil {
			return fmt.Errorf("parse offset seconds %q: %w", obj.Seconds, err)
		}
		secs = n
	}
	*o = offset(time.Duration(secs)*time.Second + time.Duration(obj.Nanos))
	return nil
}
