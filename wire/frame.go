// Package wire implements the length-prefixed text framing TradingView's
// streaming socket uses, the {m,p} envelope shape, and the outbound
// method/encoding tables that sit on top of it.
package wire

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/segmentio/encoding/json"
	"github.com/valyala/fastjson"
)

// splitter matches the frame delimiter the server interleaves between
// JSON payloads: ~m~<decimal length>~m~.
var splitter = regexp.MustCompile(`~m~[0-9]+~m~`)

// cleaner strips the ~h~ filler TradingView sometimes pads frames with.
var cleaner = regexp.MustCompile(`~h~`)

// Segment is one decoded unit from an inbound text frame: either a bare
// heartbeat number, or a parsed JSON envelope.
type Segment struct {
	Heartbeat    *int64
	Envelope     *Envelope
	ServerInfo   map[string]interface{}
	Raw          string
	DecodeFailed bool
}

// Envelope is the {m, p} shape used for every protocol message.
type Envelope struct {
	Method string        `json:"m"`
	Params []interface{} `json:"p"`
}

// Decode splits a raw inbound text frame on the ~m~N~m~ delimiter, parses
// each non-empty segment as JSON, and classifies it. Parse failures on an
// individual segment are reported via Segment.DecodeFailed rather than
// aborting the whole frame — one bad segment must never drop its siblings.
func Decode(frame string) []Segment {
	cleaned := cleaner.ReplaceAllString(frame, "")
	parts := splitter.Split(cleaned, -1)

	segments := make([]Segment, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		segments = append(segments, classify(part))
	}
	return segments
}

func classify(raw string) Segment {
	p := fastjson.Parser{}
	v, err := p.Parse(raw)
	if err != nil {
		return Segment{Raw: raw, DecodeFailed: true}
	}

	switch v.Type() {
	case fastjson.TypeNumber:
		n := v.GetInt64()
		return Segment{Heartbeat: &n, Raw: raw}
	case fastjson.TypeObject:
		obj := v.GetObject()
		hasM, hasP := false, false
		obj.Visit(func(key []byte, _ *fastjson.Value) {
			switch string(key) {
			case "m":
				hasM = true
			case "p":
				hasP = true
			}
		})
		if hasM && hasP {
			var env Envelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				return Segment{Raw: raw, DecodeFailed: true}
			}
			return Segment{Envelope: &env, Raw: raw}
		}
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &m); err == nil {
			return Segment{ServerInfo: m, Raw: raw}
		}
		return Segment{Raw: raw, DecodeFailed: true}
	default:
		return Segment{Raw: raw, DecodeFailed: true}
	}
}

// Encode serializes an {m,p} envelope and prepends the length-prefix
// delimiter. The length is the exact byte length of the serialized JSON.
func Encode(method string, params []interface{}) (string, error) {
	payload, err := json.Marshal(Envelope{Method: method, Params: params})
	if err != nil {
		return "", fmt.Errorf("wire: encode %s: %w", method, err)
	}
	return framePrefix(len(payload)) + string(payload), nil
}

// EncodeHeartbeat re-frames a heartbeat payload exactly as decoded, for
// verbatim echo back to the server.
func EncodeHeartbeat(raw string) string {
	return framePrefix(len(raw)) + raw
}

func framePrefix(n int) string {
	return "~m~" + strconv.Itoa(n) + "~m~"
}

// ParamAsString is a convenience for reading p[i] as a string, matching
// the loose untyped-array shape the protocol uses for params.
func ParamAsString(params []interface{}, i int) (string, bool) {
	if i < 0 || i >= len(params) {
		return "", false
	}
	s, ok := params[i].(string)
	return s, ok
}

// ParamIsSeriesID reports whether a params slot looks like a series
// identifier (sds_N or sds_sym_N) as opposed to a study slot (stN).
func ParamIsSeriesID(s string) bool {
	return strings.HasPrefix(s, "sds_")
}
