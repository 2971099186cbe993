package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/delaneyj/resumable/core"
)

// ObjInfo is a readable summary of one decoded obj.
type ObjInfo struct {
	ID         string
	Kind       string
	Preview    string
	Subscribed bool
}

const previewLen = 40

// Describe summarizes the objs of a decoded snapshot without reviving them.
func Describe(st *State) []ObjInfo {
	infos := make([]ObjInfo, len(st.Objs))
	for i, raw := range st.Objs {
		kind, preview := describeValue(raw)
		if len(preview) > previewLen {
			preview = preview[:previewLen-3] + "..."
		}
		infos[i] = ObjInfo{
			ID:         core.IntToStr(i),
			Kind:       kind,
			Preview:    preview,
			Subscribed: i < len(st.Subs),
		}
	}
	return infos
}

// InferMode guesses how a container was paused from its decoded payload. Any
// render-only metadata (props, watches or sequence slots) means render mode.
func InferMode(st *State) Mode {
	if len(st.Objs) == 0 && len(st.Ctx) == 0 {
		return ModeStatic
	}
	for _, m := range st.Ctx {
		if m.H != "" || m.W != "" || m.S != "" {
			return ModeRender
		}
	}
	return ModeListeners
}

func describeValue(raw any) (kind, preview string) {
	switch v := raw.(type) {
	case nil:
		return "null", "null"
	case bool:
		return "bool", fmt.Sprint(v)
	case json.Number:
		return "number", v.String()
	case []any:
		refs := make([]string, 0, len(v))
		for _, item := range v {
			refs = append(refs, fmt.Sprint(item))
		}
		return "list", "[" + strings.Join(refs, " ") + "]"
	case *orderedObject:
		fields := make([]string, len(v.keys))
		for i, k := range v.keys {
			fields[i] = fmt.Sprintf("%s=%v", k, v.values[i])
		}
		return "record", "{" + strings.Join(fields, " ") + "}"
	case string:
		if v == "" || v[0] >= 0x20 {
			return "string", fmt.Sprintf("%q", v)
		}
		body := v[1:]
		switch rune(v[0]) {
		case prefixUndefined:
			return "undefined", "undefined"
		case prefixQRL:
			return "qrl", body
		case prefixWatch:
			return "watch", body
		case prefixDocument:
			return "document", "#document"
		case prefixTime:
			return "time", body
		case prefixURL:
			return "url", body
		case prefixError:
			return "error", body
		case prefixString:
			return "string", fmt.Sprintf("%q", body)
		}
		return "unknown", fmt.Sprintf("%q", v)
	}
	return "unknown", fmt.Sprintf("%T", raw)
}
