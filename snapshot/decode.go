package snapshot

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Decode parses payload text produced by Encode. Objects inside objs and subs
// are returned as *orderedObject so record field order survives.
func Decode(text string) (*State, error) {
	dec := json.NewDecoder(strings.NewReader(UnescapeText(text)))
	dec.UseNumber()
	root, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	obj, ok := root.(*orderedObject)
	if !ok {
		return nil, fmt.Errorf("snapshot: decode: payload is %T, not an object", root)
	}

	st := &State{Ctx: map[string]Meta{}, Objs: []any{}, Subs: []any{}}
	for i, k := range obj.keys {
		v := obj.values[i]
		switch k {
		case "ctx":
			ctx, ok := v.(*orderedObject)
			if !ok {
				return nil, fmt.Errorf("snapshot: decode: ctx is %T", v)
			}
			for j, id := range ctx.keys {
				m, err := decodeMeta(ctx.values[j])
				if err != nil {
					return nil, fmt.Errorf("snapshot: decode: ctx %s: %w", id, err)
				}
				st.Ctx[id] = m
			}
		case "objs":
			arr, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("snapshot: decode: objs is %T", v)
			}
			st.Objs = arr
		case "subs":
			arr, ok := v.([]any)
			if !ok {
				return nil, fmt.Errorf("snapshot: decode: subs is %T", v)
			}
			st.Subs = arr
		}
	}
	return st, nil
}

func decodeMeta(v any) (Meta, error) {
	var m Meta
	obj, ok := v.(*orderedObject)
	if !ok {
		return m, fmt.Errorf("metadata is %T", v)
	}
	for i, k := range obj.keys {
		s, ok := obj.values[i].(string)
		if !ok {
			return m, fmt.Errorf("field %s is %T", k, obj.values[i])
		}
		switch k {
		case "r":
			m.R = s
		case "h":
			m.H = s
		case "s":
			m.S = s
		case "w":
			m.W = s
		case "c":
			m.C = s
		}
	}
	return m, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &orderedObject{}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", kt)
				}
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.add(key, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %s", t)
	default:
		return t, nil
	}
}
