package frame

// Header is one key:value line.
type Header struct {
	Key   string
	Value string
}

// Headers keeps wire order. Keys may repeat; lookups return the first
// occurrence.
type Headers []Header

func (h Headers) Lookup(key string) (string, bool) {
	for _, kv := range h {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

func (h Headers) Get(key string) string {
	v, _ := h.Lookup(key)
	return v
}

func (h *Headers) Add(key, value string) {
	*h = append(*h, Header{Key: key, Value: value})
}

// Set replaces the first occurrence of key and drops any repeats, or
// appends when key is absent.
func (h *Headers) Set(key, value string) {
	out := (*h)[:0]
	found := false
	for _, kv := range *h {
		if kv.Key != key {
			out = append(out, kv)
			continue
		}
		if !found {
			out = append(out, Header{Key: key, Value: value})
			found = true
		}
	}
	if !found {
		out = append(out, Header{Key: key, Value: value})
	}
	*h = out
}

func (h *Headers) Del(key string) {
	out := (*h)[:0]
	for _, kv := range *h {
		if kv.Key != key {
			out = append(out, kv)
		}
	}
	*h = out
}

func (h Headers) Len() int {
	return len(h)
}

func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	copy(out, h)
	return out
}

// Map flattens to a map with first-occurrence-wins semantics.
func (h Headers) Map() map[string]string {
	out := make(map[string]string, len(h))
	for _, kv := range h {
		if _, ok := out[kv.Key]; !ok {
			out[kv.Key] = kv.Value
		}
	}
	return out
}
