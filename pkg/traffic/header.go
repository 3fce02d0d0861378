package traffic

// Header 有序的头部映射，名称区分大小写，每个名称只保留一个值
type Header struct {
	names  []string
	values map[string]string
}

// NewHeader 创建空头部
func NewHeader() *Header {
	return &Header{values: make(map[string]string)}
}

// Set 设置头部值，已存在的名称保留原有位置
func (h *Header) Set(name, value string) *Header {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
	return h
}

// Has 是否包含指定名称
func (h *Header) Has(name string) bool {
	if h == nil {
		return false
	}
	_, ok := h.values[name]
	return ok
}

// Get 获取头部值，不存在时返回空字符串
func (h *Header) Get(name string) string {
	if h == nil {
		return ""
	}
	return h.values[name]
}

// Len 头部条目数
func (h *Header) Len() int {
	if h == nil {
		return 0
	}
	return len(h.names)
}

// Names 按插入顺序返回所有名称
func (h *Header) Names() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.names))
	copy(out, h.names)
	return out
}

// Each 按插入顺序遍历
func (h *Header) Each(fn func(name, value string)) {
	if h == nil {
		return
	}
	for _, name := range h.names {
		fn(name, h.values[name])
	}
}

// Lines 序列化为 "name: value" 行
func (h *Header) Lines() []string {
	lines := make([]string, 0, h.Len())
	h.Each(func(name, value string) {
		lines = append(lines, name+": "+value)
	})
	return lines
}

// Clone 深拷贝
func (h *Header) Clone() *Header {
	out := NewHeader()
	h.Each(func(name, value string) {
		out.Set(name, value)
	})
	return out
}
