package prompt

import "encoding/json"

// Document is a structured generation prompt
type Document map[string]any

// Text renders the document as the compact JSON sent to the model
func (d Document) Text() (string, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Variant is a named partial deep-override of the base template
type Variant struct {
	ID       string
	Override Document
}

// Builder maps variant ids and attempt indexes onto prompt documents.
// It is safe for concurrent use; Build never mutates the base template.
type Builder struct {
	base     Document
	variants map[string]Document
	order    []string
}

// NewBuilder creates a builder over a base template. variants must be non-empty;
// the first variant is the default.
func NewBuilder(base Document, variants []Variant) *Builder {
	b := &Builder{
		base:     base,
		variants: make(map[string]Document, len(variants)),
		order:    make([]string, 0, len(variants)),
	}
	for _, v := range variants {
		if _, dup := b.variants[v.ID]; dup {
			continue
		}
		b.variants[v.ID] = v.Override
		b.order = append(b.order, v.ID)
	}
	return b
}

// NewDefaultBuilder creates a builder with the portrait restoration template
func NewDefaultBuilder() *Builder {
	return NewBuilder(baseTemplate(), defaultVariants())
}

// DefaultVariant returns the id used for empty or unknown variant ids
func (b *Builder) DefaultVariant() string {
	return b.order[0]
}

// Variants returns the ordered variant ids
func (b *Builder) Variants() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// VariantForIndex assigns variants round-robin: order[index mod len(order)]
func (b *Builder) VariantForIndex(index int) string {
	n := len(b.order)
	i := index % n
	if i < 0 {
		i += n
	}
	return b.order[i]
}

// Build returns the base template with the variant's overrides applied.
// Unknown or empty ids fall back to the default variant.
func (b *Builder) Build(variantID string) Document {
	override, ok := b.variants[variantID]
	if !ok {
		override = b.variants[b.DefaultVariant()]
	}
	doc := deepCopy(b.base).(Document)
	if override != nil {
		merge(doc, deepCopy(override).(Document))
	}
	return doc
}

// merge applies src onto dst. Nested maps merge, everything else replaces.
func merge(dst, src map[string]any) {
	for k, sv := range src {
		srcMap, srcIsMap := asMap(sv)
		dstMap, dstIsMap := asMap(dst[k])
		if srcIsMap && dstIsMap {
			merge(dstMap, srcMap)
			dst[k] = dstMap
			continue
		}
		dst[k] = sv
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	default:
		return nil, false
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case Document:
		out := make(Document, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return t
	}
}
