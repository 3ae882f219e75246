// Package productfeed reads storefront product records for the external
// slice of the catalog.
//
// A [Source] yields [Product]s. [FileSource] reads uploaded JSON, YAML or
// CSV catalog files; [ShopifySource] pages through the Shopify Admin API.
// Both turn their raw documents into products with a jq [Mapping], so a
// storefront with an unusual schema only needs a different expression.
package productfeed

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
)

// Product is one storefront item.
type Product struct {
	ID       string
	Name     string
	Price    float64
	ImageURL string
}

// Source yields the current product list.
type Source interface {
	Products(ctx context.Context) ([]Product, error)
}

// Default mapping expressions.
const (
	ShopifyMapping = `.products[] | {id: .id, name: .title, price: .variants[0].price, image_url: .images[0].src}`
	FileMapping    = `(if type == "array" then .[] else .products[] end) | {id: (.id // .name), name: .name, price: .price, image_url: .image_url}`
)

// Mapping is a compiled jq expression that turns a decoded document into a
// stream of objects with id, name, price and image_url keys.
type Mapping struct {
	Expr string
	code *gojq.Code
}

// ParseMapping compiles expr.
func ParseMapping(expr string) (*Mapping, error) {
	m := &Mapping{}
	if err := m.compile(expr); err != nil {
		return nil, err
	}
	return m, nil
}

// MustParseMapping is like ParseMapping but panics on error.
func MustParseMapping(expr string) *Mapping {
	m, err := ParseMapping(expr)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Mapping) compile(expr string) error {
	q, err := gojq.Parse(expr)
	if err != nil {
		return fmt.Errorf("productfeed: invalid jq expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(q)
	if err != nil {
		return fmt.Errorf("productfeed: compile %q: %w", expr, err)
	}
	m.Expr, m.code = expr, code
	return nil
}

// UnmarshalYAML lets config files carry a mapping as a plain string.
func (m *Mapping) UnmarshalYAML(unmarshal func(any) error) error {
	var expr string
	if err := unmarshal(&expr); err != nil {
		return err
	}
	if expr == "" {
		return nil
	}
	return m.compile(expr)
}

// MarshalYAML implements yaml.InterfaceMarshaler.
func (m Mapping) MarshalYAML() (any, error) {
	return m.Expr, nil
}

// Apply runs the mapping over doc, which must hold only JSON-compatible
// values (map[string]any, []any, float64, string, bool, nil).
func (m *Mapping) Apply(ctx context.Context, doc any) ([]Product, error) {
	var out []Product
	iter := m.code.RunWithContext(ctx, doc)
	for i := 0; ; i++ {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			if err, ok := err.(*gojq.HaltError); ok && err.Value() == nil {
				break
			}
			return nil, fmt.Errorf("productfeed: mapping: %w", err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("productfeed: mapping result %d is %T, want object", i, v)
		}
		p, err := toProduct(obj)
		if err != nil {
			return nil, fmt.Errorf("productfeed: record %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func toProduct(obj map[string]any) (Product, error) {
	p := Product{
		ID:       scalarString(obj["id"]),
		Name:     strings.TrimSpace(scalarString(obj["name"])),
		ImageURL: strings.TrimSpace(scalarString(obj["image_url"])),
	}
	if p.ID == "" {
		return p, fmt.Errorf("missing id")
	}
	price, err := scalarFloat(obj["price"])
	if err != nil {
		return p, fmt.Errorf("price: %w", err)
	}
	p.Price = price
	return p, nil
}

// scalarString renders ids and names that arrive as strings or numbers.
// Integral floats print without a fraction so numeric ids stay stable.
func scalarString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	}
	return fmt.Sprint(v)
}

// scalarFloat accepts numeric prices and decimal strings such as "15000.00".
// A missing price is zero.
func scalarFloat(v any) (float64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
