// Package apifeatures turns list-endpoint query strings into filter, sort,
// projection and pagination stages on a squirrel select.
//
// Only fields declared in a resource Schema can be filtered or sorted, and
// comparison operators are limited to gte, gt, lte and lt. Values are
// coerced to the column's kind so that duration[gte]=5 compares numbers.
package apifeatures

import (
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/natours/internal/apperror"
)

const (
	DefaultPage  = 1
	DefaultLimit = 100
	DefaultSort  = "-createdAt"
)

var reserved = map[string]bool{"page": true, "sort": true, "limit": true, "fields": true}

var operatorKey = regexp.MustCompile(`^([A-Za-z0-9_]+)\[(gte|gt|lte|lt)\]$`)

type Kind int

const (
	Text Kind = iota
	Number
	Integer
	Bool
	Time
	UUID
)

// Field maps a JSON field name to its column.
type Field struct {
	Column string
	Kind   Kind
}

// Schema lists the fields a resource exposes to filtering and sorting,
// keyed by JSON name.
type Schema map[string]Field

type Features struct {
	query      sq.SelectBuilder
	params     url.Values
	schema     Schema
	projection Projection
	page       uint64
	limit      uint64
	err        error
}

func New(base sq.SelectBuilder, params url.Values, schema Schema) *Features {
	if params == nil {
		params = url.Values{}
	}
	return &Features{
		query:      base,
		params:     params,
		schema:     schema,
		projection: DefaultProjection(),
		page:       DefaultPage,
		limit:      DefaultLimit,
	}
}

func (f *Features) Filter() *Features {
	keys := make([]string, 0, len(f.params))
	for k := range f.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if reserved[key] {
			continue
		}
		name, op := key, ""
		if m := operatorKey.FindStringSubmatch(key); m != nil {
			name, op = m[1], m[2]
		}
		field, ok := f.schema[name]
		if !ok {
			continue
		}

		values := make([]interface{}, 0, len(f.params[key]))
		for _, raw := range f.params[key] {
			v, err := coerce(field.Kind, raw)
			if err != nil {
				f.fail(apperror.Cast(name, raw))
				return f
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			continue
		}

		switch op {
		case "":
			if len(values) == 1 {
				f.query = f.query.Where(sq.Eq{field.Column: values[0]})
			} else {
				f.query = f.query.Where(sq.Eq{field.Column: values})
			}
		case "gte":
			for _, v := range values {
				f.query = f.query.Where(sq.GtOrEq{field.Column: v})
			}
		case "gt":
			for _, v := range values {
				f.query = f.query.Where(sq.Gt{field.Column: v})
			}
		case "lte":
			for _, v := range values {
				f.query = f.query.Where(sq.LtOrEq{field.Column: v})
			}
		case "lt":
			for _, v := range values {
				f.query = f.query.Where(sq.Lt{field.Column: v})
			}
		}
	}
	return f
}

func (f *Features) Sort() *Features {
	spec := f.params.Get("sort")
	if strings.TrimSpace(spec) == "" {
		spec = DefaultSort
	}

	var order []string
	seenID := false
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		dir := "ASC"
		if strings.HasPrefix(part, "-") {
			dir = "DESC"
			part = part[1:]
		}
		field, ok := f.schema[part]
		if !ok {
			continue
		}
		if part == "id" {
			seenID = true
		}
		order = append(order, field.Column+" "+dir)
	}
	if len(order) == 0 {
		if field, ok := f.schema["createdAt"]; ok {
			order = append(order, field.Column+" DESC")
		}
	}
	if id, ok := f.schema["id"]; ok && !seenID {
		order = append(order, id.Column+" ASC")
	}
	if len(order) > 0 {
		f.query = f.query.OrderBy(order...)
	}
	return f
}

func (f *Features) Project() *Features {
	if spec := f.params.Get("fields"); strings.TrimSpace(spec) != "" {
		f.projection = ParseProjection(spec)
	}
	return f
}

// Paginate applies limit and offset. Missing, non-numeric or non-positive
// values fall back to the defaults, as do a limit or offset that Postgres
// cannot hold in a bigint.
func (f *Features) Paginate() *Features {
	f.page = positive(f.params.Get("page"), DefaultPage)
	f.limit = positive(f.params.Get("limit"), DefaultLimit)
	if f.limit > math.MaxInt64 {
		f.limit = DefaultLimit
	}
	if f.page-1 > math.MaxInt64/f.limit {
		f.page = DefaultPage
	}
	f.query = f.query.Limit(f.limit).Offset((f.page - 1) * f.limit)
	return f
}

func (f *Features) Query() sq.SelectBuilder { return f.query }

func (f *Features) Projection() Projection { return f.projection }

func (f *Features) Page() uint64 { return f.page }

func (f *Features) Limit() uint64 { return f.limit }

// Err returns the first error raised by any stage.
func (f *Features) Err() error { return f.err }

func (f *Features) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

func positive(raw string, def uint64) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || n == 0 {
		return def
	}
	return n
}

func coerce(kind Kind, raw string) (interface{}, error) {
	switch kind {
	case Number:
		return strconv.ParseFloat(raw, 64)
	case Integer:
		return strconv.ParseInt(raw, 10, 64)
	case Bool:
		return strconv.ParseBool(raw)
	case Time:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		return time.Parse("2006-01-02", raw)
	case UUID:
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		return id.String(), nil
	default:
		return raw, nil
	}
}
