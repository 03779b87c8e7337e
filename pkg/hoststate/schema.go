package hoststate

// AttrField describes one inventory attribute: expected type, validators and
// an optional nested schema for structured sub-objects.
type AttrField struct {
	Name       string
	Kind       Kind
	Validators []func(any) bool
	Nested     *Schema
}

func (f AttrField) validate(value any) bool {
	if f.Nested != nil {
		return f.Nested.Validate(value)
	}
	switch f.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			return false
		}
	case KindBool:
		if _, ok := value.(bool); !ok {
			return false
		}
	case KindInt:
		switch value.(type) {
		case int, int64, float64:
		default:
			return false
		}
	}
	for _, v := range f.Validators {
		if !v(value) {
			return false
		}
	}
	return true
}

// Schema validates structured inventory attributes. Known keys must match
// their declared field; unknown keys are ignored so newer inventory exports
// keep validating.
type Schema struct {
	fields map[string]AttrField
}

func NewSchema(fields ...AttrField) *Schema {
	m := make(map[string]AttrField, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return &Schema{fields: m}
}

// Validate checks a decoded YAML/JSON mapping against the schema,
// descending recursively into nested schemas.
func (s *Schema) Validate(value any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	for key, v := range m {
		f, known := s.fields[key]
		if !known {
			continue
		}
		if !f.validate(v) {
			return false
		}
	}
	return true
}

func attrString(name string, validators ...func(any) bool) AttrField {
	return AttrField{Name: name, Kind: KindString, Validators: validators}
}

func attrInt(name string, validators ...func(any) bool) AttrField {
	return AttrField{Name: name, Kind: KindInt, Validators: validators}
}

// Inventory attribute schemas for the structured objects the upgrade
// workflow reads. Only the keys the workflow touches are declared; the rest
// of the inventory export passes through untouched.
var (
	ManufacturerSchema = NewSchema(
		attrInt("id", PositiveInt),
		attrString("name", NotEmptyString),
		attrString("slug", NotEmptyString),
	)

	DeviceTypeSchema = NewSchema(
		attrInt("id", PositiveInt),
		attrString("model", NotEmptyString),
		attrString("slug", NotEmptyString),
		AttrField{Name: "manufacturer", Nested: ManufacturerSchema},
	)

	PlatformSchema = NewSchema(
		attrInt("id", PositiveInt),
		attrString("name", NotEmptyString),
		attrString("slug", NotEmptyString),
	)

	SiteSchema = NewSchema(
		attrInt("id", PositiveInt),
		attrString("name", NotEmptyString),
		attrString("slug", NotEmptyString),
	)

	RoleSchema = NewSchema(
		attrInt("id", PositiveInt),
		attrString("name", NotEmptyString),
		attrString("slug", NotEmptyString),
	)
)

// AttrSchemas maps structured inventory attribute names to their schema.
var AttrSchemas = map[string]*Schema{
	"device_type": DeviceTypeSchema,
	"platform":    PlatformSchema,
	"site":        SiteSchema,
	"role":        RoleSchema,
}

// ValidateAttrs checks every structured attribute of a host that has a
// declared schema. Attributes without a schema are accepted as-is.
func ValidateAttrs(h *Host) bool {
	for name, schema := range AttrSchemas {
		v, ok := h.Attrs[name]
		if !ok {
			continue
		}
		if !schema.Validate(v) {
			return false
		}
	}
	return true
}
